package vless

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildHeader(t *testing.T, id uuid.UUID, command Command, port uint16, addrType AddrType, addr []byte, payload []byte) []byte {
	t.Helper()
	buf := []byte{Version}
	buf = append(buf, id.Bytes()...)
	buf = append(buf, 0) // addon length
	buf = append(buf, byte(command))
	portBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(portBytes, port)
	buf = append(buf, portBytes...)
	buf = append(buf, byte(addrType))
	buf = append(buf, addr...)
	buf = append(buf, payload...)
	return buf
}

func TestParseHeader_TooShort(t *testing.T) {
	for n := 0; n < minHeaderLen; n++ {
		b := make([]byte, n)
		_, err := ParseHeader(b)
		require.Error(t, err)
		perr, ok := err.(*ParseError)
		require.True(t, ok)
		assert.Equal(t, KindTooShort, perr.Kind)
		assert.Equal(t, "insufficient length", perr.Error())
	}
}

func TestParseHeader_TCPHappyPath(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	payload := []byte("hello world")
	b := buildHeader(t, id, CommandTCP, 443, AddrTypeIPv4, []byte{1, 2, 3, 4}, payload)

	h, err := ParseHeader(b)
	require.NoError(t, err)
	assert.Equal(t, CommandTCP, h.Command)
	assert.Equal(t, uint16(443), h.Port)
	assert.Equal(t, "1.2.3.4", h.Address)
	assert.Equal(t, payload, b[h.PayloadOffset:])
}

func TestParseHeader_BadCommand(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	b := buildHeader(t, id, Command(9), 443, AddrTypeIPv4, []byte{1, 2, 3, 4}, nil)
	_, err := ParseHeader(b)
	perr := err.(*ParseError)
	assert.Equal(t, KindBadCommand, perr.Kind)
	assert.Equal(t, "unsupported command", perr.Error())
}

func TestParseHeader_BadAddrType(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	b := buildHeader(t, id, CommandTCP, 443, AddrType(9), []byte{1, 2, 3, 4}, nil)
	_, err := ParseHeader(b)
	perr := err.(*ParseError)
	assert.Equal(t, KindBadAddrType, perr.Kind)
	assert.Equal(t, "invalid address type", perr.Error())
}

func TestParseHeader_IPv4_OneByteShort(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	b := buildHeader(t, id, CommandTCP, 443, AddrTypeIPv4, []byte{1, 2, 3}, nil)
	_, err := ParseHeader(b)
	perr := err.(*ParseError)
	assert.Equal(t, KindTruncatedAddr, perr.Kind)
	assert.Equal(t, "insufficient data for IPv4 address", perr.Error())
}

func TestParseHeader_FQDN_EmptyIsAllowed(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	b := buildHeader(t, id, CommandTCP, 443, AddrTypeFQDN, []byte{0}, []byte("payload"))
	h, err := ParseHeader(b)
	require.NoError(t, err)
	assert.Equal(t, "", h.Address)
}

func TestParseHeader_FQDN(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	domain := "example.com"
	addr := append([]byte{byte(len(domain))}, []byte(domain)...)
	b := buildHeader(t, id, CommandTCP, 443, AddrTypeFQDN, addr, nil)
	h, err := ParseHeader(b)
	require.NoError(t, err)
	assert.Equal(t, domain, h.Address)
}

func TestParseHeader_IPv6(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	addr := []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x01}
	b := buildHeader(t, id, CommandTCP, 80, AddrTypeIPv6, addr, nil)
	h, err := ParseHeader(b)
	require.NoError(t, err)
	assert.Equal(t, "[2001:0db8:0000:0000:0000:0000:0000:0001]", h.Address)
}

func TestParseHeader_PayloadOffsetMatchesEncodedSize(t *testing.T) {
	id := uuid.Must(uuid.NewV4())
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	b := buildHeader(t, id, CommandTCP, 8080, AddrTypeIPv4, []byte{10, 0, 0, 1}, payload)
	h, err := ParseHeader(b)
	require.NoError(t, err)
	assert.Equal(t, payload, b[h.PayloadOffset:])
}

func TestUUIDRoundTrip(t *testing.T) {
	cases := []string{
		"86c50e3a-5b87-49dd-bd20-03c7f2735e40",
		"00000000-0000-0000-0000-000000000000",
		"ffffffff-ffff-ffff-ffff-ffffffffffff",
	}
	for _, s := range cases {
		id, err := uuid.FromString(s)
		require.NoError(t, err)
		assert.Equal(t, s, id.String())
	}
}

func TestResponseFrame(t *testing.T) {
	assert.Equal(t, []byte{Version, 0x00}, ResponseFrame())
}

func TestDecodeEarlyData(t *testing.T) {
	payload := []byte("0-RTT hello")
	encoded := base64.RawURLEncoding.EncodeToString(payload)

	got, err := DecodeEarlyData(encoded)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	got, err = DecodeEarlyData("")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUDPFrameRoundTrip(t *testing.T) {
	query := []byte{0x00, 0x01, 0x01, 0x00, 0x00, 0x01}
	frame := EncodeUDPFrame(query)

	dec := &FrameDecoder{}
	dec.Feed(frame)
	got, ok := dec.Next()
	require.True(t, ok)
	assert.Equal(t, query, got)
}

func TestUDPFrameDecoder_StraddlesChunkBoundary(t *testing.T) {
	query := []byte("abcdefghij")
	frame := EncodeUDPFrame(query)

	dec := &FrameDecoder{}
	dec.Feed(frame[:3])
	_, ok := dec.Next()
	assert.False(t, ok)

	dec.Feed(frame[3:])
	got, ok := dec.Next()
	require.True(t, ok)
	assert.Equal(t, query, got)
}

func TestUDPFrameDecoder_MultipleFramesInOneChunk(t *testing.T) {
	a := EncodeUDPFrame([]byte("first"))
	b := EncodeUDPFrame([]byte("second"))

	dec := &FrameDecoder{}
	dec.Feed(append(a, b...))

	got, ok := dec.Next()
	require.True(t, ok)
	assert.Equal(t, []byte("first"), got)

	got, ok = dec.Next()
	require.True(t, ok)
	assert.Equal(t, []byte("second"), got)

	_, ok = dec.Next()
	assert.False(t, ok)
}
