// Package vless implements the binary VLESS request/response framing
// described in SPEC_FULL.md §3–§4.1: header parsing, early-data decoding,
// and the length-prefixed UDP-over-VLESS frame shape. It has no knowledge of
// WebSocket, HTTP, or TCP — those live in transport/ws and core.
package vless

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/gofrs/uuid"
)

// Command is the VLESS request command byte.
type Command byte

const (
	CommandTCP Command = 1
	CommandUDP Command = 2
)

func (c Command) String() string {
	switch c {
	case CommandTCP:
		return "tcp"
	case CommandUDP:
		return "udp"
	default:
		return fmt.Sprintf("command(%d)", byte(c))
	}
}

// AddrType is the VLESS address-type byte.
type AddrType byte

const (
	AddrTypeIPv4 AddrType = 1
	AddrTypeFQDN AddrType = 2
	AddrTypeIPv6 AddrType = 3
)

// Version is the only VLESS wire version this server speaks.
const Version byte = 0

// minHeaderLen is the fixed lower bound SPEC_FULL.md §3/§8 gives for a
// header, checked before any field is read. It is one byte more than the
// smallest field-by-field encoding, version(1) + uuid(16) + addonLen(1) +
// command(1) + port(2) + addrType(1) + an empty FQDN's length byte(1) = 23,
// so a 23-byte empty-FQDN header with no payload is rejected too. Shorter
// than this is always Malformed("insufficient length"), regardless of what
// addrType turns out to be.
const minHeaderLen = 24

// Header is the parsed VLESS request frame (SPEC_FULL.md §3).
type Header struct {
	Version       byte
	UUID          uuid.UUID
	Command       Command
	Port          uint16
	AddrType      AddrType
	Address       string
	PayloadOffset int
}

// ErrorKind classifies why header parsing failed, per SPEC_FULL.md §9's
// {Ok(Header) | Malformed(kind)} sum type.
type ErrorKind int

const (
	KindTooShort ErrorKind = iota
	KindTruncatedAddon
	KindBadCommand
	KindBadAddrType
	KindTruncatedAddr
	KindTruncatedPort
)

// ParseError is the Malformed(kind) arm of header parsing. It always carries
// a human-readable message matching the literal strings in SPEC_FULL.md §4.1.
type ParseError struct {
	Kind ErrorKind
	Msg  string
}

func (e *ParseError) Error() string { return e.Msg }

func malformed(kind ErrorKind, msg string) *ParseError {
	return &ParseError{Kind: kind, Msg: msg}
}

// cursor is a bounds-checked read head over a byte buffer (component C1).
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) remaining() int { return len(c.buf) - c.pos }

func (c *cursor) readByte() (byte, bool) {
	if c.remaining() < 1 {
		return 0, false
	}
	b := c.buf[c.pos]
	c.pos++
	return b, true
}

func (c *cursor) readN(n int) ([]byte, bool) {
	if c.remaining() < n {
		return nil, false
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, true
}

func (c *cursor) skip(n int) bool {
	if c.remaining() < n {
		return false
	}
	c.pos += n
	return true
}

func (c *cursor) readUint16BE() (uint16, bool) {
	b, ok := c.readN(2)
	if !ok {
		return 0, false
	}
	return binary.BigEndian.Uint16(b), true
}

// ParseHeader decodes the first client chunk into a Header, or a *ParseError
// describing where and why it failed (SPEC_FULL.md §4.1, §8).
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < minHeaderLen {
		return nil, malformed(KindTooShort, "insufficient length")
	}

	c := &cursor{buf: b}

	version, _ := c.readByte()

	uuidBytes, ok := c.readN(16)
	if !ok {
		return nil, malformed(KindTruncatedAddon, "truncated at uuid")
	}
	id, err := uuid.FromBytes(uuidBytes)
	if err != nil {
		return nil, malformed(KindTruncatedAddon, "truncated at uuid")
	}

	addonLen, ok := c.readByte()
	if !ok {
		return nil, malformed(KindTruncatedAddon, "truncated at addon length")
	}
	if !c.skip(int(addonLen)) {
		return nil, malformed(KindTruncatedAddon, "truncated at addon")
	}

	commandByte, ok := c.readByte()
	if !ok {
		return nil, malformed(KindBadCommand, "truncated at command")
	}
	command := Command(commandByte)
	if command != CommandTCP && command != CommandUDP {
		return nil, malformed(KindBadCommand, "unsupported command")
	}

	port, ok := c.readUint16BE()
	if !ok {
		return nil, malformed(KindTruncatedPort, "truncated at port")
	}

	addrTypeByte, ok := c.readByte()
	if !ok {
		return nil, malformed(KindBadAddrType, "truncated at address type")
	}
	addrType := AddrType(addrTypeByte)

	var address string
	switch addrType {
	case AddrTypeIPv4:
		raw, ok := c.readN(4)
		if !ok {
			return nil, malformed(KindTruncatedAddr, "insufficient data for IPv4 address")
		}
		address = net.IP(raw).String()
	case AddrTypeFQDN:
		fqdnLen, ok := c.readByte()
		if !ok {
			return nil, malformed(KindTruncatedAddr, "truncated at FQDN length")
		}
		if fqdnLen == 0 {
			address = ""
			break
		}
		raw, ok := c.readN(int(fqdnLen))
		if !ok {
			return nil, malformed(KindTruncatedAddr, "truncated at FQDN")
		}
		address = string(raw)
	case AddrTypeIPv6:
		raw, ok := c.readN(16)
		if !ok {
			return nil, malformed(KindTruncatedAddr, "insufficient data for IPv6 address")
		}
		address = formatIPv6(raw)
	default:
		return nil, malformed(KindBadAddrType, "invalid address type")
	}

	return &Header{
		Version:       version,
		UUID:          id,
		Command:       command,
		Port:          port,
		AddrType:      addrType,
		Address:       address,
		PayloadOffset: c.pos,
	}, nil
}

// formatIPv6 renders eight 16-bit groups as hex separated by colons,
// surrounded by [], with unsuppressed leading zeros — SPEC_FULL.md §9
// records this as a deliberate choice, not an oversight: the canonical
// compressed form is not required.
func formatIPv6(raw []byte) string {
	out := make([]byte, 0, 41)
	out = append(out, '[')
	for i := 0; i < 16; i += 2 {
		if i != 0 {
			out = append(out, ':')
		}
		out = appendHex4(out, raw[i], raw[i+1])
	}
	out = append(out, ']')
	return string(out)
}

func appendHex4(out []byte, hi, lo byte) []byte {
	const hexDigits = "0123456789abcdef"
	out = append(out,
		hexDigits[hi>>4], hexDigits[hi&0xf],
		hexDigits[lo>>4], hexDigits[lo&0xf],
	)
	return out
}

// ResponseFrame is the one-byte-version + one-byte-addon-length reply sent
// once at handshake completion (SPEC_FULL.md §3).
func ResponseFrame() []byte {
	return []byte{Version, 0x00}
}

// DecodeEarlyData decodes the URL-safe base64 Sec-WebSocket-Protocol header
// value into the 0-RTT payload it carries (SPEC_FULL.md §4.2). An empty
// header yields a nil, non-error result: there is simply no early data.
func DecodeEarlyData(header string) ([]byte, error) {
	if header == "" {
		return nil, nil
	}
	return base64.RawURLEncoding.DecodeString(header)
}

// EncodeUDPFrame wraps payload in the length(2 BE) + payload shape used for
// both directions of VLESS-UDP traffic (SPEC_FULL.md §3).
func EncodeUDPFrame(payload []byte) []byte {
	frame := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(frame, uint16(len(payload)))
	copy(frame[2:], payload)
	return frame
}

// FrameDecoder reassembles length-prefixed VLESS-UDP frames out of a stream
// of arbitrarily-chunked bytes, buffering a frame that straddles a chunk
// boundary until it is complete (SPEC_FULL.md §4.5).
type FrameDecoder struct {
	buf []byte
}

// Feed appends newly-arrived bytes to the decoder's internal buffer.
func (d *FrameDecoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Next pops one complete frame off the buffer, if one is available. It
// returns ok=false when fewer bytes than the next frame requires have
// arrived yet — the caller should Feed more and try again.
func (d *FrameDecoder) Next() (frame []byte, ok bool) {
	if len(d.buf) < 2 {
		return nil, false
	}
	length := int(binary.BigEndian.Uint16(d.buf))
	if len(d.buf) < 2+length {
		return nil, false
	}
	frame = make([]byte, length)
	copy(frame, d.buf[2:2+length])
	d.buf = d.buf[2+length:]
	return frame, true
}
