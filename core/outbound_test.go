package core

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/underpass-proxy/underpass/log"
)

func testLogger() *log.Logger { return log.New(log.LevelError) }

// echoListener accepts one connection, echoes everything it reads.
func echoListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				_, _ = conn.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
	return ln
}

// silentListener accepts one connection and closes it without writing.
func silentListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()
	return ln
}

func TestDialWithRetry_PrimaryRespondsImmediately(t *testing.T) {
	ln := echoListener(t)
	defer ln.Close()
	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	ob, err := DialWithRetry(context.Background(), testLogger(), host, port, "", []byte("ping"))
	require.NoError(t, err)
	defer ob.Abort()

	buf := make([]byte, 16)
	n, err := ob.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestDialWithRetry_FallsBackToRelayOnSilence(t *testing.T) {
	primary := silentListener(t)
	defer primary.Close()
	relay := echoListener(t)
	defer relay.Close()

	primaryHost, primaryPort, err := net.SplitHostPort(primary.Addr().String())
	require.NoError(t, err)
	relayAddr := relay.Addr().String()

	ob, err := DialWithRetry(context.Background(), testLogger(), primaryHost, primaryPort, relayAddr, []byte("ping"))
	require.NoError(t, err)
	defer ob.Abort()

	buf := make([]byte, 16)
	n, err := ob.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestDialWithRetry_NoRelayConfigured_FailsAfterSilence(t *testing.T) {
	primary := silentListener(t)
	defer primary.Close()
	host, port, err := net.SplitHostPort(primary.Addr().String())
	require.NoError(t, err)

	_, err = DialWithRetry(context.Background(), testLogger(), host, port, "", []byte("ping"))
	require.Error(t, err)
	var connErr *ConnectError
	assert.ErrorAs(t, err, &connErr)
}

func TestDialWithRetry_ConnectionRefused(t *testing.T) {
	// Port 0 listener is closed immediately so nothing is listening there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = DialWithRetry(ctx, testLogger(), host, port, "", nil)
	require.Error(t, err)
	var connErr *ConnectError
	assert.ErrorAs(t, err, &connErr)
}

func TestResolveRelay(t *testing.T) {
	assert.Equal(t, "relay.example:9000", resolveRelay("relay.example:9000", "443"))
	assert.Equal(t, "relay.example:443", resolveRelay("relay.example", "443"))
}
