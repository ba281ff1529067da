// Package ws adapts a WebSocket connection into the byte-stream capability
// the tunneling cores splice against (SPEC_FULL.md §4.2, §9). It uses
// github.com/jeelsboobz/websocket, a maintained gorilla/websocket-API-compatible
// fork already present in this module's dependency graph.
package ws

import (
	"sync"
	"time"

	"github.com/jeelsboobz/websocket"
)

// closeDeadline bounds how long a close handshake is given before the
// underlying socket is torn down unconditionally.
const closeDeadline = time.Second

// Conn adapts *websocket.Conn into a lazy byte-chunk Endpoint: message
// frames are split across Read calls in order, and Write sends one binary
// frame per call (SPEC_FULL.md §4.2).
type Conn struct {
	ws        *websocket.Conn
	readBuf   []byte
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// New wraps an already-upgraded WebSocket connection.
func New(wsConn *websocket.Conn) *Conn {
	return &Conn{ws: wsConn}
}

// FirstChunk returns the 0-RTT early-data payload if non-empty, or else
// blocks for the first message frame — whichever SPEC_FULL.md §4.2 says is
// available. It reads directly off the socket, bypassing Read's internal
// buffer, since the caller consumes the whole returned buffer itself (the
// VLESS header parse + its trailing initial payload).
func (c *Conn) FirstChunk(earlyData []byte) ([]byte, error) {
	if len(earlyData) > 0 {
		return earlyData, nil
	}
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Read implements io.Reader, delivering message payloads in the order the
// transport produced them, splitting a frame across multiple Read calls as
// needed.
func (c *Conn) Read(p []byte) (int, error) {
	for len(c.readBuf) == 0 {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.readBuf = data
	}
	n := copy(p, c.readBuf)
	c.readBuf = c.readBuf[n:]
	return n, nil
}

// Write sends p as a single binary frame.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// CloseWrite is a no-op: a single WebSocket connection carries both
// directions, so ending one pump must not tear down the socket out from
// under the other (SPEC_FULL.md §4.4's half-close applies per-direction only
// to transports, like TCP, that actually support it).
func (c *Conn) CloseWrite() error { return nil }

// Abort closes the socket with the normal-closure code. Safe to call more
// than once (SPEC_FULL.md §8's close-idempotence property).
func (c *Conn) Abort() {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(closeDeadline)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.ws.Close()
	})
}

// CloseWithReason closes the socket with a specific close code and reason,
// e.g. 1011 "ERROR: Invalid user ID" for an authentication failure
// (SPEC_FULL.md §7). Safe to call more than once.
func (c *Conn) CloseWithReason(code int, reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(closeDeadline)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.ws.Close()
	})
}
