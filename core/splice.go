package core

import (
	"errors"
	"io"
)

// Endpoint is the capability both tunneling cores splice against: a small
// byte-stream interface that WebSocket connections, outbound TCP sockets,
// and HTTP request/response bodies all implement (SPEC_FULL.md §9 — "the
// VLESS and TwoPass cores depend only on this capability").
type Endpoint interface {
	io.Reader
	io.Writer

	// CloseWrite signals "no more data in this direction" without tearing
	// down the other direction. Implementations that cannot half-close
	// (e.g. a WebSocket message stream) may no-op.
	CloseWrite() error

	// Abort hard-closes the endpoint so the peer observes a reset rather
	// than a graceful close; a WebSocket, which has no reset, instead sends
	// a normal-closure frame and drops the connection without waiting for
	// the peer's reply. Must be safe to call more than once.
	Abort()
}

const spliceBufferSize = 32 * 1024

// Splice joins two Endpoints with two independent pump goroutines, A→B and
// B→A, exactly as SPEC_FULL.md §4.4 describes. prologue, if non-nil, is
// delivered on the B→A direction before any further reads from b — it is the
// first chunk already consumed from b during outbound probing (§4.3).
//
// Splice returns the first PumpError encountered by either pump, or nil if
// both sides ended cleanly (EOF). The peer of a failed pump is aborted so it
// observes a reset, not a silent close.
func Splice(a, b Endpoint, prologue []byte) error {
	errs := make(chan error, 2)

	go func() {
		errs <- pump("a", a, b, nil)
	}()
	go func() {
		errs <- pump("b", b, a, prologue)
	}()

	var first error
	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil && first == nil {
			first = err
		}
	}
	return first
}

// pump copies src → dst, optionally writing prologue first. On clean EOF it
// half-closes dst's write side. On any other error it aborts dst so the peer
// observes a reset, and returns a *PumpError naming which side failed.
func pump(side string, src io.Reader, dst Endpoint, prologue []byte) error {
	if len(prologue) > 0 {
		if _, err := dst.Write(prologue); err != nil {
			dst.Abort()
			return &PumpError{Side: side, Err: err}
		}
	}

	buf := make([]byte, spliceBufferSize)
	_, err := io.CopyBuffer(dst, src, buf)
	if err == nil || errors.Is(err, io.EOF) {
		_ = dst.CloseWrite()
		return nil
	}

	dst.Abort()
	return &PumpError{Side: side, Err: err}
}
