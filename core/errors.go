// Package core implements the connection-lifecycle engine shared by LessPass
// and TwoPass: handshake-adjacent authentication, outbound TCP dialing with
// retry, bidirectional splicing, the UDP-over-DoH engine, and the V2 session
// registry (SPEC_FULL.md §4, §7).
package core

import "fmt"

// AuthError is a Basic-Auth token or VLESS UUID mismatch (SPEC_FULL.md §7).
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "auth failed: " + e.Reason }

// MalformedError wraps a protocol framing violation — a bad VLESS header or
// an invalid TwoPass header set.
type MalformedError struct {
	Reason string
}

func (e *MalformedError) Error() string { return "malformed request: " + e.Reason }

// PolicyError is a request that is well-formed and authenticated but
// violates a server policy: UDP to a port other than 53, or a duplicate V2
// session POST.
type PolicyError struct {
	Reason string
}

func (e *PolicyError) Error() string { return "policy violation: " + e.Reason }

// ConnectError is an outbound TCP connect that failed, or succeeded but
// produced no data on the primary path, after retry exhaustion.
type ConnectError struct {
	Target string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s failed: %v", e.Target, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// UpstreamTransientError is a per-query DoH failure: logged and dropped, not
// fatal to the tunnel.
type UpstreamTransientError struct {
	Err error
}

func (e *UpstreamTransientError) Error() string { return "upstream transient error: " + e.Err.Error() }
func (e *UpstreamTransientError) Unwrap() error  { return e.Err }

// PumpError is a read/write failure on one side of a splice. It carries
// which side failed so the splicer can abort the peer.
type PumpError struct {
	Side string // "a" or "b" for a splice pump, "client" for the DoH engine
	Err  error
}

func (e *PumpError) Error() string { return fmt.Sprintf("pump %s error: %v", e.Side, e.Err) }
func (e *PumpError) Unwrap() error  { return e.Err }
