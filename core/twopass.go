// TwoPass dispatcher: the HTTP/2 tunnel half of the Dispatcher (C10),
// covering V1 (C9) and V2 upload/download. Header and status-code
// conventions are grounded on FarelRA/UnderPass/TwoPass-Client's
// setTunnelHeaders/handleConnectV1/handleConnectV2 (read in reverse: this is
// the server those requests are aimed at).
package core

import (
	"context"
	"io"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/underpass-proxy/underpass/config"
	"github.com/underpass-proxy/underpass/log"
)

const grpcContentType = "application/grpc"

// targetHostPattern is the safe charset SPEC_FULL.md §6 requires for
// X-Target-Host: domains, IPv4 literals, bracketed IPv6 literals.
var targetHostPattern = regexp.MustCompile(`^[A-Za-z0-9._\-:\[\]]+$`)

// TwoPass serves the HTTP/2 (or H2C/H3) tunnel endpoint shared by V1 and V2
// (SPEC_FULL.md §4.7, §4.8, §6).
type TwoPass struct {
	base     config.Config
	lg       *log.Logger
	registry *Registry
}

// NewTwoPass constructs a handler bound to base, the process-level default
// config, and registry.
func NewTwoPass(base config.Config, lg *log.Logger, registry *Registry) *TwoPass {
	return &TwoPass{base: base, lg: lg.With("[twopass]"), registry: registry}
}

// ServeHTTP implements the state machine in SPEC_FULL.md §4.8.
func (t *TwoPass) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := t.base.WithQuery(r.URL.Query())
	lg := t.lg.WithLevel(cfg.LogLevel)

	if !t.authenticate(r, cfg) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	host, port, err := validateTarget(r.Header.Get("X-Target-Host"), r.Header.Get("X-Target-Port"))
	if err != nil {
		lg.Warnln("invalid target: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sessionID := r.Header.Get("X-Session-ID")
	if sessionID != "" {
		switch r.Method {
		case http.MethodPost:
			t.serveV2Upload(w, r, lg, host, port, sessionID)
		case http.MethodGet:
			t.serveV2Download(w, r, lg, host, port, sessionID)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	switch r.Method {
	case http.MethodPost:
		t.serveV1(w, r, lg, host, port)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (t *TwoPass) authenticate(r *http.Request, cfg config.Config) bool {
	if cfg.Password == "" {
		return true
	}
	_, pass, ok := r.BasicAuth()
	return ok && pass == cfg.Password
}

// validateTarget lowercases and trims host, checks it against the safe
// charset, and checks port is in [1,65535] (SPEC_FULL.md §6).
func validateTarget(host, portStr string) (string, string, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" || !targetHostPattern.MatchString(host) {
		return "", "", &MalformedError{Reason: "invalid target host"}
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", "", &MalformedError{Reason: "invalid target port"}
	}
	return host, portStr, nil
}

// dialTCP opens a plain outbound TCP connection with no probe/retry step.
func dialTCP(ctx context.Context, host, port string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
}

// serveV1 implements C9: hijack-free single-request tunnel. The inbound
// request body is the upload direction, the target's bytes are streamed
// back as the response body (SPEC_FULL.md §4.7). Unlike VLESS-TCP (§4.3),
// TwoPass dialing has no probe/relay-retry step — that policy is scoped to
// VLESS-TCP alone.
func (t *TwoPass) serveV1(w http.ResponseWriter, r *http.Request, lg *log.Logger, host, port string) {
	outbound, err := dialTCP(r.Context(), host, port)
	if err != nil {
		lg.Warnln("v1 connect failed: %v", err)
		http.Error(w, "connect failed", http.StatusBadGateway)
		return
	}
	defer func() { _ = outbound.Close() }()

	go func() {
		buf := make([]byte, spliceBufferSize)
		if _, err := io.CopyBuffer(outbound, r.Body, buf); err != nil {
			lg.Debugln("v1 upload ended: %v", err)
		}
		if tcp, ok := outbound.(*net.TCPConn); ok {
			_ = tcp.CloseWrite()
		}
	}()

	w.Header().Set("Content-Type", grpcContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	buf := make([]byte, spliceBufferSize)
	if _, err := io.CopyBuffer(flushWriter{w}, outbound, buf); err != nil {
		lg.Debugln("v1 download ended: %v", err)
	}
}

// serveV2Upload implements the POST half of C8's usage protocol: connect (or
// join an in-flight connect), then stream request.body into the socket
// without closing the write side of anything shared, completing 201 once
// the upload ends (SPEC_FULL.md §4.6).
func (t *TwoPass) serveV2Upload(w http.ResponseWriter, r *http.Request, lg *log.Logger, host, port, sessionID string) {
	session := t.registry.GetOrCreate(sessionID)
	if !session.claimUpload() {
		lg.Warnln("duplicate v2 upload for session %s", sessionID)
		http.Error(w, "session already has an upload", http.StatusConflict)
		return
	}

	conn, err := session.connect(func() (net.Conn, error) {
		return dialTCP(r.Context(), host, port)
	})
	if err != nil {
		lg.Warnln("v2 connect failed: %v", err)
		http.Error(w, "connect failed", http.StatusBadGateway)
		t.registry.Drop(sessionID)
		return
	}

	buf := make([]byte, spliceBufferSize)
	if _, err := io.CopyBuffer(conn, touchingReader{r.Body, session}, buf); err != nil {
		lg.Debugln("v2 upload ended: %v", err)
	}

	w.Header().Set("Content-Type", grpcContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusCreated)
}

// serveV2Download implements the GET half: connect (or join), then stream
// the socket's readable side as the response body. Session teardown happens
// here, on completion, per SPEC_FULL.md §4.6's lifecycle.
func (t *TwoPass) serveV2Download(w http.ResponseWriter, r *http.Request, lg *log.Logger, host, port, sessionID string) {
	session := t.registry.GetOrCreate(sessionID)
	defer t.registry.Drop(sessionID)

	conn, err := session.connect(func() (net.Conn, error) {
		return dialTCP(r.Context(), host, port)
	})
	if err != nil {
		lg.Warnln("v2 connect failed: %v", err)
		http.Error(w, "connect failed", http.StatusBadGateway)
		return
	}

	session.markDraining()

	w.Header().Set("Content-Type", grpcContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	buf := make([]byte, spliceBufferSize)
	if _, err := io.CopyBuffer(flushWriter{w}, touchingReader{conn, session}, buf); err != nil {
		lg.Debugln("v2 download ended: %v", err)
	}
}

// flushWriter flushes after every write so intermediaries and the client see
// bytes as soon as they arrive, rather than buffered until the handler
// returns — necessary for a streamed tunnel response.
type flushWriter struct {
	w http.ResponseWriter
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if flusher, ok := f.w.(http.Flusher); ok {
		flusher.Flush()
	}
	return n, err
}

// touchingReader resets session's idle-TTL watchdog as bytes are read, so a
// transfer that outlives sessionIdleTTL doesn't get force-dropped mid-stream
// (SPEC_FULL.md §4.6: "all request activity resets the timer").
type touchingReader struct {
	io.Reader
	session *Session
}

func (t touchingReader) Read(p []byte) (int, error) {
	n, err := t.Reader.Read(p)
	if n > 0 {
		t.session.touch()
	}
	return n, err
}
