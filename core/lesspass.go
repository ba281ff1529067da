// LessPass dispatcher: the VLESS-over-WebSocket half of the Dispatcher (C10),
// grounded on tunnel/tunnel.go's handleTCPConn dispatch shape — accept,
// authenticate, then hand off to the TCP splicer or the DoH engine.
package core

import (
	"context"
	"net/http"
	"strconv"

	"github.com/jeelsboobz/websocket"

	"github.com/underpass-proxy/underpass/config"
	"github.com/underpass-proxy/underpass/log"
	"github.com/underpass-proxy/underpass/transport/vless"
	"github.com/underpass-proxy/underpass/transport/ws"
)

// Close code and reason for a VLESS UUID mismatch (SPEC_FULL.md §7).
const (
	closeCodeProtocolError = 1011
	closeReasonInvalidUser = "ERROR: Invalid user ID"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// LessPass serves the VLESS-over-WebSocket inbound (SPEC_FULL.md §4.1–§4.5,
// §4.8's VLESS branch).
type LessPass struct {
	base config.Config
	lg   *log.Logger
}

// NewLessPass constructs a handler bound to base, the process-level default
// config; each request may override relay/doh/log via URL query (§6).
func NewLessPass(base config.Config, lg *log.Logger) *LessPass {
	return &LessPass{base: base, lg: lg.With("[lesspass]")}
}

// ServeHTTP upgrades the request to WebSocket and runs the VLESS handshake
// and dispatch to completion. Errors after the upgrade cannot be surfaced as
// HTTP status codes — the connection is closed with a WS close frame
// instead (SPEC_FULL.md §7).
func (h *LessPass) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cfg := h.base.WithQuery(r.URL.Query())
	lg := h.lg.WithLevel(cfg.LogLevel)

	earlyData, err := vless.DecodeEarlyData(r.Header.Get("Sec-WebSocket-Protocol"))
	if err != nil {
		http.Error(w, "bad early data", http.StatusBadRequest)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		lg.Warnln("upgrade failed: %v", err)
		return
	}
	conn := ws.New(wsConn)

	first, err := conn.FirstChunk(earlyData)
	if err != nil {
		lg.Warnln("reading first chunk failed: %v", err)
		conn.Abort()
		return
	}

	h.handle(r.Context(), cfg, lg, conn, first)
}

func (h *LessPass) handle(ctx context.Context, cfg config.Config, lg *log.Logger, conn *ws.Conn, first []byte) {
	header, err := vless.ParseHeader(first)
	if err != nil {
		lg.Warnln("malformed header: %v", err)
		conn.CloseWithReason(closeCodeProtocolError, err.Error())
		return
	}

	if header.UUID != cfg.UserID {
		lg.Warnln("uuid mismatch: %s", header.UUID)
		conn.CloseWithReason(closeCodeProtocolError, closeReasonInvalidUser)
		return
	}

	payload := first[header.PayloadOffset:]

	switch header.Command {
	case vless.CommandUDP:
		h.handleUDP(ctx, cfg, lg, conn, header, payload)
	default:
		h.handleTCP(ctx, cfg, lg, conn, header, payload)
	}
}

func (h *LessPass) handleUDP(ctx context.Context, cfg config.Config, lg *log.Logger, conn *ws.Conn, header *vless.Header, payload []byte) {
	if header.Port != 53 {
		lg.Warnln("refusing udp to port %d (only 53 supported)", header.Port)
		conn.CloseWithReason(closeCodeProtocolError, "policy violation: udp port must be 53")
		return
	}

	engine := NewDoHEngine(NewDoHClient(cfg.DoHURL, lg), lg)
	if err := engine.Serve(ctx, conn, payload); err != nil {
		lg.Warnln("doh engine ended: %v", err)
	}
	conn.Abort()
}

func (h *LessPass) handleTCP(ctx context.Context, cfg config.Config, lg *log.Logger, conn *ws.Conn, header *vless.Header, payload []byte) {
	port := strconv.Itoa(int(header.Port))

	outbound, err := DialWithRetry(ctx, lg, header.Address, port, cfg.RelayAddr, payload)
	if err != nil {
		lg.Warnln("connect failed: %v", err)
		conn.CloseWithReason(closeCodeProtocolError, err.Error())
		return
	}

	if _, err := conn.Write(vless.ResponseFrame()); err != nil {
		outbound.Abort()
		return
	}

	if err := Splice(conn, outbound, nil); err != nil {
		lg.Debugln("splice ended: %v", err)
	}
}
