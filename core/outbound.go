package core

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"

	"github.com/underpass-proxy/underpass/log"
)

// probeBufferSize bounds the single Read used to detect whether the primary
// destination produced any bytes at all (SPEC_FULL.md §4.3).
const probeBufferSize = 32 * 1024

// Outbound adapts a dialed net.Conn — with its already-consumed first chunk
// re-attached — into the Endpoint capability the splicer uses.
type Outbound struct {
	conn   net.Conn
	prefix []byte
}

func (o *Outbound) Read(p []byte) (int, error) {
	if len(o.prefix) > 0 {
		n := copy(p, o.prefix)
		o.prefix = o.prefix[n:]
		return n, nil
	}
	return o.conn.Read(p)
}

func (o *Outbound) Write(p []byte) (int, error) { return o.conn.Write(p) }

func (o *Outbound) CloseWrite() error {
	if tcp, ok := o.conn.(*net.TCPConn); ok {
		return tcp.CloseWrite()
	}
	return nil
}

func (o *Outbound) Abort() {
	if tcp, ok := o.conn.(*net.TCPConn); ok {
		_ = tcp.SetLinger(0) // close with RST rather than FIN
	}
	_ = o.conn.Close()
}

// probe opens a TCP connection to addr, writes initialPayload if present,
// then waits for the first readable byte with no timeout. It returns
// (nil, nil) — the "silent failure" signal — when the peer closes without
// producing any byte at all (SPEC_FULL.md §4.3 step 4).
func probe(ctx context.Context, addr string, initialPayload []byte) (*Outbound, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if len(initialPayload) > 0 {
		if _, err := conn.Write(initialPayload); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	buf := make([]byte, probeBufferSize)
	n, err := conn.Read(buf)
	if err != nil {
		_ = conn.Close()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	prefix := make([]byte, n)
	copy(prefix, buf[:n])
	return &Outbound{conn: conn, prefix: prefix}, nil
}

// DialWithRetry implements SPEC_FULL.md §4.3's probe+retry policy: if the
// primary destination accepts the TCP connection but produces no bytes, it
// is re-probed against relayAddr (host[:port], defaulting to the original
// port) exactly once. Any other failure, or a relay that also stays silent,
// surfaces as a *ConnectError.
func DialWithRetry(ctx context.Context, lg *log.Logger, host string, port string, relayAddr string, initialPayload []byte) (*Outbound, error) {
	target := net.JoinHostPort(host, port)

	ob, err := probe(ctx, target, initialPayload)
	if err != nil {
		return nil, &ConnectError{Target: target, Err: err}
	}
	if ob != nil {
		return ob, nil
	}

	lg.Warnln("primary destination %s accepted but produced no data, falling back to relay", target)

	if relayAddr == "" {
		return nil, &ConnectError{Target: target, Err: errors.New("no data received and no relay configured")}
	}

	relay := resolveRelay(relayAddr, port)
	lg.Debugln("retrying via relay %s", relay)

	ob, err = probe(ctx, relay, initialPayload)
	if err != nil {
		return nil, &ConnectError{Target: relay, Err: err}
	}
	if ob == nil {
		return nil, &ConnectError{Target: relay, Err: errors.New("relay produced no data")}
	}
	return ob, nil
}

// resolveRelay parses RELAY_ADDR as host[:port], defaulting to the original
// destination port when the relay address carries none.
func resolveRelay(relayAddr, originalPort string) string {
	if strings.Contains(relayAddr, ":") {
		if _, _, err := net.SplitHostPort(relayAddr); err == nil {
			return relayAddr
		}
	}
	return net.JoinHostPort(relayAddr, originalPort)
}
