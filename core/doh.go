// DoH engine (component C7): serves VLESS-UDP-framed DNS traffic for
// port-53 destinations over HTTPS, grounded on dns/doh.go's dohClient —
// same ForceAttemptHTTP2 transport and application/dns-message content
// type, but forwarding raw query/response bytes instead of packing a
// miekg/dns.Msg.
package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/miekg/dns"

	"github.com/underpass-proxy/underpass/log"
	"github.com/underpass-proxy/underpass/transport/vless"
)

const dnsMessageMimeType = "application/dns-message"

// DoHClient issues one DNS query per call as an HTTPS POST, per
// SPEC_FULL.md §4.5 / RFC 8484.
type DoHClient struct {
	url        string
	httpClient *http.Client
	lg         *log.Logger
}

// NewDoHClient builds a client targeting dohURL.
func NewDoHClient(dohURL string, lg *log.Logger) *DoHClient {
	return &DoHClient{
		url: dohURL,
		lg:  lg,
		httpClient: &http.Client{
			Transport: &http.Transport{ForceAttemptHTTP2: true},
		},
	}
}

// Exchange POSTs query and returns the response body verbatim. Any failure
// here — network error, non-2xx, empty body — is an *UpstreamTransientError:
// per-query, never fatal to the engine (SPEC_FULL.md §4.5, §7).
func (c *DoHClient) Exchange(ctx context.Context, query []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(query))
	if err != nil {
		return nil, &UpstreamTransientError{Err: err}
	}
	req.Header.Set("Content-Type", dnsMessageMimeType)
	req.Header.Set("Accept", dnsMessageMimeType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &UpstreamTransientError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamTransientError{Err: fmt.Errorf("doh upstream status %s", resp.Status)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamTransientError{Err: err}
	}
	if len(body) == 0 {
		return nil, &UpstreamTransientError{Err: errors.New("empty response body")}
	}

	c.logQuestionName(query)
	return body, nil
}

// logQuestionName unpacks query purely to print its question name at DEBUG
// level — the only use this engine has for github.com/miekg/dns, since the
// bytes it forwards upstream and downstream are never re-packed.
func (c *DoHClient) logQuestionName(query []byte) {
	if c.lg == nil {
		return
	}
	var msg dns.Msg
	if err := msg.Unpack(query); err != nil || len(msg.Question) == 0 {
		return
	}
	c.lg.Debugln("doh query: %s", msg.Question[0].Name)
}

// DoHEngine drives the per-connection UDP-over-DoH loop described in
// SPEC_FULL.md §4.5: parse length-prefixed VLESS-UDP frames out of the
// client stream, resolve each via DoHClient, and reframe the reply.
type DoHEngine struct {
	client *DoHClient
	lg     *log.Logger
}

// NewDoHEngine constructs an engine bound to client.
func NewDoHEngine(client *DoHClient, lg *log.Logger) *DoHEngine {
	return &DoHEngine{client: client, lg: lg}
}

const doHReadBufferSize = 64 * 1024

// Serve sends the one-shot VLESS response frame, then loops: read client
// bytes, decode complete frames, resolve each over DoH, write back a framed
// reply. Transport errors writing to the client are fatal; per-query DoH
// errors are logged and the loop continues (SPEC_FULL.md §4.5, §7).
func (e *DoHEngine) Serve(ctx context.Context, client Endpoint, initial []byte) error {
	if _, err := client.Write(vless.ResponseFrame()); err != nil {
		return &PumpError{Side: "client", Err: err}
	}

	dec := &vless.FrameDecoder{}
	if len(initial) > 0 {
		dec.Feed(initial)
	}
	if err := e.drain(ctx, client, dec); err != nil {
		return err
	}

	buf := make([]byte, doHReadBufferSize)
	for {
		n, err := client.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			if drainErr := e.drain(ctx, client, dec); drainErr != nil {
				return drainErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &PumpError{Side: "client", Err: err}
		}
	}
}

// drain resolves every complete frame currently buffered in dec.
func (e *DoHEngine) drain(ctx context.Context, client Endpoint, dec *vless.FrameDecoder) error {
	for {
		query, ok := dec.Next()
		if !ok {
			return nil
		}
		if err := e.handleQuery(ctx, client, query); err != nil {
			return err
		}
	}
}

// handleQuery resolves one query and writes the framed reply. It returns a
// non-nil error only for a client-write failure; DoH-side failures are
// logged and swallowed so the tunnel continues.
func (e *DoHEngine) handleQuery(ctx context.Context, client Endpoint, query []byte) error {
	resp, err := e.client.Exchange(ctx, query)
	if err != nil {
		e.lg.Warnln("doh query dropped: %v", err)
		return nil
	}

	if _, err := client.Write(vless.EncodeUDPFrame(resp)); err != nil {
		return &PumpError{Side: "client", Err: err}
	}
	return nil
}
