// Command underpass serves the LessPass and TwoPass tunneling cores behind
// one HTTP server, alongside the /info diagnostic page, the CORS-forwarding
// worker, and a masquerade 404 for everything else (SPEC_FULL.md §1).
package main

import (
	"crypto/tls"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/quic-go/quic-go/http3"

	"github.com/underpass-proxy/underpass/config"
	"github.com/underpass-proxy/underpass/core"
	"github.com/underpass-proxy/underpass/hub/route"
	"github.com/underpass-proxy/underpass/log"
)

func main() {
	var (
		addr     = flag.String("addr", ":8080", "listen address")
		lessPath = flag.String("lesspass-path", "/ws", "LessPass WebSocket upgrade path")
		twoPath  = flag.String("twopass-path", "/tunnel", "TwoPass tunnel path")
		h3       = flag.Bool("h3", false, "also serve TwoPass over HTTP/3 (requires -tls-cert/-tls-key)")
		tlsCert  = flag.String("tls-cert", "", "TLS certificate, required by -h3")
		tlsKey   = flag.String("tls-key", "", "TLS key, required by -h3")
	)
	flag.Parse()

	cfg, err := config.Base()
	if err != nil {
		os.Stderr.WriteString("underpass: " + err.Error() + "\n")
		os.Exit(1)
	}

	lg := log.New(cfg.LogLevel)
	lg.Infoln("starting on %s (lesspass=%s twopass=%s)", *addr, *lessPath, *twoPath)

	registry := core.NewRegistry()
	startedAt := time.Now()

	r := chi.NewRouter()
	r.Handle(*lessPath, core.NewLessPass(cfg, lg))
	r.Handle(*twoPath, core.NewTwoPass(cfg, lg, registry))
	r.Mount("/info", route.InfoRouter(cfg, registry, startedAt))
	r.Mount("/cors", route.CORSRouter(lg))
	r.NotFound(route.NotFound)

	h2s := &http2.Server{}
	srv := &http.Server{
		Addr:    *addr,
		Handler: h2c.NewHandler(r, h2s),
	}

	if *h3 {
		if *tlsCert == "" || *tlsKey == "" {
			lg.Errorln("-h3 requires -tls-cert and -tls-key")
			os.Exit(1)
		}
		go serveH3(*addr, *tlsCert, *tlsKey, r, lg)
	}

	if err := srv.ListenAndServe(); err != nil {
		lg.Errorln("server stopped: %v", err)
		os.Exit(1)
	}
}

// serveH3 runs the optional QUIC/HTTP3 listener for TwoPass, adopted from
// FarelRA/UnderPass/TwoPass-Client's own H3 transport — the one example in
// the retrieval pack that actually speaks this wire format.
func serveH3(addr, certFile, keyFile string, handler http.Handler, lg *log.Logger) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		lg.Errorln("h3: loading certificate failed: %v", err)
		return
	}

	srv := &http3.Server{
		Addr:      addr,
		Handler:   handler,
		TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
	}
	lg.Infoln("h3 listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil {
		lg.Errorln("h3 server stopped: %v", err)
	}
}
