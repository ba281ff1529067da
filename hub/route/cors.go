package route

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/underpass-proxy/underpass/log"
)

// corsForwardTimeout bounds how long the upstream fetch may take before the
// client gets a 502.
const corsForwardTimeout = 15 * time.Second

// CORSRouter mounts the generic CORS-forwarding worker described in
// SPEC_FULL.md §2's C14: forward a request to the URL carried in the "url"
// query parameter, re-applying permissive CORS headers on the response via
// go-chi/cors, the teacher's own (until now unused) CORS dependency.
func CORSRouter(lg *log.Logger) http.Handler {
	lg = lg.With("[cors]")

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
		forward(w, r, lg)
	})
	return r
}

func forward(w http.ResponseWriter, r *http.Request, lg *log.Logger) {
	target := r.URL.Query().Get("url")
	if target == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		http.Error(w, "invalid url parameter", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), corsForwardTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), r.Body)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	req.Header = r.Header.Clone()
	req.Header.Del("Host")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		lg.Warnln("forward to %s failed: %v", target, err)
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}
