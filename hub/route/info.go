// Package route mounts the diagnostic and utility surface beside the two
// tunneling cores: /info (C13), the masquerade 404 page, and the CORS
// forwarding worker (C14). Grounded on the teacher's own hub/route package
// (configs.go's chi + go-chi/render conventions), generalized from a config
// CRUD API to a read-only diagnostic one.
package route

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/underpass-proxy/underpass/config"
	"github.com/underpass-proxy/underpass/core"
)

// Version is the build version reported by /info. Overridden at link time
// with -ldflags, matching the teacher's own Version var convention.
var Version = "dev"

type infoSchema struct {
	Version    string `json:"version"`
	UptimeSecs int64  `json:"uptime_seconds"`
	V2Sessions int    `json:"v2_sessions"`
	LogLevel   string `json:"log_level"`
}

// InfoRouter mounts the Basic-Auth-gated /info diagnostic endpoint.
// startedAt is the process start time; empty password disables the gate,
// matching TwoPass's own "no PASSWORD configured" behavior.
func InfoRouter(cfg config.Config, registry *core.Registry, startedAt time.Time) http.Handler {
	r := chi.NewRouter()
	if cfg.Password != "" {
		r.Use(middleware.BasicAuth("underpass", map[string]string{"underpass": cfg.Password}))
	}
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, infoSchema{
			Version:    Version,
			UptimeSecs: int64(time.Since(startedAt).Seconds()),
			V2Sessions: registry.Len(),
			LogLevel:   string(cfg.LogLevel),
		})
	})
	return r
}
