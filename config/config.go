// Package config resolves the request-scoped Config described in
// SPEC_FULL.md §3: compiled default < environment variable < URL query
// parameter, in that precedence order.
package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/gofrs/uuid"

	"github.com/underpass-proxy/underpass/log"
)

const (
	defaultUserID   = "86c50e3a-5b87-49dd-bd20-03c7f2735e40"
	defaultDoHURL   = "https://1.1.1.1/dns-query"
	defaultLogLevel = log.LevelInfo
)

// Config is the immutable, request-scoped configuration every component
// receives explicitly — never read from a package-level global.
type Config struct {
	UserID    uuid.UUID
	Password  string
	RelayAddr string
	DoHURL    string
	LogLevel  log.LevelName
}

// Base resolves defaults overlaid with environment variables. Call once at
// startup; per-request query overrides are layered on top with WithQuery.
func Base() (Config, error) {
	uid, err := uuid.FromString(envOr("USER_ID", defaultUserID))
	if err != nil {
		return Config{}, fmt.Errorf("config: USER_ID: %w", err)
	}

	return Config{
		UserID:    uid,
		Password:  envOr("PASSWORD", ""),
		RelayAddr: envOr("RELAY_ADDR", ""),
		DoHURL:    envOr("DOH_URL", defaultDoHURL),
		LogLevel:  log.LevelName(envOr("LOG_LEVEL", string(defaultLogLevel))),
	}, nil
}

// WithQuery returns a copy of c with any of "relay", "doh", "log" present in
// q overriding the corresponding field, per SPEC_FULL.md §6.
func (c Config) WithQuery(q url.Values) Config {
	out := c
	if v := q.Get("relay"); v != "" {
		out.RelayAddr = v
	}
	if v := q.Get("doh"); v != "" {
		out.DoHURL = v
	}
	if v := q.Get("log"); v != "" {
		out.LogLevel = log.LevelName(v)
	}
	return out
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
