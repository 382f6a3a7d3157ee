package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ggoodman/wamp-go/wamp"
	"github.com/joeshaw/envdecode"
)

// Config is read from the environment.
type Config struct {
	// ListenAddr for the HTTP server. ENV: WAMP_LISTEN_ADDR
	ListenAddr string `env:"WAMP_LISTEN_ADDR,default=:8080"`
	// Path the WebSocket endpoint is mounted on. ENV: WAMP_PATH
	Path string `env:"WAMP_PATH,default=/ws1"`
	// Realms is a comma separated list provisioned at startup. ENV: WAMP_REALMS
	Realms string `env:"WAMP_REALMS,default=realm1"`
	// AutoCreateRealms accepts HELLO for unknown realms. ENV: WAMP_AUTO_CREATE_REALMS
	AutoCreateRealms bool `env:"WAMP_AUTO_CREATE_REALMS,default=false"`
	// ExcludePublisher skips publishers subscribed to their own topic. ENV: WAMP_EXCLUDE_PUBLISHER
	ExcludePublisher bool `env:"WAMP_EXCLUDE_PUBLISHER,default=false"`
	// MetricsPath serves Prometheus metrics; empty disables it. ENV: WAMP_METRICS_PATH
	MetricsPath string `env:"WAMP_METRICS_PATH,default=/metrics"`
	// RedisAddr enables the cluster relay when set. ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR"`
	// RelayKeyPrefix namespaces the relay channel. ENV: WAMP_RELAY_KEY_PREFIX
	RelayKeyPrefix string `env:"WAMP_RELAY_KEY_PREFIX,default=wamp:relay:"`
	// LogLevel is one of debug, info, warn, error. ENV: LOG_LEVEL
	LogLevel string `env:"LOG_LEVEL,default=info"`
	// ShutdownTimeout bounds the HTTP server drain. ENV: WAMP_SHUTDOWN_TIMEOUT
	ShutdownTimeout time.Duration `env:"WAMP_SHUTDOWN_TIMEOUT,default=10s"`
}

func loadConfig() (Config, error) {
	var cfg Config
	// Every field has a default or is optional, so an empty environment is fine.
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func (c Config) realmList() []wamp.URI {
	var out []wamp.URI
	for _, part := range strings.Split(c.Realms, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, wamp.URI(part))
		}
	}
	return out
}

func (c Config) level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
