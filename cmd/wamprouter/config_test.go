package main

import (
	"testing"
	"time"

	"github.com/ggoodman/wamp-go/wamp"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("WAMP_REALMS", "realm1, realm.two,,")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("WAMP_SHUTDOWN_TIMEOUT", "3s")

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.ListenAddr != ":8080" || cfg.Path != "/ws1" || cfg.MetricsPath != "/metrics" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("ShutdownTimeout = %s", cfg.ShutdownTimeout)
	}

	realms := cfg.realmList()
	if len(realms) != 2 || realms[0] != wamp.URI("realm1") || realms[1] != wamp.URI("realm.two") {
		t.Fatalf("realmList = %v", realms)
	}
	if lvl, err := cfg.level(); err != nil || lvl.String() != "DEBUG" {
		t.Fatalf("level = %v, %v", lvl, err)
	}
}

func TestInvalidLogLevel(t *testing.T) {
	cfg := Config{LogLevel: "loud"}
	if _, err := cfg.level(); err == nil {
		t.Fatal("level accepted an unknown name")
	}
}
