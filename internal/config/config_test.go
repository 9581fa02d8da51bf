package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "REDIS_ADDR", "DATABASE_URL", "RELAY_BACKPLANE", "RELAY_ALLOWED_ORIGINS", "RELAY_SEND_BUFFER", "COLLAB_RELAY_URL"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("expected :8080, got %q", cfg.Server.Addr)
	}
	if cfg.Relay.PingInterval != 54*time.Second || cfg.Relay.ReadTimeout != 60*time.Second {
		t.Fatalf("unexpected relay timeouts %+v", cfg.Relay)
	}
	if cfg.Relay.SendBuffer != 64 {
		t.Fatalf("expected send buffer 64, got %d", cfg.Relay.SendBuffer)
	}
	if len(cfg.Relay.AllowedOrigins) != 1 || cfg.Relay.AllowedOrigins[0] != "*" {
		t.Fatalf("expected wildcard origins, got %v", cfg.Relay.AllowedOrigins)
	}
	if cfg.Store.RedisEnabled() || cfg.Snapshot.Enabled() || cfg.Backplane.Enabled {
		t.Fatalf("expected optional backends to be disabled")
	}
	if cfg.Client.DedupWindow != 1500*time.Millisecond || cfg.Client.StaleAfter != 12*time.Second {
		t.Fatalf("unexpected client defaults %+v", cfg.Client)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("RELAY_BACKPLANE", "true")
	t.Setenv("RELAY_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("RELAY_SEND_BUFFER", "0")
	t.Setenv("SNAPSHOT_INTERVAL", "1m")
	t.Setenv("DATABASE_URL", "postgres://localhost/cobuild")
	t.Setenv("COLLAB_LOCAL_DIR", " /run/user/1000/cobuild ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected addr %q", cfg.Server.Addr)
	}
	if !cfg.Backplane.Enabled || cfg.Store.RedisDB != 2 {
		t.Fatalf("unexpected store config %+v %+v", cfg.Store, cfg.Backplane)
	}
	if got := strings.Join(cfg.Relay.AllowedOrigins, "|"); got != "https://a.example.com|https://b.example.com" {
		t.Fatalf("unexpected origins %q", got)
	}
	if cfg.Relay.SendBuffer != 1 {
		t.Fatalf("expected send buffer clamped to 1, got %d", cfg.Relay.SendBuffer)
	}
	if !cfg.Snapshot.Enabled() || cfg.Snapshot.Interval != time.Minute {
		t.Fatalf("unexpected snapshot config %+v", cfg.Snapshot)
	}
	if cfg.Client.LocalDir != "/run/user/1000/cobuild" {
		t.Fatalf("unexpected local dir %q", cfg.Client.LocalDir)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"bad port":            {"PORT": "80 80"},
		"bad duration":        {"RELAY_PING_INTERVAL": "soon"},
		"negative duration":   {"SNAPSHOT_INTERVAL": "-1s"},
		"ping after read":     {"RELAY_PING_INTERVAL": "2m"},
		"bad bool":            {"RELAY_BACKPLANE": "maybe"},
		"backplane w/o redis": {"RELAY_BACKPLANE": "true", "REDIS_ADDR": ""},
		"negative redis db":   {"REDIS_DB": "-1"},
		"non-numeric buffer":  {"RELAY_SEND_BUFFER": "lots"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for key, value := range env {
				t.Setenv(key, value)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
