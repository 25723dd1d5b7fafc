package config

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if cfg.Port != DefaultPort {
		t.Fatalf("Port = %d, want %d", cfg.Port, DefaultPort)
	}
	if cfg.HeartbeatInterval != time.Duration(DefaultHeartbeatMS)*time.Millisecond {
		t.Fatalf("HeartbeatInterval = %v", cfg.HeartbeatInterval)
	}
	if cfg.PongTimeout != time.Duration(DefaultPongTimeoutMS)*time.Millisecond {
		t.Fatalf("PongTimeout = %v", cfg.PongTimeout)
	}
	if cfg.DisconnectTimeout != time.Duration(DefaultDisconnectMS)*time.Millisecond {
		t.Fatalf("DisconnectTimeout = %v", cfg.DisconnectTimeout)
	}
	if cfg.MessageCacheCap != DefaultMessageCacheCap {
		t.Fatalf("MessageCacheCap = %d", cfg.MessageCacheCap)
	}
	if cfg.BridgeEnabled() {
		t.Fatalf("expected bridge disabled by default")
	}
	if cfg.TLSEnabled() {
		t.Fatalf("expected TLS disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		"LOG_LEVEL":           "debug",
		"PORT":                "9443",
		"HEARTBEAT_INTERVAL":  "1000",
		"PONG_TIMEOUT":        "3000",
		"DISCONNECT_TIMEOUT":  "2000",
		"REDIS_URL":           "redis://localhost:6379/0",
		"MESSAGE_CACHE_CAP":   "64",
		"ALLOWED_ORIGINS":     "https://a.example, https://b.example",
	}))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.Port != 9443 {
		t.Fatalf("Port = %d, want 9443", cfg.Port)
	}
	if cfg.HeartbeatInterval != time.Second {
		t.Fatalf("HeartbeatInterval = %v, want 1s", cfg.HeartbeatInterval)
	}
	if !cfg.BridgeEnabled() {
		t.Fatalf("expected bridge enabled")
	}
	if cfg.MessageCacheCap != 64 {
		t.Fatalf("MessageCacheCap = %d, want 64", cfg.MessageCacheCap)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[0] != "https://a.example" {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadInvalidLogLevel(t *testing.T) {
	_, err := load(lookupMap(map[string]string{"LOG_LEVEL": "verbose"}))
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestLoadInvalidPort(t *testing.T) {
	_, err := load(lookupMap(map[string]string{"PORT": "70000"}))
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestLoadTLSRequiresBoth(t *testing.T) {
	_, err := load(lookupMap(map[string]string{"TLS_CERT_FILE": "/tmp/cert.pem"}))
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestLoadNonPositiveTimeouts(t *testing.T) {
	_, err := load(lookupMap(map[string]string{"HEARTBEAT_INTERVAL": "0"}))
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}
