package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarLogLevel          = "LOG_LEVEL"
	envVarPort              = "PORT"
	envVarHeartbeatInterval = "HEARTBEAT_INTERVAL"
	envVarPongTimeout       = "PONG_TIMEOUT"
	envVarDisconnectTimeout = "DISCONNECT_TIMEOUT"
	envVarRedisURL          = "REDIS_URL"
	envVarTLSCertFile       = "TLS_CERT_FILE"
	envVarTLSKeyFile        = "TLS_KEY_FILE"
	envVarTLSCAFiles        = "TLS_CA_FILES"
	envVarShutdownTimeout   = "SHUTDOWN_TIMEOUT"
	envVarMessageCacheCap   = "MESSAGE_CACHE_CAP"
	envVarAllowedOrigins    = "ALLOWED_ORIGINS"

	DefaultLogLevel        = "info"
	DefaultPort            = 9000
	DefaultHeartbeatMS     = 30000
	DefaultPongTimeoutMS   = 60000
	DefaultDisconnectMS    = 90000
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMessageCacheCap = 256
)

// Config is the fully-resolved runtime configuration for the relay.
//
// It is intentionally a flat, immutable value: construct it once via Load at
// startup and pass it by value to every component that needs it.
type Config struct {
	LogLevel slog.Level

	Port int

	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	DisconnectTimeout time.Duration

	RedisURL string

	TLSCertFile string
	TLSKeyFile  string
	TLSCAFiles  []string

	ShutdownTimeout time.Duration
	MessageCacheCap int

	AllowedOrigins []string
}

// TLSEnabled reports whether both a certificate and key were configured.
func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// BridgeEnabled reports whether a pub/sub endpoint was configured.
func (c Config) BridgeEnabled() bool {
	return strings.TrimSpace(c.RedisURL) != ""
}

// TLSConfig builds a *tls.Config from the configured cert/key/CA files.
//
// Returns (nil, nil) when TLS is not configured.
func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.TLSEnabled() {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("%w: loading cert/key: %v", ErrConfigInvalid, err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if len(c.TLSCAFiles) > 0 {
		pool := x509.NewCertPool()
		for _, path := range c.TLSCAFiles {
			pem, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("%w: reading CA file %q: %v", ErrConfigInvalid, path, err)
			}
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("%w: no certificates found in CA file %q", ErrConfigInvalid, path)
			}
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.VerifyClientCertIfGiven
	}

	return cfg, nil
}

// Load resolves configuration from the process environment.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (Config, error) {
	logLevelRaw := envOrDefault(lookup, envVarLogLevel, DefaultLogLevel)
	logLevel, err := parseLogLevel(logLevelRaw)
	if err != nil {
		return Config{}, err
	}

	port, err := envIntOrDefault(lookup, envVarPort, DefaultPort)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("%w: %s must be between 1 and 65535, got %d", ErrConfigInvalid, envVarPort, port)
	}

	heartbeatMS, err := envIntOrDefault(lookup, envVarHeartbeatInterval, DefaultHeartbeatMS)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	pongTimeoutMS, err := envIntOrDefault(lookup, envVarPongTimeout, DefaultPongTimeoutMS)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	disconnectMS, err := envIntOrDefault(lookup, envVarDisconnectTimeout, DefaultDisconnectMS)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if heartbeatMS <= 0 || pongTimeoutMS <= 0 || disconnectMS <= 0 {
		return Config{}, fmt.Errorf("%w: heartbeat/pong/disconnect timeouts must be positive", ErrConfigInvalid)
	}

	shutdownTimeout := DefaultShutdownTimeout
	if raw, ok := lookup(envVarShutdownTimeout); ok && strings.TrimSpace(raw) != "" {
		ms, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Config{}, fmt.Errorf("%w: invalid %s %q: %v", ErrConfigInvalid, envVarShutdownTimeout, raw, err)
		}
		shutdownTimeout = time.Duration(ms) * time.Millisecond
	}

	cacheCap, err := envIntOrDefault(lookup, envVarMessageCacheCap, DefaultMessageCacheCap)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if cacheCap <= 0 {
		return Config{}, fmt.Errorf("%w: %s must be positive", ErrConfigInvalid, envVarMessageCacheCap)
	}

	redisURL := envOrDefault(lookup, envVarRedisURL, "")
	certFile := envOrDefault(lookup, envVarTLSCertFile, "")
	keyFile := envOrDefault(lookup, envVarTLSKeyFile, "")
	if (certFile == "") != (keyFile == "") {
		return Config{}, fmt.Errorf("%w: %s and %s must be set together", ErrConfigInvalid, envVarTLSCertFile, envVarTLSKeyFile)
	}

	var caFiles []string
	if raw := envOrDefault(lookup, envVarTLSCAFiles, ""); raw != "" {
		for _, p := range strings.Split(raw, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				caFiles = append(caFiles, p)
			}
		}
	}

	var allowedOrigins []string
	if raw := envOrDefault(lookup, envVarAllowedOrigins, ""); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}

	return Config{
		LogLevel: logLevel,

		Port: port,

		HeartbeatInterval: time.Duration(heartbeatMS) * time.Millisecond,
		PongTimeout:       time.Duration(pongTimeoutMS) * time.Millisecond,
		DisconnectTimeout: time.Duration(disconnectMS) * time.Millisecond,

		RedisURL: redisURL,

		TLSCertFile: certFile,
		TLSKeyFile:  keyFile,
		TLSCAFiles:  caFiles,

		ShutdownTimeout: shutdownTimeout,
		MessageCacheCap: cacheCap,

		AllowedOrigins: allowedOrigins,
	}, nil
}

func NewLogger(cfg Config) *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})
	return slog.New(handler)
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: invalid log level %q (expected debug, info, warn, error)", ErrConfigInvalid, raw)
	}
}
