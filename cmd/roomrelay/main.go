package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/signalhub/roomrelay/internal/bridge"
	"github.com/signalhub/roomrelay/internal/config"
	"github.com/signalhub/roomrelay/internal/httpserver"
	"github.com/signalhub/roomrelay/internal/metrics"
	"github.com/signalhub/roomrelay/internal/roommgr"
	"github.com/signalhub/roomrelay/internal/wsconn"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger := config.NewLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("starting roomrelay",
		"port", cfg.Port,
		"heartbeat_interval", cfg.HeartbeatInterval,
		"pong_timeout", cfg.PongTimeout,
		"disconnect_timeout", cfg.DisconnectTimeout,
		"message_cache_cap", cfg.MessageCacheCap,
		"bridge_enabled", cfg.BridgeEnabled(),
		"tls_enabled", cfg.TLSEnabled(),
	)

	m := metrics.New()

	br := newBridge(cfg, m, logger)

	mgr := roommgr.NewManager(roommgr.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		PongTimeout:       cfg.PongTimeout,
		DisconnectTimeout: cfg.DisconnectTimeout,
		MessageCacheCap:   cfg.MessageCacheCap,
	}, roommgr.NewRealClock(), m, br, logger)

	commit, bTime := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: bTime}, m)

	srv.Mux().Handle("GET /ws", wsconn.NewHandler(cfg, mgr, m, logger))

	ln, err := listen(cfg)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("room manager shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

// newBridge builds the distribution bridge, degrading to a no-op bridge
// rather than failing startup when Redis is unreachable: a missing
// distribution bridge only disables cross-instance relaying, not local
// operation (internal/bridge.ErrUnavailable's doc comment, §4.7).
func newBridge(cfg config.Config, m *metrics.Metrics, logger *slog.Logger) bridge.Bridge {
	if !cfg.BridgeEnabled() {
		m.Inc(metrics.BridgeDisabled)
		return bridge.NewNoop()
	}

	br, err := bridge.NewRedis(context.Background(), cfg.RedisURL, logger)
	if err != nil {
		logger.Warn("distribution bridge unavailable, continuing without cross-instance relaying", "err", err)
		m.Inc(metrics.BridgeDisabled)
		return bridge.NewNoop()
	}
	return br
}

func listen(cfg config.Config) (net.Listener, error) {
	addr := fmt.Sprintf(":%d", cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	if !cfg.TLSEnabled() {
		return ln, nil
	}

	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		_ = ln.Close()
		return nil, err
	}
	return tls.NewListener(ln, tlsCfg), nil
}

func resolveBuildInfo(commit, bTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the
	// Go build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if bTime == "" {
					bTime = s.Value
				}
			}
		}
	}
	return commit, bTime
}
