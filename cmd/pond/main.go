// Package main implements the pond host binary. It loads configuration,
// opens a Pond on the configured event and snapshot backends, and exposes
// metrics and health endpoints until signalled to stop.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/Actyx/Actyx-sub006/config"
	"github.com/Actyx/Actyx-sub006/metric"
	"github.com/Actyx/Actyx-sub006/pond"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "pond"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("host failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()

	if cliCfg.ShowVersion {
		fmt.Printf("%s %s (built %s, %s)\n", appName, Version, BuildTime, runtime.Version())
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}
	if err := validateFlags(cliCfg); err != nil {
		return err
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		logger.Info("configuration is valid", "path", cliCfg.ConfigPath)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewRegistry()
	p, err := pond.Open(ctx, cfg,
		pond.WithLogger(logger),
		pond.WithMetrics(registry.Metrics))
	if err != nil {
		return fmt.Errorf("open pond: %w", err)
	}

	var srv *http.Server
	if cliCfg.MetricsPort > 0 {
		srv = serveHTTP(cliCfg.MetricsPort, registry, p, logger)
	}

	logger.Info("pond host running",
		"source", string(p.SourceID()),
		"event_backend", cfg.EventStore.Backend,
		"snapshot_backend", cfg.Snapshots.Backend)

	<-ctx.Done()
	logger.Info("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
	defer cancel()

	if err := p.WaitQuiet(shutdownCtx); err != nil {
		logger.Warn("shutdown with fish still active", "state", p.State())
	}
	p.Dispose()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown failed", "error", err)
		}
	}
	logger.Info("pond host stopped")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	if path == "" {
		return loader.Load()
	}
	return loader.LoadFile(path)
}

func serveHTTP(port int, registry *metric.Registry, p *pond.Pond, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"state":  p.State(),
		})
	})
	mux.HandleFunc("/statusz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = fmt.Fprintln(w, p.Dump())
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", "error", err)
		}
	}()
	return srv
}
