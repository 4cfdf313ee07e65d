// Package main is the entry point for the mediaoffload service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mediaoffload/mediaoffload/internal/config"
	"github.com/mediaoffload/mediaoffload/internal/index"
	"github.com/mediaoffload/mediaoffload/internal/logging"
	"github.com/mediaoffload/mediaoffload/internal/media"
	"github.com/mediaoffload/mediaoffload/internal/metrics"
	"github.com/mediaoffload/mediaoffload/internal/probe"
	"github.com/mediaoffload/mediaoffload/internal/rewrite"
	"github.com/mediaoffload/mediaoffload/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	envFile := flag.String("env", ".env", "optional .env file with MEDIAOFFLOAD_* overrides")
	port := flag.Int("port", 0, "override listening port (default: from config or 9000)")
	host := flag.String("host", "", "override listening host (default: from config or 127.0.0.1)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config or info)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config or text)")
	shutdownTimeout := flag.Int("shutdown-timeout", 0, "graceful shutdown timeout in seconds (default: from config or 30)")
	documentRoot := flag.String("document-root", "", "override the web document root")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.LoadEnv(cfg, *envFile); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load environment: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file and environment values.
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *shutdownTimeout != 0 {
		cfg.Server.ShutdownTimeout = *shutdownTimeout
	}
	if *documentRoot != "" {
		cfg.Media.DocumentRoot = *documentRoot
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format, "mediaoffload", os.Stderr)
	if cfg.Observability.Metrics {
		metrics.Register()
	}

	// Every startup is recovery: SQLite WAL replays on open, temp files from
	// interrupted writes are removed and settings are seeded if unset.
	if err := os.MkdirAll(filepath.Dir(cfg.Index.Path), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create index directory: %v\n", err)
		os.Exit(1)
	}
	idx, err := index.NewSQLiteStore(cfg.Index.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open content index: %v\n", err)
		os.Exit(1)
	}
	defer idx.Close()

	ctx := context.Background()
	seeded, err := config.SeedBucketSettings(ctx, idx, cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed settings: %v\n", err)
		os.Exit(1)
	}
	if seeded > 0 {
		slog.Info("Seeded bucket settings", "count", seeded)
	}

	uploadsRoot := cfg.Media.UploadsRoot()
	lib, err := media.NewLibrary(uploadsRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize uploads directory: %v\n", err)
		os.Exit(1)
	}
	if err := lib.CleanTempFiles(); err != nil {
		slog.Warn("Failed to clean temp files", "error", err)
	}

	if cfg.Rewrite.Install {
		wrote, err := rewrite.Install(uploadsRoot, cfg.RewriteTarget())
		if err != nil {
			slog.Warn("Failed to install rewrite rules", "dir", uploadsRoot, "error", err)
		} else if wrote {
			slog.Info("Installed rewrite rules", "dir", uploadsRoot, "target", cfg.RewriteTarget())
		}
	}

	// Hosts report absolute paths, so keys are derived against absolute roots.
	docRoot, err := filepath.Abs(cfg.Media.DocumentRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve document root: %v\n", err)
		os.Exit(1)
	}
	contentRoot, err := filepath.Abs(cfg.Media.ContentRoot())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to resolve content root: %v\n", err)
		os.Exit(1)
	}

	deps := server.Deps{
		Options:      idx,
		Storage:      cfg.Storage,
		Prober:       probe.New(nil),
		DocumentRoot: docRoot,
		ContentRoot:  contentRoot,
		Index:        idx,
		Writer:       lib,
		Derivatives:  media.NewDerivatives(),
		Logger:       logger,
	}
	// An unusable bucket leaves the service running local-only. A server
	// fault means the settings cannot be judged, so refuse to start.
	rt, err := server.BuildRuntime(ctx, deps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to validate object store: %v\n", err)
		os.Exit(1)
	}

	srv, err := server.New(cfg, deps, rt)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create server: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("mediaoffload listening", "addr", addr, "connected", rt.Connected)
		if err := srv.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("Received signal, shutting down", "signal", sig)

		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
		slog.Info("Server stopped")

	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "server error: %v\n", err)
			os.Exit(1)
		}
	}
}
