// Command edgegate runs the token gateway in front of a single origin.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/tyrauber/sst-maps/internal/config"
	"github.com/tyrauber/sst-maps/internal/edge"
	"github.com/tyrauber/sst-maps/internal/gateway"
	"github.com/tyrauber/sst-maps/internal/metrics"
	"github.com/tyrauber/sst-maps/internal/middleware"
	"github.com/tyrauber/sst-maps/internal/observability"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		watch      bool
	)

	flagSet := pflag.NewFlagSet("edgegate", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "config.yaml", "path to config file (empty: environment only)")
	flagSet.BoolVar(&watch, "watch", true, "log when the config file changes on disk")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.LogConfig())
	slog.SetDefault(logger)

	logger.Info("starting edgegate",
		"listen", cfg.Server.ListenAddr,
		"origin", cfg.Server.Origin,
		"protected_prefix", cfg.Gateway.ProtectedPrefix,
		"session_cookie", cfg.Gateway.SessionCookie,
		"lifetime_s", cfg.Gateway.Lifetime,
		"admin", cfg.Admin.Enabled,
	)
	if cfg.BypassEnabled() {
		logger.Warn("same-origin bypass enabled: requests whose Referer contains the edge host skip token checks")
	}

	collector := metrics.NewCollector()

	gw, err := gateway.New(cfg.GatewayConfig(),
		gateway.WithLogger(logger),
		gateway.WithObserver(collector),
	)
	if err != nil {
		return err
	}

	edgeHandler, err := edge.New(gw, cfg.Server.Origin, logger,
		edge.WithTransportConfig(cfg.TransportConfig()),
		edge.WithOriginRecorder(collector),
		edge.WithProtectedPrefix(cfg.Gateway.ProtectedPrefix),
		edge.WithDistributionHost(cfg.Gateway.DistributionHost),
	)
	if err != nil {
		return err
	}

	handler := middleware.Chain(edgeHandler,
		middleware.Recovery(logger),
		middleware.RequestID(nil),
		middleware.Logging(logger),
		middleware.Headers(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watch && configPath != "" {
		if err := config.Watch(ctx, configPath, logger, nil); err != nil {
			logger.Warn("config watcher not started", "error", err)
		}
	}

	var adminServer *http.Server
	if cfg.Admin.Enabled {
		adminServer = startAdminServer(cfg.Admin.Listen, AdminServerDeps{
			Collector: collector,
			Exporter:  metrics.NewPrometheusExporter(collector),
			Edge:      edgeHandler,
			Logger:    logger,
		})
		logger.Info("prometheus metrics available", "endpoint", "http://"+cfg.Admin.Listen+"/metrics")
	}

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("edge ready, accepting connections", "addr", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("admin server shutdown error", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}
