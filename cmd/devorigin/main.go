// Command devorigin serves a local origin for the edge: login, public and
// private resources, and tiles from an optional MBTiles file.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"

	"github.com/tyrauber/sst-maps/internal/devorigin"
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
		listen   string
		mbtiles  string
		logLevel string
	)

	flagSet := pflag.NewFlagSet("devorigin", pflag.ContinueOnError)
	flagSet.StringVarP(&listen, "listen", "l", ":9000", "address to listen on")
	flagSet.StringVar(&mbtiles, "mbtiles", "", "MBTiles file to serve under /v1/tiles")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  logLevel,
		Format: "text",
		Output: os.Stdout,
	})
	gin.SetMode(gin.ReleaseMode)

	var tiles devorigin.TileStore
	if mbtiles != "" {
		m, err := devorigin.OpenMBTiles(mbtiles)
		if err != nil {
			return err
		}
		defer m.Close()
		tiles = m
		logger.Info("serving tiles", "mbtiles", mbtiles)
	}

	server := &http.Server{
		Addr:              listen,
		Handler:           devorigin.NewServer(tiles, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("devorigin listening", "addr", listen)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
