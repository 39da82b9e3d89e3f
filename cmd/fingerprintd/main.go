package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/high-horse/fingerprint-server/internal/afis"
	"github.com/high-horse/fingerprint-server/internal/config"
	"github.com/high-horse/fingerprint-server/internal/fingerprint"
	"github.com/high-horse/fingerprint-server/internal/logging"
	"github.com/high-horse/fingerprint-server/internal/metrics"
	"github.com/high-horse/fingerprint-server/internal/reader"
	"github.com/high-horse/fingerprint-server/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, accessLog, err := logging.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	catalog, err := config.LoadCatalog(cfg.DevicesFile)
	if err != nil {
		logger.Fatal("failed to load device catalog", zap.Error(err))
	}

	m := metrics.New()
	matcher := afis.NewMatcher(cfg.MatcherWorkers, logger)

	registry := fingerprint.NewRegistry(catalog, matcher, fingerprint.SessionOptions{
		StopTimeout:     cfg.Capture.StopTimeout,
		ShutdownTimeout: cfg.Capture.ReleaseTimeout,
		Logger:          logger,
		Recorder:        m,
	})
	reader.Register(registry, reader.Options{
		FramesDir: cfg.Reader.FramesDir,
		Exposure:  cfg.Reader.Exposure,
		Logger:    logger,
	})

	app := server.New(server.Options{
		Registry:       registry,
		Matcher:        matcher,
		Metrics:        m.Handler(),
		Logger:         logger,
		AccessLog:      accessLog,
		CaptureTimeout: cfg.Capture.Timeout,
		BodyLimit:      cfg.Server.BodyLimit,
	})

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("addr", cfg.Server.Addr), zap.Error(err))
	}

	logger.Info("fingerprint server listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("devices", catalog.Len()),
		zap.Strings("families", registry.Families()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if err := serve(app, ln, registry, cfg.Server.ShutdownTimeout, logger, sigCh); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

// serve runs app on ln until it fails or a signal arrives, then drains
// requests and releases the reader, each within shutdownTimeout.
func serve(app *fiber.App, ln net.Listener, registry *fingerprint.Registry, shutdownTimeout time.Duration, logger *zap.Logger, sigCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listener(ln)
	}()

	var serveErr error
	select {
	case serveErr = <-errCh:
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Warn("http shutdown incomplete", zap.Error(err))
		}
		serveErr = <-errCh
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := registry.Close(ctx); err != nil {
		logger.Error("failed to release reader", zap.Error(err))
	}
	return serveErr
}
