package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"worknest.io/internal/app"
	"worknest.io/internal/config"
	"worknest.io/internal/httpapi"
	"worknest.io/internal/obs"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		obs.Logger().Fatal("api exited", zap.Error(err))
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := obs.NewLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	obs.SetLogger(logger)

	obs.Init()
	if err := obs.InitBuildInfo(prometheus.DefaultRegisterer, version, commit); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	core, err := app.Build(ctx, cfg, logger, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}
	defer func() { _ = core.Close() }()
	if err := core.Bootstrap(ctx); err != nil {
		return err
	}
	go core.RunPruner(ctx, cfg.BlacklistPruneEvery)

	opts := []httpapi.Option{
		httpapi.WithVersion(version),
		httpapi.WithLogger(logger.Named("http")),
		httpapi.WithRateLimit(cfg.RateLimitBurst, cfg.RateLimitRPS),
	}
	for name, p := range core.Pingers() {
		opts = append(opts, httpapi.WithReadyCheck(name, p))
	}
	api := httpapi.New(core.Engine, core.Directory, core.Hierarchy, opts...)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting worknest-api",
			zap.String("version", version),
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.Store))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("stopped")
	return nil
}
