// Package app owns the application lifecycle for the foresight settlement
// core: it wires stores, caches, blob storage, services, and notifications,
// then runs the goroutines the configured operating mode calls for.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/quorumlabs/foresight/internal/config"
)

// App is the root application object. Cleanup functions registered during
// wiring run in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, builds the services, and hands control to the
// selected mode until the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	svcs, err := a.buildServices(ctx, deps)
	if err != nil {
		return fmt.Errorf("app: build services: %w", err)
	}

	switch strings.ToLower(a.cfg.Mode) {
	case "core":
		return a.CoreMode(ctx, deps, svcs)
	case "api":
		return a.APIMode(ctx, deps, svcs)
	case "worker":
		return a.WorkerMode(ctx, deps, svcs)
	}
	return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
}

// Close tears down all resources in reverse registration order. Safe to
// call more than once.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("shutting down application")
	for _, closer := range slices.Backward(a.closers) {
		closer()
	}
	a.closers = nil
}
