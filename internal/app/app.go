// Package app wires the application components together and manages
// their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tsukinami/koharu/internal/chat"
	"github.com/tsukinami/koharu/internal/config"
	"github.com/tsukinami/koharu/internal/server"
)

// App runs the HTTP server and the scheduler until the context is
// cancelled.
type App struct {
	logger    *slog.Logger
	cfg       *config.Config
	server    *server.Server
	scheduler *Scheduler
	runner    *chat.AsyncRunner
}

// New creates the application from its assembled components.
func New(logger *slog.Logger, cfg *config.Config, srv *server.Server, scheduler *Scheduler, runner *chat.AsyncRunner) *App {
	return &App{
		logger:    logger.With("component", "app"),
		cfg:       cfg,
		server:    srv,
		scheduler: scheduler,
		runner:    runner,
	}
}

// Run starts all components and blocks until shutdown. It returns an
// error if any component fails during startup or execution.
func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("starting HTTP server", "addr", a.cfg.Server.Addr)

		if err := a.server.Start(); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		if err := a.scheduler.Start(); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}

		<-gCtx.Done()
		a.logger.Info("shutdown signal received, stopping scheduler")

		if err := a.scheduler.Stop(); err != nil {
			a.logger.Error("error stopping scheduler", "error", err)
		}

		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("error shutting down HTTP server", "error", err)
		}

		return nil
	})

	err := g.Wait()

	a.drainBackground()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	a.logger.Info("application stopped gracefully")

	return nil
}

// drainBackground waits briefly for in-flight history and memory
// writes to finish before the process exits.
func (a *App) drainBackground() {
	done := make(chan struct{})

	go func() {
		a.runner.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(a.cfg.Server.ShutdownTimeout):
		a.logger.Warn("timed out waiting for background tasks")
	}
}
