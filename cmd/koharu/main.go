// Package main contains the entrypoint for the koharu companion server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tsukinami/koharu/internal/ai"
	"github.com/tsukinami/koharu/internal/app"
	"github.com/tsukinami/koharu/internal/billing"
	"github.com/tsukinami/koharu/internal/chat"
	"github.com/tsukinami/koharu/internal/config"
	"github.com/tsukinami/koharu/internal/kvstore"
	"github.com/tsukinami/koharu/internal/line"
	"github.com/tsukinami/koharu/internal/logger"
	"github.com/tsukinami/koharu/internal/server"
	"github.com/tsukinami/koharu/internal/subscription"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	exitCode := run(ctx)
	stop()
	os.Exit(exitCode)
}

// run initializes and starts all application components, handles
// graceful shutdown, and returns an exit code.
func run(ctx context.Context) int {
	configPath := flag.String("config", "./config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		return 1
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.JSON)
	slog.SetDefault(log)
	log.Info("Logger initialized", "level", cfg.Log.Level, "json", cfg.Log.JSON)

	kv, closeKV, err := newKV(cfg)
	if err != nil {
		log.Error("Failed to initialize key-value store", "backend", cfg.Store.Backend, "error", err)
		return 1
	}
	defer closeKV()
	store := kvstore.NewStore(kv, log)

	aiClient, moderator, err := newAI(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize AI client", "provider", cfg.AI.Provider, "error", err)
		return 1
	}

	lineClient, err := line.NewClient(cfg)
	if err != nil {
		log.Error("Failed to create LINE client", "error", err)
		return 1
	}

	stripeClient := billing.NewStripeClient(cfg)

	ledger := subscription.NewLedger(store, log)
	checkout := subscription.NewCheckout(ledger, stripeClient, cfg, log)
	reconciler := subscription.NewReconciler(ledger, stripeClient, store, lineClient, cfg, log)

	runner := chat.NewAsyncRunner()
	memory := chat.NewMemoryManager(store, aiClient, cfg, log)
	orchestrator := chat.NewOrchestrator(store, aiClient, moderator, lineClient, memory, runner, cfg, log)

	handler := server.NewHandler(lineClient, orchestrator, stripeClient, reconciler, checkout, store, log)
	srv := server.New(cfg, handler)

	sched, err := app.NewScheduler(log, &cfg.Scheduler, app.RegisterAllTasks(kv, log))
	if err != nil {
		log.Error("Failed to create scheduler", "error", err)
		return 1
	}

	application := app.New(log, cfg, srv, sched, runner)

	log.Info("Starting server...")
	runErr := application.Run(ctx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error("Server stopped due to error", "error", runErr)
		time.Sleep(time.Second)
		return 1
	}

	log.Info("Server stopped gracefully.")
	time.Sleep(time.Second)
	return 0
}

// newKV constructs the configured key-value backend.
func newKV(cfg *config.Config) (kvstore.KV, func(), error) {
	switch cfg.Store.Backend {
	case "sqlite":
		kv, err := kvstore.NewSQLiteKV(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}

		return kv, func() { _ = kv.Close() }, nil
	case "cloudflare":
		kv := kvstore.NewCloudflareKV(cfg.Store.AccountID, cfg.Store.NamespaceID, cfg.Store.APIToken)

		return kv, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// newAI constructs the configured generation backend. Moderation
// always goes through the OpenAI moderations endpoint.
func newAI(ctx context.Context, cfg *config.Config, log *slog.Logger) (ai.Client, ai.Moderator, error) {
	openAIClient := ai.NewOpenAIClient(cfg, log)

	switch cfg.AI.Provider {
	case "openai":
		return openAIClient, openAIClient, nil
	case "gemini":
		geminiClient, err := ai.NewGeminiClient(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}

		return geminiClient, openAIClient, nil
	default:
		return nil, nil, fmt.Errorf("unknown AI provider %q", cfg.AI.Provider)
	}
}
