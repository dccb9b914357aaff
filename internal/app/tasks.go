package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tsukinami/koharu/internal/kvstore"
)

// ScheduledTaskFunc is the signature for all scheduled tasks. The
// context provided by the scheduler should be respected for cancellation.
type ScheduledTaskFunc func(ctx context.Context) error

// RegisterAllTasks returns the task registry keyed by the names used
// in the scheduler configuration.
func RegisterAllTasks(kv kvstore.KV, logger *slog.Logger) map[string]ScheduledTaskFunc {
	tasks := make(map[string]ScheduledTaskFunc)

	tasks["store_maintenance"] = newStoreMaintenanceTask(kv, logger)

	logger.Info("initialized scheduled tasks", "count", len(tasks))

	return tasks
}

// newStoreMaintenanceTask creates the periodic store maintenance task.
// Backends without a maintenance operation get a no-op.
func newStoreMaintenanceTask(kv kvstore.KV, logger *slog.Logger) ScheduledTaskFunc {
	log := logger.With("task", "store_maintenance")

	return func(ctx context.Context) error {
		maintainer, ok := kv.(kvstore.Maintainer)
		if !ok {
			log.DebugContext(ctx, "store backend has no maintenance operation, skipping")

			return nil
		}

		startTime := time.Now()

		if err := maintainer.Maintenance(ctx); err != nil {
			return fmt.Errorf("store maintenance failed: %w", err)
		}

		log.InfoContext(ctx, "store maintenance completed", "duration", time.Since(startTime))

		return nil
	}
}
