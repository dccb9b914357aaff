package chat

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tsukinami/koharu/internal/ai"
	"github.com/tsukinami/koharu/internal/config"
	"github.com/tsukinami/koharu/internal/kvstore"
)

// MemoryManager persists conversation exchanges and keeps the
// long-range memory summary up to date.
type MemoryManager struct {
	store           *kvstore.Store
	ai              ai.Client
	historyLimit    int
	summaryInterval int
	logger          *slog.Logger
	now             func() time.Time
}

// NewMemoryManager creates a memory manager with policy from configuration.
func NewMemoryManager(store *kvstore.Store, aiClient ai.Client, cfg *config.Config, logger *slog.Logger) *MemoryManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &MemoryManager{
		store:           store,
		ai:              aiClient,
		historyLimit:    cfg.Chat.HistoryLimit,
		summaryInterval: cfg.Chat.SummaryInterval,
		logger:          logger.With("component", "memory"),
		now:             time.Now,
	}
}

// Record appends one exchange to the user's history, trimming the
// oldest entries past the limit, and regenerates the memory summary
// whenever the resulting history length is a positive multiple of the
// summary interval.
func (m *MemoryManager) Record(ctx context.Context, userID, userText, assistantText string) error {
	history, err := m.store.GetHistory(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	history = append(history, kvstore.ConversationEntry{
		Timestamp: m.now().UTC(),
		User:      userText,
		Assistant: assistantText,
	})
	if len(history) > m.historyLimit {
		history = history[len(history)-m.historyLimit:]
	}

	if err := m.store.PutHistory(ctx, userID, history); err != nil {
		return fmt.Errorf("failed to store history: %w", err)
	}

	if len(history) == 0 || len(history)%m.summaryInterval != 0 {
		return nil
	}

	memory, err := m.store.GetMemory(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to load memory: %w", err)
	}

	summary, err := m.ai.Summarize(ctx, history, memory)
	if err != nil {
		return fmt.Errorf("failed to summarize history: %w", err)
	}

	if err := m.store.PutMemory(ctx, userID, summary); err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}

	m.logger.Debug("memory summary updated", "user_id", userID, "history_len", len(history))

	return nil
}
