// Package chat drives the conversation: moderation, command
// classification, reply generation, and background history and memory
// persistence.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tsukinami/koharu/internal/ai"
	"github.com/tsukinami/koharu/internal/character"
	"github.com/tsukinami/koharu/internal/config"
	"github.com/tsukinami/koharu/internal/kvstore"
	"github.com/tsukinami/koharu/internal/line"
)

const recordTimeout = 2 * time.Minute

// Orchestrator handles inbound text messages end to end. Every
// message gets a reply; failures anywhere in the chain degrade to the
// fixed fallback text.
type Orchestrator struct {
	store     *kvstore.Store
	ai        ai.Client
	moderator ai.Moderator
	messenger line.Messenger
	memory    *MemoryManager
	messages  config.MessagesConfig
	runner    Runner
	logger    *slog.Logger
	now       func() time.Time
}

// NewOrchestrator wires the orchestrator from its collaborators.
func NewOrchestrator(store *kvstore.Store, aiClient ai.Client, moderator ai.Moderator, messenger line.Messenger, memory *MemoryManager, runner Runner, cfg *config.Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Orchestrator{
		store:     store,
		ai:        aiClient,
		moderator: moderator,
		messenger: messenger,
		memory:    memory,
		messages:  cfg.Messages,
		runner:    runner,
		logger:    logger.With("component", "orchestrator"),
		now:       time.Now,
	}
}

// HandleEvents processes a webhook batch with full parallelism across
// events. A failing event never aborts its siblings.
func (o *Orchestrator) HandleEvents(ctx context.Context, events []line.Event) {
	var g errgroup.Group

	for _, event := range events {
		g.Go(func() error {
			o.handleEvent(ctx, event)

			return nil
		})
	}

	_ = g.Wait()
}

func (o *Orchestrator) handleEvent(ctx context.Context, event line.Event) {
	logger := o.logger.With("user_id", event.UserID)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling message", "panic", r)
			o.reply(ctx, logger, event.ReplyToken, o.messages.Fallback)
		}
	}()

	if err := o.handleMessage(ctx, logger, event); err != nil {
		logger.Error("failed to handle message", "error", err)
		o.reply(ctx, logger, event.ReplyToken, o.messages.Fallback)
	}
}

func (o *Orchestrator) handleMessage(ctx context.Context, logger *slog.Logger, event line.Event) error {
	safe, err := o.moderator.IsSafe(ctx, event.Text)
	if err != nil {
		// Fail open: treat the message as safe when moderation is down.
		logger.Warn("moderation check failed, continuing", "error", err)

		safe = true
	}

	if !safe {
		logger.Info("message flagged by moderation")

		return o.messenger.Reply(ctx, event.ReplyToken, o.messages.Refusal)
	}

	profile, err := o.loadProfile(ctx, event.UserID)
	if err != nil {
		return err
	}

	if character.IsShowProfileCommand(event.Text) {
		return o.messenger.Reply(ctx, event.ReplyToken, character.FormatProfile(profile))
	}

	if character.IsSettingCommand(event.Text) {
		return o.handleSettingCommand(ctx, logger, event, profile)
	}

	if character.IsFirstContact(event.Text) {
		return o.messenger.Reply(ctx, event.ReplyToken, character.WelcomeMessage(profile))
	}

	if special, ok := character.SpecialReply(event.Text, profile, o.now()); ok {
		return o.messenger.Reply(ctx, event.ReplyToken, special)
	}

	return o.chat(ctx, logger, event, profile)
}

func (o *Orchestrator) handleSettingCommand(ctx context.Context, logger *slog.Logger, event line.Event, profile *kvstore.Profile) error {
	change, ok := character.ParseFieldChange(event.Text)
	if !ok {
		return o.messenger.Reply(ctx, event.ReplyToken, character.SettingsHelp())
	}

	change.Apply(profile)

	if err := o.store.PutProfile(ctx, event.UserID, profile); err != nil {
		logger.Error("failed to save profile", "error", err)

		return o.messenger.Reply(ctx, event.ReplyToken, o.messages.SaveError)
	}

	logger.Info("profile field updated", "field", change.Field)

	return o.messenger.Reply(ctx, event.ReplyToken, character.ChangeConfirmation(change))
}

// chat runs the ordinary conversation branch. The reply is delivered
// synchronously; history and memory persistence happens afterward in
// the background and never affects the already-sent reply.
func (o *Orchestrator) chat(ctx context.Context, logger *slog.Logger, event line.Event, profile *kvstore.Profile) error {
	if err := o.messenger.Push(ctx, event.UserID, o.messages.Typing); err != nil {
		logger.Warn("failed to push typing indicator", "error", err)
	}

	var (
		history []kvstore.ConversationEntry
		memory  string
	)

	g, fetchCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		history, err = o.store.GetHistory(fetchCtx, event.UserID)

		return err
	})
	g.Go(func() error {
		var err error
		memory, err = o.store.GetMemory(fetchCtx, event.UserID)

		return err
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to load conversation state: %w", err)
	}

	answer, err := o.ai.Reply(ctx, profile, memory, history, event.Text)
	if err != nil {
		return fmt.Errorf("failed to generate reply: %w", err)
	}

	if err := o.messenger.Reply(ctx, event.ReplyToken, answer); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}

	bgCtx := context.WithoutCancel(ctx)

	o.runner.Go(func() {
		recordCtx, cancel := context.WithTimeout(bgCtx, recordTimeout)
		defer cancel()

		if err := o.memory.Record(recordCtx, event.UserID, event.Text, answer); err != nil {
			logger.Error("failed to record conversation", "error", err)
		}
	})

	return nil
}

// loadProfile returns the user's stored profile, or the default
// persona when none exists yet. The default is not persisted; it only
// becomes a stored record once the user changes a field.
func (o *Orchestrator) loadProfile(ctx context.Context, userID string) (*kvstore.Profile, error) {
	profile, err := o.store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return kvstore.NewDefaultProfile(o.now()), nil
		}

		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	return profile, nil
}

func (o *Orchestrator) reply(ctx context.Context, logger *slog.Logger, replyToken, text string) {
	if err := o.messenger.Reply(ctx, replyToken, text); err != nil {
		logger.Error("failed to send fallback reply", "error", err)
	}
}
