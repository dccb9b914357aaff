package subscription

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/tsukinami/koharu/internal/billing"
	"github.com/tsukinami/koharu/internal/config"
	"github.com/tsukinami/koharu/internal/kvstore"
	"github.com/tsukinami/koharu/internal/line"
)

// Reconciler applies billing provider webhook events to the ledger
// and notifies the affected user.
type Reconciler struct {
	ledger    *Ledger
	billing   billing.Client
	store     *kvstore.Store
	messenger line.Messenger
	messages  config.MessagesConfig
	logger    *slog.Logger
}

// NewReconciler wires the reconciler from its collaborators.
func NewReconciler(ledger *Ledger, billingClient billing.Client, store *kvstore.Store, messenger line.Messenger, cfg *config.Config, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Reconciler{
		ledger:    ledger,
		billing:   billingClient,
		store:     store,
		messenger: messenger,
		messages:  cfg.Messages,
		logger:    logger.With("component", "reconciler"),
	}
}

// HandleEvent applies one webhook event. Ledger mutations are always
// derived from the provider's current subscription object, re-fetched
// by id, never from webhook payload fields alone. A returned error
// means the event was not processed; the provider retries delivery.
func (r *Reconciler) HandleEvent(ctx context.Context, event *billing.Event) error {
	logger := r.logger.With("event_id", event.ID, "event_type", event.Type)

	switch event.Type {
	case billing.EventCheckoutCompleted:
		return r.handleCheckoutCompleted(ctx, logger, event.Checkout)

	case billing.EventSubscriptionCreated:
		logger.Info("subscription created, awaiting checkout completion")

		return nil

	case billing.EventSubscriptionUpdated:
		return r.handleSubscriptionUpdated(ctx, logger, event.Subscription)

	case billing.EventSubscriptionDeleted:
		return r.handleSubscriptionDeleted(ctx, logger, event.Subscription)

	case billing.EventPaymentSucceeded:
		return r.handlePaymentSucceeded(ctx, logger, event.Invoice)

	case billing.EventPaymentFailed:
		return r.handlePaymentFailed(ctx, logger, event.Invoice)

	default:
		logger.Info("ignoring unhandled event type")

		return nil
	}
}

func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, logger *slog.Logger, checkout *billing.CheckoutSession) error {
	userID := checkout.Metadata["lineUserId"]
	if userID == "" {
		logger.Error("checkout session has no lineUserId metadata, skipping")

		return nil
	}

	if checkout.SubscriptionID == "" {
		logger.Error("checkout session has no subscription, skipping", "user_id", userID)

		return nil
	}

	sub, err := r.billing.Subscription(ctx, checkout.SubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription: %w", err)
	}

	if sub.Metadata["planType"] == "" && checkout.Metadata["planType"] != "" {
		if sub.Metadata == nil {
			sub.Metadata = map[string]string{}
		}
		sub.Metadata["planType"] = checkout.Metadata["planType"]
	}

	if err := r.ledger.Activate(ctx, userID, sub); err != nil {
		return err
	}

	r.notify(ctx, logger, userID, PaidWelcomeMessage(r.characterName(ctx, userID)))

	return nil
}

func (r *Reconciler) handleSubscriptionUpdated(ctx context.Context, logger *slog.Logger, payload *billing.Subscription) error {
	sub, err := r.billing.Subscription(ctx, payload.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription: %w", err)
	}

	userID := sub.Metadata["lineUserId"]
	if userID == "" {
		logger.Error("subscription has no lineUserId metadata, skipping", "subscription_id", sub.ID)

		return nil
	}

	switch sub.Status {
	case "active":
		return r.ledger.Activate(ctx, userID, sub)
	case "canceled", "unpaid":
		// Notification is sent on the deletion event, not here.
		return r.ledger.Cancel(ctx, userID)
	default:
		logger.Info("no transition for subscription status", "status", sub.Status)

		return nil
	}
}

func (r *Reconciler) handleSubscriptionDeleted(ctx context.Context, logger *slog.Logger, payload *billing.Subscription) error {
	userID := payload.Metadata["lineUserId"]
	if userID == "" {
		logger.Error("deleted subscription has no lineUserId metadata, skipping", "subscription_id", payload.ID)

		return nil
	}

	if err := r.ledger.Cancel(ctx, userID); err != nil {
		return err
	}

	r.notify(ctx, logger, userID, r.messages.Cancellation)

	return nil
}

func (r *Reconciler) handlePaymentSucceeded(ctx context.Context, logger *slog.Logger, invoice *billing.Invoice) error {
	if invoice.SubscriptionID == "" {
		logger.Info("invoice without subscription, skipping")

		return nil
	}

	sub, err := r.billing.Subscription(ctx, invoice.SubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription: %w", err)
	}

	userID := sub.Metadata["lineUserId"]
	if userID == "" {
		logger.Error("subscription has no lineUserId metadata, skipping", "subscription_id", sub.ID)

		return nil
	}

	if err := r.ledger.Activate(ctx, userID, sub); err != nil {
		return err
	}

	r.notify(ctx, logger, userID, r.messages.PaymentThanks)

	return nil
}

// handlePaymentFailed notifies the user but leaves the ledger alone.
// The record stays until the provider emits an explicit cancellation.
func (r *Reconciler) handlePaymentFailed(ctx context.Context, logger *slog.Logger, invoice *billing.Invoice) error {
	if invoice.SubscriptionID == "" {
		logger.Info("invoice without subscription, skipping")

		return nil
	}

	sub, err := r.billing.Subscription(ctx, invoice.SubscriptionID)
	if err != nil {
		return fmt.Errorf("failed to fetch subscription: %w", err)
	}

	userID := sub.Metadata["lineUserId"]
	if userID == "" {
		logger.Error("subscription has no lineUserId metadata, skipping", "subscription_id", sub.ID)

		return nil
	}

	logger.Warn("payment failed", "user_id", userID, "subscription_id", sub.ID)
	r.notify(ctx, logger, userID, r.messages.PaymentProblem)

	return nil
}

func (r *Reconciler) characterName(ctx context.Context, userID string) string {
	profile, err := r.store.GetProfile(ctx, userID)
	if err != nil {
		return kvstore.NewDefaultProfile(r.ledger.now()).Name
	}

	return profile.Name
}

func (r *Reconciler) notify(ctx context.Context, logger *slog.Logger, userID, text string) {
	if err := r.messenger.Push(ctx, userID, text); err != nil {
		logger.Warn("failed to send notification", "user_id", userID, "error", err)
	}
}
