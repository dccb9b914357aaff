// Package subscription tracks who is paying: the ledger of stored
// subscription records, checkout link creation, and the webhook
// reconciler that keeps the ledger in sync with the billing provider.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tsukinami/koharu/internal/billing"
	"github.com/tsukinami/koharu/internal/kvstore"
)

// Status of a user's subscription as seen by the ledger.
type Status string

const (
	StatusNone    Status = "none"
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// CheckResult is the outcome of a status check.
type CheckResult struct {
	Status               Status
	PlanType             string
	ExpiresAt            time.Time
	StripeCustomerID     string
	StripeSubscriptionID string
}

// Active reports whether the subscription is currently usable.
func (r *CheckResult) Active() bool {
	return r.Status == StatusActive
}

// Ledger owns the stored subscription records. It never talks to the
// billing provider; reconciliation drives it from webhook events.
type Ledger struct {
	store  *kvstore.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger creates a ledger over the given store.
func NewLedger(store *kvstore.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Ledger{
		store:  store,
		logger: logger.With("component", "ledger"),
		now:    time.Now,
	}
}

// CheckStatus reads the user's record and detects expiry. An expired
// record is deleted on read; there is no background sweep.
func (l *Ledger) CheckStatus(ctx context.Context, userID string) (*CheckResult, error) {
	record, err := l.store.GetSubscription(ctx, userID)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return &CheckResult{Status: StatusNone}, nil
		}

		return nil, fmt.Errorf("failed to read subscription record: %w", err)
	}

	if !record.ExpiresAt.After(l.now()) {
		if err := l.store.DeleteSubscription(ctx, userID); err != nil {
			return nil, fmt.Errorf("failed to delete expired record: %w", err)
		}

		l.logger.Info("subscription expired", "user_id", userID, "expired_at", record.ExpiresAt)

		return &CheckResult{
			Status:    StatusExpired,
			PlanType:  record.PlanType,
			ExpiresAt: record.ExpiresAt,
		}, nil
	}

	return &CheckResult{
		Status:               StatusActive,
		PlanType:             record.PlanType,
		ExpiresAt:            record.ExpiresAt,
		StripeCustomerID:     record.StripeCustomerID,
		StripeSubscriptionID: record.StripeSubscriptionID,
	}, nil
}

// Activate upserts the user's record from the provider's current
// subscription object. Re-activating extends ExpiresAt; there is
// always at most one record per user.
func (l *Ledger) Activate(ctx context.Context, userID string, sub *billing.Subscription) error {
	planType := sub.Metadata["planType"]
	if planType == "" {
		planType = DefaultPlanType
	}

	record := &kvstore.SubscriptionRecord{
		PlanType:             planType,
		StripeCustomerID:     sub.CustomerID,
		StripeSubscriptionID: sub.ID,
		CreatedAt:            l.now().UTC(),
		ExpiresAt:            sub.CurrentPeriodEnd,
	}

	if err := l.store.PutSubscription(ctx, userID, record); err != nil {
		return fmt.Errorf("failed to store subscription record: %w", err)
	}

	l.logger.Info("subscription activated",
		"user_id", userID,
		"plan_type", planType,
		"expires_at", record.ExpiresAt)

	return nil
}

// Cancel deletes the user's record if one exists. It does not contact
// the billing provider.
func (l *Ledger) Cancel(ctx context.Context, userID string) error {
	err := l.store.DeleteSubscription(ctx, userID)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return fmt.Errorf("failed to delete subscription record: %w", err)
	}

	l.logger.Info("subscription record removed", "user_id", userID)

	return nil
}
