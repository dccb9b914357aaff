package subscription

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/tsukinami/koharu/internal/billing"
	"github.com/tsukinami/koharu/internal/config"
)

// Checkout creates hosted payment links for users.
type Checkout struct {
	ledger  *Ledger
	billing billing.Client
	priceID string
	baseURL string
	logger  *slog.Logger
}

// NewCheckout wires the checkout flow from configuration.
func NewCheckout(ledger *Ledger, billingClient billing.Client, cfg *config.Config, logger *slog.Logger) *Checkout {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Checkout{
		ledger:  ledger,
		billing: billingClient,
		priceID: cfg.Stripe.PriceID,
		baseURL: strings.TrimRight(cfg.Server.BaseURL, "/"),
		logger:  logger.With("component", "checkout"),
	}
}

// CreatePaymentLink returns a checkout URL for the user and plan. An
// existing Stripe customer on the user's record is reused; otherwise a
// new one is created carrying the LINE user id in its metadata.
func (c *Checkout) CreatePaymentLink(ctx context.Context, userID, planType string) (string, error) {
	if planType == "" {
		planType = DefaultPlanType
	}

	if _, ok := PlanByType(planType); !ok {
		return "", fmt.Errorf("unknown plan type %q", planType)
	}

	metadata := map[string]string{
		"lineUserId": userID,
		"planType":   planType,
	}

	customerID := ""

	status, err := c.ledger.CheckStatus(ctx, userID)
	if err != nil {
		c.logger.Warn("failed to check existing subscription", "user_id", userID, "error", err)
	} else {
		customerID = status.StripeCustomerID
	}

	if customerID == "" {
		customer, err := c.billing.CreateCustomer(ctx, metadata)
		if err != nil {
			return "", fmt.Errorf("failed to create customer: %w", err)
		}

		customerID = customer.ID
	}

	successURL := c.baseURL + "/payment/success?session_id={CHECKOUT_SESSION_ID}"
	cancelURL := c.baseURL + "/payment/cancel"

	url, err := c.billing.CreateCheckoutSession(ctx, customerID, c.priceID, successURL, cancelURL, metadata)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	c.logger.Info("checkout session created", "user_id", userID, "plan_type", planType)

	return url, nil
}
