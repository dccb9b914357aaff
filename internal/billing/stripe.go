package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/tsukinami/koharu/internal/config"
)

// StripeClient implements Client against the Stripe API.
type StripeClient struct {
	api           *client.API
	webhookSecret string
}

// NewStripeClient creates a Stripe-backed billing client.
func NewStripeClient(cfg *config.Config) *StripeClient {
	api := &client.API{}
	api.Init(cfg.Stripe.SecretKey, nil)

	return &StripeClient{
		api:           api,
		webhookSecret: cfg.Stripe.WebhookSecret,
	}
}

// ParseWebhook verifies the payload signature and decodes the event.
// Events the reconciler does not handle come back with an empty
// payload; callers match on Type.
func (c *StripeClient) ParseWebhook(payload []byte, signature string) (*Event, error) {
	stripeEvent, err := webhook.ConstructEvent(payload, signature, c.webhookSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	event := &Event{
		ID:   stripeEvent.ID,
		Type: string(stripeEvent.Type),
	}

	switch event.Type {
	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(stripeEvent.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("failed to decode checkout session: %w", err)
		}

		checkout := &CheckoutSession{
			ID:       session.ID,
			Metadata: session.Metadata,
		}
		if session.Subscription != nil {
			checkout.SubscriptionID = session.Subscription.ID
		}

		event.Checkout = checkout

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(stripeEvent.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("failed to decode subscription: %w", err)
		}

		event.Subscription = subscriptionFromStripe(&sub)

	case EventPaymentSucceeded, EventPaymentFailed:
		var invoice stripe.Invoice
		if err := json.Unmarshal(stripeEvent.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("failed to decode invoice: %w", err)
		}

		decoded := &Invoice{ID: invoice.ID}
		if invoice.Subscription != nil {
			decoded.SubscriptionID = invoice.Subscription.ID
		}
		if invoice.Customer != nil {
			decoded.CustomerID = invoice.Customer.ID
		}

		event.Invoice = decoded
	}

	return event, nil
}

// Subscription fetches the current state of a subscription.
func (c *StripeClient) Subscription(ctx context.Context, id string) (*Subscription, error) {
	sub, err := c.api.Subscriptions.Get(id, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscription %s: %w", id, err)
	}

	return subscriptionFromStripe(sub), nil
}

// CreateCustomer registers a new customer with the given metadata.
func (c *StripeClient) CreateCustomer(ctx context.Context, metadata map[string]string) (*Customer, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
	}
	for key, value := range metadata {
		params.AddMetadata(key, value)
	}

	customer, err := c.api.Customers.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	return &Customer{ID: customer.ID, Metadata: customer.Metadata}, nil
}

// CreateCheckoutSession starts a hosted subscription checkout.
func (c *StripeClient) CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string, metadata map[string]string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Params:     stripe.Params{Context: ctx},
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(customerID),
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}
	for key, value := range metadata {
		params.AddMetadata(key, value)
	}

	session, err := c.api.CheckoutSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}

	return session.URL, nil
}

// CancelSubscription cancels a subscription with Stripe.
func (c *StripeClient) CancelSubscription(ctx context.Context, id string) error {
	_, err := c.api.Subscriptions.Cancel(id, &stripe.SubscriptionCancelParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return fmt.Errorf("failed to cancel subscription %s: %w", id, err)
	}

	return nil
}

func subscriptionFromStripe(sub *stripe.Subscription) *Subscription {
	converted := &Subscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Metadata: sub.Metadata,
	}
	if sub.Customer != nil {
		converted.CustomerID = sub.Customer.ID
	}
	if sub.CurrentPeriodEnd > 0 {
		converted.CurrentPeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}

	return converted
}
