// Package billing abstracts the payment provider. The rest of the
// application works with these provider-neutral types; the Stripe
// adapter translates to and from the provider's own objects.
package billing

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidSignature indicates a webhook payload that failed
// signature verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Event types the reconciler acts on.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventPaymentFailed       = "invoice.payment_failed"
)

// Event is a decoded provider webhook event. Exactly one of the
// payload fields is set, depending on Type.
type Event struct {
	ID           string
	Type         string
	Checkout     *CheckoutSession
	Subscription *Subscription
	Invoice      *Invoice
}

// CheckoutSession is a completed checkout.
type CheckoutSession struct {
	ID             string
	SubscriptionID string
	Metadata       map[string]string
}

// Subscription is the provider's view of a subscription.
type Subscription struct {
	ID               string
	CustomerID       string
	Status           string
	CurrentPeriodEnd time.Time
	Metadata         map[string]string
}

// Customer is the provider's view of a customer.
type Customer struct {
	ID       string
	Metadata map[string]string
}

// Invoice references the subscription a payment belongs to.
type Invoice struct {
	ID             string
	SubscriptionID string
	CustomerID     string
}

// Client is the payment provider gateway.
type Client interface {
	// ParseWebhook verifies the payload signature and decodes the event.
	ParseWebhook(payload []byte, signature string) (*Event, error)

	// Subscription fetches the current state of a subscription.
	Subscription(ctx context.Context, id string) (*Subscription, error)

	// CreateCustomer registers a new customer with the given metadata.
	CreateCustomer(ctx context.Context, metadata map[string]string) (*Customer, error)

	// CreateCheckoutSession starts a hosted subscription checkout and
	// returns its URL.
	CreateCheckoutSession(ctx context.Context, customerID, priceID, successURL, cancelURL string, metadata map[string]string) (string, error)

	// CancelSubscription cancels a subscription with the provider.
	CancelSubscription(ctx context.Context, id string) error
}
