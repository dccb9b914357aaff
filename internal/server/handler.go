// Package server exposes the HTTP surface: the LINE webhook, the
// Stripe webhook, the payment pages, and the health probe.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tsukinami/koharu/internal/billing"
	"github.com/tsukinami/koharu/internal/kvstore"
	"github.com/tsukinami/koharu/internal/line"
)

// maxWebhookBody caps webhook payload reads.
const maxWebhookBody = 1 << 20

// EventParser verifies and decodes LINE webhook requests.
type EventParser interface {
	ParseRequest(req *http.Request) ([]line.Event, error)
}

// Conversations handles parsed message events.
type Conversations interface {
	HandleEvents(ctx context.Context, events []line.Event)
}

// WebhookParser verifies and decodes billing webhook payloads.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*billing.Event, error)
}

// Reconciler applies billing events to the subscription ledger.
type Reconciler interface {
	HandleEvent(ctx context.Context, event *billing.Event) error
}

// CheckoutService creates hosted payment links.
type CheckoutService interface {
	CreatePaymentLink(ctx context.Context, userID, planType string) (string, error)
}

// Handler handles all HTTP routes.
type Handler struct {
	parser        EventParser
	conversations Conversations
	webhooks      WebhookParser
	reconciler    Reconciler
	checkout      CheckoutService
	store         *kvstore.Store
	logger        *slog.Logger
}

// NewHandler creates the HTTP handler.
func NewHandler(parser EventParser, conversations Conversations, webhooks WebhookParser, reconciler Reconciler, checkout CheckoutService, store *kvstore.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Handler{
		parser:        parser,
		conversations: conversations,
		webhooks:      webhooks,
		reconciler:    reconciler,
		checkout:      checkout,
		store:         store,
		logger:        logger.With("component", "http"),
	}
}

// RegisterRoutes registers all routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/webhook", h.LineWebhook)
	e.POST("/stripe/webhook", h.StripeWebhook)
	e.GET("/payment/checkout", h.PaymentCheckout)
	e.GET("/payment/success", h.PaymentSuccess)
	e.GET("/payment/cancel", h.PaymentCancel)
	e.GET("/healthz", h.Healthz)
}

// LineWebhook handles inbound LINE message batches.
// POST /webhook
func (h *Handler) LineWebhook(c echo.Context) error {
	events, err := h.parser.ParseRequest(c.Request())
	if err != nil {
		if errors.Is(err, line.ErrInvalidSignature) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		}

		h.logger.Error("failed to parse LINE webhook", "error", err)

		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	h.conversations.HandleEvents(c.Request().Context(), events)

	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// StripeWebhook handles billing provider events. A non-2xx response
// makes the provider redeliver the event.
// POST /stripe/webhook
func (h *Handler) StripeWebhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unreadable payload"})
	}

	event, err := h.webhooks.ParseWebhook(payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid signature"})
		}

		h.logger.Error("failed to parse billing webhook", "error", err)

		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid payload"})
	}

	if err := h.reconciler.HandleEvent(c.Request().Context(), event); err != nil {
		h.logger.Error("failed to reconcile billing event",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err)

		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "event not processed"})
	}

	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}

// PaymentCheckout creates a checkout session and redirects to it.
// GET /payment/checkout?userId=...&plan=...
func (h *Handler) PaymentCheckout(c echo.Context) error {
	userID := c.QueryParam("userId")
	if userID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "userId is required"})
	}

	url, err := h.checkout.CreatePaymentLink(c.Request().Context(), userID, c.QueryParam("plan"))
	if err != nil {
		h.logger.Error("failed to create payment link", "user_id", userID, "error", err)

		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to create checkout session"})
	}

	return c.Redirect(http.StatusSeeOther, url)
}

// PaymentSuccess renders the post-checkout landing page.
// GET /payment/success
func (h *Handler) PaymentSuccess(c echo.Context) error {
	return c.HTML(http.StatusOK, paymentSuccessPage)
}

// PaymentCancel renders the aborted-checkout landing page.
// GET /payment/cancel
func (h *Handler) PaymentCancel(c echo.Context) error {
	return c.HTML(http.StatusOK, paymentCancelPage)
}

// Healthz reports whether the store is reachable.
// GET /healthz
func (h *Handler) Healthz(c echo.Context) error {
	if err := h.store.Ping(c.Request().Context()); err != nil {
		h.logger.Error("health check failed", "error", err)

		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

const paymentSuccessPage = `<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>決済完了</title></head>
<body>
<h1>🎉 決済が完了しました！</h1>
<p>LINEに戻ってお話ししましょう💕</p>
</body>
</html>`

const paymentCancelPage = `<!DOCTYPE html>
<html lang="ja">
<head><meta charset="utf-8"><title>決済キャンセル</title></head>
<body>
<h1>決済がキャンセルされました</h1>
<p>また気が向いたらいつでもどうぞ！</p>
</body>
</html>`
