// Package line adapts the LINE Messaging API for the rest of the
// application. It verifies webhook signatures, extracts text message
// events, and sends replies and pushes.
package line

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/line/line-bot-sdk-go/v7/linebot"

	"github.com/tsukinami/koharu/internal/config"
)

// ErrInvalidSignature indicates the webhook request did not carry a
// valid channel signature. The whole batch is rejected.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Event is a text message received from a user.
type Event struct {
	UserID     string
	Text       string
	ReplyToken string
}

// Messenger sends messages back to LINE users. Reply consumes the
// event's one-shot reply token; Push works without one.
type Messenger interface {
	Reply(ctx context.Context, replyToken, text string) error
	Push(ctx context.Context, userID, text string) error
}

// Client wraps the LINE bot SDK.
type Client struct {
	bot *linebot.Client
}

// NewClient creates a LINE client from channel credentials.
func NewClient(cfg *config.Config) (*Client, error) {
	bot, err := linebot.New(cfg.Line.ChannelSecret, cfg.Line.ChannelToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create LINE client: %w", err)
	}

	return &Client{bot: bot}, nil
}

// ParseRequest verifies the request signature and returns the text
// message events it carries. Non-text events are skipped.
func (c *Client) ParseRequest(req *http.Request) ([]Event, error) {
	events, err := c.bot.ParseRequest(req)
	if err != nil {
		if errors.Is(err, linebot.ErrInvalidSignature) {
			return nil, ErrInvalidSignature
		}

		return nil, fmt.Errorf("failed to parse webhook request: %w", err)
	}

	parsed := make([]Event, 0, len(events))

	for _, event := range events {
		if event.Type != linebot.EventTypeMessage || event.Source == nil || event.Source.UserID == "" {
			continue
		}

		text, ok := event.Message.(*linebot.TextMessage)
		if !ok {
			continue
		}

		parsed = append(parsed, Event{
			UserID:     event.Source.UserID,
			Text:       text.Text,
			ReplyToken: event.ReplyToken,
		})
	}

	return parsed, nil
}

// Reply answers an event using its reply token.
func (c *Client) Reply(ctx context.Context, replyToken, text string) error {
	_, err := c.bot.ReplyMessage(replyToken, linebot.NewTextMessage(text)).WithContext(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}

	return nil
}

// Push sends a message to a user outside the reply window.
func (c *Client) Push(ctx context.Context, userID, text string) error {
	_, err := c.bot.PushMessage(userID, linebot.NewTextMessage(text)).WithContext(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to send push message: %w", err)
	}

	return nil
}
