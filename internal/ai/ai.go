// Package ai implements the response generation gateway and the content
// moderation gate. Two generation backends are available (OpenAI and
// Gemini), selected by configuration; moderation always goes through the
// OpenAI moderations endpoint.
package ai

import (
	"context"
	"errors"

	"github.com/tsukinami/koharu/internal/kvstore"
)

// Client generates persona-consistent replies and memory summaries.
type Client interface {
	// Reply produces the assistant's reply to userMsg given the persona
	// profile, the compressed memory summary, and the rolling history.
	Reply(ctx context.Context, profile *kvstore.Profile, memory string, history []kvstore.ConversationEntry, userMsg string) (string, error)

	// Summarize compresses the most recent history entries together with
	// the previous summary into a new memory summary.
	Summarize(ctx context.Context, history []kvstore.ConversationEntry, currentMemory string) (string, error)
}

// Moderator flags unsafe input. Callers apply the fail-open policy: a
// returned error means the check could not run, and the message is
// treated as safe.
type Moderator interface {
	IsSafe(ctx context.Context, text string) (bool, error)
}

// Shared gateway errors.
var (
	ErrEmptyUserMessage = errors.New("user message is empty")
	ErrEmptyResponse    = errors.New("model returned an empty response")
)

// summaryWindow is how many of the most recent history entries feed a
// summary regeneration.
const summaryWindow = 5
