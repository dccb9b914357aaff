package ai

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/tsukinami/koharu/internal/config"
	"github.com/tsukinami/koharu/internal/kvstore"
)

const (
	replyMaxTokens     = 200
	summaryMaxTokens   = 100
	summaryTemperature = 0.3
	repetitionPenalty  = 0.1
)

// OpenAIClient generates replies and memory summaries through the
// OpenAI chat completion API. It also implements Moderator.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
	maxRetries  uint
	retryDelay  time.Duration
	logger      *slog.Logger
}

// NewOpenAIClient creates an OpenAI-backed client from configuration.
func NewOpenAIClient(cfg *config.Config, logger *slog.Logger) *OpenAIClient {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	apiConfig := openai.DefaultConfig(cfg.OpenAI.Token)
	if cfg.OpenAI.BaseURL != "" {
		apiConfig.BaseURL = cfg.OpenAI.BaseURL
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(apiConfig),
		model:       cfg.OpenAI.Model,
		temperature: float32(cfg.AI.Temperature),
		timeout:     cfg.AI.Timeout,
		maxRetries:  uint(cfg.AI.MaxRetries),
		retryDelay:  cfg.AI.RetryDelay,
		logger:      logger.With("component", "ai", "provider", "openai"),
	}
}

// Reply generates an in-character answer to the user's message.
func (c *OpenAIClient) Reply(ctx context.Context, profile *kvstore.Profile, memory string, history []kvstore.ConversationEntry, userMessage string) (string, error) {
	if strings.TrimSpace(userMessage) == "" {
		return "", ErrEmptyUserMessage
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(history)*2+3)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt(profile),
	})

	if memory != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: memoryPrompt(memory),
		})
	}

	for _, entry := range history {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: entry.User,
		})
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleAssistant,
			Content: entry.Assistant,
		})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userMessage,
	})

	return c.createCompletion(ctx, openai.ChatCompletionRequest{
		Model:            c.model,
		Messages:         messages,
		Temperature:      c.temperature,
		MaxTokens:        replyMaxTokens,
		PresencePenalty:  repetitionPenalty,
		FrequencyPenalty: repetitionPenalty,
	})
}

// Summarize condenses recent history into a short memory note.
func (c *OpenAIClient) Summarize(ctx context.Context, history []kvstore.ConversationEntry, currentMemory string) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleUser,
			Content: summaryPrompt(history, currentMemory),
		},
	}

	return c.createCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: summaryTemperature,
		MaxTokens:   summaryMaxTokens,
	})
}

// createCompletion handles the common logic for making API requests with retries.
func (c *OpenAIClient) createCompletion(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var response string

	err := retry.Do(
		func() error {
			resp, err := c.client.CreateChatCompletion(timeoutCtx, req)
			if err != nil {
				return fmt.Errorf("chat completion API call failed: %w", err)
			}

			if len(resp.Choices) == 0 {
				return ErrEmptyResponse
			}

			result := strings.TrimSpace(resp.Choices[0].Message.Content)
			if result == "" {
				return ErrEmptyResponse
			}

			response = result

			return nil
		},
		retry.Context(timeoutCtx),
		retry.Attempts(c.maxRetries),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Debug("retrying completion request",
				"attempt", n+1,
				"max_attempts", c.maxRetries,
				"error", err)
		}),
	)
	if err != nil {
		return "", fmt.Errorf("failed to complete API request: %w", err)
	}

	return response, nil
}

// IsSafe checks the text against the OpenAI moderation endpoint.
// Callers decide what a moderation error means for the conversation.
func (c *OpenAIClient) IsSafe(ctx context.Context, text string) (bool, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Moderations(timeoutCtx, openai.ModerationRequest{
		Input: text,
	})
	if err != nil {
		return false, fmt.Errorf("moderation API call failed: %w", err)
	}

	for _, result := range resp.Results {
		if result.Flagged {
			return false, nil
		}
	}

	return true, nil
}
