package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/tsukinami/koharu/internal/config"
	"github.com/tsukinami/koharu/internal/kvstore"
)

// GeminiClient generates replies and memory summaries through the
// Gemini API. Moderation stays on OpenAI regardless of provider.
type GeminiClient struct {
	genaiClient *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
	maxRetries  int
	retryDelay  time.Duration
	logger      *slog.Logger
}

// NewGeminiClient creates a Gemini-backed client from configuration.
func NewGeminiClient(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*GeminiClient, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if cfg.Gemini.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.Gemini.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &GeminiClient{
		genaiClient: gi,
		model:       cfg.Gemini.Model,
		temperature: float32(cfg.AI.Temperature),
		timeout:     cfg.AI.Timeout,
		maxRetries:  cfg.AI.MaxRetries,
		retryDelay:  cfg.AI.RetryDelay,
		logger:      logger.With("component", "ai", "provider", "gemini"),
	}, nil
}

// Reply generates an in-character answer to the user's message.
func (c *GeminiClient) Reply(ctx context.Context, profile *kvstore.Profile, memory string, history []kvstore.ConversationEntry, userMessage string) (string, error) {
	if strings.TrimSpace(userMessage) == "" {
		return "", ErrEmptyUserMessage
	}

	instruction := systemPrompt(profile)
	if memory != "" {
		instruction += "\n\n" + memoryPrompt(memory)
	}

	contents := make([]*genai.Content, 0, len(history)*2+1)
	for _, entry := range history {
		contents = append(contents, genai.NewContentFromText(entry.User, genai.RoleUser))
		contents = append(contents, genai.NewContentFromText(entry.Assistant, genai.RoleModel))
	}
	contents = append(contents, genai.NewContentFromText(userMessage, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{
		Temperature:       &c.temperature,
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: instruction}}},
	}

	return c.generate(ctx, contents, cfg)
}

// Summarize condenses recent history into a short memory note.
func (c *GeminiClient) Summarize(ctx context.Context, history []kvstore.ConversationEntry, currentMemory string) (string, error) {
	temperature := float32(summaryTemperature)
	contents := []*genai.Content{
		genai.NewContentFromText(summaryPrompt(history, currentMemory), genai.RoleUser),
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: &temperature,
	}

	return c.generate(ctx, contents, cfg)
}

func (c *GeminiClient) generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.generateContentWithRetries(timeoutCtx, contents, cfg)
	if err != nil {
		return "", err
	}

	return c.extractText(resp)
}

func (c *GeminiClient) generateContentWithRetries(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var resp *genai.GenerateContentResponse
	var err error

	for i := 0; i <= c.maxRetries; i++ {
		resp, err = c.genaiClient.Models.GenerateContent(ctx, c.model, contents, cfg)
		if err == nil {
			return resp, nil
		}

		var apiErr *genai.APIError
		if errors.As(err, &apiErr) && (apiErr.Code == 500 || apiErr.Code == 503) {
			if i < c.maxRetries {
				c.logger.Debug("retrying generation request",
					"attempt", i+1,
					"max_attempts", c.maxRetries,
					"code", apiErr.Code)
				time.Sleep(c.retryDelay)

				continue
			}

			return nil, fmt.Errorf("gemini API call failed after %d retries: %w", c.maxRetries, err)
		}

		return nil, fmt.Errorf("gemini API call failed: %w", err)
	}

	return nil, err
}

func (c *GeminiClient) extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reason := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reason = resp.PromptFeedback.BlockReasonMessage
		}

		return "", fmt.Errorf("request blocked by safety filter: %s", reason)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", ErrEmptyResponse
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ErrEmptyResponse
	}

	return text, nil
}
