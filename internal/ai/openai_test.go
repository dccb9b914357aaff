package ai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tsukinami/koharu/internal/ai"
	"github.com/tsukinami/koharu/internal/config"
	"github.com/tsukinami/koharu/internal/kvstore"
)

func testClientConfig(baseURL string) *config.Config {
	return &config.Config{
		AI: config.AIConfig{
			Timeout:     5 * time.Second,
			MaxRetries:  3,
			RetryDelay:  time.Millisecond,
			Temperature: 0.8,
		},
		OpenAI: config.OpenAIConfig{
			Token:   "sk-test",
			BaseURL: baseURL,
			Model:   "gpt-4o-mini",
		},
	}
}

func completionResponse(content string) string {
	return `{"id":"cmpl-1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":` + jsonString(content) + `},"finish_reason":"stop"}]}`
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)

	return string(b)
}

func TestReplyBuildsConversation(t *testing.T) {
	t.Parallel()

	var captured struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(completionResponse("そうなんだ〜！"))); err != nil {
			t.Errorf("failed to write response: %v", err)
		}
	}))
	defer ts.Close()

	client := ai.NewOpenAIClient(testClientConfig(ts.URL), nil)
	profile := kvstore.NewDefaultProfile(time.Now())
	history := []kvstore.ConversationEntry{
		{User: "こんにちは", Assistant: "こんにちは！"},
	}

	got, err := client.Reply(context.Background(), profile, "ユーザーは読書好き", history, "今日は映画を見たよ")
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if got != "そうなんだ〜！" {
		t.Errorf("reply = %q", got)
	}

	if captured.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", captured.Model)
	}
	if captured.MaxTokens != 200 {
		t.Errorf("max_tokens = %d, want 200", captured.MaxTokens)
	}

	// persona system prompt, memory context, one history exchange, new message
	if len(captured.Messages) != 5 {
		t.Fatalf("messages count = %d, want 5", len(captured.Messages))
	}
	if captured.Messages[0].Role != "system" {
		t.Errorf("first message role = %q, want system", captured.Messages[0].Role)
	}
	if captured.Messages[1].Role != "system" || captured.Messages[1].Content != "過去の会話の記憶: ユーザーは読書好き" {
		t.Errorf("memory message = %+v", captured.Messages[1])
	}
	if captured.Messages[4].Role != "user" || captured.Messages[4].Content != "今日は映画を見たよ" {
		t.Errorf("last message = %+v", captured.Messages[4])
	}
}

func TestReplyRejectsEmptyMessage(t *testing.T) {
	t.Parallel()

	client := ai.NewOpenAIClient(testClientConfig("http://127.0.0.1:0"), nil)

	if _, err := client.Reply(context.Background(), kvstore.NewDefaultProfile(time.Now()), "", nil, "   "); !errors.Is(err, ai.ErrEmptyUserMessage) {
		t.Errorf("Reply() error = %v, want ErrEmptyUserMessage", err)
	}
}

func TestReplyRetriesOnServerError(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionResponse("復活したよ")))
	}))
	defer ts.Close()

	client := ai.NewOpenAIClient(testClientConfig(ts.URL), nil)

	got, err := client.Reply(context.Background(), kvstore.NewDefaultProfile(time.Now()), "", nil, "こんにちは")
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if got != "復活したよ" {
		t.Errorf("reply = %q", got)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", calls.Load())
	}
}

func TestSummarizeUsesLowTemperature(t *testing.T) {
	t.Parallel()

	var captured struct {
		MaxTokens   int     `json:"max_tokens"`
		Temperature float32 `json:"temperature"`
	}

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionResponse("ユーザーは映画好き")))
	}))
	defer ts.Close()

	client := ai.NewOpenAIClient(testClientConfig(ts.URL), nil)
	history := []kvstore.ConversationEntry{
		{User: "映画見たよ", Assistant: "いいね！"},
	}

	got, err := client.Summarize(context.Background(), history, "")
	if err != nil {
		t.Fatalf("Summarize() error = %v", err)
	}
	if got != "ユーザーは映画好き" {
		t.Errorf("summary = %q", got)
	}
	if captured.MaxTokens != 100 {
		t.Errorf("max_tokens = %d, want 100", captured.MaxTokens)
	}
	if captured.Temperature != 0.3 {
		t.Errorf("temperature = %v, want 0.3", captured.Temperature)
	}
}

func TestIsSafe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		flagged bool
		want    bool
	}{
		{name: "clean text", flagged: false, want: true},
		{name: "flagged text", flagged: true, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				resp := `{"id":"modr-1","model":"omni-moderation-latest","results":[{"flagged":` + boolString(tt.flagged) + `,"categories":{},"category_scores":{}}]}`
				_, _ = w.Write([]byte(resp))
			}))
			defer ts.Close()

			client := ai.NewOpenAIClient(testClientConfig(ts.URL), nil)

			got, err := client.IsSafe(context.Background(), "テスト")
			if err != nil {
				t.Fatalf("IsSafe() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsSafe() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsSafeReturnsErrorWhenUnreachable(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client := ai.NewOpenAIClient(testClientConfig(ts.URL), nil)

	if _, err := client.IsSafe(context.Background(), "テスト"); err == nil {
		t.Fatal("IsSafe() succeeded against failing endpoint; callers decide fail-open")
	}
}

func boolString(b bool) string {
	if b {
		return "true"
	}

	return "false"
}
