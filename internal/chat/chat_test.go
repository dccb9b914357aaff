package chat_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/tsukinami/koharu/internal/chat"
	"github.com/tsukinami/koharu/internal/config"
	"github.com/tsukinami/koharu/internal/kvstore"
	"github.com/tsukinami/koharu/internal/line"
)

type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	value, ok := m.data[key]
	if !ok {
		return nil, kvstore.ErrNotFound
	}

	return value, nil
}

func (m *memKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value

	return nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)

	return nil
}

// fakeAI returns canned replies and summaries and counts calls.
type fakeAI struct {
	mu            sync.Mutex
	reply         string
	replyErr      error
	summary       string
	summarizeErr  error
	replyCalls    int
	summarizeCall int
}

func (f *fakeAI) Reply(_ context.Context, _ *kvstore.Profile, _ string, _ []kvstore.ConversationEntry, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replyCalls++

	return f.reply, f.replyErr
}

func (f *fakeAI) Summarize(_ context.Context, _ []kvstore.ConversationEntry, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summarizeCall++

	return f.summary, f.summarizeErr
}

// fakeModerator flags configured texts and can throw or panic.
type fakeModerator struct {
	unsafe    map[string]bool
	err       error
	panicText string
}

func (f *fakeModerator) IsSafe(_ context.Context, text string) (bool, error) {
	if f.panicText != "" && text == f.panicText {
		panic("moderator exploded")
	}
	if f.err != nil {
		return false, f.err
	}

	return !f.unsafe[text], nil
}

// fakeMessenger records sent messages.
type fakeMessenger struct {
	mu      sync.Mutex
	replies []string
	pushes  []string
}

func (f *fakeMessenger) Reply(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)

	return nil
}

func (f *fakeMessenger) Push(_ context.Context, _ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushes = append(f.pushes, text)

	return nil
}

func (f *fakeMessenger) lastReply(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.replies) == 0 {
		t.Fatal("no reply was sent")
	}

	return f.replies[len(f.replies)-1]
}

// syncRunner executes background work inline so tests can assert on it.
type syncRunner struct{}

func (syncRunner) Go(fn func()) { fn() }

func testConfig() *config.Config {
	return &config.Config{
		Chat: config.ChatConfig{HistoryLimit: 10, SummaryInterval: 5},
		Messages: config.MessagesConfig{
			Refusal:   "ごめんなさい、その話題についてはお話しできません...😅",
			Fallback:  "ごめんなさい、今ちょっと調子が悪いみたい...😅",
			SaveError: "設定の保存でエラーが発生しました...😅",
			Typing:    "...",
		},
	}
}

type fixture struct {
	kv        *memKV
	store     *kvstore.Store
	ai        *fakeAI
	moderator *fakeModerator
	messenger *fakeMessenger
	orch      *chat.Orchestrator
}

func newFixture() *fixture {
	kv := newMemKV()
	store := kvstore.NewStore(kv, nil)
	cfg := testConfig()
	aiClient := &fakeAI{reply: "そうなんだ〜！", summary: "要約"}
	moderator := &fakeModerator{unsafe: map[string]bool{}}
	messenger := &fakeMessenger{}
	memory := chat.NewMemoryManager(store, aiClient, cfg, nil)
	orch := chat.NewOrchestrator(store, aiClient, moderator, messenger, memory, syncRunner{}, cfg, nil)

	return &fixture{
		kv:        kv,
		store:     store,
		ai:        aiClient,
		moderator: moderator,
		messenger: messenger,
		orch:      orch,
	}
}

func event(text string) line.Event {
	return line.Event{UserID: "U1", Text: text, ReplyToken: "token"}
}

func TestFlaggedMessageGetsRefusal(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.moderator.unsafe["だめな話"] = true

	f.orch.HandleEvents(context.Background(), []line.Event{event("だめな話")})

	if got := f.messenger.lastReply(t); !strings.Contains(got, "お話しできません") {
		t.Errorf("reply = %q, want refusal", got)
	}
	if f.ai.replyCalls != 0 {
		t.Errorf("generation called %d times on flagged message", f.ai.replyCalls)
	}

	history, _ := f.store.GetHistory(context.Background(), "U1")
	if len(history) != 0 {
		t.Errorf("history written for flagged message: %d entries", len(history))
	}
}

func TestModerationFailureFailsOpen(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.moderator.err = errors.New("moderation down")

	f.orch.HandleEvents(context.Background(), []line.Event{event("こんにちは、今日どう？")})

	if got := f.messenger.lastReply(t); got != "そうなんだ〜！" {
		t.Errorf("reply = %q, want generated reply", got)
	}
	if f.ai.replyCalls != 1 {
		t.Errorf("generation calls = %d, want 1", f.ai.replyCalls)
	}
}

func TestShowProfileCommand(t *testing.T) {
	t.Parallel()

	f := newFixture()

	f.orch.HandleEvents(context.Background(), []line.Event{event("プロフィール")})

	got := f.messenger.lastReply(t)
	if !strings.Contains(got, "私のプロフィール") || !strings.Contains(got, "あい") {
		t.Errorf("reply = %q, want formatted profile with default name", got)
	}

	// Show is read-only; nothing may be written.
	if len(f.kv.data) != 0 {
		t.Errorf("store mutated by show command: %v", f.kv.data)
	}
}

func TestFieldChangePersistsAndConfirms(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	f.orch.HandleEvents(ctx, []line.Event{event("名前を美咲に変更して")})

	got := f.messenger.lastReply(t)
	if !strings.Contains(got, "名前") || !strings.Contains(got, "美咲") {
		t.Errorf("reply = %q, want change confirmation", got)
	}

	profile, err := f.store.GetProfile(ctx, "U1")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}
	if profile.Name != "美咲" {
		t.Errorf("stored name = %q, want 美咲", profile.Name)
	}
	if profile.Age != 20 || profile.Relationship != "友達" {
		t.Errorf("other fields changed: %+v", profile)
	}
}

func TestInvalidSettingCommandGetsHelp(t *testing.T) {
	t.Parallel()

	f := newFixture()

	f.orch.HandleEvents(context.Background(), []line.Event{event("設定ってどうやるの？")})

	if got := f.messenger.lastReply(t); !strings.Contains(got, "キャラクター設定項目") {
		t.Errorf("reply = %q, want settings help", got)
	}

	if len(f.kv.data) != 0 {
		t.Errorf("store mutated by unparsed setting command: %v", f.kv.data)
	}
}

func TestAgeOutOfRangeGetsHelpAndNoMutation(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	f.orch.HandleEvents(ctx, []line.Event{event("年齢を17歳に変更して")})

	if got := f.messenger.lastReply(t); !strings.Contains(got, "キャラクター設定項目") {
		t.Errorf("reply = %q, want settings help", got)
	}

	if _, err := f.store.GetProfile(ctx, "U1"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Errorf("profile stored despite invalid change: %v", err)
	}
}

func TestFirstContactGetsWelcome(t *testing.T) {
	t.Parallel()

	f := newFixture()

	f.orch.HandleEvents(context.Background(), []line.Event{event("はじめまして！")})

	if got := f.messenger.lastReply(t); !strings.Contains(got, "はじめまして！私はあい") {
		t.Errorf("reply = %q, want welcome message", got)
	}
	if f.ai.replyCalls != 0 {
		t.Errorf("generation called for first-contact greeting")
	}
}

func TestSpecialGreetingReply(t *testing.T) {
	t.Parallel()

	f := newFixture()

	f.orch.HandleEvents(context.Background(), []line.Event{event("ただいま")})

	if got := f.messenger.lastReply(t); !strings.Contains(got, "おかえりなさい") {
		t.Errorf("reply = %q, want special greeting", got)
	}
	if f.ai.replyCalls != 0 {
		t.Errorf("generation called for special greeting")
	}
}

func TestChatBranchRepliesAndRecords(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()

	f.orch.HandleEvents(ctx, []line.Event{event("今日は映画を見たよ")})

	if got := f.messenger.lastReply(t); got != "そうなんだ〜！" {
		t.Errorf("reply = %q, want generated reply", got)
	}

	f.messenger.mu.Lock()
	pushes := append([]string(nil), f.messenger.pushes...)
	f.messenger.mu.Unlock()
	if len(pushes) != 1 || pushes[0] != "..." {
		t.Errorf("pushes = %v, want single typing indicator", pushes)
	}

	history, err := f.store.GetHistory(ctx, "U1")
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("history length = %d, want 1", len(history))
	}
	if history[0].User != "今日は映画を見たよ" || history[0].Assistant != "そうなんだ〜！" {
		t.Errorf("history entry = %+v", history[0])
	}
}

func TestGenerationFailureGetsFallback(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.ai.replyErr = errors.New("upstream down")

	f.orch.HandleEvents(context.Background(), []line.Event{event("今日は映画を見たよ")})

	if got := f.messenger.lastReply(t); !strings.Contains(got, "調子が悪いみたい") {
		t.Errorf("reply = %q, want fallback", got)
	}

	history, _ := f.store.GetHistory(context.Background(), "U1")
	if len(history) != 0 {
		t.Errorf("history written after failed generation: %d entries", len(history))
	}
}

func TestPanicInOneEventDoesNotAbortSiblings(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.moderator.panicText = "爆発して"

	f.orch.HandleEvents(context.Background(), []line.Event{
		{UserID: "U1", Text: "爆発して", ReplyToken: "t1"},
		{UserID: "U2", Text: "こんにちは、今日どう？", ReplyToken: "t2"},
	})

	f.messenger.mu.Lock()
	replies := append([]string(nil), f.messenger.replies...)
	f.messenger.mu.Unlock()

	if len(replies) != 2 {
		t.Fatalf("replies = %v, want fallback plus normal reply", replies)
	}

	var sawFallback, sawNormal bool
	for _, r := range replies {
		if strings.Contains(r, "調子が悪いみたい") {
			sawFallback = true
		}
		if r == "そうなんだ〜！" {
			sawNormal = true
		}
	}

	if !sawFallback || !sawNormal {
		t.Errorf("replies = %v, want one fallback and one generated reply", replies)
	}
}

func TestMemoryManagerTrimsHistory(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	store := kvstore.NewStore(kv, nil)
	aiClient := &fakeAI{summary: "要約"}
	memory := chat.NewMemoryManager(store, aiClient, testConfig(), nil)
	ctx := context.Background()

	for i := 1; i <= 13; i++ {
		if err := memory.Record(ctx, "U1", fmt.Sprintf("メッセージ%d", i), fmt.Sprintf("返事%d", i)); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	history, err := store.GetHistory(ctx, "U1")
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 10 {
		t.Fatalf("history length = %d, want 10", len(history))
	}

	// The three oldest exchanges are gone; entries 4..13 survive in order.
	for i, entry := range history {
		want := fmt.Sprintf("メッセージ%d", i+4)
		if entry.User != want {
			t.Errorf("history[%d].User = %q, want %q", i, entry.User, want)
		}
	}
}

func TestMemoryManagerSummaryCadence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		appends        int
		wantSummarized int
	}{
		{name: "below interval", appends: 4, wantSummarized: 0},
		{name: "at interval", appends: 5, wantSummarized: 1},
		{name: "between intervals", appends: 7, wantSummarized: 1},
		{name: "at second interval", appends: 10, wantSummarized: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			kv := newMemKV()
			store := kvstore.NewStore(kv, nil)
			aiClient := &fakeAI{summary: "要約"}
			memory := chat.NewMemoryManager(store, aiClient, testConfig(), nil)
			ctx := context.Background()

			for i := 0; i < tt.appends; i++ {
				if err := memory.Record(ctx, "U1", "メッセージ", "返事"); err != nil {
					t.Fatalf("Record() error = %v", err)
				}
			}

			if aiClient.summarizeCall != tt.wantSummarized {
				t.Errorf("summarize calls = %d, want %d", aiClient.summarizeCall, tt.wantSummarized)
			}

			stored, err := store.GetMemory(ctx, "U1")
			if err != nil {
				t.Fatalf("GetMemory() error = %v", err)
			}

			wantStored := ""
			if tt.wantSummarized > 0 {
				wantStored = "要約"
			}
			if stored != wantStored {
				t.Errorf("stored memory = %q, want %q", stored, wantStored)
			}
		})
	}
}

func TestMemoryManagerSummarizeFailureKeepsHistory(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	store := kvstore.NewStore(kv, nil)
	aiClient := &fakeAI{summarizeErr: errors.New("upstream down")}
	memory := chat.NewMemoryManager(store, aiClient, testConfig(), nil)
	ctx := context.Background()

	var lastErr error
	for i := 0; i < 5; i++ {
		lastErr = memory.Record(ctx, "U1", "メッセージ", "返事")
	}

	if lastErr == nil {
		t.Fatal("Record() at summary interval succeeded despite summarizer failure")
	}

	history, err := store.GetHistory(ctx, "U1")
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(history) != 5 {
		t.Errorf("history length = %d, want 5 (append happens before summary)", len(history))
	}
}
