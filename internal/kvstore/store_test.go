package kvstore_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tsukinami/koharu/internal/kvstore"
)

// memKV is an in-memory KV backend for tests.
type memKV struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string][]byte)}
}

func (m *memKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}

	value, ok := m.data[key]
	if !ok {
		return nil, kvstore.ErrNotFound
	}

	return value, nil
}

func (m *memKV) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}

	m.data[key] = value

	return nil
}

func (m *memKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}

	delete(m.data, key)

	return nil
}

func TestProfileRoundTrip(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	store := kvstore.NewStore(kv, nil)
	ctx := context.Background()

	if _, err := store.GetProfile(ctx, "U1"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("GetProfile on empty store = %v, want ErrNotFound", err)
	}

	profile := kvstore.NewDefaultProfile(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	profile.Name = "美咲"

	if err := store.PutProfile(ctx, "U1", profile); err != nil {
		t.Fatalf("PutProfile() error = %v", err)
	}

	got, err := store.GetProfile(ctx, "U1")
	if err != nil {
		t.Fatalf("GetProfile() error = %v", err)
	}

	if got.Name != "美咲" {
		t.Errorf("name = %q, want 美咲", got.Name)
	}
	if got.Age != 20 {
		t.Errorf("age = %d, want 20", got.Age)
	}
	if got.UpdatedAt.Equal(got.CreatedAt) {
		t.Error("PutProfile did not advance UpdatedAt")
	}
}

func TestProfileKeyNamespace(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	store := kvstore.NewStore(kv, nil)
	ctx := context.Background()

	if err := store.PutProfile(ctx, "U1", kvstore.NewDefaultProfile(time.Now())); err != nil {
		t.Fatalf("PutProfile() error = %v", err)
	}

	if _, ok := kv.data["user:U1:character"]; !ok {
		t.Errorf("profile stored under wrong key, have %v", keysOf(kv))
	}
}

func TestHistoryRoundTrip(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	store := kvstore.NewStore(kv, nil)
	ctx := context.Background()

	history, err := store.GetHistory(ctx, "U1")
	if err != nil {
		t.Fatalf("GetHistory on empty store error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("GetHistory on empty store = %d entries, want 0", len(history))
	}

	entries := []kvstore.ConversationEntry{
		{Timestamp: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), User: "こんにちは", Assistant: "こんにちは！"},
		{Timestamp: time.Date(2025, 6, 1, 10, 1, 0, 0, time.UTC), User: "元気？", Assistant: "元気だよ〜"},
	}

	if err := store.PutHistory(ctx, "U1", entries); err != nil {
		t.Fatalf("PutHistory() error = %v", err)
	}

	got, err := store.GetHistory(ctx, "U1")
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("history length = %d, want 2", len(got))
	}
	if got[1].Assistant != "元気だよ〜" {
		t.Errorf("entry = %+v", got[1])
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	store := kvstore.NewStore(kv, nil)
	ctx := context.Background()

	memory, err := store.GetMemory(ctx, "U1")
	if err != nil {
		t.Fatalf("GetMemory on empty store error = %v", err)
	}
	if memory != "" {
		t.Fatalf("GetMemory on empty store = %q, want empty", memory)
	}

	if err := store.PutMemory(ctx, "U1", "ユーザーは読書が好き"); err != nil {
		t.Fatalf("PutMemory() error = %v", err)
	}

	got, err := store.GetMemory(ctx, "U1")
	if err != nil {
		t.Fatalf("GetMemory() error = %v", err)
	}
	if got != "ユーザーは読書が好き" {
		t.Errorf("memory = %q", got)
	}
}

func TestSubscriptionRoundTrip(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	store := kvstore.NewStore(kv, nil)
	ctx := context.Background()

	if _, err := store.GetSubscription(ctx, "U1"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("GetSubscription on empty store = %v, want ErrNotFound", err)
	}

	record := &kvstore.SubscriptionRecord{
		PlanType:             "basic",
		StripeCustomerID:     "cus_123",
		StripeSubscriptionID: "sub_456",
		CreatedAt:            time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		ExpiresAt:            time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
	}

	if err := store.PutSubscription(ctx, "U1", record); err != nil {
		t.Fatalf("PutSubscription() error = %v", err)
	}

	if _, ok := kv.data["subscription:U1"]; !ok {
		t.Errorf("record stored under wrong key, have %v", keysOf(kv))
	}

	got, err := store.GetSubscription(ctx, "U1")
	if err != nil {
		t.Fatalf("GetSubscription() error = %v", err)
	}
	if got.StripeSubscriptionID != "sub_456" {
		t.Errorf("record = %+v", got)
	}

	if err := store.DeleteSubscription(ctx, "U1"); err != nil {
		t.Fatalf("DeleteSubscription() error = %v", err)
	}

	if _, err := store.GetSubscription(ctx, "U1"); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatalf("GetSubscription after delete = %v, want ErrNotFound", err)
	}
}

func TestStoredValuesAreVersionedEnvelopes(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	store := kvstore.NewStore(kv, nil)
	ctx := context.Background()

	if err := store.PutMemory(ctx, "U1", "memo"); err != nil {
		t.Fatalf("PutMemory() error = %v", err)
	}

	var env struct {
		SchemaVersion int             `json:"schema_version"`
		Data          json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(kv.data["user:U1:memory"], &env); err != nil {
		t.Fatalf("stored value is not an envelope: %v", err)
	}
	if env.SchemaVersion != 1 {
		t.Errorf("schema_version = %d, want 1", env.SchemaVersion)
	}
}

func TestGetRecordRejectsUnknownSchemaVersion(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	store := kvstore.NewStore(kv, nil)
	ctx := context.Background()

	kv.data["user:U1:memory"] = []byte(`{"schema_version":99,"data":"\"x\""}`)

	if _, err := store.GetMemory(ctx, "U1"); err == nil {
		t.Fatal("GetMemory() on future schema version succeeded, want error")
	}
}

func TestAbsentKeySentinelSurvivesWrapping(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	kv.err = fmt.Errorf("backend: %w", kvstore.ErrNotFound)
	store := kvstore.NewStore(kv, nil)
	ctx := context.Background()

	history, err := store.GetHistory(ctx, "U1")
	if err != nil || len(history) != 0 {
		t.Errorf("GetHistory() = %v, %v, want empty and no error", history, err)
	}

	memory, err := store.GetMemory(ctx, "U1")
	if err != nil || memory != "" {
		t.Errorf("GetMemory() = %q, %v, want empty and no error", memory, err)
	}

	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v, want nil for an absent probe key", err)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()

	kv := newMemKV()
	store := kvstore.NewStore(kv, nil)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping() on healthy backend error = %v", err)
	}

	kv.err = errors.New("backend down")
	if err := store.Ping(ctx); err == nil {
		t.Fatal("Ping() on failing backend succeeded, want error")
	}
}

func keysOf(kv *memKV) []string {
	keys := make([]string, 0, len(kv.data))
	for k := range kv.data {
		keys = append(keys, k)
	}

	return keys
}
