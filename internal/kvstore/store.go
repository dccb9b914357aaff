package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// schemaVersion is the current version of the stored record envelope.
const schemaVersion = 1

// envelope wraps every stored value with an explicit schema version so
// record layouts can evolve without guessing at raw payloads.
type envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Data          json.RawMessage `json:"data"`
}

// Store is the typed record store. It owns key namespacing and the JSON
// envelope codec; callers only ever see typed records.
type Store struct {
	kv     KV
	logger *slog.Logger
}

// NewStore creates a typed Store over the given KV backend.
func NewStore(kv KV, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		kv:     kv,
		logger: logger.With("component", "store"),
	}
}

func profileKey(userID string) string      { return "user:" + userID + ":character" }
func historyKey(userID string) string      { return "user:" + userID + ":history" }
func memoryKey(userID string) string       { return "user:" + userID + ":memory" }
func subscriptionKey(userID string) string { return "subscription:" + userID }

// GetProfile retrieves the persona profile for a user.
// Returns ErrNotFound if the user has never been stored; callers create
// the default lazily via NewDefaultProfile.
func (s *Store) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	if err := s.getRecord(ctx, profileKey(userID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PutProfile stores the persona profile, advancing its UpdatedAt.
func (s *Store) PutProfile(ctx context.Context, userID string, p *Profile) error {
	p.UpdatedAt = time.Now().UTC()
	return s.putRecord(ctx, profileKey(userID), p)
}

// GetHistory retrieves the rolling conversation history for a user.
// A user with no history gets an empty slice, not an error.
func (s *Store) GetHistory(ctx context.Context, userID string) ([]ConversationEntry, error) {
	var history []ConversationEntry
	err := s.getRecord(ctx, historyKey(userID), &history)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return history, nil
}

// PutHistory stores the full rolling history for a user.
func (s *Store) PutHistory(ctx context.Context, userID string, history []ConversationEntry) error {
	return s.putRecord(ctx, historyKey(userID), history)
}

// GetMemory retrieves the compressed memory summary for a user.
// A user with no memory gets the empty string.
func (s *Store) GetMemory(ctx context.Context, userID string) (string, error) {
	var memory string
	err := s.getRecord(ctx, memoryKey(userID), &memory)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return memory, nil
}

// PutMemory overwrites the memory summary for a user.
func (s *Store) PutMemory(ctx context.Context, userID string, memory string) error {
	return s.putRecord(ctx, memoryKey(userID), memory)
}

// GetSubscription retrieves the subscription ledger record for a user.
// Returns ErrNotFound when the user has no stored record.
func (s *Store) GetSubscription(ctx context.Context, userID string) (*SubscriptionRecord, error) {
	var rec SubscriptionRecord
	if err := s.getRecord(ctx, subscriptionKey(userID), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// PutSubscription upserts the subscription ledger record for a user.
func (s *Store) PutSubscription(ctx context.Context, userID string, rec *SubscriptionRecord) error {
	return s.putRecord(ctx, subscriptionKey(userID), rec)
}

// DeleteSubscription removes the subscription ledger record for a user.
// Deleting an absent record is not an error.
func (s *Store) DeleteSubscription(ctx context.Context, userID string) error {
	return s.kv.Delete(ctx, subscriptionKey(userID))
}

// Ping verifies the backend is reachable by probing a key that is never
// written; ErrNotFound counts as healthy.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.kv.Get(ctx, "health:probe")
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

func (s *Store) getRecord(ctx context.Context, key string, out any) error {
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("failed to decode envelope for %q: %w", key, err)
	}
	if env.SchemaVersion != schemaVersion {
		return fmt.Errorf("unsupported schema version %d for %q", env.SchemaVersion, key)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode record for %q: %w", key, err)
	}
	return nil
}

func (s *Store) putRecord(ctx context.Context, key string, in any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode record for %q: %w", key, err)
	}
	raw, err := json.Marshal(envelope{SchemaVersion: schemaVersion, Data: data})
	if err != nil {
		return fmt.Errorf("failed to encode envelope for %q: %w", key, err)
	}
	if err := s.kv.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("failed to store %q: %w", key, err)
	}
	return nil
}
