// Package kvstore provides the key-value persistence layer: the raw KV
// contract, the typed record store built on top of it, and the SQLite and
// Cloudflare Workers KV backends.
package kvstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("kvstore: key not found")

// KV is the raw key-value contract. Values are opaque bytes; all record
// typing and serialization happens in Store, at the store boundary only.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Maintainer is implemented by backends that support periodic maintenance
// (the SQLite backend runs VACUUM). Backends without maintenance simply
// don't implement it.
type Maintainer interface {
	Maintenance(ctx context.Context) error
}
