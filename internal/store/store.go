// Package store defines the key-value persistence contract the settings
// engine runs on, plus two implementations: an in-memory store and a
// SQLite-backed one.
package store

import (
	"context"
	"errors"
)

// ErrTypeMismatch is returned by typed getters when the stored value has a
// different type than requested.
var ErrTypeMismatch = errors.New("stored value has a different type")

// Store is an asynchronously-initializing key-value store with typed access.
// Typed getters return ok=false when the key is absent; they return
// ErrTypeMismatch when the key exists under a different type.
//
// Implementations must be safe for concurrent use once ready.
type Store interface {
	// WaitReady blocks until the store finished initializing or ctx is done.
	// It is idempotent: every call observes the same outcome.
	WaitReady(ctx context.Context) error

	Contains(ctx context.Context, key string) (bool, error)

	GetBool(ctx context.Context, key string) (val bool, ok bool, err error)
	GetInt(ctx context.Context, key string) (val int64, ok bool, err error)
	GetFloat(ctx context.Context, key string) (val float64, ok bool, err error)
	GetString(ctx context.Context, key string) (val string, ok bool, err error)
	GetStringList(ctx context.Context, key string) (val []string, ok bool, err error)

	SetBool(ctx context.Context, key string, val bool) error
	SetInt(ctx context.Context, key string, val int64) error
	SetFloat(ctx context.Context, key string, val float64) error
	SetString(ctx context.Context, key string, val string) error
	SetStringList(ctx context.Context, key string, val []string) error

	Remove(ctx context.Context, key string) error
	Clear(ctx context.Context) error

	Close() error
}
