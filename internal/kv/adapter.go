// -------------------------------------------------------------------------------
// Adapter - Backend-Agnostic Key/Value Contract
//
// Author: Alex Freidah
//
// Defines the KV contract every storage backend implements, the namespace that
// scopes an adapter to one logical database/store pair, and a typed JSON wrapper
// used by the storage service. A missing key is a (nil, false, nil) result, never
// an error.
// -------------------------------------------------------------------------------

package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// ERRORS
// -------------------------------------------------------------------------

var (
	// ErrBackendUnavailable is returned when a backend cannot serve requests,
	// either because its liveness probe failed or its circuit breaker is open.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrEmptyKey is returned when an operation is called with an empty key.
	ErrEmptyKey = errors.New("key must not be empty")
)

// -------------------------------------------------------------------------
// INTERFACES
// -------------------------------------------------------------------------

// Namespace identifies one logical database and store within a backend. Media
// and timeline partitions embed the project (and scene) id in Database.
type Namespace struct {
	Database string
	Store    string
}

// String returns "database/store".
func (n Namespace) String() string {
	return n.Database + "/" + n.Store
}

// Adapter is the key/value contract implemented by every backend. All methods
// are safe for concurrent use.
type Adapter interface {
	// Get returns the value for key. ok is false when the key does not exist.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// List returns every key currently stored, in no particular order.
	List(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

// Backend opens namespaced adapters over one durable storage implementation.
type Backend interface {
	Name() string
	Open(ctx context.Context, ns Namespace) (Adapter, error)
	Close() error
}

// -------------------------------------------------------------------------
// TYPED WRAPPER
// -------------------------------------------------------------------------

// Typed stores values of type T as JSON documents in an Adapter.
type Typed[T any] struct {
	adapter Adapter
}

// NewTyped wraps an adapter with JSON (de)serialization for T.
func NewTyped[T any](a Adapter) *Typed[T] {
	return &Typed[T]{adapter: a}
}

// Adapter returns the underlying raw adapter.
func (t *Typed[T]) Adapter() Adapter {
	return t.adapter
}

// Get decodes the value at key. Returns (nil, nil) when the key does not exist.
func (t *Typed[T]) Get(ctx context.Context, key string) (*T, error) {
	data, ok, err := t.adapter.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return &v, nil
}

// Set encodes v and stores it at key.
func (t *Typed[T]) Set(ctx context.Context, key string, v *T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	return t.adapter.Set(ctx, key, data)
}

// Remove deletes key.
func (t *Typed[T]) Remove(ctx context.Context, key string) error {
	return t.adapter.Remove(ctx, key)
}

// List returns every stored key.
func (t *Typed[T]) List(ctx context.Context) ([]string, error) {
	return t.adapter.List(ctx)
}

// Clear removes every key.
func (t *Typed[T]) Clear(ctx context.Context) error {
	return t.adapter.Clear(ctx)
}

// checkKey rejects empty keys before they reach a backend.
func checkKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}
