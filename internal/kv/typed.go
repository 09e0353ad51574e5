package kv

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Typed wraps Store with JSON decoding into T under a key prefix.
type Typed[T any] struct {
	store  *Store
	prefix string
}

// NewTyped creates a typed view over keys starting with prefix.
func NewTyped[T any](store *Store, prefix string) *Typed[T] {
	return &Typed[T]{
		store:  store,
		prefix: prefix,
	}
}

// Prefix returns the key prefix this view handles.
func (t *Typed[T]) Prefix() string {
	return t.prefix
}

func (t *Typed[T]) key(id string) string {
	return t.prefix + id
}

// Get retrieves and decodes the value for id. The zero value is returned
// with the lookup status when nothing was found.
func (t *Typed[T]) Get(ctx context.Context, id string) (value T, status Status, err error) {
	result, err := t.store.Get(ctx, t.key(id))
	if err != nil {
		return value, result.Status, err
	}
	if !result.Found() {
		return value, result.Status, nil
	}

	if err := result.Decode(&value); err != nil {
		return value, result.Status, fmt.Errorf("failed to unmarshal %s: %w", t.key(id), err)
	}
	return value, StatusFound, nil
}

// Set stores value for id.
func (t *Typed[T]) Set(ctx context.Context, id string, value T, opts ...SetOption) error {
	return t.store.Set(ctx, t.key(id), value, opts...)
}

// SetWithExpiry stores value for id, expiring after ttl.
func (t *Typed[T]) SetWithExpiry(ctx context.Context, id string, value T, ttl time.Duration) error {
	return t.store.SetWithExpiry(ctx, t.key(id), value, ttl)
}

// Delete removes the value for id.
func (t *Typed[T]) Delete(ctx context.Context, id string) (bool, error) {
	return t.store.Delete(ctx, t.key(id))
}

// IDs lists the ids under the prefix, with the prefix stripped.
func (t *Typed[T]) IDs(ctx context.Context) ([]string, error) {
	keys, err := t.store.Keys(ctx, EscapePattern(t.prefix)+"%")
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(keys))
	for i, key := range keys {
		ids[i] = strings.TrimPrefix(key, t.prefix)
	}
	return ids, nil
}

// Update applies modify to the current value and stores the result in one
// step. A missing or expired id gives modify the zero value. A live record
// keeps its expiry and one-time flag and is not consumed.
func (t *Typed[T]) Update(ctx context.Context, id string, modify func(current T) T) error {
	return t.store.Update(ctx, t.key(id), func(current Result) (any, error) {
		var value T
		if current.Found() {
			if err := current.Decode(&value); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s: %w", t.key(id), err)
			}
		}
		return modify(value), nil
	})
}

var patternEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapePattern makes s match itself literally in a Keys pattern.
func EscapePattern(s string) string {
	return patternEscaper.Replace(s)
}
