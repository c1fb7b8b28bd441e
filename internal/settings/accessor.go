package settings

import (
	"context"
	"encoding/json"
	"fmt"
)

// Accessor is a typed view of one scope's settings. Getters return the given
// fallback when the key is unset; storage errors are returned as-is.
type Accessor struct {
	store Store
	scope string
}

// NewAccessor binds store to scope (typically a guild id).
func NewAccessor(store Store, scope string) *Accessor {
	return &Accessor{store: store, scope: scope}
}

// Scope returns the bound scope.
func (a *Accessor) Scope() string { return a.scope }

// String reads the string at key, or fallback when unset.
func (a *Accessor) String(ctx context.Context, key, fallback string) (string, error) {
	return get(ctx, a, key, fallback)
}

// SetString stores a string at key.
func (a *Accessor) SetString(ctx context.Context, key, value string) error {
	return set(ctx, a, key, value)
}

// Bool reads the bool at key, or fallback when unset.
func (a *Accessor) Bool(ctx context.Context, key string, fallback bool) (bool, error) {
	return get(ctx, a, key, fallback)
}

// SetBool stores a bool at key.
func (a *Accessor) SetBool(ctx context.Context, key string, value bool) error {
	return set(ctx, a, key, value)
}

// Float reads the float at key, or fallback when unset.
func (a *Accessor) Float(ctx context.Context, key string, fallback float64) (float64, error) {
	return get(ctx, a, key, fallback)
}

// SetFloat stores a float at key.
func (a *Accessor) SetFloat(ctx context.Context, key string, value float64) error {
	return set(ctx, a, key, value)
}

// Delete unsets key.
func (a *Accessor) Delete(ctx context.Context, key string) error {
	return a.store.Delete(ctx, a.scope, key)
}

func get[T any](ctx context.Context, a *Accessor, key string, fallback T) (T, error) {
	raw, ok, err := a.store.Get(ctx, a.scope, key)
	if err != nil || !ok {
		return fallback, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return fallback, fmt.Errorf("settings: decode %s/%s: %w", a.scope, key, err)
	}
	return v, nil
}

func set[T any](ctx context.Context, a *Accessor, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("settings: encode %s/%s: %w", a.scope, key, err)
	}
	return a.store.Set(ctx, a.scope, key, raw)
}
