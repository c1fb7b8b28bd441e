// Package settings persists small per-scope key-value settings, such as a
// guild's preferred locale or synthesis voice. Keys are dotted paths
// ("speech.voice", "recognition.locale"); values are JSON documents.
//
// [Store] is the persistence contract with in-memory and PostgreSQL
// implementations. [Accessor] provides typed access bound to one scope.
package settings

import "context"

// Store provides raw access to JSON-encoded settings values.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get retrieves the value at (scope, key). The second return is false
	// when the key is unset.
	Get(ctx context.Context, scope, key string) ([]byte, bool, error)

	// Set creates or replaces the value at (scope, key). value must be a
	// valid JSON document.
	Set(ctx context.Context, scope, key string, value []byte) error

	// Delete removes the value at (scope, key). Deleting an unset key is
	// not an error.
	Delete(ctx context.Context, scope, key string) error

	// List returns all key/value pairs of a scope.
	List(ctx context.Context, scope string) (map[string][]byte, error)
}
