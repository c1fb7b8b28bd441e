package engine

import (
	"strings"
	"sync"
)

// Named is the common surface of registrable engines.
type Named interface {
	Name() string
	Active() bool
}

// Registry holds engines of one kind, in registration order. Lookup ranks
// candidates in three tiers:
//
//  1. an active engine whose name matches exactly,
//  2. an active engine satisfying the caller's match predicate,
//  3. any active engine.
//
// Within a tier, registration order breaks ties, so lookups are
// deterministic. Inactive engines are never returned.
//
// Registry is safe for concurrent use.
type Registry[E Named] struct {
	mu      sync.RWMutex
	engines []E
}

// NewRegistry creates an empty registry.
func NewRegistry[E Named]() *Registry[E] {
	return &Registry[E]{}
}

// Register appends e. Registering two engines with the same name is allowed;
// the earlier one wins exact-name lookups.
func (r *Registry[E]) Register(e E) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines = append(r.engines, e)
}

// Lookup returns the best active engine for name. The match predicate covers
// the middle tier (e.g. locale support); nil skips that tier. The second
// return is false when no engine is active.
func (r *Registry[E]) Lookup(name string, match func(E) bool) (E, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var zero E
	if name != "" {
		for _, e := range r.engines {
			if e.Active() && strings.EqualFold(e.Name(), name) {
				return e, true
			}
		}
	}
	if match != nil {
		for _, e := range r.engines {
			if e.Active() && match(e) {
				return e, true
			}
		}
	}
	for _, e := range r.engines {
		if e.Active() {
			return e, true
		}
	}
	return zero, false
}

// All returns the registered engines in registration order.
func (r *Registry[E]) All() []E {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]E, len(r.engines))
	copy(out, r.engines)
	return out
}

// SupportsLocale reports whether rec accepts locale. An engine listing no
// locales accepts all of them. Comparison is case-insensitive on the full
// tag, falling back to the primary subtag (e.g. "de" matches "de-DE").
func SupportsLocale(rec Recognizer, locale string) bool {
	supported := rec.Locales()
	if len(supported) == 0 {
		return true
	}
	primary, _, _ := strings.Cut(locale, "-")
	for _, s := range supported {
		if strings.EqualFold(s, locale) {
			return true
		}
		sp, _, _ := strings.Cut(s, "-")
		if strings.EqualFold(sp, primary) {
			return true
		}
	}
	return false
}
