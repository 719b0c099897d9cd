package taskqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler executes one claimed entry. Returning an error marks the entry
// failed; retries happen through new entries, never by re-running this one.
type Handler func(ctx context.Context, entry *Entry) error

// Registry maps task kinds to registered handlers. It replaces dynamic
// dispatch by import-path string: only kinds registered at startup can run,
// and payloads are plain JSON.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]Handler)}
}

// Register binds a handler to a kind. Registering the same kind twice is a
// programming error and fails.
func (r *Registry) Register(kind Kind, h Handler) error {
	if kind == "" {
		return fmt.Errorf("task kind must not be empty")
	}
	if h == nil {
		return fmt.Errorf("handler for %q must not be nil", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("task kind %q already registered", kind)
	}
	r.handlers[kind] = h
	return nil
}

// MustRegister is Register that panics on error, for startup wiring.
func (r *Registry) MustRegister(kind Kind, h Handler) {
	if err := r.Register(kind, h); err != nil {
		panic(err)
	}
}

// Resolve returns the handler for a kind.
func (r *Registry) Resolve(kind Kind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
