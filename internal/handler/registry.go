package handler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gyaneshwarpardhi/clinigraph/internal/event"
	"github.com/gyaneshwarpardhi/clinigraph/internal/graphstore"
)

// WriteResult holds the outcome of writing a single envelope.
type WriteResult struct {
	EntityID               string  `json:"entity_id"`
	Type                   string  `json:"type"`
	RelationshipsCreated   int     `json:"relationships_created"`
	RelationshipsAttempted int     `json:"relationships_attempted"`
	RelationshipsConfirmed int     `json:"relationships_confirmed"`
	ProcessingTimeMs       float64 `json:"processing_time_ms,omitempty"`
}

// Handler is the interface every entity writer must satisfy.
type Handler interface {
	// Kind returns the entity kind this handler is registered under.
	Kind() event.Kind
	// Write translates env into node and edge writes on tx. It never
	// checks endpoint existence up front; edges to absent nodes are no-ops.
	Write(ctx context.Context, tx graphstore.Tx, env *event.Envelope) (*WriteResult, error)
}

// Registry maps entity kinds to their handlers.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[event.Kind]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[event.Kind]Handler)}
}

// DefaultRegistry returns a Registry holding every clinical entity handler.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, def := range entityDefs {
		r.Register(newEntityHandler(def))
	}
	return r
}

// Register adds a handler. Panics on duplicate kind to surface misconfiguration early.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Kind()]; exists {
		panic(fmt.Sprintf("handler registry: duplicate kind %q", h.Kind()))
	}
	r.handlers[h.Kind()] = h
}

// Get returns the handler for the given kind.
func (r *Registry) Get(kind event.Kind) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	if !ok {
		return nil, fmt.Errorf("no handler registered for kind %q", kind)
	}
	return h, nil
}

// Kinds returns all registered kinds in a stable order.
func (r *Registry) Kinds() []event.Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]event.Kind, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
