package protocol

import (
	"context"
	"sync"
)

// Handler processes one inbound envelope from the connection identified by
// senderID. Handlers registered for the same kind run in registration order.
type Handler func(ctx context.Context, senderID string, env Envelope) error

// Attacher is implemented by transports that hold per-kind callbacks and need
// them re-installed after a reconnect or transport swap.
type Attacher interface {
	Attach(kind Kind, fn func(ctx context.Context, senderID string, env Envelope))
}

// Registry is a typed dispatch table mapping message kinds to ordered handler
// lists. It replaces stringly-typed emitter dispatch with an explicit table.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind][]Handler)}
}

// Register appends a handler for kind. Registration order is dispatch order.
func (r *Registry) Register(kind Kind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = append(r.handlers[kind], h)
}

// Dispatch runs every handler registered for the envelope's kind, stopping at
// the first error.
func (r *Registry) Dispatch(ctx context.Context, senderID string, env Envelope) error {
	r.mu.RLock()
	chain := r.handlers[env.Type]
	r.mu.RUnlock()

	for _, h := range chain {
		if err := h(ctx, senderID, env); err != nil {
			return err
		}
	}
	return nil
}

// Kinds returns every kind that currently has at least one handler.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		kinds = append(kinds, k)
	}
	return kinds
}

// Reattach installs the registry's dispatch entry points on a transport. Safe
// to call repeatedly; the transport replaces any callback it already holds.
func (r *Registry) Reattach(t Attacher) {
	for _, kind := range r.Kinds() {
		k := kind
		t.Attach(k, func(ctx context.Context, senderID string, env Envelope) {
			_ = r.Dispatch(ctx, senderID, env)
		})
	}
}
