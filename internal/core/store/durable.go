package store

import (
	"context"
	"encoding/json"
	"sync"
)

// Projection is the durable-tier record for an entity. The durable store is a
// recovery and cold-start source; it may lag the cache by one write.
type Projection struct {
	ID         string
	Type       string
	Components json.RawMessage
	OwnerID    string
}

// Durable is the relational tier holding entity projections.
type Durable interface {
	Insert(ctx context.Context, p Projection) error
	Get(ctx context.Context, id string) (Projection, error)
	Update(ctx context.Context, p Projection) error
	Delete(ctx context.Context, id string) error
	UpsertBatch(ctx context.Context, ps []Projection) error
	Close() error
}

// MemoryDurable is an in-memory Durable used by tests and cache-only runs.
// FailWith, when set, makes every write return that error so callers'
// partial-failure paths can be exercised.
type MemoryDurable struct {
	mu       sync.RWMutex
	rows     map[string]Projection
	FailWith error
}

func NewMemoryDurable() *MemoryDurable {
	return &MemoryDurable{rows: make(map[string]Projection)}
}

func (d *MemoryDurable) Insert(_ context.Context, p Projection) error {
	if d.FailWith != nil {
		return d.FailWith
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows[p.ID] = p
	return nil
}

func (d *MemoryDurable) Get(_ context.Context, id string) (Projection, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.rows[id]
	if !ok {
		return Projection{}, ErrDurableMiss
	}
	return p, nil
}

func (d *MemoryDurable) Update(_ context.Context, p Projection) error {
	if d.FailWith != nil {
		return d.FailWith
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.rows[p.ID]; ok {
		d.rows[p.ID] = p
	}
	return nil
}

func (d *MemoryDurable) Delete(_ context.Context, id string) error {
	if d.FailWith != nil {
		return d.FailWith
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rows, id)
	return nil
}

func (d *MemoryDurable) UpsertBatch(_ context.Context, ps []Projection) error {
	if d.FailWith != nil {
		return d.FailWith
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range ps {
		d.rows[p.ID] = p
	}
	return nil
}

func (d *MemoryDurable) Close() error {
	return nil
}

// Len reports the number of stored rows. Test helper.
func (d *MemoryDurable) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rows)
}
