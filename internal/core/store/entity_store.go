package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/aethersync/aethersync/internal/core/entity"
	"github.com/aethersync/aethersync/internal/core/observability/log"
)

const lockStripes = 64

// EntityStore mediates entity state between the cache tier and the durable
// tier. The cache is authoritative for live sessions; durable writes trail it
// and their failures never retract cache-visible state.
//
// Read-modify-write cycles (Update, BatchUpdate, Remove) are serialized per
// entity id through a striped mutex, so two concurrent updates to the same id
// cannot interleave their fetch and write phases.
type EntityStore struct {
	cache   Cache
	durable Durable
	logger  log.Log
	locks   [lockStripes]sync.Mutex
}

func NewEntityStore(cache Cache, durable Durable, logger log.Log) *EntityStore {
	return &EntityStore{
		cache:   cache,
		durable: durable,
		logger:  logger.With(log.String("component", "entity_store")),
	}
}

func (s *EntityStore) lockFor(id string) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(id)&(lockStripes-1)]
}

// Create writes the entity to the cache and registers it in its room's entity
// set as one atomic pipeline, then inserts the durable projection. A durable
// failure propagates to the caller but the cache write is not rolled back; the
// durable tier catches up on the next write to the same id.
func (s *EntityStore) Create(ctx context.Context, e entity.Entity) error {
	now := time.Now()
	if e.CreatedAt == nil {
		e.CreatedAt = &now
	}
	e.UpdatedAt = &now

	doc, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entity %s: %w", e.ID, err)
	}

	ops := []CacheOp{SetOp(EntityKey(e.ID), string(doc))}
	if roomID := e.Components.RoomID; roomID != "" {
		ops = append(ops, SAddOp(RoomEntitiesKey(roomID), e.ID))
	}
	if err = s.cache.Pipeline(ctx, ops); err != nil {
		return fmt.Errorf("cache create %s: %w", e.ID, err)
	}

	if err = s.durable.Insert(ctx, projectionOf(e)); err != nil {
		s.logger.Error("Durable insert failed",
			log.String("entity_id", e.ID),
			log.Error(err))
		return err
	}
	return nil
}

// Get returns the entity from the cache, falling back to the durable tier on
// a miss and backfilling the cache (no expiry) before returning.
func (s *EntityStore) Get(ctx context.Context, id string) (entity.Entity, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	return s.getLocked(ctx, id)
}

func (s *EntityStore) getLocked(ctx context.Context, id string) (entity.Entity, error) {
	doc, err := s.cache.Get(ctx, EntityKey(id))
	switch {
	case err == nil:
		var e entity.Entity
		if err = json.Unmarshal([]byte(doc), &e); err != nil {
			return entity.Entity{}, fmt.Errorf("unmarshal entity %s: %w", id, err)
		}
		return e, nil
	case err != ErrCacheMiss:
		return entity.Entity{}, fmt.Errorf("cache get %s: %w", id, err)
	}

	p, err := s.durable.Get(ctx, id)
	if err == ErrDurableMiss {
		return entity.Entity{}, ErrEntityNotFound
	}
	if err != nil {
		// Cache missed and durable errored: report not-found upward since
		// neither tier can produce the record.
		s.logger.Error("Durable lookup failed", log.String("entity_id", id), log.Error(err))
		return entity.Entity{}, ErrEntityNotFound
	}

	e := entityOf(p)
	if doc, err := json.Marshal(e); err == nil {
		if err = s.cache.Set(ctx, EntityKey(id), string(doc)); err != nil {
			s.logger.Warn("Cache backfill failed", log.String("entity_id", id), log.Error(err))
		}
	}
	return e, nil
}

// Update fetches the current value, applies the patch, writes the merged
// entity to the cache synchronously, then updates the durable tier on a
// best-effort basis. A durable failure is logged, not propagated; the cache
// remains the visible truth.
func (s *EntityStore) Update(ctx context.Context, id string, patch entity.Patch) (entity.Entity, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	e, err := s.getLocked(ctx, id)
	if err != nil {
		return entity.Entity{}, err
	}
	if err = e.Apply(patch); err != nil {
		return entity.Entity{}, fmt.Errorf("apply patch %s: %w", id, err)
	}

	doc, err := json.Marshal(e)
	if err != nil {
		return entity.Entity{}, fmt.Errorf("marshal entity %s: %w", id, err)
	}
	if err = s.cache.Set(ctx, EntityKey(id), string(doc)); err != nil {
		return entity.Entity{}, fmt.Errorf("cache update %s: %w", id, err)
	}

	if err = s.durable.Update(ctx, projectionOf(e)); err != nil {
		s.logger.Warn("Durable update failed, cache remains authoritative",
			log.String("entity_id", id),
			log.Error(err))
	}
	return e, nil
}

// Remove resolves the entity's room, detaches the id from the room's entity
// set, deletes the cache entry, and deletes the durable row best-effort.
func (s *EntityStore) Remove(ctx context.Context, id string) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	e, err := s.getLocked(ctx, id)
	if err != nil && err != ErrEntityNotFound {
		return err
	}

	ops := make([]CacheOp, 0, 2)
	if err == nil && e.Components.RoomID != "" {
		ops = append(ops, SRemOp(RoomEntitiesKey(e.Components.RoomID), id))
	}
	ops = append(ops, DelOp(EntityKey(id)))
	if err = s.cache.Pipeline(ctx, ops); err != nil {
		return fmt.Errorf("cache remove %s: %w", id, err)
	}

	if err = s.durable.Delete(ctx, id); err != nil {
		s.logger.Warn("Durable delete failed", log.String("entity_id", id), log.Error(err))
	}
	return nil
}

// BatchUpdate merges each patch sequentially, applies every cache write as
// one atomic pipeline, then issues a single durable upsert for all updated
// projections. Reads are sequential on purpose; parallelizing them would
// reorder merges against concurrent single Updates on the same ids.
func (s *EntityStore) BatchUpdate(ctx context.Context, patches []entity.Patch) error {
	ops := make([]CacheOp, 0, len(patches))
	projections := make([]Projection, 0, len(patches))

	for _, patch := range patches {
		mu := s.lockFor(patch.ID)
		mu.Lock()
		e, err := s.getLocked(ctx, patch.ID)
		if err == ErrEntityNotFound {
			mu.Unlock()
			continue
		}
		if err != nil {
			mu.Unlock()
			return err
		}
		if err = e.Apply(patch); err != nil {
			mu.Unlock()
			return fmt.Errorf("apply patch %s: %w", patch.ID, err)
		}
		doc, err := json.Marshal(e)
		mu.Unlock()
		if err != nil {
			return fmt.Errorf("marshal entity %s: %w", patch.ID, err)
		}
		ops = append(ops, SetOp(EntityKey(patch.ID), string(doc)))
		projections = append(projections, projectionOf(e))
	}

	if len(ops) == 0 {
		return nil
	}
	if err := s.cache.Pipeline(ctx, ops); err != nil {
		return fmt.Errorf("cache batch update: %w", err)
	}
	if err := s.durable.UpsertBatch(ctx, projections); err != nil {
		s.logger.Error("Durable batch upsert failed", log.Int("count", len(projections)), log.Error(err))
		return err
	}
	return nil
}

func projectionOf(e entity.Entity) Projection {
	components, _ := json.Marshal(e.Components)
	return Projection{
		ID:         e.ID,
		Type:       e.Type,
		Components: components,
		OwnerID:    e.Components.OwnerID,
	}
}

func entityOf(p Projection) entity.Entity {
	e := entity.Entity{ID: p.ID, Type: p.Type}
	if len(p.Components) > 0 {
		_ = json.Unmarshal(p.Components, &e.Components)
	}
	return e
}
