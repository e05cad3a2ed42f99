package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aethersync/aethersync/internal/core/entity"
	"github.com/aethersync/aethersync/internal/core/observability/log"
)

func newTestStore() (*EntityStore, *MemoryCache, *MemoryDurable) {
	cache := NewMemoryCache(4)
	durable := NewMemoryDurable()
	return NewEntityStore(cache, durable, log.NewNop()), cache, durable
}

func testEntity(id, roomID string) entity.Entity {
	return entity.Entity{
		ID:   id,
		Type: "box",
		Components: entity.ComponentMap{
			Transform: &entity.Transform{
				Position: entity.Vector3{X: 0, Y: 10, Z: 0},
				Rotation: entity.IdentityQuaternion(),
				Scale:    entity.Vector3{X: 1, Y: 1, Z: 1},
			},
			RoomID:  roomID,
			OwnerID: "u1",
		},
	}
}

func TestEntityStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	s, cache, durable := newTestStore()

	require.NoError(t, s.Create(ctx, testEntity("e1", "r1")))

	t.Run("Cache Round Trip", func(t *testing.T) {
		got, err := s.Get(ctx, "e1")
		require.NoError(t, err)
		require.Equal(t, "e1", got.ID)
		require.Equal(t, "box", got.Type)
		require.Equal(t, 10.0, got.Components.Transform.Position.Y)
		require.Equal(t, "u1", got.Components.OwnerID)
	})

	t.Run("Room Index Updated Atomically", func(t *testing.T) {
		members, err := cache.SMembers(ctx, RoomEntitiesKey("r1"))
		require.NoError(t, err)
		require.Equal(t, []string{"e1"}, members)
	})

	t.Run("Durable Projection Written", func(t *testing.T) {
		p, err := durable.Get(ctx, "e1")
		require.NoError(t, err)
		require.Equal(t, "box", p.Type)
		require.Equal(t, "u1", p.OwnerID)
	})

	t.Run("Missing Entity", func(t *testing.T) {
		_, err := s.Get(ctx, "nope")
		require.ErrorIs(t, err, ErrEntityNotFound)
	})
}

func TestEntityStore_DurableFallback(t *testing.T) {
	ctx := context.Background()
	s, cache, _ := newTestStore()

	require.NoError(t, s.Create(ctx, testEntity("e1", "r1")))

	// Purge the cache entry; the durable tier must serve the read.
	require.NoError(t, cache.Del(ctx, EntityKey("e1")))

	got, err := s.Get(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, 10.0, got.Components.Transform.Position.Y)
	require.Equal(t, "r1", got.Components.RoomID)

	// The read must have backfilled the cache.
	doc, err := cache.Get(ctx, EntityKey("e1"))
	require.NoError(t, err)
	var cached entity.Entity
	require.NoError(t, json.Unmarshal([]byte(doc), &cached))
	require.Equal(t, "e1", cached.ID)
}

func TestEntityStore_DurableInsertFailure(t *testing.T) {
	ctx := context.Background()
	s, cache, durable := newTestStore()

	durable.FailWith = errors.New("connection refused")
	err := s.Create(ctx, testEntity("e1", "r1"))
	require.Error(t, err)

	// The cache write is not rolled back; the live session still sees e1.
	_, err = cache.Get(ctx, EntityKey("e1"))
	require.NoError(t, err)
}

func TestEntityStore_Update(t *testing.T) {
	ctx := context.Background()
	s, _, durable := newTestStore()

	require.NoError(t, s.Create(ctx, testEntity("e1", "r1")))

	t.Run("Merge Semantics", func(t *testing.T) {
		_, err := s.Update(ctx, "e1", entity.Patch{
			ID: "e1",
			Components: map[string]json.RawMessage{
				"transform": json.RawMessage(`{"position":{"x":0,"y":5,"z":0}}`),
			},
		})
		require.NoError(t, err)

		got, err := s.Get(ctx, "e1")
		require.NoError(t, err)
		require.Equal(t, 5.0, got.Components.Transform.Position.Y)
		require.Equal(t, "u1", got.Components.OwnerID)
		require.Equal(t, "r1", got.Components.RoomID)
	})

	t.Run("Durable Failure Not Propagated", func(t *testing.T) {
		durable.FailWith = errors.New("connection refused")
		defer func() { durable.FailWith = nil }()

		updated, err := s.Update(ctx, "e1", entity.Patch{
			ID: "e1",
			Components: map[string]json.RawMessage{
				"transform": json.RawMessage(`{"position":{"x":0,"y":3,"z":0}}`),
			},
		})
		require.NoError(t, err)
		require.Equal(t, 3.0, updated.Components.Transform.Position.Y)

		got, err := s.Get(ctx, "e1")
		require.NoError(t, err)
		require.Equal(t, 3.0, got.Components.Transform.Position.Y)
	})

	t.Run("Unknown Id", func(t *testing.T) {
		_, err := s.Update(ctx, "nope", entity.Patch{ID: "nope"})
		require.ErrorIs(t, err, ErrEntityNotFound)
	})
}

func TestEntityStore_Remove(t *testing.T) {
	ctx := context.Background()
	s, cache, durable := newTestStore()

	require.NoError(t, s.Create(ctx, testEntity("e1", "r1")))
	require.NoError(t, s.Remove(ctx, "e1"))

	_, err := s.Get(ctx, "e1")
	require.ErrorIs(t, err, ErrEntityNotFound)

	members, err := cache.SMembers(ctx, RoomEntitiesKey("r1"))
	require.NoError(t, err)
	require.Empty(t, members)

	require.Equal(t, 0, durable.Len())
}

func TestEntityStore_BatchUpdate(t *testing.T) {
	ctx := context.Background()
	s, _, durable := newTestStore()

	require.NoError(t, s.Create(ctx, testEntity("e1", "r1")))
	require.NoError(t, s.Create(ctx, testEntity("e2", "r1")))

	patches := []entity.Patch{
		{ID: "e1", Components: map[string]json.RawMessage{
			"transform": json.RawMessage(`{"position":{"x":1,"y":0,"z":0}}`),
		}},
		{ID: "missing", Components: map[string]json.RawMessage{
			"transform": json.RawMessage(`{"position":{"x":9,"y":9,"z":9}}`),
		}},
		{ID: "e2", Components: map[string]json.RawMessage{
			"transform": json.RawMessage(`{"position":{"x":2,"y":0,"z":0}}`),
		}},
	}
	require.NoError(t, s.BatchUpdate(ctx, patches))

	e1, err := s.Get(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, 1.0, e1.Components.Transform.Position.X)

	e2, err := s.Get(ctx, "e2")
	require.NoError(t, err)
	require.Equal(t, 2.0, e2.Components.Transform.Position.X)

	// Missing ids are skipped, present ids are upserted durably.
	require.Equal(t, 2, durable.Len())
}
