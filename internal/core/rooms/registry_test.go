package rooms

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aethersync/aethersync/internal/core/entity"
	"github.com/aethersync/aethersync/internal/core/observability/log"
	"github.com/aethersync/aethersync/internal/core/protocol"
	"github.com/aethersync/aethersync/internal/core/store"
)

type fakeConn struct {
	id   string
	user string

	mu   sync.Mutex
	sent []protocol.Envelope
}

func newFakeConn(id, user string) *fakeConn {
	return &fakeConn{id: id, user: user}
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.user }

func (c *fakeConn) Send(env protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) received(kind protocol.Kind) []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Envelope
	for _, env := range c.sent {
		if env.Type == kind {
			out = append(out, env)
		}
	}
	return out
}

func newTestRegistry(t *testing.T) (*Registry, *store.MemoryCache, *store.EntityStore) {
	t.Helper()
	cache := store.NewMemoryCache(4)
	entities := store.NewEntityStore(cache, store.NewMemoryDurable(), log.NewNop())
	return NewRegistry(cache, entities, log.NewNop()), cache, entities
}

func TestRegistry_Join(t *testing.T) {
	ctx := context.Background()

	t.Run("Joiner Receives Room State", func(t *testing.T) {
		reg, _, entities := newTestRegistry(t)
		require.NoError(t, entities.Create(ctx, entity.Entity{
			ID:         "e1",
			Type:       "box",
			Components: entity.ComponentMap{RoomID: "r1"},
		}))

		conn := newFakeConn("c1", "u1")
		require.NoError(t, reg.Join(ctx, conn, "r1"))

		states := conn.received(protocol.KindRoomState)
		require.Len(t, states, 1)

		var payload RoomStatePayload
		require.NoError(t, states[0].DecodeData(&payload))
		require.Equal(t, "r1", payload.RoomID)
		require.Len(t, payload.Entities, 1)
		require.Equal(t, "e1", payload.Entities[0].ID)
	})

	t.Run("Existing Members Notified", func(t *testing.T) {
		reg, _, _ := newTestRegistry(t)
		first := newFakeConn("c1", "u1")
		second := newFakeConn("c2", "u2")

		require.NoError(t, reg.Join(ctx, first, "r1"))
		require.NoError(t, reg.Join(ctx, second, "r1"))

		joins := first.received(protocol.KindPlayerJoin)
		require.Len(t, joins, 1)
		var presence PresencePayload
		require.NoError(t, joins[0].DecodeData(&presence))
		require.Equal(t, "u2", presence.UserID)
		require.Equal(t, "c2", presence.ConnectionID)

		// The joiner is not notified about itself.
		require.Empty(t, second.received(protocol.KindPlayerJoin))
	})

	t.Run("Membership Is Exclusive", func(t *testing.T) {
		reg, cache, _ := newTestRegistry(t)
		roamer := newFakeConn("c1", "u1")
		witness := newFakeConn("c2", "u2")

		require.NoError(t, reg.Join(ctx, witness, "a"))
		require.NoError(t, reg.Join(ctx, roamer, "a"))
		require.NoError(t, reg.Join(ctx, roamer, "b"))

		roomID, ok := reg.RoomOf("c1")
		require.True(t, ok)
		require.Equal(t, "b", roomID)
		require.Len(t, reg.Members("a"), 1)
		require.Len(t, reg.Members("b"), 1)

		// The departure is announced exactly once.
		require.Len(t, witness.received(protocol.KindPlayerLeave), 1)

		members, err := cache.SMembers(ctx, store.RoomMembersKey("a"))
		require.NoError(t, err)
		require.Equal(t, []string{"c2"}, members)
	})
}

func TestRegistry_LeaveAll(t *testing.T) {
	ctx := context.Background()
	reg, cache, _ := newTestRegistry(t)

	leaver := newFakeConn("c1", "u1")
	stayer := newFakeConn("c2", "u2")
	require.NoError(t, reg.Join(ctx, leaver, "r1"))
	require.NoError(t, reg.Join(ctx, stayer, "r1"))

	reg.LeaveAll(ctx, leaver)

	_, ok := reg.RoomOf("c1")
	require.False(t, ok)
	require.Len(t, reg.Members("r1"), 1)

	leaves := stayer.received(protocol.KindPlayerLeave)
	require.Len(t, leaves, 1)
	var presence PresencePayload
	require.NoError(t, leaves[0].DecodeData(&presence))
	require.Equal(t, "c1", presence.ConnectionID)

	members, err := cache.SMembers(ctx, store.RoomMembersKey("r1"))
	require.NoError(t, err)
	require.Equal(t, []string{"c2"}, members)
}

func TestRegistry_StatesAndBroadcast(t *testing.T) {
	ctx := context.Background()
	reg, _, _ := newTestRegistry(t)

	require.NoError(t, reg.Create(ctx, "r1"))
	require.NoError(t, reg.Create(ctx, "r2"))

	states, err := reg.States(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)

	member := newFakeConn("c1", "u1")
	require.NoError(t, reg.Join(ctx, member, "r1"))

	reg.Broadcast(states)

	updates := member.received(protocol.KindStateUpdate)
	require.Len(t, updates, 1)
	require.Equal(t, "r1", updates[0].RoomID)
	require.NotZero(t, updates[0].Timestamp)
}

func TestRegistry_DeletedEntityLeavesRoomState(t *testing.T) {
	ctx := context.Background()
	reg, cache, entities := newTestRegistry(t)

	require.NoError(t, entities.Create(ctx, entity.Entity{
		ID:         "e1",
		Type:       "box",
		Components: entity.ComponentMap{RoomID: "r1"},
	}))
	require.NoError(t, entities.Remove(ctx, "e1"))

	ids, err := cache.SMembers(ctx, store.RoomEntitiesKey("r1"))
	require.NoError(t, err)
	require.Empty(t, ids)

	conn := newFakeConn("c1", "u1")
	require.NoError(t, reg.Join(ctx, conn, "r1"))
	var payload RoomStatePayload
	require.NoError(t, conn.received(protocol.KindRoomState)[0].DecodeData(&payload))
	require.Empty(t, payload.Entities)
}

func TestRegistry_ReapEmpty(t *testing.T) {
	ctx := context.Background()
	reg, cache, entities := newTestRegistry(t)

	require.NoError(t, entities.Create(ctx, entity.Entity{
		ID:         "e1",
		Type:       "box",
		Components: entity.ComponentMap{RoomID: "empty"},
	}))
	require.NoError(t, reg.Create(ctx, "empty"))

	occupant := newFakeConn("c1", "u1")
	require.NoError(t, reg.Join(ctx, occupant, "alive"))

	require.NoError(t, reg.ReapEmpty(ctx))

	ids, err := cache.SMembers(ctx, store.RoomsKey)
	require.NoError(t, err)
	require.Equal(t, []string{"alive"}, ids)

	// Entities owned by the destroyed room are gone from both tiers.
	_, err = entities.Get(ctx, "e1")
	require.ErrorIs(t, err, store.ErrEntityNotFound)
}
