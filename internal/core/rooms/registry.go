package rooms

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aethersync/aethersync/internal/core/entity"
	"github.com/aethersync/aethersync/internal/core/observability/log"
	"github.com/aethersync/aethersync/internal/core/protocol"
	"github.com/aethersync/aethersync/internal/core/store"
)

// Messenger is the send side of a connection, as seen by the registry.
type Messenger interface {
	ID() string
	UserID() string
	Send(env protocol.Envelope) error
}

// State is the aggregate JSON document stored under room:<id>.
type State struct {
	ID           string          `json:"roomId"`
	Entities     []string        `json:"entities"`
	PhysicsState json.RawMessage `json:"physicsState,omitempty"`
}

// PresencePayload is the body of player:join and player:leave notifications.
type PresencePayload struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
}

// RoomStatePayload is the body of the room_state reply sent to a joiner.
type RoomStatePayload struct {
	RoomID   string          `json:"roomId"`
	Entities []entity.Entity `json:"entities"`
}

// Registry tracks which connections belong to which rooms, maintains each
// room's entity-id set through the cache, and fans out broadcasts. Membership
// is exclusive: joining a room leaves all previously joined rooms for that
// connection.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Messenger // roomID -> connID -> conn
	byConn map[string]string               // connID -> roomID

	cache    store.Cache
	entities *store.EntityStore
	logger   log.Log
}

func NewRegistry(cache store.Cache, entities *store.EntityStore, logger log.Log) *Registry {
	return &Registry{
		rooms:    make(map[string]map[string]Messenger),
		byConn:   make(map[string]string),
		cache:    cache,
		entities: entities,
		logger:   logger.With(log.String("component", "rooms")),
	}
}

// Create initializes an empty aggregate state and physics blob for roomID and
// registers it in the global room index, all as one pipeline.
func (r *Registry) Create(ctx context.Context, roomID string) error {
	state := State{ID: roomID, Entities: []string{}, PhysicsState: json.RawMessage(`[]`)}
	doc, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal room state %s: %w", roomID, err)
	}
	ops := []store.CacheOp{
		store.SetOp(store.RoomKey(roomID), string(doc)),
		store.SetOp(store.PhysicsKey(roomID), "[]"),
		store.SAddOp(store.RoomsKey, roomID),
	}
	if err = r.cache.Pipeline(ctx, ops); err != nil {
		return fmt.Errorf("create room %s: %w", roomID, err)
	}
	r.logger.Info("Room created", log.String("room_id", roomID))
	return nil
}

// Join moves the connection into roomID. The connection leaves every room it
// currently occupies, existing members are notified with player:join, and the
// joiner receives the current room state with its entity list resolved.
func (r *Registry) Join(ctx context.Context, conn Messenger, roomID string) error {
	r.LeaveAll(ctx, conn)

	// First join creates the room.
	if _, err := r.cache.Get(ctx, store.RoomKey(roomID)); err == store.ErrCacheMiss {
		if err = r.Create(ctx, roomID); err != nil {
			return err
		}
	} else if err != nil {
		return fmt.Errorf("lookup room %s: %w", roomID, err)
	}

	r.mu.Lock()
	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]Messenger)
		r.rooms[roomID] = members
	}
	members[conn.ID()] = conn
	r.byConn[conn.ID()] = roomID
	peers := make([]Messenger, 0, len(members)-1)
	for id, m := range members {
		if id != conn.ID() {
			peers = append(peers, m)
		}
	}
	r.mu.Unlock()

	// Durable membership set, used to rebuild presence after a restart.
	if err := r.cache.SAdd(ctx, store.RoomMembersKey(roomID), conn.ID()); err != nil {
		return fmt.Errorf("register member %s: %w", roomID, err)
	}

	join := protocol.MustEnvelope(protocol.KindPlayerJoin, PresencePayload{
		UserID:       conn.UserID(),
		ConnectionID: conn.ID(),
	})
	join.RoomID = roomID
	for _, peer := range peers {
		if err := peer.Send(join); err != nil {
			r.logger.Warn("Join notification failed",
				log.String("room_id", roomID),
				log.String("connection_id", peer.ID()),
				log.Error(err))
		}
	}

	stateEnv, err := r.roomStateEnvelope(ctx, roomID)
	if err != nil {
		return err
	}
	if err = conn.Send(stateEnv); err != nil {
		return fmt.Errorf("send room state %s: %w", roomID, err)
	}

	r.logger.Info("Connection joined room",
		log.String("connection_id", conn.ID()),
		log.String("room_id", roomID))
	return nil
}

// LeaveAll removes the connection from every room it is in, notifying the
// remaining members with player:leave. The durable membership removal is
// best-effort.
func (r *Registry) LeaveAll(ctx context.Context, conn Messenger) {
	r.mu.Lock()
	var left []string
	for roomID, members := range r.rooms {
		if _, ok := members[conn.ID()]; ok {
			delete(members, conn.ID())
			left = append(left, roomID)
		}
	}
	delete(r.byConn, conn.ID())
	remaining := make(map[string][]Messenger, len(left))
	for _, roomID := range left {
		for _, m := range r.rooms[roomID] {
			remaining[roomID] = append(remaining[roomID], m)
		}
	}
	r.mu.Unlock()

	for _, roomID := range left {
		if err := r.cache.SRem(ctx, store.RoomMembersKey(roomID), conn.ID()); err != nil {
			r.logger.Warn("Membership removal failed",
				log.String("room_id", roomID),
				log.Error(err))
		}

		leave := protocol.MustEnvelope(protocol.KindPlayerLeave, PresencePayload{
			UserID:       conn.UserID(),
			ConnectionID: conn.ID(),
		})
		leave.RoomID = roomID
		for _, peer := range remaining[roomID] {
			if err := peer.Send(leave); err != nil {
				r.logger.Warn("Leave notification failed",
					log.String("room_id", roomID),
					log.String("connection_id", peer.ID()),
					log.Error(err))
			}
		}
		r.logger.Info("Connection left room",
			log.String("connection_id", conn.ID()),
			log.String("room_id", roomID))
	}
}

// RoomOf reports the room the connection currently occupies.
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roomID, ok := r.byConn[connID]
	return roomID, ok
}

// Members returns the current members of roomID.
func (r *Registry) Members(roomID string) []Messenger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make([]Messenger, 0, len(r.rooms[roomID]))
	for _, m := range r.rooms[roomID] {
		members = append(members, m)
	}
	return members
}

// States enumerates every room in the global index and parses its aggregate
// state.
func (r *Registry) States(ctx context.Context) ([]State, error) {
	ids, err := r.cache.SMembers(ctx, store.RoomsKey)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	states := make([]State, 0, len(ids))
	for _, roomID := range ids {
		doc, err := r.cache.Get(ctx, store.RoomKey(roomID))
		if err == store.ErrCacheMiss {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load room state %s: %w", roomID, err)
		}
		var state State
		if err = json.Unmarshal([]byte(doc), &state); err != nil {
			r.logger.Warn("Malformed room state skipped",
				log.String("room_id", roomID),
				log.Error(err))
			continue
		}
		state.ID = roomID
		states = append(states, state)
	}
	return states, nil
}

// Broadcast emits a state_update carrying each room's aggregate state, with a
// fresh timestamp, to every member of that room.
func (r *Registry) Broadcast(states []State) {
	for _, state := range states {
		env := protocol.MustEnvelope(protocol.KindStateUpdate, state)
		env.RoomID = state.ID
		for _, member := range r.Members(state.ID) {
			if err := member.Send(env); err != nil {
				r.logger.Warn("State broadcast failed",
					log.String("room_id", state.ID),
					log.String("connection_id", member.ID()),
					log.Error(err))
			}
		}
	}
}

// Send delivers env to every member of roomID except exceptID. Used for the
// low-latency rebroadcast of client-originated messages.
func (r *Registry) Send(roomID string, env protocol.Envelope, exceptID string) {
	for _, member := range r.Members(roomID) {
		if member.ID() == exceptID {
			continue
		}
		if err := member.Send(env); err != nil {
			r.logger.Warn("Room send failed",
				log.String("room_id", roomID),
				log.String("connection_id", member.ID()),
				log.Error(err))
		}
	}
}

// ReapEmpty destroys rooms that currently have no members: their entities,
// aggregate state, physics blob, and index entry are all removed. Opt-in via
// configuration; when disabled, empty rooms persist until explicitly
// destroyed, matching the historical behavior.
func (r *Registry) ReapEmpty(ctx context.Context) error {
	ids, err := r.cache.SMembers(ctx, store.RoomsKey)
	if err != nil {
		return fmt.Errorf("list rooms: %w", err)
	}

	for _, roomID := range ids {
		r.mu.RLock()
		occupied := len(r.rooms[roomID]) > 0
		r.mu.RUnlock()
		if occupied {
			continue
		}
		if err := r.Destroy(ctx, roomID); err != nil {
			return err
		}
	}
	return nil
}

// Destroy removes the room and every entity scoped to it.
func (r *Registry) Destroy(ctx context.Context, roomID string) error {
	entityIDs, err := r.cache.SMembers(ctx, store.RoomEntitiesKey(roomID))
	if err != nil {
		return fmt.Errorf("list room entities %s: %w", roomID, err)
	}
	for _, id := range entityIDs {
		if err := r.entities.Remove(ctx, id); err != nil {
			r.logger.Warn("Entity removal during destroy failed",
				log.String("room_id", roomID),
				log.String("entity_id", id),
				log.Error(err))
		}
	}

	ops := []store.CacheOp{
		store.DelOp(store.RoomKey(roomID)),
		store.DelOp(store.PhysicsKey(roomID)),
		store.DelOp(store.RoomEntitiesKey(roomID)),
		store.DelOp(store.RoomMembersKey(roomID)),
		store.SRemOp(store.RoomsKey, roomID),
	}
	if err = r.cache.Pipeline(ctx, ops); err != nil {
		return fmt.Errorf("destroy room %s: %w", roomID, err)
	}

	r.mu.Lock()
	delete(r.rooms, roomID)
	r.mu.Unlock()

	r.logger.Info("Room destroyed", log.String("room_id", roomID))
	return nil
}

// SendState delivers the room's current resolved state to a single
// connection, without touching membership.
func (r *Registry) SendState(ctx context.Context, conn Messenger, roomID string) error {
	env, err := r.roomStateEnvelope(ctx, roomID)
	if err != nil {
		return err
	}
	return conn.Send(env)
}

func (r *Registry) roomStateEnvelope(ctx context.Context, roomID string) (protocol.Envelope, error) {
	entityIDs, err := r.cache.SMembers(ctx, store.RoomEntitiesKey(roomID))
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("list room entities %s: %w", roomID, err)
	}

	resolved := make([]entity.Entity, 0, len(entityIDs))
	for _, id := range entityIDs {
		e, err := r.entities.Get(ctx, id)
		if err == store.ErrEntityNotFound {
			continue
		}
		if err != nil {
			return protocol.Envelope{}, err
		}
		resolved = append(resolved, e)
	}

	env := protocol.MustEnvelope(protocol.KindRoomState, RoomStatePayload{
		RoomID:   roomID,
		Entities: resolved,
	})
	env.RoomID = roomID
	return env, nil
}
