package store

import "fmt"

// Cache key namespace. Every live-session key lives under one of these
// prefixes so tooling can inspect or flush a single concern.
const (
	// RoomsKey is the global set of known room ids.
	RoomsKey = "rooms"
)

// EntityKey returns the cache key holding an entity's JSON document.
func EntityKey(id string) string {
	return fmt.Sprintf("entity:%s", id)
}

// RoomKey returns the cache key holding a room's aggregate JSON state.
func RoomKey(roomID string) string {
	return fmt.Sprintf("room:%s", roomID)
}

// RoomEntitiesKey returns the cache set of entity ids scoped to a room.
func RoomEntitiesKey(roomID string) string {
	return fmt.Sprintf("room:%s:entities", roomID)
}

// RoomMembersKey returns the cache set of connection ids joined to a room.
func RoomMembersKey(roomID string) string {
	return fmt.Sprintf("room:%s:members", roomID)
}

// PhysicsKey returns the cache key holding a room's serialized body list.
func PhysicsKey(roomID string) string {
	return fmt.Sprintf("physics:%s", roomID)
}
