package protocol

// Kind is the discriminant of the wire envelope. The set is closed; messages
// carrying any other value are rejected before dispatch.
type Kind string

const (
	// Entity messages
	KindEntityCreate Kind = "entity:create"
	KindEntityUpdate Kind = "entity:update"
	KindEntityDelete Kind = "entity:delete"
	KindEntitySync   Kind = "entity:sync"

	// Player messages
	KindPlayerJoin  Kind = "player:join"
	KindPlayerLeave Kind = "player:leave"
	KindPlayerInput Kind = "player:input"
	KindPlayerState Kind = "player:state"

	// Room messages
	KindRoomJoin  Kind = "room:join"
	KindRoomLeave Kind = "room:leave"
	KindRoomList  Kind = "room:list"

	// Chat messages
	KindChatMessage Kind = "chat:message"
	KindChatPrivate Kind = "chat:private"

	// System messages
	KindSystemError Kind = "system:error"
	KindSystemInfo  Kind = "system:info"
)

// Transport-level event kinds. These are not part of the entity/player/room
// message taxonomy; they are the connection lifecycle events the server and
// client exchange directly (the original transport carried them as bare
// socket events next to the typed messages).
const (
	KindAuthenticate  Kind = "authenticate"
	KindAuthenticated Kind = "authenticated"
	KindAuthError     Kind = "auth_error"
	KindJoinRoom      Kind = "join_room"
	KindRoomState     Kind = "room_state"
	KindStateUpdate   Kind = "state_update"
	KindError         Kind = "error"
)

var allKinds = map[Kind]struct{}{
	KindEntityCreate: {},
	KindEntityUpdate: {},
	KindEntityDelete: {},
	KindEntitySync:   {},
	KindPlayerJoin:   {},
	KindPlayerLeave:  {},
	KindPlayerInput:  {},
	KindPlayerState:  {},
	KindRoomJoin:     {},
	KindRoomLeave:    {},
	KindRoomList:     {},
	KindChatMessage:  {},
	KindChatPrivate:  {},
	KindSystemError:  {},
	KindSystemInfo:   {},

	KindAuthenticate:  {},
	KindAuthenticated: {},
	KindAuthError:     {},
	KindJoinRoom:      {},
	KindRoomState:     {},
	KindStateUpdate:   {},
	KindError:         {},
}

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool {
	_, ok := allKinds[k]
	return ok
}

func (k Kind) String() string {
	return string(k)
}
