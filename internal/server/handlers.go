package server

import (
	"context"
	"errors"

	"github.com/aethersync/aethersync/internal/core/entity"
	"github.com/aethersync/aethersync/internal/core/observability/log"
	"github.com/aethersync/aethersync/internal/core/protocol"
	"github.com/aethersync/aethersync/internal/core/store"
)

// AuthPayload is the body of the authenticate message.
type AuthPayload struct {
	Token string `json:"token"`
}

// AuthenticatedPayload is the body of the authenticated reply.
type AuthenticatedPayload struct {
	UserID string `json:"userId"`
}

// JoinRoomPayload is the body of join_room and room:join.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

// DeletePayload is the body of entity:delete.
type DeletePayload struct {
	ID string `json:"id"`
}

// PrivatePayload is the body of chat:private. Text is opaque to the server.
type PrivatePayload struct {
	TargetUserID string `json:"targetUserId"`
	Text         string `json:"text"`
}

func (s *Server) registerHandlers() {
	s.registry.Register(protocol.KindAuthenticate, s.handleAuthenticate)
	s.registry.Register(protocol.KindJoinRoom, s.handleJoinRoom)
	s.registry.Register(protocol.KindRoomJoin, s.handleJoinRoom)
	s.registry.Register(protocol.KindRoomLeave, s.handleLeaveRoom)
	s.registry.Register(protocol.KindRoomList, s.handleRoomList)
	s.registry.Register(protocol.KindEntityCreate, s.handleEntityCreate)
	s.registry.Register(protocol.KindEntityUpdate, s.handleEntityUpdate)
	s.registry.Register(protocol.KindEntityDelete, s.handleEntityDelete)
	s.registry.Register(protocol.KindEntitySync, s.handleEntitySync)
	s.registry.Register(protocol.KindChatMessage, s.relayToRoom)
	s.registry.Register(protocol.KindChatPrivate, s.handleChatPrivate)
	s.registry.Register(protocol.KindPlayerInput, s.relayToRoom)
	s.registry.Register(protocol.KindPlayerState, s.relayToRoom)
}

// handleAuthenticate verifies the token, binds the identity to the connection,
// and drops the client into the default room.
func (s *Server) handleAuthenticate(ctx context.Context, senderID string, env protocol.Envelope) error {
	conn, ok := s.connByID(senderID)
	if !ok {
		return ErrConnClosed
	}

	var payload AuthPayload
	if err := env.DecodeData(&payload); err != nil {
		return s.sendAuthError(conn, protocol.WrapError(protocol.ErrKindAuth, "malformed authenticate payload", err))
	}

	identity, err := s.auth.Verify(ctx, payload.Token)
	if err != nil {
		return s.sendAuthError(conn, protocol.WrapError(protocol.ErrKindAuth, "authentication failed", err))
	}

	conn.SetUser(identity.UserID)
	if err = conn.Send(protocol.MustEnvelope(protocol.KindAuthenticated, AuthenticatedPayload{UserID: identity.UserID})); err != nil {
		return err
	}

	return s.rooms.Join(ctx, conn, s.cfg.DefaultRoom)
}

func (s *Server) handleJoinRoom(ctx context.Context, senderID string, env protocol.Envelope) error {
	conn, err := s.authedConn(senderID)
	if err != nil {
		return err
	}

	var payload JoinRoomPayload
	if err := env.DecodeData(&payload); err != nil {
		return protocol.WrapError(protocol.ErrKindValidation, "malformed join payload", err)
	}
	if payload.RoomID == "" {
		return protocol.NewError(protocol.ErrKindValidation, "roomId is required")
	}

	return s.rooms.Join(ctx, conn, payload.RoomID)
}

func (s *Server) handleLeaveRoom(ctx context.Context, senderID string, _ protocol.Envelope) error {
	conn, err := s.authedConn(senderID)
	if err != nil {
		return err
	}
	s.rooms.LeaveAll(ctx, conn)
	return nil
}

func (s *Server) handleRoomList(ctx context.Context, senderID string, _ protocol.Envelope) error {
	conn, err := s.authedConn(senderID)
	if err != nil {
		return err
	}

	states, err := s.rooms.States(ctx)
	if err != nil {
		return protocol.WrapError(protocol.ErrKindCache, "room listing failed", err)
	}
	return conn.Send(protocol.MustEnvelope(protocol.KindRoomList, states))
}

// handleEntityCreate stamps ownership and room scope onto the entity, persists
// it through both tiers, and relays the original message to the rest of the
// room. The low-latency relay path runs even though the authoritative state
// also reaches peers on the next tick broadcast.
func (s *Server) handleEntityCreate(ctx context.Context, senderID string, env protocol.Envelope) error {
	conn, err := s.authedConn(senderID)
	if err != nil {
		return err
	}

	var e entity.Entity
	if err := env.DecodeData(&e); err != nil {
		return protocol.WrapError(protocol.ErrKindValidation, "malformed entity payload", err)
	}
	if e.ID == "" {
		return protocol.NewError(protocol.ErrKindValidation, "entity id is required")
	}

	roomID, ok := s.rooms.RoomOf(senderID)
	if !ok {
		return protocol.NewError(protocol.ErrKindValidation, "join a room before creating entities")
	}
	e.Components.OwnerID = conn.UserID()
	e.Components.RoomID = roomID

	if err := s.entities.Create(ctx, e); err != nil {
		return protocol.WrapError(protocol.ErrKindDurable, "entity create failed", err).
			WithContext("entityId", e.ID)
	}

	s.relay(conn, roomID, env)
	return nil
}

func (s *Server) handleEntityUpdate(ctx context.Context, senderID string, env protocol.Envelope) error {
	conn, err := s.authedConn(senderID)
	if err != nil {
		return err
	}

	var patch entity.Patch
	if err := env.DecodeData(&patch); err != nil {
		return protocol.WrapError(protocol.ErrKindValidation, "malformed patch payload", err)
	}
	if patch.ID == "" {
		return protocol.NewError(protocol.ErrKindValidation, "entity id is required")
	}

	updated, err := s.entities.Update(ctx, patch.ID, patch)
	if err != nil {
		if errors.Is(err, store.ErrEntityNotFound) {
			return protocol.NewError(protocol.ErrKindNotFound, "entity not found").
				WithContext("entityId", patch.ID)
		}
		return protocol.WrapError(protocol.ErrKindCache, "entity update failed", err).
			WithContext("entityId", patch.ID)
	}

	s.relay(conn, updated.Components.RoomID, env)
	return nil
}

func (s *Server) handleEntityDelete(ctx context.Context, senderID string, env protocol.Envelope) error {
	conn, err := s.authedConn(senderID)
	if err != nil {
		return err
	}

	var payload DeletePayload
	if err := env.DecodeData(&payload); err != nil {
		return protocol.WrapError(protocol.ErrKindValidation, "malformed delete payload", err)
	}
	if payload.ID == "" {
		return protocol.NewError(protocol.ErrKindValidation, "entity id is required")
	}

	roomID, _ := s.rooms.RoomOf(senderID)
	if err := s.entities.Remove(ctx, payload.ID); err != nil {
		if errors.Is(err, store.ErrEntityNotFound) {
			return protocol.NewError(protocol.ErrKindNotFound, "entity not found").
				WithContext("entityId", payload.ID)
		}
		return protocol.WrapError(protocol.ErrKindCache, "entity delete failed", err).
			WithContext("entityId", payload.ID)
	}

	s.relay(conn, roomID, env)
	return nil
}

// handleEntitySync resends the full resolved state of the sender's current
// room, for clients recovering from a missed broadcast.
func (s *Server) handleEntitySync(ctx context.Context, senderID string, _ protocol.Envelope) error {
	conn, err := s.authedConn(senderID)
	if err != nil {
		return err
	}
	roomID, ok := s.rooms.RoomOf(senderID)
	if !ok {
		return protocol.NewError(protocol.ErrKindValidation, "not in a room")
	}
	return s.rooms.SendState(ctx, conn, roomID)
}

func (s *Server) handleChatPrivate(_ context.Context, senderID string, env protocol.Envelope) error {
	conn, err := s.authedConn(senderID)
	if err != nil {
		return err
	}

	var payload PrivatePayload
	if err := env.DecodeData(&payload); err != nil {
		return protocol.WrapError(protocol.ErrKindValidation, "malformed private message", err)
	}

	target, ok := s.connByUser(payload.TargetUserID)
	if !ok {
		return protocol.NewError(protocol.ErrKindNotFound, "recipient not connected").
			WithContext("targetUserId", payload.TargetUserID)
	}

	env.SenderID = conn.UserID()
	return target.Send(env)
}

// relayToRoom forwards the message to everyone else in the sender's room.
func (s *Server) relayToRoom(_ context.Context, senderID string, env protocol.Envelope) error {
	conn, err := s.authedConn(senderID)
	if err != nil {
		return err
	}
	roomID, ok := s.rooms.RoomOf(senderID)
	if !ok {
		return protocol.NewError(protocol.ErrKindValidation, "not in a room")
	}
	s.relay(conn, roomID, env)
	return nil
}

// relay rebroadcasts a client-originated envelope to the room, excluding the
// sender and stamping the sender's identity so recipients can attribute it.
func (s *Server) relay(conn ClientConn, roomID string, env protocol.Envelope) {
	if roomID == "" {
		return
	}
	env.SenderID = conn.UserID()
	env.RoomID = roomID
	s.rooms.Send(roomID, env, conn.ID())
}

// authedConn resolves the sender and rejects unauthenticated connections.
func (s *Server) authedConn(senderID string) (ClientConn, error) {
	conn, ok := s.connByID(senderID)
	if !ok {
		return nil, ErrConnClosed
	}
	if !conn.Authenticated() {
		return nil, protocol.WrapError(protocol.ErrKindNotAuthenticated, "authenticate first", ErrNotAuthenticated)
	}
	return conn, nil
}

// sendAuthError reports an authentication failure on the dedicated auth_error
// kind. The dispatch error is swallowed on purpose: the failure already
// reached the client.
func (s *Server) sendAuthError(conn ClientConn, coded *protocol.CodedError) error {
	if err := conn.Send(protocol.MustEnvelope(protocol.KindAuthError, coded)); err != nil {
		s.logger.Warn("Auth error delivery failed",
			log.String("connection_id", conn.ID()),
			log.Error(err))
	}
	return nil
}

// sendError maps a handler failure onto the wire. Coded errors go out as-is;
// anything else is wrapped so the client always sees a stable code.
func (s *Server) sendError(conn ClientConn, err error) {
	var coded *protocol.CodedError
	if !errors.As(err, &coded) {
		coded = protocol.WrapError(protocol.ErrKindValidation, err.Error(), err)
	}
	if sendErr := conn.Send(protocol.MustEnvelope(protocol.KindError, coded)); sendErr != nil {
		s.logger.Warn("Error delivery failed",
			log.String("connection_id", conn.ID()),
			log.Error(sendErr))
	}
}
