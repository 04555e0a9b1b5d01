package collab

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devsync/devsync/internal/membership"
	"github.com/devsync/devsync/pkg/proto"
)

// buildPresenceUser creates the presence entry for a joining connection.
// Name falls back to a user-id prefix; the color is assigned server-side.
func buildPresenceUser(userID, name string) proto.PresenceUser {
	if name == "" {
		if len(userID) > 8 {
			name = userID[:8]
		} else {
			name = userID
		}
	}
	return proto.PresenceUser{
		UserID:   userID,
		Name:     name,
		Color:    fmt.Sprintf("#%06x", rand.IntN(1<<24)),
		Online:   true,
		LastSeen: time.Now().UnixMilli(),
	}
}

func (s *Server) handleRoomCreate(ctx context.Context, c *client, req proto.RoomCreateRequest) {
	if req.UserID == "" || req.Name == "" {
		c.emit(proto.EventRoomError, proto.RoomError{Message: "name and userId are required"})
		return
	}
	c.setUser(req.UserID)

	roomID, err := s.members.CreateRoom(ctx, req.Name, req.UserID)
	if err != nil {
		log.Error().Err(err).Str("user", req.UserID).Msg("room creation failed")
		c.emit(proto.EventRoomError, proto.RoomError{Message: "Room creation failed"})
		return
	}

	log.Info().Str("room", roomID).Str("owner", req.UserID).Msg("room created")
	c.emit(proto.EventRoomCreated, proto.RoomCreated{RoomID: roomID})
}

func (s *Server) handleRoomJoin(ctx context.Context, c *client, req proto.RoomJoinRequest) {
	if req.RoomID == "" || req.UserID == "" {
		c.emit(proto.EventRoomError, proto.RoomError{Message: "roomId and userId are required"})
		return
	}

	meta, err := s.members.Room(ctx, req.RoomID)
	if err != nil {
		if errors.Is(err, membership.ErrNotFound) {
			c.emit(proto.EventRoomError, proto.RoomError{
				RoomID:  req.RoomID,
				Code:    proto.CodeRoomNotFound,
				Message: "Room not found",
			})
			return
		}
		log.Error().Err(err).Str("room", req.RoomID).Msg("room join failed")
		c.emit(proto.EventRoomError, proto.RoomError{RoomID: req.RoomID, Message: "Room join failed"})
		return
	}

	c.setUser(req.UserID)

	_, err = s.members.Member(ctx, req.RoomID, req.UserID)
	if errors.Is(err, membership.ErrNotFound) {
		// Not yet a member: record a pending request, tell the owner,
		// and answer with a pending error. The caller may be approved
		// later without reconnecting.
		request, upsertErr := s.members.UpsertJoinRequest(ctx, membership.JoinRequest{
			RoomID:      req.RoomID,
			UserID:      req.UserID,
			Name:        req.Name,
			Email:       req.Email,
			RequestedAt: time.Now(),
		})
		if upsertErr != nil {
			log.Error().Err(upsertErr).Str("room", req.RoomID).Msg("record join request failed")
			c.emit(proto.EventRoomError, proto.RoomError{RoomID: req.RoomID, Message: "Room join failed"})
			return
		}

		payload := proto.JoinRequest{
			RoomID:      request.RoomID,
			UserID:      request.UserID,
			Name:        request.Name,
			Email:       request.Email,
			RequestedAt: request.RequestedAt.UnixMilli(),
		}
		for _, ownerConn := range s.hub.userClients(meta.OwnerID) {
			ownerConn.emit(proto.EventRoomJoinRequest, payload)
		}

		c.emit(proto.EventRoomError, proto.RoomError{
			RoomID:  req.RoomID,
			Code:    proto.CodePendingRole,
			Message: "Waiting for room owner to assign your role",
		})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("room", req.RoomID).Msg("room join failed")
		c.emit(proto.EventRoomError, proto.RoomError{RoomID: req.RoomID, Message: "Room join failed"})
		return
	}

	s.finalizeJoin(ctx, c, req.RoomID, req.UserID, req.Name)
}

// finalizeJoin completes a join for an approved member: clears any
// pending request, adds the connection to the multicast group, records
// presence, pushes the full snapshots to the caller, and announces the
// join to the rest of the room.
func (s *Server) finalizeJoin(ctx context.Context, c *client, roomID, userID, name string) {
	c.setUser(userID)

	if err := s.members.ClearJoinRequest(ctx, roomID, userID); err != nil {
		log.Warn().Err(err).Str("room", roomID).Str("user", userID).Msg("clear join request failed")
	}

	room := s.registry.Room(ctx, roomID)
	s.hub.join(roomID, c)

	entry := buildPresenceUser(userID, name)
	room.mu.Lock()
	room.presence[c.id] = entry
	room.mu.Unlock()

	s.emitRoomSnapshot(ctx, c, roomID)
	c.emit(proto.EventFSSnapshot, proto.FSSnapshot{RoomID: roomID, Nodes: room.treeSnapshot()})
	c.emit(proto.EventPresenceUpdate, proto.PresenceUpdate{RoomID: roomID, Users: room.presenceSnapshot()})

	s.hub.broadcastExcept(roomID, c.id, proto.EventPresenceJoin, entry)

	log.Info().Str("room", roomID).Str("user", userID).Str("conn", c.id).Msg("user joined room")
}

// emitRoomSnapshot pushes room metadata, members, and tree to one
// connection.
func (s *Server) emitRoomSnapshot(ctx context.Context, c *client, roomID string) {
	meta, err := s.members.Room(ctx, roomID)
	if err != nil {
		return
	}
	room := s.registry.Room(ctx, roomID)

	members := make([]proto.Member, 0, len(meta.Members))
	for _, m := range meta.Members {
		members = append(members, proto.Member{UserID: m.UserID, Role: m.Role})
	}

	c.emit(proto.EventRoomSnapshot, proto.RoomSnapshot{
		RoomID:  roomID,
		Room:    proto.RoomInfo{ID: meta.ID, Name: meta.Name, OwnerID: meta.OwnerID},
		Members: members,
		Tree:    room.treeSnapshot(),
	})
}

func (s *Server) handleAssignRole(ctx context.Context, c *client, req proto.AssignRoleRequest) {
	callerID := c.user()
	if callerID == "" {
		c.emit(proto.EventRoomError, proto.RoomError{
			RoomID: req.RoomID, Code: proto.CodeForbidden, Message: "Unauthorized",
		})
		return
	}
	if !membership.AssignableRole(req.Role) {
		c.emit(proto.EventRoomError, proto.RoomError{
			RoomID: req.RoomID, Code: proto.CodeForbidden, Message: "Invalid role",
		})
		return
	}

	meta, err := s.members.Room(ctx, req.RoomID)
	if err != nil {
		if errors.Is(err, membership.ErrNotFound) {
			c.emit(proto.EventRoomError, proto.RoomError{
				RoomID: req.RoomID, Code: proto.CodeRoomNotFound, Message: "Room not found",
			})
			return
		}
		log.Error().Err(err).Str("room", req.RoomID).Msg("role assignment failed")
		c.emit(proto.EventRoomError, proto.RoomError{RoomID: req.RoomID, Message: "Role assignment failed"})
		return
	}
	if meta.OwnerID != callerID {
		c.emit(proto.EventRoomError, proto.RoomError{
			RoomID: req.RoomID, Code: proto.CodeForbidden, Message: "Only the owner can assign roles",
		})
		return
	}

	if err := s.members.AssignRole(ctx, req.RoomID, req.UserID, req.Role); err != nil {
		log.Error().Err(err).Str("room", req.RoomID).Str("user", req.UserID).Msg("role assignment failed")
		c.emit(proto.EventRoomError, proto.RoomError{RoomID: req.RoomID, Message: "Role assignment failed"})
		return
	}

	log.Info().Str("room", req.RoomID).Str("user", req.UserID).Str("role", req.Role).Msg("role assigned")

	// The pending request carries the display name given at join time.
	var pendingName string
	if pending, pendingErr := s.members.PendingJoinRequest(ctx, req.RoomID, req.UserID); pendingErr == nil {
		pendingName = pending.Name
	}

	// Owners get refreshed member lists; the target's every live
	// connection transitions to active without re-joining.
	for _, ownerConn := range s.hub.userClients(meta.OwnerID) {
		s.emitRoomSnapshot(ctx, ownerConn, req.RoomID)
	}
	for _, targetConn := range s.hub.userClients(req.UserID) {
		s.finalizeJoin(ctx, targetConn, req.RoomID, req.UserID, pendingName)
	}
}

func (s *Server) handleRoomLeave(_ context.Context, c *client, req proto.RoomLeaveRequest) {
	s.hub.leave(req.RoomID, c)

	room := s.registry.Peek(req.RoomID)
	if room == nil {
		return
	}

	room.mu.Lock()
	_, present := room.presence[c.id]
	delete(room.presence, c.id)
	room.mu.Unlock()

	if present {
		// Announce by user id, not connection id, so clients can track
		// users with several connections.
		s.hub.broadcast(req.RoomID, proto.EventPresenceLeave, proto.PresenceLeave{UserID: c.user()})
	}
}

// handleDisconnect removes the connection from every room it joined,
// announces presence departures, and sweeps its terminal sessions.
func (s *Server) handleDisconnect(c *client) {
	roomIDs := s.hub.unregister(c)
	for _, roomID := range roomIDs {
		room := s.registry.Peek(roomID)
		if room == nil {
			continue
		}
		room.mu.Lock()
		_, present := room.presence[c.id]
		delete(room.presence, c.id)
		room.mu.Unlock()

		if present {
			s.hub.broadcast(roomID, proto.EventPresenceLeave, proto.PresenceLeave{UserID: c.user()})
		}
	}

	s.terminals.disconnect(c.id)
	s.metrics.Connections.Set(float64(s.hub.count()))
	log.Debug().Str("conn", c.id).Msg("connection closed")
}

// canEdit re-resolves the caller's current role from the membership
// store. Non-members and the read-only tier are rejected; the callers
// drop the operation silently.
func (s *Server) canEdit(ctx context.Context, roomID, userID string) bool {
	if userID == "" {
		return false
	}
	member, err := s.members.Member(ctx, roomID, userID)
	if err != nil {
		return false
	}
	return member.Role != membership.RoleViewer
}
