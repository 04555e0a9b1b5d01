package collab

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/devsync/devsync/pkg/proto"
)

func (s *Server) handleDocJoin(ctx context.Context, c *client, req proto.DocJoinRequest) {
	if req.RoomID == "" || req.FileID == "" {
		return
	}

	state := s.registry.SyncState(ctx, req.RoomID, req.FileID)
	c.emit(proto.EventDocSync, proto.DocSync{FileID: req.FileID, Update: state})
}

func (s *Server) handleDocUpdate(ctx context.Context, c *client, req proto.DocUpdate) {
	if req.RoomID == "" || req.FileID == "" || len(req.Update) == 0 {
		return
	}
	if !s.canEdit(ctx, req.RoomID, c.user()) {
		return
	}

	if err := s.registry.ApplyRemoteUpdate(ctx, req.RoomID, req.FileID, req.Update); err != nil {
		log.Warn().Err(err).Str("room", req.RoomID).Str("file", req.FileID).Msg("apply document update failed")
		return
	}

	// Rebroadcast to the rest of the room, excluding the sender; the
	// merge engine is convergent so delivery order does not matter.
	s.hub.broadcastExcept(req.RoomID, c.id, proto.EventDocUpdate, proto.DocSync{
		FileID: req.FileID,
		Update: req.Update,
	})
}

// handleAwareness is a pure relay: cursor and selection state never
// touches storage.
func (s *Server) handleAwareness(_ context.Context, c *client, req proto.AwarenessUpdate) {
	if req.RoomID == "" {
		return
	}
	s.hub.broadcastExcept(req.RoomID, c.id, proto.EventAwareness, req)
}
