package collab

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/devsync/devsync/pkg/proto"
)

func (s *Server) handleFSCreate(ctx context.Context, c *client, req proto.FSCreateRequest) {
	if req.RoomID == "" || req.Name == "" {
		return
	}
	if req.Type != proto.NodeFile && req.Type != proto.NodeDirectory {
		return
	}
	if !s.canEdit(ctx, req.RoomID, c.user()) {
		return
	}

	room := s.registry.Peek(req.RoomID)
	if room == nil {
		return
	}

	room.mu.Lock()
	node := newNode(room.tree, req.ParentID, req.Name, req.Type)
	room.tree = append(room.tree, node)
	tree := make([]proto.FSNode, len(room.tree))
	copy(tree, room.tree)
	room.mu.Unlock()

	s.registry.persistTree(ctx, req.RoomID, tree)

	log.Debug().Str("room", req.RoomID).Str("node", node.ID).Str("path", node.Path).Msg("node created")
	s.hub.broadcast(req.RoomID, proto.EventFSCreate, node)
}

func (s *Server) handleFSRename(ctx context.Context, c *client, req proto.FSRenameRequest) {
	if req.RoomID == "" || req.ID == "" || req.Name == "" {
		return
	}
	if !s.canEdit(ctx, req.RoomID, c.user()) {
		return
	}

	room := s.registry.Peek(req.RoomID)
	if room == nil {
		return
	}

	room.mu.Lock()
	node := renameNode(room.tree, req.ID, req.Name)
	if node == nil {
		// Unknown id is a no-op, not an error.
		room.mu.Unlock()
		return
	}
	renamed := *node
	tree := make([]proto.FSNode, len(room.tree))
	copy(tree, room.tree)
	room.mu.Unlock()

	s.registry.persistTree(ctx, req.RoomID, tree)

	s.hub.broadcast(req.RoomID, proto.EventFSRename, renamed)
}

func (s *Server) handleFSDelete(ctx context.Context, c *client, req proto.FSDeleteRequest) {
	if req.RoomID == "" || req.ID == "" {
		return
	}
	if !s.canEdit(ctx, req.RoomID, c.user()) {
		return
	}

	room := s.registry.Peek(req.RoomID)
	if room == nil {
		return
	}

	room.mu.Lock()
	newTree, removedIDs := deleteSubtree(room.tree, req.ID)
	room.tree = newTree
	tree := make([]proto.FSNode, len(newTree))
	copy(tree, newTree)
	room.mu.Unlock()

	s.registry.persistTree(ctx, req.RoomID, tree)
	s.registry.CascadeDeleteDocs(ctx, room, req.RoomID, removedIDs)

	log.Debug().Str("room", req.RoomID).Str("node", req.ID).Int("removed", len(removedIDs)).Msg("subtree deleted")
	s.hub.broadcast(req.RoomID, proto.EventFSDelete, proto.FSDeleted{ID: req.ID})
}
