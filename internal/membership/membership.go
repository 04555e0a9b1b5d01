// Package membership provides the room/member/role record store and the
// pending join-request workflow behind it.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devsync/devsync/internal/config"
)

// Role tiers. Owner is assigned at room creation only; viewer and editor
// are the assignable tiers. Viewer is the read-only tier.
const (
	RoleOwner  = "owner"
	RoleEditor = "editor"
	RoleViewer = "viewer"
)

// AssignableRole reports whether a role may be granted via role
// assignment.
func AssignableRole(role string) bool {
	return role == RoleEditor || role == RoleViewer
}

// ErrNotFound is returned when a room, member, or join request is absent.
var ErrNotFound = errors.New("membership record not found")

// Room is the stored metadata for a collaboration room.
type Room struct {
	ID      string
	Name    string
	OwnerID string
}

// Member pairs a user with their role in one room.
type Member struct {
	UserID string
	Role   string
}

// RoomWithMembers is a room plus its full member list.
type RoomWithMembers struct {
	Room
	Members []Member
}

// JoinRequest is a pending join attempt awaiting owner approval. One per
// (room, user); re-requests supersede.
type JoinRequest struct {
	RoomID      string
	UserID      string
	Name        string
	Email       string
	RequestedAt time.Time
}

// Store is the membership record store. Implementations: memory (dev and
// tests) and postgres.
type Store interface {
	// CreateRoom allocates a room with the creator as owner and returns
	// the new room id.
	CreateRoom(ctx context.Context, name, ownerID string) (string, error)

	// Room returns a room with its members, or ErrNotFound.
	Room(ctx context.Context, roomID string) (*RoomWithMembers, error)

	// Member returns the caller's membership in a room, or ErrNotFound
	// when the user is not a member.
	Member(ctx context.Context, roomID, userID string) (*Member, error)

	// AssignRole persists a role for a user, adding the membership if
	// absent.
	AssignRole(ctx context.Context, roomID, userID, role string) error

	// UpsertJoinRequest records a pending join request, superseding any
	// prior request by the same user for the same room.
	UpsertJoinRequest(ctx context.Context, req JoinRequest) (*JoinRequest, error)

	// PendingJoinRequest returns the pending request, or ErrNotFound.
	PendingJoinRequest(ctx context.Context, roomID, userID string) (*JoinRequest, error)

	// ClearJoinRequest removes a pending request; clearing a missing
	// request is a no-op.
	ClearJoinRequest(ctx context.Context, roomID, userID string) error

	Close() error
}

// New creates a Store from the configured provider.
func New(cfg config.MembershipConfig) (Store, error) {
	switch cfg.Provider {
	case "memory":
		return NewMemory(), nil
	case "postgres":
		return NewPostgres(cfg.Postgres.DSN)
	default:
		return nil, fmt.Errorf("unknown membership provider: %s", cfg.Provider)
	}
}
