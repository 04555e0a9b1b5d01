package membership

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process membership store for development and tests.
type Memory struct {
	mu       sync.RWMutex
	rooms    map[string]*Room
	members  map[string]map[string]string // roomID -> userID -> role
	requests map[string]map[string]JoinRequest
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		rooms:    make(map[string]*Room),
		members:  make(map[string]map[string]string),
		requests: make(map[string]map[string]JoinRequest),
	}
}

// CreateRoom allocates a room with the creator as owner.
func (m *Memory) CreateRoom(_ context.Context, name, ownerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roomID := uuid.NewString()
	m.rooms[roomID] = &Room{ID: roomID, Name: name, OwnerID: ownerID}
	m.members[roomID] = map[string]string{ownerID: RoleOwner}
	return roomID, nil
}

// Room returns a room with its members.
func (m *Memory) Room(_ context.Context, roomID string) (*RoomWithMembers, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, ErrNotFound
	}

	out := &RoomWithMembers{Room: *room}
	for userID, role := range m.members[roomID] {
		out.Members = append(out.Members, Member{UserID: userID, Role: role})
	}
	return out, nil
}

// Member returns the user's membership in a room.
func (m *Memory) Member(_ context.Context, roomID, userID string) (*Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	role, ok := m.members[roomID][userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &Member{UserID: userID, Role: role}, nil
}

// AssignRole persists a role, adding the membership if absent.
func (m *Memory) AssignRole(_ context.Context, roomID, userID, role string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[roomID]; !ok {
		return ErrNotFound
	}
	if m.members[roomID] == nil {
		m.members[roomID] = make(map[string]string)
	}
	m.members[roomID][userID] = role
	return nil
}

// UpsertJoinRequest records a pending request, superseding any prior one.
func (m *Memory) UpsertJoinRequest(_ context.Context, req JoinRequest) (*JoinRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.requests[req.RoomID] == nil {
		m.requests[req.RoomID] = make(map[string]JoinRequest)
	}
	m.requests[req.RoomID][req.UserID] = req
	out := req
	return &out, nil
}

// PendingJoinRequest returns the pending request for (room, user).
func (m *Memory) PendingJoinRequest(_ context.Context, roomID, userID string) (*JoinRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	req, ok := m.requests[roomID][userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := req
	return &out, nil
}

// ClearJoinRequest removes a pending request if present.
func (m *Memory) ClearJoinRequest(_ context.Context, roomID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.requests[roomID], userID)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }
