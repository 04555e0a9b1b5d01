// Package proto defines the wire events and payloads exchanged over the
// room event channel.
package proto

import "encoding/json"

// Inbound event names.
const (
	EventRoomCreate     = "room:create"
	EventRoomJoin       = "room:join"
	EventRoomAssignRole = "room:assign-role"
	EventRoomLeave      = "room:leave"
	EventFSCreate       = "fs:create"
	EventFSRename       = "fs:rename"
	EventFSDelete       = "fs:delete"
	EventDocJoin        = "yjs:join"
	EventDocUpdate      = "yjs:update"
	EventAwareness      = "awareness:update"
	EventTerminalStart  = "terminal:start"
	EventTerminalStop   = "terminal:stop"
	EventTerminalInput  = "terminal:input"
)

// Outbound event names. fs:create/rename/delete, yjs:update and
// awareness:update are echoed under their inbound names.
const (
	EventRoomCreated     = "room:created"
	EventRoomError       = "room:error"
	EventRoomSnapshot    = "room:snapshot"
	EventRoomJoinRequest = "room:join-request"
	EventFSSnapshot      = "fs:snapshot"
	EventPresenceUpdate  = "presence:update"
	EventPresenceJoin    = "presence:join"
	EventPresenceLeave   = "presence:leave"
	EventDocSync         = "yjs:sync"
	EventTerminalSession = "terminal:session"
	EventTerminalLog     = "terminal:log"
)

// Envelope is the frame carried on the websocket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// FSNode types.
const (
	NodeFile      = "file"
	NodeDirectory = "directory"
)

// FSNode is one entry in a room's virtual file tree. Path is a cache
// derived from ParentID and Name; ParentID empty means root.
type FSNode struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	ParentID  string `json:"parentId,omitempty"`
	Path      string `json:"path"`
	UpdatedAt int64  `json:"updatedAt"`
}

// PresenceUser describes one live connection's participant entry.
type PresenceUser struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Color    string `json:"color"`
	Online   bool   `json:"online"`
	LastSeen int64  `json:"lastSeen"`
}

// RoomInfo is the membership-store view of a room.
type RoomInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"ownerId"`
}

// Member pairs a user with their role in a room.
type Member struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// RoomCreateRequest asks for a new room owned by UserID.
type RoomCreateRequest struct {
	Name   string `json:"name"`
	UserID string `json:"userId"`
}

// RoomCreated acknowledges a successful room:create.
type RoomCreated struct {
	RoomID string `json:"roomId"`
}

// RoomJoinRequest is the join handshake payload.
type RoomJoinRequest struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// AssignRoleRequest grants a role; only the room owner may send it.
type AssignRoleRequest struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// RoomLeaveRequest removes the sending connection from a room.
type RoomLeaveRequest struct {
	RoomID string `json:"roomId"`
}

// Error codes carried in RoomError.
const (
	CodeRoomNotFound = "room_not_found"
	CodePendingRole  = "pending_role_assignment"
	CodeForbidden    = "forbidden"
)

// RoomError reports a failed or pending room operation.
type RoomError struct {
	RoomID  string `json:"roomId,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// RoomSnapshot is the full room state pushed to a joining connection.
type RoomSnapshot struct {
	RoomID  string   `json:"roomId"`
	Room    RoomInfo `json:"room"`
	Members []Member `json:"members"`
	Tree    []FSNode `json:"tree"`
}

// JoinRequest notifies the room owner that a non-member asked to join.
type JoinRequest struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	RequestedAt int64  `json:"requestedAt"`
}

// FSSnapshot sends the whole tree to one connection.
type FSSnapshot struct {
	RoomID string   `json:"roomId"`
	Nodes  []FSNode `json:"nodes"`
}

// FSCreateRequest creates a file or directory node.
type FSCreateRequest struct {
	RoomID   string `json:"roomId"`
	ParentID string `json:"parentId,omitempty"`
	Name     string `json:"name"`
	Type     string `json:"type"`
}

// FSRenameRequest renames an existing node.
type FSRenameRequest struct {
	RoomID string `json:"roomId"`
	ID     string `json:"id"`
	Name   string `json:"name"`
}

// FSDeleteRequest deletes a node and its subtree.
type FSDeleteRequest struct {
	RoomID string `json:"roomId"`
	ID     string `json:"id"`
}

// FSDeleted is broadcast after a successful delete.
type FSDeleted struct {
	ID string `json:"id"`
}

// PresenceUpdate carries the full presence set of a room.
type PresenceUpdate struct {
	RoomID string         `json:"roomId"`
	Users  []PresenceUser `json:"users"`
}

// PresenceLeave is broadcast when a user's connection leaves a room.
type PresenceLeave struct {
	UserID string `json:"userId"`
}

// DocJoinRequest asks for the full encoded state of a document.
type DocJoinRequest struct {
	RoomID string `json:"roomId"`
	FileID string `json:"fileId"`
}

// DocSync carries a document's full encoded state. Update is
// base64-encoded on the wire (JSON byte slice).
type DocSync struct {
	FileID string `json:"fileId"`
	Update []byte `json:"update"`
}

// DocUpdate applies an incremental document update.
type DocUpdate struct {
	RoomID string `json:"roomId"`
	FileID string `json:"fileId"`
	Update []byte `json:"update"`
}

// AwarenessUpdate is relayed verbatim to the rest of the room; State is
// null when a client clears its awareness.
type AwarenessUpdate struct {
	RoomID   string          `json:"roomId"`
	FileID   string          `json:"fileId"`
	ClientID int64           `json:"clientId"`
	State    json.RawMessage `json:"state"`
}

// Terminal session statuses.
const (
	TerminalStarting = "starting"
	TerminalRunning  = "running"
	TerminalStopped  = "stopped"
	TerminalError    = "error"
)

// Terminal log line types.
const (
	LogSystem = "system"
	LogStdout = "stdout"
	LogStderr = "stderr"
)

// TerminalStartRequest starts an execution session. FileID optionally
// pins the source file to run.
type TerminalStartRequest struct {
	RoomID string `json:"roomId"`
	FileID string `json:"fileId,omitempty"`
}

// TerminalStopRequest stops the sending connection's session in a room.
type TerminalStopRequest struct {
	RoomID string `json:"roomId"`
}

// TerminalInputRequest carries interactive input (not supported by the
// execution backend; answered with an informational log line).
type TerminalInputRequest struct {
	RoomID string `json:"roomId"`
	Input  string `json:"input"`
}

// TerminalSession reports a session status transition.
type TerminalSession struct {
	ID     string `json:"id"`
	RoomID string `json:"roomId"`
	Status string `json:"status"`
}

// TerminalLog is one captured line of execution output.
type TerminalLog struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
	Type      string `json:"type"`
}
