package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devsync/devsync/pkg/proto"
)

func TestServer_Health(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestServer_GetRoom(t *testing.T) {
	s := newTestServer(t)
	roomID := createRoom(t, s, "alice")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/"+roomID, nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		ID      string         `json:"id"`
		Name    string         `json:"name"`
		OwnerID string         `json:"ownerId"`
		Members []proto.Member `json:"members"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, roomID, body.ID)
	assert.Equal(t, "test-room", body.Name)
	assert.Equal(t, "alice", body.OwnerID)
	require.Len(t, body.Members, 1)
	assert.Equal(t, "owner", body.Members[0].Role)
}

func TestServer_GetRoom_NotFound(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rooms/missing", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_GetRoom_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/rooms/r1", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	s.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "devsync_")
}

func TestServer_CheckOrigin(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	assert.True(t, s.checkOrigin(req), "no allow-list admits every origin")

	s.cfg.AllowedOrigins = []string{"https://app.example.com"}
	assert.False(t, s.checkOrigin(req))

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, s.checkOrigin(req))
}

// wsClient is a live websocket connection to a test server.
type wsClient struct {
	conn *websocket.Conn
}

func dialWS(t *testing.T, server *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{conn: conn}
}

func (w *wsClient) send(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, w.conn.WriteJSON(proto.Envelope{Event: event, Data: data}))
}

// expect reads frames until one matches the wanted event, decoding its
// payload into out.
func (w *wsClient) expect(t *testing.T, event string, out any) {
	t.Helper()
	require.NoError(t, w.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var env proto.Envelope
		require.NoError(t, w.conn.ReadJSON(&env), "waiting for %s", event)
		if env.Event != event {
			continue
		}
		if out != nil {
			require.NoError(t, json.Unmarshal(env.Data, out))
		}
		return
	}
}

func TestServer_WebsocketRoundTrip(t *testing.T) {
	s := newTestServer(t)
	server := httptest.NewServer(s)
	defer server.Close()

	alice := dialWS(t, server)

	// Create and join a room.
	alice.send(t, proto.EventRoomCreate, proto.RoomCreateRequest{Name: "ws-room", UserID: "alice"})
	var created proto.RoomCreated
	alice.expect(t, proto.EventRoomCreated, &created)
	require.NotEmpty(t, created.RoomID)

	alice.send(t, proto.EventRoomJoin, proto.RoomJoinRequest{RoomID: created.RoomID, UserID: "alice", Name: "Alice"})
	var snapshot proto.RoomSnapshot
	alice.expect(t, proto.EventRoomSnapshot, &snapshot)
	assert.Equal(t, "ws-room", snapshot.Room.Name)

	// Create a file and see the broadcast come back.
	alice.send(t, proto.EventFSCreate, proto.FSCreateRequest{RoomID: created.RoomID, Name: "main.py", Type: proto.NodeFile})
	var node proto.FSNode
	alice.expect(t, proto.EventFSCreate, &node)
	assert.Equal(t, "/main.py", node.Path)

	// A second participant joining sees the pending-approval flow.
	bob := dialWS(t, server)
	bob.send(t, proto.EventRoomJoin, proto.RoomJoinRequest{RoomID: created.RoomID, UserID: "bob", Name: "Bob"})

	var pending proto.RoomError
	bob.expect(t, proto.EventRoomError, &pending)
	assert.Equal(t, proto.CodePendingRole, pending.Code)

	var joinReq proto.JoinRequest
	alice.expect(t, proto.EventRoomJoinRequest, &joinReq)
	assert.Equal(t, "bob", joinReq.UserID)

	// Approval flips Bob's connection to active without a re-join.
	alice.send(t, proto.EventRoomAssignRole, proto.AssignRoleRequest{RoomID: created.RoomID, UserID: "bob", Role: "editor"})

	var bobSnapshot proto.RoomSnapshot
	bob.expect(t, proto.EventRoomSnapshot, &bobSnapshot)
	assert.Len(t, bobSnapshot.Members, 2)
	assert.Len(t, bobSnapshot.Tree, 1)

	var presence proto.PresenceUser
	alice.expect(t, proto.EventPresenceJoin, &presence)
	assert.Equal(t, "bob", presence.UserID)
}

func TestServer_WebsocketMalformedFrames(t *testing.T) {
	s := newTestServer(t)
	server := httptest.NewServer(s)
	defer server.Close()

	c := dialWS(t, server)

	// Garbage and unknown events must not kill the connection.
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, c.conn.WriteJSON(proto.Envelope{Event: "no:such-event", Data: json.RawMessage(`{}`)}))
	require.NoError(t, c.conn.WriteJSON(proto.Envelope{Event: proto.EventRoomCreate, Data: json.RawMessage(`"wrong shape"`)}))

	c.send(t, proto.EventRoomCreate, proto.RoomCreateRequest{Name: "still alive", UserID: "alice"})
	var created proto.RoomCreated
	c.expect(t, proto.EventRoomCreated, &created)
	assert.NotEmpty(t, created.RoomID)
}

func TestServer_DisconnectCleansPresence(t *testing.T) {
	s := newTestServer(t)
	server := httptest.NewServer(s)
	defer server.Close()

	alice := dialWS(t, server)
	alice.send(t, proto.EventRoomCreate, proto.RoomCreateRequest{Name: "r", UserID: "alice"})
	var created proto.RoomCreated
	alice.expect(t, proto.EventRoomCreated, &created)
	alice.send(t, proto.EventRoomJoin, proto.RoomJoinRequest{RoomID: created.RoomID, UserID: "alice"})
	alice.expect(t, proto.EventPresenceUpdate, nil)

	alice.conn.Close()

	require.Eventually(t, func() bool {
		room := s.registry.Peek(created.RoomID)
		return room != nil && len(room.presenceSnapshot()) == 0
	}, 2*time.Second, 10*time.Millisecond, "presence entry swept on disconnect")

	assert.Eventually(t, func() bool { return s.hub.count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_Run(t *testing.T) {
	s := newTestServer(t)
	s.cfg.Listen = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Give the listener a moment, then shut down.
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server never shut down")
	}
}
