package collab

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/devsync/devsync/internal/config"
	"github.com/devsync/devsync/internal/membership"
	"github.com/devsync/devsync/internal/merge"
	"github.com/devsync/devsync/internal/storage"
)

const testDebounce = 30 * time.Millisecond

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewLocal(config.LocalStorageConfig{Dir: t.TempDir()})
	require.NoError(t, err)
	return store
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Terminal.TimeoutMS = 2000
	return newServer(cfg, newTestStore(t), membership.NewMemory(), merge.NewRegisterEngine(), testDebounce)
}

// connect registers a fresh connection on the hub, the way the
// websocket handler does before its read loop starts.
func connect(t *testing.T, s *Server) *client {
	t.Helper()
	c := newClient(uuid.NewString(), sendBuffer)
	s.hub.register(c)
	t.Cleanup(func() {
		c.close()
	})
	return c
}

// recv waits for the next queued event on a connection.
func recv(t *testing.T, c *client) outbound {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return outbound{}
	}
}

// recvEvent drains queued events until one matches the wanted name.
func recvEvent(t *testing.T, c *client, event string) outbound {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-c.send:
			if msg.Event == event {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", event)
			return outbound{}
		}
	}
}

// drain empties a connection's send queue.
func drain(c *client) {
	for {
		select {
		case <-c.send:
		default:
			return
		}
	}
}

// noEvent asserts nothing is queued on a connection.
func noEvent(t *testing.T, c *client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected event %s", msg.Event)
	default:
	}
}

// createRoom creates a room owned by userID and returns its id.
func createRoom(t *testing.T, s *Server, userID string) string {
	t.Helper()
	roomID, err := s.members.CreateRoom(context.Background(), "test-room", userID)
	require.NoError(t, err)
	return roomID
}

// docUpdate builds a merge-engine update envelope for tests.
func docUpdate(clock int, writer, text string) []byte {
	return []byte(fmt.Sprintf(`{"clock":%d,"writer":%q,"text":%q}`, clock, writer, text))
}
