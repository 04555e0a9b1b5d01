package collab

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_JoinBroadcast(t *testing.T) {
	h := NewHub()
	a := newClient("a", 8)
	b := newClient("b", 8)
	h.register(a)
	h.register(b)
	h.join("r1", a)
	h.join("r1", b)

	h.broadcast("r1", "ping", nil)

	assert.Equal(t, "ping", (<-a.send).Event)
	assert.Equal(t, "ping", (<-b.send).Event)
}

func TestHub_BroadcastExcept(t *testing.T) {
	h := NewHub()
	a := newClient("a", 8)
	b := newClient("b", 8)
	h.register(a)
	h.register(b)
	h.join("r1", a)
	h.join("r1", b)

	h.broadcastExcept("r1", "a", "ping", nil)

	assert.Equal(t, "ping", (<-b.send).Event)
	select {
	case msg := <-a.send:
		t.Fatalf("sender received its own broadcast: %s", msg.Event)
	default:
	}
}

func TestHub_Unregister(t *testing.T) {
	h := NewHub()
	a := newClient("a", 8)
	h.register(a)
	h.join("r1", a)
	h.join("r2", a)

	roomIDs := h.unregister(a)

	assert.ElementsMatch(t, []string{"r1", "r2"}, roomIDs)
	assert.Equal(t, 0, h.count())

	// Empty room groups are pruned; broadcasting is a no-op.
	h.broadcast("r1", "ping", nil)
}

func TestHub_UserClients(t *testing.T) {
	h := NewHub()
	a1 := newClient("a1", 8)
	a2 := newClient("a2", 8)
	b := newClient("b", 8)
	a1.setUser("alice")
	a2.setUser("alice")
	b.setUser("bob")
	h.register(a1)
	h.register(a2)
	h.register(b)

	assert.Len(t, h.userClients("alice"), 2)
	assert.Len(t, h.userClients("bob"), 1)
	assert.Empty(t, h.userClients("carol"))
}

func TestClient_EmitDropsWhenFull(t *testing.T) {
	c := newClient("a", 1)

	c.emit("one", nil)
	c.emit("two", nil) // buffer full, dropped

	require.Equal(t, "one", (<-c.send).Event)
	select {
	case msg := <-c.send:
		t.Fatalf("dropped event delivered: %s", msg.Event)
	default:
	}
}

func TestClient_EmitAfterClose(t *testing.T) {
	c := newClient("a", 1)
	c.close()
	c.close() // idempotent

	c.emit("late", nil)
	select {
	case <-c.send:
		t.Fatal("closed connection accepted an event")
	default:
	}
}
