package collab

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devsync/devsync/internal/merge"
	"github.com/devsync/devsync/internal/storage"
)

func waitForObject(t *testing.T, store storage.Store, key string) []byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := store.Get(context.Background(), key); err == nil {
			return data
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("object %s never appeared", key)
	return nil
}

func TestDocument_DebouncedPersist(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.ApplyRemoteUpdate(ctx, "r1", "f1", docUpdate(1, "alice", "draft")))
	require.NoError(t, reg.ApplyRemoteUpdate(ctx, "r1", "f1", docUpdate(2, "alice", "final")))

	// Only the state after the quiet window lands in storage.
	data := waitForObject(t, reg.store, docKey("r1", "f1"))

	var state struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, "final", state.Text)
}

func TestDocument_RapidUpdatesCoalesce(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.ApplyRemoteUpdate(ctx, "r1", "f1", docUpdate(1, "alice", "a")))

	// A second update inside the window re-arms the timer; nothing is
	// persisted yet.
	time.Sleep(testDebounce / 2)
	require.NoError(t, reg.ApplyRemoteUpdate(ctx, "r1", "f1", docUpdate(2, "alice", "ab")))

	_, err := reg.store.Get(ctx, docKey("r1", "f1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	waitForObject(t, reg.store, docKey("r1", "f1"))
}

func TestRegistry_Flush(t *testing.T) {
	store := newTestStore(t)
	reg := NewRegistry(store, merge.NewRegisterEngine(), time.Hour, InitMetrics(nil))
	ctx := context.Background()

	require.NoError(t, reg.ApplyRemoteUpdate(ctx, "r1", "f1", docUpdate(1, "alice", "pending")))

	// The hour-long debounce would never fire in this test; flush
	// persists immediately.
	reg.Flush(ctx)

	data, err := store.Get(ctx, docKey("r1", "f1"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "pending")
}

func TestRegistry_FlushWithoutPendingWrites(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	reg.Document(ctx, "r1", "f1")

	// No update was applied; flush must not write an empty state over
	// nothing.
	reg.Flush(ctx)
	_, err := reg.store.Get(ctx, docKey("r1", "f1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDocument_HydratesFromStore(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.store.Put(ctx, docKey("r1", "f1"), docUpdate(3, "alice", "persisted"), "application/octet-stream"))

	state := reg.SyncState(ctx, "r1", "f1")
	assert.Contains(t, string(state), "persisted")
}

func TestDocument_CorruptStateStartsEmpty(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.store.Put(ctx, docKey("r1", "f1"), []byte("{garbage"), "application/octet-stream"))

	d := reg.Document(ctx, "r1", "f1")
	assert.Empty(t, d.doc.Text())
}

func TestRegistry_CascadeDeleteDocs(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.ApplyRemoteUpdate(ctx, "r1", "f1", docUpdate(1, "alice", "bye")))
	reg.Flush(ctx)

	room := reg.Peek("r1")
	reg.CascadeDeleteDocs(ctx, room, "r1", []string{"f1", "never-existed"})

	_, err := reg.store.Get(ctx, docKey("r1", "f1"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	room.mu.Lock()
	_, ok := room.docs["f1"]
	room.mu.Unlock()
	assert.False(t, ok, "in-memory handle dropped")
}
