// Package collab implements the coordination core of the devsync
// collaboration backend: room registry, file tree, document sync,
// presence, terminal sessions, and the websocket event surface.
package collab

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devsync/devsync/internal/merge"
	"github.com/devsync/devsync/internal/storage"
	"github.com/devsync/devsync/pkg/proto"
)

func treeKey(roomID string) string {
	return "rooms/" + roomID + "/tree.json"
}

func docKey(roomID, fileID string) string {
	return "rooms/" + roomID + "/files/" + fileID + ".ydoc"
}

// Room is the authoritative in-memory projection of one active room.
// All fields are guarded by mu; handlers hold it across a whole
// synchronous mutation so no operation observes a torn tree.
type Room struct {
	mu         sync.Mutex
	tree       []proto.FSNode
	docs       map[string]*document
	presence   map[string]proto.PresenceUser // connID -> entry
	lastActive time.Time
}

func (r *Room) touch() {
	r.mu.Lock()
	r.lastActive = time.Now()
	r.mu.Unlock()
}

// treeSnapshot returns a copy of the tree for emission outside the lock.
func (r *Room) treeSnapshot() []proto.FSNode {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]proto.FSNode, len(r.tree))
	copy(out, r.tree)
	return out
}

// presenceSnapshot returns a copy of the presence set.
func (r *Room) presenceSnapshot() []proto.PresenceUser {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]proto.PresenceUser, 0, len(r.presence))
	for _, u := range r.presence {
		out = append(out, u)
	}
	return out
}

// Registry owns the process-wide mapping from room id to Room. It is an
// explicit object injected into every component; rooms hydrate lazily
// from the object store and are evicted only by the idle collector.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	store    storage.Store
	engine   merge.Engine
	debounce time.Duration
	metrics  *Metrics
}

// NewRegistry creates a registry persisting to store and creating
// documents with engine. debounce is the document write-back delay.
func NewRegistry(store storage.Store, engine merge.Engine, debounce time.Duration, metrics *Metrics) *Registry {
	return &Registry{
		rooms:    make(map[string]*Room),
		store:    store,
		engine:   engine,
		debounce: debounce,
		metrics:  metrics,
	}
}

// Room returns the in-memory room for roomID, hydrating its tree from
// the object store on first access and refreshing lastActive.
func (r *Registry) Room(ctx context.Context, roomID string) *Room {
	r.mu.Lock()
	if room, ok := r.rooms[roomID]; ok {
		r.mu.Unlock()
		room.touch()
		return room
	}
	r.mu.Unlock()

	// Hydrate outside the registry lock; the store read may block.
	tree := r.loadTree(ctx, roomID)

	r.mu.Lock()
	defer r.mu.Unlock()
	if room, ok := r.rooms[roomID]; ok {
		// Lost the hydration race; keep the existing room.
		room.touch()
		return room
	}
	room := &Room{
		tree:       tree,
		docs:       make(map[string]*document),
		presence:   make(map[string]proto.PresenceUser),
		lastActive: time.Now(),
	}
	r.rooms[roomID] = room
	r.metrics.ActiveRooms.Set(float64(len(r.rooms)))
	return room
}

// Peek returns the room if it is already resident, without hydrating.
func (r *Registry) Peek(roomID string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[roomID]
}

// loadTree reads the persisted tree; a missing or corrupt object yields
// an empty tree, never an error.
func (r *Registry) loadTree(ctx context.Context, roomID string) []proto.FSNode {
	data, err := r.store.Get(ctx, treeKey(roomID))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Warn().Err(err).Str("room", roomID).Msg("load tree failed, starting empty")
		}
		return nil
	}

	var tree []proto.FSNode
	if err := json.Unmarshal(data, &tree); err != nil {
		log.Warn().Err(err).Str("room", roomID).Msg("corrupt tree object, starting empty")
		return nil
	}
	return tree
}

// persistTree saves a room's tree. Failures are logged without rolling
// back the in-memory tree: availability over durability.
func (r *Registry) persistTree(ctx context.Context, roomID string, tree []proto.FSNode) {
	if tree == nil {
		tree = []proto.FSNode{}
	}
	data, err := json.Marshal(tree)
	if err != nil {
		log.Error().Err(err).Str("room", roomID).Msg("encode tree failed")
		return
	}
	if err := r.store.Put(ctx, treeKey(roomID), data, "application/json"); err != nil {
		r.metrics.StorageFailures.WithLabelValues("tree_save").Inc()
		log.Error().Err(err).Str("room", roomID).Msg("save tree failed")
	}
}

// EvictIdle removes every room with no presence whose lastActive is
// older than threshold, dropping in-memory documents without further
// persistence. Returns the number of rooms evicted.
func (r *Registry) EvictIdle(threshold time.Duration) int {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for roomID, room := range r.rooms {
		room.mu.Lock()
		idle := len(room.presence) == 0 && now.Sub(room.lastActive) > threshold
		if idle {
			for _, d := range room.docs {
				d.drop()
			}
		}
		room.mu.Unlock()

		if idle {
			delete(r.rooms, roomID)
			evicted++
			log.Info().Str("room", roomID).Msg("evicted idle room")
		}
	}
	if evicted > 0 {
		r.metrics.EvictedRooms.Add(float64(evicted))
	}
	r.metrics.ActiveRooms.Set(float64(len(r.rooms)))
	return evicted
}

// Flush force-persists every document with a pending debounced write.
// Called at shutdown.
func (r *Registry) Flush(ctx context.Context) {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.Unlock()

	for _, room := range rooms {
		room.mu.Lock()
		docs := make([]*document, 0, len(room.docs))
		for _, d := range room.docs {
			docs = append(docs, d)
		}
		room.mu.Unlock()

		for _, d := range docs {
			d.flush(ctx)
		}
	}
}
