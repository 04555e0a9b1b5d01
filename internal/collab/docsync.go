package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devsync/devsync/internal/merge"
	"github.com/devsync/devsync/internal/storage"
)

// document binds one merge-engine doc to its backing object with
// debounced write-back. The persist timer is owned here explicitly:
// every change cancels the pending timer and arms a new one, so only the
// last change in a quiet window triggers a write.
type document struct {
	roomID string
	fileID string
	doc    merge.Doc

	store   storage.Store
	delay   time.Duration
	metrics *Metrics

	mu    sync.Mutex
	timer *time.Timer
}

// scheduleSave re-arms the debounce timer. Registered as the doc's
// update listener.
func (d *document) scheduleSave() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.persist(context.Background()) })
}

// persist writes the full encoded state. Failures are logged and
// swallowed; editing continues against the in-memory copy regardless of
// storage health.
func (d *document) persist(ctx context.Context) {
	d.mu.Lock()
	d.timer = nil
	d.mu.Unlock()

	state := d.doc.EncodeState()
	if err := d.store.Put(ctx, docKey(d.roomID, d.fileID), state, "application/octet-stream"); err != nil {
		d.metrics.StorageFailures.WithLabelValues("doc_save").Inc()
		log.Error().Err(err).Str("room", d.roomID).Str("file", d.fileID).Msg("save document failed")
	}
}

// flush persists immediately when a debounced write is pending.
func (d *document) flush(ctx context.Context) {
	d.mu.Lock()
	pending := d.timer != nil
	if pending {
		d.timer.Stop()
	}
	d.mu.Unlock()

	if pending {
		d.persist(ctx)
	}
}

// drop cancels any pending write without persisting.
func (d *document) drop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Document returns the room's handle for fileID, lazily creating the
// merge-engine doc, hydrating it from the object store if a state object
// exists, and registering the debounced persist listener.
func (r *Registry) Document(ctx context.Context, roomID, fileID string) *document {
	room := r.Room(ctx, roomID)

	room.mu.Lock()
	if d, ok := room.docs[fileID]; ok {
		room.mu.Unlock()
		return d
	}
	room.mu.Unlock()

	doc := r.engine.NewDoc()
	state, err := r.store.Get(ctx, docKey(roomID, fileID))
	switch {
	case err == nil:
		if applyErr := doc.ApplyUpdate(state); applyErr != nil {
			log.Warn().Err(applyErr).Str("room", roomID).Str("file", fileID).Msg("corrupt document state, starting empty")
		}
	case !errors.Is(err, storage.ErrNotFound):
		log.Warn().Err(err).Str("room", roomID).Str("file", fileID).Msg("load document failed, starting empty")
	}

	d := &document{
		roomID:  roomID,
		fileID:  fileID,
		doc:     doc,
		store:   r.store,
		delay:   r.debounce,
		metrics: r.metrics,
	}
	doc.OnUpdate(d.scheduleSave)

	room.mu.Lock()
	defer room.mu.Unlock()
	if existing, ok := room.docs[fileID]; ok {
		// Lost the hydration race; discard ours.
		d.drop()
		return existing
	}
	room.docs[fileID] = d
	return d
}

// SyncState returns the document's full encoded state for initial
// transfer to a newly joined participant.
func (r *Registry) SyncState(ctx context.Context, roomID, fileID string) []byte {
	return r.Document(ctx, roomID, fileID).doc.EncodeState()
}

// ApplyRemoteUpdate applies an update to the in-memory document; the
// update listener schedules the debounced persist.
func (r *Registry) ApplyRemoteUpdate(ctx context.Context, roomID, fileID string, update []byte) error {
	return r.Document(ctx, roomID, fileID).doc.ApplyUpdate(update)
}

// CascadeDeleteDocs drops the in-memory handles for removed file ids and
// best-effort deletes their backing objects, ignoring delete failures.
func (r *Registry) CascadeDeleteDocs(ctx context.Context, room *Room, roomID string, fileIDs []string) {
	for _, fileID := range fileIDs {
		room.mu.Lock()
		if d, ok := room.docs[fileID]; ok {
			d.drop()
			delete(room.docs, fileID)
		}
		room.mu.Unlock()

		if err := r.store.Delete(ctx, docKey(roomID, fileID)); err != nil {
			log.Debug().Err(err).Str("room", roomID).Str("file", fileID).Msg("delete document object failed")
		}
	}
}
