package merge

import (
	"encoding/json"
	"fmt"
	"sync"
)

// registerEngine is the built-in merge engine: a last-writer-wins text
// register ordered by (clock, writer). It is commutative and idempotent,
// so concurrent updates converge regardless of delivery order. A
// Yjs-compatible engine can replace it behind the same interface.
type registerEngine struct{}

// NewRegisterEngine returns the built-in last-writer-wins engine.
func NewRegisterEngine() Engine {
	return registerEngine{}
}

func (registerEngine) NewDoc() Doc {
	return &registerDoc{}
}

// registerState is both the update and the encoded-state envelope.
type registerState struct {
	Clock  uint64 `json:"clock"`
	Writer string `json:"writer"`
	Text   string `json:"text"`
}

// newer reports whether s supersedes other. Ties on clock break on the
// writer id so that any two states are totally ordered.
func (s registerState) newer(other registerState) bool {
	if s.Clock != other.Clock {
		return s.Clock > other.Clock
	}
	return s.Writer > other.Writer
}

type registerDoc struct {
	mu        sync.Mutex
	state     registerState
	listeners []func()
}

// ApplyUpdate merges an update, keeping the newer state.
func (d *registerDoc) ApplyUpdate(update []byte) error {
	var incoming registerState
	if err := json.Unmarshal(update, &incoming); err != nil {
		return fmt.Errorf("decode update: %w", err)
	}

	d.mu.Lock()
	if incoming.newer(d.state) {
		d.state = incoming
	}
	listeners := d.listeners
	d.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
	return nil
}

// EncodeState returns the current state as an update envelope.
func (d *registerDoc) EncodeState() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	data, err := json.Marshal(d.state)
	if err != nil {
		// registerState always marshals; keep the interface total.
		return []byte("{}")
	}
	return data
}

// Text returns the current text content.
func (d *registerDoc) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Text
}

// OnUpdate registers a listener fired after every applied update.
func (d *registerDoc) OnUpdate(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}
