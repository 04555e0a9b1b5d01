// Package merge defines the boundary to the document merge engine that
// provides convergent concurrent editing. The coordination core only
// relies on the engine being commutative and idempotent: applying the
// same set of updates in any order yields the same encoded state.
package merge

// Doc is one collaborative document held by the engine.
type Doc interface {
	// ApplyUpdate merges an update (or a full encoded state) into the
	// document. Malformed updates are rejected with an error and leave
	// the document unchanged.
	ApplyUpdate(update []byte) error

	// EncodeState returns the full document state for initial transfer;
	// the result is itself a valid update.
	EncodeState() []byte

	// Text returns the document's current text content.
	Text() string

	// OnUpdate registers a listener fired after every applied update.
	OnUpdate(fn func())
}

// Engine creates documents. One engine instance serves the whole
// process.
type Engine interface {
	NewDoc() Doc
}
