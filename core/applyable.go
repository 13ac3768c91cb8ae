package core

// Description is the contract a data type's operation payload must satisfy:
// it must be serializable via the engine's canonical encoder. Descriptions
// are opaque to the engine otherwise.
type Description interface {
	Encode() []byte
}

// Applyable is the polymorphism contract a concrete CRDT data type
// implements so that a Replica can drive it. D is the Description type
// carried inside operations for this data type.
//
// The central law: for any two descriptions d1, d2 and any value v,
//
//	fold(fold(v, d1, a1, c1), d2, a2, c2) == fold(fold(v, d2, a2, c2), d1, a1, c1)
//
// Fold is permitted to be non-idempotent on its own; the Replica supplies
// idempotency externally by never folding the same (author, counter) twice.
type Applyable[D Description] interface {
	// Name identifies the data type for diagnostics.
	Name() string
	// Encode serializes the current value, for the CRDTInfo header.
	Encode() []byte
	// Fold folds desc, authored by author at counter, into the value,
	// returning the new value. Most data types ignore author and counter.
	Fold(desc D, author UserPubKey, counter uint32) Applyable[D]
}
