package crdt

import (
	"errors"
)

// ErrRejected is returned when update bytes cannot be decoded or applied.
// Callers log and discard the update; the submitting connection stays up.
var ErrRejected = errors.New("engine rejected update")

// Replica is a mergeable document instance. Updates are commutative,
// associative and idempotent under merge: applying the same update twice, or
// two updates in either order, yields the same state.
type Replica interface {
	// ApplyUpdate merges update bytes into the replica.
	ApplyUpdate(update []byte) error
	// EncodeState encodes the full replica state. The encoding is
	// deterministic: two converged replicas encode to identical bytes.
	EncodeState() []byte
}

// Engine creates and restores replicas. It wraps whichever merge engine
// backs the deployment; the session layer never looks inside.
type Engine interface {
	New() Replica
	// Restore builds a replica from a snapshot produced by EncodeState.
	// A nil or empty snapshot yields a fresh empty replica.
	Restore(snapshot []byte) (Replica, error)
}
