// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"github.com/ava-labs/avalanchego/utils/maybe"
)

// Root is the authenticated state root.
type Root [32]byte

// StateUpdate is produced by [Storage.ComputeStateUpdate] and consumed,
// at most once, by [Storage.Commit].
type StateUpdate interface {
	Version() uint64
}

// Storage is the authenticated key-value store the working sets read
// through.
type Storage interface {
	// Get returns the value of [key] at [version], or at the latest
	// committed version if [version] is Nothing. The result, present or
	// not, is recorded in [w].
	Get(key StorageKey, version maybe.Maybe[uint64], w Witness) (maybe.Maybe[[]byte], error)

	// GetAccessory reads non-authenticated state. It is always Nothing
	// outside of native execution.
	GetAccessory(key StorageKey, version maybe.Maybe[uint64]) (maybe.Maybe[[]byte], error)

	// ComputeStateUpdate computes the root after applying the writes of
	// [rw] without persisting anything.
	ComputeStateUpdate(rw OrderedReadsAndWrites, w Witness) (Root, StateUpdate, error)

	// Commit persists [update] and the accessory writes, then advances the
	// version.
	Commit(update StateUpdate, accessory []WriteEntry) error

	// IsEmpty reports whether nothing was ever committed.
	IsEmpty() bool
}
