// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/utils/maybe"

	"github.com/ava-labs/rollupvm/jmt"
	"github.com/ava-labs/rollupvm/spec"
	"github.com/ava-labs/rollupvm/state"
)

var (
	ErrInvalidWitness = errors.New("invalid witness")

	_ state.Storage = (*ZkStorage)(nil)
)

// ZkStorage answers every read from the witness and checks the hints
// against the previous root when the state update is computed. It never
// touches a database.
type ZkStorage struct {
	hasher  spec.Hasher
	root    state.Root
	version uint64
}

type zkUpdate struct {
	version uint64
	root    state.Root
}

func (u *zkUpdate) Version() uint64 { return u.version }

// NewZkStorage starts from [root], the state root the witness was
// recorded against.
func NewZkStorage(hasher spec.Hasher, root state.Root) *ZkStorage {
	return &ZkStorage{
		hasher: hasher,
		root:   root,
	}
}

// Root is the root the next update must start from.
func (s *ZkStorage) Root() state.Root { return s.root }

func (*ZkStorage) Get(_ state.StorageKey, _ maybe.Maybe[uint64], w state.Witness) (maybe.Maybe[[]byte], error) {
	var hint valueHint
	if err := w.GetHint(&hint); err != nil {
		return maybe.Nothing[[]byte](), err
	}
	if !hint.Present {
		return maybe.Nothing[[]byte](), nil
	}
	return maybe.Some(hint.Value), nil
}

// GetAccessory is always Nothing: accessory state is not provable.
func (*ZkStorage) GetAccessory(state.StorageKey, maybe.Maybe[uint64]) (maybe.Maybe[[]byte], error) {
	return maybe.Nothing[[]byte](), nil
}

func (s *ZkStorage) ComputeStateUpdate(rw state.OrderedReadsAndWrites, w state.Witness) (state.Root, state.StateUpdate, error) {
	var prev rootHint
	if err := w.GetHint(&prev); err != nil {
		return state.Root{}, nil, err
	}
	if state.Root(prev.Root) != s.root {
		return state.Root{}, nil, fmt.Errorf("%w: recorded against root %x, expected %x", ErrInvalidWitness, prev.Root, s.root)
	}

	for _, r := range rw.Reads {
		var proof jmt.SparseMerkleProof
		if err := w.GetHint(&proof); err != nil {
			return state.Root{}, nil, err
		}
		kh := jmt.HashKey(s.hasher, r.Key)
		if err := proof.Verify(s.hasher, prev.Root, kh, r.Value); err != nil {
			return state.Root{}, nil, fmt.Errorf("%w: read of %s: %v", ErrInvalidWitness, r.Key, err)
		}
	}

	updates := make([]jmt.Update, len(rw.Writes))
	for i, wr := range rw.Writes {
		updates[i] = jmt.Update{Key: jmt.HashKey(s.hasher, wr.Key), Value: wr.Value}
	}
	var proof jmt.UpdateMerkleProof
	if err := w.GetHint(&proof); err != nil {
		return state.Root{}, nil, err
	}
	var next rootHint
	if err := w.GetHint(&next); err != nil {
		return state.Root{}, nil, err
	}
	if err := proof.VerifyUpdate(s.hasher, prev.Root, next.Root, updates); err != nil {
		return state.Root{}, nil, fmt.Errorf("%w: %v", ErrInvalidWitness, err)
	}
	return state.Root(next.Root), &zkUpdate{version: s.version + 1, root: state.Root(next.Root)}, nil
}

// Commit only moves the expected root forward.
func (s *ZkStorage) Commit(update state.StateUpdate, _ []state.WriteEntry) error {
	u, ok := update.(*zkUpdate)
	if !ok {
		return fmt.Errorf("%w: %T", errForeignUpdate, update)
	}
	if u.version != s.version+1 {
		return fmt.Errorf("%w: update %d, latest %d", errStaleUpdate, u.version, s.version)
	}
	s.version = u.version
	s.root = u.root
	return nil
}

func (s *ZkStorage) IsEmpty() bool {
	return s.root == state.Root{}
}
