// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"github.com/ava-labs/avalanchego/utils/maybe"

	"github.com/ava-labs/rollupvm/jmt"
	"github.com/ava-labs/rollupvm/spec"
	"github.com/ava-labs/rollupvm/state"
)

// StorageProof proves the value of a key under some root.
type StorageProof struct {
	Key     []byte                `serialize:"true" json:"key"`
	Present bool                  `serialize:"true" json:"present"`
	Value   []byte                `serialize:"true" json:"value"`
	Proof   jmt.SparseMerkleProof `serialize:"true" json:"proof"`
}

// GetWithProof returns the value of [key] at [version] with a proof
// against the root of that version.
func (s *ProverStorage) GetWithProof(key state.StorageKey, version uint64) (*StorageProof, error) {
	if _, err := s.resolve(maybe.Some(version)); err != nil {
		return nil, err
	}
	kh := jmt.HashKey(s.hasher, key)
	value, err := getVersioned(s.valueDB, kh[:], version)
	if err != nil {
		return nil, err
	}
	proof, err := s.tree.GetWithProof(kh, version)
	if err != nil {
		return nil, err
	}
	p := &StorageProof{
		Key:     key,
		Present: value.HasValue(),
		Proof:   *proof,
	}
	if p.Present {
		p.Value = value.Value()
	}
	return p, nil
}

// OpenProof checks [p] against [root] and returns the key and value it
// proves. It needs no storage.
func OpenProof(h spec.Hasher, root state.Root, p *StorageProof) (state.StorageKey, maybe.Maybe[[]byte], error) {
	value := maybe.Nothing[[]byte]()
	if p.Present {
		value = maybe.Some(p.Value)
	}
	kh := jmt.HashKey(h, p.Key)
	if err := p.Proof.Verify(h, root, kh, value); err != nil {
		return nil, maybe.Nothing[[]byte](), err
	}
	return p.Key, value, nil
}
