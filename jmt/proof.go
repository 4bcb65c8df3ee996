// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jmt

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ava-labs/avalanchego/utils/maybe"

	"github.com/ava-labs/rollupvm/spec"
)

var (
	ErrInvalidProof     = errors.New("invalid merkle proof")
	ErrRootMismatch     = errors.New("merkle root mismatch")
	errTooManySiblings  = errors.New("proof has more siblings than key bits")
	errProofCount       = errors.New("update proof count does not match updates")
	errDuplicateKeyHash = errors.New("duplicate key hash in update set")
)

// ProofNode is a sibling on the path from the root to a key. Only its kind
// and hash are needed to fold back up to the root.
type ProofNode struct {
	Kind uint8              `serialize:"true"`
	Hash [spec.HashLen]byte `serialize:"true"`
}

// ProofLeaf is the leaf the search for a key ended at.
type ProofLeaf struct {
	KeyHash   KeyHash            `serialize:"true"`
	ValueHash [spec.HashLen]byte `serialize:"true"`
}

// SparseMerkleProof proves the presence or absence of a key. Siblings are
// ordered from the root downwards; the leaf, if any, sits right below the
// last sibling.
type SparseMerkleProof struct {
	HasLeaf  bool        `serialize:"true"`
	Leaf     ProofLeaf   `serialize:"true"`
	Siblings []ProofNode `serialize:"true"`
}

// UpdateMerkleProof holds one proof per update of a batch, each taken
// against the tree as left by the previous update.
type UpdateMerkleProof struct {
	Proofs []SparseMerkleProof `serialize:"true"`
}

// Update sets a key to a value, or deletes it if the value is Nothing.
type Update struct {
	Key   KeyHash
	Value maybe.Maybe[[]byte]
}

var nullProofNode = ProofNode{Kind: KindNull}

// combine returns the node whose children are [left] and [right]. A leaf
// next to an empty subtree is hoisted instead, which keeps the tree
// canonical after deletions.
func combine(h spec.Hasher, left, right ProofNode) ProofNode {
	switch {
	case left.Kind == KindNull && right.Kind == KindNull:
		return nullProofNode
	case left.Kind == KindNull && right.Kind == KindLeaf:
		return right
	case right.Kind == KindNull && left.Kind == KindLeaf:
		return left
	default:
		return ProofNode{
			Kind: KindInternal,
			Hash: internalHash(h, left.Hash, right.Hash),
		}
	}
}

func foldUp(h spec.Hasher, key KeyHash, cur ProofNode, siblings []ProofNode) [spec.HashLen]byte {
	for depth := len(siblings) - 1; depth >= 0; depth-- {
		if key.Bit(depth) == 0 {
			cur = combine(h, cur, siblings[depth])
		} else {
			cur = combine(h, siblings[depth], cur)
		}
	}
	return cur.Hash
}

func (p *SparseMerkleProof) leafNode(h spec.Hasher) ProofNode {
	if !p.HasLeaf {
		return nullProofNode
	}
	return ProofNode{
		Kind: KindLeaf,
		Hash: leafHash(h, p.Leaf.KeyHash, p.Leaf.ValueHash),
	}
}

// checkPath ensures the proof describes the search path of [key].
func (p *SparseMerkleProof) checkPath(key KeyHash) error {
	if len(p.Siblings) > KeyBits {
		return errTooManySiblings
	}
	if p.HasLeaf && p.Leaf.KeyHash != key && commonPrefixLen(p.Leaf.KeyHash, key) < len(p.Siblings) {
		return fmt.Errorf("%w: leaf is off the search path", ErrInvalidProof)
	}
	return nil
}

// RootHash is the root the proof folds up to.
func (p *SparseMerkleProof) RootHash(h spec.Hasher, key KeyHash) [spec.HashLen]byte {
	return foldUp(h, key, p.leafNode(h), p.Siblings)
}

// Verify checks that under [root], [key] maps to [value], or is absent
// when [value] is Nothing.
func (p *SparseMerkleProof) Verify(h spec.Hasher, root [spec.HashLen]byte, key KeyHash, value maybe.Maybe[[]byte]) error {
	if err := p.checkPath(key); err != nil {
		return err
	}
	if value.HasValue() {
		if !p.HasLeaf || p.Leaf.KeyHash != key {
			return fmt.Errorf("%w: key %x not included", ErrInvalidProof, key[:])
		}
		if p.Leaf.ValueHash != ValueHash(h, value.Value()) {
			return fmt.Errorf("%w: value hash mismatch for key %x", ErrInvalidProof, key[:])
		}
	} else if p.HasLeaf && p.Leaf.KeyHash == key {
		return fmt.Errorf("%w: key %x unexpectedly included", ErrInvalidProof, key[:])
	}
	if got := p.RootHash(h, key); got != root {
		return fmt.Errorf("%w: expected %x, computed %x", ErrRootMismatch, root[:], got[:])
	}
	return nil
}

// apply returns the root after applying [u] to the tree the proof was
// taken from.
func (p *SparseMerkleProof) apply(h spec.Hasher, u Update) [spec.HashLen]byte {
	depth := len(p.Siblings)
	var cur ProofNode
	switch {
	case u.Value.HasValue():
		newLeaf := ProofNode{
			Kind: KindLeaf,
			Hash: leafHash(h, u.Key, ValueHash(h, u.Value.Value())),
		}
		if !p.HasLeaf || p.Leaf.KeyHash == u.Key {
			cur = newLeaf
			break
		}
		// The existing leaf and the new one share a prefix past [depth].
		// They split at the first differing bit.
		existing := p.leafNode(h)
		split := commonPrefixLen(p.Leaf.KeyHash, u.Key)
		if u.Key.Bit(split) == 0 {
			cur = combine(h, newLeaf, existing)
		} else {
			cur = combine(h, existing, newLeaf)
		}
		for d := split - 1; d >= depth; d-- {
			if u.Key.Bit(d) == 0 {
				cur = combine(h, cur, nullProofNode)
			} else {
				cur = combine(h, nullProofNode, cur)
			}
		}
	case p.HasLeaf && p.Leaf.KeyHash == u.Key:
		cur = nullProofNode
	default:
		// deleting an absent key
		cur = p.leafNode(h)
	}
	return foldUp(h, u.Key, cur, p.Siblings)
}

// VerifyUpdate checks that applying [updates] to the tree rooted at
// [oldRoot] yields [newRoot].
func (p *UpdateMerkleProof) VerifyUpdate(
	h spec.Hasher,
	oldRoot [spec.HashLen]byte,
	newRoot [spec.HashLen]byte,
	updates []Update,
) error {
	sorted, err := sortUpdates(updates)
	if err != nil {
		return err
	}
	if len(sorted) != len(p.Proofs) {
		return fmt.Errorf("%w: %d proofs for %d updates", errProofCount, len(p.Proofs), len(sorted))
	}
	cur := oldRoot
	for i, u := range sorted {
		proof := &p.Proofs[i]
		if err := proof.checkPath(u.Key); err != nil {
			return err
		}
		if got := proof.RootHash(h, u.Key); got != cur {
			return fmt.Errorf("%w: update %d expected %x, computed %x", ErrRootMismatch, i, cur[:], got[:])
		}
		cur = proof.apply(h, u)
	}
	if cur != newRoot {
		return fmt.Errorf("%w: expected new root %x, computed %x", ErrRootMismatch, newRoot[:], cur[:])
	}
	return nil
}

// sortUpdates orders updates by key hash. Both the tree and the verifier
// apply them in this order.
func sortUpdates(updates []Update) ([]Update, error) {
	sorted := make([]Update, len(updates))
	copy(sorted, updates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Key[:], sorted[j].Key[:]) < 0
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Key == sorted[i-1].Key {
			return nil, fmt.Errorf("%w: %x", errDuplicateKeyHash, sorted[i].Key[:])
		}
	}
	return sorted, nil
}
