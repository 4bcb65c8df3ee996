// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jmt

import (
	"errors"
	"fmt"

	"github.com/ava-labs/rollupvm/spec"
)

var (
	ErrNodeNotFound    = errors.New("jmt node not found")
	ErrRootNotFound    = errors.New("jmt root not found")
	errVersionNotNext  = errors.New("update version must follow the base version")
	errUnexpectedKind  = errors.New("unexpected node kind")
	errMissingLeafNode = errors.New("referenced leaf is not a leaf")
)

// TreeReader gives access to persisted nodes and roots. Version 0 is the
// empty tree and never has to be stored.
type TreeReader interface {
	GetNode(key NodeKey) (*Node, error)
	GetRoot(version uint64) (Child, error)
}

// NodeEntry is a node created by an update.
type NodeEntry struct {
	Key  NodeKey
	Node *Node
}

// TreeUpdate is everything an update wrote. Applying it to the store makes
// [Version] readable.
type TreeUpdate struct {
	Version uint64
	Root    Child
	Nodes   []NodeEntry
}

// Tree is a versioned sparse merkle tree. Leaves sit at the shortest prefix
// of their key hash that no other key shares, so the shape of the tree
// depends only on its contents.
type Tree struct {
	reader TreeReader
	hasher spec.Hasher
}

func New(reader TreeReader, hasher spec.Hasher) *Tree {
	return &Tree{
		reader: reader,
		hasher: hasher,
	}
}

func (t *Tree) root(version uint64) (Child, error) {
	if version == 0 {
		return Child{}, nil
	}
	return t.reader.GetRoot(version)
}

// GetRootHash returns the root hash at [version].
func (t *Tree) GetRootHash(version uint64) ([spec.HashLen]byte, error) {
	root, err := t.root(version)
	if err != nil {
		return [spec.HashLen]byte{}, err
	}
	return root.Hash, nil
}

// GetWithProof returns a proof of the value [key] has at [version].
func (t *Tree) GetWithProof(key KeyHash, version uint64) (*SparseMerkleProof, error) {
	root, err := t.root(version)
	if err != nil {
		return nil, err
	}
	return t.proof(t.reader.GetNode, root, key)
}

func (t *Tree) proof(get func(NodeKey) (*Node, error), root Child, key KeyHash) (*SparseMerkleProof, error) {
	proof := &SparseMerkleProof{}
	ref := root
	path := Path{}
	for depth := 0; ; depth++ {
		switch ref.Kind {
		case KindNull:
			return proof, nil
		case KindLeaf:
			n, err := get(NodeKey{Version: ref.Version, Path: path})
			if err != nil {
				return nil, err
			}
			proof.HasLeaf = true
			proof.Leaf = ProofLeaf{
				KeyHash:   n.KeyHash,
				ValueHash: n.ValueHash,
			}
			return proof, nil
		case KindInternal:
			n, err := get(NodeKey{Version: ref.Version, Path: path})
			if err != nil {
				return nil, err
			}
			bit := key.Bit(depth)
			sibling := n.child(1 - bit)
			proof.Siblings = append(proof.Siblings, ProofNode{
				Kind: sibling.Kind,
				Hash: sibling.Hash,
			})
			ref = n.child(bit)
			path = path.child(bit)
		default:
			return nil, fmt.Errorf("%w: %d", errUnexpectedKind, ref.Kind)
		}
	}
}

// PutValueSetWithProof applies [updates] on top of version-1 and returns
// the new root, one proof per update and the nodes to persist. Nothing is
// written to the reader.
func (t *Tree) PutValueSetWithProof(updates []Update, version uint64) ([spec.HashLen]byte, *UpdateMerkleProof, *TreeUpdate, error) {
	if version == 0 {
		return [spec.HashLen]byte{}, nil, nil, errVersionNotNext
	}
	sorted, err := sortUpdates(updates)
	if err != nil {
		return [spec.HashLen]byte{}, nil, nil, err
	}
	root, err := t.root(version - 1)
	if err != nil {
		return [spec.HashLen]byte{}, nil, nil, fmt.Errorf("failed to read base root at %d: %w", version-1, err)
	}

	b := &batch{
		tree:    t,
		version: version,
		pending: make(map[NodeKey]*Node),
	}
	proof := &UpdateMerkleProof{
		Proofs: make([]SparseMerkleProof, 0, len(sorted)),
	}
	for _, u := range sorted {
		p, err := t.proof(b.get, root, u.Key)
		if err != nil {
			return [spec.HashLen]byte{}, nil, nil, err
		}
		proof.Proofs = append(proof.Proofs, *p)

		if u.Value.HasValue() {
			root, err = b.insert(root, Path{}, u.Key, ValueHash(t.hasher, u.Value.Value()))
		} else {
			root, _, err = b.delete(root, Path{}, u.Key)
		}
		if err != nil {
			return [spec.HashLen]byte{}, nil, nil, err
		}
	}

	update := &TreeUpdate{
		Version: version,
		Root:    root,
	}
	if err := b.collect(root, Path{}, &update.Nodes); err != nil {
		return [spec.HashLen]byte{}, nil, nil, err
	}
	return root.Hash, proof, update, nil
}

// batch overlays the nodes created at [version] on the reader.
type batch struct {
	tree    *Tree
	version uint64
	pending map[NodeKey]*Node
}

func (b *batch) get(key NodeKey) (*Node, error) {
	if key.Version == b.version {
		if n, ok := b.pending[key]; ok {
			return n, nil
		}
	}
	return b.tree.reader.GetNode(key)
}

func (b *batch) put(path Path, n *Node) Child {
	b.pending[NodeKey{Version: b.version, Path: path}] = n
	return Child{
		Kind:    n.Kind,
		Version: b.version,
		Hash:    n.Hash(b.tree.hasher),
	}
}

func (b *batch) leaf(ref Child, path Path) (*Node, error) {
	n, err := b.get(NodeKey{Version: ref.Version, Path: path})
	if err != nil {
		return nil, err
	}
	if n.Kind != KindLeaf {
		return nil, errMissingLeafNode
	}
	return n, nil
}

func (b *batch) insert(ref Child, path Path, key KeyHash, valueHash [spec.HashLen]byte) (Child, error) {
	depth := int(path.Len)
	switch ref.Kind {
	case KindNull:
		return b.put(path, newLeaf(key, valueHash)), nil
	case KindLeaf:
		existing, err := b.leaf(ref, path)
		if err != nil {
			return Child{}, err
		}
		if existing.KeyHash == key {
			return b.put(path, newLeaf(key, valueHash)), nil
		}
		return b.split(depth, existing, key, valueHash), nil
	case KindInternal:
		n, err := b.get(NodeKey{Version: ref.Version, Path: path})
		if err != nil {
			return Child{}, err
		}
		bit := key.Bit(depth)
		c, err := b.insert(n.child(bit), path.child(bit), key, valueHash)
		if err != nil {
			return Child{}, err
		}
		return b.put(path, n.withChild(bit, c)), nil
	default:
		return Child{}, fmt.Errorf("%w: %d", errUnexpectedKind, ref.Kind)
	}
}

// split replaces the leaf [existing] at [depth] with a subtree holding it
// and the new leaf, branching where their key hashes first differ.
func (b *batch) split(depth int, existing *Node, key KeyHash, valueHash [spec.HashLen]byte) Child {
	at := commonPrefixLen(existing.KeyHash, key)
	moved := b.put(pathOf(existing.KeyHash, at+1), existing)
	added := b.put(pathOf(key, at+1), newLeaf(key, valueHash))

	var cur Child
	if key.Bit(at) == 0 {
		cur = b.put(pathOf(key, at), newInternal(added, moved))
	} else {
		cur = b.put(pathOf(key, at), newInternal(moved, added))
	}
	for d := at - 1; d >= depth; d-- {
		if key.Bit(d) == 0 {
			cur = b.put(pathOf(key, d), newInternal(cur, Child{}))
		} else {
			cur = b.put(pathOf(key, d), newInternal(Child{}, cur))
		}
	}
	return cur
}

// delete removes [key] below [ref]. The bool reports whether anything
// changed.
func (b *batch) delete(ref Child, path Path, key KeyHash) (Child, bool, error) {
	depth := int(path.Len)
	switch ref.Kind {
	case KindNull:
		return ref, false, nil
	case KindLeaf:
		n, err := b.leaf(ref, path)
		if err != nil {
			return Child{}, false, err
		}
		if n.KeyHash != key {
			return ref, false, nil
		}
		return Child{}, true, nil
	case KindInternal:
		n, err := b.get(NodeKey{Version: ref.Version, Path: path})
		if err != nil {
			return Child{}, false, err
		}
		bit := key.Bit(depth)
		c, changed, err := b.delete(n.child(bit), path.child(bit), key)
		if err != nil || !changed {
			return ref, false, err
		}
		other := n.child(1 - bit)
		switch {
		case c.IsNull() && other.IsNull():
			return Child{}, true, nil
		case c.IsNull() && other.Kind == KindLeaf:
			l, err := b.leaf(other, path.child(1-bit))
			if err != nil {
				return Child{}, false, err
			}
			return b.put(path, l), true, nil
		case other.IsNull() && c.Kind == KindLeaf:
			l, err := b.leaf(c, path.child(bit))
			if err != nil {
				return Child{}, false, err
			}
			return b.put(path, l), true, nil
		default:
			return b.put(path, n.withChild(bit, c)), true, nil
		}
	default:
		return Child{}, false, fmt.Errorf("%w: %d", errUnexpectedKind, ref.Kind)
	}
}

// collect appends the nodes created at this version that are reachable
// from [ref]. Nodes overwritten or orphaned by later updates in the same
// batch are dropped.
func (b *batch) collect(ref Child, path Path, out *[]NodeEntry) error {
	if ref.IsNull() || ref.Version != b.version {
		return nil
	}
	key := NodeKey{Version: ref.Version, Path: path}
	n, ok := b.pending[key]
	if !ok {
		return fmt.Errorf("%w: %d/%x", ErrNodeNotFound, key.Version, key.Path.Bits[:])
	}
	*out = append(*out, NodeEntry{Key: key, Node: n})
	if n.Kind != KindInternal {
		return nil
	}
	if err := b.collect(n.Left, path.child(0), out); err != nil {
		return err
	}
	return b.collect(n.Right, path.child(1), out)
}
