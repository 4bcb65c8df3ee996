// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package jmt

import (
	"math/bits"

	"github.com/ava-labs/rollupvm/spec"
)

const (
	// KeyBits is the depth of the tree.
	KeyBits = spec.HashLen * 8

	leafDomain     byte = 0x00
	internalDomain byte = 0x01
)

// Kind of a node, or of a reference to one.
const (
	KindNull uint8 = iota
	KindLeaf
	KindInternal
)

// KeyHash is the hashed storage key. Leaves are placed along its bits,
// most significant bit first.
type KeyHash [spec.HashLen]byte

// Bit returns the bit of [k] at [depth].
func (k KeyHash) Bit(depth int) uint8 {
	return (k[depth/8] >> (7 - uint(depth%8))) & 1
}

// commonPrefixLen returns the number of leading bits [a] and [b] share.
func commonPrefixLen(a, b KeyHash) int {
	for i := range a {
		if x := a[i] ^ b[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return KeyBits
}

// Path is a prefix of a key hash. Bits past Len are always zero so that
// paths compare by value.
type Path struct {
	Bits [spec.HashLen]byte `serialize:"true"`
	Len  uint16             `serialize:"true"`
}

// pathOf returns the first [n] bits of [k].
func pathOf(k KeyHash, n int) Path {
	p := Path{Len: uint16(n)}
	full := n / 8
	copy(p.Bits[:full], k[:full])
	if rem := n % 8; rem != 0 {
		p.Bits[full] = k[full] & (0xff << (8 - uint(rem)))
	}
	return p
}

// child returns [p] extended by one bit.
func (p Path) child(bit uint8) Path {
	c := p
	if bit == 1 {
		c.Bits[p.Len/8] |= 1 << (7 - p.Len%8)
	}
	c.Len++
	return c
}

// NodeKey addresses a node. A node is written once at the version that
// created it and is never rewritten.
type NodeKey struct {
	Version uint64 `serialize:"true"`
	Path    Path   `serialize:"true"`
}

// Child is a reference from a parent to a node, or to nothing.
type Child struct {
	Kind    uint8              `serialize:"true"`
	Version uint64             `serialize:"true"`
	Hash    [spec.HashLen]byte `serialize:"true"`
}

func (c Child) IsNull() bool { return c.Kind == KindNull }

// Node is either a leaf, holding the hash of a key and of its value, or
// an internal node with two children. Internal nodes always have at least
// two leaves below them.
type Node struct {
	Kind      uint8              `serialize:"true"`
	Left      Child              `serialize:"true"`
	Right     Child              `serialize:"true"`
	KeyHash   KeyHash            `serialize:"true"`
	ValueHash [spec.HashLen]byte `serialize:"true"`
}

func newLeaf(key KeyHash, valueHash [spec.HashLen]byte) *Node {
	return &Node{
		Kind:      KindLeaf,
		KeyHash:   key,
		ValueHash: valueHash,
	}
}

func newInternal(left, right Child) *Node {
	return &Node{
		Kind:  KindInternal,
		Left:  left,
		Right: right,
	}
}

func (n *Node) child(bit uint8) Child {
	if bit == 0 {
		return n.Left
	}
	return n.Right
}

func (n *Node) withChild(bit uint8, c Child) *Node {
	if bit == 0 {
		return newInternal(c, n.Right)
	}
	return newInternal(n.Left, c)
}

// Hash of the node under [h].
func (n *Node) Hash(h spec.Hasher) [spec.HashLen]byte {
	if n.Kind == KindLeaf {
		return leafHash(h, n.KeyHash, n.ValueHash)
	}
	return internalHash(h, n.Left.Hash, n.Right.Hash)
}

func leafHash(h spec.Hasher, key KeyHash, valueHash [spec.HashLen]byte) [spec.HashLen]byte {
	return h.Hash([]byte{leafDomain}, key[:], valueHash[:])
}

func internalHash(h spec.Hasher, left, right [spec.HashLen]byte) [spec.HashLen]byte {
	return h.Hash([]byte{internalDomain}, left[:], right[:])
}

// ValueHash is the hash a leaf commits to for [value].
func ValueHash(h spec.Hasher, value []byte) [spec.HashLen]byte {
	return h.Hash(value)
}

// HashKey maps a storage key into the tree.
func HashKey(h spec.Hasher, key []byte) KeyHash {
	return KeyHash(h.Hash(key))
}
