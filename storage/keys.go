// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"encoding/binary"
	"errors"

	"github.com/ava-labs/avalanchego/utils/maybe"
	"github.com/ava-labs/avalanchego/utils/wrappers"

	"github.com/ava-labs/rollupvm/jmt"
)

const (
	deletedMarker byte = iota
	presentMarker
)

var errCorruptedEntry = errors.New("corrupted versioned entry")

// versionedKey is key || ^version. Versions are stored complemented so an
// ascending iteration starting at a version visits the latest entry at or
// below it first.
func versionedKey(key []byte, version uint64) []byte {
	b := make([]byte, len(key)+wrappers.LongLen)
	copy(b, key)
	binary.BigEndian.PutUint64(b[len(key):], ^version)
	return b
}

func encodeEntry(v maybe.Maybe[[]byte]) []byte {
	if v.IsNothing() {
		return []byte{deletedMarker}
	}
	b := make([]byte, 1+len(v.Value()))
	b[0] = presentMarker
	copy(b[1:], v.Value())
	return b
}

func decodeEntry(b []byte) (maybe.Maybe[[]byte], error) {
	if len(b) == 0 {
		return maybe.Nothing[[]byte](), errCorruptedEntry
	}
	switch b[0] {
	case deletedMarker:
		return maybe.Nothing[[]byte](), nil
	case presentMarker:
		v := make([]byte, len(b)-1)
		copy(v, b[1:])
		return maybe.Some(v), nil
	default:
		return maybe.Nothing[[]byte](), errCorruptedEntry
	}
}

// nodeDBKey is path bits || path length || version, all big-endian.
func nodeDBKey(key jmt.NodeKey) []byte {
	n := len(key.Path.Bits)
	b := make([]byte, n+wrappers.ShortLen+wrappers.LongLen)
	copy(b, key.Path.Bits[:])
	binary.BigEndian.PutUint16(b[n:], key.Path.Len)
	binary.BigEndian.PutUint64(b[n+wrappers.ShortLen:], key.Version)
	return b
}

func versionKey(version uint64) []byte {
	b := make([]byte, wrappers.LongLen)
	binary.BigEndian.PutUint64(b, version)
	return b
}
