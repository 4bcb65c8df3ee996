// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package spec

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/utils/hashing"
	"golang.org/x/crypto/sha3"
)

const HashLen = hashing.HashLen

var (
	errUnknownHasher = errors.New("unknown hasher")

	_ Hasher = Sha256{}
	_ Hasher = Keccak256{}
)

// Hasher is the hash function the authenticated store and transaction
// hashes are built on. Both execution environments must use the same one.
type Hasher interface {
	Name() string
	Hash(parts ...[]byte) [HashLen]byte
}

type Sha256 struct{}

func (Sha256) Name() string { return "sha256" }

func (Sha256) Hash(parts ...[]byte) [HashLen]byte {
	if len(parts) == 1 {
		return hashing.ComputeHash256Array(parts[0])
	}
	return hashing.ComputeHash256Array(concat(parts))
}

type Keccak256 struct{}

func (Keccak256) Name() string { return "keccak256" }

func (Keccak256) Hash(parts ...[]byte) [HashLen]byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	var out [HashLen]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HasherByName returns the hasher registered under [name].
func HasherByName(name string) (Hasher, error) {
	switch name {
	case "", Sha256{}.Name():
		return Sha256{}, nil
	case Keccak256{}.Name():
		return Keccak256{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownHasher, name)
	}
}

func concat(parts [][]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}
