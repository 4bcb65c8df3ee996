// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package spec bundles the capabilities the state transition is
// parameterised over: the hash function, the signature scheme and whether
// the code runs natively or replays a witness.
package spec

// Spec is one of exactly two instantiations, see [NewNative] and [NewZk].
type Spec struct {
	Hasher   Hasher
	Verifier Verifier

	native bool
}

// NewNative is used for block production: state is read from disk and
// accessory (non-provable) state is available.
func NewNative(hasher Hasher) *Spec {
	return &Spec{
		Hasher:   hasher,
		Verifier: NewSecp256k1Verifier(),
		native:   true,
	}
}

// NewZk is used when replaying a witness. Accessory state is unavailable.
func NewZk(hasher Hasher) *Spec {
	return &Spec{
		Hasher:   hasher,
		Verifier: NewSecp256k1Verifier(),
	}
}

func (s *Spec) IsNative() bool { return s.native }
