// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

// valueHint is recorded for every storage read.
type valueHint struct {
	Present bool   `serialize:"true"`
	Value   []byte `serialize:"true"`
}

// rootHint is recorded before and after the proofs of a state update.
type rootHint struct {
	Root [32]byte `serialize:"true"`
}
