// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package spec

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/crypto/secp256k1"
)

const SignatureLen = secp256k1.SignatureLen

var (
	errBadSignatureLen = errors.New("bad signature length")

	_ Verifier = (*Secp256k1Verifier)(nil)
)

// Verifier recovers the address that signed a message.
type Verifier interface {
	RecoverAddress(msg []byte, sig []byte) (ids.ShortID, error)
}

// Secp256k1Verifier recovers addresses from recoverable secp256k1
// signatures.
type Secp256k1Verifier struct{}

func NewSecp256k1Verifier() *Secp256k1Verifier {
	return &Secp256k1Verifier{}
}

func (v *Secp256k1Verifier) RecoverAddress(msg []byte, sig []byte) (ids.ShortID, error) {
	if len(sig) != SignatureLen {
		return ids.ShortEmpty, fmt.Errorf("%w: expected %d, got %d", errBadSignatureLen, SignatureLen, len(sig))
	}
	pk, err := secp256k1.RecoverPublicKey(msg, sig)
	if err != nil {
		return ids.ShortEmpty, err
	}
	return pk.Address(), nil
}

// Signer signs transactions on behalf of a single key.
type Signer struct {
	key *secp256k1.PrivateKey
}

// NewSigner generates a fresh key.
func NewSigner() (*Signer, error) {
	key, err := secp256k1.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &Signer{key: key}, nil
}

// SignerFromBytes loads a key from its raw bytes.
func SignerFromBytes(b []byte) (*Signer, error) {
	key, err := secp256k1.ToPrivateKey(b)
	if err != nil {
		return nil, err
	}
	return &Signer{key: key}, nil
}

func (s *Signer) Address() ids.ShortID { return s.key.PublicKey().Address() }

func (s *Signer) Sign(msg []byte) ([]byte, error) { return s.key.Sign(msg) }

func (s *Signer) Bytes() []byte { return s.key.Bytes() }
