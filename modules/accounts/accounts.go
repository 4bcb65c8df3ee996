// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package accounts

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/rollupvm/modules"
	"github.com/ava-labs/rollupvm/state"
)

const Name = "accounts"

var ErrBadNonce = errors.New("bad nonce")

// Accounts tracks the next nonce of every address. Transactions must use
// nonces in order.
type Accounts struct {
	nonces state.StateMap[ids.ShortID, uint64]
}

func New() *Accounts {
	p := modules.Prefix(Name)
	return &Accounts{
		nonces: state.NewStateMap[ids.ShortID, uint64](p.Field("nonces"), state.LinearCodec[ids.ShortID]{}, state.LinearCodec[uint64]{}),
	}
}

func (a *Accounts) Nonce(ws *state.WorkingSet, addr ids.ShortID) (uint64, error) {
	n, _, err := a.nonces.Get(ws, addr)
	return n, err
}

// CheckNonce fails unless [nonce] is the next nonce of [addr].
func (a *Accounts) CheckNonce(ws *state.WorkingSet, addr ids.ShortID, nonce uint64) error {
	expected, err := a.Nonce(ws, addr)
	if err != nil {
		return err
	}
	if nonce != expected {
		return fmt.Errorf("%w: expected %d, got %d", ErrBadNonce, expected, nonce)
	}
	return nil
}

func (a *Accounts) IncrementNonce(ws *state.WorkingSet, addr ids.ShortID) error {
	n, err := a.Nonce(ws, addr)
	if err != nil {
		return err
	}
	return a.nonces.Set(ws, addr, n+1)
}
