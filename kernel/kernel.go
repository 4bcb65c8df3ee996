// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package kernel

import (
	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/rollupvm/da"
	"github.com/ava-labs/rollupvm/modules/chainstate"
	"github.com/ava-labs/rollupvm/state"
	"github.com/ava-labs/rollupvm/stf"
)

var (
	_ stf.Kernel = (*BasicKernel)(nil)
	_ stf.Kernel = (*RegisteredSequencerKernel)(nil)
)

// BasicKernel executes every blob in DA order.
type BasicKernel struct {
	chain *chainstate.ChainState
}

func NewBasic(chain *chainstate.ChainState) *BasicKernel {
	return &BasicKernel{chain: chain}
}

func (k *BasicKernel) Genesis(ws *state.WorkingSet) error {
	return k.chain.Genesis(ws)
}

func (k *BasicKernel) BeginSlot(slot *stf.SlotHeader, ws *state.WorkingSet) error {
	_, err := k.chain.BeginSlot(ws, slot.Header.Hash, slot.PreStateRoot)
	return err
}

func (*BasicKernel) GetBlobsForThisSlot(blobs []da.BlobTransaction, _ *state.WorkingSet) ([]da.BlobTransaction, error) {
	return blobs, nil
}

func (k *BasicKernel) SlotNumber(ws *state.WorkingSet) (uint64, error) {
	return k.chain.SlotNumber(ws)
}

// SequencerRegistry is what [RegisteredSequencerKernel] needs to know
// about sequencers.
type SequencerRegistry interface {
	IsRegistered(ws *state.WorkingSet, daAddr ids.ShortID) (bool, error)
	Preferred(ws *state.WorkingSet) (ids.ShortID, bool, error)
}

// RegisteredSequencerKernel drops blobs from unregistered senders and runs
// the blobs of the preferred sequencer first. Blobs otherwise keep their
// DA order.
type RegisteredSequencerKernel struct {
	*BasicKernel

	registry SequencerRegistry
}

func NewRegisteredSequencer(chain *chainstate.ChainState, registry SequencerRegistry) *RegisteredSequencerKernel {
	return &RegisteredSequencerKernel{
		BasicKernel: NewBasic(chain),
		registry:    registry,
	}
}

func (k *RegisteredSequencerKernel) GetBlobsForThisSlot(blobs []da.BlobTransaction, ws *state.WorkingSet) ([]da.BlobTransaction, error) {
	preferred, hasPreferred, err := k.registry.Preferred(ws)
	if err != nil {
		return nil, err
	}

	var first, rest []da.BlobTransaction
	for _, blob := range blobs {
		ok, err := k.registry.IsRegistered(ws, blob.Sender)
		if err != nil {
			return nil, err
		}
		switch {
		case !ok:
			// Unregistered senders never reach the runtime.
		case hasPreferred && blob.Sender == preferred:
			first = append(first, blob)
		default:
			rest = append(rest, blob)
		}
	}
	return append(first, rest...), nil
}
