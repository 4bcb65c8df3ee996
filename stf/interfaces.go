// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stf

import (
	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/rollupvm/da"
	"github.com/ava-labs/rollupvm/state"
)

// Context is handed to every hook that runs on behalf of a transaction.
type Context struct {
	Sender    ids.ShortID
	Sequencer ids.ShortID
	Slot      uint64
	Fee       uint64
}

// SlotHeader is what the slot hooks learn about the DA block.
type SlotHeader struct {
	Header            *da.BlockHeader
	ValidityCondition da.ValidityCondition
	PreStateRoot      state.Root
}

// Runtime is the set of modules the blueprint drives. [M] is the decoded
// call message, [G] the genesis configuration.
type Runtime[M any, G any] interface {
	Genesis(cfg G, ws *state.WorkingSet) error

	BeginSlotHook(slot *SlotHeader, ws *state.WorkingSet) error
	EndSlotHook(ws *state.WorkingSet) error
	// FinalizeHook sees the root of the slot and may only write
	// accessory state.
	FinalizeHook(root state.Root, acc state.AccessoryReaderWriter) error

	// EnterApplyBlobHook rejects blobs from senders that may not post
	// batches. An error makes the blob Ignored.
	EnterApplyBlobHook(blob *da.BlobTransaction, ws *state.WorkingSet) error
	// ExitApplyBlobHook settles the sequencer account for [outcome].
	ExitApplyBlobHook(blob *da.BlobTransaction, outcome SequencerOutcome, ws *state.WorkingSet) error

	PreDispatchTxHook(tx *VerifiedTx, ctx *Context, ws *state.WorkingSet) error
	DecodeCall(msg []byte) (M, error)
	DispatchCall(msg M, ctx *Context, ws *state.WorkingSet) error
	PostDispatchTxHook(tx *VerifiedTx, ctx *Context, ws *state.WorkingSet) error
}

// Kernel owns the parts of the state the runtime can't tamper with, like
// the slot number, and picks the blobs a slot executes.
type Kernel interface {
	Genesis(ws *state.WorkingSet) error
	BeginSlot(slot *SlotHeader, ws *state.WorkingSet) error
	GetBlobsForThisSlot(blobs []da.BlobTransaction, ws *state.WorkingSet) ([]da.BlobTransaction, error)
	// SlotNumber is the slot being executed.
	SlotNumber(ws *state.WorkingSet) (uint64, error)
}
