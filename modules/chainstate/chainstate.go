// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package chainstate

import (
	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/rollupvm/modules"
	"github.com/ava-labs/rollupvm/state"
)

const Name = "chain_state"

// ChainState tracks the slot number and, for each slot, the DA block it
// executed and the root it started from. The root a slot ended with is
// only known after the state update and is kept as accessory state.
type ChainState struct {
	slotNumber state.StateValue[uint64]
	daHashes   state.StateMap[uint64, ids.ID]
	preRoots   state.StateMap[uint64, state.Root]

	currentSlot state.AccessoryStateValue[uint64]
	postRoots   state.AccessoryStateMap[uint64, state.Root]
}

func New() *ChainState {
	p := modules.Prefix(Name)
	return &ChainState{
		slotNumber:  state.NewStateValue[uint64](p.Field("slot_number"), state.LinearCodec[uint64]{}),
		daHashes:    state.NewStateMap[uint64, ids.ID](p.Field("da_hashes"), state.LinearCodec[uint64]{}, state.LinearCodec[ids.ID]{}),
		preRoots:    state.NewStateMap[uint64, state.Root](p.Field("pre_roots"), state.LinearCodec[uint64]{}, state.LinearCodec[state.Root]{}),
		currentSlot: state.NewAccessoryStateValue[uint64](p.Field("current_slot"), state.LinearCodec[uint64]{}),
		postRoots:   state.NewAccessoryStateMap[uint64, state.Root](p.Field("post_roots"), state.LinearCodec[uint64]{}, state.LinearCodec[state.Root]{}),
	}
}

func (c *ChainState) Genesis(ws *state.WorkingSet) error {
	return c.slotNumber.Set(ws, 0)
}

// BeginSlot moves to the next slot and returns its number.
func (c *ChainState) BeginSlot(ws *state.WorkingSet, daHash ids.ID, preRoot state.Root) (uint64, error) {
	n, err := c.slotNumber.GetOrErr(ws)
	if err != nil {
		return 0, err
	}
	n++
	if err := c.slotNumber.Set(ws, n); err != nil {
		return 0, err
	}
	if err := c.daHashes.Set(ws, n, daHash); err != nil {
		return 0, err
	}
	if err := c.preRoots.Set(ws, n, preRoot); err != nil {
		return 0, err
	}
	return n, c.currentSlot.Set(ws.Accessory(), n)
}

// Finalize records the root the current slot ended with.
func (c *ChainState) Finalize(root state.Root, acc state.AccessoryReaderWriter) error {
	n, ok, err := c.currentSlot.Get(acc)
	if err != nil || !ok {
		return err
	}
	return c.postRoots.Set(acc, n, root)
}

func (c *ChainState) SlotNumber(ws *state.WorkingSet) (uint64, error) {
	return c.slotNumber.GetOrErr(ws)
}

func (c *ChainState) DaHash(ws *state.WorkingSet, slot uint64) (ids.ID, bool, error) {
	return c.daHashes.Get(ws, slot)
}

// PreStateRoot is the root slot [slot] started from.
func (c *ChainState) PreStateRoot(ws *state.WorkingSet, slot uint64) (state.Root, bool, error) {
	return c.preRoots.Get(ws, slot)
}

// PostStateRoot is the root slot [slot] ended with. Only available
// natively.
func (c *ChainState) PostStateRoot(acc state.AccessoryReaderWriter, slot uint64) (state.Root, bool, error) {
	return c.postRoots.Get(acc, slot)
}
