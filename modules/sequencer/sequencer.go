// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sequencer

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/rollupvm/modules"
	"github.com/ava-labs/rollupvm/modules/bank"
	"github.com/ava-labs/rollupvm/state"
)

const Name = "sequencer_registry"

var (
	ErrUnknownSequencer  = errors.New("unknown sequencer")
	ErrInsufficientBond  = errors.New("sequencer bond is below the minimum")
	ErrAlreadyRegistered = errors.New("sequencer already registered")
	ErrNotOwner          = errors.New("sender does not own the sequencer")
	ErrSequencerBusy     = errors.New("sequencer can't exit while its batch is executing")

	// BondAccount holds the bonds of every registered sequencer.
	BondAccount = modules.Address(Name + "/bonds")
)

// Sequencer is a registered DA address. Rewards go to [RollupAddress].
type Sequencer struct {
	RollupAddress ids.ShortID `serialize:"true" json:"rollupAddress"`
	Bond          uint64      `serialize:"true" json:"bond"`
}

type SequencerConfig struct {
	DaAddress     ids.ShortID `json:"daAddress" mapstructure:"da_address"`
	RollupAddress ids.ShortID `json:"rollupAddress" mapstructure:"rollup_address"`
	Bond          uint64      `json:"bond" mapstructure:"bond"`
}

type Config struct {
	MinimumBond uint64            `json:"minimumBond" mapstructure:"minimum_bond"`
	Sequencers  []SequencerConfig `json:"sequencers" mapstructure:"sequencers"`
	// Preferred, if set, has its batches executed first.
	Preferred ids.ShortID `json:"preferred" mapstructure:"preferred"`
}

// Outcome is what the registry needs to know about a finished batch.
type Outcome struct {
	Slashed bool
	Reward  uint64
}

type Registry struct {
	bank *bank.Bank

	minimumBond state.StateValue[uint64]
	preferred   state.StateValue[ids.ShortID]
	sequencers  state.StateMap[ids.ShortID, Sequencer]
}

func New(b *bank.Bank) *Registry {
	p := modules.Prefix(Name)
	return &Registry{
		bank:        b,
		minimumBond: state.NewStateValue[uint64](p.Field("minimum_bond"), state.LinearCodec[uint64]{}),
		preferred:   state.NewStateValue[ids.ShortID](p.Field("preferred"), state.LinearCodec[ids.ShortID]{}),
		sequencers:  state.NewStateMap[ids.ShortID, Sequencer](p.Field("sequencers"), state.LinearCodec[ids.ShortID]{}, state.LinearCodec[Sequencer]{}),
	}
}

// Genesis registers the initial sequencers whatever their bond: a
// sequencer bonded below the minimum just can't post batches.
func (r *Registry) Genesis(cfg Config, ws *state.WorkingSet) error {
	if err := r.minimumBond.Set(ws, cfg.MinimumBond); err != nil {
		return err
	}
	if cfg.Preferred != ids.ShortEmpty {
		if err := r.preferred.Set(ws, cfg.Preferred); err != nil {
			return err
		}
	}
	for _, s := range cfg.Sequencers {
		if err := r.register(ws, s.DaAddress, s.RollupAddress, s.Bond); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) register(ws *state.WorkingSet, daAddr, owner ids.ShortID, bond uint64) error {
	if _, ok, err := r.sequencers.Get(ws, daAddr); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, daAddr)
	}
	gas, err := r.bank.GasToken(ws)
	if err != nil {
		return err
	}
	if err := r.bank.TransferFrom(ws, gas, owner, BondAccount, bond); err != nil {
		return err
	}
	return r.sequencers.Set(ws, daAddr, Sequencer{RollupAddress: owner, Bond: bond})
}

func (r *Registry) MinimumBond(ws *state.WorkingSet) (uint64, error) {
	return r.minimumBond.GetOrErr(ws)
}

func (r *Registry) Get(ws *state.WorkingSet, daAddr ids.ShortID) (Sequencer, bool, error) {
	return r.sequencers.Get(ws, daAddr)
}

func (r *Registry) IsRegistered(ws *state.WorkingSet, daAddr ids.ShortID) (bool, error) {
	_, ok, err := r.sequencers.Get(ws, daAddr)
	return ok, err
}

func (r *Registry) Preferred(ws *state.WorkingSet) (ids.ShortID, bool, error) {
	return r.preferred.Get(ws)
}

// EnterBlob fails unless [daAddr] is registered with a sufficient bond.
func (r *Registry) EnterBlob(ws *state.WorkingSet, daAddr ids.ShortID) error {
	s, ok, err := r.sequencers.Get(ws, daAddr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSequencer, daAddr)
	}
	minBond, err := r.MinimumBond(ws)
	if err != nil {
		return err
	}
	if s.Bond < minBond {
		return fmt.Errorf("%w: %d < %d", ErrInsufficientBond, s.Bond, minBond)
	}
	return nil
}

// ExitBlob pays the reward of a batch, or burns the bond of a slashed
// sequencer and removes it.
func (r *Registry) ExitBlob(ws *state.WorkingSet, daAddr ids.ShortID, outcome Outcome) error {
	s, ok, err := r.sequencers.Get(ws, daAddr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSequencer, daAddr)
	}
	if !outcome.Slashed {
		return r.bank.PayFromEscrow(ws, s.RollupAddress, outcome.Reward)
	}

	gas, err := r.bank.GasToken(ws)
	if err != nil {
		return err
	}
	if err := r.bank.BurnFrom(ws, gas, BondAccount, s.Bond); err != nil {
		return err
	}
	if err := r.sequencers.Remove(ws, daAddr); err != nil {
		return err
	}
	ws.AddEvent("sequencer/slashed", daAddr[:])
	return nil
}

// Register bonds the sender's funds for a new DA address.
type Register struct {
	DaAddress ids.ShortID `serialize:"true" json:"daAddress"`
	Amount    uint64      `serialize:"true" json:"amount"`
}

// Exit unregisters a DA address and refunds its bond.
type Exit struct {
	DaAddress ids.ShortID `serialize:"true" json:"daAddress"`
}

func (*Register) Module() string { return Name }
func (*Exit) Module() string     { return Name }

func (r *Registry) Register(ws *state.WorkingSet, sender ids.ShortID, msg *Register) error {
	minBond, err := r.MinimumBond(ws)
	if err != nil {
		return err
	}
	if msg.Amount < minBond {
		return fmt.Errorf("%w: %d < %d", ErrInsufficientBond, msg.Amount, minBond)
	}
	if err := r.register(ws, msg.DaAddress, sender, msg.Amount); err != nil {
		return err
	}
	ws.AddEvent("sequencer/registered", msg.DaAddress[:])
	return nil
}

// Exit refunds the bond of [msg.DaAddress] to its owner. [current] is the
// sequencer of the executing batch, which must stay registered until the
// batch is rewarded.
func (r *Registry) Exit(ws *state.WorkingSet, sender ids.ShortID, current ids.ShortID, msg *Exit) error {
	if msg.DaAddress == current {
		return fmt.Errorf("%w: %s", ErrSequencerBusy, current)
	}
	s, ok, err := r.sequencers.Get(ws, msg.DaAddress)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSequencer, msg.DaAddress)
	}
	if s.RollupAddress != sender {
		return fmt.Errorf("%w: %s", ErrNotOwner, msg.DaAddress)
	}
	gas, err := r.bank.GasToken(ws)
	if err != nil {
		return err
	}
	if err := r.bank.TransferFrom(ws, gas, BondAccount, sender, s.Bond); err != nil {
		return err
	}
	if err := r.sequencers.Remove(ws, msg.DaAddress); err != nil {
		return err
	}
	ws.AddEvent("sequencer/exited", msg.DaAddress[:])
	return nil
}
