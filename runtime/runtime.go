// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package runtime

import (
	"errors"
	"fmt"

	"github.com/ava-labs/rollupvm/da"
	"github.com/ava-labs/rollupvm/kernel"
	"github.com/ava-labs/rollupvm/modules/accounts"
	"github.com/ava-labs/rollupvm/modules/bank"
	"github.com/ava-labs/rollupvm/modules/chainstate"
	"github.com/ava-labs/rollupvm/modules/election"
	"github.com/ava-labs/rollupvm/modules/sequencer"
	"github.com/ava-labs/rollupvm/state"
	"github.com/ava-labs/rollupvm/stf"
)

var (
	errUnknownCall = errors.New("unknown call message")

	_ stf.Runtime[CallMessage, GenesisConfig] = (*Runtime)(nil)
)

// CallMessage is implemented by the call messages of every module, see
// [Codec] for the full list.
type CallMessage interface {
	Module() string
}

type GenesisConfig struct {
	Bank      bank.Config      `json:"bank" mapstructure:"bank"`
	Sequencer sequencer.Config `json:"sequencer" mapstructure:"sequencer"`
	Election  election.Config  `json:"election" mapstructure:"election"`
}

// Runtime is the fixed set of modules of the rollup. Each module owns its
// own state prefix.
type Runtime struct {
	ChainState *chainstate.ChainState
	Accounts   *accounts.Accounts
	Bank       *bank.Bank
	Sequencer  *sequencer.Registry
	Election   *election.Election
}

func New() *Runtime {
	b := bank.New()
	return &Runtime{
		ChainState: chainstate.New(),
		Accounts:   accounts.New(),
		Bank:       b,
		Sequencer:  sequencer.New(b),
		Election:   election.New(),
	}
}

// Kernel returns the kernel to run the runtime with. With
// [registeredOnly], blobs of unregistered senders are dropped before they
// reach the runtime.
func (r *Runtime) Kernel(registeredOnly bool) stf.Kernel {
	if registeredOnly {
		return kernel.NewRegisteredSequencer(r.ChainState, r.Sequencer)
	}
	return kernel.NewBasic(r.ChainState)
}

func (r *Runtime) Genesis(cfg GenesisConfig, ws *state.WorkingSet) error {
	if err := r.Bank.Genesis(cfg.Bank, ws); err != nil {
		return fmt.Errorf("bank: %w", err)
	}
	if err := r.Sequencer.Genesis(cfg.Sequencer, ws); err != nil {
		return fmt.Errorf("sequencer registry: %w", err)
	}
	if err := r.Election.Genesis(cfg.Election, ws); err != nil {
		return fmt.Errorf("election: %w", err)
	}
	return nil
}

func (*Runtime) BeginSlotHook(*stf.SlotHeader, *state.WorkingSet) error { return nil }

func (*Runtime) EndSlotHook(*state.WorkingSet) error { return nil }

func (r *Runtime) FinalizeHook(root state.Root, acc state.AccessoryReaderWriter) error {
	return r.ChainState.Finalize(root, acc)
}

func (r *Runtime) EnterApplyBlobHook(blob *da.BlobTransaction, ws *state.WorkingSet) error {
	return r.Sequencer.EnterBlob(ws, blob.Sender)
}

func (r *Runtime) ExitApplyBlobHook(blob *da.BlobTransaction, outcome stf.SequencerOutcome, ws *state.WorkingSet) error {
	return r.Sequencer.ExitBlob(ws, blob.Sender, sequencer.Outcome{
		Slashed: outcome.Kind == stf.Slashed,
		Reward:  outcome.Reward,
	})
}

// PreDispatchTxHook checks the nonce and escrows the fee.
func (r *Runtime) PreDispatchTxHook(tx *stf.VerifiedTx, ctx *stf.Context, ws *state.WorkingSet) error {
	if err := r.Accounts.CheckNonce(ws, tx.Sender, tx.Tx.Nonce); err != nil {
		return err
	}
	return r.Bank.ReserveFee(ws, tx.Sender, ctx.Fee)
}

func (*Runtime) DecodeCall(msg []byte) (CallMessage, error) {
	return decodeCall(msg)
}

func (r *Runtime) DispatchCall(msg CallMessage, ctx *stf.Context, ws *state.WorkingSet) error {
	sender := ctx.Sender
	switch m := msg.(type) {
	case *bank.CreateToken:
		_, err := r.Bank.CreateToken(ws, sender, m)
		return err
	case *bank.Transfer:
		return r.Bank.Transfer(ws, sender, m)
	case *bank.Mint:
		return r.Bank.Mint(ws, sender, m)
	case *bank.Burn:
		return r.Bank.Burn(ws, sender, m)
	case *sequencer.Register:
		return r.Sequencer.Register(ws, sender, m)
	case *sequencer.Exit:
		return r.Sequencer.Exit(ws, sender, ctx.Sequencer, m)
	case *election.SetCandidates:
		return r.Election.SetCandidates(ws, sender, m)
	case *election.AddVoter:
		return r.Election.AddVoter(ws, sender, m)
	case *election.Vote:
		return r.Election.Vote(ws, sender, m)
	case *election.FreezeElection:
		return r.Election.FreezeElection(ws, sender, m)
	default:
		return fmt.Errorf("%w: %T", errUnknownCall, msg)
	}
}

// PostDispatchTxHook consumes the nonce whether or not the call succeeded.
func (r *Runtime) PostDispatchTxHook(tx *stf.VerifiedTx, _ *stf.Context, ws *state.WorkingSet) error {
	return r.Accounts.IncrementNonce(ws, tx.Sender)
}
