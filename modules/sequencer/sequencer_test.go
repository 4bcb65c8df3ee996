// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sequencer

import (
	"testing"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/rollupvm/modules/bank"
	"github.com/ava-labs/rollupvm/spec"
	"github.com/ava-labs/rollupvm/state"
	"github.com/ava-labs/rollupvm/storage"
)

var (
	owner   = ids.ShortID{1}
	daAddr  = ids.ShortID{0xaa}
	weakDA  = ids.ShortID{0xab}
	otherDA = ids.ShortID{0xac}
)

type fixture struct {
	bank     *bank.Bank
	registry *Registry
	ws       *state.WorkingSet
	gas      ids.ID
}

func newFixture(t *testing.T) *fixture {
	require := require.New(t)

	s, err := storage.NewProverStorage(memdb.New(), spec.Sha256{}, storage.Config{}, prometheus.NewRegistry())
	require.NoError(err)
	f := &fixture{
		bank: bank.New(),
		ws:   state.NewStateCheckpoint(s, state.NewArrayWitness()).ToRevertable(),
	}
	f.registry = New(f.bank)

	require.NoError(f.bank.Genesis(bank.Config{
		GasToken: bank.TokenConfig{
			Name:     "gas",
			Balances: []bank.Balance{{Address: owner, Amount: 1000}},
		},
	}, f.ws))
	require.NoError(f.registry.Genesis(Config{
		MinimumBond: 100,
		Sequencers: []SequencerConfig{
			{DaAddress: daAddr, RollupAddress: owner, Bond: 100},
			{DaAddress: weakDA, RollupAddress: owner, Bond: 10},
		},
		Preferred: daAddr,
	}, f.ws))
	f.gas, err = f.bank.GasToken(f.ws)
	require.NoError(err)
	return f
}

func (f *fixture) balance(t *testing.T, addr ids.ShortID) uint64 {
	bal, err := f.bank.Balance(f.ws, f.gas, addr)
	require.NoError(t, err)
	return bal
}

func TestGenesisBondsSequencers(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	require.Equal(uint64(890), f.balance(t, owner))
	require.Equal(uint64(110), f.balance(t, BondAccount))

	s, ok, err := f.registry.Get(f.ws, daAddr)
	require.NoError(err)
	require.True(ok)
	require.Equal(Sequencer{RollupAddress: owner, Bond: 100}, s)

	preferred, ok, err := f.registry.Preferred(f.ws)
	require.NoError(err)
	require.True(ok)
	require.Equal(daAddr, preferred)
}

func TestEnterBlob(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	require.NoError(f.registry.EnterBlob(f.ws, daAddr))
	require.ErrorIs(f.registry.EnterBlob(f.ws, weakDA), ErrInsufficientBond)
	require.ErrorIs(f.registry.EnterBlob(f.ws, otherDA), ErrUnknownSequencer)
}

func TestExitBlobRewards(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	require.NoError(f.bank.ReserveFee(f.ws, owner, 15))
	require.NoError(f.registry.ExitBlob(f.ws, daAddr, Outcome{Reward: 15}))
	require.Equal(uint64(890), f.balance(t, owner))
	require.Zero(f.balance(t, bank.FeeEscrow))
}

func TestExitBlobSlashes(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	require.NoError(f.registry.ExitBlob(f.ws, daAddr, Outcome{Slashed: true}))

	ok, err := f.registry.IsRegistered(f.ws, daAddr)
	require.NoError(err)
	require.False(ok)
	require.Equal(uint64(10), f.balance(t, BondAccount))

	token, _, err := f.bank.Token(f.ws, f.gas)
	require.NoError(err)
	require.Equal(uint64(900), token.TotalSupply)
	require.ErrorIs(f.registry.EnterBlob(f.ws, daAddr), ErrUnknownSequencer)
}

func TestRegister(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	err := f.registry.Register(f.ws, owner, &Register{DaAddress: otherDA, Amount: 99})
	require.ErrorIs(err, ErrInsufficientBond)
	err = f.registry.Register(f.ws, owner, &Register{DaAddress: daAddr, Amount: 100})
	require.ErrorIs(err, ErrAlreadyRegistered)
	err = f.registry.Register(f.ws, ids.ShortID{7}, &Register{DaAddress: otherDA, Amount: 100})
	require.ErrorIs(err, bank.ErrInsufficientBalance)

	require.NoError(f.registry.Register(f.ws, owner, &Register{DaAddress: otherDA, Amount: 100}))
	require.NoError(f.registry.EnterBlob(f.ws, otherDA))
	require.Equal(uint64(790), f.balance(t, owner))
}

func TestExit(t *testing.T) {
	require := require.New(t)

	f := newFixture(t)
	err := f.registry.Exit(f.ws, ids.ShortID{7}, otherDA, &Exit{DaAddress: daAddr})
	require.ErrorIs(err, ErrNotOwner)
	err = f.registry.Exit(f.ws, owner, daAddr, &Exit{DaAddress: daAddr})
	require.ErrorIs(err, ErrSequencerBusy)
	err = f.registry.Exit(f.ws, owner, daAddr, &Exit{DaAddress: otherDA})
	require.ErrorIs(err, ErrUnknownSequencer)

	require.NoError(f.registry.Exit(f.ws, owner, otherDA, &Exit{DaAddress: daAddr}))
	require.Equal(uint64(990), f.balance(t, owner))
	ok, err := f.registry.IsRegistered(f.ws, daAddr)
	require.NoError(err)
	require.False(ok)
}
