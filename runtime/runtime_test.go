// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package runtime

import (
	"testing"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/rollupvm/da"
	"github.com/ava-labs/rollupvm/modules/bank"
	"github.com/ava-labs/rollupvm/modules/election"
	"github.com/ava-labs/rollupvm/modules/sequencer"
	"github.com/ava-labs/rollupvm/spec"
	"github.com/ava-labs/rollupvm/state"
	"github.com/ava-labs/rollupvm/stf"
	"github.com/ava-labs/rollupvm/storage"
)

const (
	chainID     = 1337
	minimumBond = 50
	adminFunds  = 1_000_000
	seqFunds    = 500
)

var (
	seqDA     = ids.ShortID{0xaa}
	unknownDA = ids.ShortID{0xbb}
)

type user struct {
	signer *spec.Signer
	nonce  uint64
}

func newUser(t *testing.T) *user {
	s, err := spec.NewSigner()
	require.NoError(t, err)
	return &user{signer: s}
}

func (u *user) addr() ids.ShortID { return u.signer.Address() }

func (u *user) tx(t *testing.T, msg CallMessage, fee uint64) []byte {
	b, err := EncodeCall(msg)
	require.NoError(t, err)
	return u.raw(t, b, fee)
}

func (u *user) raw(t *testing.T, runtimeMsg []byte, fee uint64) []byte {
	raw, err := stf.SignTransaction(spec.Sha256{}, u.signer, stf.UnsignedTransaction{
		ChainID:    chainID,
		Nonce:      u.nonce,
		Fee:        fee,
		RuntimeMsg: runtimeMsg,
	})
	require.NoError(t, err)
	u.nonce++
	return raw
}

type rollup struct {
	t         *testing.T
	runtime   *Runtime
	blueprint *stf.Blueprint[CallMessage, GenesisConfig]
	storage   *storage.ProverStorage
	root      state.Root
	height    uint64
	gasToken  ids.ID

	admin  *user
	seqOwn *user
}

func genesisConfig(admin, seqOwner ids.ShortID, bond uint64) GenesisConfig {
	return GenesisConfig{
		Bank: bank.Config{
			GasToken: bank.TokenConfig{
				Name: "gas",
				Balances: []bank.Balance{
					{Address: admin, Amount: adminFunds},
					{Address: seqOwner, Amount: seqFunds},
				},
			},
		},
		Sequencer: sequencer.Config{
			MinimumBond: minimumBond,
			Sequencers: []sequencer.SequencerConfig{
				{DaAddress: seqDA, RollupAddress: seqOwner, Bond: bond},
			},
		},
		Election: election.Config{Admin: admin},
	}
}

func newRollup(t *testing.T, bond uint64, registeredOnly bool) *rollup {
	require := require.New(t)

	r := &rollup{
		t:       t,
		runtime: New(),
		admin:   newUser(t),
		seqOwn:  newUser(t),
	}
	bp, err := stf.New[CallMessage, GenesisConfig](
		spec.NewNative(spec.Sha256{}),
		stf.Config{ChainID: chainID},
		r.runtime,
		r.runtime.Kernel(registeredOnly),
		prometheus.NewRegistry(),
	)
	require.NoError(err)
	r.blueprint = bp

	r.storage, err = storage.NewProverStorage(memdb.New(), spec.Sha256{}, storage.Config{}, prometheus.NewRegistry())
	require.NoError(err)
	r.root, err = bp.InitChainState(r.storage, genesisConfig(r.admin.addr(), r.seqOwn.addr(), bond))
	require.NoError(err)

	r.query(func(ws *state.WorkingSet) {
		r.gasToken, err = r.runtime.Bank.GasToken(ws)
		require.NoError(err)
	})
	return r
}

func (r *rollup) blob(sender ids.ShortID, txs ...[]byte) da.BlobTransaction {
	data, err := stf.EncodeBatch(txs)
	require.NoError(r.t, err)
	return da.BlobTransaction{Sender: sender, Data: data}
}

func (r *rollup) apply(blobs ...da.BlobTransaction) (*stf.SlotResult, *state.ArrayWitness, state.Root) {
	r.height++
	header := &da.BlockHeader{Height: r.height, Hash: ids.ID{byte(r.height)}}
	w := state.NewArrayWitness()
	pre := r.root
	res, err := r.blueprint.ApplySlot(r.root, r.storage, w, header, da.ValidityCondition{Hash: header.Hash}, blobs)
	require.NoError(r.t, err)
	r.root = res.StateRoot
	return res, w, pre
}

// query reads the latest committed state.
func (r *rollup) query(f func(ws *state.WorkingSet)) {
	cp := state.NewStateCheckpoint(r.storage, state.NewArrayWitness())
	ws := cp.ToRevertable()
	f(ws)
	ws.Revert()
}

func (r *rollup) balance(addr ids.ShortID) uint64 {
	var bal uint64
	r.query(func(ws *state.WorkingSet) {
		var err error
		bal, err = r.runtime.Bank.Balance(ws, r.gasToken, addr)
		require.NoError(r.t, err)
	})
	return bal
}

func TestScenarioHappyPath(t *testing.T) {
	require := require.New(t)

	r := newRollup(t, 100, false)
	voters := []*user{newUser(t), newUser(t), newUser(t)}

	txs := [][]byte{
		r.admin.tx(t, &election.SetCandidates{Names: []string{"candidate_1", "candidate_2", "candidate_3"}}, 10),
	}
	for _, v := range voters {
		txs = append(txs,
			r.admin.tx(t, &election.AddVoter{Voter: v.addr()}, 10),
			v.tx(t, &election.Vote{Candidate: 1}, 0),
		)
	}
	txs = append(txs, r.admin.tx(t, &election.FreezeElection{}, 10))

	res, _, _ := r.apply(r.blob(seqDA, txs...))
	require.Len(res.BatchReceipts, 1)
	batch := res.BatchReceipts[0]
	require.Equal(stf.RewardedOutcome(50), batch.Outcome)
	require.Len(batch.TxReceipts, len(txs))
	for i, receipt := range batch.TxReceipts {
		require.Equal(stf.Successful, receipt.Effect, "tx %d", i)
		require.NotEmpty(receipt.Events, "tx %d", i)
	}

	r.query(func(ws *state.WorkingSet) {
		winner, err := r.runtime.Election.Result(ws)
		require.NoError(err)
		require.Equal(election.Candidate{Name: "candidate_2", Count: 3}, winner)

		slot, err := r.runtime.ChainState.SlotNumber(ws)
		require.NoError(err)
		require.Equal(uint64(1), slot)
	})

	// Fees went from the admin to the sequencer.
	require.Equal(uint64(adminFunds-50), r.balance(r.admin.addr()))
	require.Equal(uint64(seqFunds-100+50), r.balance(r.seqOwn.addr()))
	require.Zero(r.balance(bank.FeeEscrow))
}

func TestScenarioUnknownSequencer(t *testing.T) {
	require := require.New(t)

	r := newRollup(t, 100, false)
	to := ids.ShortID{9}
	res, _, _ := r.apply(r.blob(unknownDA,
		r.admin.tx(t, &bank.Transfer{Token: r.gasToken, To: to, Amount: 5}, 10),
	))

	batch := res.BatchReceipts[0]
	require.Equal(stf.IgnoredOutcome(), batch.Outcome)
	require.Empty(batch.TxReceipts)
	require.Equal(uint64(adminFunds), r.balance(r.admin.addr()))
	require.Zero(r.balance(to))
	require.Zero(r.balance(bank.FeeEscrow))
}

func TestScenarioInsufficientBond(t *testing.T) {
	require := require.New(t)

	r := newRollup(t, minimumBond-1, false)
	res, _, _ := r.apply(r.blob(seqDA,
		r.admin.tx(t, &election.SetCandidates{Names: []string{"a"}}, 10),
	))

	batch := res.BatchReceipts[0]
	require.Equal(stf.IgnoredOutcome(), batch.Outcome)
	require.Empty(batch.TxReceipts)
	require.Equal(uint64(adminFunds), r.balance(r.admin.addr()))
	r.query(func(ws *state.WorkingSet) {
		candidates, err := r.runtime.Election.Candidates(ws)
		require.NoError(err)
		require.Empty(candidates)
	})
}

func TestScenarioMalformedTransaction(t *testing.T) {
	require := require.New(t)

	r := newRollup(t, 100, false)
	to := ids.ShortID{9}
	res, _, _ := r.apply(r.blob(seqDA,
		r.admin.tx(t, &bank.Transfer{Token: r.gasToken, To: to, Amount: 5}, 10),
		r.admin.raw(t, []byte("not a call"), 10),
		r.admin.tx(t, &bank.Transfer{Token: r.gasToken, To: to, Amount: 5}, 10),
	))

	batch := res.BatchReceipts[0]
	require.Equal(stf.SlashedOutcome(stf.InvalidTransactionEncoding), batch.Outcome)
	require.Empty(batch.TxReceipts)

	// The first transaction is rolled back with the rest of the batch.
	require.Equal(uint64(adminFunds), r.balance(r.admin.addr()))
	require.Zero(r.balance(to))
	r.query(func(ws *state.WorkingSet) {
		nonce, err := r.runtime.Accounts.Nonce(ws, r.admin.addr())
		require.NoError(err)
		require.Zero(nonce)

		// The sequencer lost its bond and its registration.
		_, ok, err := r.runtime.Sequencer.Get(ws, seqDA)
		require.NoError(err)
		require.False(ok)
	})
	require.Zero(r.balance(sequencer.BondAccount))

	// Later batches from the slashed sequencer are ignored.
	res, _, _ = r.apply(r.blob(seqDA, r.admin.tx(t, &election.SetCandidates{Names: []string{"a"}}, 10)))
	require.Equal(stf.IgnoredOutcome(), res.BatchReceipts[0].Outcome)
}

func TestRevertedTransactionsKeepTheirFee(t *testing.T) {
	require := require.New(t)

	r := newRollup(t, 100, false)
	stranger := newUser(t)
	res, _, _ := r.apply(r.blob(seqDA,
		// Not the admin.
		stranger.tx(t, &election.SetCandidates{Names: []string{"a"}}, 0),
		// More than the admin has.
		r.admin.tx(t, &bank.Transfer{Token: r.gasToken, To: stranger.addr(), Amount: adminFunds * 2}, 7),
		// Can't pay the fee: rejected before dispatch, nonce untouched.
		stranger.tx(t, &election.SetCandidates{Names: []string{"a"}}, 1),
	))

	batch := res.BatchReceipts[0]
	require.Equal(stf.RewardedOutcome(7), batch.Outcome)
	require.Len(batch.TxReceipts, 3)
	for _, receipt := range batch.TxReceipts {
		require.Equal(stf.Reverted, receipt.Effect)
		require.Empty(receipt.Events)
	}

	require.Equal(uint64(adminFunds-7), r.balance(r.admin.addr()))
	r.query(func(ws *state.WorkingSet) {
		nonce, err := r.runtime.Accounts.Nonce(ws, stranger.addr())
		require.NoError(err)
		require.Equal(uint64(1), nonce)
		nonce, err = r.runtime.Accounts.Nonce(ws, r.admin.addr())
		require.NoError(err)
		require.Equal(uint64(1), nonce)
	})
}

func TestBadNonceIsRejectedBeforeDispatch(t *testing.T) {
	require := require.New(t)

	r := newRollup(t, 100, false)
	first := r.admin.tx(t, &bank.Transfer{Token: r.gasToken, To: ids.ShortID{1}, Amount: 1}, 1)
	res, _, _ := r.apply(r.blob(seqDA, first, first))

	batch := res.BatchReceipts[0]
	require.Equal(stf.Successful, batch.TxReceipts[0].Effect)
	require.Equal(stf.Reverted, batch.TxReceipts[1].Effect)
	require.Equal(stf.RewardedOutcome(1), batch.Outcome)
	require.Equal(uint64(1), r.balance(ids.ShortID{1}))
}

func TestTokensAndRegistry(t *testing.T) {
	require := require.New(t)

	r := newRollup(t, 100, false)
	holder := ids.ShortID{7}
	newDA := ids.ShortID{0xcc}
	tokenID := bank.TokenID(r.admin.addr(), "gold", 1)

	res, _, _ := r.apply(r.blob(seqDA,
		r.admin.tx(t, &bank.CreateToken{Name: "gold", Salt: 1, InitialBalance: 100, MintTo: holder, Minters: []ids.ShortID{r.admin.addr()}}, 0),
		r.admin.tx(t, &bank.Mint{Token: tokenID, To: holder, Amount: 50}, 0),
		r.seqOwn.tx(t, &bank.Mint{Token: tokenID, To: holder, Amount: 50}, 0),
		r.admin.tx(t, &sequencer.Register{DaAddress: newDA, Amount: minimumBond - 1}, 0),
		r.admin.tx(t, &sequencer.Register{DaAddress: newDA, Amount: minimumBond}, 0),
	))
	effects := []stf.TxEffect{stf.Successful, stf.Successful, stf.Reverted, stf.Reverted, stf.Successful}
	for i, receipt := range res.BatchReceipts[0].TxReceipts {
		require.Equal(effects[i], receipt.Effect, "tx %d", i)
	}

	r.query(func(ws *state.WorkingSet) {
		bal, err := r.runtime.Bank.Balance(ws, tokenID, holder)
		require.NoError(err)
		require.Equal(uint64(150), bal)
		token, ok, err := r.runtime.Bank.Token(ws, tokenID)
		require.NoError(err)
		require.True(ok)
		require.Equal(uint64(150), token.TotalSupply)

		s, ok, err := r.runtime.Sequencer.Get(ws, newDA)
		require.NoError(err)
		require.True(ok)
		require.Equal(sequencer.Sequencer{RollupAddress: r.admin.addr(), Bond: minimumBond}, s)
	})

	// The new sequencer can post but can't exit from its own batch.
	res, _, _ = r.apply(r.blob(newDA, r.admin.tx(t, &sequencer.Exit{DaAddress: newDA}, 0)))
	require.Equal(stf.RewardedOutcome(0), res.BatchReceipts[0].Outcome)
	require.Equal(stf.Reverted, res.BatchReceipts[0].TxReceipts[0].Effect)

	res, _, _ = r.apply(r.blob(seqDA, r.admin.tx(t, &sequencer.Exit{DaAddress: newDA}, 0)))
	require.Equal(stf.Successful, res.BatchReceipts[0].TxReceipts[0].Effect)
	require.Equal(uint64(adminFunds), r.balance(r.admin.addr()))
	r.query(func(ws *state.WorkingSet) {
		ok, err := r.runtime.Sequencer.IsRegistered(ws, newDA)
		require.NoError(err)
		require.False(ok)
	})
}

func TestRegisteredSequencerKernel(t *testing.T) {
	require := require.New(t)

	r := newRollup(t, 100, true)
	res, _, _ := r.apply(
		r.blob(unknownDA, r.admin.tx(t, &election.SetCandidates{Names: []string{"a"}}, 0)),
		r.blob(seqDA),
	)
	require.Len(res.BatchReceipts, 1)
	require.Equal(seqDA, res.BatchReceipts[0].Sender)
}

func TestReplayMatchesNative(t *testing.T) {
	require := require.New(t)

	r := newRollup(t, 100, false)
	voter := newUser(t)
	blobs := []da.BlobTransaction{
		r.blob(seqDA,
			r.admin.tx(t, &election.SetCandidates{Names: []string{"x", "y"}}, 3),
			r.admin.tx(t, &election.AddVoter{Voter: voter.addr()}, 3),
			voter.tx(t, &election.Vote{Candidate: 5}, 0),
			voter.tx(t, &election.Vote{Candidate: 0}, 0),
		),
		r.blob(unknownDA),
		{Sender: seqDA, Data: []byte{1}},
	}
	native, w, pre := r.apply(blobs...)

	b, err := w.Bytes()
	require.NoError(err)
	replay, err := state.ArrayWitnessFromBytes(b)
	require.NoError(err)

	zkRuntime := New()
	zkBP, err := stf.New[CallMessage, GenesisConfig](
		spec.NewZk(spec.Sha256{}),
		stf.Config{ChainID: chainID},
		zkRuntime,
		zkRuntime.Kernel(false),
		prometheus.NewRegistry(),
	)
	require.NoError(err)
	header := &da.BlockHeader{Height: r.height, Hash: ids.ID{byte(r.height)}}
	zk, err := zkBP.ApplySlot(pre, storage.NewZkStorage(spec.Sha256{}, pre), replay, header, da.ValidityCondition{Hash: header.Hash}, blobs)
	require.NoError(err)

	require.Equal(native.StateRoot, zk.StateRoot)
	require.Equal(native.BatchReceipts, zk.BatchReceipts)
	require.Zero(replay.Remaining())
}

func TestCallCodec(t *testing.T) {
	require := require.New(t)

	msg := &bank.Transfer{Token: ids.ID{1}, To: ids.ShortID{2}, Amount: 3}
	b, err := EncodeCall(msg)
	require.NoError(err)
	decoded, err := decodeCall(b)
	require.NoError(err)
	require.Equal(msg, decoded)

	_, err = decodeCall(append(b, 0))
	require.Error(err)
	_, err = decodeCall(nil)
	require.Error(err)
}
