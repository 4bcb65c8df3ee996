// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/rollupvm/da"
	"github.com/ava-labs/rollupvm/da/mockda"
	"github.com/ava-labs/rollupvm/ledger"
	"github.com/ava-labs/rollupvm/modules/bank"
	"github.com/ava-labs/rollupvm/modules/election"
	"github.com/ava-labs/rollupvm/modules/sequencer"
	"github.com/ava-labs/rollupvm/runtime"
	"github.com/ava-labs/rollupvm/spec"
	"github.com/ava-labs/rollupvm/stf"
	"github.com/ava-labs/rollupvm/storage"
)

const chainID = 7

var (
	seqDA = ids.ShortID{0xaa}

	testConfig = Config{
		StartHeight:     1,
		PollInterval:    time.Millisecond,
		MaxPollInterval: 5 * time.Millisecond,
	}
)

type env struct {
	layer     *mockda.Layer
	runtime   *runtime.Runtime
	blueprint *stf.Blueprint[runtime.CallMessage, runtime.GenesisConfig]
	storage   *storage.ProverStorage
	ledger    *ledger.DB
	admin     *spec.Signer
	nonce     uint64
}

func newEnv(t *testing.T) *env {
	require := require.New(t)

	admin, err := spec.NewSigner()
	require.NoError(err)
	e := &env{
		layer:   mockda.NewLayer(),
		runtime: runtime.New(),
		admin:   admin,
	}
	e.blueprint, err = stf.New[runtime.CallMessage, runtime.GenesisConfig](
		spec.NewNative(spec.Sha256{}),
		stf.Config{ChainID: chainID},
		e.runtime,
		e.runtime.Kernel(false),
		prometheus.NewRegistry(),
	)
	require.NoError(err)
	e.storage, err = storage.NewProverStorage(memdb.New(), spec.Sha256{}, storage.Config{}, prometheus.NewRegistry())
	require.NoError(err)
	e.ledger, err = ledger.New(memdb.New(), ledger.DefaultConfig, prometheus.NewRegistry())
	require.NoError(err)

	_, err = e.blueprint.InitChainState(e.storage, runtime.GenesisConfig{
		Bank: bank.Config{GasToken: bank.TokenConfig{
			Name:     "gas",
			Balances: []bank.Balance{{Address: admin.Address(), Amount: 1000}},
		}},
		Sequencer: sequencer.Config{
			MinimumBond: 10,
			Sequencers:  []sequencer.SequencerConfig{{DaAddress: seqDA, RollupAddress: admin.Address(), Bond: 10}},
		},
		Election: election.Config{Admin: admin.Address()},
	})
	require.NoError(err)
	return e
}

func (e *env) newRunner(t *testing.T, verifier da.Verifier) *Runner {
	r, err := New(testConfig, e.blueprint, e.storage, e.ledger, mockda.NewService(e.layer, seqDA), verifier, prometheus.NewRegistry())
	require.NoError(t, err)
	return r
}

// submit posts a batch with one SetCandidates call from the admin.
func (e *env) submit(t *testing.T, names ...string) {
	msg, err := runtime.EncodeCall(&election.SetCandidates{Names: names})
	require.NoError(t, err)
	raw, err := stf.SignTransaction(spec.Sha256{}, e.admin, stf.UnsignedTransaction{
		ChainID:    chainID,
		Nonce:      e.nonce,
		RuntimeMsg: msg,
	})
	require.NoError(t, err)
	e.nonce++
	batch, err := stf.EncodeBatch([][]byte{raw})
	require.NoError(t, err)
	e.layer.Submit(seqDA, batch)
}

func TestProcessSlots(t *testing.T) {
	require := require.New(t)

	e := newEnv(t)
	r := e.newRunner(t, mockda.Verifier{})
	require.Equal(uint64(1), r.NextHeight())

	e.submit(t, "a", "b")
	e.layer.Produce()
	e.layer.Produce()

	ctx := context.Background()
	require.NoError(r.ProcessNext(ctx))
	require.NoError(r.ProcessNext(ctx))
	require.Equal(uint64(3), r.NextHeight())

	head, ok := e.ledger.Head()
	require.True(ok)
	require.Equal(uint64(2), head)
	require.Equal(uint64(3), e.storage.LatestVersion())

	slot, err := e.ledger.GetSlotByNumber(1, ledger.Full)
	require.NoError(err)
	require.Len(slot.BatchList, 1)
	require.Equal(stf.Successful, slot.BatchList[0].TxList[0].Effect)

	root, err := e.storage.GetRootHash(3)
	require.NoError(err)
	require.Equal(root, r.Root())
	last, err := e.ledger.GetSlotByNumber(2, ledger.Compact)
	require.NoError(err)
	require.Equal(ids.ID(root), last.StateRoot)

	witness, err := e.ledger.Witness(1)
	require.NoError(err)
	require.NotEmpty(witness)
}

func TestRestartResumes(t *testing.T) {
	require := require.New(t)

	e := newEnv(t)
	r := e.newRunner(t, mockda.Verifier{})
	e.layer.Produce()
	require.NoError(r.ProcessNext(context.Background()))

	r = e.newRunner(t, mockda.Verifier{})
	require.Equal(uint64(2), r.NextHeight())

	e.submit(t, "a")
	e.layer.Produce()
	require.NoError(r.ProcessNext(context.Background()))
	head, _ := e.ledger.Head()
	require.Equal(uint64(2), head)
}

func TestWaitsForBlock(t *testing.T) {
	require := require.New(t)

	e := newEnv(t)
	r := e.newRunner(t, mockda.Verifier{})

	done := make(chan error, 1)
	go func() {
		done <- r.ProcessNext(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)
	e.layer.Produce()

	select {
	case err := <-done:
		require.NoError(err)
	case <-time.After(5 * time.Second):
		require.FailNow("runner did not pick up the block")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	require := require.New(t)

	e := newEnv(t)
	r := e.newRunner(t, mockda.Verifier{})
	e.layer.Produce()
	e.layer.Produce()

	ctx, cancel := context.WithCancel(context.Background())
	sub, unsubscribe := e.ledger.Subscribe()
	defer unsubscribe()

	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()
	require.Equal(uint64(1), <-sub)
	require.Equal(uint64(2), <-sub)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(err, context.Canceled)
	case <-time.After(5 * time.Second):
		require.FailNow("runner did not stop")
	}
}

var errBadProof = errors.New("bad proof")

type rejectingVerifier struct{}

func (rejectingVerifier) VerifyRelevantTxList(*da.BlockHeader, []da.BlobTransaction, *da.InclusionProof, *da.CompletenessProof) (da.ValidityCondition, error) {
	return da.ValidityCondition{}, errBadProof
}

func TestRejectedExtraction(t *testing.T) {
	require := require.New(t)

	e := newEnv(t)
	r := e.newRunner(t, rejectingVerifier{})
	e.layer.Produce()

	require.ErrorIs(r.ProcessNext(context.Background()), errBadProof)
	_, ok := e.ledger.Head()
	require.False(ok)
	require.Equal(uint64(1), e.storage.LatestVersion())
}

func TestOutOfSync(t *testing.T) {
	e := newEnv(t)
	fresh, err := ledger.New(memdb.New(), ledger.DefaultConfig, prometheus.NewRegistry())
	require.NoError(t, err)
	r := e.newRunner(t, mockda.Verifier{})
	e.layer.Produce()
	require.NoError(t, r.ProcessNext(context.Background()))

	_, err = New(testConfig, e.blueprint, e.storage, fresh, mockda.NewService(e.layer, seqDA), mockda.Verifier{}, prometheus.NewRegistry())
	require.ErrorIs(t, err, ErrOutOfSync)
}
