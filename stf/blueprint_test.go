// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stf

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/maybe"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/ava-labs/rollupvm/codec"
	"github.com/ava-labs/rollupvm/da"
	"github.com/ava-labs/rollupvm/spec"
	"github.com/ava-labs/rollupvm/state"
	"github.com/ava-labs/rollupvm/storage"
)

const testChainID = 7

var (
	errBlocked = errors.New("blocked sender")
	errNoFee   = errors.New("fee required")
	errFailing = errors.New("call failed")

	blockedSender = ids.ShortID{0xff}
)

type kvMsg struct {
	Key   string `serialize:"true"`
	Value string `serialize:"true"`
	Fail  bool   `serialize:"true"`
}

func sk(s string) state.StorageKey { return state.StorageKey(s) }

func u64(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func readU64(ws *state.WorkingSet, key string) (uint64, error) {
	v, err := ws.Get(sk(key))
	if err != nil || v.IsNothing() {
		return 0, err
	}
	return binary.BigEndian.Uint64(v.Value()), nil
}

type kvRuntime struct{}

func (kvRuntime) Genesis(value string, ws *state.WorkingSet) error {
	ws.Set(sk("genesis"), []byte(value))
	return nil
}

func (kvRuntime) BeginSlotHook(slot *SlotHeader, ws *state.WorkingSet) error {
	ws.Set(sk("da-hash"), slot.Header.Hash[:])
	return nil
}

func (kvRuntime) EndSlotHook(*state.WorkingSet) error { return nil }

func (kvRuntime) FinalizeHook(root state.Root, acc state.AccessoryReaderWriter) error {
	acc.SetAccessory(sk("last-root"), root[:])
	return nil
}

func (kvRuntime) EnterApplyBlobHook(blob *da.BlobTransaction, ws *state.WorkingSet) error {
	ws.Set(sk("entered"), blob.Sender[:])
	if blob.Sender == blockedSender {
		return errBlocked
	}
	return nil
}

func (kvRuntime) ExitApplyBlobHook(blob *da.BlobTransaction, outcome SequencerOutcome, ws *state.WorkingSet) error {
	ws.Set(sk("outcome/"+blob.Sender.String()), []byte(outcome.String()))
	return nil
}

func (kvRuntime) PreDispatchTxHook(tx *VerifiedTx, _ *Context, ws *state.WorkingSet) error {
	ws.Set(sk("pre/"+tx.Hash.String()), []byte{1})
	if tx.Tx.Fee == 0 {
		return errNoFee
	}
	return nil
}

func (kvRuntime) DecodeCall(msg []byte) (kvMsg, error) {
	var m kvMsg
	err := codec.Unmarshal(msg, &m)
	return m, err
}

func (kvRuntime) DispatchCall(msg kvMsg, _ *Context, ws *state.WorkingSet) error {
	ws.Set(sk(msg.Key), []byte(msg.Value))
	ws.AddEvent("set", []byte(msg.Key))
	if msg.Fail {
		return errFailing
	}
	return nil
}

func (kvRuntime) PostDispatchTxHook(tx *VerifiedTx, _ *Context, ws *state.WorkingSet) error {
	key := "nonce/" + tx.Sender.String()
	n, err := readU64(ws, key)
	if err != nil {
		return err
	}
	ws.Set(sk(key), u64(n+1))
	return nil
}

type counterKernel struct{}

func (counterKernel) Genesis(ws *state.WorkingSet) error {
	ws.Set(sk("slot"), u64(0))
	return nil
}

func (counterKernel) BeginSlot(_ *SlotHeader, ws *state.WorkingSet) error {
	n, err := readU64(ws, "slot")
	if err != nil {
		return err
	}
	ws.Set(sk("slot"), u64(n+1))
	return nil
}

func (counterKernel) GetBlobsForThisSlot(blobs []da.BlobTransaction, _ *state.WorkingSet) ([]da.BlobTransaction, error) {
	return blobs, nil
}

func (counterKernel) SlotNumber(ws *state.WorkingSet) (uint64, error) {
	return readU64(ws, "slot")
}

type harness struct {
	t         *testing.T
	blueprint *Blueprint[kvMsg, string]
	storage   *storage.ProverStorage
	root      state.Root
	signer    *spec.Signer
	nonce     uint64
	height    uint64
}

func newHarness(t *testing.T) *harness {
	require := require.New(t)

	bp, err := New[kvMsg, string](spec.NewNative(spec.Sha256{}), Config{ChainID: testChainID}, kvRuntime{}, counterKernel{}, prometheus.NewRegistry())
	require.NoError(err)
	s, err := storage.NewProverStorage(memdb.New(), spec.Sha256{}, storage.Config{}, prometheus.NewRegistry())
	require.NoError(err)
	root, err := bp.InitChainState(s, "hello")
	require.NoError(err)
	signer, err := spec.NewSigner()
	require.NoError(err)
	return &harness{
		t:         t,
		blueprint: bp,
		storage:   s,
		root:      root,
		signer:    signer,
	}
}

func (h *harness) tx(msg kvMsg, fee uint64) []byte {
	b, err := codec.Marshal(&msg)
	require.NoError(h.t, err)
	return h.rawTx(b, fee, testChainID)
}

func (h *harness) rawTx(runtimeMsg []byte, fee uint64, chainID uint64) []byte {
	raw, err := SignTransaction(spec.Sha256{}, h.signer, UnsignedTransaction{
		ChainID:    chainID,
		Nonce:      h.nonce,
		Fee:        fee,
		RuntimeMsg: runtimeMsg,
	})
	require.NoError(h.t, err)
	h.nonce++
	return raw
}

func batchBlob(t *testing.T, sender ids.ShortID, txs ...[]byte) da.BlobTransaction {
	data, err := EncodeBatch(txs)
	require.NoError(t, err)
	return da.BlobTransaction{Sender: sender, Data: data}
}

func (h *harness) apply(blobs ...da.BlobTransaction) (*SlotResult, *state.ArrayWitness) {
	h.height++
	header := &da.BlockHeader{Height: h.height, Hash: ids.ID{byte(h.height)}}
	w := state.NewArrayWitness()
	res, err := h.blueprint.ApplySlot(h.root, h.storage, w, header, da.ValidityCondition{Hash: header.Hash}, blobs)
	require.NoError(h.t, err)
	h.root = res.StateRoot
	return res, w
}

func (h *harness) get(key string) []byte {
	cp := state.NewStateCheckpoint(h.storage, state.NewArrayWitness())
	ws := cp.ToRevertable()
	v, err := ws.Get(sk(key))
	require.NoError(h.t, err)
	if v.IsNothing() {
		return nil
	}
	return v.Value()
}

func TestInitChainStateOnlyOnce(t *testing.T) {
	require := require.New(t)

	h := newHarness(t)
	require.Equal([]byte("hello"), h.get("genesis"))
	require.Equal(uint64(1), h.storage.LatestVersion())

	_, err := h.blueprint.InitChainState(h.storage, "again")
	require.ErrorIs(err, errAlreadyInitialized)
}

func TestApplyBatch(t *testing.T) {
	require := require.New(t)

	h := newHarness(t)
	seq := ids.ShortID{1}
	res, _ := h.apply(batchBlob(t, seq,
		h.tx(kvMsg{Key: "a", Value: "1"}, 3),
		h.tx(kvMsg{Key: "b", Value: "2", Fail: true}, 4),
		h.tx(kvMsg{Key: "c", Value: "3"}, 0),
	))

	require.Len(res.BatchReceipts, 1)
	batch := res.BatchReceipts[0]
	require.Equal(RewardedOutcome(7), batch.Outcome)
	require.Equal(seq, batch.Sender)
	require.Len(batch.TxReceipts, 3)

	require.Equal(Successful, batch.TxReceipts[0].Effect)
	require.Equal([]state.Event{{Key: []byte("set"), Value: []byte("a")}}, batch.TxReceipts[0].Events)
	require.NotZero(batch.TxReceipts[0].GasUsed)
	require.Equal(Reverted, batch.TxReceipts[1].Effect)
	require.Empty(batch.TxReceipts[1].Events)
	require.Equal(Reverted, batch.TxReceipts[2].Effect)

	require.Equal([]byte("1"), h.get("a"))
	require.Nil(h.get("b"))
	require.Nil(h.get("c"))
	// Rejected in pre-dispatch: no nonce bump, no pre-dispatch writes.
	require.Equal(u64(2), h.get("nonce/"+h.signer.Address().String()))
	require.Nil(h.get("pre/" + batch.TxReceipts[2].TxHash.String()))
	require.Equal([]byte("rewarded(7)"), h.get("outcome/"+seq.String()))
	require.Equal(u64(1), h.get("slot"))
	require.Equal(uint64(2), h.storage.LatestVersion())

	root, err := h.storage.GetAccessory(sk("last-root"), maybe.Nothing[uint64]())
	require.NoError(err)
	require.Equal(res.StateRoot[:], root.Value())
}

func TestIgnoredBlobChangesNothing(t *testing.T) {
	require := require.New(t)

	h := newHarness(t)
	res, _ := h.apply(batchBlob(t, blockedSender, h.tx(kvMsg{Key: "a", Value: "1"}, 1)))

	batch := res.BatchReceipts[0]
	require.Equal(IgnoredOutcome(), batch.Outcome)
	require.Empty(batch.TxReceipts)
	require.Nil(h.get("a"))
	require.Nil(h.get("entered"))
	require.Nil(h.get("outcome/" + blockedSender.String()))
}

func TestSlashing(t *testing.T) {
	h := newHarness(t)
	seq := ids.ShortID{2}

	tests := []struct {
		name   string
		blob   da.BlobTransaction
		reason SlashingReason
	}{
		{
			name:   "malformed batch",
			blob:   da.BlobTransaction{Sender: seq, Data: []byte{0xde, 0xad}},
			reason: InvalidBatchEncoding,
		},
		{
			name:   "wrong chain id",
			blob:   batchBlob(t, seq, h.tx(kvMsg{Key: "x", Value: "1"}, 1), h.rawTx(nil, 1, testChainID+1)),
			reason: StatelessVerificationFailed,
		},
		{
			name:   "malformed transaction",
			blob:   batchBlob(t, seq, h.tx(kvMsg{Key: "x", Value: "1"}, 1), []byte{1, 2, 3}),
			reason: StatelessVerificationFailed,
		},
		{
			name:   "malformed call",
			blob:   batchBlob(t, seq, h.tx(kvMsg{Key: "x", Value: "1"}, 1), h.rawTx([]byte{0xba, 0xd0}, 1, testChainID)),
			reason: InvalidTransactionEncoding,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			require := require.New(t)

			res, _ := h.apply(test.blob)
			batch := res.BatchReceipts[0]
			require.Equal(SlashedOutcome(test.reason), batch.Outcome)
			require.Empty(batch.TxReceipts)
			// Nothing of the batch survives, the first transaction included.
			require.Nil(h.get("x"))
			require.Nil(h.get("nonce/" + h.signer.Address().String()))
			require.Equal([]byte(batch.Outcome.String()), h.get("outcome/"+seq.String()))
			// The enter hook still ran.
			require.Equal(seq[:], h.get("entered"))
		})
	}
}

func TestReplayMatchesNative(t *testing.T) {
	require := require.New(t)

	h := newHarness(t)
	preRoot := h.root
	blobs := []da.BlobTransaction{
		batchBlob(t, ids.ShortID{1}, h.tx(kvMsg{Key: "a", Value: "1"}, 1), h.tx(kvMsg{Key: "a", Value: "2", Fail: true}, 1)),
		batchBlob(t, blockedSender, h.tx(kvMsg{Key: "b", Value: "1"}, 1)),
		{Sender: ids.ShortID{3}, Data: []byte("junk")},
	}
	native, w := h.apply(blobs...)

	b, err := w.Bytes()
	require.NoError(err)
	replay, err := state.ArrayWitnessFromBytes(b)
	require.NoError(err)

	zkBP, err := New[kvMsg, string](spec.NewZk(spec.Sha256{}), Config{ChainID: testChainID}, kvRuntime{}, counterKernel{}, prometheus.NewRegistry())
	require.NoError(err)
	header := &da.BlockHeader{Height: h.height, Hash: ids.ID{byte(h.height)}}
	zk, err := zkBP.ApplySlot(preRoot, storage.NewZkStorage(spec.Sha256{}, preRoot), replay, header, da.ValidityCondition{Hash: header.Hash}, blobs)
	require.NoError(err)

	require.Equal(native.StateRoot, zk.StateRoot)
	require.Equal(native.BatchReceipts, zk.BatchReceipts)
	require.Zero(replay.Remaining())
}

func TestDeterminism(t *testing.T) {
	require := require.New(t)

	signer, err := spec.NewSigner()
	require.NoError(err)

	run := func() (state.Root, []byte, []BatchReceipt) {
		h := newHarness(t)
		h.signer = signer
		res, w := h.apply(batchBlob(t, ids.ShortID{1},
			h.tx(kvMsg{Key: "a", Value: "1"}, 1),
			h.tx(kvMsg{Key: "b", Value: "2"}, 1),
		))
		b, err := w.Bytes()
		require.NoError(err)
		return res.StateRoot, b, res.BatchReceipts
	}
	root1, witness1, receipts1 := run()
	root2, witness2, receipts2 := run()
	require.Equal(root1, root2)
	require.Equal(witness1, witness2)
	require.Equal(receipts1, receipts2)
}
