// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stf

import (
	"errors"
	"fmt"
	"time"

	log "github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/rollupvm/da"
	"github.com/ava-labs/rollupvm/spec"
	"github.com/ava-labs/rollupvm/state"
)

var errAlreadyInitialized = errors.New("storage already holds a chain")

type Config struct {
	ChainID   uint64
	Namespace string
}

// Blueprint applies DA slots to the state. It holds no state of its own
// between slots: the outcome is a function of the pre-state and the blobs.
type Blueprint[M any, G any] struct {
	spec    *spec.Spec
	config  Config
	runtime Runtime[M, G]
	kernel  Kernel
	metrics *metrics
	log     log.Logger
}

func New[M any, G any](
	s *spec.Spec,
	config Config,
	runtime Runtime[M, G],
	kernel Kernel,
	reg prometheus.Registerer,
) (*Blueprint[M, G], error) {
	m, err := newMetrics(config.Namespace, reg)
	if err != nil {
		return nil, err
	}
	return &Blueprint[M, G]{
		spec:    s,
		config:  config,
		runtime: runtime,
		kernel:  kernel,
		metrics: m,
		log:     log.New("module", "stf"),
	}, nil
}

// InitChainState runs genesis on empty [storage] and commits it as
// version 1.
func (b *Blueprint[M, G]) InitChainState(storage state.Storage, genesis G) (state.Root, error) {
	if !storage.IsEmpty() {
		return state.Root{}, errAlreadyInitialized
	}
	cp := state.NewStateCheckpoint(storage, state.NewArrayWitness())
	ws := cp.ToRevertable()
	if err := b.kernel.Genesis(ws); err != nil {
		// A broken genesis can't produce a chain.
		panic(fmt.Errorf("kernel genesis failed: %w", err))
	}
	if err := b.runtime.Genesis(genesis, ws); err != nil {
		panic(fmt.Errorf("runtime genesis failed: %w", err))
	}
	ws.Commit()
	if err := cp.Err(); err != nil {
		return state.Root{}, err
	}

	rw, witness := cp.Freeze()
	root, update, err := storage.ComputeStateUpdate(rw, witness)
	if err != nil {
		return state.Root{}, err
	}
	if err := storage.Commit(update, cp.FreezeNonProvableState()); err != nil {
		return state.Root{}, err
	}
	b.log.Info("initialized chain state", "root", fmt.Sprintf("%x", root))
	return root, nil
}

// ApplySlot executes the blobs of one DA block. The returned error is
// always a storage failure: rejected batches and transactions are
// reported in the receipts.
func (b *Blueprint[M, G]) ApplySlot(
	preStateRoot state.Root,
	storage state.Storage,
	witness state.Witness,
	header *da.BlockHeader,
	validity da.ValidityCondition,
	blobs []da.BlobTransaction,
) (*SlotResult, error) {
	cp := state.NewStateCheckpoint(storage, witness)
	slot := &SlotHeader{
		Header:            header,
		ValidityCondition: validity,
		PreStateRoot:      preStateRoot,
	}
	if err := b.beginSlot(cp, slot); err != nil {
		return nil, err
	}

	ws := cp.ToRevertable()
	selected, err := b.kernel.GetBlobsForThisSlot(blobs, ws)
	if err != nil {
		ws.Revert()
		return nil, fmt.Errorf("failed to select blobs: %w", err)
	}
	slotNumber, err := b.kernel.SlotNumber(ws)
	if err != nil {
		ws.Revert()
		return nil, err
	}
	ws.Commit()

	receipts := make([]BatchReceipt, 0, len(selected))
	for i := range selected {
		receipt, err := b.applyBlob(cp, slotNumber, &selected[i])
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, *receipt)
	}

	root, err := b.endSlot(storage, cp)
	if err != nil {
		return nil, err
	}

	b.metrics.slots.Inc()
	b.metrics.gas.Add(float64(cp.GasUsed()))
	b.log.Debug("applied slot",
		"height", header.Height,
		"slot", slotNumber,
		"batches", len(receipts),
		"root", fmt.Sprintf("%x", root),
	)
	return &SlotResult{
		StateRoot:     root,
		BatchReceipts: receipts,
		Witness:       witness,
		GasUsed:       cp.GasUsed(),
	}, nil
}

func (b *Blueprint[M, G]) beginSlot(cp *state.StateCheckpoint, slot *SlotHeader) error {
	ws := cp.ToRevertable()
	if err := b.kernel.BeginSlot(slot, ws); err != nil {
		ws.Revert()
		return fmt.Errorf("kernel begin slot hook failed: %w", err)
	}
	if err := b.runtime.BeginSlotHook(slot, ws); err != nil {
		ws.Revert()
		return fmt.Errorf("begin slot hook failed: %w", err)
	}
	ws.Commit()
	return cp.Err()
}

func (b *Blueprint[M, G]) endSlot(storage state.Storage, cp *state.StateCheckpoint) (state.Root, error) {
	ws := cp.ToRevertable()
	if err := b.runtime.EndSlotHook(ws); err != nil {
		ws.Revert()
		return state.Root{}, fmt.Errorf("end slot hook failed: %w", err)
	}
	ws.Commit()
	if err := cp.Err(); err != nil {
		return state.Root{}, err
	}

	start := time.Now()
	rw, witness := cp.Freeze()
	root, update, err := storage.ComputeStateUpdate(rw, witness)
	if err != nil {
		return state.Root{}, err
	}
	if err := b.runtime.FinalizeHook(root, cp.AccessoryState()); err != nil {
		return state.Root{}, fmt.Errorf("finalize hook failed: %w", err)
	}
	if err := storage.Commit(update, cp.FreezeNonProvableState()); err != nil {
		return state.Root{}, err
	}
	b.metrics.stateUpdate.Observe(time.Since(start).Seconds())
	return root, cp.Err()
}

// applyBlob runs one batch. Each step that may be rejected runs in its own
// working set so that a rejection leaves no trace in the state.
func (b *Blueprint[M, G]) applyBlob(cp *state.StateCheckpoint, slotNumber uint64, blob *da.BlobTransaction) (*BatchReceipt, error) {
	receipt := &BatchReceipt{
		BatchHash: blob.Hash(),
		Sender:    blob.Sender,
	}

	ws := cp.ToRevertable()
	if err := b.runtime.EnterApplyBlobHook(blob, ws); err != nil {
		ws.Revert()
		b.log.Debug("ignored blob", "sender", blob.Sender, "reason", err)
		receipt.Outcome = IgnoredOutcome()
		b.metrics.batches.WithLabelValues(receipt.Outcome.Kind.String()).Inc()
		return receipt, cp.Err()
	}
	ws.Commit()

	batchWS := cp.ToRevertable()
	txReceipts, outcome, err := b.applyBatch(batchWS, slotNumber, blob)
	if err != nil {
		batchWS.Revert()
		return nil, err
	}
	if outcome.Kind == Slashed {
		batchWS.Revert()
		b.log.Debug("slashed sequencer", "sender", blob.Sender, "reason", outcome.Reason)
	} else {
		batchWS.Commit()
		receipt.TxReceipts = txReceipts
	}
	receipt.Outcome = outcome

	ws = cp.ToRevertable()
	if err := b.runtime.ExitApplyBlobHook(blob, outcome, ws); err != nil {
		ws.Revert()
		return nil, fmt.Errorf("exit blob hook failed for %s: %w", outcome, err)
	}
	ws.Commit()

	b.metrics.batches.WithLabelValues(outcome.Kind.String()).Inc()
	for _, tx := range receipt.TxReceipts {
		b.metrics.txs.WithLabelValues(tx.Effect.String()).Inc()
	}
	return receipt, cp.Err()
}

// applyBatch decodes, verifies and executes the transactions of [blob] in
// [ws]. The caller discards [ws] on a Slashed outcome. An error means the
// slot can't be applied at all.
func (b *Blueprint[M, G]) applyBatch(ws *state.WorkingSet, slotNumber uint64, blob *da.BlobTransaction) ([]TransactionReceipt, SequencerOutcome, error) {
	batch, err := decodeBatch(blob.Data)
	if err != nil {
		b.log.Debug("failed to decode batch", "sender", blob.Sender, "err", err)
		return nil, SlashedOutcome(InvalidBatchEncoding), nil
	}
	txs, err := verifyTxs(b.spec, b.config.ChainID, batch.Txs)
	if err != nil {
		b.log.Debug("stateless verification failed", "sender", blob.Sender, "err", err)
		return nil, SlashedOutcome(StatelessVerificationFailed), nil
	}

	var (
		receipts = make([]TransactionReceipt, 0, len(txs))
		fees     uint64
	)
	for _, tx := range txs {
		ctx := &Context{
			Sender:    tx.Sender,
			Sequencer: blob.Sender,
			Slot:      slotNumber,
			Fee:       tx.Tx.Fee,
		}
		receipt := TransactionReceipt{
			TxHash: tx.Hash,
			Body:   tx.Raw,
		}

		pre := ws.ToRevertable()
		if err := b.runtime.PreDispatchTxHook(tx, ctx, pre); err != nil {
			pre.Revert()
			b.log.Debug("pre-dispatch rejected tx", "tx", tx.Hash, "err", err)
			receipt.Effect = Reverted
			receipts = append(receipts, receipt)
			continue
		}
		receipt.GasUsed += pre.GasUsed()
		pre.Commit()
		fees += tx.Tx.Fee

		msg, err := b.runtime.DecodeCall(tx.Tx.RuntimeMsg)
		if err != nil {
			b.log.Debug("failed to decode call", "tx", tx.Hash, "err", err)
			return nil, SlashedOutcome(InvalidTransactionEncoding), nil
		}

		call := ws.ToRevertable()
		if err := b.runtime.DispatchCall(msg, ctx, call); err != nil {
			receipt.GasUsed += call.GasUsed()
			call.Revert()
			b.log.Debug("tx reverted", "tx", tx.Hash, "err", err)
			receipt.Effect = Reverted
		} else {
			receipt.GasUsed += call.GasUsed()
			receipt.Events = call.TakeEvents()
			call.Commit()
			receipt.Effect = Successful
		}

		post := ws.ToRevertable()
		if err := b.runtime.PostDispatchTxHook(tx, ctx, post); err != nil {
			// The pre-dispatch hook checked everything this hook relies
			// on, so only the storage can fail here.
			post.Revert()
			return nil, SequencerOutcome{}, fmt.Errorf("post-dispatch hook failed for tx %s: %w", tx.Hash, err)
		}
		receipt.GasUsed += post.GasUsed()
		post.Commit()

		receipts = append(receipts, receipt)
	}
	return receipts, RewardedOutcome(fees), nil
}
