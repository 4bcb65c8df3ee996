// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
)

func (l *DB) getSlot(n uint64) (*StoredSlot, error) {
	if slot, ok := l.slotCache.Get(n); ok {
		return slot, nil
	}
	slot := &StoredSlot{}
	if err := get(l.slotDB, numberKey(n), slot); err != nil {
		return nil, err
	}
	l.slotCache.Put(n, slot)
	return slot, nil
}

func lookup(db database.KeyValueReader, hash ids.ID) (uint64, error) {
	b, err := db.Get(hash[:])
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func (l *DB) GetSlotByNumber(n uint64, mode QueryMode) (*SlotResponse, error) {
	slot, err := l.getSlot(n)
	if err != nil {
		return nil, fmt.Errorf("slot %d: %w", n, err)
	}
	resp := &SlotResponse{StoredSlot: *slot}
	if mode == Compact {
		return resp, nil
	}
	for i := slot.Batches.Start; i < slot.Batches.End; i++ {
		batch, err := l.GetBatchByNumber(i, mode.child())
		if err != nil {
			return nil, err
		}
		resp.BatchList = append(resp.BatchList, batch)
	}
	return resp, nil
}

// GetSlotByHash returns the first slot built from the DA block [hash].
func (l *DB) GetSlotByHash(hash ids.ID, mode QueryMode) (*SlotResponse, error) {
	n, err := lookup(l.slotHashDB, hash)
	if err != nil {
		return nil, fmt.Errorf("slot %s: %w", hash, err)
	}
	return l.GetSlotByNumber(n, mode)
}

// GetSlotsRange returns the slots numbered in [start, end). Slots past the
// head are left out.
func (l *DB) GetSlotsRange(start, end uint64, mode QueryMode) ([]*SlotResponse, error) {
	if end <= start {
		return nil, nil
	}
	if end-start > l.config.MaxRange {
		return nil, fmt.Errorf("%w: %d > %d", errRangeTooLarge, end-start, l.config.MaxRange)
	}
	if h, ok := l.Head(); !ok {
		return nil, nil
	} else if end > h+1 {
		end = h + 1
	}

	slots := make([]*SlotResponse, 0, end-start)
	for n := start; n < end; n++ {
		slot, err := l.GetSlotByNumber(n, mode)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func (l *DB) GetBatchByNumber(n uint64, mode QueryMode) (*BatchResponse, error) {
	batch := &StoredBatch{}
	if err := get(l.batchDB, numberKey(n), batch); err != nil {
		return nil, fmt.Errorf("batch %d: %w", n, err)
	}
	resp := &BatchResponse{StoredBatch: *batch}
	if mode == Compact {
		return resp, nil
	}
	for i := batch.Txs.Start; i < batch.Txs.End; i++ {
		tx, err := l.GetTxByNumber(i, mode.child())
		if err != nil {
			return nil, err
		}
		resp.TxList = append(resp.TxList, tx)
	}
	return resp, nil
}

func (l *DB) GetBatchByHash(hash ids.ID, mode QueryMode) (*BatchResponse, error) {
	n, err := lookup(l.batchHashDB, hash)
	if err != nil {
		return nil, fmt.Errorf("batch %s: %w", hash, err)
	}
	return l.GetBatchByNumber(n, mode)
}

func (l *DB) GetTxByNumber(n uint64, mode QueryMode) (*TxResponse, error) {
	tx := &StoredTransaction{}
	if err := get(l.txDB, numberKey(n), tx); err != nil {
		return nil, fmt.Errorf("tx %d: %w", n, err)
	}
	resp := &TxResponse{StoredTransaction: *tx}
	if mode == Compact {
		return resp, nil
	}
	for i := tx.Events.Start; i < tx.Events.End; i++ {
		e, err := l.GetEvent(i)
		if err != nil {
			return nil, err
		}
		resp.EventList = append(resp.EventList, *e)
	}
	return resp, nil
}

// GetTxByHash returns the first transaction with hash [hash].
func (l *DB) GetTxByHash(hash ids.ID, mode QueryMode) (*TxResponse, error) {
	n, err := lookup(l.txHashDB, hash)
	if err != nil {
		return nil, fmt.Errorf("tx %s: %w", hash, err)
	}
	return l.GetTxByNumber(n, mode)
}

func (l *DB) GetEvent(n uint64) (*StoredEvent, error) {
	e := &StoredEvent{}
	if err := get(l.eventDB, numberKey(n), e); err != nil {
		return nil, fmt.Errorf("event %d: %w", n, err)
	}
	return e, nil
}

// GetEventsByKey returns the events emitted under [key], oldest first.
func (l *DB) GetEventsByKey(key []byte) ([]StoredEvent, error) {
	it := l.eventKeyDB.NewIteratorWithPrefix(hashing.ComputeHash256(key))
	defer it.Release()

	var events []StoredEvent
	for it.Next() {
		k := it.Key()
		e, err := l.GetEvent(binary.BigEndian.Uint64(k[len(k)-8:]))
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, it.Error()
}

// Witness returns the witness of slot [n].
func (l *DB) Witness(n uint64) ([]byte, error) {
	return l.witnessDB.Get(numberKey(n))
}
