// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sequencer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/set"
)

var (
	ErrDuplicateTx = errors.New("tx already queued")

	errEmptyMempool = errors.New("empty mempool")
)

type queuedTx struct {
	hash ids.ID
	raw  []byte
}

// mempool is a bounded FIFO of raw transactions. A transaction stays a
// duplicate after Next until it is posted and passed to Remove.
type mempool struct {
	pending chan<- struct{}
	txs     chan queuedTx

	lock   sync.Mutex
	queued set.Set[ids.ID]
}

func newMempool(size int, pending chan<- struct{}) *mempool {
	return &mempool{
		txs:     make(chan queuedTx, size),
		pending: pending,
		queued:  set.NewSet[ids.ID](size),
	}
}

func (m *mempool) Add(hash ids.ID, tx []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.queued.Contains(hash) {
		return fmt.Errorf("%w: %s", ErrDuplicateTx, hash)
	}
	select {
	case m.txs <- queuedTx{hash: hash, raw: tx}:
	default:
		return fmt.Errorf("failed to add tx to mempool due to full at size (%d)", cap(m.txs))
	}
	m.queued.Add(hash)

	select {
	case m.pending <- struct{}{}:
	default:
	}
	return nil
}

func (m *mempool) Next() (queuedTx, error) {
	select {
	case tx := <-m.txs:
		return tx, nil
	default:
		return queuedTx{}, errEmptyMempool
	}
}

// Remove lets [txs] be queued again.
func (m *mempool) Remove(txs []queuedTx) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, tx := range txs {
		m.queued.Remove(tx.hash)
	}
}

func (m *mempool) Len() int {
	return len(m.txs)
}
