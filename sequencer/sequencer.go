// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/cenkalti/backoff/v4"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/rollupvm/da"
	"github.com/ava-labs/rollupvm/spec"
	"github.com/ava-labs/rollupvm/stf"
)

var (
	ErrInvalidTx = errors.New("invalid transaction")

	DefaultConfig = Config{
		MempoolSize:   1024,
		MaxBatchSize:  256,
		BatchInterval: time.Second,
		PostRetries:   5,
	}
)

type Config struct {
	ChainID     uint64
	MempoolSize int
	// MaxBatchSize is the most transactions posted in one blob.
	MaxBatchSize int
	// BatchInterval is how long transactions wait for more to join their
	// batch.
	BatchInterval time.Duration
	// PostRetries is how often a failed post is retried before the batch
	// is held for the next flush.
	PostRetries uint64
}

// CallChecker rejects runtime messages the runtime can't decode.
type CallChecker func(msg []byte) error

// Sequencer collects transactions and posts them to the DA layer in
// batches. It only admits transactions that can't get it slashed.
type Sequencer struct {
	config    Config
	spec      *spec.Spec
	da        da.Service
	checkCall CallChecker
	log       log.Logger

	pending chan struct{}
	mempool *mempool

	buildLock sync.Mutex
	lock      sync.Mutex
	// unposted is a batch whose post failed. It is posted again before
	// anything taken from the mempool.
	unposted []queuedTx
}

func New(config Config, s *spec.Spec, daService da.Service, checkCall CallChecker) *Sequencer {
	pending := make(chan struct{}, 1)
	return &Sequencer{
		config:    config,
		spec:      s,
		da:        daService,
		checkCall: checkCall,
		log:       log.New("module", "sequencer"),
		pending:   pending,
		mempool:   newMempool(config.MempoolSize, pending),
	}
}

// SubmitTx checks [raw] and queues it for the next batch.
func (s *Sequencer) SubmitTx(raw []byte) (ids.ID, error) {
	tx, err := stf.VerifyTransaction(s.spec, s.config.ChainID, raw)
	if err != nil {
		return ids.Empty, fmt.Errorf("%w: %s", ErrInvalidTx, err)
	}
	if s.checkCall != nil {
		if err := s.checkCall(tx.Tx.RuntimeMsg); err != nil {
			return ids.Empty, fmt.Errorf("%w: %s", ErrInvalidTx, err)
		}
	}
	if err := s.mempool.Add(tx.Hash, raw); err != nil {
		return ids.Empty, err
	}
	s.log.Debug("queued tx", "tx", tx.Hash, "sender", tx.Sender)
	return tx.Hash, nil
}

// Pending is the number of accepted transactions not yet posted.
func (s *Sequencer) Pending() int {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.mempool.Len() + len(s.unposted)
}

// BuildBatch posts up to MaxBatchSize queued transactions as one blob and
// returns how many it posted. If the post fails, the transactions are kept
// in order and go out with the next batch.
func (s *Sequencer) BuildBatch(ctx context.Context) (int, error) {
	s.buildLock.Lock()
	defer s.buildLock.Unlock()

	s.lock.Lock()
	txs := s.unposted
	for len(txs) < s.config.MaxBatchSize {
		tx, err := s.mempool.Next()
		if err != nil {
			break
		}
		txs = append(txs, tx)
	}
	s.unposted = txs
	s.lock.Unlock()
	if len(txs) == 0 {
		return 0, errEmptyMempool
	}

	raws := make([][]byte, len(txs))
	for i, tx := range txs {
		raws[i] = tx.raw
	}
	batch, err := stf.EncodeBatch(raws)
	if err != nil {
		return 0, err
	}
	if err := s.post(ctx, batch); err != nil {
		return 0, fmt.Errorf("failed to post batch of %d txs: %w", len(txs), err)
	}

	s.lock.Lock()
	s.unposted = nil
	s.lock.Unlock()
	s.mempool.Remove(txs)

	s.log.Info("posted batch", "txs", len(txs), "bytes", len(batch))
	return len(txs), nil
}

func (s *Sequencer) post(ctx context.Context, batch []byte) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.BatchInterval / 4
	b.MaxInterval = s.config.BatchInterval

	return backoff.Retry(func() error {
		err := s.da.SendTransaction(ctx, batch)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return backoff.Permanent(err)
		}
		s.log.Warn("failed to post batch", "err", err)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, s.config.PostRetries), ctx))
}

// Run posts queued transactions every BatchInterval, or as soon as a full
// batch is queued, until [ctx] is done. Batches that fail to post are held
// and retried on the next flush.
func (s *Sequencer) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.pending:
			if s.Pending() < s.config.MaxBatchSize {
				continue
			}
		case <-ticker.C:
		}
		if err := s.flush(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.log.Error("failed to flush mempool", "pending", s.Pending(), "err", err)
		}
	}
}

func (s *Sequencer) flush(ctx context.Context) error {
	for s.Pending() > 0 {
		if _, err := s.BuildBatch(ctx); err != nil && !errors.Is(err, errEmptyMempool) {
			return err
		}
	}
	return nil
}
