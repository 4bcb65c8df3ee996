// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ava-labs/avalanchego/utils/wrappers"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/rollupvm/da"
	"github.com/ava-labs/rollupvm/ledger"
	"github.com/ava-labs/rollupvm/state"
	"github.com/ava-labs/rollupvm/stf"
)

var (
	ErrOutOfSync = errors.New("state and ledger are out of sync")

	DefaultConfig = Config{
		StartHeight:     1,
		PollInterval:    500 * time.Millisecond,
		MaxPollInterval: 10 * time.Second,
	}
)

type Config struct {
	// StartHeight is the DA height of the first slot.
	StartHeight uint64
	// PollInterval is the first wait before fetching a DA block again.
	PollInterval time.Duration
	// MaxPollInterval caps the exponential wait between fetches.
	MaxPollInterval time.Duration
	// MaxElapsed gives up on a DA block after that long. Zero retries
	// until the context is done.
	MaxElapsed time.Duration
	Namespace  string
}

// STF is the state transition the runner drives.
type STF interface {
	ApplySlot(
		preRoot state.Root,
		storage state.Storage,
		witness state.Witness,
		header *da.BlockHeader,
		validity da.ValidityCondition,
		blobs []da.BlobTransaction,
	) (*stf.SlotResult, error)
}

// Storage is the native storage the runner applies slots on.
type Storage interface {
	state.Storage
	LatestVersion() uint64
	GetRootHash(version uint64) (state.Root, error)
}

// Runner follows the DA chain and applies one slot per DA block, in order.
// Slot n is built from DA height StartHeight+n-1 and is state version n+1,
// version 1 being genesis.
type Runner struct {
	config   Config
	log      log.Logger
	metrics  *metrics
	stf      STF
	storage  Storage
	ledger   *ledger.DB
	da       da.Service
	verifier da.Verifier

	root state.Root
	slot uint64
}

func New(
	config Config,
	transition STF,
	storage Storage,
	ledgerDB *ledger.DB,
	daService da.Service,
	verifier da.Verifier,
	registerer prometheus.Registerer,
) (*Runner, error) {
	m, err := newMetrics(config.Namespace, registerer)
	if err != nil {
		return nil, err
	}

	var head uint64
	if h, ok := ledgerDB.Head(); ok {
		head = h
	}
	version := storage.LatestVersion()
	if version != head+1 {
		return nil, fmt.Errorf("%w: state version %d, ledger head %d", ErrOutOfSync, version, head)
	}
	root, err := storage.GetRootHash(version)
	if err != nil {
		return nil, fmt.Errorf("failed to read state root at %d: %w", version, err)
	}

	return &Runner{
		config:   config,
		log:      log.New("module", "runner"),
		metrics:  m,
		stf:      transition,
		storage:  storage,
		ledger:   ledgerDB,
		da:       daService,
		verifier: verifier,
		root:     root,
		slot:     head + 1,
	}, nil
}

// NextHeight is the DA height of the next slot.
func (r *Runner) NextHeight() uint64 {
	return r.config.StartHeight + r.slot - 1
}

// Root is the state root after the last applied slot.
func (r *Runner) Root() state.Root {
	return r.root
}

// Run applies slots until [ctx] is done or a slot fails.
func (r *Runner) Run(ctx context.Context) error {
	r.log.Info("starting runner",
		"slot", r.slot,
		"daHeight", r.NextHeight(),
		"root", fmt.Sprintf("%x", r.root[:]),
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.ProcessNext(ctx); err != nil {
			return err
		}
	}
}

// ProcessNext waits for the next DA block and applies it.
func (r *Runner) ProcessNext(ctx context.Context) error {
	height := r.NextHeight()
	block, err := r.fetch(ctx, height)
	if err != nil {
		return err
	}

	blobs := r.da.ExtractRelevantBlobs(block)
	inclusion, completeness, err := r.da.GetExtractionProof(ctx, block, blobs)
	if err != nil {
		return fmt.Errorf("failed to get extraction proof at height %d: %w", height, err)
	}
	validity, err := r.verifier.VerifyRelevantTxList(&block.Header, blobs, inclusion, completeness)
	if err != nil {
		return fmt.Errorf("failed to verify blobs at height %d: %w", height, err)
	}

	start := time.Now()
	witness := state.NewArrayWitness()
	result, err := r.stf.ApplySlot(r.root, r.storage, witness, &block.Header, validity, blobs)
	if err != nil {
		return fmt.Errorf("failed to apply slot %d: %w", r.slot, err)
	}
	witnessBytes, err := witness.Bytes()
	if err != nil {
		return err
	}
	if err := r.ledger.CommitSlot(&ledger.SlotCommit{
		Number:    r.slot,
		DaHash:    block.Header.Hash,
		StateRoot: result.StateRoot,
		Batches:   result.BatchReceipts,
		Witness:   witnessBytes,
	}); err != nil {
		return fmt.Errorf("failed to commit slot %d to the ledger: %w", r.slot, err)
	}

	r.metrics.slotDuration.Observe(time.Since(start).Seconds())
	r.metrics.slots.Inc()
	r.metrics.daHeight.Set(float64(height))
	r.log.Info("applied slot",
		"slot", r.slot,
		"daHeight", height,
		"blobs", len(blobs),
		"root", fmt.Sprintf("%x", result.StateRoot[:]),
	)

	r.root = result.StateRoot
	r.slot++
	return nil
}

// fetch gets the block at [height], retrying with an exponential backoff
// until it exists.
func (r *Runner) fetch(ctx context.Context, height uint64) (*da.Block, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.config.PollInterval
	b.MaxInterval = r.config.MaxPollInterval
	b.MaxElapsedTime = r.config.MaxElapsed

	var block *da.Block
	err := backoff.Retry(func() error {
		var err error
		block, err = r.da.GetBlockAt(ctx, height)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return backoff.Permanent(err)
		case !errors.Is(err, da.ErrNotFound):
			r.log.Warn("failed to fetch DA block", "height", height, "err", err)
		}
		r.metrics.fetchRetries.Inc()
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch DA block %d: %w", height, err)
	}
	return block, nil
}

type metrics struct {
	slots        prometheus.Counter
	fetchRetries prometheus.Counter
	daHeight     prometheus.Gauge
	slotDuration prometheus.Histogram
}

func newMetrics(namespace string, reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		slots: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runner_slots",
			Help:      "Number of slots applied and committed to the ledger",
		}),
		fetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runner_fetch_retries",
			Help:      "Number of failed DA block fetches",
		}),
		daHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runner_da_height",
			Help:      "DA height of the last applied slot",
		}),
		slotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "runner_slot_seconds",
			Help:      "Time spent applying and storing a slot",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	errs := wrappers.Errs{}
	errs.Add(
		reg.Register(m.slots),
		reg.Register(m.fetchRetries),
		reg.Register(m.daHeight),
		reg.Register(m.slotDuration),
	)
	return m, errs.Err
}
