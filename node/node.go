// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/leveldb"
	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/utils/logging"
	"github.com/ava-labs/avalanchego/utils/wrappers"
	"github.com/ava-labs/avalanchego/version"
	"github.com/gorilla/rpc/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	cjson "github.com/ava-labs/avalanchego/utils/json"
	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/rollupvm/config"
	"github.com/ava-labs/rollupvm/da"
	"github.com/ava-labs/rollupvm/ledger"
	"github.com/ava-labs/rollupvm/runner"
	"github.com/ava-labs/rollupvm/runtime"
	"github.com/ava-labs/rollupvm/sequencer"
	"github.com/ava-labs/rollupvm/spec"
	"github.com/ava-labs/rollupvm/state"
	"github.com/ava-labs/rollupvm/stf"
	"github.com/ava-labs/rollupvm/storage"
)

const (
	Name = "rollupvm"

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

var (
	Version = &version.Semantic{
		Major: 0,
		Minor: 1,
		Patch: 0,
	}

	errChainIDMismatch = errors.New("db holds another chain")
	errMissingGenesis  = errors.New("db is empty and no genesis was given")
)

// Node runs a full node of the rollup: it follows the DA layer, applies
// every slot and serves the results. With a sequencer it also posts
// batches.
type Node struct {
	config   config.Config
	log      log.Logger
	registry *prometheus.Registry

	db      database.Database
	closeDB bool
	state   State

	spec      *spec.Spec
	runtime   *runtime.Runtime
	blueprint *stf.Blueprint[runtime.CallMessage, runtime.GenesisConfig]
	storage   *storage.ProverStorage
	ledger    *ledger.DB
	runner    *runner.Runner
	// sequencer is nil unless enabled
	sequencer *sequencer.Sequencer
}

// New opens the database of [cfg] and starts a node on it. [genesis] is
// only read when the database is empty.
func New(
	cfg config.Config,
	genesis *Genesis,
	daService da.Service,
	verifier da.Verifier,
	registry *prometheus.Registry,
) (*Node, error) {
	db, err := openDB(cfg, registry)
	if err != nil {
		return nil, err
	}
	n, err := newNode(cfg, db, genesis, daService, verifier, registry)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	n.closeDB = true
	return n, nil
}

func openDB(cfg config.Config, registry prometheus.Registerer) (database.Database, error) {
	if cfg.InMemory {
		return memdb.New(), nil
	}
	path := filepath.Join(cfg.DataDir, "db")
	db, err := leveldb.New(path, nil, logging.NoLog{}, config.MetricsNamespace+"_leveldb", registry)
	if err != nil {
		return nil, fmt.Errorf("failed to open db at %s: %w", path, err)
	}
	return db, nil
}

func newNode(
	cfg config.Config,
	db database.Database,
	genesis *Genesis,
	daService da.Service,
	verifier da.Verifier,
	registry *prometheus.Registry,
) (*Node, error) {
	logger := log.New("module", "node")
	logger.Info("initializing rollup node", "version", Version, "chainID", cfg.ChainID)

	hasher, err := spec.HasherByName(cfg.Hasher)
	if err != nil {
		return nil, err
	}
	n := &Node{
		config:   cfg,
		log:      logger,
		registry: registry,
		db:       db,
		state:    NewState(db),
		spec:     spec.NewNative(hasher),
		runtime:  runtime.New(),
	}

	n.storage, err = storage.NewProverStorage(
		prefixdb.New(storagePrefix, db),
		hasher,
		storage.Config{
			NodeCacheSize: cfg.NodeCacheSize,
			Namespace:     config.MetricsNamespace + "_storage",
		},
		registry,
	)
	if err != nil {
		return nil, err
	}
	n.ledger, err = ledger.New(
		prefixdb.New(ledgerPrefix, db),
		ledger.Config{
			SlotCacheSize: cfg.LedgerCacheSize,
			MaxRange:      cfg.LedgerMaxRange,
		},
		registry,
	)
	if err != nil {
		return nil, err
	}
	n.blueprint, err = stf.New[runtime.CallMessage, runtime.GenesisConfig](
		n.spec,
		stf.Config{
			ChainID:   cfg.ChainID,
			Namespace: config.MetricsNamespace + "_stf",
		},
		n.runtime,
		n.runtime.Kernel(cfg.RegisteredOnly),
		registry,
	)
	if err != nil {
		return nil, err
	}

	if err := n.initialize(genesis); err != nil {
		return nil, err
	}

	n.runner, err = runner.New(
		runner.Config{
			StartHeight:     cfg.DAStartHeight,
			PollInterval:    cfg.DAPollInterval,
			MaxPollInterval: cfg.DAMaxPollInterval,
			MaxElapsed:      cfg.DARetryBudget,
			Namespace:       config.MetricsNamespace,
		},
		n.blueprint,
		n.storage,
		n.ledger,
		daService,
		verifier,
		registry,
	)
	if err != nil {
		return nil, err
	}

	if cfg.SequencerEnabled {
		n.sequencer = sequencer.New(
			sequencer.Config{
				ChainID:       cfg.ChainID,
				MempoolSize:   cfg.MempoolSize,
				MaxBatchSize:  cfg.MaxBatchSize,
				BatchInterval: cfg.BatchInterval,
				PostRetries:   cfg.PostRetries,
			},
			n.spec,
			daService,
			n.checkCall,
		)
	}
	return n, nil
}

// initialize runs genesis the first time the node starts on a database.
func (n *Node) initialize(genesis *Genesis) error {
	initialized, err := n.state.IsInitialized()
	if err != nil {
		return err
	}
	if initialized {
		chainID, err := n.state.GetChainID()
		if err != nil {
			return err
		}
		if chainID != n.config.ChainID {
			return fmt.Errorf("%w: chain id %d, configured %d", errChainIDMismatch, chainID, n.config.ChainID)
		}
		return nil
	}

	var root state.Root
	if n.storage.IsEmpty() {
		if genesis == nil {
			return errMissingGenesis
		}
		if err := genesis.Verify(); err != nil {
			return err
		}
		root, err = n.blueprint.InitChainState(n.storage, genesis.Runtime)
	} else {
		// Genesis was committed to the storage but the node stopped
		// before recording it.
		root, err = n.storage.GetRootHash(1)
	}
	if err != nil {
		return err
	}
	if err := n.state.SetInitialized(n.config.ChainID, root); err != nil {
		return fmt.Errorf("error while setting db to initialized: %w", err)
	}
	return n.state.Commit()
}

func (n *Node) checkCall(msg []byte) error {
	_, err := n.runtime.DecodeCall(msg)
	return err
}

// Run follows the DA layer, runs the sequencer if any and serves the API
// on RPCAddr until [ctx] is done or one of them fails.
func (n *Node) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.runner.Run(gctx)
	})
	if n.sequencer != nil {
		g.Go(func() error {
			return n.sequencer.Run(gctx)
		})
	}
	if n.config.RPCAddr != "" {
		handler, err := n.Handler()
		if err != nil {
			return err
		}
		server := &http.Server{
			Addr:              n.config.RPCAddr,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		}
		g.Go(func() error {
			n.log.Info("serving api", "addr", n.config.RPCAddr)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		n.log.Info("node stopped")
		return nil
	}
	return err
}

// CreateHandlers returns a map where:
// Keys: The path of the API
// Values: The handler for the API
func (n *Node) CreateHandlers() (map[string]http.Handler, error) {
	server := rpc.NewServer()
	codec := cjson.NewCodec()
	server.RegisterCodec(codec, "application/json")
	server.RegisterCodec(codec, "application/json;charset=UTF-8")

	errs := wrappers.Errs{}
	errs.Add(
		server.RegisterService(&Service{node: n}, ServiceName),
		server.RegisterService(ledger.NewService(n.ledger), ledger.ServiceName),
	)
	if n.sequencer != nil {
		errs.Add(server.RegisterService(sequencer.NewService(n.sequencer), sequencer.ServiceName))
	}
	if errs.Errored() {
		return nil, errs.Err
	}
	return map[string]http.Handler{
		"/rpc":     server,
		"/metrics": promhttp.HandlerFor(n.registry, promhttp.HandlerOpts{}),
	}, nil
}

// Handler routes every handler of CreateHandlers.
func (n *Node) Handler() (http.Handler, error) {
	handlers, err := n.CreateHandlers()
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	for path, h := range handlers {
		mux.Handle(path, h)
	}
	return mux, nil
}

func (n *Node) Ledger() *ledger.DB { return n.ledger }

func (n *Node) Runner() *runner.Runner { return n.runner }

// Sequencer returns nil unless the sequencer is enabled.
func (n *Node) Sequencer() *sequencer.Sequencer { return n.sequencer }

// Close closes the node's stores, and the database if the node opened it.
func (n *Node) Close() error {
	errs := wrappers.Errs{}
	errs.Add(
		n.ledger.Close(),
		n.storage.Close(),
		n.state.Close(),
	)
	if n.closeDB {
		errs.Add(n.db.Close())
	}
	return errs.Err
}
