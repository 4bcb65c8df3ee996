// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/rollupvm/config"
	"github.com/ava-labs/rollupvm/da/mockda"
	"github.com/ava-labs/rollupvm/node"
	"github.com/ava-labs/rollupvm/runtime"
	"github.com/ava-labs/rollupvm/spec"
	"github.com/ava-labs/rollupvm/state"
	"github.com/ava-labs/rollupvm/stf"
	"github.com/ava-labs/rollupvm/storage"
)

var (
	errNoSequencerAddress = errors.New("a sequencer needs a DA address")
	errBadBlockTime       = errors.New("DA block time must be positive")
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Printf("%s\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           node.Name,
		Short:         "Full node of a sovereign rollup",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newRunCommand(),
		newVersionCommand(),
		newGenesisRootCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Printf("%s@%s\n", node.Name, node.Version)
		},
	}
}

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a node on an in-process DA layer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := getViper(cmd.Flags())
			if err != nil {
				return err
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			if err := setupLogging(cfg.LogLevel); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	addNodeFlags(cmd.Flags())
	return cmd
}

func newGenesisRootCommand() *cobra.Command {
	var hasher string
	cmd := &cobra.Command{
		Use:   "genesis-root <genesis file>",
		Short: "Check a genesis file and print its state root",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			h, err := spec.HasherByName(hasher)
			if err != nil {
				return err
			}
			root, err := genesisRoot(h, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%x\n", root[:])
			return nil
		},
	}
	cmd.Flags().StringVar(&hasher, config.HasherKey, "sha256", "State hasher: sha256 or keccak256")
	return cmd
}

func setupLogging(level string) error {
	lvl, err := log.LvlFromString(level)
	if err != nil {
		return err
	}
	log.Root().SetHandler(log.LvlFilterHandler(lvl, log.StreamHandler(os.Stderr, log.TerminalFormat())))
	return nil
}

func run(ctx context.Context, cfg config.Config) error {
	if cfg.SequencerEnabled && cfg.SequencerDAAddress == ids.ShortEmpty {
		return errNoSequencerAddress
	}
	if cfg.DABlockTime <= 0 {
		return errBadBlockTime
	}
	var genesis *node.Genesis
	if cfg.GenesisFile != "" {
		g, err := node.LoadGenesis(cfg.GenesisFile)
		if err != nil {
			return err
		}
		genesis = g
	}

	layer := mockda.NewLayer()
	n, err := node.New(
		cfg,
		genesis,
		mockda.NewService(layer, cfg.SequencerDAAddress),
		mockda.Verifier{},
		prometheus.NewRegistry(),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			log.Error("failed to close node", "err", err)
		}
	}()

	go produceBlocks(ctx, layer, cfg.DABlockTime)
	return n.Run(ctx)
}

// produceBlocks seals a block of the in-process DA layer every [blockTime].
func produceBlocks(ctx context.Context, layer *mockda.Layer, blockTime time.Duration) {
	ticker := time.NewTicker(blockTime)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			block := layer.Produce()
			log.Debug("produced DA block", "height", block.Header.Height, "blobs", len(block.Blobs))
		}
	}
}

func genesisRoot(h spec.Hasher, path string) (state.Root, error) {
	g, err := node.LoadGenesis(path)
	if err != nil {
		return state.Root{}, err
	}
	if err := g.Verify(); err != nil {
		return state.Root{}, err
	}
	st, err := storage.NewProverStorage(memdb.New(), h, storage.Config{}, prometheus.NewRegistry())
	if err != nil {
		return state.Root{}, err
	}
	rt := runtime.New()
	bp, err := stf.New[runtime.CallMessage, runtime.GenesisConfig](
		spec.NewNative(h),
		stf.Config{},
		rt,
		rt.Kernel(false),
		prometheus.NewRegistry(),
	)
	if err != nil {
		return state.Root{}, err
	}
	return bp.InitChainState(st, g.Runtime)
}
