// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ava-labs/rollupvm/config"
)

const (
	configFileKey = "config-file"
	envPrefix     = "rollup"
)

func addNodeFlags(fs *pflag.FlagSet) {
	fs.String(configFileKey, "", "Config file, any format viper reads")

	fs.String(config.DataDirKey, "", "Directory of the node database")
	fs.Bool(config.InMemoryKey, false, "Keep the database in memory")
	fs.String(config.LogLevelKey, "", "Log level: crit, error, warn, info, debug")
	fs.String(config.RPCAddrKey, "", "Address the API listens on, empty to disable it")

	fs.String(config.GenesisFileKey, "", "Genesis file")
	fs.Uint64(config.ChainIDKey, 0, "Chain id transactions must be signed for")
	fs.String(config.HasherKey, "", "State hasher: sha256 or keccak256")
	fs.Bool(config.RegisteredOnlyKey, false, "Drop blobs of unregistered sequencers in the kernel")

	fs.Uint64(config.DAStartHeightKey, 0, "DA height of the first slot")
	fs.Duration(config.DAPollIntervalKey, 0, "First wait before fetching a DA block again")
	fs.Duration(config.DAMaxPollKey, 0, "Longest wait between DA fetches")
	fs.Duration(config.DARetryBudgetKey, 0, "Give up on a DA block after this long, zero to never give up")
	fs.Duration(config.DABlockTimeKey, 0, "Block time of the in-process DA layer")

	fs.Int(config.LedgerCacheKey, 0, "Slots kept decoded in memory")
	fs.Uint64(config.LedgerMaxRangeKey, 0, "Most slots a range query returns")
	fs.Int(config.NodeCacheKey, 0, "Tree nodes kept in memory")

	fs.Bool(config.SequencerKey, false, "Run a sequencer")
	fs.String(config.SequencerDAKey, "", "DA address the sequencer posts blobs from")
	fs.Duration(config.BatchIntervalKey, 0, "Longest wait before posting a batch")
	fs.Int(config.MaxBatchSizeKey, 0, "Most transactions in a batch")
	fs.Uint64(config.PostRetriesKey, 0, "Retries of a failed batch post before it waits for the next flush")
	fs.Int(config.MempoolSizeKey, 0, "Most transactions waiting for a batch")
}

// getViper returns the viper environment of the node: flags override the
// environment, which overrides the config file.
func getViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	config.SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}

	if file := v.GetString(configFileKey); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return v, nil
}
