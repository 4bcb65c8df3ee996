// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	DataDirKey         = "data-dir"
	InMemoryKey        = "in-memory"
	LogLevelKey        = "log-level"
	RPCAddrKey         = "rpc-addr"
	GenesisFileKey     = "genesis-file"
	ChainIDKey         = "chain-id"
	HasherKey          = "hasher"
	DAStartHeightKey   = "da-start-height"
	DAPollIntervalKey  = "da-poll-interval"
	DAMaxPollKey       = "da-max-poll-interval"
	DARetryBudgetKey   = "da-retry-budget"
	DABlockTimeKey     = "mock-da-block-time"
	LedgerCacheKey     = "ledger-cache-size"
	LedgerMaxRangeKey  = "ledger-max-range"
	NodeCacheKey       = "node-cache-size"
	SequencerKey       = "sequencer-enabled"
	SequencerDAKey     = "sequencer-da-address"
	BatchIntervalKey   = "batch-interval"
	MaxBatchSizeKey    = "max-batch-size"
	PostRetriesKey     = "batch-post-retries"
	MempoolSizeKey     = "mempool-size"
	RegisteredOnlyKey  = "registered-sequencers-only"
	MetricsNamespace   = "rollup"
	defaultDataDir     = "./rollup-data"
	defaultRPCAddr     = "127.0.0.1:9650"
	defaultHasher      = "sha256"
	defaultLogLevel    = "info"
	defaultChainID     = 1
	defaultStartHeight = 1
)

// Config is everything a node reads from flags, environment and config
// file.
type Config struct {
	DataDir  string `mapstructure:"data-dir"`
	InMemory bool   `mapstructure:"in-memory"`
	LogLevel string `mapstructure:"log-level"`
	RPCAddr  string `mapstructure:"rpc-addr"`

	GenesisFile string `mapstructure:"genesis-file"`
	ChainID     uint64 `mapstructure:"chain-id"`
	Hasher      string `mapstructure:"hasher"`
	// RegisteredOnly drops blobs of unregistered sequencers before they
	// reach the runtime.
	RegisteredOnly bool `mapstructure:"registered-sequencers-only"`

	DAStartHeight     uint64        `mapstructure:"da-start-height"`
	DAPollInterval    time.Duration `mapstructure:"da-poll-interval"`
	DAMaxPollInterval time.Duration `mapstructure:"da-max-poll-interval"`
	DARetryBudget     time.Duration `mapstructure:"da-retry-budget"`
	DABlockTime       time.Duration `mapstructure:"mock-da-block-time"`

	LedgerCacheSize int    `mapstructure:"ledger-cache-size"`
	LedgerMaxRange  uint64 `mapstructure:"ledger-max-range"`
	NodeCacheSize   int    `mapstructure:"node-cache-size"`

	SequencerEnabled   bool          `mapstructure:"sequencer-enabled"`
	SequencerDAAddress ids.ShortID   `mapstructure:"sequencer-da-address"`
	BatchInterval      time.Duration `mapstructure:"batch-interval"`
	MaxBatchSize       int           `mapstructure:"max-batch-size"`
	PostRetries        uint64        `mapstructure:"batch-post-retries"`
	MempoolSize        int           `mapstructure:"mempool-size"`
}

// SetDefaults registers the default of every key on [v].
func SetDefaults(v *viper.Viper) {
	v.SetDefault(DataDirKey, defaultDataDir)
	v.SetDefault(InMemoryKey, false)
	v.SetDefault(LogLevelKey, defaultLogLevel)
	v.SetDefault(RPCAddrKey, defaultRPCAddr)
	v.SetDefault(ChainIDKey, defaultChainID)
	v.SetDefault(HasherKey, defaultHasher)
	v.SetDefault(RegisteredOnlyKey, false)
	v.SetDefault(DAStartHeightKey, defaultStartHeight)
	v.SetDefault(DAPollIntervalKey, 500*time.Millisecond)
	v.SetDefault(DAMaxPollKey, 10*time.Second)
	v.SetDefault(DARetryBudgetKey, time.Duration(0))
	v.SetDefault(DABlockTimeKey, time.Second)
	v.SetDefault(LedgerCacheKey, 1024)
	v.SetDefault(LedgerMaxRangeKey, 100)
	v.SetDefault(NodeCacheKey, 4096)
	v.SetDefault(SequencerKey, false)
	v.SetDefault(BatchIntervalKey, time.Second)
	v.SetDefault(MaxBatchSizeKey, 256)
	v.SetDefault(PostRetriesKey, 5)
	v.SetDefault(MempoolSizeKey, 1024)
}

// Load decodes the settings of [v] into a Config.
func Load(v *viper.Viper) (Config, error) {
	var c Config
	if err := v.Unmarshal(&c, viper.DecodeHook(DecodeHook())); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return c, nil
}

// DecodeHook decodes ids and durations from their string forms.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		stringToIDHook,
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

func stringToIDHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	s := strings.TrimSpace(data.(string))
	switch to {
	case reflect.TypeOf(ids.ShortID{}):
		if s == "" {
			return ids.ShortEmpty, nil
		}
		return ids.ShortFromString(s)
	case reflect.TypeOf(ids.ID{}):
		if s == "" {
			return ids.Empty, nil
		}
		return ids.FromString(s)
	default:
		return data, nil
	}
}

// Default returns the config of a node started without flags or config
// file.
func Default() Config {
	v := viper.New()
	SetDefaults(v)
	c, err := Load(v)
	if err != nil {
		panic(err)
	}
	return c
}
