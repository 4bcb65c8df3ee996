// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"bytes"
	"fmt"

	"github.com/ava-labs/avalanchego/database/memdb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"

	"github.com/ava-labs/rollupvm/config"
	"github.com/ava-labs/rollupvm/runtime"
	"github.com/ava-labs/rollupvm/spec"
	"github.com/ava-labs/rollupvm/state"
	"github.com/ava-labs/rollupvm/storage"
)

// Genesis is the initial state of the rollup.
type Genesis struct {
	Runtime runtime.GenesisConfig `json:"runtime" mapstructure:"runtime"`
}

// LoadGenesis reads a genesis file. The format follows the extension of
// [path]: json, yaml and toml are supported.
func LoadGenesis(path string) (*Genesis, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read genesis %s: %w", path, err)
	}
	return decodeGenesis(v)
}

// ParseGenesis reads a JSON genesis.
func ParseGenesis(b []byte) (*Genesis, error) {
	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(b)); err != nil {
		return nil, fmt.Errorf("failed to parse genesis: %w", err)
	}
	return decodeGenesis(v)
}

func decodeGenesis(v *viper.Viper) (*Genesis, error) {
	g := &Genesis{}
	if err := v.Unmarshal(g, viper.DecodeHook(config.DecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to decode genesis: %w", err)
	}
	return g, nil
}

// Verify runs the runtime genesis on an empty in-memory state, so that a
// genesis that can't produce a chain is reported before anything is
// written.
func (g *Genesis) Verify() error {
	s, err := storage.NewProverStorage(memdb.New(), spec.Sha256{}, storage.Config{}, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer s.Close()

	ws := state.NewStateCheckpoint(s, state.NewArrayWitness()).ToRevertable()
	defer ws.Revert()
	if err := runtime.New().Genesis(g.Runtime, ws); err != nil {
		return fmt.Errorf("invalid genesis: %w", err)
	}
	return nil
}
