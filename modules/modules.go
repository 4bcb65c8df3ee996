// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package modules holds what every runtime module shares: how its state is
// namespaced and how its own account is derived.
package modules

import (
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"

	"github.com/ava-labs/rollupvm/state"
)

// Path is the module path every built-in module is registered under.
const Path = "modules"

// Prefix is the state prefix of module [name].
func Prefix(name string) state.Prefix {
	return state.NewModulePrefix(Path, name)
}

// Address is an account owned by module [name]. No key controls it.
func Address(name string) ids.ShortID {
	return ids.ShortID(hashing.ComputeHash160Array([]byte(Prefix(name).String())))
}
