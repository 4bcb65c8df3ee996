// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/rollupvm/state"
)

const (
	IsInitializedKey byte = iota
	GenesisRootKey
	ChainIDKey
)

var (
	isInitializedKey                  = []byte{IsInitializedKey}
	genesisRootKey                    = []byte{GenesisRootKey}
	chainIDKey                        = []byte{ChainIDKey}
	_                InitializedState = (*initializedState)(nil)
)

// InitializedState records whether genesis ran, and the chain it ran for.
type InitializedState interface {
	IsInitialized() (bool, error)
	// SetInitialized marks genesis as done for [chainID] with [root].
	SetInitialized(chainID uint64, root state.Root) error
	GetGenesisRoot() (state.Root, error)
	GetChainID() (uint64, error)
}

type initializedState struct {
	singletonDB database.Database
}

func NewInitializedState(db database.Database) InitializedState {
	return &initializedState{
		singletonDB: db,
	}
}

func (s *initializedState) IsInitialized() (bool, error) {
	return s.singletonDB.Has(isInitializedKey)
}

func (s *initializedState) SetInitialized(chainID uint64, root state.Root) error {
	if err := database.PutID(s.singletonDB, genesisRootKey, ids.ID(root)); err != nil {
		return err
	}
	if err := database.PutUInt64(s.singletonDB, chainIDKey, chainID); err != nil {
		return err
	}
	return s.singletonDB.Put(isInitializedKey, nil)
}

func (s *initializedState) GetGenesisRoot() (state.Root, error) {
	root, err := database.GetID(s.singletonDB, genesisRootKey)
	return state.Root(root), err
}

func (s *initializedState) GetChainID() (uint64, error) {
	return database.GetUInt64(s.singletonDB, chainIDKey)
}
