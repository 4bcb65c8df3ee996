// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/database/versiondb"
)

var (
	// These are prefixes for db keys.
	// Each component of the node owns a separate prefix of the same db.
	singletonStatePrefix = []byte("singleton")
	storagePrefix        = []byte("storage")
	ledgerPrefix         = []byte("ledger")

	_ State = &nodeState{}
)

// State holds what the node itself records about its chain. The state
// storage and the ledger live next to it under their own prefixes.
type State interface {
	InitializedState

	Commit() error
	Close() error
}

type nodeState struct {
	InitializedState

	baseDB *versiondb.Database
}

func NewState(db database.Database) State {
	baseDB := versiondb.New(db)
	singletonDB := prefixdb.New(singletonStatePrefix, baseDB)
	return &nodeState{
		InitializedState: NewInitializedState(singletonDB),
		baseDB:           baseDB,
	}
}

// Commit commits pending operations to the underlying db
func (s *nodeState) Commit() error {
	return s.baseDB.Commit()
}

// Close closes the versioned db. The underlying db is left open.
func (s *nodeState) Close() error {
	return s.baseDB.Close()
}
