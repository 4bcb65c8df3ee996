// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package node

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/ava-labs/avalanchego/utils/json"

	"github.com/ava-labs/rollupvm/codec"
	"github.com/ava-labs/rollupvm/modules/election"
	"github.com/ava-labs/rollupvm/state"
)

// ServiceName is the name the rollup API is registered under.
const ServiceName = "rollup"

var errFutureVersion = errors.New("version is not committed yet")

// Service serves reads of the rollup state at its latest version.
type Service struct{ node *Node }

type StatusReply struct {
	Version      string      `json:"version"`
	ChainID      json.Uint64 `json:"chainID"`
	StateVersion json.Uint64 `json:"stateVersion"`
	StateRoot    ids.ID      `json:"stateRoot"`
	GenesisRoot  ids.ID      `json:"genesisRoot"`
	// Slot is the last slot applied, zero before the first one.
	Slot json.Uint64 `json:"slot"`
}

// GetStatus returns where the node is on its chain.
func (s *Service) GetStatus(_ *http.Request, _ *struct{}, reply *StatusReply) error {
	n := s.node
	version := n.storage.LatestVersion()
	root, err := n.storage.GetRootHash(version)
	if err != nil {
		return err
	}
	genesisRoot, err := n.state.GetGenesisRoot()
	if err != nil {
		return err
	}
	reply.Version = Version.String()
	reply.ChainID = json.Uint64(n.config.ChainID)
	reply.StateVersion = json.Uint64(version)
	reply.StateRoot = ids.ID(root)
	reply.GenesisRoot = ids.ID(genesisRoot)
	if head, ok := n.ledger.Head(); ok {
		reply.Slot = json.Uint64(head)
	}
	return nil
}

type AddressArgs struct {
	Address ids.ShortID `json:"address"`
}

type NonceReply struct {
	Nonce json.Uint64 `json:"nonce"`
}

// GetNonce returns the nonce the next transaction of [args.Address] must
// carry.
func (s *Service) GetNonce(_ *http.Request, args *AddressArgs, reply *NonceReply) error {
	return s.query(func(ws *state.WorkingSet) error {
		nonce, err := s.node.runtime.Accounts.Nonce(ws, args.Address)
		reply.Nonce = json.Uint64(nonce)
		return err
	})
}

// BalanceArgs selects a balance. An empty token selects the gas token.
type BalanceArgs struct {
	Address ids.ShortID `json:"address"`
	Token   ids.ID      `json:"token"`
}

type BalanceReply struct {
	Token   ids.ID      `json:"token"`
	Balance json.Uint64 `json:"balance"`
}

func (s *Service) GetBalance(_ *http.Request, args *BalanceArgs, reply *BalanceReply) error {
	bank := s.node.runtime.Bank
	return s.query(func(ws *state.WorkingSet) error {
		token := args.Token
		if token == ids.Empty {
			gas, err := bank.GasToken(ws)
			if err != nil {
				return err
			}
			token = gas
		}
		balance, err := bank.Balance(ws, token, args.Address)
		reply.Token = token
		reply.Balance = json.Uint64(balance)
		return err
	})
}

type TokenArgs struct {
	Token ids.ID `json:"token"`
}

type TokenReply struct {
	Name        string        `json:"name"`
	TotalSupply json.Uint64   `json:"totalSupply"`
	Minters     []ids.ShortID `json:"minters"`
}

func (s *Service) GetToken(_ *http.Request, args *TokenArgs, reply *TokenReply) error {
	return s.query(func(ws *state.WorkingSet) error {
		token, ok, err := s.node.runtime.Bank.Token(ws, args.Token)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("unknown token %s", args.Token)
		}
		reply.Name = token.Name
		reply.TotalSupply = json.Uint64(token.TotalSupply)
		reply.Minters = token.Minters
		return nil
	})
}

type SequencerArgs struct {
	DaAddress ids.ShortID `json:"daAddress"`
}

type SequencerReply struct {
	Registered    bool        `json:"registered"`
	RollupAddress ids.ShortID `json:"rollupAddress"`
	Bond          json.Uint64 `json:"bond"`
	MinimumBond   json.Uint64 `json:"minimumBond"`
}

func (s *Service) GetSequencer(_ *http.Request, args *SequencerArgs, reply *SequencerReply) error {
	registry := s.node.runtime.Sequencer
	return s.query(func(ws *state.WorkingSet) error {
		seq, ok, err := registry.Get(ws, args.DaAddress)
		if err != nil {
			return err
		}
		minBond, err := registry.MinimumBond(ws)
		if err != nil {
			return err
		}
		reply.Registered = ok
		reply.RollupAddress = seq.RollupAddress
		reply.Bond = json.Uint64(seq.Bond)
		reply.MinimumBond = json.Uint64(minBond)
		return nil
	})
}

type ElectionReply struct {
	Candidates []election.Candidate `json:"candidates"`
	Frozen     bool                 `json:"frozen"`
	// Winner is set once the election is frozen.
	Winner *election.Candidate `json:"winner,omitempty"`
}

func (s *Service) GetElection(_ *http.Request, _ *struct{}, reply *ElectionReply) error {
	e := s.node.runtime.Election
	return s.query(func(ws *state.WorkingSet) error {
		candidates, err := e.Candidates(ws)
		if err != nil {
			return err
		}
		reply.Candidates = candidates
		winner, err := e.Result(ws)
		switch {
		case errors.Is(err, election.ErrNotFrozen):
			return nil
		case err != nil:
			return err
		}
		reply.Frozen = true
		reply.Winner = &winner
		return nil
	})
}

// StateProofArgs selects a raw state key. A zero version selects the
// latest one.
type StateProofArgs struct {
	Key      string              `json:"key"`
	Version  json.Uint64         `json:"version"`
	Encoding formatting.Encoding `json:"encoding"`
}

type StateProofReply struct {
	Version json.Uint64 `json:"version"`
	Root    ids.ID      `json:"root"`
	// Proof is the encoded storage proof, in the requested encoding.
	Proof    string              `json:"proof"`
	Encoding formatting.Encoding `json:"encoding"`
}

// GetStateProof proves the value of a key against the root of a version.
func (s *Service) GetStateProof(_ *http.Request, args *StateProofArgs, reply *StateProofReply) error {
	key, err := formatting.Decode(args.Encoding, args.Key)
	if err != nil {
		return fmt.Errorf("couldn't decode key: %w", err)
	}
	st := s.node.storage
	version := uint64(args.Version)
	latest := st.LatestVersion()
	switch {
	case version == 0:
		version = latest
	case version > latest:
		return fmt.Errorf("%w: %d > %d", errFutureVersion, version, latest)
	}

	root, err := st.GetRootHash(version)
	if err != nil {
		return err
	}
	proof, err := st.GetWithProof(key, version)
	if err != nil {
		return err
	}
	b, err := codec.Marshal(proof)
	if err != nil {
		return err
	}
	reply.Proof, err = formatting.Encode(args.Encoding, b)
	if err != nil {
		return err
	}
	reply.Version = json.Uint64(version)
	reply.Root = ids.ID(root)
	reply.Encoding = args.Encoding
	return nil
}

// query runs [f] on a throwaway working set over the latest version.
func (s *Service) query(f func(ws *state.WorkingSet) error) error {
	st := s.node.storage
	cp := state.NewStateCheckpointAt(st, state.NewArrayWitness(), st.LatestVersion())
	ws := cp.ToRevertable()
	defer ws.Revert()
	if err := f(ws); err != nil {
		return err
	}
	return cp.Err()
}
