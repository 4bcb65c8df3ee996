// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"errors"
	"net/http"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/json"
)

// ServiceName is the name the ledger API is registered under.
const ServiceName = "ledger"

var errNoSlots = errors.New("no slot committed yet")

// Service is the JSON-RPC API of the ledger.
type Service struct{ db *DB }

func NewService(db *DB) *Service {
	return &Service{db: db}
}

// NumberArgs selects an item by number.
type NumberArgs struct {
	Number json.Uint64 `json:"number"`
	Mode   QueryMode   `json:"mode"`
}

// HashArgs selects an item by hash.
type HashArgs struct {
	Hash ids.ID    `json:"hash"`
	Mode QueryMode `json:"mode"`
}

// RangeArgs selects the slots numbered in [Start, End).
type RangeArgs struct {
	Start json.Uint64 `json:"start"`
	End   json.Uint64 `json:"end"`
	Mode  QueryMode   `json:"mode"`
}

type SlotsReply struct {
	Slots []*SlotResponse `json:"slots"`
}

type EventsByKeyArgs struct {
	Key []byte `json:"key"`
}

type EventsReply struct {
	Events []StoredEvent `json:"events"`
}

type HeadArgs struct {
	Mode QueryMode `json:"mode"`
}

func (s *Service) GetSlotByNumber(_ *http.Request, args *NumberArgs, reply *SlotResponse) error {
	slot, err := s.db.GetSlotByNumber(uint64(args.Number), args.Mode)
	if err != nil {
		return err
	}
	*reply = *slot
	return nil
}

func (s *Service) GetSlotByHash(_ *http.Request, args *HashArgs, reply *SlotResponse) error {
	slot, err := s.db.GetSlotByHash(args.Hash, args.Mode)
	if err != nil {
		return err
	}
	*reply = *slot
	return nil
}

func (s *Service) GetSlotsRange(_ *http.Request, args *RangeArgs, reply *SlotsReply) error {
	slots, err := s.db.GetSlotsRange(uint64(args.Start), uint64(args.End), args.Mode)
	reply.Slots = slots
	return err
}

func (s *Service) GetBatchByNumber(_ *http.Request, args *NumberArgs, reply *BatchResponse) error {
	batch, err := s.db.GetBatchByNumber(uint64(args.Number), args.Mode)
	if err != nil {
		return err
	}
	*reply = *batch
	return nil
}

func (s *Service) GetBatchByHash(_ *http.Request, args *HashArgs, reply *BatchResponse) error {
	batch, err := s.db.GetBatchByHash(args.Hash, args.Mode)
	if err != nil {
		return err
	}
	*reply = *batch
	return nil
}

func (s *Service) GetTxByHash(_ *http.Request, args *HashArgs, reply *TxResponse) error {
	tx, err := s.db.GetTxByHash(args.Hash, args.Mode)
	if err != nil {
		return err
	}
	*reply = *tx
	return nil
}

func (s *Service) GetTxByNumber(_ *http.Request, args *NumberArgs, reply *TxResponse) error {
	tx, err := s.db.GetTxByNumber(uint64(args.Number), args.Mode)
	if err != nil {
		return err
	}
	*reply = *tx
	return nil
}

func (s *Service) GetEventsByKey(_ *http.Request, args *EventsByKeyArgs, reply *EventsReply) error {
	events, err := s.db.GetEventsByKey(args.Key)
	reply.Events = events
	return err
}

// GetHead returns the last committed slot.
func (s *Service) GetHead(_ *http.Request, args *HeadArgs, reply *SlotResponse) error {
	n, ok := s.db.Head()
	if !ok {
		return errNoSlots
	}
	slot, err := s.db.GetSlotByNumber(n, args.Mode)
	if err != nil {
		return err
	}
	*reply = *slot
	return nil
}
