// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package sequencer

import (
	"net/http"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/ava-labs/avalanchego/utils/json"
)

// ServiceName is the name the sequencer API is registered under.
const ServiceName = "sequencer"

// Service is the JSON-RPC API of the sequencer.
type Service struct{ seq *Sequencer }

func NewService(seq *Sequencer) *Service {
	return &Service{seq: seq}
}

// SubmitTxArgs carries a signed transaction.
type SubmitTxArgs struct {
	Tx       string              `json:"tx"`
	Encoding formatting.Encoding `json:"encoding"`
}

type SubmitTxReply struct {
	TxHash ids.ID `json:"txHash"`
}

type PendingReply struct {
	Pending json.Uint64 `json:"pending"`
}

// SubmitTx queues a transaction for the next batch.
func (s *Service) SubmitTx(_ *http.Request, args *SubmitTxArgs, reply *SubmitTxReply) error {
	raw, err := formatting.Decode(args.Encoding, args.Tx)
	if err != nil {
		return err
	}
	reply.TxHash, err = s.seq.SubmitTx(raw)
	return err
}

func (s *Service) Pending(_ *http.Request, _ *struct{}, reply *PendingReply) error {
	reply.Pending = json.Uint64(s.seq.Pending())
	return nil
}
