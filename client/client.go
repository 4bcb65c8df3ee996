// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package client

import (
	"context"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/formatting"
	"github.com/ava-labs/avalanchego/utils/json"
	"github.com/ava-labs/avalanchego/utils/maybe"
	"github.com/ava-labs/avalanchego/utils/rpc"

	"github.com/ava-labs/rollupvm/codec"
	"github.com/ava-labs/rollupvm/ledger"
	"github.com/ava-labs/rollupvm/node"
	"github.com/ava-labs/rollupvm/sequencer"
	"github.com/ava-labs/rollupvm/spec"
	"github.com/ava-labs/rollupvm/state"
	"github.com/ava-labs/rollupvm/storage"
)

// Client defines rollup node client operations.
type Client interface {
	// SubmitTx queues a signed transaction on the sequencer
	SubmitTx(ctx context.Context, tx []byte) (ids.ID, error)
	// PendingTxs returns the number of transactions waiting for a batch
	PendingTxs(ctx context.Context) (uint64, error)

	Status(ctx context.Context) (*node.StatusReply, error)
	Nonce(ctx context.Context, addr ids.ShortID) (uint64, error)
	// Balance returns the balance of [addr] in [token], the gas token if
	// [token] is empty
	Balance(ctx context.Context, addr ids.ShortID, token ids.ID) (uint64, error)
	Sequencer(ctx context.Context, daAddr ids.ShortID) (*node.SequencerReply, error)
	Election(ctx context.Context) (*node.ElectionReply, error)
	// StateProof fetches the proof of [key] at [version], the latest one if
	// zero, and the root it proves against.
	StateProof(ctx context.Context, key []byte, version uint64) (ids.ID, *storage.StorageProof, error)
	// VerifiedGet reads [key] at the latest version and checks the proof
	// before returning the value.
	VerifiedGet(ctx context.Context, hasher spec.Hasher, key []byte) (maybe.Maybe[[]byte], error)

	Head(ctx context.Context, mode ledger.QueryMode) (*ledger.SlotResponse, error)
	Slot(ctx context.Context, number uint64, mode ledger.QueryMode) (*ledger.SlotResponse, error)
	Slots(ctx context.Context, start, end uint64, mode ledger.QueryMode) ([]*ledger.SlotResponse, error)
	Batch(ctx context.Context, hash ids.ID, mode ledger.QueryMode) (*ledger.BatchResponse, error)
	Tx(ctx context.Context, hash ids.ID, mode ledger.QueryMode) (*ledger.TxResponse, error)
	EventsByKey(ctx context.Context, key []byte) ([]ledger.StoredEvent, error)
}

// New creates a new client object for the API served at [uri].
func New(uri string) Client {
	req := rpc.NewEndpointRequester(uri)
	return &client{req: req}
}

type client struct {
	req rpc.EndpointRequester
}

func (cli *client) SubmitTx(ctx context.Context, tx []byte) (ids.ID, error) {
	bytes, err := formatting.Encode(formatting.Hex, tx)
	if err != nil {
		return ids.Empty, err
	}

	resp := new(sequencer.SubmitTxReply)
	err = cli.req.SendRequest(ctx,
		"sequencer.submitTx",
		&sequencer.SubmitTxArgs{Tx: bytes, Encoding: formatting.Hex},
		resp,
	)
	return resp.TxHash, err
}

func (cli *client) PendingTxs(ctx context.Context) (uint64, error) {
	resp := new(sequencer.PendingReply)
	err := cli.req.SendRequest(ctx, "sequencer.pending", struct{}{}, resp)
	return uint64(resp.Pending), err
}

func (cli *client) Status(ctx context.Context) (*node.StatusReply, error) {
	resp := new(node.StatusReply)
	err := cli.req.SendRequest(ctx, "rollup.getStatus", struct{}{}, resp)
	return resp, err
}

func (cli *client) Nonce(ctx context.Context, addr ids.ShortID) (uint64, error) {
	resp := new(node.NonceReply)
	err := cli.req.SendRequest(ctx,
		"rollup.getNonce",
		&node.AddressArgs{Address: addr},
		resp,
	)
	return uint64(resp.Nonce), err
}

func (cli *client) Balance(ctx context.Context, addr ids.ShortID, token ids.ID) (uint64, error) {
	resp := new(node.BalanceReply)
	err := cli.req.SendRequest(ctx,
		"rollup.getBalance",
		&node.BalanceArgs{Address: addr, Token: token},
		resp,
	)
	return uint64(resp.Balance), err
}

func (cli *client) Sequencer(ctx context.Context, daAddr ids.ShortID) (*node.SequencerReply, error) {
	resp := new(node.SequencerReply)
	err := cli.req.SendRequest(ctx,
		"rollup.getSequencer",
		&node.SequencerArgs{DaAddress: daAddr},
		resp,
	)
	return resp, err
}

func (cli *client) Election(ctx context.Context) (*node.ElectionReply, error) {
	resp := new(node.ElectionReply)
	err := cli.req.SendRequest(ctx, "rollup.getElection", struct{}{}, resp)
	return resp, err
}

func (cli *client) StateProof(ctx context.Context, key []byte, version uint64) (ids.ID, *storage.StorageProof, error) {
	encodedKey, err := formatting.Encode(formatting.Hex, key)
	if err != nil {
		return ids.Empty, nil, err
	}
	resp := new(node.StateProofReply)
	err = cli.req.SendRequest(ctx,
		"rollup.getStateProof",
		&node.StateProofArgs{
			Key:      encodedKey,
			Version:  json.Uint64(version),
			Encoding: formatting.Hex,
		},
		resp,
	)
	if err != nil {
		return ids.Empty, nil, err
	}
	bytes, err := formatting.Decode(resp.Encoding, resp.Proof)
	if err != nil {
		return ids.Empty, nil, err
	}
	proof := new(storage.StorageProof)
	if err := codec.Unmarshal(bytes, proof); err != nil {
		return ids.Empty, nil, err
	}
	return resp.Root, proof, nil
}

func (cli *client) VerifiedGet(ctx context.Context, hasher spec.Hasher, key []byte) (maybe.Maybe[[]byte], error) {
	root, proof, err := cli.StateProof(ctx, key, 0)
	if err != nil {
		return maybe.Nothing[[]byte](), err
	}
	proven, value, err := storage.OpenProof(hasher, state.Root(root), proof)
	if err != nil {
		return maybe.Nothing[[]byte](), err
	}
	if string(proven) != string(key) {
		return maybe.Nothing[[]byte](), fmt.Errorf("proof is for key %x, asked %x", proven, key)
	}
	return value, nil
}

func (cli *client) Head(ctx context.Context, mode ledger.QueryMode) (*ledger.SlotResponse, error) {
	resp := new(ledger.SlotResponse)
	err := cli.req.SendRequest(ctx, "ledger.getHead", &ledger.HeadArgs{Mode: mode}, resp)
	return resp, err
}

func (cli *client) Slot(ctx context.Context, number uint64, mode ledger.QueryMode) (*ledger.SlotResponse, error) {
	resp := new(ledger.SlotResponse)
	err := cli.req.SendRequest(ctx,
		"ledger.getSlotByNumber",
		&ledger.NumberArgs{Number: json.Uint64(number), Mode: mode},
		resp,
	)
	return resp, err
}

func (cli *client) Slots(ctx context.Context, start, end uint64, mode ledger.QueryMode) ([]*ledger.SlotResponse, error) {
	resp := new(ledger.SlotsReply)
	err := cli.req.SendRequest(ctx,
		"ledger.getSlotsRange",
		&ledger.RangeArgs{Start: json.Uint64(start), End: json.Uint64(end), Mode: mode},
		resp,
	)
	return resp.Slots, err
}

func (cli *client) Batch(ctx context.Context, hash ids.ID, mode ledger.QueryMode) (*ledger.BatchResponse, error) {
	resp := new(ledger.BatchResponse)
	err := cli.req.SendRequest(ctx,
		"ledger.getBatchByHash",
		&ledger.HashArgs{Hash: hash, Mode: mode},
		resp,
	)
	return resp, err
}

func (cli *client) Tx(ctx context.Context, hash ids.ID, mode ledger.QueryMode) (*ledger.TxResponse, error) {
	resp := new(ledger.TxResponse)
	err := cli.req.SendRequest(ctx,
		"ledger.getTxByHash",
		&ledger.HashArgs{Hash: hash, Mode: mode},
		resp,
	)
	return resp, err
}

func (cli *client) EventsByKey(ctx context.Context, key []byte) ([]ledger.StoredEvent, error) {
	resp := new(ledger.EventsReply)
	err := cli.req.SendRequest(ctx,
		"ledger.getEventsByKey",
		&ledger.EventsByKeyArgs{Key: key},
		resp,
	)
	return resp.Events, err
}
