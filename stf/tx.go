// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stf

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/rollupvm/codec"
	"github.com/ava-labs/rollupvm/spec"
)

var errWrongChainID = errors.New("wrong chain id")

// UnsignedTransaction is the signed payload of a transaction. The
// runtime message stays opaque until dispatch.
type UnsignedTransaction struct {
	ChainID    uint64 `serialize:"true" json:"chainId"`
	Nonce      uint64 `serialize:"true" json:"nonce"`
	Fee        uint64 `serialize:"true" json:"fee"`
	RuntimeMsg []byte `serialize:"true" json:"runtimeMsg"`
}

type Transaction struct {
	UnsignedTransaction `serialize:"true" json:"unsigned"`

	Signature []byte `serialize:"true" json:"signature"`
}

// Batch is the body of a blob.
type Batch struct {
	Txs [][]byte `serialize:"true" json:"txs"`
}

// VerifiedTx is a transaction whose signature and chain id were checked.
type VerifiedTx struct {
	Tx     *Transaction
	Raw    []byte
	Hash   ids.ID
	Sender ids.ShortID
}

func signingBytes(h spec.Hasher, utx *UnsignedTransaction) ([]byte, error) {
	b, err := codec.Marshal(utx)
	if err != nil {
		return nil, err
	}
	digest := h.Hash(b)
	return digest[:], nil
}

// SignTransaction encodes and signs a transaction.
func SignTransaction(h spec.Hasher, signer *spec.Signer, utx UnsignedTransaction) ([]byte, error) {
	msg, err := signingBytes(h, &utx)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(msg)
	if err != nil {
		return nil, err
	}
	return codec.Marshal(&Transaction{
		UnsignedTransaction: utx,
		Signature:           sig,
	})
}

// EncodeBatch encodes raw transactions into a blob body.
func EncodeBatch(txs [][]byte) ([]byte, error) {
	return codec.Marshal(&Batch{Txs: txs})
}

func decodeBatch(b []byte) (*Batch, error) {
	batch := &Batch{}
	if err := codec.Unmarshal(b, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// VerifyTransaction decodes [raw] and recovers its sender.
func VerifyTransaction(s *spec.Spec, chainID uint64, raw []byte) (*VerifiedTx, error) {
	tx := &Transaction{}
	if err := codec.Unmarshal(raw, tx); err != nil {
		return nil, err
	}
	if tx.ChainID != chainID {
		return nil, fmt.Errorf("%w: %d", errWrongChainID, tx.ChainID)
	}
	msg, err := signingBytes(s.Hasher, &tx.UnsignedTransaction)
	if err != nil {
		return nil, err
	}
	sender, err := s.Verifier.RecoverAddress(msg, tx.Signature)
	if err != nil {
		return nil, err
	}
	return &VerifiedTx{
		Tx:     tx,
		Raw:    raw,
		Hash:   ids.ID(s.Hasher.Hash(raw)),
		Sender: sender,
	}, nil
}

// verifyTxs authenticates every transaction of a batch. Any failure
// rejects the whole batch.
func verifyTxs(s *spec.Spec, chainID uint64, raws [][]byte) ([]*VerifiedTx, error) {
	txs := make([]*VerifiedTx, len(raws))
	for i, raw := range raws {
		tx, err := VerifyTransaction(s, chainID, raw)
		if err != nil {
			return nil, fmt.Errorf("tx %d: %w", i, err)
		}
		txs[i] = tx
	}
	return txs, nil
}
