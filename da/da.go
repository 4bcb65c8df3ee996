// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package da

import (
	"context"
	"errors"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
)

var (
	// ErrNotFound is returned for a height the DA layer has not produced
	// yet. Callers are expected to retry.
	ErrNotFound = errors.New("block not found")

	ErrInvalidExtraction = errors.New("invalid blob extraction")
)

// BlockHeader identifies a DA block and its place in the DA chain.
type BlockHeader struct {
	Height    uint64 `serialize:"true" json:"height"`
	Hash      ids.ID `serialize:"true" json:"hash"`
	PrevHash  ids.ID `serialize:"true" json:"prevHash"`
	BlobsRoot ids.ID `serialize:"true" json:"blobsRoot"`
}

// BlobTransaction is a blob posted to the DA layer by [Sender].
type BlobTransaction struct {
	Sender ids.ShortID `serialize:"true" json:"sender"`
	Data   []byte      `serialize:"true" json:"data"`
}

// Hash commits to both the sender and the data.
func (b *BlobTransaction) Hash() ids.ID {
	return ids.ID(hashing.ComputeHash256Array(append(b.Sender[:], b.Data...)))
}

type Block struct {
	Header BlockHeader       `serialize:"true" json:"header"`
	Blobs  []BlobTransaction `serialize:"true" json:"blobs"`
}

// ValidityCondition is what a slot's state transition assumes about the
// DA chain. A proof is only valid if the condition holds.
type ValidityCondition struct {
	PrevHash ids.ID `serialize:"true" json:"prevHash"`
	Hash     ids.ID `serialize:"true" json:"hash"`
}

// InclusionProof lists the hashes of the relevant blobs in DA order.
type InclusionProof struct {
	BlobHashes []ids.ID `serialize:"true" json:"blobHashes"`
}

// CompletenessProof commits to the blob list of the whole block.
type CompletenessProof struct {
	BlobsRoot ids.ID `serialize:"true" json:"blobsRoot"`
}

// Service is a DA layer client.
type Service interface {
	// GetBlockAt returns the block at [height], or ErrNotFound.
	GetBlockAt(ctx context.Context, height uint64) (*Block, error)
	// ExtractRelevantBlobs returns the blobs of [block] meant for this
	// rollup, in DA order.
	ExtractRelevantBlobs(block *Block) []BlobTransaction
	GetExtractionProof(ctx context.Context, block *Block, blobs []BlobTransaction) (*InclusionProof, *CompletenessProof, error)
	// SendTransaction posts [data] as a blob from this client's address.
	SendTransaction(ctx context.Context, data []byte) error
}

// Verifier checks an extraction against a header without talking to the
// DA layer.
type Verifier interface {
	VerifyRelevantTxList(
		header *BlockHeader,
		blobs []BlobTransaction,
		inclusion *InclusionProof,
		completeness *CompletenessProof,
	) (ValidityCondition, error)
}
