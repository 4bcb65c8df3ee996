// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package mockda

import (
	"context"
	"fmt"
	"sync"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"

	"github.com/ava-labs/rollupvm/codec"
	"github.com/ava-labs/rollupvm/da"
)

var (
	_ da.Service  = (*Service)(nil)
	_ da.Verifier = Verifier{}
)

// Layer is an in-memory DA chain. Blobs are buffered until [Layer.Produce]
// seals them into the next block.
type Layer struct {
	lock    sync.RWMutex
	blocks  []*da.Block
	pending []da.BlobTransaction
}

func NewLayer() *Layer {
	return &Layer{}
}

// Submit buffers a blob from [sender].
func (l *Layer) Submit(sender ids.ShortID, data []byte) {
	l.lock.Lock()
	defer l.lock.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	l.pending = append(l.pending, da.BlobTransaction{Sender: sender, Data: cp})
}

// Produce seals the buffered blobs into a new block. Heights start at 1.
func (l *Layer) Produce() *da.Block {
	l.lock.Lock()
	defer l.lock.Unlock()

	var prev ids.ID
	if n := len(l.blocks); n > 0 {
		prev = l.blocks[n-1].Header.Hash
	}
	blk := &da.Block{
		Header: da.BlockHeader{
			Height:    uint64(len(l.blocks)) + 1,
			PrevHash:  prev,
			BlobsRoot: blobsRoot(blobHashes(l.pending)),
		},
		Blobs: l.pending,
	}
	blk.Header.Hash = headerHash(&blk.Header)
	l.blocks = append(l.blocks, blk)
	l.pending = nil
	return blk
}

// Height is the height of the last produced block.
func (l *Layer) Height() uint64 {
	l.lock.RLock()
	defer l.lock.RUnlock()

	return uint64(len(l.blocks))
}

func (l *Layer) block(height uint64) (*da.Block, error) {
	l.lock.RLock()
	defer l.lock.RUnlock()

	if height == 0 || height > uint64(len(l.blocks)) {
		return nil, fmt.Errorf("%w: height %d", da.ErrNotFound, height)
	}
	return l.blocks[height-1], nil
}

func blobHashes(blobs []da.BlobTransaction) []ids.ID {
	hashes := make([]ids.ID, len(blobs))
	for i := range blobs {
		hashes[i] = blobs[i].Hash()
	}
	return hashes
}

func blobsRoot(hashes []ids.ID) ids.ID {
	buf := make([]byte, 0, len(hashes)*len(ids.Empty))
	for _, h := range hashes {
		buf = append(buf, h[:]...)
	}
	return ids.ID(hashing.ComputeHash256Array(buf))
}

func headerHash(h *da.BlockHeader) ids.ID {
	b, err := codec.Marshal(&da.BlockHeader{
		Height:    h.Height,
		PrevHash:  h.PrevHash,
		BlobsRoot: h.BlobsRoot,
	})
	if err != nil {
		panic(err)
	}
	return ids.ID(hashing.ComputeHash256Array(b))
}

// Service is the view of the layer one sender has.
type Service struct {
	layer  *Layer
	sender ids.ShortID
}

func NewService(layer *Layer, sender ids.ShortID) *Service {
	return &Service{
		layer:  layer,
		sender: sender,
	}
}

func (s *Service) GetBlockAt(ctx context.Context, height uint64) (*da.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.layer.block(height)
}

// ExtractRelevantBlobs returns every blob: the mock layer only carries one
// rollup.
func (*Service) ExtractRelevantBlobs(block *da.Block) []da.BlobTransaction {
	return block.Blobs
}

func (*Service) GetExtractionProof(_ context.Context, block *da.Block, blobs []da.BlobTransaction) (*da.InclusionProof, *da.CompletenessProof, error) {
	return &da.InclusionProof{BlobHashes: blobHashes(blobs)},
		&da.CompletenessProof{BlobsRoot: block.Header.BlobsRoot},
		nil
}

func (s *Service) SendTransaction(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.layer.Submit(s.sender, data)
	return nil
}

// Verifier checks that the blobs handed to the rollup are exactly the
// blobs of the block.
type Verifier struct{}

func (Verifier) VerifyRelevantTxList(
	header *da.BlockHeader,
	blobs []da.BlobTransaction,
	inclusion *da.InclusionProof,
	completeness *da.CompletenessProof,
) (da.ValidityCondition, error) {
	hashes := blobHashes(blobs)
	if len(hashes) != len(inclusion.BlobHashes) {
		return da.ValidityCondition{}, fmt.Errorf("%w: %d blobs, %d hashes", da.ErrInvalidExtraction, len(hashes), len(inclusion.BlobHashes))
	}
	for i, h := range hashes {
		if h != inclusion.BlobHashes[i] {
			return da.ValidityCondition{}, fmt.Errorf("%w: blob %d hash mismatch", da.ErrInvalidExtraction, i)
		}
	}
	if completeness.BlobsRoot != header.BlobsRoot || blobsRoot(hashes) != header.BlobsRoot {
		return da.ValidityCondition{}, fmt.Errorf("%w: blobs root mismatch", da.ErrInvalidExtraction)
	}
	if headerHash(header) != header.Hash {
		return da.ValidityCondition{}, fmt.Errorf("%w: header hash mismatch", da.ErrInvalidExtraction)
	}
	return da.ValidityCondition{PrevHash: header.PrevHash, Hash: header.Hash}, nil
}
