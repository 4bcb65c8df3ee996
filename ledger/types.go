// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"fmt"
	"strings"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/rollupvm/state"
	"github.com/ava-labs/rollupvm/stf"
)

// Range is the half-open interval [Start, End) of the numbers of the
// children of a slot, batch or transaction.
type Range struct {
	Start uint64 `serialize:"true" json:"start"`
	End   uint64 `serialize:"true" json:"end"`
}

func (r Range) Len() uint64 { return r.End - r.Start }

type StoredSlot struct {
	Number    uint64 `serialize:"true" json:"number"`
	Hash      ids.ID `serialize:"true" json:"hash"`
	StateRoot ids.ID `serialize:"true" json:"stateRoot"`
	Batches   Range  `serialize:"true" json:"batches"`
}

type StoredBatch struct {
	Number  uint64               `serialize:"true" json:"number"`
	Hash    ids.ID               `serialize:"true" json:"hash"`
	Slot    uint64               `serialize:"true" json:"slot"`
	Sender  ids.ShortID          `serialize:"true" json:"sender"`
	Outcome stf.SequencerOutcome `serialize:"true" json:"outcome"`
	Txs     Range                `serialize:"true" json:"txs"`
}

type StoredTransaction struct {
	Number  uint64       `serialize:"true" json:"number"`
	Hash    ids.ID       `serialize:"true" json:"hash"`
	Batch   uint64       `serialize:"true" json:"batch"`
	Body    []byte       `serialize:"true" json:"body"`
	Effect  stf.TxEffect `serialize:"true" json:"effect"`
	GasUsed uint64       `serialize:"true" json:"gasUsed"`
	Events  Range        `serialize:"true" json:"events"`
}

type StoredEvent struct {
	Number uint64 `serialize:"true" json:"number"`
	Tx     uint64 `serialize:"true" json:"tx"`
	Key    []byte `serialize:"true" json:"key"`
	Value  []byte `serialize:"true" json:"value"`
}

// SlotCommit is everything the ledger keeps about an applied slot.
type SlotCommit struct {
	Number    uint64
	DaHash    ids.ID
	StateRoot state.Root
	Batches   []stf.BatchReceipt
	// Witness is the serialized witness of the slot, kept for provers.
	Witness []byte
}

// QueryMode is how much of the children of an item a query returns.
type QueryMode uint8

const (
	// Compact returns the item alone.
	Compact QueryMode = iota
	// Standard adds its direct children, in compact form.
	Standard
	// Full adds every descendant.
	Full
)

func (m QueryMode) String() string {
	switch m {
	case Compact:
		return "compact"
	case Standard:
		return "standard"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

func (m QueryMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *QueryMode) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "", "compact":
		*m = Compact
	case "standard":
		*m = Standard
	case "full":
		*m = Full
	default:
		return fmt.Errorf("%w: %q", errUnknownQueryMode, b)
	}
	return nil
}

// child is the mode children of an item are returned with.
func (m QueryMode) child() QueryMode {
	if m == Full {
		return Full
	}
	return Compact
}

type SlotResponse struct {
	StoredSlot
	BatchList []*BatchResponse `json:"batchList,omitempty"`
}

type BatchResponse struct {
	StoredBatch
	TxList []*TxResponse `json:"txList,omitempty"`
}

type TxResponse struct {
	StoredTransaction
	EventList []StoredEvent `json:"eventList,omitempty"`
}
