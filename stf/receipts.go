// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package stf

import (
	"fmt"

	"github.com/ava-labs/avalanchego/ids"

	"github.com/ava-labs/rollupvm/state"
)

// OutcomeKind is what happened to the sequencer of a batch.
type OutcomeKind uint8

const (
	Rewarded OutcomeKind = iota
	Slashed
	Ignored
)

func (k OutcomeKind) String() string {
	switch k {
	case Rewarded:
		return "rewarded"
	case Slashed:
		return "slashed"
	case Ignored:
		return "ignored"
	default:
		return fmt.Sprintf("outcome(%d)", uint8(k))
	}
}

// SlashingReason says why a sequencer was slashed.
type SlashingReason uint8

const (
	NoSlashing SlashingReason = iota
	InvalidBatchEncoding
	StatelessVerificationFailed
	InvalidTransactionEncoding
)

func (r SlashingReason) String() string {
	switch r {
	case NoSlashing:
		return "none"
	case InvalidBatchEncoding:
		return "invalid batch encoding"
	case StatelessVerificationFailed:
		return "stateless verification failed"
	case InvalidTransactionEncoding:
		return "invalid transaction encoding"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// SequencerOutcome carries the reward of a Rewarded outcome or the reason
// of a Slashed one.
type SequencerOutcome struct {
	Kind   OutcomeKind    `serialize:"true" json:"kind"`
	Reward uint64         `serialize:"true" json:"reward"`
	Reason SlashingReason `serialize:"true" json:"reason"`
}

func RewardedOutcome(amount uint64) SequencerOutcome {
	return SequencerOutcome{Kind: Rewarded, Reward: amount}
}

func SlashedOutcome(reason SlashingReason) SequencerOutcome {
	return SequencerOutcome{Kind: Slashed, Reason: reason}
}

func IgnoredOutcome() SequencerOutcome {
	return SequencerOutcome{Kind: Ignored}
}

func (o SequencerOutcome) String() string {
	switch o.Kind {
	case Rewarded:
		return fmt.Sprintf("rewarded(%d)", o.Reward)
	case Slashed:
		return fmt.Sprintf("slashed(%s)", o.Reason)
	default:
		return o.Kind.String()
	}
}

// TxEffect is the result of a single transaction.
type TxEffect uint8

const (
	Successful TxEffect = iota
	Reverted
)

func (e TxEffect) String() string {
	if e == Successful {
		return "successful"
	}
	return "reverted"
}

type TransactionReceipt struct {
	TxHash  ids.ID        `serialize:"true" json:"txHash"`
	Body    []byte        `serialize:"true" json:"body"`
	Events  []state.Event `serialize:"true" json:"events"`
	Effect  TxEffect      `serialize:"true" json:"effect"`
	GasUsed uint64        `serialize:"true" json:"gasUsed"`
}

type BatchReceipt struct {
	BatchHash  ids.ID               `serialize:"true" json:"batchHash"`
	Sender     ids.ShortID          `serialize:"true" json:"sender"`
	TxReceipts []TransactionReceipt `serialize:"true" json:"txReceipts"`
	Outcome    SequencerOutcome     `serialize:"true" json:"outcome"`
}

// SlotResult is everything applying a slot produced.
type SlotResult struct {
	StateRoot     state.Root
	BatchReceipts []BatchReceipt
	Witness       state.Witness
	GasUsed       uint64
}
