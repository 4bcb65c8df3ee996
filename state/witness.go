// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ava-labs/rollupvm/codec"
)

var (
	ErrWitnessExhausted = errors.New("witness has no more hints")

	_ Witness = (*ArrayWitness)(nil)
)

// Witness is an ordered sequence of hints. Native execution appends them,
// replay consumes them in the same order. Hints carry no keys: any
// reordering between the two runs is a bug.
type Witness interface {
	// AddHint appends the encoding of [hint].
	AddHint(hint interface{}) error
	// GetHint decodes the next unread hint into [dest].
	GetHint(dest interface{}) error
}

// ArrayWitness is shared by every scope of a slot.
type ArrayWitness struct {
	lock  sync.Mutex
	hints [][]byte
	next  int
}

type serializedWitness struct {
	Hints [][]byte `serialize:"true"`
}

func NewArrayWitness() *ArrayWitness {
	return &ArrayWitness{}
}

// ArrayWitnessFromBytes loads a witness produced by [ArrayWitness.Bytes]
// for replay.
func ArrayWitnessFromBytes(b []byte) (*ArrayWitness, error) {
	var s serializedWitness
	if err := codec.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("failed to parse witness: %w", err)
	}
	return &ArrayWitness{hints: s.Hints}, nil
}

func (w *ArrayWitness) AddHint(hint interface{}) error {
	b, err := codec.Marshal(hint)
	if err != nil {
		return fmt.Errorf("failed to encode witness hint %T: %w", hint, err)
	}

	w.lock.Lock()
	defer w.lock.Unlock()

	w.hints = append(w.hints, b)
	return nil
}

func (w *ArrayWitness) GetHint(dest interface{}) error {
	w.lock.Lock()
	defer w.lock.Unlock()

	if w.next >= len(w.hints) {
		return ErrWitnessExhausted
	}
	if err := codec.Unmarshal(w.hints[w.next], dest); err != nil {
		return fmt.Errorf("failed to decode witness hint %d into %T: %w", w.next, dest, err)
	}
	w.next++
	return nil
}

// Len is the number of hints recorded.
func (w *ArrayWitness) Len() int {
	w.lock.Lock()
	defer w.lock.Unlock()

	return len(w.hints)
}

// Remaining is the number of hints not consumed yet.
func (w *ArrayWitness) Remaining() int {
	w.lock.Lock()
	defer w.lock.Unlock()

	return len(w.hints) - w.next
}

// Bytes serializes every hint, consumed or not.
func (w *ArrayWitness) Bytes() ([]byte, error) {
	w.lock.Lock()
	defer w.lock.Unlock()

	return codec.Marshal(&serializedWitness{Hints: w.hints})
}
