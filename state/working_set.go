// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/utils/maybe"
)

// Gas charged for state access.
const (
	GasRead       uint64 = 10
	GasCachedRead uint64 = 2
	GasWrite      uint64 = 20
)

var (
	errChildOpen = errors.New("scope has an open child")
	errClosed    = errors.New("scope was already committed or reverted")
	errFrozen    = errors.New("provable state was already frozen")
	errNotTop    = errors.New("scope is not directly above the checkpoint")
)

// delta is shared by every scope built on the same checkpoint.
type delta struct {
	storage Storage
	witness Witness
	version maybe.Maybe[uint64]
	// err is the first storage failure. Once set the slot must be
	// discarded.
	err error
}

type scope struct {
	delta     *delta
	parent    *scope
	child     *scope
	cache     *Cache
	accessory map[string]maybe.Maybe[[]byte]
	events    []Event
	gasUsed   uint64
	closed    bool
	frozen    bool
}

func newScope(d *delta, parent *scope) *scope {
	return &scope{
		delta:     d,
		parent:    parent,
		cache:     NewCache(),
		accessory: make(map[string]maybe.Maybe[[]byte]),
	}
}

func (s *scope) usable() {
	switch {
	case s.closed:
		panic(errClosed)
	case s.child != nil:
		panic(errChildOpen)
	case s.frozen:
		panic(errFrozen)
	}
}

func (s *scope) get(key StorageKey) (maybe.Maybe[[]byte], error) {
	s.usable()

	if v, ok := s.cache.Lookup(key); ok {
		s.gasUsed += GasCachedRead
		return v, nil
	}
	for p := s.parent; p != nil; p = p.parent {
		if v, ok := p.cache.Lookup(key); ok {
			s.gasUsed += GasCachedRead
			s.cache.AddRead(key, v)
			return v, nil
		}
	}
	s.gasUsed += GasRead
	v, err := s.cache.GetOrFetch(key, s.delta.storage, s.delta.version, s.delta.witness)
	if err != nil {
		if s.delta.err == nil {
			s.delta.err = err
		}
		return v, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return v, nil
}

func (s *scope) set(key StorageKey, value []byte) {
	s.usable()
	s.gasUsed += GasWrite
	s.cache.Set(key, value)
}

func (s *scope) delete(key StorageKey) {
	s.usable()
	s.gasUsed += GasWrite
	s.cache.Delete(key)
}

func (s *scope) getAccessory(key StorageKey) (maybe.Maybe[[]byte], error) {
	for p := s; p != nil; p = p.parent {
		if v, ok := p.accessory[string(key)]; ok {
			return v, nil
		}
	}
	v, err := s.delta.storage.GetAccessory(key, s.delta.version)
	if err != nil {
		if s.delta.err == nil {
			s.delta.err = err
		}
		return v, fmt.Errorf("failed to read accessory %s: %w", key, err)
	}
	return v, nil
}

func (s *scope) openChild() *scope {
	s.usable()
	s.child = newScope(s.delta, s)
	return s.child
}

// close hands control back to the parent. With [commit] the child's writes
// and events are kept, otherwise only what it read survives.
func (s *scope) close(commit bool) {
	if s.closed {
		panic(errClosed)
	}
	if s.child != nil {
		panic(errChildOpen)
	}
	p := s.parent
	var err error
	if commit {
		err = p.cache.MergeLeft(s.cache)
		for k, v := range s.accessory {
			p.accessory[k] = v
		}
		p.events = append(p.events, s.events...)
	} else {
		err = p.cache.MergeReadsLeft(s.cache)
	}
	if err != nil {
		panic(err)
	}
	p.gasUsed += s.gasUsed
	p.child = nil
	s.closed = true
}

// StateCheckpoint is the root scope of a slot. It can only be written
// through a [WorkingSet] obtained from [StateCheckpoint.ToRevertable].
type StateCheckpoint struct {
	root *scope
}

// NewStateCheckpoint reads the latest committed state of [storage] and
// records storage reads in [witness].
func NewStateCheckpoint(storage Storage, witness Witness) *StateCheckpoint {
	return newCheckpoint(storage, witness, maybe.Nothing[uint64]())
}

// NewStateCheckpointAt reads [storage] as of [version].
func NewStateCheckpointAt(storage Storage, witness Witness, version uint64) *StateCheckpoint {
	return newCheckpoint(storage, witness, maybe.Some(version))
}

func newCheckpoint(storage Storage, witness Witness, version maybe.Maybe[uint64]) *StateCheckpoint {
	d := &delta{
		storage: storage,
		witness: witness,
		version: version,
	}
	return &StateCheckpoint{root: newScope(d, nil)}
}

// ToRevertable opens a working set on top of the checkpoint. The checkpoint
// can't be used again until the working set is committed or reverted.
func (c *StateCheckpoint) ToRevertable() *WorkingSet {
	return &WorkingSet{s: c.root.openChild(), checkpoint: c}
}

// Witness returns the witness shared by every scope of the checkpoint.
func (c *StateCheckpoint) Witness() Witness { return c.root.delta.witness }

// Err returns the first storage failure observed by any scope.
func (c *StateCheckpoint) Err() error { return c.root.delta.err }

// GasUsed is the total gas charged to every closed scope.
func (c *StateCheckpoint) GasUsed() uint64 { return c.root.gasUsed }

// Freeze ends provable access and returns the reads and writes to feed to
// [Storage.ComputeStateUpdate].
func (c *StateCheckpoint) Freeze() (OrderedReadsAndWrites, Witness) {
	c.root.usable()
	c.root.frozen = true
	return c.root.cache.Freeze(), c.root.delta.witness
}

// AccessoryState opens a view for writing non-provable state. It stays
// usable after [StateCheckpoint.Freeze].
func (c *StateCheckpoint) AccessoryState() *AccessoryWorkingSet {
	if c.root.child != nil {
		panic(errChildOpen)
	}
	return &AccessoryWorkingSet{s: c.root}
}

// FreezeNonProvableState returns the accessory writes sorted by key.
func (c *StateCheckpoint) FreezeNonProvableState() []WriteEntry {
	writes := make([]WriteEntry, 0, len(c.root.accessory))
	for k, v := range c.root.accessory {
		writes = append(writes, WriteEntry{Key: StorageKey(k), Value: v})
	}
	sortWrites(writes)
	c.root.accessory = make(map[string]maybe.Maybe[[]byte])
	return writes
}

// WorkingSet is a revertable scope. Writes become visible to the parent
// only on [WorkingSet.Commit].
type WorkingSet struct {
	s          *scope
	checkpoint *StateCheckpoint
}

func (w *WorkingSet) Get(key StorageKey) (maybe.Maybe[[]byte], error) {
	return w.s.get(key)
}

func (w *WorkingSet) Set(key StorageKey, value []byte) {
	w.s.set(key, value)
}

func (w *WorkingSet) Delete(key StorageKey) {
	w.s.delete(key)
}

// ToRevertable opens a nested working set. This one is unusable until the
// nested one is closed.
func (w *WorkingSet) ToRevertable() *WorkingSet {
	return &WorkingSet{s: w.s.openChild(), checkpoint: w.checkpoint}
}

// Commit merges this scope into its parent.
func (w *WorkingSet) Commit() {
	w.s.close(true)
}

// Revert discards the writes and events of this scope. Its reads are kept
// so the witness stays consistent.
func (w *WorkingSet) Revert() {
	w.s.close(false)
}

// Checkpoint commits a working set opened by
// [StateCheckpoint.ToRevertable] and returns the checkpoint.
func (w *WorkingSet) Checkpoint() *StateCheckpoint {
	if w.s.parent != w.checkpoint.root {
		panic(errNotTop)
	}
	w.Commit()
	return w.checkpoint
}

// AddEvent records an event. It is dropped if this scope, or any scope
// above it, is reverted.
func (w *WorkingSet) AddEvent(key string, value []byte) {
	w.s.usable()
	w.s.events = append(w.s.events, Event{Key: []byte(key), Value: value})
}

// TakeEvents removes and returns the events of this scope.
func (w *WorkingSet) TakeEvents() []Event {
	w.s.usable()
	events := w.s.events
	w.s.events = nil
	return events
}

// GasUsed is the gas charged to this scope so far, nested scopes included
// once they are closed.
func (w *WorkingSet) GasUsed() uint64 { return w.s.gasUsed }

// Accessory returns a view of the non-provable state that commits and
// reverts with this working set.
func (w *WorkingSet) Accessory() AccessoryReaderWriter {
	return accessoryView{s: w.s}
}

// AccessoryReaderWriter gives access to non-provable state.
type AccessoryReaderWriter interface {
	GetAccessory(key StorageKey) (maybe.Maybe[[]byte], error)
	SetAccessory(key StorageKey, value []byte)
	DeleteAccessory(key StorageKey)
}

type accessoryView struct {
	s *scope
}

func (a accessoryView) GetAccessory(key StorageKey) (maybe.Maybe[[]byte], error) {
	if a.s.closed {
		panic(errClosed)
	}
	return a.s.getAccessory(key)
}

func (a accessoryView) SetAccessory(key StorageKey, value []byte) {
	if a.s.closed {
		panic(errClosed)
	}
	a.s.accessory[string(key)] = maybe.Some(value)
}

func (a accessoryView) DeleteAccessory(key StorageKey) {
	if a.s.closed {
		panic(errClosed)
	}
	a.s.accessory[string(key)] = maybe.Nothing[[]byte]()
}

// AccessoryWorkingSet writes non-provable state directly into the
// checkpoint. It can't touch provable state.
type AccessoryWorkingSet struct {
	s *scope
}

func (a *AccessoryWorkingSet) GetAccessory(key StorageKey) (maybe.Maybe[[]byte], error) {
	return a.s.getAccessory(key)
}

func (a *AccessoryWorkingSet) SetAccessory(key StorageKey, value []byte) {
	a.s.accessory[string(key)] = maybe.Some(value)
}

func (a *AccessoryWorkingSet) DeleteAccessory(key StorageKey) {
	a.s.accessory[string(key)] = maybe.Nothing[[]byte]()
}
