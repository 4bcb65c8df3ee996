// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ava-labs/avalanchego/utils/maybe"
)

type accessKind uint8

const (
	accessRead accessKind = iota
	accessReadThenWrite
	accessWrite
)

func (k accessKind) String() string {
	switch k {
	case accessRead:
		return "read"
	case accessReadThenWrite:
		return "read-then-write"
	default:
		return "write"
	}
}

// access is the history of one key within a scope. [original] is what the
// first read returned, [modified] what the last write stored.
type access struct {
	kind     accessKind
	original maybe.Maybe[[]byte]
	modified maybe.Maybe[[]byte]
}

func (a *access) last() maybe.Maybe[[]byte] {
	if a.kind == accessRead {
		return a.original
	}
	return a.modified
}

func (a *access) write(value maybe.Maybe[[]byte]) {
	if a.kind == accessRead {
		a.kind = accessReadThenWrite
	}
	a.modified = value
}

// MergeError is returned when two logs disagree on what a key held. It
// always points at a bug in the scope bookkeeping.
type MergeError struct {
	Key      StorageKey
	Left     accessKind
	Right    accessKind
	Expected maybe.Maybe[[]byte]
	Found    maybe.Maybe[[]byte]
}

func (e *MergeError) Error() string {
	return fmt.Sprintf(
		"inconsistent %s after %s of key %s: expected %s, found %s",
		e.Right, e.Left, e.Key, formatValue(e.Expected), formatValue(e.Found),
	)
}

func formatValue(v maybe.Maybe[[]byte]) string {
	if v.IsNothing() {
		return "nothing"
	}
	return fmt.Sprintf("%x", v.Value())
}

func valuesEqual(a, b maybe.Maybe[[]byte]) bool {
	if a.IsNothing() || b.IsNothing() {
		return a.IsNothing() == b.IsNothing()
	}
	return bytes.Equal(a.Value(), b.Value())
}

// ReadEntry is a value observed from storage.
type ReadEntry struct {
	Key   StorageKey
	Value maybe.Maybe[[]byte]
}

// WriteEntry is a value to store, or Nothing for a delete.
type WriteEntry struct {
	Key   StorageKey
	Value maybe.Maybe[[]byte]
}

// OrderedReadsAndWrites is the frozen content of a scope. Reads are in the
// order they first hit storage, writes are sorted by key.
type OrderedReadsAndWrites struct {
	Reads  []ReadEntry
	Writes []WriteEntry
}

// Cache is the read/write log of one scope.
type Cache struct {
	log          map[string]*access
	orderedReads []ReadEntry
}

func NewCache() *Cache {
	return &Cache{log: make(map[string]*access)}
}

// Lookup returns the latest value of [key] known to this scope without
// touching storage.
func (c *Cache) Lookup(key StorageKey) (maybe.Maybe[[]byte], bool) {
	a, ok := c.log[string(key)]
	if !ok {
		return maybe.Nothing[[]byte](), false
	}
	return a.last(), true
}

// AddRead records that [key] was observed to hold [value] without going to
// storage, as when a parent scope already knew it.
func (c *Cache) AddRead(key StorageKey, value maybe.Maybe[[]byte]) {
	if _, ok := c.log[string(key)]; ok {
		return
	}
	c.log[string(key)] = &access{kind: accessRead, original: value}
}

// GetOrFetch returns the latest value of [key]. On first touch the value is
// read from [storage], which records it in [w].
func (c *Cache) GetOrFetch(
	key StorageKey,
	storage Storage,
	version maybe.Maybe[uint64],
	w Witness,
) (maybe.Maybe[[]byte], error) {
	if v, ok := c.Lookup(key); ok {
		return v, nil
	}
	v, err := storage.Get(key, version, w)
	if err != nil {
		return maybe.Nothing[[]byte](), err
	}
	c.log[string(key)] = &access{kind: accessRead, original: v}
	c.orderedReads = append(c.orderedReads, ReadEntry{Key: key, Value: v})
	return v, nil
}

// Set records a write of [value] to [key].
func (c *Cache) Set(key StorageKey, value []byte) {
	c.put(key, maybe.Some(value))
}

// Delete records a delete of [key].
func (c *Cache) Delete(key StorageKey) {
	c.put(key, maybe.Nothing[[]byte]())
}

func (c *Cache) put(key StorageKey, value maybe.Maybe[[]byte]) {
	if a, ok := c.log[string(key)]; ok {
		a.write(value)
		return
	}
	c.log[string(key)] = &access{kind: accessWrite, modified: value}
}

// merge folds the access [rhs], which happened after [lhs], into [lhs].
func merge(key string, lhs, rhs *access) error {
	conflict := func(expected, found maybe.Maybe[[]byte]) error {
		return &MergeError{
			Key:      StorageKey(key),
			Left:     lhs.kind,
			Right:    rhs.kind,
			Expected: expected,
			Found:    found,
		}
	}

	switch rhs.kind {
	case accessRead:
		// A read after anything must observe what [lhs] left behind.
		if !valuesEqual(lhs.last(), rhs.original) {
			return conflict(lhs.last(), rhs.original)
		}
	case accessReadThenWrite:
		if !valuesEqual(lhs.last(), rhs.original) {
			return conflict(lhs.last(), rhs.original)
		}
		lhs.write(rhs.modified)
	case accessWrite:
		lhs.write(rhs.modified)
	}
	return nil
}

// MergeLeft applies every access of [other], a child scope being
// committed, on top of this log.
func (c *Cache) MergeLeft(other *Cache) error {
	c.appendReads(other)
	for key, rhs := range other.log {
		lhs, ok := c.log[key]
		if !ok {
			cp := *rhs
			c.log[key] = &cp
			continue
		}
		if err := merge(key, lhs, rhs); err != nil {
			return err
		}
	}
	return nil
}

// MergeReadsLeft keeps only what [other], a child scope being reverted,
// read. Its writes are dropped but the values it observed still have to be
// witnessed.
func (c *Cache) MergeReadsLeft(other *Cache) error {
	c.appendReads(other)
	for key, rhs := range other.log {
		if rhs.kind == accessWrite {
			continue
		}
		read := &access{kind: accessRead, original: rhs.original}
		lhs, ok := c.log[key]
		if !ok {
			c.log[key] = read
			continue
		}
		if err := merge(key, lhs, read); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache) appendReads(other *Cache) {
	for _, r := range other.orderedReads {
		if _, ok := c.log[string(r.Key)]; ok {
			continue
		}
		c.orderedReads = append(c.orderedReads, r)
	}
}

// Freeze returns the content of the log.
func (c *Cache) Freeze() OrderedReadsAndWrites {
	writes := make([]WriteEntry, 0, len(c.log))
	for key, a := range c.log {
		if a.kind == accessRead {
			continue
		}
		writes = append(writes, WriteEntry{Key: StorageKey(key), Value: a.modified})
	}
	sortWrites(writes)

	reads := make([]ReadEntry, len(c.orderedReads))
	copy(reads, c.orderedReads)
	return OrderedReadsAndWrites{
		Reads:  reads,
		Writes: writes,
	}
}

func sortWrites(writes []WriteEntry) {
	sort.Slice(writes, func(i, j int) bool {
		return bytes.Compare(writes[i].Key, writes[j].Key) < 0
	})
}
