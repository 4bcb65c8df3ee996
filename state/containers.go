// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ava-labs/avalanchego/utils/maybe"

	"github.com/ava-labs/rollupvm/codec"
)

var (
	ErrMissingValue = errors.New("value is not set")
	ErrOutOfRange   = errors.New("index out of range")
)

// ValueCodec encodes the values and keys of state containers. Encodings
// must be deterministic.
type ValueCodec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(b []byte) (T, error)
}

// LinearCodec encodes with the package-wide serialization codec.
type LinearCodec[T any] struct{}

func (LinearCodec[T]) Encode(v T) ([]byte, error) {
	return codec.Marshal(&v)
}

func (LinearCodec[T]) Decode(b []byte) (T, error) {
	var v T
	err := codec.Unmarshal(b, &v)
	return v, err
}

// readerWriter is implemented by provable working sets and accessory
// views alike.
type readerWriter interface {
	get(key StorageKey) (maybe.Maybe[[]byte], error)
	set(key StorageKey, value []byte)
	delete(key StorageKey)
}

type provable struct{ w *WorkingSet }

func (p provable) get(key StorageKey) (maybe.Maybe[[]byte], error) { return p.w.Get(key) }
func (p provable) set(key StorageKey, value []byte)                { p.w.Set(key, value) }
func (p provable) delete(key StorageKey)                           { p.w.Delete(key) }

type accessory struct{ a AccessoryReaderWriter }

func (a accessory) get(key StorageKey) (maybe.Maybe[[]byte], error) { return a.a.GetAccessory(key) }
func (a accessory) set(key StorageKey, value []byte)                { a.a.SetAccessory(key, value) }
func (a accessory) delete(key StorageKey)                           { a.a.DeleteAccessory(key) }

func getValue[V any](rw readerWriter, key StorageKey, c ValueCodec[V]) (V, bool, error) {
	var zero V
	raw, err := rw.get(key)
	if err != nil || raw.IsNothing() {
		return zero, false, err
	}
	v, err := c.Decode(raw.Value())
	if err != nil {
		return zero, false, fmt.Errorf("corrupted value at %s: %w", key, err)
	}
	return v, true, nil
}

func setValue[V any](rw readerWriter, key StorageKey, c ValueCodec[V], v V) error {
	b, err := c.Encode(v)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}
	rw.set(key, b)
	return nil
}

// valueCell is a single value stored under its prefix.
type valueCell[V any] struct {
	prefix Prefix
	codec  ValueCodec[V]
}

func (v valueCell[V]) key() StorageKey { return NewStorageKey(v.prefix, nil) }

// mapCell stores each entry under prefix || encode(key).
type mapCell[K, V any] struct {
	prefix   Prefix
	keyCodec ValueCodec[K]
	codec    ValueCodec[V]
}

func (m mapCell[K, V]) key(k K) (StorageKey, error) {
	b, err := m.keyCodec.Encode(k)
	if err != nil {
		return nil, fmt.Errorf("failed to encode key: %w", err)
	}
	return NewStorageKey(m.prefix, b), nil
}

func (m mapCell[K, V]) get(rw readerWriter, k K) (V, bool, error) {
	key, err := m.key(k)
	if err != nil {
		var zero V
		return zero, false, err
	}
	return getValue(rw, key, m.codec)
}

func (m mapCell[K, V]) set(rw readerWriter, k K, v V) error {
	key, err := m.key(k)
	if err != nil {
		return err
	}
	return setValue(rw, key, m.codec, v)
}

func (m mapCell[K, V]) remove(rw readerWriter, k K) error {
	key, err := m.key(k)
	if err != nil {
		return err
	}
	rw.delete(key)
	return nil
}

// StateValue is a single provable value.
type StateValue[V any] struct {
	cell valueCell[V]
}

func NewStateValue[V any](prefix Prefix, c ValueCodec[V]) StateValue[V] {
	return StateValue[V]{cell: valueCell[V]{prefix: prefix, codec: c}}
}

func (s StateValue[V]) Get(w *WorkingSet) (V, bool, error) {
	return getValue(provable{w}, s.cell.key(), s.cell.codec)
}

// GetOrErr is [StateValue.Get] with a missing value reported as
// [ErrMissingValue].
func (s StateValue[V]) GetOrErr(w *WorkingSet) (V, error) {
	v, ok, err := s.Get(w)
	if err == nil && !ok {
		err = fmt.Errorf("%w: %s", ErrMissingValue, s.cell.prefix)
	}
	return v, err
}

func (s StateValue[V]) Set(w *WorkingSet, v V) error {
	return setValue(provable{w}, s.cell.key(), s.cell.codec, v)
}

func (s StateValue[V]) Delete(w *WorkingSet) {
	w.Delete(s.cell.key())
}

// StateMap is a provable mapping.
type StateMap[K, V any] struct {
	cell mapCell[K, V]
}

func NewStateMap[K, V any](prefix Prefix, keyCodec ValueCodec[K], c ValueCodec[V]) StateMap[K, V] {
	return StateMap[K, V]{cell: mapCell[K, V]{prefix: prefix, keyCodec: keyCodec, codec: c}}
}

func (m StateMap[K, V]) Get(w *WorkingSet, k K) (V, bool, error) {
	return m.cell.get(provable{w}, k)
}

func (m StateMap[K, V]) Set(w *WorkingSet, k K, v V) error {
	return m.cell.set(provable{w}, k, v)
}

func (m StateMap[K, V]) Remove(w *WorkingSet, k K) error {
	return m.cell.remove(provable{w}, k)
}

// vecCell stores the length under prefix || "len" and element i under
// prefix || be64(i). The two never collide since the length key is shorter.
type vecCell[V any] struct {
	prefix Prefix
	codec  ValueCodec[V]
}

var vecLenSuffix = []byte("len")

func (v vecCell[V]) lenKey() StorageKey { return NewStorageKey(v.prefix, vecLenSuffix) }

func (v vecCell[V]) elemKey(i uint64) StorageKey {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], i)
	return NewStorageKey(v.prefix, b[:])
}

func (v vecCell[V]) len(rw readerWriter) (uint64, error) {
	raw, err := rw.get(v.lenKey())
	if err != nil || raw.IsNothing() {
		return 0, err
	}
	if len(raw.Value()) != 8 {
		return 0, fmt.Errorf("corrupted length at %s", v.lenKey())
	}
	return binary.BigEndian.Uint64(raw.Value()), nil
}

func (v vecCell[V]) setLen(rw readerWriter, n uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], n)
	rw.set(v.lenKey(), b[:])
}

func (v vecCell[V]) get(rw readerWriter, i uint64) (V, error) {
	var zero V
	n, err := v.len(rw)
	if err != nil {
		return zero, err
	}
	if i >= n {
		return zero, fmt.Errorf("%w: %d >= %d", ErrOutOfRange, i, n)
	}
	e, ok, err := getValue(rw, v.elemKey(i), v.codec)
	if err == nil && !ok {
		err = fmt.Errorf("%w: element %d of %s", ErrMissingValue, i, v.prefix)
	}
	return e, err
}

func (v vecCell[V]) set(rw readerWriter, i uint64, e V) error {
	n, err := v.len(rw)
	if err != nil {
		return err
	}
	if i >= n {
		return fmt.Errorf("%w: %d >= %d", ErrOutOfRange, i, n)
	}
	return setValue(rw, v.elemKey(i), v.codec, e)
}

func (v vecCell[V]) push(rw readerWriter, e V) error {
	n, err := v.len(rw)
	if err != nil {
		return err
	}
	if err := setValue(rw, v.elemKey(n), v.codec, e); err != nil {
		return err
	}
	v.setLen(rw, n+1)
	return nil
}

func (v vecCell[V]) pop(rw readerWriter) (V, bool, error) {
	var zero V
	n, err := v.len(rw)
	if err != nil || n == 0 {
		return zero, false, err
	}
	e, err := v.get(rw, n-1)
	if err != nil {
		return zero, false, err
	}
	rw.delete(v.elemKey(n - 1))
	v.setLen(rw, n-1)
	return e, true, nil
}

// StateVec is a provable append-mostly vector.
type StateVec[V any] struct {
	cell vecCell[V]
}

func NewStateVec[V any](prefix Prefix, c ValueCodec[V]) StateVec[V] {
	return StateVec[V]{cell: vecCell[V]{prefix: prefix, codec: c}}
}

func (s StateVec[V]) Len(w *WorkingSet) (uint64, error)      { return s.cell.len(provable{w}) }
func (s StateVec[V]) Get(w *WorkingSet, i uint64) (V, error) { return s.cell.get(provable{w}, i) }
func (s StateVec[V]) Set(w *WorkingSet, i uint64, v V) error { return s.cell.set(provable{w}, i, v) }
func (s StateVec[V]) Push(w *WorkingSet, v V) error          { return s.cell.push(provable{w}, v) }
func (s StateVec[V]) Pop(w *WorkingSet) (V, bool, error)     { return s.cell.pop(provable{w}) }

// AccessoryStateValue is a single non-provable value.
type AccessoryStateValue[V any] struct {
	cell valueCell[V]
}

func NewAccessoryStateValue[V any](prefix Prefix, c ValueCodec[V]) AccessoryStateValue[V] {
	return AccessoryStateValue[V]{cell: valueCell[V]{prefix: prefix, codec: c}}
}

func (s AccessoryStateValue[V]) Get(a AccessoryReaderWriter) (V, bool, error) {
	return getValue(accessory{a}, s.cell.key(), s.cell.codec)
}

func (s AccessoryStateValue[V]) Set(a AccessoryReaderWriter, v V) error {
	return setValue(accessory{a}, s.cell.key(), s.cell.codec, v)
}

func (s AccessoryStateValue[V]) Delete(a AccessoryReaderWriter) {
	a.DeleteAccessory(s.cell.key())
}

// AccessoryStateMap is a non-provable mapping.
type AccessoryStateMap[K, V any] struct {
	cell mapCell[K, V]
}

func NewAccessoryStateMap[K, V any](prefix Prefix, keyCodec ValueCodec[K], c ValueCodec[V]) AccessoryStateMap[K, V] {
	return AccessoryStateMap[K, V]{cell: mapCell[K, V]{prefix: prefix, keyCodec: keyCodec, codec: c}}
}

func (m AccessoryStateMap[K, V]) Get(a AccessoryReaderWriter, k K) (V, bool, error) {
	return m.cell.get(accessory{a}, k)
}

func (m AccessoryStateMap[K, V]) Set(a AccessoryReaderWriter, k K, v V) error {
	return m.cell.set(accessory{a}, k, v)
}

func (m AccessoryStateMap[K, V]) Remove(a AccessoryReaderWriter, k K) error {
	return m.cell.remove(accessory{a}, k)
}

// AccessoryStateVec is a non-provable vector.
type AccessoryStateVec[V any] struct {
	cell vecCell[V]
}

func NewAccessoryStateVec[V any](prefix Prefix, c ValueCodec[V]) AccessoryStateVec[V] {
	return AccessoryStateVec[V]{cell: vecCell[V]{prefix: prefix, codec: c}}
}

func (s AccessoryStateVec[V]) Len(a AccessoryReaderWriter) (uint64, error) {
	return s.cell.len(accessory{a})
}

func (s AccessoryStateVec[V]) Get(a AccessoryReaderWriter, i uint64) (V, error) {
	return s.cell.get(accessory{a}, i)
}

func (s AccessoryStateVec[V]) Push(a AccessoryReaderWriter, v V) error {
	return s.cell.push(accessory{a}, v)
}
