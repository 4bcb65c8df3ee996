// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package state

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/maybe"
	"github.com/stretchr/testify/require"
)

type readHint struct {
	Present bool   `serialize:"true"`
	Value   []byte `serialize:"true"`
}

// mapStorage serves reads from a plain map and records every read as a
// hint.
type mapStorage struct {
	values    map[string][]byte
	accessory map[string][]byte
	reads     []string
	failOn    string
}

func newMapStorage() *mapStorage {
	return &mapStorage{
		values:    make(map[string][]byte),
		accessory: make(map[string][]byte),
	}
}

func (m *mapStorage) Get(key StorageKey, _ maybe.Maybe[uint64], w Witness) (maybe.Maybe[[]byte], error) {
	if string(key) == m.failOn {
		return maybe.Nothing[[]byte](), errors.New("disk on fire")
	}
	m.reads = append(m.reads, string(key))
	v, ok := m.values[string(key)]
	if err := w.AddHint(&readHint{Present: ok, Value: v}); err != nil {
		return maybe.Nothing[[]byte](), err
	}
	if !ok {
		return maybe.Nothing[[]byte](), nil
	}
	return maybe.Some(v), nil
}

func (m *mapStorage) GetAccessory(key StorageKey, _ maybe.Maybe[uint64]) (maybe.Maybe[[]byte], error) {
	v, ok := m.accessory[string(key)]
	if !ok {
		return maybe.Nothing[[]byte](), nil
	}
	return maybe.Some(v), nil
}

func (*mapStorage) ComputeStateUpdate(OrderedReadsAndWrites, Witness) (Root, StateUpdate, error) {
	return Root{}, nil, nil
}

func (*mapStorage) Commit(StateUpdate, []WriteEntry) error { return nil }

func (m *mapStorage) IsEmpty() bool { return len(m.values) == 0 }

func key(s string) StorageKey { return StorageKey(s) }

func TestCacheMergeLeft(t *testing.T) {
	require := require.New(t)

	parent := NewCache()
	parent.AddRead(key("a"), maybe.Some([]byte{1}))
	parent.Set(key("b"), []byte{2})

	child := NewCache()
	child.AddRead(key("a"), maybe.Some([]byte{1}))
	child.Set(key("a"), []byte{3})
	child.AddRead(key("b"), maybe.Some([]byte{2}))
	child.Delete(key("c"))

	require.NoError(parent.MergeLeft(child))

	v, ok := parent.Lookup(key("a"))
	require.True(ok)
	require.Equal([]byte{3}, v.Value())
	require.Equal(accessReadThenWrite, parent.log["a"].kind)
	require.Equal([]byte{1}, parent.log["a"].original.Value())

	v, ok = parent.Lookup(key("c"))
	require.True(ok)
	require.True(v.IsNothing())

	frozen := parent.Freeze()
	require.Len(frozen.Writes, 3)
	require.Equal(key("a"), frozen.Writes[0].Key)
	require.Equal(key("b"), frozen.Writes[1].Key)
	require.Equal(key("c"), frozen.Writes[2].Key)
}

func TestCacheMergeConflict(t *testing.T) {
	require := require.New(t)

	parent := NewCache()
	parent.Set(key("a"), []byte{1})

	child := NewCache()
	child.AddRead(key("a"), maybe.Some([]byte{9}))

	err := parent.MergeLeft(child)
	var mergeErr *MergeError
	require.ErrorAs(err, &mergeErr)
	require.Equal(key("a"), mergeErr.Key)

	child = NewCache()
	child.AddRead(key("a"), maybe.Nothing[[]byte]())
	require.ErrorAs(parent.MergeReadsLeft(child), &mergeErr)
}

func TestCacheMergeReadsLeft(t *testing.T) {
	require := require.New(t)

	s := newMapStorage()
	s.values["a"] = []byte{1}
	w := NewArrayWitness()

	parent := NewCache()
	child := NewCache()
	_, err := child.GetOrFetch(key("a"), s, maybe.Nothing[uint64](), w)
	require.NoError(err)
	child.Set(key("a"), []byte{2})
	child.Set(key("b"), []byte{3})

	require.NoError(parent.MergeReadsLeft(child))

	v, ok := parent.Lookup(key("a"))
	require.True(ok)
	require.Equal([]byte{1}, v.Value())
	_, ok = parent.Lookup(key("b"))
	require.False(ok)

	frozen := parent.Freeze()
	require.Empty(frozen.Writes)
	require.Len(frozen.Reads, 1)
	require.Equal(key("a"), frozen.Reads[0].Key)
}

func TestWorkingSetCommitAndRevert(t *testing.T) {
	require := require.New(t)

	s := newMapStorage()
	s.values["x"] = []byte("old")
	w := NewArrayWitness()
	cp := NewStateCheckpoint(s, w)

	ws := cp.ToRevertable()
	ws.Set(key("y"), []byte("kept"))

	tx := ws.ToRevertable()
	v, err := tx.Get(key("x"))
	require.NoError(err)
	require.Equal([]byte("old"), v.Value())
	tx.Set(key("x"), []byte("new"))
	tx.AddEvent("changed", []byte("x"))
	tx.Revert()

	require.Empty(ws.TakeEvents())
	v, err = ws.Get(key("x"))
	require.NoError(err)
	require.Equal([]byte("old"), v.Value())

	tx = ws.ToRevertable()
	tx.Set(key("x"), []byte("new"))
	tx.AddEvent("changed", []byte("x"))
	tx.Commit()
	require.Len(ws.TakeEvents(), 1)

	require.Same(cp, ws.Checkpoint())

	rw, _ := cp.Freeze()
	require.Equal([]ReadEntry{{Key: key("x"), Value: maybe.Some([]byte("old"))}}, rw.Reads)
	require.Len(rw.Writes, 2)
	require.Equal(key("x"), rw.Writes[0].Key)
	require.Equal([]byte("new"), rw.Writes[0].Value.Value())
	require.Equal(key("y"), rw.Writes[1].Key)

	// The storage was only hit once for x.
	require.Equal([]string{"x"}, s.reads)
	require.Equal(1, w.Len())
}

// TestNestedScopesMatchFlatModel drives random nested scopes and checks
// them against a stack of plain overlays.
func TestNestedScopesMatchFlatModel(t *testing.T) {
	keys := []string{"a", "b", "c", "d", "e"}

	for seed := int64(0); seed < 300; seed++ {
		rng := rand.New(rand.NewSource(seed))
		storage := newMapStorage()
		for _, k := range keys {
			if rng.Intn(2) == 0 {
				storage.values[k] = []byte{byte(rng.Intn(255) + 1)}
			}
		}
		stored := func(k string) maybe.Maybe[[]byte] {
			if v, ok := storage.values[k]; ok {
				return maybe.Some(v)
			}
			return maybe.Nothing[[]byte]()
		}

		cp := NewStateCheckpoint(storage, NewArrayWitness())
		scopes := []*WorkingSet{cp.ToRevertable()}
		// overlays[0] is the checkpoint, overlays[i+1] belongs to scopes[i].
		overlays := []map[string]maybe.Maybe[[]byte]{{}, {}}
		expected := func(k string) maybe.Maybe[[]byte] {
			for i := len(overlays) - 1; i >= 0; i-- {
				if v, ok := overlays[i][k]; ok {
					return v
				}
			}
			return stored(k)
		}
		closeTop := func(commit bool) {
			top := scopes[len(scopes)-1]
			child := overlays[len(overlays)-1]
			scopes = scopes[:len(scopes)-1]
			overlays = overlays[:len(overlays)-1]
			if !commit {
				top.Revert()
				return
			}
			top.Commit()
			for k, v := range child {
				overlays[len(overlays)-1][k] = v
			}
		}

		for step := 0; step < 80; step++ {
			top := scopes[len(scopes)-1]
			k := keys[rng.Intn(len(keys))]
			switch rng.Intn(6) {
			case 0, 1:
				v, err := top.Get(key(k))
				require.NoError(t, err)
				require.Equal(t, expected(k), v, "seed %d step %d key %s", seed, step, k)
			case 2:
				v := []byte{byte(step), byte(rng.Intn(256))}
				top.Set(key(k), v)
				overlays[len(overlays)-1][k] = maybe.Some(v)
			case 3:
				top.Delete(key(k))
				overlays[len(overlays)-1][k] = maybe.Nothing[[]byte]()
			case 4:
				if len(scopes) < 5 {
					scopes = append(scopes, top.ToRevertable())
					overlays = append(overlays, map[string]maybe.Maybe[[]byte]{})
				}
			case 5:
				if len(scopes) > 1 {
					closeTop(rng.Intn(2) == 0)
				}
			}
		}
		for len(scopes) > 0 {
			closeTop(true)
		}

		rw, _ := cp.Freeze()

		writes := make(map[string]maybe.Maybe[[]byte], len(rw.Writes))
		for _, w := range rw.Writes {
			writes[string(w.Key)] = w.Value
		}
		require.Equal(t, overlays[0], writes, "seed %d", seed)

		// Every key hits storage at most once, and reads keep that order.
		require.Len(t, rw.Reads, len(storage.reads), "seed %d", seed)
		seen := make(map[string]bool)
		for i, r := range rw.Reads {
			require.Equal(t, storage.reads[i], string(r.Key), "seed %d", seed)
			require.Equal(t, stored(string(r.Key)), r.Value, "seed %d", seed)
			require.False(t, seen[string(r.Key)], "seed %d: %s read twice", seed, r.Key)
			seen[string(r.Key)] = true
		}
	}
}

func TestChildReadsParentWithoutWitness(t *testing.T) {
	require := require.New(t)

	s := newMapStorage()
	w := NewArrayWitness()
	cp := NewStateCheckpoint(s, w)
	ws := cp.ToRevertable()

	_, err := ws.Get(key("a"))
	require.NoError(err)
	ws.Set(key("b"), []byte{1})
	require.Equal(1, w.Len())

	child := ws.ToRevertable()
	v, err := child.Get(key("a"))
	require.NoError(err)
	require.True(v.IsNothing())
	v, err = child.Get(key("b"))
	require.NoError(err)
	require.Equal([]byte{1}, v.Value())
	child.Commit()

	require.Equal(1, w.Len())
	require.Equal([]string{"a"}, s.reads)
}

func TestScopeMisuse(t *testing.T) {
	require := require.New(t)

	cp := NewStateCheckpoint(newMapStorage(), NewArrayWitness())
	ws := cp.ToRevertable()
	child := ws.ToRevertable()

	require.PanicsWithValue(errChildOpen, func() { ws.Set(key("a"), nil) })
	require.PanicsWithValue(errChildOpen, func() { cp.ToRevertable() })
	require.PanicsWithValue(errNotTop, func() { child.Checkpoint() })

	child.Revert()
	require.PanicsWithValue(errClosed, func() { child.Commit() })
	ws.Commit()

	cp.Freeze()
	require.PanicsWithValue(errFrozen, func() { cp.ToRevertable() })
}

func TestStorageErrorIsSticky(t *testing.T) {
	require := require.New(t)

	s := newMapStorage()
	s.failOn = "bad"
	cp := NewStateCheckpoint(s, NewArrayWitness())
	ws := cp.ToRevertable()
	tx := ws.ToRevertable()

	_, err := tx.Get(key("bad"))
	require.Error(err)
	tx.Revert()
	ws.Commit()

	require.Error(cp.Err())
}

func TestGasAccounting(t *testing.T) {
	require := require.New(t)

	cp := NewStateCheckpoint(newMapStorage(), NewArrayWitness())
	ws := cp.ToRevertable()
	tx := ws.ToRevertable()
	_, err := tx.Get(key("a"))
	require.NoError(err)
	tx.Set(key("a"), nil)
	_, err = tx.Get(key("a"))
	require.NoError(err)
	want := GasRead + GasWrite + GasCachedRead
	require.Equal(want, tx.GasUsed())

	// Reverted work is still paid for.
	tx.Revert()
	require.Equal(want, ws.GasUsed())
	ws.Commit()
	require.Equal(want, cp.GasUsed())
}

func TestAccessoryState(t *testing.T) {
	require := require.New(t)

	s := newMapStorage()
	s.accessory["stored"] = []byte{7}
	cp := NewStateCheckpoint(s, NewArrayWitness())

	ws := cp.ToRevertable()
	ws.Accessory().SetAccessory(key("reverted"), []byte{1})
	ws.Revert()

	ws = cp.ToRevertable()
	ws.Accessory().SetAccessory(key("b"), []byte{2})
	ws.Commit()

	cp.Freeze()
	acc := cp.AccessoryState()
	v, err := acc.GetAccessory(key("stored"))
	require.NoError(err)
	require.Equal([]byte{7}, v.Value())
	acc.SetAccessory(key("a"), []byte{3})
	acc.DeleteAccessory(key("stored"))

	writes := cp.FreezeNonProvableState()
	require.Len(writes, 3)
	require.Equal(key("a"), writes[0].Key)
	require.Equal(key("b"), writes[1].Key)
	require.Equal(key("stored"), writes[2].Key)
	require.True(writes[2].Value.IsNothing())
}

type account struct {
	Balance uint64 `serialize:"true"`
	Memo    string `serialize:"true"`
}

func TestContainers(t *testing.T) {
	require := require.New(t)

	prefix := NewModulePrefix("rollup", "test")
	value := NewStateValue[uint64](prefix.Field("value"), LinearCodec[uint64]{})
	accounts := NewStateMap[ids.ShortID, account](prefix.Field("accounts"), LinearCodec[ids.ShortID]{}, LinearCodec[account]{})
	vec := NewStateVec[string](prefix.Field("vec"), LinearCodec[string]{})

	cp := NewStateCheckpoint(newMapStorage(), NewArrayWitness())
	ws := cp.ToRevertable()

	_, err := value.GetOrErr(ws)
	require.ErrorIs(err, ErrMissingValue)
	require.NoError(value.Set(ws, 42))
	got, err := value.GetOrErr(ws)
	require.NoError(err)
	require.Equal(uint64(42), got)
	value.Delete(ws)
	_, ok, err := value.Get(ws)
	require.NoError(err)
	require.False(ok)

	addr := ids.ShortID{1}
	require.NoError(accounts.Set(ws, addr, account{Balance: 10, Memo: "hi"}))
	acc, ok, err := accounts.Get(ws, addr)
	require.NoError(err)
	require.True(ok)
	require.Equal(account{Balance: 10, Memo: "hi"}, acc)
	_, ok, err = accounts.Get(ws, ids.ShortID{2})
	require.NoError(err)
	require.False(ok)
	require.NoError(accounts.Remove(ws, addr))
	_, ok, err = accounts.Get(ws, addr)
	require.NoError(err)
	require.False(ok)

	require.NoError(vec.Push(ws, "a"))
	require.NoError(vec.Push(ws, "b"))
	n, err := vec.Len(ws)
	require.NoError(err)
	require.Equal(uint64(2), n)
	require.NoError(vec.Set(ws, 0, "c"))
	e, err := vec.Get(ws, 0)
	require.NoError(err)
	require.Equal("c", e)
	_, err = vec.Get(ws, 2)
	require.ErrorIs(err, ErrOutOfRange)
	e, ok, err = vec.Pop(ws)
	require.NoError(err)
	require.True(ok)
	require.Equal("b", e)
	n, err = vec.Len(ws)
	require.NoError(err)
	require.Equal(uint64(1), n)

	height := NewAccessoryStateValue[uint64](prefix.Field("height"), LinearCodec[uint64]{})
	require.NoError(height.Set(ws.Accessory(), 5))
	h, ok, err := height.Get(ws.Accessory())
	require.NoError(err)
	require.True(ok)
	require.Equal(uint64(5), h)
}

func TestPrefixesDoNotCollide(t *testing.T) {
	require := require.New(t)

	p := NewModulePrefix("rollup", "bank")
	require.Equal("rollup/bank/", p.String())
	require.Equal("rollup/bank/balances/", p.Field("balances").String())
	require.NotEqual(
		NewStorageKey(p.Field("a"), []byte{1}),
		NewStorageKey(NewModulePrefix("rollup", "bank2").Field("a"), []byte{1}),
	)
}

func TestArrayWitness(t *testing.T) {
	require := require.New(t)

	w := NewArrayWitness()
	require.NoError(w.AddHint(&readHint{Present: true, Value: []byte{1}}))
	require.NoError(w.AddHint(&readHint{}))

	b, err := w.Bytes()
	require.NoError(err)

	replay, err := ArrayWitnessFromBytes(b)
	require.NoError(err)
	require.Equal(2, replay.Remaining())

	var h readHint
	require.NoError(replay.GetHint(&h))
	require.Equal(readHint{Present: true, Value: []byte{1}}, h)
	require.NoError(replay.GetHint(&h))
	require.False(h.Present)
	require.ErrorIs(replay.GetHint(&h), ErrWitnessExhausted)
}
