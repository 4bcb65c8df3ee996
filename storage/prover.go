// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/database/versiondb"
	"github.com/ava-labs/avalanchego/utils/maybe"
	lru "github.com/hashicorp/golang-lru/v2"
	log "github.com/inconshreveable/log15"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ava-labs/rollupvm/codec"
	"github.com/ava-labs/rollupvm/jmt"
	"github.com/ava-labs/rollupvm/spec"
	"github.com/ava-labs/rollupvm/state"
)

const DefaultNodeCacheSize = 65536

var (
	// Each table lives under its own prefix of the base database.
	nodePrefix      = []byte("node")
	valuePrefix     = []byte("value")
	preimagePrefix  = []byte("preimage")
	rootPrefix      = []byte("root")
	accessoryPrefix = []byte("accessory")

	ErrFutureVersion    = errors.New("version is not committed yet")
	ErrInconsistentRead = errors.New("read does not match the committed state")
	errForeignUpdate    = errors.New("state update was not produced by this storage")
	errStaleUpdate      = errors.New("state update does not follow the latest version")
	errDoubleCommit     = errors.New("state update was already committed")
	errCorruptedRoot    = errors.New("corrupted root table")

	_ state.Storage  = (*ProverStorage)(nil)
	_ jmt.TreeReader = (*ProverStorage)(nil)
)

type Config struct {
	NodeCacheSize int
	Namespace     string
}

// ProverStorage is the native storage. It keeps every version of the tree
// and of the values so that any committed version can be read back.
type ProverStorage struct {
	hasher spec.Hasher

	baseDB      *versiondb.Database
	nodeDB      database.Database
	valueDB     database.Database
	preimageDB  database.Database
	rootDB      database.Database
	accessoryDB database.Database

	nodeCache *lru.Cache[jmt.NodeKey, *jmt.Node]
	tree      *jmt.Tree
	metrics   *metrics

	// lock guards [latest] and serializes commits with readers.
	lock   sync.RWMutex
	latest uint64
}

type proverUpdate struct {
	version   uint64
	tree      *jmt.TreeUpdate
	keyHashes []jmt.KeyHash
	writes    []state.WriteEntry
	committed bool
}

func (u *proverUpdate) Version() uint64 { return u.version }

// NewProverStorage opens the storage kept in [db]. The latest version is
// recovered from the root table.
func NewProverStorage(db database.Database, hasher spec.Hasher, cfg Config, reg prometheus.Registerer) (*ProverStorage, error) {
	if cfg.NodeCacheSize <= 0 {
		cfg.NodeCacheSize = DefaultNodeCacheSize
	}
	nodeCache, err := lru.New[jmt.NodeKey, *jmt.Node](cfg.NodeCacheSize)
	if err != nil {
		return nil, err
	}
	m, err := newMetrics(cfg.Namespace, reg)
	if err != nil {
		return nil, err
	}

	baseDB := versiondb.New(db)
	s := &ProverStorage{
		hasher:      hasher,
		baseDB:      baseDB,
		nodeDB:      prefixdb.New(nodePrefix, baseDB),
		valueDB:     prefixdb.New(valuePrefix, baseDB),
		preimageDB:  prefixdb.New(preimagePrefix, baseDB),
		rootDB:      prefixdb.New(rootPrefix, baseDB),
		accessoryDB: prefixdb.New(accessoryPrefix, baseDB),
		nodeCache:   nodeCache,
		metrics:     m,
	}
	s.tree = jmt.New(s, hasher)

	latest, err := lastVersion(s.rootDB)
	if err != nil {
		return nil, err
	}
	s.latest = latest
	m.latestVersion.Set(float64(latest))
	log.Info("opened prover storage", "version", latest, "hasher", hasher.Name())
	return s, nil
}

// lastVersion scans the root table. A root is written in the same batch as
// its nodes, so the highest root found is the last complete version.
func lastVersion(rootDB database.Database) (uint64, error) {
	it := rootDB.NewIterator()
	defer it.Release()

	var latest uint64
	for it.Next() {
		key := it.Key()
		if len(key) != 8 {
			return 0, fmt.Errorf("%w: key %x", errCorruptedRoot, key)
		}
		if v := binary.BigEndian.Uint64(key); v > latest {
			latest = v
		}
	}
	return latest, it.Error()
}

// LatestVersion is the last committed version, 0 if nothing was committed.
func (s *ProverStorage) LatestVersion() uint64 {
	s.lock.RLock()
	defer s.lock.RUnlock()

	return s.latest
}

func (s *ProverStorage) IsEmpty() bool {
	return s.LatestVersion() == 0
}

func (s *ProverStorage) resolve(version maybe.Maybe[uint64]) (uint64, error) {
	latest := s.LatestVersion()
	if version.IsNothing() {
		return latest, nil
	}
	if v := version.Value(); v > latest {
		return 0, fmt.Errorf("%w: %d > %d", ErrFutureVersion, v, latest)
	}
	return version.Value(), nil
}

// getVersioned returns the last entry for [key] written at or before
// [version]. Keys of a table all have the same length.
func getVersioned(db database.Database, key []byte, version uint64) (maybe.Maybe[[]byte], error) {
	if version == 0 {
		return maybe.Nothing[[]byte](), nil
	}
	it := db.NewIteratorWithStartAndPrefix(versionedKey(key, version), key)
	defer it.Release()

	if !it.Next() {
		return maybe.Nothing[[]byte](), it.Error()
	}
	return decodeEntry(it.Value())
}

func (s *ProverStorage) Get(key state.StorageKey, version maybe.Maybe[uint64], w state.Witness) (maybe.Maybe[[]byte], error) {
	v, err := s.resolve(version)
	if err != nil {
		return maybe.Nothing[[]byte](), err
	}
	kh := jmt.HashKey(s.hasher, key)
	value, err := getVersioned(s.valueDB, kh[:], v)
	if err != nil {
		return maybe.Nothing[[]byte](), err
	}
	s.metrics.reads.Inc()

	hint := &valueHint{Present: value.HasValue()}
	if hint.Present {
		hint.Value = value.Value()
	}
	if err := w.AddHint(hint); err != nil {
		return maybe.Nothing[[]byte](), err
	}
	return value, nil
}

func (s *ProverStorage) GetAccessory(key state.StorageKey, version maybe.Maybe[uint64]) (maybe.Maybe[[]byte], error) {
	v, err := s.resolve(version)
	if err != nil {
		return maybe.Nothing[[]byte](), err
	}
	kh := s.hasher.Hash(key)
	return getVersioned(s.accessoryDB, kh[:], v)
}

func (s *ProverStorage) GetNode(key jmt.NodeKey) (*jmt.Node, error) {
	if n, ok := s.nodeCache.Get(key); ok {
		s.metrics.nodeCacheHits.Inc()
		return n, nil
	}
	s.metrics.nodeCacheMiss.Inc()

	b, err := s.nodeDB.Get(nodeDBKey(key))
	if err == database.ErrNotFound {
		return nil, fmt.Errorf("%w: %+v", jmt.ErrNodeNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	n := &jmt.Node{}
	if err := codec.Unmarshal(b, n); err != nil {
		return nil, err
	}
	s.nodeCache.Add(key, n)
	return n, nil
}

func (s *ProverStorage) GetRoot(version uint64) (jmt.Child, error) {
	b, err := s.rootDB.Get(versionKey(version))
	if err == database.ErrNotFound {
		return jmt.Child{}, fmt.Errorf("%w: version %d", jmt.ErrRootNotFound, version)
	}
	if err != nil {
		return jmt.Child{}, err
	}
	var root jmt.Child
	err = codec.Unmarshal(b, &root)
	return root, err
}

// GetRootHash returns the state root at [version].
func (s *ProverStorage) GetRootHash(version uint64) (state.Root, error) {
	if version > s.LatestVersion() {
		return state.Root{}, fmt.Errorf("%w: %d", ErrFutureVersion, version)
	}
	root, err := s.tree.GetRootHash(version)
	return state.Root(root), err
}

// GetPreimage returns the storage key that hashes to [kh], if it was
// ever written.
func (s *ProverStorage) GetPreimage(kh jmt.KeyHash) (state.StorageKey, error) {
	return s.preimageDB.Get(kh[:])
}

func (s *ProverStorage) ComputeStateUpdate(rw state.OrderedReadsAndWrites, w state.Witness) (state.Root, state.StateUpdate, error) {
	latest := s.LatestVersion()
	prevRoot, err := s.tree.GetRootHash(latest)
	if err != nil {
		return state.Root{}, nil, err
	}
	if err := w.AddHint(&rootHint{Root: prevRoot}); err != nil {
		return state.Root{}, nil, err
	}

	for _, r := range rw.Reads {
		kh := jmt.HashKey(s.hasher, r.Key)
		proof, err := s.tree.GetWithProof(kh, latest)
		if err != nil {
			return state.Root{}, nil, err
		}
		if err := proof.Verify(s.hasher, prevRoot, kh, r.Value); err != nil {
			// A read the tree disagrees with means the working set is corrupt.
			panic(fmt.Errorf("%w: key %s: %v", ErrInconsistentRead, r.Key, err))
		}
		if err := w.AddHint(proof); err != nil {
			return state.Root{}, nil, err
		}
	}

	update := &proverUpdate{
		version:   latest + 1,
		keyHashes: make([]jmt.KeyHash, len(rw.Writes)),
		writes:    rw.Writes,
	}
	updates := make([]jmt.Update, len(rw.Writes))
	for i, wr := range rw.Writes {
		kh := jmt.HashKey(s.hasher, wr.Key)
		update.keyHashes[i] = kh
		updates[i] = jmt.Update{Key: kh, Value: wr.Value}
	}
	newRoot, proof, treeUpdate, err := s.tree.PutValueSetWithProof(updates, update.version)
	if err != nil {
		return state.Root{}, nil, err
	}
	update.tree = treeUpdate

	if err := w.AddHint(proof); err != nil {
		return state.Root{}, nil, err
	}
	if err := w.AddHint(&rootHint{Root: newRoot}); err != nil {
		return state.Root{}, nil, err
	}
	return state.Root(newRoot), update, nil
}

func (s *ProverStorage) Commit(update state.StateUpdate, accessory []state.WriteEntry) error {
	u, ok := update.(*proverUpdate)
	if !ok {
		return fmt.Errorf("%w: %T", errForeignUpdate, update)
	}
	start := time.Now()

	s.lock.Lock()
	defer s.lock.Unlock()

	switch {
	case u.committed:
		return errDoubleCommit
	case u.version != s.latest+1:
		return fmt.Errorf("%w: update %d, latest %d", errStaleUpdate, u.version, s.latest)
	}

	if err := s.write(u, accessory); err != nil {
		s.baseDB.Abort()
		return err
	}
	if err := s.baseDB.Commit(); err != nil {
		s.baseDB.Abort()
		return err
	}

	for _, entry := range u.tree.Nodes {
		s.nodeCache.Add(entry.Key, entry.Node)
	}
	u.committed = true
	s.latest = u.version

	s.metrics.nodesWritten.Add(float64(len(u.tree.Nodes)))
	s.metrics.latestVersion.Set(float64(u.version))
	s.metrics.commitDuration.Observe(time.Since(start).Seconds())
	log.Debug("committed state",
		"version", u.version,
		"root", fmt.Sprintf("%x", u.tree.Root.Hash),
		"writes", len(u.writes),
		"nodes", len(u.tree.Nodes),
		"accessory", len(accessory),
	)
	return nil
}

// write stages [u] in the version database. The root goes last.
func (s *ProverStorage) write(u *proverUpdate, accessory []state.WriteEntry) error {
	for _, entry := range u.tree.Nodes {
		b, err := codec.Marshal(entry.Node)
		if err != nil {
			return err
		}
		if err := s.nodeDB.Put(nodeDBKey(entry.Key), b); err != nil {
			return err
		}
	}
	for i, wr := range u.writes {
		kh := u.keyHashes[i]
		if err := s.valueDB.Put(versionedKey(kh[:], u.version), encodeEntry(wr.Value)); err != nil {
			return err
		}
		if err := s.preimageDB.Put(kh[:], wr.Key); err != nil {
			return err
		}
	}
	for _, wr := range accessory {
		kh := s.hasher.Hash(wr.Key)
		if err := s.accessoryDB.Put(versionedKey(kh[:], u.version), encodeEntry(wr.Value)); err != nil {
			return err
		}
	}
	b, err := codec.Marshal(&u.tree.Root)
	if err != nil {
		return err
	}
	return s.rootDB.Put(versionKey(u.version), b)
}

// Close closes the underlying database.
func (s *ProverStorage) Close() error {
	return s.baseDB.Close()
}
