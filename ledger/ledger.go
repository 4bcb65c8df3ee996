// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ava-labs/avalanchego/cache"
	"github.com/ava-labs/avalanchego/cache/metercacher"
	"github.com/ava-labs/avalanchego/database"
	"github.com/ava-labs/avalanchego/database/prefixdb"
	"github.com/ava-labs/avalanchego/database/versiondb"
	"github.com/ava-labs/avalanchego/ids"
	"github.com/ava-labs/avalanchego/utils/hashing"
	"github.com/prometheus/client_golang/prometheus"

	log "github.com/inconshreveable/log15"

	"github.com/ava-labs/rollupvm/codec"
)

const subscriberBuffer = 64

var (
	// These are prefixes for db keys.
	// Each table gets its own prefix.
	slotPrefix        = []byte("slot")
	slotByHashPrefix  = []byte("slot_hash")
	batchPrefix       = []byte("batch")
	batchByHashPrefix = []byte("batch_hash")
	txPrefix          = []byte("tx")
	txByHashPrefix    = []byte("tx_hash")
	eventPrefix       = []byte("event")
	eventByKeyPrefix  = []byte("event_key")
	witnessPrefix     = []byte("witness")
	metaPrefix        = []byte("meta")

	headKey = []byte("head")

	ErrNotFound         = database.ErrNotFound
	ErrNonSequential    = errors.New("slot number is not the next one")
	errUnknownQueryMode = errors.New("unknown query mode")
	errRangeTooLarge    = errors.New("requested range is too large")
)

var DefaultConfig = Config{
	SlotCacheSize: 1024,
	MaxRange:      100,
}

type Config struct {
	SlotCacheSize int
	// MaxRange bounds the number of slots a range query returns.
	MaxRange uint64
}

// head holds the next number of every table.
type head struct {
	Slot  uint64 `serialize:"true"`
	Batch uint64 `serialize:"true"`
	Tx    uint64 `serialize:"true"`
	Event uint64 `serialize:"true"`
}

// DB stores what applying each slot produced: receipts, events and
// witnesses, indexed by number and by hash. Slots must be committed in
// order, starting at 1.
type DB struct {
	config Config
	log    log.Logger

	baseDB      *versiondb.Database
	slotDB      database.Database
	slotHashDB  database.Database
	batchDB     database.Database
	batchHashDB database.Database
	txDB        database.Database
	txHashDB    database.Database
	eventDB     database.Database
	eventKeyDB  database.Database
	witnessDB   database.Database
	metaDB      database.Database

	// slotCache holds decoded slots by number
	slotCache cache.Cacher[uint64, *StoredSlot]

	lock sync.RWMutex
	next head

	subsLock sync.Mutex
	subs     map[uint64]chan uint64
	nextSub  uint64
}

func New(db database.Database, config Config, registerer prometheus.Registerer) (*DB, error) {
	slotCache, err := metercacher.New[uint64, *StoredSlot](
		"ledger_slot_cache",
		registerer,
		&cache.LRU[uint64, *StoredSlot]{Size: config.SlotCacheSize},
	)
	if err != nil {
		return nil, err
	}

	baseDB := versiondb.New(db)
	l := &DB{
		config:      config,
		log:         log.New("module", "ledger"),
		baseDB:      baseDB,
		slotDB:      prefixdb.New(slotPrefix, baseDB),
		slotHashDB:  prefixdb.New(slotByHashPrefix, baseDB),
		batchDB:     prefixdb.New(batchPrefix, baseDB),
		batchHashDB: prefixdb.New(batchByHashPrefix, baseDB),
		txDB:        prefixdb.New(txPrefix, baseDB),
		txHashDB:    prefixdb.New(txByHashPrefix, baseDB),
		eventDB:     prefixdb.New(eventPrefix, baseDB),
		eventKeyDB:  prefixdb.New(eventByKeyPrefix, baseDB),
		witnessDB:   prefixdb.New(witnessPrefix, baseDB),
		metaDB:      prefixdb.New(metaPrefix, baseDB),
		slotCache:   slotCache,
		subs:        make(map[uint64]chan uint64),
	}

	b, err := l.metaDB.Get(headKey)
	switch {
	case err == database.ErrNotFound:
		l.next = head{Slot: 1}
	case err != nil:
		return nil, err
	default:
		if err := codec.Unmarshal(b, &l.next); err != nil {
			return nil, fmt.Errorf("failed to decode ledger head: %w", err)
		}
	}
	return l, nil
}

func numberKey(n uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], n)
	return k[:]
}

// eventKey indexes an event under the hash of its key so that no key is
// a prefix of another.
func eventKey(key []byte, n uint64) []byte {
	h := hashing.ComputeHash256(key)
	return append(h, numberKey(n)...)
}

func put(db database.KeyValueWriter, key []byte, v interface{}) error {
	b, err := codec.Marshal(v)
	if err != nil {
		return err
	}
	return db.Put(key, b)
}

func get(db database.KeyValueReader, key []byte, dest interface{}) error {
	b, err := db.Get(key)
	if err != nil {
		return err
	}
	return codec.Unmarshal(b, dest)
}

// putIndex points [hash] at [n] unless an earlier item has the same hash.
func putIndex(db database.Database, hash ids.ID, n uint64) error {
	has, err := db.Has(hash[:])
	if err != nil || has {
		return err
	}
	return db.Put(hash[:], numberKey(n))
}

// Head returns the number of the last committed slot, or false if none
// was committed.
func (l *DB) Head() (uint64, bool) {
	l.lock.RLock()
	defer l.lock.RUnlock()

	return l.next.Slot - 1, l.next.Slot > 1
}

// CommitSlot persists [s] atomically and notifies subscribers.
func (l *DB) CommitSlot(s *SlotCommit) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	if s.Number != l.next.Slot {
		return fmt.Errorf("%w: expected %d, got %d", ErrNonSequential, l.next.Slot, s.Number)
	}

	next := l.next
	slot := &StoredSlot{
		Number:    s.Number,
		Hash:      s.DaHash,
		StateRoot: ids.ID(s.StateRoot),
		Batches:   Range{Start: next.Batch},
	}
	for _, batchReceipt := range s.Batches {
		batch := &StoredBatch{
			Number:  next.Batch,
			Hash:    batchReceipt.BatchHash,
			Slot:    s.Number,
			Sender:  batchReceipt.Sender,
			Outcome: batchReceipt.Outcome,
			Txs:     Range{Start: next.Tx},
		}
		for _, txReceipt := range batchReceipt.TxReceipts {
			tx := &StoredTransaction{
				Number:  next.Tx,
				Hash:    txReceipt.TxHash,
				Batch:   batch.Number,
				Body:    txReceipt.Body,
				Effect:  txReceipt.Effect,
				GasUsed: txReceipt.GasUsed,
				Events:  Range{Start: next.Event},
			}
			for _, e := range txReceipt.Events {
				event := &StoredEvent{
					Number: next.Event,
					Tx:     tx.Number,
					Key:    e.Key,
					Value:  e.Value,
				}
				if err := put(l.eventDB, numberKey(event.Number), event); err != nil {
					return l.abort(err)
				}
				if err := l.eventKeyDB.Put(eventKey(e.Key, event.Number), nil); err != nil {
					return l.abort(err)
				}
				next.Event++
			}
			tx.Events.End = next.Event

			if err := put(l.txDB, numberKey(tx.Number), tx); err != nil {
				return l.abort(err)
			}
			if err := putIndex(l.txHashDB, tx.Hash, tx.Number); err != nil {
				return l.abort(err)
			}
			next.Tx++
		}
		batch.Txs.End = next.Tx

		if err := put(l.batchDB, numberKey(batch.Number), batch); err != nil {
			return l.abort(err)
		}
		if err := putIndex(l.batchHashDB, batch.Hash, batch.Number); err != nil {
			return l.abort(err)
		}
		next.Batch++
	}
	slot.Batches.End = next.Batch

	if err := put(l.slotDB, numberKey(slot.Number), slot); err != nil {
		return l.abort(err)
	}
	if err := putIndex(l.slotHashDB, slot.Hash, slot.Number); err != nil {
		return l.abort(err)
	}
	if len(s.Witness) > 0 {
		if err := l.witnessDB.Put(numberKey(slot.Number), s.Witness); err != nil {
			return l.abort(err)
		}
	}
	next.Slot++
	if err := put(l.metaDB, headKey, &next); err != nil {
		return l.abort(err)
	}
	if err := l.baseDB.Commit(); err != nil {
		return l.abort(err)
	}

	l.next = next
	l.slotCache.Put(slot.Number, slot)
	l.log.Debug("committed slot",
		"number", slot.Number,
		"batches", slot.Batches.Len(),
		"root", slot.StateRoot,
	)
	l.notify(slot.Number)
	return nil
}

func (l *DB) abort(err error) error {
	l.baseDB.Abort()
	return err
}

// Close closes the underlying database.
func (l *DB) Close() error {
	l.subsLock.Lock()
	for id, ch := range l.subs {
		close(ch)
		delete(l.subs, id)
	}
	l.subsLock.Unlock()
	return l.baseDB.Close()
}

// Subscribe returns a channel receiving the number of every slot committed
// from now on, and a function to stop the subscription. A subscriber that
// falls behind misses numbers and should catch up with [Head].
func (l *DB) Subscribe() (<-chan uint64, func()) {
	l.subsLock.Lock()
	defer l.subsLock.Unlock()

	id := l.nextSub
	l.nextSub++
	ch := make(chan uint64, subscriberBuffer)
	l.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.subsLock.Lock()
			defer l.subsLock.Unlock()

			if ch, ok := l.subs[id]; ok {
				close(ch)
				delete(l.subs, id)
			}
		})
	}
}

func (l *DB) notify(n uint64) {
	l.subsLock.Lock()
	defer l.subsLock.Unlock()

	for id, ch := range l.subs {
		select {
		case ch <- n:
		default:
			l.log.Warn("dropped slot notification", "subscriber", id, "slot", n)
		}
	}
}
