// Package store implements the document store of §6: typed collections
// over an embedded key/value engine, with the natural-key upsert semantics
// and secondary indexes every pipeline in this core relies on for
// idempotency. It is backed by goleveldb, exactly as the teacher's own
// lvldb package embeds the same engine for its block/state storage — the
// spec's "document store" is, underneath, a typed layer over one ordered
// KV engine, the same shape the teacher already uses.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/jito-foundation/kobe/internal/metrics"
)

// Store is a handle shared by reference across every pipeline (spec §5:
// "all three are created at startup and passed by reference").
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if absent) the document store at dir.
func Open(dir string) (*Store, error) {
	db, err := leveldb.OpenFile(dir, &opt.Options{})
	if err != nil {
		return nil, errors.Wrap(err, "store: open")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying engine handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// collectionPrefix returns the key-space prefix for a named collection.
func collectionPrefix(collection string) string {
	return "c/" + collection + "/"
}

func primaryKey(collection, key string) []byte {
	return []byte(collectionPrefix(collection) + key)
}

func indexKey(collection, index, indexValue, key string) []byte {
	return []byte(fmt.Sprintf("i/%s/%s/%s/%s", collection, index, indexValue, key))
}

func indexPrefix(collection, index, indexValue string) []byte {
	return []byte(fmt.Sprintf("i/%s/%s/%s/", collection, index, indexValue))
}

// Put performs a single natural-key upsert, writing the document plus any
// declared secondary index entries in one batch. Each upsert is
// individually atomic (spec §5); bulk upsert callers are responsible for
// chunking, not for cross-document atomicity.
func (s *Store) Put(collection, key string, doc any, indexes map[string]string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "store: marshal")
	}
	batch := new(leveldb.Batch)
	batch.Put(primaryKey(collection, key), data)
	for index, value := range indexes {
		batch.Put(indexKey(collection, index, value, key), []byte(key))
	}
	if err := s.db.Write(batch, nil); err != nil {
		metrics.StoreWriteErrors.WithLabelValues(collection).Inc()
		return errors.Wrap(err, "store: write")
	}
	metrics.StoreUpserts.WithLabelValues(collection).Inc()
	return nil
}

// Get fetches a single document by its natural key. ok is false when the
// key does not exist (never an error — "account does not exist" and
// "store error" must stay distinguishable, the same contract the spec
// requires of ChainGateway's batched reads).
func (s *Store) Get(collection, key string, out any) (bool, error) {
	data, err := s.db.Get(primaryKey(collection, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "store: get")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, errors.Wrap(err, "store: unmarshal")
	}
	return true, nil
}

// ExistsByIndex reports whether any document in collection is registered
// under index/indexValue — used by RewardAttributor's idempotence check
// ("no-op if the staker-rewards collection already has any row for that
// epoch", scoped by the caller passing an epoch-prefixed index lookup).
func (s *Store) ExistsByIndex(collection, index, indexValue string) (bool, error) {
	iter := s.db.NewIterator(util.BytesPrefix(indexPrefix(collection, index, indexValue)), nil)
	defer iter.Release()
	has := iter.Next()
	return has, iter.Error()
}

// ScanIndex returns every primary key registered under index/value, sorted
// by the key's natural encoding (ascending), used for the
// steward_events(slot) secondary index.
func (s *Store) ScanIndex(collection, index, indexValue string) ([]string, error) {
	iter := s.db.NewIterator(util.BytesPrefix(indexPrefix(collection, index, indexValue)), nil)
	defer iter.Release()
	var keys []string
	for iter.Next() {
		keys = append(keys, string(iter.Value()))
	}
	return keys, iter.Error()
}

// BulkPut upserts a slice of (key, doc, indexes) triples in chunks with a
// small inter-batch sleep, matching EpochWriter's "chunks of 100 with a
// small inter-batch sleep" contract (§4.2). sleep is injected so tests can
// pass nil to skip it.
type BulkItem struct {
	Key     string
	Doc     any
	Indexes map[string]string
}

func (s *Store) BulkPut(collection string, items []BulkItem, chunkSize int, sleep func()) error {
	if chunkSize <= 0 {
		chunkSize = 100
	}
	for start := 0; start < len(items); start += chunkSize {
		end := start + chunkSize
		if end > len(items) {
			end = len(items)
		}
		batch := new(leveldb.Batch)
		for _, item := range items[start:end] {
			data, err := json.Marshal(item.Doc)
			if err != nil {
				return errors.Wrap(err, "store: marshal")
			}
			batch.Put(primaryKey(collection, item.Key), data)
			for index, value := range item.Indexes {
				batch.Put(indexKey(collection, index, value, item.Key), []byte(item.Key))
			}
		}
		if err := s.db.Write(batch, nil); err != nil {
			metrics.StoreWriteErrors.WithLabelValues(collection).Inc()
			return errors.Wrapf(err, "store: bulk write chunk [%d:%d)", start, end)
		}
		metrics.StoreUpserts.WithLabelValues(collection).Add(float64(end - start))
		if sleep != nil && end < len(items) {
			sleep()
		}
	}
	return nil
}

// ScanCollection returns every raw document in collection for callers that
// need a full-table read (e.g. APY's "latest 10 distinct epochs" read
// aggregation).
func (s *Store) ScanCollection(collection string, fn func(key string, data []byte) error) error {
	prefix := []byte(collectionPrefix(collection))
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	for iter.Next() {
		key := string(iter.Key()[len(prefix):])
		if err := fn(key, iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}
