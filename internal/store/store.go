// Package store is the embedded, transactional, indexed structured store
// (spec §4.1). It is built on BadgerDB, an embedded key-value engine, the way
// the pack's procedural-memory store embeds it: one process, one data
// directory, ACID transactions, no server to run or containerize.
//
// Every exported operation is streaming, counted, or paginated. There is
// deliberately no "get all photos" or "get all embeddings" — any caller that
// needs the whole store must use one of the ForEach*Batch or Page* operations.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/localgallery/photodedupe/internal/apperrors"
)

// Kind names one of the store's named object stores.
type Kind string

const (
	KindPhotos     Kind = "photos"
	KindEmbeddings Kind = "embeddings"
	KindGroups     Kind = "groups"
	KindSelections Kind = "selectedPhotos"
)

// Direction controls PagePhotos/PageGroups ordering.
type Direction int

const (
	Descending Direction = iota
	Ascending
)

// Store wraps a badger.DB and enforces the schema described in spec §4.1.
type Store struct {
	db *badger.DB
}

// Open opens (creating if necessary) the store at path and runs any pending
// schema migrations.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, apperrors.NewStorage(fmt.Errorf("open badger at %s: %w", path, err))
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return apperrors.NewStorage(err)
	}
	return nil
}

// counterGet reads the O(1) counter for kind, defaulting to 0.
func counterGet(txn *badger.Txn, kind Kind) (int64, error) {
	item, err := txn.Get(counterKey(kind))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int64
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &n)
	})
	return n, err
}

func counterSet(txn *badger.Txn, kind Kind, n int64) error {
	val, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return txn.Set(counterKey(kind), val)
}

func counterAdd(txn *badger.Txn, kind Kind, delta int64) error {
	if delta == 0 {
		return nil
	}
	n, err := counterGet(txn, kind)
	if err != nil {
		return err
	}
	return counterSet(txn, kind, n+delta)
}

// Count returns the O(1) counter for kind, falling back to a native prefix
// scan if the counter is somehow missing (spec §4.1 "fallback to native
// count()").
func (s *Store) Count(kind Kind) (int64, error) {
	var n int64
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(counterKey(kind))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &n)
		})
	})
	if err != nil {
		return 0, apperrors.NewStorage(err)
	}
	if found {
		return n, nil
	}

	n, err = s.nativeCount(kind)
	if err != nil {
		return 0, apperrors.NewStorage(err)
	}
	return n, nil
}

func (s *Store) nativeCount(kind Kind) (int64, error) {
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = primaryPrefix(kind)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// ClearAll wipes every named store and resets every counter. Used by clearAll
// in spec §4.1.
func (s *Store) ClearAll() error {
	if err := s.db.DropAll(); err != nil {
		return apperrors.NewStorage(err)
	}
	return nil
}
