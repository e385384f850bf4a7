package store

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/localgallery/photodedupe/internal/apperrors"
)

// GetMetadata returns the raw string value stored under key, or "" if unset.
// Used for small process-wide facts like lastEmbeddingTime (spec §4.3 step 6).
func (s *Store) GetMetadata(key string) (string, error) {
	var val string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			val = string(v)
			return nil
		})
	})
	if err != nil {
		return "", apperrors.NewStorage(err)
	}
	return val, nil
}

// SetMetadata stores value under key.
func (s *Store) SetMetadata(key, value string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(key), []byte(value))
	})
	if err != nil {
		return apperrors.NewStorage(err)
	}
	return nil
}
