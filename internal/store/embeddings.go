package store

import (
	"bytes"
	"encoding/json"

	"github.com/dgraph-io/badger/v4"

	"github.com/localgallery/photodedupe/internal/apperrors"
	"github.com/localgallery/photodedupe/internal/model"
)

func getEmbeddingTxn(txn *badger.Txn, photoID string) (*model.Embedding, error) {
	item, err := txn.Get(recordKey(KindEmbeddings, photoID))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e model.Embedding
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &e)
	}); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEmbedding returns the embedding for photoID, or nil if it has none.
func (s *Store) GetEmbedding(photoID string) (*model.Embedding, error) {
	var e *model.Embedding
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		e, err = getEmbeddingTxn(txn, photoID)
		return err
	})
	if err != nil {
		return nil, apperrors.NewStorage(err)
	}
	return e, nil
}

// PutEmbeddingAndMarkEmbedded writes e and flips the owning photo's
// hasEmbedding flag to true in a single transaction, satisfying spec §4.3's
// invariant that the flag and the row change together.
func (s *Store) PutEmbeddingAndMarkEmbedded(e *model.Embedding) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := getEmbeddingTxn(txn, e.PhotoID)
		if err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := txn.Set(recordKey(KindEmbeddings, e.PhotoID), data); err != nil {
			return err
		}
		if existing == nil {
			if err := counterAdd(txn, KindEmbeddings, 1); err != nil {
				return err
			}
		}

		photo, err := getPhotoTxn(txn, e.PhotoID)
		if err != nil {
			return err
		}
		if photo == nil || photo.HasEmbedding {
			return nil
		}
		if err := unindexPhotoTxn(txn, photo); err != nil {
			return err
		}
		photo.HasEmbedding = true
		pdata, err := json.Marshal(photo)
		if err != nil {
			return err
		}
		if err := txn.Set(recordKey(KindPhotos, photo.ID), pdata); err != nil {
			return err
		}
		return indexPhotoTxn(txn, photo)
	})
	if err != nil {
		return apperrors.NewStorage(err)
	}
	return nil
}

// ForEachEmbeddingBatch streams every embedding in batches of batchSize.
// Order is by photoId and is not semantically significant to Grouper Phase 1,
// which only needs every (photoId, vector) pair exactly once.
func (s *Store) ForEachEmbeddingBatch(batchSize int, fn func([]*model.Embedding) error) error {
	prefix := primaryPrefix(KindEmbeddings)
	var cursor []byte
	for {
		var batch []*model.Embedding
		var lastKey []byte
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			defer it.Close()

			seek := prefix
			if cursor != nil {
				seek = cursor
			}
			for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
				key := it.Item().KeyCopy(nil)
				if cursor != nil && bytes.Equal(key, cursor) {
					continue
				}
				var e model.Embedding
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &e)
				}); err != nil {
					return err
				}
				batch = append(batch, &e)
				lastKey = key
				if len(batch) >= batchSize {
					break
				}
			}
			return nil
		})
		if err != nil {
			return apperrors.NewStorage(err)
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		cursor = lastKey
	}
}
