package store

import (
	"bytes"
	"encoding/json"

	"github.com/dgraph-io/badger/v4"

	"github.com/localgallery/photodedupe/internal/apperrors"
	"github.com/localgallery/photodedupe/internal/model"
)

func groupIDOf(p *model.Photo) string {
	if p.GroupID == nil {
		return ""
	}
	return *p.GroupID
}

// PutPhoto upserts one photo. See PutPhotosBatch.
func (s *Store) PutPhoto(p *model.Photo) error {
	return s.PutPhotosBatch([]*model.Photo{p})
}

// PutPhotosBatch upserts photos within one transaction, incrementing the
// photos counter by net-new inserts only (spec §4.1 put/putBatch).
func (s *Store) PutPhotosBatch(photos []*model.Photo) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var netNew int64
		for _, p := range photos {
			existing, err := getPhotoTxn(txn, p.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				if err := unindexPhotoTxn(txn, existing); err != nil {
					return err
				}
			} else {
				netNew++
			}

			data, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if err := txn.Set(recordKey(KindPhotos, p.ID), data); err != nil {
				return err
			}
			if err := indexPhotoTxn(txn, p); err != nil {
				return err
			}
		}
		return counterAdd(txn, KindPhotos, netNew)
	})
	if err != nil {
		return apperrors.NewStorage(err)
	}
	return nil
}

func indexPhotoTxn(txn *badger.Txn, p *model.Photo) error {
	groupID := groupIDOf(p)
	for _, key := range [][]byte{
		photoTimestampIndexKey(p.Timestamp, p.ID),
		photoHasEmbeddingIndexKey(p.HasEmbedding, p.ID),
		photoGroupIndexKey(groupID, p.ID),
		photoEmbGroupIndexKey(p.HasEmbedding, groupID, p.ID),
	} {
		if err := txn.Set(key, []byte{}); err != nil {
			return err
		}
	}
	return nil
}

func unindexPhotoTxn(txn *badger.Txn, p *model.Photo) error {
	groupID := groupIDOf(p)
	for _, key := range [][]byte{
		photoTimestampIndexKey(p.Timestamp, p.ID),
		photoHasEmbeddingIndexKey(p.HasEmbedding, p.ID),
		photoGroupIndexKey(groupID, p.ID),
		photoEmbGroupIndexKey(p.HasEmbedding, groupID, p.ID),
	} {
		if err := txn.Delete(key); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
	}
	return nil
}

func getPhotoTxn(txn *badger.Txn, id string) (*model.Photo, error) {
	item, err := txn.Get(recordKey(KindPhotos, id))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var p model.Photo
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &p)
	}); err != nil {
		return nil, err
	}
	return &p, nil
}

// CountMissingEmbedding returns the number of photos with hasEmbedding =
// false, using the hasEmbedding secondary index (spec §4.3 step 1).
func (s *Store) CountMissingEmbedding() (int64, error) {
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := photoHasEmbeddingIndexPrefix(false)
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, apperrors.NewStorage(err)
	}
	return n, nil
}

// GetPhoto returns the photo with id, or nil if it does not exist.
func (s *Store) GetPhoto(id string) (*model.Photo, error) {
	var p *model.Photo
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		p, err = getPhotoTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, apperrors.NewStorage(err)
	}
	return p, nil
}

// GetPhotosByIDs returns photos in the order requested; ids with no matching
// record are omitted rather than erroring (spec §4.1 getByIds).
func (s *Store) GetPhotosByIDs(ids []string) ([]*model.Photo, error) {
	out := make([]*model.Photo, 0, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			p, err := getPhotoTxn(txn, id)
			if err != nil {
				return err
			}
			if p != nil {
				out = append(out, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStorage(err)
	}
	return out, nil
}

// DeletePhotosBatch removes photos (and cascades to their embeddings),
// decrementing both counters by observed deletions.
func (s *Store) DeletePhotosBatch(ids []string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var photosDeleted, embeddingsDeleted int64
		for _, id := range ids {
			existing, err := getPhotoTxn(txn, id)
			if err != nil {
				return err
			}
			if existing == nil {
				continue
			}
			if err := unindexPhotoTxn(txn, existing); err != nil {
				return err
			}
			if err := txn.Delete(recordKey(KindPhotos, id)); err != nil {
				return err
			}
			photosDeleted++

			emb, err := getEmbeddingTxn(txn, id)
			if err != nil {
				return err
			}
			if emb != nil {
				if err := txn.Delete(recordKey(KindEmbeddings, id)); err != nil {
					return err
				}
				embeddingsDeleted++
			}
		}
		if err := counterAdd(txn, KindPhotos, -photosDeleted); err != nil {
			return err
		}
		return counterAdd(txn, KindEmbeddings, -embeddingsDeleted)
	})
	if err != nil {
		return apperrors.NewStorage(err)
	}
	return nil
}

// PagePhotos returns up to limit photos after skipping offset, ordered by
// timestamp. direction controls ascending vs descending; §6A specifies
// descending-timestamp as the UI default. Returns an empty slice (not an
// error) once offset runs past the end of the store.
func (s *Store) PagePhotos(offset, limit int, direction Direction) ([]*model.Photo, error) {
	var out []*model.Photo
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := photoTimestampIndexPrefix()
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		opts.Reverse = direction == Descending
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if opts.Reverse {
			seek = append(append([]byte{}, prefix...), 0xFF)
		}

		skipped := 0
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if len(out) >= limit {
				break
			}
			id := idFromIndexKey(it.Item().KeyCopy(nil))
			p, err := getPhotoTxn(txn, id)
			if err != nil {
				return err
			}
			if p != nil {
				out = append(out, p)
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStorage(err)
	}
	if out == nil {
		out = []*model.Photo{}
	}
	return out, nil
}

// ForEachPhotoBatch streams every photo, timestamp ascending, in batches of
// batchSize, awaiting fn between batches. Memory is O(batchSize); cursor
// state is a single key. EmbeddingPipeline and Grouper Phase 2 both rely on
// this ordering to get stable, deterministic iteration (spec §4.3, §4.5).
func (s *Store) ForEachPhotoBatch(batchSize int, fn func([]*model.Photo) error) error {
	prefix := photoTimestampIndexPrefix()
	var cursor []byte
	for {
		var batch []*model.Photo
		var lastKey []byte
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
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
				id := idFromIndexKey(key)
				p, err := getPhotoTxn(txn, id)
				if err != nil {
					return err
				}
				if p != nil {
					batch = append(batch, p)
					lastKey = key
				}
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

// ForEachUngroupedEmbeddedPhotoBatch streams photos with hasEmbedding=true and
// groupId=null, using the compound (hasEmbedding, groupId) index so
// embedded-and-grouped photos are never scanned.
func (s *Store) ForEachUngroupedEmbeddedPhotoBatch(batchSize int, fn func([]*model.Photo) error) error {
	prefix := photoEmbGroupIndexPrefix(true, "")
	var cursor []byte
	for {
		var batch []*model.Photo
		var lastKey []byte
		err := s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
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
				id := idFromIndexKey(key)
				p, err := getPhotoTxn(txn, id)
				if err != nil {
					return err
				}
				if p != nil {
					batch = append(batch, p)
					lastKey = key
				}
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

// UpdatePhotoInPlace reads photo id, applies mutator, and writes the result
// back within one transaction (spec §4.1 updateInPlace). mutator receives nil
// if the photo does not exist and may choose to do nothing.
func (s *Store) UpdatePhotoInPlace(id string, mutator func(*model.Photo) error) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := getPhotoTxn(txn, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return mutator(nil)
		}
		if err := mutator(existing); err != nil {
			return err
		}
		if err := unindexPhotoTxn(txn, existing); err != nil {
			return err
		}
		data, err := json.Marshal(existing)
		if err != nil {
			return err
		}
		if err := txn.Set(recordKey(KindPhotos, existing.ID), data); err != nil {
			return err
		}
		return indexPhotoTxn(txn, existing)
	})
	if err != nil {
		return apperrors.NewStorage(err)
	}
	return nil
}

// ClearGroups streams through photos in batches setting groupId = nil, then
// clears the groups store and resets its counter (spec §4.1 clearGroups,
// used at the start of Grouper Phase 4).
func (s *Store) ClearGroups() error {
	err := s.ForEachPhotoBatch(500, func(batch []*model.Photo) error {
		return s.db.Update(func(txn *badger.Txn) error {
			for _, p := range batch {
				if p.GroupID == nil {
					continue
				}
				if err := unindexPhotoTxn(txn, p); err != nil {
					return err
				}
				p.GroupID = nil
				data, err := json.Marshal(p)
				if err != nil {
					return err
				}
				if err := txn.Set(recordKey(KindPhotos, p.ID), data); err != nil {
					return err
				}
				if err := indexPhotoTxn(txn, p); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return apperrors.NewStorage(err)
	}

	if err := s.clearKindRecords(KindGroups); err != nil {
		return apperrors.NewStorage(err)
	}
	return nil
}

// ClearEmbeddings streams through photos setting hasEmbedding = false, then
// clears the embeddings store and resets its counter (spec §4.1
// clearEmbeddings).
func (s *Store) ClearEmbeddings() error {
	err := s.ForEachPhotoBatch(500, func(batch []*model.Photo) error {
		return s.db.Update(func(txn *badger.Txn) error {
			for _, p := range batch {
				if !p.HasEmbedding {
					continue
				}
				if err := unindexPhotoTxn(txn, p); err != nil {
					return err
				}
				p.HasEmbedding = false
				data, err := json.Marshal(p)
				if err != nil {
					return err
				}
				if err := txn.Set(recordKey(KindPhotos, p.ID), data); err != nil {
					return err
				}
				if err := indexPhotoTxn(txn, p); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return apperrors.NewStorage(err)
	}

	if err := s.clearKindRecords(KindEmbeddings); err != nil {
		return apperrors.NewStorage(err)
	}
	return nil
}

// clearKindRecords deletes every primary record and index entry for kind and
// resets its counter to zero. Shared by ClearGroups/ClearEmbeddings.
func (s *Store) clearKindRecords(kind Kind) error {
	for {
		keys, done, err := s.collectKeysWithPrefix(kindAllPrefixes(kind), 1000)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			break
		}
		if err := s.db.Update(func(txn *badger.Txn) error {
			for _, k := range keys {
				if err := txn.Delete(k); err != nil && err != badger.ErrKeyNotFound {
					return err
				}
			}
			return counterSet(txn, kind, 0)
		}); err != nil {
			return err
		}
		if done {
			break
		}
	}
	return nil
}

func kindAllPrefixes(kind Kind) []byte {
	switch kind {
	case KindGroups:
		return []byte("g:")
	case KindEmbeddings:
		return []byte("e:")
	case KindSelections:
		return []byte("s:")
	default:
		return []byte(string(kind) + ":")
	}
}

func (s *Store) collectKeysWithPrefix(prefix []byte, limit int) (keys [][]byte, exhausted bool, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		count := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if count >= limit {
				return nil
			}
			keys = append(keys, it.Item().KeyCopy(nil))
			count++
		}
		exhausted = true
		return nil
	})
	return keys, exhausted, err
}
