package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/localgallery/photodedupe/internal/apperrors"
	"github.com/localgallery/photodedupe/internal/model"
)

func getGroupTxn(txn *badger.Txn, id string) (*model.Group, error) {
	item, err := txn.Get(recordKey(KindGroups, id))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var g model.Group
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &g)
	}); err != nil {
		return nil, err
	}
	return &g, nil
}

func indexGroupTxn(txn *badger.Txn, g *model.Group) error {
	for _, key := range [][]byte{
		groupTimestampIndexKey(g.Timestamp, g.ID),
		groupStatusIndexKey(string(g.ReviewStatus), g.ID),
	} {
		if err := txn.Set(key, []byte{}); err != nil {
			return err
		}
	}
	return nil
}

func unindexGroupTxn(txn *badger.Txn, g *model.Group) error {
	for _, key := range [][]byte{
		groupTimestampIndexKey(g.Timestamp, g.ID),
		groupStatusIndexKey(string(g.ReviewStatus), g.ID),
	} {
		if err := txn.Delete(key); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
	}
	return nil
}

// PutGroupsBatch upserts groups within one transaction (spec §4.1 putBatch),
// used by Grouper Phase 4 to persist materialised clusters in chunks.
func (s *Store) PutGroupsBatch(groups []*model.Group) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var netNew int64
		for _, g := range groups {
			existing, err := getGroupTxn(txn, g.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				if err := unindexGroupTxn(txn, existing); err != nil {
					return err
				}
			} else {
				netNew++
			}

			data, err := json.Marshal(g)
			if err != nil {
				return err
			}
			if err := txn.Set(recordKey(KindGroups, g.ID), data); err != nil {
				return err
			}
			if err := indexGroupTxn(txn, g); err != nil {
				return err
			}
		}
		return counterAdd(txn, KindGroups, netNew)
	})
	if err != nil {
		return apperrors.NewStorage(err)
	}
	return nil
}

// GetGroup returns the group with id, or nil if it does not exist.
func (s *Store) GetGroup(id string) (*model.Group, error) {
	var g *model.Group
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		g, err = getGroupTxn(txn, id)
		return err
	})
	if err != nil {
		return nil, apperrors.NewStorage(err)
	}
	return g, nil
}

// GetGroupsByIDs returns groups in the order requested, omitting missing ids.
func (s *Store) GetGroupsByIDs(ids []string) ([]*model.Group, error) {
	out := make([]*model.Group, 0, len(ids))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			g, err := getGroupTxn(txn, id)
			if err != nil {
				return err
			}
			if g != nil {
				out = append(out, g)
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStorage(err)
	}
	return out, nil
}

// PageGroups returns up to limit groups after skipping offset, ordered by
// timestamp (descending by default per §6A).
func (s *Store) PageGroups(offset, limit int, direction Direction) ([]*model.Group, error) {
	var out []*model.Group
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := groupTimestampIndexPrefix()
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
			g, err := getGroupTxn(txn, id)
			if err != nil {
				return err
			}
			if g != nil {
				out = append(out, g)
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStorage(err)
	}
	if out == nil {
		out = []*model.Group{}
	}
	return out, nil
}

// UpdateGroupInPlace reads group id, applies mutator, and writes the result
// back within one transaction (spec §4.1 updateInPlace). mutator receives nil
// if the group does not exist and may choose to do nothing. This is the only
// path that mutates Group.ReviewStatus (spec §3: "its reviewStatus may be
// mutated"), so the status secondary index stays correct.
func (s *Store) UpdateGroupInPlace(id string, mutator func(*model.Group) error) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := getGroupTxn(txn, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return mutator(nil)
		}
		if err := mutator(existing); err != nil {
			return err
		}
		if err := unindexGroupTxn(txn, existing); err != nil {
			return err
		}
		data, err := json.Marshal(existing)
		if err != nil {
			return err
		}
		if err := txn.Set(recordKey(KindGroups, existing.ID), data); err != nil {
			return err
		}
		return indexGroupTxn(txn, existing)
	})
	if err != nil {
		return apperrors.NewStorage(err)
	}
	return nil
}

// PageGroupsByStatus returns up to limit groups with the given reviewStatus,
// skipping offset, ordered by id within the status index (spec §4.1's
// required reviewStatus index on groups).
func (s *Store) PageGroupsByStatus(status model.ReviewStatus, offset, limit int) ([]*model.Group, error) {
	var out []*model.Group
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := groupStatusIndexPrefix(string(status))
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		skipped := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			if len(out) >= limit {
				break
			}
			id := idFromIndexKey(it.Item().KeyCopy(nil))
			g, err := getGroupTxn(txn, id)
			if err != nil {
				return err
			}
			if g != nil {
				out = append(out, g)
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStorage(err)
	}
	if out == nil {
		out = []*model.Group{}
	}
	return out, nil
}

// AtomicGroupCreate writes a new Group containing photoIds, sets groupId on
// every listed photo, and increments the groups counter, all in a single
// transaction. Fails atomically (returning apperrors.StorageError) if any
// photo is missing (spec §4.1 atomicGroupCreate).
func (s *Store) AtomicGroupCreate(groupID string, photoIDs []string, similarity float64, timestamp int64) (*model.Group, error) {
	g := &model.Group{
		ID:              groupID,
		PhotoIDs:        photoIDs,
		SimilarityScore: similarity,
		Timestamp:       timestamp,
		ReviewStatus:    model.ReviewPending,
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		photos := make([]*model.Photo, 0, len(photoIDs))
		for _, id := range photoIDs {
			p, err := getPhotoTxn(txn, id)
			if err != nil {
				return err
			}
			if p == nil {
				return fmt.Errorf("atomicGroupCreate: photo %s not found", id)
			}
			photos = append(photos, p)
		}

		data, err := json.Marshal(g)
		if err != nil {
			return err
		}
		if err := txn.Set(recordKey(KindGroups, g.ID), data); err != nil {
			return err
		}
		if err := indexGroupTxn(txn, g); err != nil {
			return err
		}
		if err := counterAdd(txn, KindGroups, 1); err != nil {
			return err
		}

		for _, p := range photos {
			if err := unindexPhotoTxn(txn, p); err != nil {
				return err
			}
			gid := g.ID
			p.GroupID = &gid
			pdata, err := json.Marshal(p)
			if err != nil {
				return err
			}
			if err := txn.Set(recordKey(KindPhotos, p.ID), pdata); err != nil {
				return err
			}
			if err := indexPhotoTxn(txn, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStorage(err)
	}
	return g, nil
}

// ForEachGroupBatch streams every group, timestamp ascending, in batches.
func (s *Store) ForEachGroupBatch(batchSize int, fn func([]*model.Group) error) error {
	prefix := groupTimestampIndexPrefix()
	var cursor []byte
	for {
		var batch []*model.Group
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
				g, err := getGroupTxn(txn, id)
				if err != nil {
					return err
				}
				if g != nil {
					batch = append(batch, g)
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
