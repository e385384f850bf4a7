package store

import (
	"bytes"
	"encoding/json"

	"github.com/dgraph-io/badger/v4"

	"github.com/localgallery/photodedupe/internal/apperrors"
	"github.com/localgallery/photodedupe/internal/model"
)

func getSelectionTxn(txn *badger.Txn, photoID string) (*model.Selection, error) {
	item, err := txn.Get(recordKey(KindSelections, photoID))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sel model.Selection
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &sel)
	}); err != nil {
		return nil, err
	}
	return &sel, nil
}

// Select marks photoID for deletion, recording the caller-supplied
// selectedAt. Idempotent: selecting an already-selected photo updates
// nothing (selectedAt is not refreshed) and does not double-count.
func (s *Store) Select(photoID string, selectedAt int64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := getSelectionTxn(txn, photoID)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		sel := &model.Selection{PhotoID: photoID, SelectedAt: selectedAt}
		data, err := json.Marshal(sel)
		if err != nil {
			return err
		}
		if err := txn.Set(recordKey(KindSelections, photoID), data); err != nil {
			return err
		}
		if err := txn.Set(selectionAtIndexKey(selectedAt, photoID), []byte{}); err != nil {
			return err
		}
		return counterAdd(txn, KindSelections, 1)
	})
	if err != nil {
		return apperrors.NewStorage(err)
	}
	return nil
}

// Unselect removes a photo from the selection set. No-op if not selected.
func (s *Store) Unselect(photoID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := getSelectionTxn(txn, photoID)
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}
		if err := txn.Delete(recordKey(KindSelections, photoID)); err != nil {
			return err
		}
		if err := txn.Delete(selectionAtIndexKey(existing.SelectedAt, photoID)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return counterAdd(txn, KindSelections, -1)
	})
	if err != nil {
		return apperrors.NewStorage(err)
	}
	return nil
}

// IsSelected reports whether photoID is currently in the selection set.
func (s *Store) IsSelected(photoID string) (bool, error) {
	var selected bool
	err := s.db.View(func(txn *badger.Txn) error {
		sel, err := getSelectionTxn(txn, photoID)
		if err != nil {
			return err
		}
		selected = sel != nil
		return nil
	})
	if err != nil {
		return false, apperrors.NewStorage(err)
	}
	return selected, nil
}

// SelectionCount is the O(1) count of selected photos.
func (s *Store) SelectionCount() (int64, error) {
	return s.Count(KindSelections)
}

// SelectionBatch returns up to limit selections after skipping offset,
// ordered by selectedAt ascending (spec §4.1 / §6A).
func (s *Store) SelectionBatch(offset, limit int) ([]*model.Selection, error) {
	var out []*model.Selection
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := selectionAtIndexPrefix()
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
			sel, err := getSelectionTxn(txn, id)
			if err != nil {
				return err
			}
			if sel != nil {
				out = append(out, sel)
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperrors.NewStorage(err)
	}
	if out == nil {
		out = []*model.Selection{}
	}
	return out, nil
}

// ForEachSelectionBatch streams every selection, selectedAt ascending, in
// batches of batchSize, so a deletion driver can dispatch without holding
// millions of ids in memory (spec §4.6).
func (s *Store) ForEachSelectionBatch(batchSize int, fn func([]*model.Selection) error) error {
	prefix := selectionAtIndexPrefix()
	var cursor []byte
	for {
		var batch []*model.Selection
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
				sel, err := getSelectionTxn(txn, id)
				if err != nil {
					return err
				}
				if sel != nil {
					batch = append(batch, sel)
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

// ClearSelection removes every selection entry and resets its counter.
func (s *Store) ClearSelection() error {
	if err := s.clearKindRecords(KindSelections); err != nil {
		return apperrors.NewStorage(err)
	}
	return nil
}
