// Package selection implements SelectionSet (spec §4.6): the set of photos a
// user has marked for deletion. It is a thin façade over the store's
// selection operations — there is no clustering or scoring logic here, only
// the idempotency and ordering guarantees the store already provides.
package selection

import (
	"github.com/localgallery/photodedupe/internal/model"
	"github.com/localgallery/photodedupe/internal/store"
)

// Set wraps the store's selectedPhotos operations.
type Set struct {
	store *store.Store
}

// New builds a Set backed by s.
func New(s *store.Store) *Set {
	return &Set{store: s}
}

// Select marks photoID for deletion. Idempotent: re-selecting an already
// selected photo does not change its SelectedAt or double-count it.
func (set *Set) Select(photoID string, selectedAt int64) error {
	return set.store.Select(photoID, selectedAt)
}

// Unselect removes photoID from the selection. A no-op if it was not
// selected.
func (set *Set) Unselect(photoID string) error {
	return set.store.Unselect(photoID)
}

// IsSelected reports whether photoID is currently selected.
func (set *Set) IsSelected(photoID string) (bool, error) {
	return set.store.IsSelected(photoID)
}

// Count returns the number of currently selected photos in O(1).
func (set *Set) Count() (int64, error) {
	return set.store.SelectionCount()
}

// Page returns one page of selections ordered by selectedAt ascending.
func (set *Set) Page(offset, limit int) ([]*model.Selection, error) {
	return set.store.SelectionBatch(offset, limit)
}

// ForEachBatch streams every selection in selectedAt order without
// materializing the whole set.
func (set *Set) ForEachBatch(batchSize int, fn func([]*model.Selection) error) error {
	return set.store.ForEachSelectionBatch(batchSize, fn)
}

// Clear empties the selection set entirely, used after a confirmed delete.
func (set *Set) Clear() error {
	return set.store.ClearSelection()
}
