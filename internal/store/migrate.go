package store

import (
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"github.com/localgallery/photodedupe/internal/apperrors"
)

// schemaVersion is the structure of the data this code expects. Bump it, and
// add a case to migrate, any time a migration changes what object stores or
// indexes exist, or what invariant a rebuild must restore.
const schemaVersion = 1

const schemaVersionMetaKey = "schemaVersion"

// migrate compares the stored schema version to schemaVersion and, if lower,
// runs every migration in order. A fresh store (no stored version) is
// initialised directly at schemaVersion with no migration work to do.
func (s *Store) migrate() error {
	current, err := s.storedSchemaVersion()
	if err != nil {
		return err
	}

	for v := current; v < schemaVersion; v++ {
		if err := s.runMigration(v + 1); err != nil {
			return apperrors.NewStorage(err)
		}
	}

	return s.setStoredSchemaVersion(schemaVersion)
}

func (s *Store) storedSchemaVersion() (int, error) {
	var version int
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(schemaVersionMetaKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			n, err := strconv.Atoi(string(val))
			if err != nil {
				return err
			}
			version = n
			return nil
		})
	})
	return version, err
}

func (s *Store) setStoredSchemaVersion(v int) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(schemaVersionMetaKey), []byte(strconv.Itoa(v)))
	})
}

// runMigration applies the single migration step that takes the store from
// toVersion-1 to toVersion. There is exactly one migration today (the initial
// schema); future migrations append cases here rather than mutating this one.
func (s *Store) runMigration(toVersion int) error {
	switch toVersion {
	case 1:
		// Initial schema: no prior data to migrate. Counters default to 0 and
		// are populated as records are written, so there is nothing to
		// rebuild by streaming.
		return nil
	default:
		return rebuildCounters(s)
	}
}

// rebuildCounters recomputes every counter by a single native scan. Used as
// the fallback body for any future migration that can't express its change
// as a pure structural edit.
func rebuildCounters(s *Store) error {
	for _, kind := range []Kind{KindPhotos, KindEmbeddings, KindGroups, KindSelections} {
		n, err := s.nativeCount(kind)
		if err != nil {
			return err
		}
		if err := s.db.Update(func(txn *badger.Txn) error {
			return counterSet(txn, kind, n)
		}); err != nil {
			return err
		}
	}
	return nil
}
