package memory

import (
	"encoding/json"
	"time"

	apperrors "qa-agent/errors"

	badger "github.com/dgraph-io/badger/v4"
)

var sessionKeyPrefix = []byte("session/")

// BadgerStore keeps one badger entry per session, expiring idle sessions
// through badger's native entry TTL instead of a load-time filter.
type BadgerStore struct {
	db  *badger.DB
	ttl time.Duration
}

// NewBadgerStore opens the session database at path. inMemory skips the
// filesystem entirely, which the tests rely on.
func NewBadgerStore(path string, inMemory bool, ttl time.Duration) (*BadgerStore, error) {
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, apperrors.WrapError(err, "open session database")
	}
	return &BadgerStore{db: db, ttl: ttl}, nil
}

func (b *BadgerStore) Load() (map[string]SessionSnapshot, error) {
	snapshots := make(map[string]SessionSnapshot)
	err := b.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = sessionKeyPrefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			id := string(item.Key()[len(sessionKeyPrefix):])
			var snap SessionSnapshot
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			}); err != nil {
				return apperrors.WrapErrorf(err, "decode session %s", id)
			}
			snapshots[id] = snap
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}

// Save rewrites the stored set to match exactly: present sessions are
// (re)written with a fresh TTL, stored sessions absent from the map
// (cleared ones) are deleted.
func (b *BadgerStore) Save(sessions map[string]SessionSnapshot) error {
	err := b.db.Update(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = sessionKeyPrefix
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)

		var stale [][]byte
		for iter.Rewind(); iter.Valid(); iter.Next() {
			key := iter.Item().KeyCopy(nil)
			if _, ok := sessions[string(key[len(sessionKeyPrefix):])]; !ok {
				stale = append(stale, key)
			}
		}
		iter.Close()

		for _, key := range stale {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}

		for id, snap := range sessions {
			val, err := json.Marshal(snap)
			if err != nil {
				return err
			}
			entry := badger.NewEntry(append(append([]byte(nil), sessionKeyPrefix...), id...), val)
			if b.ttl > 0 {
				entry = entry.WithTTL(b.ttl)
			}
			if err := tx.SetEntry(entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperrors.WrapErrorf(apperrors.ErrPersistenceFailed, "save sessions: %v", err)
	}
	return nil
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}
