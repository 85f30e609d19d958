package repositories

import (
	"chat-relay/domain"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// SnapshotRepository persists compaction snapshots and an archive of the
// compacted messages in BadgerDB.
//
// Keys use 19-digit zero-padded UnixNano so lexicographical order is
// chronological order:
//
//	snapshot:{timestamp_padded}          full snapshot blob
//	msg:{timestamp_padded}:{uuid}        one archived message
//
// The uuid suffix disambiguates two messages created in the same
// nanosecond.
type SnapshotRepository struct {
	db  *badger.DB
	log *slog.Logger
}

func NewSnapshotRepository(db *badger.DB, log *slog.Logger) SnapshotRepository {
	return SnapshotRepository{db: db, log: log}
}

const maxPaddedTimestamp = "9999999999999999999"

// SaveSnapshot writes the snapshot blob plus one archive entry per
// message, atomically in a single transaction. The key timestamp is
// taken at write time: snapshot save times have second granularity and
// would collide when a manual save follows a periodic one.
func (r SnapshotRepository) SaveSnapshot(s domain.Snapshot) error {
	key := []byte(fmt.Sprintf("snapshot:%019d", time.Now().UnixNano()))
	blob, err := json.Marshal(s)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, blob); err != nil {
			return err
		}
		for _, m := range s.Messages {
			mk := fmt.Sprintf("msg:%019d:%s", m.At.UnixNano(), m.ID)
			mb, err := json.Marshal(m)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(mk), mb); err != nil {
				return err
			}
		}
		return nil
	})
}

// LatestSnapshot returns the most recent stored snapshot, if any.
func (r SnapshotRepository) LatestSnapshot() (domain.Snapshot, bool, error) {
	var (
		blob  []byte
		found bool
	)
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte("snapshot:")
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		it.Seek(append([]byte("snapshot:"), []byte(maxPaddedTimestamp)...))
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		found = true
		return it.Item().Value(func(value []byte) error {
			blob = append([]byte(nil), value...)
			return nil
		})
	})
	if err != nil || !found {
		return domain.Snapshot{}, false, err
	}

	var s domain.Snapshot
	if err := json.Unmarshal(blob, &s); err != nil {
		return domain.Snapshot{}, false, err
	}
	return s, true, nil
}

// ArchivedMessages scans the message archive newest-first. Thanks to the
// padded timestamp in the key, entries come back in reverse chronological
// order. The returned cursor resumes a previous scan.
func (r SnapshotRepository) ArchivedMessages(limit int, cursor *string) ([]domain.Message, *string, error) {
	var (
		blobs   [][]byte
		lastKey string
	)
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := []byte("msg:")
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			seekKey = append(prefix, []byte(maxPaddedTimestamp)...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)
		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(blobs) == limit {
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[len(prefix):])
			err := item.Value(func(value []byte) error {
				blobs = append(blobs, append([]byte(nil), value...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	messages := make([]domain.Message, 0, len(blobs))
	for _, b := range blobs {
		var m domain.Message
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, nil, err
		}
		messages = append(messages, m)
	}
	return messages, &lastKey, nil
}
