package bolt

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/dstotijn/netlog/pkg/reqlog"
)

var ErrLogEntriesBucketNotFound = errors.New("bolt: log entries bucket not found")

var logEntriesBucketName = []byte("log_entries")

func logEntriesBucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	b := tx.Bucket(logEntriesBucketName)
	if b == nil {
		return nil, ErrLogEntriesBucketNotFound
	}

	return b, nil
}

// FindLogEntries returns log entries newest first. Records that can't be
// decoded are deleted, so they don't outlive retention.
func (db *Database) FindLogEntries(ctx context.Context, limit int) ([]*reqlog.LogEntry, error) {
	entries := []*reqlog.LogEntry{}

	var corruptIDs [][]byte

	err := db.bolt.View(func(tx *bolt.Tx) error {
		b, err := logEntriesBucket(tx)
		if err != nil {
			return fmt.Errorf("failed to get log entries bucket: %w", err)
		}

		return b.ForEach(func(id, rawEntry []byte) error {
			entry, err := unmarshalLogEntry(rawEntry)
			if err != nil || entry.ID == "" {
				corruptIDs = append(corruptIDs, bytes.Clone(id))
				return nil
			}

			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: failed to iterate over log entries: %w", err)
	}

	if len(corruptIDs) > 0 {
		err := db.bolt.Update(func(tx *bolt.Tx) error {
			b, err := logEntriesBucket(tx)
			if err != nil {
				return fmt.Errorf("failed to get log entries bucket: %w", err)
			}

			for _, id := range corruptIDs {
				if err := b.Delete(id); err != nil {
					return fmt.Errorf("failed to delete undecodable log entry (id: %s): %w", id, err)
				}
			}

			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("bolt: failed to commit transaction: %w", err)
		}
	}

	// Keys are IDs, which don't necessarily follow timestamp order.
	reqlog.SortEntries(entries)

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}

func (db *Database) FindLogEntryByID(ctx context.Context, id string) (*reqlog.LogEntry, error) {
	var entry *reqlog.LogEntry

	err := db.bolt.View(func(tx *bolt.Tx) error {
		b, err := logEntriesBucket(tx)
		if err != nil {
			return fmt.Errorf("bolt: failed to get log entries bucket: %w", err)
		}

		rawEntry := b.Get([]byte(id))
		if rawEntry == nil {
			return reqlog.ErrLogEntryNotFound
		}

		entry, err = unmarshalLogEntry(rawEntry)
		if err != nil {
			return fmt.Errorf("failed to unmarshal log entry: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: failed to find log entry by ID: %w", err)
	}

	return entry, nil
}

func (db *Database) InsertLogEntry(ctx context.Context, entry *reqlog.LogEntry) error {
	encEntry := marshalLogEntry(entry)

	err := db.bolt.Update(func(tx *bolt.Tx) error {
		b, err := logEntriesBucket(tx)
		if err != nil {
			return fmt.Errorf("failed to get log entries bucket: %w", err)
		}

		err = b.Put([]byte(entry.ID), encEntry)
		if err != nil {
			return fmt.Errorf("failed to put log entry: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt: failed to commit transaction: %w", err)
	}

	return nil
}

func (db *Database) DeleteLogEntries(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	err := db.bolt.Update(func(tx *bolt.Tx) error {
		b, err := logEntriesBucket(tx)
		if err != nil {
			return fmt.Errorf("failed to get log entries bucket: %w", err)
		}

		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return fmt.Errorf("failed to delete log entry (id: %v): %w", id, err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt: failed to commit transaction: %w", err)
	}

	return nil
}

func (db *Database) ClearLogEntries(ctx context.Context) error {
	err := db.bolt.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket(logEntriesBucketName)
		if err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return fmt.Errorf("failed to delete log entries bucket: %w", err)
		}

		_, err = tx.CreateBucket(logEntriesBucketName)
		if err != nil {
			return fmt.Errorf("failed to create log entries bucket: %w", err)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt: failed to commit transaction: %w", err)
	}

	return nil
}
