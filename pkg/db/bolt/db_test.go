package bolt_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.etcd.io/bbolt"

	"github.com/dstotijn/netlog/pkg/db/bolt"
	"github.com/dstotijn/netlog/pkg/reqlog"
)

func TestOpenDatabase(t *testing.T) {
	t.Parallel()

	t.Run("creates new database", func(t *testing.T) {
		t.Parallel()

		path := t.TempDir() + "/netlog.db"

		db, err := bolt.OpenDatabase(path, nil)
		if err != nil {
			t.Fatalf("unexpected error opening database: %v", err)
		}
		defer db.Close()

		if db.Recovered() {
			t.Fatal("expected new database not to be recovered")
		}
	})

	t.Run("keeps entries across reopen", func(t *testing.T) {
		t.Parallel()

		path := t.TempDir() + "/netlog.db"

		db, err := bolt.OpenDatabase(path, nil)
		if err != nil {
			t.Fatalf("unexpected error opening database: %v", err)
		}

		entry := fixtureEntry(time.Now(), "https://example.com/")
		if err := db.InsertLogEntry(context.Background(), entry); err != nil {
			t.Fatalf("unexpected error inserting log entry: %v", err)
		}

		db.Close()

		db, err = bolt.OpenDatabase(path, nil)
		if err != nil {
			t.Fatalf("unexpected error reopening database: %v", err)
		}
		defer db.Close()

		if _, err := db.FindLogEntryByID(context.Background(), entry.ID); err != nil {
			t.Fatalf("expected log entry to be found after reopen, got: %v", err)
		}
	})

	t.Run("recreates corrupt database", func(t *testing.T) {
		t.Parallel()

		path := t.TempDir() + "/netlog.db"

		if err := os.WriteFile(path, []byte("not a bolt database"), 0o600); err != nil {
			t.Fatalf("failed to write corrupt file: %v", err)
		}

		db, err := bolt.OpenDatabase(path, nil)
		if err != nil {
			t.Fatalf("unexpected error opening database: %v", err)
		}
		defer db.Close()

		if !db.Recovered() {
			t.Fatal("expected database to be recovered")
		}

		got, err := db.FindLogEntries(context.Background(), 0)
		if err != nil {
			t.Fatalf("unexpected error finding log entries: %v", err)
		}

		if len(got) != 0 {
			t.Fatalf("expected empty database, got %v entries", len(got))
		}
	})

	t.Run("recreates database with unsupported schema", func(t *testing.T) {
		t.Parallel()

		path := t.TempDir() + "/netlog.db"

		boltDB, err := bbolt.Open(path, 0o600, nil)
		if err != nil {
			t.Fatalf("failed to open bolt database: %v", err)
		}

		err = boltDB.Update(func(tx *bbolt.Tx) error {
			b, err := tx.CreateBucket([]byte("meta"))
			if err != nil {
				return err
			}

			return b.Put([]byte("schema_version"), []byte("999"))
		})
		if err != nil {
			t.Fatalf("failed to write schema version: %v", err)
		}

		if _, err := bolt.DatabaseFromBoltDB(boltDB); !errors.Is(err, bolt.ErrUnsupportedSchema) {
			t.Fatalf("expected `bolt.ErrUnsupportedSchema`, got: %v", err)
		}

		boltDB.Close()

		db, err := bolt.OpenDatabase(path, nil)
		if err != nil {
			t.Fatalf("unexpected error opening database: %v", err)
		}
		defer db.Close()

		if !db.Recovered() {
			t.Fatal("expected database to be recovered")
		}

		_, err = db.FindLogEntryByID(context.Background(), "foobar")
		if !errors.Is(err, reqlog.ErrLogEntryNotFound) {
			t.Fatalf("expected `reqlog.ErrLogEntryNotFound`, got: %v", err)
		}
	})
}

func TestFindLogEntriesDeletesUndecodableRecords(t *testing.T) {
	t.Parallel()

	boltDB, err := bbolt.Open(t.TempDir()+"/netlog.db", 0o600, nil)
	if err != nil {
		t.Fatalf("failed to open bolt database: %v", err)
	}

	db, err := bolt.DatabaseFromBoltDB(boltDB)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	defer db.Close()

	entry := fixtureEntry(time.Now(), "https://example.com/")
	if err := db.InsertLogEntry(context.Background(), entry); err != nil {
		t.Fatalf("unexpected error inserting log entry: %v", err)
	}

	err = boltDB.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte("log_entries")).Put([]byte("garbage"), []byte{0xff})
	})
	if err != nil {
		t.Fatalf("failed to put undecodable record: %v", err)
	}

	got, err := db.FindLogEntries(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error finding log entries: %v", err)
	}

	if len(got) != 1 || got[0].ID != entry.ID {
		t.Fatalf("expected only log entry %v, got: %+v", entry.ID, got)
	}

	var keys int

	err = boltDB.View(func(tx *bbolt.Tx) error {
		keys = tx.Bucket([]byte("log_entries")).Stats().KeyN
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if keys != 1 {
		t.Fatalf("expected undecodable record to be deleted, got %v keys", keys)
	}
}
