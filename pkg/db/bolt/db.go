package bolt

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	bolt "go.etcd.io/bbolt"
)

const schemaVersion = "1"

var ErrUnsupportedSchema = errors.New("bolt: unsupported schema version")

var (
	metaBucketName   = []byte("meta")
	schemaVersionKey = []byte("schema_version")
)

// Database is a reqlog.Repository backed by bbolt.
type Database struct {
	bolt      *bolt.DB
	recovered bool
}

// OpenDatabase opens the database at path. Opening is retried while another
// process holds the file lock. If the file can't be opened for any other
// reason, or its schema isn't supported, the file is removed and recreated
// once; an error is only returned when that fails as well.
func OpenDatabase(path string, opts *bolt.Options) (*Database, error) {
	if opts == nil {
		opts = &bolt.Options{Timeout: time.Second}
	}

	db, err := openDatabase(path, opts)
	if err == nil {
		return db, nil
	}

	if errors.Is(err, bolt.ErrTimeout) {
		return nil, fmt.Errorf("bolt: failed to open database: %w", err)
	}

	if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		return nil, fmt.Errorf("bolt: failed to remove unusable database (open error: %v): %w", err, rmErr)
	}

	db, err = openDatabase(path, opts)
	if err != nil {
		return nil, fmt.Errorf("bolt: failed to recreate database: %w", err)
	}

	db.recovered = true

	return db, nil
}

func openDatabase(path string, opts *bolt.Options) (*Database, error) {
	var boltDB *bolt.DB

	open := func() (err error) {
		boltDB, err = bolt.Open(path, 0o600, opts)
		if errors.Is(err, bolt.ErrTimeout) {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}

		return nil
	}

	err := backoff.Retry(open, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))
	if err != nil {
		return nil, err
	}

	db, err := DatabaseFromBoltDB(boltDB)
	if err != nil {
		boltDB.Close()
		return nil, err
	}

	return db, nil
}

// DatabaseFromBoltDB initializes the schema of an open bbolt database.
func DatabaseFromBoltDB(boltDB *bolt.DB) (*Database, error) {
	err := boltDB.Update(func(tx *bolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucketName)
		if err != nil {
			return fmt.Errorf("failed to create meta bucket: %w", err)
		}

		switch version := meta.Get(schemaVersionKey); {
		case version == nil:
			if err := meta.Put(schemaVersionKey, []byte(schemaVersion)); err != nil {
				return fmt.Errorf("failed to put schema version: %w", err)
			}
		case string(version) != schemaVersion:
			return fmt.Errorf("%w: %q", ErrUnsupportedSchema, version)
		}

		_, err = tx.CreateBucketIfNotExists(logEntriesBucketName)
		if err != nil {
			return fmt.Errorf("failed to create log entries bucket: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: failed to initialize schema: %w", err)
	}

	return &Database{bolt: boltDB}, nil
}

// Recovered reports whether OpenDatabase had to recreate the database file.
func (db *Database) Recovered() bool {
	return db.recovered
}

func (db *Database) Close() error {
	return db.bolt.Close()
}
