package testutil

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.etcd.io/bbolt"

	"github.com/dstotijn/netlog/pkg/db/bolt"
	"github.com/dstotijn/netlog/pkg/log"
	"github.com/dstotijn/netlog/pkg/reqlog"
)

func Diff[T any](t *testing.T, msg string, exp, got T, opts ...cmp.Option) {
	t.Helper()

	if diff := cmp.Diff(exp, got, opts...); diff != "" {
		t.Fatalf("%v (-exp, +got):\n%v", msg, diff)
	}
}

// EntriesDiff compares log entries, ignoring fields that depend on wall clock
// time when ignoreTiming is set.
func EntriesDiff(t *testing.T, msg string, exp, got []*reqlog.LogEntry, ignoreTiming bool) {
	t.Helper()

	var opts []cmp.Option
	if ignoreTiming {
		opts = append(opts, cmpopts.IgnoreFields(reqlog.LogEntry{}, "ID", "Timestamp", "Duration"))
	}

	if diff := cmp.Diff(exp, got, opts...); diff != "" {
		t.Fatalf("%v (-exp, +got):\n%v", msg, diff)
	}
}

type testLogger struct {
	log.NopLogger
	tb testing.TB
}

// Errorw fails the test without stopping it, so it can be called from any
// goroutine.
func (l *testLogger) Errorw(msg string, v ...interface{}) {
	l.tb.Helper()
	l.tb.Errorf(msg+": %v", v)
}

// NewLogger returns a logger that fails tb when an error is logged.
func NewLogger(tb testing.TB) log.Logger {
	tb.Helper()
	return &testLogger{tb: tb}
}

// NewBoltDB returns a bolt database in a temporary directory, closed when the
// test ends.
func NewBoltDB(t *testing.T) *bolt.Database {
	t.Helper()

	path := t.TempDir() + "/bolt.db"

	boltDB, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		t.Fatalf("failed to open bolt database: %v", err)
	}

	db, err := bolt.DatabaseFromBoltDB(boltDB)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func IntPtr(i int) *int {
	return &i
}

func FloatPtr(f float64) *float64 {
	return &f
}
