package reqlog_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dstotijn/netlog/pkg/db/memory"
	"github.com/dstotijn/netlog/pkg/reqlog"
	"github.com/dstotijn/netlog/pkg/testutil"
)

var errRepo = errors.New("repository unavailable")

// failingRepo fails every write while fail is set.
type failingRepo struct {
	*memory.Database
	fail bool
}

func (r *failingRepo) InsertLogEntry(ctx context.Context, entry *reqlog.LogEntry) error {
	if r.fail {
		return errRepo
	}
	return r.Database.InsertLogEntry(ctx, entry)
}

func (r *failingRepo) ClearLogEntries(ctx context.Context) error {
	if r.fail {
		return errRepo
	}
	return r.Database.ClearLogEntries(ctx)
}

func newEntry(ts time.Time, url string) *reqlog.LogEntry {
	return &reqlog.LogEntry{
		ID:             reqlog.NewID(ts),
		Timestamp:      ts,
		Method:         "GET",
		URL:            url,
		RequestHeaders: map[string]string{},
	}
}

func TestStoreAppend(t *testing.T) {
	t.Parallel()

	t.Run("stores entry with equal fields", func(t *testing.T) {
		t.Parallel()

		db := testutil.NewBoltDB(t)
		store := reqlog.NewStore(reqlog.Config{
			Repository: db,
			Logger:     testutil.NewLogger(t),
		})

		exp := &reqlog.LogEntry{
			ID:                 reqlog.NewID(time.Now()),
			Timestamp:          time.Now(),
			Method:             "POST",
			URL:                "https://example.com/foobar",
			RequestHeaders:     map[string]string{"Content-Type": "text/plain"},
			RequestBody:        []byte("foo"),
			ResponseStatusCode: testutil.IntPtr(201),
			ResponseHeaders:    map[string]string{"X-Yolo": "swag"},
			ResponseBody:       []byte("bar"),
			Duration:           testutil.FloatPtr(0.125),
		}

		if err := store.Append(context.Background(), exp); err != nil {
			t.Fatalf("unexpected error appending log entry: %v", err)
		}

		testutil.Diff(t, "log entries not equal", []*reqlog.LogEntry{exp}, store.All())

		got, err := db.FindLogEntryByID(context.Background(), exp.ID)
		if err != nil {
			t.Fatalf("unexpected error finding log entry: %v", err)
		}

		testutil.Diff(t, "persisted log entry not equal", exp, got)
	})

	t.Run("rejects entry without ID", func(t *testing.T) {
		t.Parallel()

		store := reqlog.NewStore(reqlog.Config{})

		err := store.Append(context.Background(), &reqlog.LogEntry{})
		if !errors.Is(err, reqlog.ErrInvalidLogEntry) {
			t.Fatalf("expected `reqlog.ErrInvalidLogEntry`, got: %v", err)
		}
	})

	t.Run("duplicate ID replaces entry", func(t *testing.T) {
		t.Parallel()

		store := reqlog.NewStore(reqlog.Config{
			Repository: memory.New(),
			Logger:     testutil.NewLogger(t),
		})

		entry := newEntry(time.Now(), "https://example.com/foo")
		if err := store.Append(context.Background(), entry); err != nil {
			t.Fatalf("unexpected error appending log entry: %v", err)
		}

		updated := entry.Clone()
		updated.URL = "https://example.com/bar"

		if err := store.Append(context.Background(), updated); err != nil {
			t.Fatalf("unexpected error appending log entry: %v", err)
		}

		testutil.Diff(t, "log entries not equal", []*reqlog.LogEntry{updated}, store.All())
	})

	t.Run("orders by timestamp then ID, newest first", func(t *testing.T) {
		t.Parallel()

		store := reqlog.NewStore(reqlog.Config{})

		now := time.Now()
		a := newEntry(now, "https://example.com/a")
		b := newEntry(now, "https://example.com/b")
		older := newEntry(now.Add(-time.Minute), "https://example.com/older")

		// IDs generated for the same instant are increasing, so b sorts first.
		for _, entry := range []*reqlog.LogEntry{a, older, b} {
			if err := store.Append(context.Background(), entry); err != nil {
				t.Fatalf("unexpected error appending log entry: %v", err)
			}
		}

		testutil.Diff(t, "log entries not equal", []*reqlog.LogEntry{b, a, older}, store.All())
	})
}

func TestStoreRetention(t *testing.T) {
	t.Parallel()

	db := memory.New()
	store := reqlog.NewStore(reqlog.Config{
		Repository: db,
		Logger:     testutil.NewLogger(t),
	})

	start := time.Now().Add(-time.Hour)
	var oldest, newest *reqlog.LogEntry

	for i := 0; i <= reqlog.DefaultMaxEntries; i++ {
		entry := newEntry(start.Add(time.Duration(i)*time.Millisecond), fmt.Sprintf("https://example.com/%d", i))

		switch i {
		case 0:
			oldest = entry
		case reqlog.DefaultMaxEntries:
			newest = entry
		}

		if err := store.Append(context.Background(), entry); err != nil {
			t.Fatalf("unexpected error appending log entry: %v", err)
		}
	}

	if got := store.Count(); got != reqlog.DefaultMaxEntries {
		t.Fatalf("expected %v log entries, got: %v", reqlog.DefaultMaxEntries, got)
	}

	if _, err := store.ByID(oldest.ID); !errors.Is(err, reqlog.ErrLogEntryNotFound) {
		t.Fatalf("expected oldest log entry to be evicted, got: %v", err)
	}

	if _, err := db.FindLogEntryByID(context.Background(), oldest.ID); !errors.Is(err, reqlog.ErrLogEntryNotFound) {
		t.Fatalf("expected oldest log entry to be deleted from repository, got: %v", err)
	}

	all := store.All()
	if all[0] != newest {
		t.Fatalf("expected newest log entry first, got: %v", all[0].URL)
	}

	persisted, err := db.FindLogEntries(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error finding log entries: %v", err)
	}

	if len(persisted) != reqlog.DefaultMaxEntries {
		t.Fatalf("expected %v persisted log entries, got: %v", reqlog.DefaultMaxEntries, len(persisted))
	}
}

func TestStoreEnforceRetention(t *testing.T) {
	t.Parallel()

	store := reqlog.NewStore(reqlog.Config{MaxEntries: 10})

	now := time.Now()
	for i := 0; i < 5; i++ {
		if err := store.Append(context.Background(), newEntry(now.Add(time.Duration(i)*time.Second), "https://example.com/")); err != nil {
			t.Fatalf("unexpected error appending log entry: %v", err)
		}
	}

	exp := store.All()[:2]

	if err := store.EnforceRetention(context.Background(), 2); err != nil {
		t.Fatalf("unexpected error enforcing retention: %v", err)
	}

	testutil.Diff(t, "log entries not equal", exp, store.All())
}

func TestStoreLoad(t *testing.T) {
	t.Parallel()

	db := memory.New()
	now := time.Now()

	var entries []*reqlog.LogEntry
	for i := 0; i < 5; i++ {
		entry := newEntry(now.Add(time.Duration(i)*time.Second), fmt.Sprintf("https://example.com/%d", i))
		entries = append(entries, entry)

		if err := db.InsertLogEntry(context.Background(), entry); err != nil {
			t.Fatalf("unexpected error inserting log entry: %v", err)
		}
	}

	store := reqlog.NewStore(reqlog.Config{
		Repository: db,
		MaxEntries: 3,
		Logger:     testutil.NewLogger(t),
	})

	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error loading log entries: %v", err)
	}

	exp := []*reqlog.LogEntry{entries[4], entries[3], entries[2]}
	testutil.Diff(t, "loaded log entries not equal", exp, store.All())

	persisted, err := db.FindLogEntries(context.Background(), 0)
	if err != nil {
		t.Fatalf("unexpected error finding log entries: %v", err)
	}

	testutil.Diff(t, "persisted log entries not equal", exp, persisted)
}

func TestStoreDegraded(t *testing.T) {
	t.Parallel()

	repo := &failingRepo{Database: memory.New(), fail: true}
	store := reqlog.NewStore(reqlog.Config{Repository: repo})

	entry := newEntry(time.Now(), "https://example.com/")

	err := store.Append(context.Background(), entry)
	if !errors.Is(err, errRepo) {
		t.Fatalf("expected repository error, got: %v", err)
	}

	if !store.Degraded() {
		t.Fatal("expected store to be degraded")
	}

	// The entry is kept in memory.
	if _, err := store.ByID(entry.ID); err != nil {
		t.Fatalf("expected log entry in memory, got: %v", err)
	}

	if err := store.Clear(context.Background()); !errors.Is(err, errRepo) {
		t.Fatalf("expected repository error, got: %v", err)
	}

	if store.Count() != 0 {
		t.Fatalf("expected store to be cleared in memory, got %v entries", store.Count())
	}

	repo.fail = false

	if err := store.Append(context.Background(), newEntry(time.Now(), "https://example.com/")); err != nil {
		t.Fatalf("unexpected error appending log entry: %v", err)
	}

	if store.Degraded() {
		t.Fatal("expected store to recover after successful write")
	}
}

func TestStoreFind(t *testing.T) {
	t.Parallel()

	store := reqlog.NewStore(reqlog.Config{})
	now := time.Now()

	image := &reqlog.LogEntry{
		ID:                 reqlog.NewID(now),
		Timestamp:          now,
		Method:             "GET",
		URL:                "https://cdn.example.com/logo.png",
		ResponseStatusCode: testutil.IntPtr(200),
		ResponseHeaders:    map[string]string{"content-type": "image/png"},
	}
	post := &reqlog.LogEntry{
		ID:                 reqlog.NewID(now.Add(-time.Second)),
		Timestamp:          now.Add(-time.Second),
		Method:             "POST",
		URL:                "https://api.example.com/users",
		ResponseStatusCode: testutil.IntPtr(404),
		ResponseHeaders:    map[string]string{"Content-Type": "application/json"},
	}
	failed := &reqlog.LogEntry{
		ID:        reqlog.NewID(now.Add(-2 * time.Second)),
		Timestamp: now.Add(-2 * time.Second),
		Method:    "GET",
		URL:       "https://down.example.com/",
	}

	for _, entry := range []*reqlog.LogEntry{image, post, failed} {
		if err := store.Append(context.Background(), entry); err != nil {
			t.Fatalf("unexpected error appending log entry: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter reqlog.Filter
		exp    []*reqlog.LogEntry
	}{
		{
			name:   "zero filter matches all",
			filter: reqlog.Filter{},
			exp:    []*reqlog.LogEntry{image, post, failed},
		},
		{
			name:   "search is case-insensitive on URL",
			filter: reqlog.Filter{Search: "USERS"},
			exp:    []*reqlog.LogEntry{post},
		},
		{
			name:   "search matches method",
			filter: reqlog.Filter{Search: "post"},
			exp:    []*reqlog.LogEntry{post},
		},
		{
			name:   "search matches status code",
			filter: reqlog.Filter{Search: "40"},
			exp:    []*reqlog.LogEntry{post},
		},
		{
			name:   "method",
			filter: reqlog.Filter{Method: "GET"},
			exp:    []*reqlog.LogEntry{image, failed},
		},
		{
			name:   "host",
			filter: reqlog.Filter{Host: "down.example.com"},
			exp:    []*reqlog.LogEntry{failed},
		},
		{
			name:   "status code",
			filter: reqlog.Filter{StatusCode: 200},
			exp:    []*reqlog.LogEntry{image},
		},
		{
			name:   "media type",
			filter: reqlog.Filter{MediaType: reqlog.MediaTypeImage},
			exp:    []*reqlog.LogEntry{image},
		},
		{
			name:   "limit",
			filter: reqlog.Filter{Method: "GET", Limit: 1},
			exp:    []*reqlog.LogEntry{image},
		},
		{
			name:   "no match",
			filter: reqlog.Filter{MediaType: reqlog.MediaTypeVideo},
			exp:    []*reqlog.LogEntry{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			testutil.Diff(t, "log entries not equal", tt.exp, store.Find(tt.filter))
		})
	}
}

func TestNewIDSequential(t *testing.T) {
	t.Parallel()

	ts := time.Now()
	prev := reqlog.NewID(ts)

	for i := 0; i < 100; i++ {
		id := reqlog.NewID(ts)
		if id <= prev {
			t.Fatalf("expected ID %v to sort after %v", id, prev)
		}
		prev = id
	}
}
