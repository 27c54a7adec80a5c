// Package memory provides an in-memory reqlog.Repository.
package memory

import (
	"context"
	"sync"

	"github.com/dstotijn/netlog/pkg/reqlog"
)

type Database struct {
	mu      sync.RWMutex
	entries map[string]*reqlog.LogEntry
}

func New() *Database {
	return &Database{
		entries: make(map[string]*reqlog.LogEntry),
	}
}

func (db *Database) InsertLogEntry(_ context.Context, entry *reqlog.LogEntry) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.entries[entry.ID] = entry.Clone()

	return nil
}

func (db *Database) FindLogEntries(_ context.Context, limit int) ([]*reqlog.LogEntry, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	entries := make([]*reqlog.LogEntry, 0, len(db.entries))
	for _, entry := range db.entries {
		entries = append(entries, entry.Clone())
	}

	reqlog.SortEntries(entries)

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}

func (db *Database) FindLogEntryByID(_ context.Context, id string) (*reqlog.LogEntry, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	entry, ok := db.entries[id]
	if !ok {
		return nil, reqlog.ErrLogEntryNotFound
	}

	return entry.Clone(), nil
}

func (db *Database) DeleteLogEntries(_ context.Context, ids []string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	for _, id := range ids {
		delete(db.entries, id)
	}

	return nil
}

func (db *Database) ClearLogEntries(_ context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.entries = make(map[string]*reqlog.LogEntry)

	return nil
}

func (db *Database) Close() error {
	return nil
}
