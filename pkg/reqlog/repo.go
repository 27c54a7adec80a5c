package reqlog

import (
	"context"
)

// Repository is the persistence collaborator of a Store.
type Repository interface {
	InsertLogEntry(ctx context.Context, entry *LogEntry) error
	// FindLogEntries returns entries newest first. A limit <= 0 means no limit.
	FindLogEntries(ctx context.Context, limit int) ([]*LogEntry, error)
	FindLogEntryByID(ctx context.Context, id string) (*LogEntry, error)
	DeleteLogEntries(ctx context.Context, ids []string) error
	ClearLogEntries(ctx context.Context) error
}
