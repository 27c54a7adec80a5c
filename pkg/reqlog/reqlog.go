package reqlog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dstotijn/netlog/pkg/log"
	"github.com/dstotijn/netlog/pkg/metrics"
)

// DefaultMaxEntries is the retention bound of a Store.
const DefaultMaxEntries = 1000

var (
	ErrLogEntryNotFound = errors.New("reqlog: log entry not found")
	ErrInvalidLogEntry  = errors.New("reqlog: log entry must have an ID")
)

// Store is an ordered, bounded record of log entries. Entries are kept in
// memory, newest first, and mirrored to a Repository. When the repository
// fails, the store keeps operating in memory and reports itself as degraded
// until the next successful write.
type Store struct {
	mu         sync.RWMutex
	entries    []*LogEntry
	maxEntries int
	degraded   bool
	repo       Repository
	logger     log.Logger
	metrics    *metrics.Metrics
}

type Config struct {
	// Repository is optional; without one the store is memory only.
	Repository Repository
	MaxEntries int
	Logger     log.Logger
	Metrics    *metrics.Metrics
}

func NewStore(cfg Config) *Store {
	s := &Store{
		maxEntries: cfg.MaxEntries,
		repo:       cfg.Repository,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}

	if s.maxEntries <= 0 {
		s.maxEntries = DefaultMaxEntries
	}

	if s.logger == nil {
		s.logger = log.NewNopLogger()
	}

	return s
}

// Load replaces the in-memory entries with the newest entries from the
// repository. Entries beyond the retention bound are deleted.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	entries, err := s.repo.FindLogEntries(ctx, 0)
	if err != nil {
		s.metrics.IncPersistenceError("find")
		return fmt.Errorf("reqlog: failed to find log entries: %w", err)
	}

	SortEntries(entries)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = entries

	return s.enforceRetention(ctx, s.maxEntries)
}

// Append inserts entry and enforces retention. An entry with an ID that is
// already stored replaces the existing one. Repository errors are returned,
// but the entry is kept in memory regardless.
func (s *Store) Append(ctx context.Context, entry *LogEntry) error {
	if entry == nil || entry.ID == "" {
		return ErrInvalidLogEntry
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(entry.ID)
	s.insert(entry)

	var insertErr error

	if s.repo != nil {
		if err := s.repo.InsertLogEntry(ctx, entry); err != nil {
			s.degraded = true
			s.metrics.IncPersistenceError("insert")
			insertErr = fmt.Errorf("reqlog: failed to insert log entry: %w", err)
		} else {
			s.degraded = false
		}
	}

	return errors.Join(insertErr, s.enforceRetention(ctx, s.maxEntries))
}

// EnforceRetention evicts the oldest entries until at most maxCount remain.
func (s *Store) EnforceRetention(ctx context.Context, maxCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.enforceRetention(ctx, maxCount)
}

func (s *Store) enforceRetention(ctx context.Context, maxCount int) error {
	defer func() { s.metrics.SetStored(len(s.entries)) }()

	if maxCount < 0 {
		maxCount = 0
	}

	if len(s.entries) <= maxCount {
		return nil
	}

	evicted := s.entries[maxCount:]
	ids := make([]string, len(evicted))

	for i, entry := range evicted {
		ids[i] = entry.ID
	}

	clear(evicted)
	s.entries = s.entries[:maxCount]

	s.metrics.AddEvicted(len(ids))
	s.logger.Debugw("Evicted log entries.",
		"count", len(ids))

	if s.repo == nil {
		return nil
	}

	if err := s.repo.DeleteLogEntries(ctx, ids); err != nil {
		s.degraded = true
		s.metrics.IncPersistenceError("delete")

		return fmt.Errorf("reqlog: failed to delete evicted log entries: %w", err)
	}

	return nil
}

// All returns a snapshot of all entries, newest first.
func (s *Store) All() []*LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Clone(s.entries)
}

// Find returns a snapshot of the entries matching filter, newest first.
func (s *Store) Find(filter Filter) []*LogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := []*LogEntry{}

	for _, entry := range s.entries {
		if !filter.Matches(entry) {
			continue
		}

		entries = append(entries, entry)

		if filter.Limit > 0 && len(entries) == filter.Limit {
			break
		}
	}

	return entries
}

func (s *Store) ByID(id string) (*LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.index(id); i >= 0 {
		return s.entries[i], nil
	}

	return nil, ErrLogEntryNotFound
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// Clear removes all entries, in memory and in the repository.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = nil
	s.metrics.SetStored(0)

	if s.repo == nil {
		return nil
	}

	if err := s.repo.ClearLogEntries(ctx); err != nil {
		s.degraded = true
		s.metrics.IncPersistenceError("clear")

		return fmt.Errorf("reqlog: failed to clear log entries: %w", err)
	}

	return nil
}

// Degraded reports whether the last repository operation failed.
func (s *Store) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.degraded
}

func (s *Store) MaxEntries() int {
	return s.maxEntries
}

func (s *Store) insert(entry *LogEntry) {
	i, _ := slices.BinarySearchFunc(s.entries, entry, compareEntries)
	s.entries = slices.Insert(s.entries, i, entry)
}

func (s *Store) remove(id string) {
	if i := s.index(id); i >= 0 {
		s.entries = slices.Delete(s.entries, i, i+1)
	}
}

func (s *Store) index(id string) int {
	return slices.IndexFunc(s.entries, func(e *LogEntry) bool {
		return e.ID == id
	})
}
