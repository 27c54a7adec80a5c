// Package netlog ties capture, storage and redaction together.
//
// A Service owns an intercept.Interceptor whose entries are written to a
// reqlog.Store by a single writer goroutine, in the order the exchanges
// completed. Two independent switches control it: interception
// (Register/Unregister) decides whether traffic is observed, persistence
// (SetPersistenceEnabled) decides whether observed entries are stored.
package netlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dstotijn/netlog/pkg/export"
	"github.com/dstotijn/netlog/pkg/intercept"
	"github.com/dstotijn/netlog/pkg/log"
	"github.com/dstotijn/netlog/pkg/metrics"
	"github.com/dstotijn/netlog/pkg/privacy"
	"github.com/dstotijn/netlog/pkg/reqlog"
)

var ErrServiceClosed = errors.New("netlog: service closed")

type Service struct {
	mu                 sync.RWMutex
	privacy            privacy.Settings
	persistenceEnabled bool

	store       *reqlog.Store
	interceptor *intercept.Interceptor
	logger      log.Logger
	metrics     *metrics.Metrics

	queueMu sync.Mutex
	queue   []queueItem
	notify  chan struct{}
	closed  bool
	done    chan struct{}
}

// queueItem is either an entry to write, or a flush marker that is closed
// once every entry queued before it has been written.
type queueItem struct {
	entry   *reqlog.LogEntry
	flushed chan struct{}
}

type Config struct {
	Store   *reqlog.Store
	Logger  log.Logger
	Metrics *metrics.Metrics
	// Privacy defaults to privacy.DefaultSettings.
	Privacy             *privacy.Settings
	PersistenceDisabled bool
	// Transport is the real transport wrapped by the interceptor.
	Transport   http.RoundTripper
	MaxBodySize int64
}

// NewService returns a running Service. Interception starts unregistered;
// call Register to start capturing. Close releases the writer goroutine.
func NewService(cfg Config) *Service {
	svc := &Service{
		persistenceEnabled: !cfg.PersistenceDisabled,
		store:              cfg.Store,
		logger:             cfg.Logger,
		metrics:            cfg.Metrics,
		notify:             make(chan struct{}, 1),
		done:               make(chan struct{}),
	}

	if svc.logger == nil {
		svc.logger = log.NewNopLogger()
	}

	if svc.store == nil {
		svc.store = reqlog.NewStore(reqlog.Config{
			Logger:  svc.logger,
			Metrics: svc.metrics,
		})
	}

	if cfg.Privacy != nil {
		svc.privacy = cfg.Privacy.Clone()
	} else {
		svc.privacy = privacy.DefaultSettings()
	}

	svc.interceptor = intercept.New(intercept.Config{
		Transport:   cfg.Transport,
		Sink:        svc,
		MaxBodySize: cfg.MaxBodySize,
		Logger:      svc.logger,
		Metrics:     svc.metrics,
	})

	go svc.write()

	return svc
}

// Log stores entry if persistence is enabled, and discards it otherwise.
// The write happens asynchronously; use Flush to wait for it.
func (svc *Service) Log(entry *reqlog.LogEntry) {
	if !svc.PersistenceEnabled() {
		svc.metrics.IncDiscarded()
		svc.logger.Debugw("Discarded log entry: persistence disabled.",
			"id", entry.ID)

		return
	}

	svc.queueMu.Lock()
	defer svc.queueMu.Unlock()

	if svc.closed {
		svc.logger.Errorw("Discarded log entry: service closed.",
			"id", entry.ID)

		return
	}

	svc.enqueue(queueItem{entry: entry})
}

// enqueue must be called with queueMu held.
func (svc *Service) enqueue(item queueItem) {
	svc.queue = append(svc.queue, item)

	select {
	case svc.notify <- struct{}{}:
	default:
	}
}

func (svc *Service) write() {
	defer close(svc.done)

	for range svc.notify {
		svc.drain()
	}

	svc.drain()
}

func (svc *Service) drain() {
	for {
		svc.queueMu.Lock()
		batch := svc.queue
		svc.queue = nil
		svc.queueMu.Unlock()

		if len(batch) == 0 {
			return
		}

		for _, item := range batch {
			if item.flushed != nil {
				close(item.flushed)
				continue
			}

			svc.append(item.entry)
		}
	}
}

func (svc *Service) append(entry *reqlog.LogEntry) {
	if err := svc.store.Append(context.Background(), entry); err != nil {
		svc.logger.Errorw("Failed to store log entry.",
			"id", entry.ID,
			"error", err)

		return
	}

	svc.logger.Debugw("Stored log entry.",
		"id", entry.ID,
		"url", entry.URL)
}

// Flush blocks until every entry logged before the call has been written, or
// ctx is done.
func (svc *Service) Flush(ctx context.Context) error {
	flushed := make(chan struct{})

	svc.queueMu.Lock()
	if svc.closed {
		svc.queueMu.Unlock()
		<-svc.done

		return nil
	}
	svc.enqueue(queueItem{flushed: flushed})
	svc.queueMu.Unlock()

	select {
	case <-flushed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops interception, writes all queued entries and stops the writer.
// Entries logged after Close are discarded.
func (svc *Service) Close() error {
	svc.interceptor.Unregister()

	svc.queueMu.Lock()
	if svc.closed {
		svc.queueMu.Unlock()
		return ErrServiceClosed
	}
	svc.closed = true
	close(svc.notify)
	svc.queueMu.Unlock()

	<-svc.done

	return nil
}

// ClearLogs removes all stored entries.
func (svc *Service) ClearLogs(ctx context.Context) error {
	if err := svc.store.Clear(ctx); err != nil {
		svc.logger.Errorw("Failed to clear log entries.",
			"error", err)

		return err
	}

	return nil
}

func (svc *Service) Store() *reqlog.Store {
	return svc.store
}

// Entries returns the stored entries matching filter, newest first, without
// redaction.
func (svc *Service) Entries(filter reqlog.Filter) []*reqlog.LogEntry {
	return svc.store.Find(filter)
}

// FilteredEntries returns the stored entries matching filter, redacted with
// the current privacy settings.
func (svc *Service) FilteredEntries(filter reqlog.Filter) []*reqlog.LogEntry {
	return privacy.FilterEntries(svc.store.Find(filter), svc.PrivacySettings())
}

// FilteredEntry returns a redacted copy of the entry with the given ID.
func (svc *Service) FilteredEntry(id string) (*reqlog.LogEntry, error) {
	entry, err := svc.store.ByID(id)
	if err != nil {
		return nil, err
	}

	return privacy.FilterEntry(entry, svc.PrivacySettings()), nil
}

// PrivacySettings returns a copy of the current settings.
func (svc *Service) PrivacySettings() privacy.Settings {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	return svc.privacy.Clone()
}

func (svc *Service) SetPrivacySettings(s privacy.Settings) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	svc.privacy = s.Clone()
}

// UpdatePrivacySettings mutates the settings in place under the service lock.
func (svc *Service) UpdatePrivacySettings(fn func(s *privacy.Settings)) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	fn(&svc.privacy)
}

func (svc *Service) PersistenceEnabled() bool {
	svc.mu.RLock()
	defer svc.mu.RUnlock()

	return svc.persistenceEnabled
}

func (svc *Service) SetPersistenceEnabled(enabled bool) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	svc.persistenceEnabled = enabled
}

// Register starts capturing traffic sent through Transport or Client.
func (svc *Service) Register() {
	svc.interceptor.Register()
}

func (svc *Service) Unregister() {
	svc.interceptor.Unregister()
}

func (svc *Service) Intercepting() bool {
	return svc.interceptor.Active()
}

func (svc *Service) Interceptor() *intercept.Interceptor {
	return svc.interceptor
}

// Transport returns the intercepted transport.
func (svc *Service) Transport() http.RoundTripper {
	return svc.interceptor
}

// Client returns an HTTP client using the intercepted transport.
func (svc *Service) Client() *http.Client {
	return &http.Client{Transport: svc.interceptor}
}

// Export writes the stored entries matching filter in the given format,
// redacted with the current privacy settings.
func (svc *Service) Export(w io.Writer, format export.Format, filter reqlog.Filter) error {
	settings := svc.PrivacySettings()
	entries := svc.store.Find(filter)

	switch format {
	case export.FormatText, "":
		return export.WriteEntries(w, entries, settings, time.Now())
	case export.FormatJSON:
		return export.WriteJSON(w, entries, settings)
	default:
		return fmt.Errorf("netlog: %w: %q", export.ErrUnknownFormat, format)
	}
}
