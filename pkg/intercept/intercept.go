// Package intercept captures outgoing HTTP exchanges by wrapping a real
// http.RoundTripper.
//
// Every exchange that reaches the real transport while the interceptor is
// registered produces exactly one log entry, whether it ends in a response or
// an error. Requests, responses and errors are passed through unchanged:
// nothing is added, retried or rewritten, and errors keep their identity.
// Cancelled requests are logged as failures.
//
// Responses are returned as soon as the transport returns them. Their body is
// captured while the caller reads it, and the entry is logged once the body
// ends or is closed. Callers that never close a response body never get it
// logged, just as they leak its connection.
package intercept

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	httpx "github.com/dstotijn/netlog/pkg/http"
	"github.com/dstotijn/netlog/pkg/log"
	"github.com/dstotijn/netlog/pkg/metrics"
	"github.com/dstotijn/netlog/pkg/reqlog"
)

// DefaultMaxBodySize is the number of body bytes captured per request and
// response. Bytes beyond it are passed through but not logged.
const DefaultMaxBodySize = 10 << 20

type contextKey int

const capturingKey contextKey = iota

// Sink receives captured entries. Log is called once per exchange when it
// completes: on a transport error, or when the response body has been read to
// the end, failed or been closed. It is called on whichever goroutine did
// that, so it must not block.
type Sink interface {
	Log(entry *reqlog.LogEntry)
}

type SinkFunc func(entry *reqlog.LogEntry)

func (fn SinkFunc) Log(entry *reqlog.LogEntry) {
	fn(entry)
}

type Interceptor struct {
	mu          sync.RWMutex
	active      bool
	transport   http.RoundTripper
	sink        Sink
	maxBodySize int64
	logger      log.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

type Config struct {
	// Transport performs the actual network I/O. Defaults to
	// http.DefaultTransport.
	Transport http.RoundTripper
	Sink      Sink
	// MaxBodySize caps captured body bytes. Zero means DefaultMaxBodySize, a
	// negative value disables body capture.
	MaxBodySize int64
	Logger      log.Logger
	Metrics     *metrics.Metrics
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// New returns an unregistered Interceptor.
func New(cfg Config) *Interceptor {
	i := &Interceptor{
		transport:   cfg.Transport,
		sink:        cfg.Sink,
		maxBodySize: cfg.MaxBodySize,
		logger:      cfg.Logger,
		metrics:     cfg.Metrics,
		now:         cfg.Now,
	}

	if i.transport == nil {
		i.transport = http.DefaultTransport
	}

	if i.sink == nil {
		i.sink = SinkFunc(func(*reqlog.LogEntry) {})
	}

	if i.maxBodySize == 0 {
		i.maxBodySize = DefaultMaxBodySize
	}

	if i.logger == nil {
		i.logger = log.NewNopLogger()
	}

	if i.now == nil {
		i.now = time.Now
	}

	return i
}

// Register activates capture. Calling it while registered is a no-op.
func (i *Interceptor) Register() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.active {
		return
	}

	i.active = true
	i.logger.Debugw("Registered interceptor.")
}

// Unregister deactivates capture. Calling it while unregistered is a no-op.
func (i *Interceptor) Unregister() {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.active {
		return
	}

	i.active = false
	i.logger.Debugw("Unregistered interceptor.")
}

func (i *Interceptor) Active() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()

	return i.active
}

// RoundTrip implements http.RoundTripper using the configured transport.
func (i *Interceptor) RoundTrip(req *http.Request) (*http.Response, error) {
	return i.roundTrip(i.transport, req)
}

// CloseIdleConnections closes idle connections of the configured transport,
// if it supports that.
func (i *Interceptor) CloseIdleConnections() {
	closeIdleConnections(i.transport)
}

// Middleware wraps next, capturing the exchanges it performs.
func (i *Interceptor) Middleware(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}

	return &transport{interceptor: i, next: next}
}

// WrapClient returns a copy of c whose transport is wrapped by the
// interceptor. c itself isn't modified.
func (i *Interceptor) WrapClient(c *http.Client) *http.Client {
	if c == nil {
		c = http.DefaultClient
	}

	clone := *c
	clone.Transport = i.Middleware(c.Transport)

	return &clone
}

type transport struct {
	interceptor *Interceptor
	next        http.RoundTripper
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.interceptor.roundTrip(t.next, req)
}

func (t *transport) CloseIdleConnections() {
	closeIdleConnections(t.next)
}

func closeIdleConnections(rt http.RoundTripper) {
	if c, ok := rt.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

func (i *Interceptor) roundTrip(next http.RoundTripper, req *http.Request) (*http.Response, error) {
	// Requests without a URL are rejected by every transport before dispatch,
	// and requests already being captured must not be captured twice.
	if !i.Active() || req.URL == nil || capturing(req.Context()) {
		return next.RoundTrip(req)
	}

	start := i.now()

	entry := &reqlog.LogEntry{
		ID:             reqlog.NewID(start),
		Timestamp:      start,
		Method:         req.Method,
		URL:            req.URL.String(),
		RequestHeaders: httpx.ParseHeader(req.Header),
	}

	if entry.Method == "" {
		entry.Method = http.MethodGet
	}

	out := req.Clone(context.WithValue(req.Context(), capturingKey, true))

	if req.Body != nil && req.Body != http.NoBody {
		entry.RequestBody, out.Body = i.captureRequestBody(req.Body)
	}

	res, err := next.RoundTrip(out)
	if err != nil {
		i.complete(entry, start, err)
		return res, err
	}

	code := res.StatusCode
	entry.ResponseStatusCode = &code
	entry.ResponseHeaders = httpx.ParseHeader(res.Header)

	// The transport sets the request it was given; callers expect their own.
	res.Request = req

	// An upgraded connection's body is the connection itself, and has no end
	// to wait for.
	if res.Body == nil || res.Body == http.NoBody || res.StatusCode == http.StatusSwitchingProtocols {
		i.complete(entry, start, nil)
		return res, nil
	}

	res.Body = i.newCaptureBody(res.Body, func(captured []byte) {
		entry.ResponseBody = captured
		i.complete(entry, start, nil)
	})

	return res, nil
}

func (i *Interceptor) complete(entry *reqlog.LogEntry, start time.Time, err error) {
	entry.Duration = reqlog.Seconds(i.now().Sub(start))

	i.metrics.ObserveCapture(entry.Failed(), *entry.Duration)

	if err != nil {
		i.logger.Debugw("Captured failed exchange.",
			"id", entry.ID,
			"method", entry.Method,
			"url", entry.URL,
			"error", err)
	} else {
		i.logger.Debugw("Captured exchange.",
			"id", entry.ID,
			"method", entry.Method,
			"url", entry.URL,
			"statusCode", *entry.ResponseStatusCode)
	}

	i.sink.Log(entry)
}

// captureRequestBody reads up to maxBodySize bytes from rc. The returned body
// yields exactly what rc would have: the captured bytes, then the remainder of
// rc, or the read error that ended capture. Closing it closes rc.
func (i *Interceptor) captureRequestBody(rc io.ReadCloser) ([]byte, io.ReadCloser) {
	if i.maxBodySize < 0 {
		return nil, rc
	}

	captured, err := io.ReadAll(io.LimitReader(rc, i.maxBodySize))

	var rest io.Reader = rc
	if err != nil {
		rest = errReader{err: err}
	}

	return captured, &replayBody{
		Reader: io.MultiReader(bytes.NewReader(captured), rest),
		Closer: rc,
	}
}

// captureBody copies up to limit bytes of what is read through it. done is
// called once, with the copied bytes, when a read returns an error (io.EOF
// included) or the body is closed. A negative limit copies nothing and passes
// nil to done.
type captureBody struct {
	rc    io.ReadCloser
	limit int64

	mu       sync.Mutex
	buf      bytes.Buffer
	finished bool
	done     func(captured []byte)
}

func (i *Interceptor) newCaptureBody(rc io.ReadCloser, done func(captured []byte)) *captureBody {
	return &captureBody{
		rc:    rc,
		limit: i.maxBodySize,
		done:  done,
	}
}

func (b *captureBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)

	b.mu.Lock()
	if !b.finished && b.limit >= 0 {
		if room := b.limit - int64(b.buf.Len()); room > 0 {
			b.buf.Write(p[:min(int64(n), room)])
		}
	}
	b.mu.Unlock()

	if err != nil {
		b.finish()
	}

	return n, err
}

func (b *captureBody) Close() error {
	err := b.rc.Close()
	b.finish()

	return err
}

func (b *captureBody) finish() {
	b.mu.Lock()
	if b.finished {
		b.mu.Unlock()
		return
	}
	b.finished = true

	var captured []byte
	if b.limit >= 0 {
		captured = bytes.Clone(b.buf.Bytes())
		if captured == nil {
			captured = []byte{}
		}
	}
	b.mu.Unlock()

	b.done(captured)
}

func capturing(ctx context.Context) bool {
	v, _ := ctx.Value(capturingKey).(bool)
	return v
}

type replayBody struct {
	io.Reader
	io.Closer
}

type errReader struct {
	err error
}

func (r errReader) Read([]byte) (int, error) {
	return 0, r.err
}
