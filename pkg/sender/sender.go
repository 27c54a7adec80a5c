// Package sender builds HTTP requests and sends them with a caller-provided
// client, typically one whose transport is intercepted. It can also resend a
// captured log entry.
package sender

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	httpx "github.com/dstotijn/netlog/pkg/http"
	"github.com/dstotijn/netlog/pkg/log"
	"github.com/dstotijn/netlog/pkg/reqlog"
)

var defaultHTTPClient = &http.Client{
	Timeout: 30 * time.Second,
}

var (
	ErrURLMustBeSet    = errors.New("sender: URL must be set")
	ErrStoreMustBeSet  = errors.New("sender: store must be set")
	ErrRequestNotFound = errors.New("sender: request not found")
)

type Service struct {
	store      *reqlog.Store
	httpClient *http.Client
	logger     log.Logger
}

type Config struct {
	// Store is used to look up entries to resend.
	Store      *reqlog.Store
	HTTPClient *http.Client
	Logger     log.Logger
}

// Request describes a request to send.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is the result of a sent request. The body is read completely.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Duration   time.Duration
}

type SendError struct {
	err error
}

func NewService(cfg Config) *Service {
	svc := &Service{
		store:      cfg.Store,
		httpClient: defaultHTTPClient,
		logger:     cfg.Logger,
	}

	if cfg.HTTPClient != nil {
		svc.httpClient = cfg.HTTPClient
	}

	if svc.logger == nil {
		svc.logger = log.NewNopLogger()
	}

	return svc
}

// SendRequest sends req. Transport failures are returned as a *SendError
// wrapping the client's error.
func (svc *Service) SendRequest(ctx context.Context, req Request) (*Response, error) {
	if req.URL == "" {
		return nil, ErrURLMustBeSet
	}

	httpReq, err := parseHTTPRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("sender: failed to parse HTTP request: %w", err)
	}

	res, err := svc.sendHTTPRequest(httpReq)
	if err != nil {
		svc.logger.Debugw("Failed to send request.",
			"method", httpReq.Method,
			"url", req.URL,
			"error", err)

		return nil, err
	}

	return res, nil
}

// ResendLogEntry sends the request of the stored entry with the given ID
// again. The response of the new exchange is returned.
func (svc *Service) ResendLogEntry(ctx context.Context, id string) (*Response, error) {
	if svc.store == nil {
		return nil, ErrStoreMustBeSet
	}

	entry, err := svc.store.ByID(id)
	if errors.Is(err, reqlog.ErrLogEntryNotFound) {
		return nil, ErrRequestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sender: failed to find log entry: %w", err)
	}

	return svc.SendRequest(ctx, Request{
		Method:  entry.Method,
		URL:     entry.URL,
		Headers: entry.RequestHeaders,
		Body:    entry.RequestBody,
	})
}

func parseHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to construct HTTP request: %w", err)
	}

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	return httpReq, nil
}

func (svc *Service) sendHTTPRequest(httpReq *http.Request) (*Response, error) {
	start := time.Now()

	res, err := svc.httpClient.Do(httpReq)
	if err != nil {
		return nil, &SendError{err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("sender: failed to read response body: %w", err)
	}

	return &Response{
		StatusCode: res.StatusCode,
		Headers:    httpx.ParseHeader(res.Header),
		Body:       body,
		Duration:   time.Since(start),
	}, nil
}

func (e SendError) Error() string {
	return fmt.Sprintf("failed to send HTTP request: %v", e.err)
}

func (e SendError) Unwrap() error {
	return e.err
}
