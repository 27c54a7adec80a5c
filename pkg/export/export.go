// Package export renders log entries for human consumption. All output is
// redacted with the privacy settings passed in.
package export

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/dstotijn/netlog/pkg/privacy"
	"github.com/dstotijn/netlog/pkg/reqlog"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

var ErrUnknownFormat = errors.New("unknown export format")

const (
	binaryBody    = "Binary data"
	privacyNotice = "Some sensitive information has been excluded from this export for privacy reasons."
)

// WriteEntry writes the details of a single entry.
func WriteEntry(w io.Writer, entry *reqlog.LogEntry, settings privacy.Settings) error {
	bw := bufio.NewWriter(w)
	filtered := privacy.FilterEntry(entry, settings)

	fmt.Fprint(bw, "=== Request Details ===\n\n")
	fmt.Fprintf(bw, "Method: %v\n", filtered.Method)
	fmt.Fprintf(bw, "URL: %v\n", filtered.URL)
	fmt.Fprintf(bw, "Timestamp: %v\n", formatTime(filtered.Timestamp))

	if filtered.ResponseStatusCode != nil {
		fmt.Fprintf(bw, "Status Code: %d\n", *filtered.ResponseStatusCode)
	}

	if filtered.Duration != nil {
		fmt.Fprintf(bw, "Duration: %.3fs\n", *filtered.Duration)
	}

	if len(filtered.RequestHeaders) > 0 {
		fmt.Fprint(bw, "\n--- Request Headers ---\n")
		writeHeaders(bw, "", filtered.RequestHeaders)
	}

	if filtered.RequestBody != nil {
		fmt.Fprint(bw, "\n--- Request Body ---\n")
		fmt.Fprintf(bw, "%s\n", bodyString(filtered.RequestBody))
	}

	if len(filtered.ResponseHeaders) > 0 {
		fmt.Fprint(bw, "\n--- Response Headers ---\n")
		writeHeaders(bw, "", filtered.ResponseHeaders)
	}

	if filtered.ResponseBody != nil {
		fmt.Fprint(bw, "\n--- Response Body ---\n")
		fmt.Fprintf(bw, "%s\n", bodyString(filtered.ResponseBody))
	}

	if settings.ExclusionActive() {
		fmt.Fprint(bw, "\n--- Privacy Notice ---\n")
		fmt.Fprintf(bw, "%s\n", privacyNotice)
	}

	return bw.Flush()
}

// WriteEntries writes an export of multiple entries, in the given order.
func WriteEntries(w io.Writer, entries []*reqlog.LogEntry, settings privacy.Settings, generatedAt time.Time) error {
	bw := bufio.NewWriter(w)

	fmt.Fprint(bw, "=== Network Logs Export ===\n\n")
	fmt.Fprintf(bw, "Generated: %v\n", formatTime(generatedAt))
	fmt.Fprintf(bw, "Total Requests: %d\n", len(entries))

	if settings.ExcludeSensitiveHeaders {
		fmt.Fprint(bw, "Note: Sensitive headers have been excluded for privacy\n")
	}
	if settings.ExcludeRequestBody {
		fmt.Fprint(bw, "Note: Request bodies have been excluded for privacy\n")
	}
	if settings.ExcludeResponseBody {
		fmt.Fprint(bw, "Note: Response bodies have been excluded for privacy\n")
	}

	fmt.Fprint(bw, "\n")

	for i, entry := range entries {
		filtered := privacy.FilterEntry(entry, settings)

		fmt.Fprintf(bw, "[%d] %v %v\n", i+1, filtered.Method, filtered.URL)
		fmt.Fprintf(bw, "Time: %v\n", formatTime(filtered.Timestamp))

		if filtered.ResponseStatusCode != nil {
			fmt.Fprintf(bw, "Status: %d\n", *filtered.ResponseStatusCode)
		}

		if filtered.Duration != nil {
			fmt.Fprintf(bw, "Duration: %.3fs\n", *filtered.Duration)
		}

		if len(filtered.RequestHeaders) > 0 {
			fmt.Fprint(bw, "Request Headers:\n")
			writeHeaders(bw, "  ", filtered.RequestHeaders)
		}

		if filtered.RequestBody != nil {
			fmt.Fprintf(bw, "Request Body: %s\n", bodyString(filtered.RequestBody))
		}

		if len(filtered.ResponseHeaders) > 0 {
			fmt.Fprint(bw, "Response Headers:\n")
			writeHeaders(bw, "  ", filtered.ResponseHeaders)
		}

		if filtered.ResponseBody != nil {
			fmt.Fprintf(bw, "Response Body: %s\n", bodyString(filtered.ResponseBody))
		}

		fmt.Fprint(bw, "\n")
	}

	if settings.ExclusionActive() {
		fmt.Fprint(bw, "--- Privacy Notice ---\n")
		fmt.Fprintf(bw, "%s\n", privacyNotice)
	}

	return bw.Flush()
}

// Entry is the JSON representation of an exported log entry.
type Entry struct {
	ID                 string            `json:"id"`
	Timestamp          time.Time         `json:"timestamp"`
	Method             string            `json:"method"`
	URL                string            `json:"url"`
	RequestHeaders     map[string]string `json:"requestHeaders"`
	RequestBody        *string           `json:"requestBody,omitempty"`
	ResponseStatusCode *int              `json:"responseStatusCode"`
	ResponseHeaders    map[string]string `json:"responseHeaders"`
	ResponseBody       *string           `json:"responseBody,omitempty"`
	Duration           *float64          `json:"duration"`
}

// NewEntry returns the redacted JSON representation of entry.
func NewEntry(entry *reqlog.LogEntry, settings privacy.Settings) Entry {
	filtered := privacy.FilterEntry(entry, settings)

	return Entry{
		ID:                 filtered.ID,
		Timestamp:          filtered.Timestamp,
		Method:             filtered.Method,
		URL:                filtered.URL,
		RequestHeaders:     filtered.RequestHeaders,
		RequestBody:        bodyPtr(filtered.RequestBody),
		ResponseStatusCode: filtered.ResponseStatusCode,
		ResponseHeaders:    filtered.ResponseHeaders,
		ResponseBody:       bodyPtr(filtered.ResponseBody),
		Duration:           filtered.Duration,
	}
}

type document struct {
	Entries       []Entry `json:"entries"`
	PrivacyNotice string  `json:"privacyNotice,omitempty"`
}

// WriteJSON writes entries as a JSON document.
func WriteJSON(w io.Writer, entries []*reqlog.LogEntry, settings privacy.Settings) error {
	doc := document{
		Entries: make([]Entry, len(entries)),
	}

	for i, entry := range entries {
		doc.Entries[i] = NewEntry(entry, settings)
	}

	if settings.ExclusionActive() {
		doc.PrivacyNotice = privacyNotice
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("export: failed to encode entries: %w", err)
	}

	return nil
}

func writeHeaders(w io.Writer, indent string, headers map[string]string) {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		fmt.Fprintf(w, "%s%v: %v\n", indent, k, headers[k])
	}
}

func bodyString(b []byte) string {
	if !utf8.Valid(b) {
		return binaryBody
	}

	return string(b)
}

func bodyPtr(b []byte) *string {
	if b == nil {
		return nil
	}

	s := bodyString(b)

	return &s
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
