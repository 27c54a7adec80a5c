package reqlog

import (
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/dstotijn/netlog/pkg/http"
)

// Media types derived from a response's Content-Type.
const (
	MediaTypeImage = "image"
	MediaTypeVideo = "video"
	MediaTypeAudio = "audio"
)

// LogEntry is one captured request/response cycle. Entries are immutable once
// handed to a Store; use Clone before modifying a copy.
type LogEntry struct {
	ID             string            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	RequestHeaders map[string]string `json:"requestHeaders"`
	RequestBody    []byte            `json:"requestBody,omitempty"`

	// ResponseStatusCode is nil when the exchange failed before response
	// headers were read. ResponseHeaders is non-nil whenever it is set.
	ResponseStatusCode *int              `json:"responseStatusCode,omitempty"`
	ResponseHeaders    map[string]string `json:"responseHeaders,omitempty"`
	ResponseBody       []byte            `json:"responseBody,omitempty"`

	// Duration in seconds, from send start to completion.
	Duration *float64 `json:"duration,omitempty"`
}

// NewID returns a ULID for an entry captured at t. IDs generated one after
// another for the same millisecond are strictly increasing; concurrent callers
// get no ordering guarantee.
func NewID(t time.Time) string {
	return ulid.MustNew(ulid.Timestamp(t), ulid.DefaultEntropy()).String()
}

func (e *LogEntry) Clone() *LogEntry {
	clone := *e
	clone.RequestHeaders = http.CloneHeaders(e.RequestHeaders)
	clone.ResponseHeaders = http.CloneHeaders(e.ResponseHeaders)
	clone.RequestBody = cloneBytes(e.RequestBody)
	clone.ResponseBody = cloneBytes(e.ResponseBody)

	if e.ResponseStatusCode != nil {
		code := *e.ResponseStatusCode
		clone.ResponseStatusCode = &code
	}

	if e.Duration != nil {
		d := *e.Duration
		clone.Duration = &d
	}

	return &clone
}

// Failed reports whether the exchange ended without a response.
func (e *LogEntry) Failed() bool {
	return e.ResponseStatusCode == nil
}

func (e *LogEntry) Host() string {
	u, err := url.Parse(e.URL)
	if err != nil {
		return ""
	}

	return u.Hostname()
}

func (e *LogEntry) ContentType() string {
	v, _ := http.Lookup(e.ResponseHeaders, "Content-Type")
	return v
}

// MediaType returns one of the MediaType constants, or an empty string if the
// response isn't media.
func (e *LogEntry) MediaType() string {
	ct := e.ContentType()

	for _, mt := range []string{MediaTypeImage, MediaTypeVideo, MediaTypeAudio} {
		if strings.HasPrefix(ct, mt+"/") {
			return mt
		}
	}

	return ""
}

// SortEntries orders entries by timestamp, newest first. Entries sharing a
// timestamp are ordered by ID, highest first.
func SortEntries(entries []*LogEntry) {
	slices.SortStableFunc(entries, compareEntries)
}

func compareEntries(a, b *LogEntry) int {
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}

	return strings.Compare(b.ID, a.ID)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	return append([]byte{}, b...)
}

// Seconds converts d into the representation used for LogEntry.Duration.
func Seconds(d time.Duration) *float64 {
	if d < 0 {
		d = 0
	}

	s := d.Seconds()

	return &s
}
