package reqlog

import (
	"strconv"
	"strings"
)

// Filter selects log entries. Zero-valued fields match every entry.
type Filter struct {
	// Search matches case-insensitively against the URL and method, and
	// against the decimal status code.
	Search     string
	Method     string
	Host       string
	StatusCode int
	// MediaType is one of the MediaType constants.
	MediaType string
	Limit     int
}

// Matches returns true if entry satisfies every criterion of the filter.
func (f Filter) Matches(entry *LogEntry) bool {
	if f.Search != "" && !entry.matchSearch(f.Search) {
		return false
	}

	if f.Method != "" && entry.Method != f.Method {
		return false
	}

	if f.Host != "" && entry.Host() != f.Host {
		return false
	}

	if f.StatusCode != 0 && (entry.ResponseStatusCode == nil || *entry.ResponseStatusCode != f.StatusCode) {
		return false
	}

	if f.MediaType != "" && entry.MediaType() != f.MediaType {
		return false
	}

	return true
}

func (e *LogEntry) matchSearch(s string) bool {
	needle := strings.ToLower(s)

	if strings.Contains(strings.ToLower(e.URL), needle) {
		return true
	}

	if strings.Contains(strings.ToLower(e.Method), needle) {
		return true
	}

	if e.ResponseStatusCode != nil && strings.Contains(strconv.Itoa(*e.ResponseStatusCode), s) {
		return true
	}

	return false
}
