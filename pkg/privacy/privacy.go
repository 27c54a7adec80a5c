// Package privacy redacts captured traffic before it is displayed or exported.
//
// Filtering works on copies: stored log entries keep their raw data, so
// changing the settings later changes what is shown, not what is kept.
package privacy

import (
	"sort"
	"strings"

	httpx "github.com/dstotijn/netlog/pkg/http"
	"github.com/dstotijn/netlog/pkg/reqlog"
)

// DefaultSensitiveHeaders are redacted unless removed from the settings.
var DefaultSensitiveHeaders = []string{
	"Authorization",
	"Cookie",
	"Set-Cookie",
	"X-Auth-Token",
	"X-API-Key",
	"Bearer",
	"X-Session-ID",
	"X-CSRF-Token",
	"X-Access-Token",
	"X-Refresh-Token",
}

// Settings is a redaction policy. The zero value redacts nothing; use
// DefaultSettings for the default policy.
type Settings struct {
	ExcludeSensitiveHeaders bool
	ExcludeRequestBody      bool
	ExcludeResponseBody     bool

	// Lower-cased header keys.
	sensitiveHeaderKeys map[string]struct{}
}

func DefaultSettings() Settings {
	s := Settings{
		ExcludeSensitiveHeaders: true,
	}

	for _, key := range DefaultSensitiveHeaders {
		s.AddSensitiveHeader(key)
	}

	return s
}

// AddSensitiveHeader adds key to the redacted set. Keys are compared
// case-insensitively; an empty key is stored as is.
func (s *Settings) AddSensitiveHeader(key string) {
	if s.sensitiveHeaderKeys == nil {
		s.sensitiveHeaderKeys = make(map[string]struct{})
	}

	s.sensitiveHeaderKeys[strings.ToLower(key)] = struct{}{}
}

func (s *Settings) RemoveSensitiveHeader(key string) {
	delete(s.sensitiveHeaderKeys, strings.ToLower(key))
}

// SetSensitiveHeaders replaces the redacted set.
func (s *Settings) SetSensitiveHeaders(keys []string) {
	s.sensitiveHeaderKeys = make(map[string]struct{}, len(keys))

	for _, key := range keys {
		s.AddSensitiveHeader(key)
	}
}

// IsSensitiveHeader reports whether key is in the redacted set, regardless of
// whether header redaction is enabled.
func (s Settings) IsSensitiveHeader(key string) bool {
	_, ok := s.sensitiveHeaderKeys[strings.ToLower(key)]
	return ok
}

// ShouldExcludeHeader reports whether a header with key is redacted.
func (s Settings) ShouldExcludeHeader(key string) bool {
	return s.ExcludeSensitiveHeaders && s.IsSensitiveHeader(key)
}

// SensitiveHeaders returns the lower-cased redacted keys, sorted.
func (s Settings) SensitiveHeaders() []string {
	keys := make([]string, 0, len(s.sensitiveHeaderKeys))
	for key := range s.sensitiveHeaderKeys {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

// ExclusionActive reports whether any data is redacted by s.
func (s Settings) ExclusionActive() bool {
	return s.ExcludeSensitiveHeaders || s.ExcludeRequestBody || s.ExcludeResponseBody
}

// Clone returns a deep copy, safe to mutate independently.
func (s Settings) Clone() Settings {
	clone := s
	clone.sensitiveHeaderKeys = make(map[string]struct{}, len(s.sensitiveHeaderKeys))

	for key := range s.sensitiveHeaderKeys {
		clone.sensitiveHeaderKeys[key] = struct{}{}
	}

	return clone
}

// FilterHeaders returns a copy of headers without the keys redacted by s.
// A nil map yields nil.
func FilterHeaders(headers map[string]string, s Settings) map[string]string {
	if !s.ExcludeSensitiveHeaders {
		return httpx.CloneHeaders(headers)
	}

	if headers == nil {
		return nil
	}

	filtered := make(map[string]string, len(headers))

	for key, value := range headers {
		if s.IsSensitiveHeader(key) {
			continue
		}
		filtered[key] = value
	}

	return filtered
}

func ShouldIncludeRequestBody(s Settings) bool {
	return !s.ExcludeRequestBody
}

func ShouldIncludeResponseBody(s Settings) bool {
	return !s.ExcludeResponseBody
}

// FilterEntry returns a redacted copy of entry. Excluded bodies are nil.
func FilterEntry(entry *reqlog.LogEntry, s Settings) *reqlog.LogEntry {
	filtered := entry.Clone()
	filtered.RequestHeaders = FilterHeaders(entry.RequestHeaders, s)
	filtered.ResponseHeaders = FilterHeaders(entry.ResponseHeaders, s)

	if !ShouldIncludeRequestBody(s) {
		filtered.RequestBody = nil
	}

	if !ShouldIncludeResponseBody(s) {
		filtered.ResponseBody = nil
	}

	return filtered
}

// FilterEntries applies FilterEntry to each entry.
func FilterEntries(entries []*reqlog.LogEntry, s Settings) []*reqlog.LogEntry {
	filtered := make([]*reqlog.LogEntry, len(entries))

	for i, entry := range entries {
		filtered[i] = FilterEntry(entry, s)
	}

	return filtered
}
