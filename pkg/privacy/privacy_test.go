package privacy_test

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/dstotijn/netlog/pkg/privacy"
	"github.com/dstotijn/netlog/pkg/reqlog"
	"github.com/dstotijn/netlog/pkg/testutil"
)

func TestFilterHeaders(t *testing.T) {
	t.Parallel()

	headers := map[string]string{
		"Authorization": "x",
		"X-Foo":         "y",
	}

	tests := []struct {
		name     string
		settings func() privacy.Settings
		headers  map[string]string
		exp      map[string]string
	}{
		{
			name:     "excludes sensitive headers",
			settings: privacy.DefaultSettings,
			headers:  headers,
			exp:      map[string]string{"X-Foo": "y"},
		},
		{
			name: "keeps all headers when exclusion is disabled",
			settings: func() privacy.Settings {
				s := privacy.DefaultSettings()
				s.ExcludeSensitiveHeaders = false
				return s
			},
			headers: headers,
			exp:     headers,
		},
		{
			name: "matches added keys case-insensitively",
			settings: func() privacy.Settings {
				s := privacy.Settings{ExcludeSensitiveHeaders: true}
				s.AddSensitiveHeader("authorization")
				return s
			},
			headers: headers,
			exp:     map[string]string{"X-Foo": "y"},
		},
		{
			name: "matches header keys case-insensitively",
			settings: func() privacy.Settings {
				return privacy.DefaultSettings()
			},
			headers: map[string]string{"COOKIE": "a=b", "x-api-key": "secret", "Accept": "*/*"},
			exp:     map[string]string{"Accept": "*/*"},
		},
		{
			name: "removed key is kept",
			settings: func() privacy.Settings {
				s := privacy.DefaultSettings()
				s.RemoveSensitiveHeader("AUTHORIZATION")
				return s
			},
			headers: headers,
			exp:     headers,
		},
		{
			name:     "nil headers",
			settings: privacy.DefaultSettings,
			headers:  nil,
			exp:      nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := privacy.FilterHeaders(tt.headers, tt.settings())
			testutil.Diff(t, "filtered headers not equal", tt.exp, got)
		})
	}
}

func TestFilterHeadersReturnsCopy(t *testing.T) {
	t.Parallel()

	headers := map[string]string{"X-Foo": "y"}
	s := privacy.DefaultSettings()
	s.ExcludeSensitiveHeaders = false

	got := privacy.FilterHeaders(headers, s)
	got["X-Foo"] = "modified"

	if headers["X-Foo"] != "y" {
		t.Fatalf("expected input headers to be unchanged, got: %v", headers)
	}
}

func TestDefaultSettings(t *testing.T) {
	t.Parallel()

	s := privacy.DefaultSettings()

	if !s.ExcludeSensitiveHeaders || s.ExcludeRequestBody || s.ExcludeResponseBody {
		t.Fatalf("unexpected default flags: %+v", s)
	}

	exp := make([]string, len(privacy.DefaultSensitiveHeaders))
	for i, key := range privacy.DefaultSensitiveHeaders {
		exp[i] = strings.ToLower(key)
	}

	slices.Sort(exp)

	testutil.Diff(t, "sensitive headers not equal", exp, s.SensitiveHeaders())

	for _, key := range []string{"Authorization", "set-cookie", "X-CSRF-TOKEN", "bearer"} {
		if !s.ShouldExcludeHeader(key) {
			t.Fatalf("expected %q to be excluded", key)
		}
	}
}

func TestSettingsClone(t *testing.T) {
	t.Parallel()

	s := privacy.DefaultSettings()
	clone := s.Clone()
	clone.AddSensitiveHeader("X-Custom")

	if s.IsSensitiveHeader("X-Custom") {
		t.Fatal("expected original settings to be unchanged")
	}
}

func TestFilterEntry(t *testing.T) {
	t.Parallel()

	entry := &reqlog.LogEntry{
		ID:                 reqlog.NewID(time.Now()),
		Timestamp:          time.Now(),
		Method:             "POST",
		URL:                "https://example.com/login",
		RequestHeaders:     map[string]string{"Authorization": "Bearer foo", "Content-Type": "application/json"},
		RequestBody:        []byte(`{"password":"hunter2"}`),
		ResponseStatusCode: testutil.IntPtr(200),
		ResponseHeaders:    map[string]string{"Set-Cookie": "session=abc", "Content-Type": "application/json"},
		ResponseBody:       []byte(`{"ok":true}`),
	}
	orig := entry.Clone()

	s := privacy.DefaultSettings()
	s.ExcludeRequestBody = true

	got := privacy.FilterEntry(entry, s)

	exp := entry.Clone()
	exp.RequestHeaders = map[string]string{"Content-Type": "application/json"}
	exp.RequestBody = nil
	exp.ResponseHeaders = map[string]string{"Content-Type": "application/json"}

	testutil.Diff(t, "filtered log entry not equal", exp, got)
	testutil.Diff(t, "stored log entry was mutated", orig, entry)

	if !privacy.ShouldIncludeResponseBody(s) || privacy.ShouldIncludeRequestBody(s) {
		t.Fatal("unexpected body inclusion")
	}
}

func TestParse(t *testing.T) {
	t.Parallel()

	t.Run("empty document yields defaults", func(t *testing.T) {
		t.Parallel()

		got, err := privacy.Parse(strings.NewReader(""))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		testutil.Diff(t, "settings not equal", privacy.DefaultSettings().Document(), got.Document())
	})

	t.Run("applies policy on top of defaults", func(t *testing.T) {
		t.Parallel()

		policy := `
exclude_request_body: true
exclude_response_body: true
sensitive_headers:
  - X-Internal-Secret
allowed_headers:
  - Cookie
`

		got, err := privacy.Parse(strings.NewReader(policy))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !got.ExcludeSensitiveHeaders || !got.ExcludeRequestBody || !got.ExcludeResponseBody {
			t.Fatalf("unexpected flags: %+v", got)
		}

		if !got.IsSensitiveHeader("x-internal-secret") {
			t.Fatal("expected added header to be sensitive")
		}

		if got.IsSensitiveHeader("Cookie") {
			t.Fatal("expected allowed header not to be sensitive")
		}

		if !got.IsSensitiveHeader("Authorization") {
			t.Fatal("expected default header to stay sensitive")
		}
	})

	t.Run("invalid document", func(t *testing.T) {
		t.Parallel()

		_, err := privacy.Parse(strings.NewReader("exclude_request_body: [not a bool"))
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	})
}
