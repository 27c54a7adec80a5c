package privacy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Document is the serialized form of Settings, used by policy files and the
// HTTP API.
type Document struct {
	ExcludeSensitiveHeaders *bool    `yaml:"exclude_sensitive_headers" json:"excludeSensitiveHeaders"`
	ExcludeRequestBody      *bool    `yaml:"exclude_request_body" json:"excludeRequestBody"`
	ExcludeResponseBody     *bool    `yaml:"exclude_response_body" json:"excludeResponseBody"`
	SensitiveHeaders        []string `yaml:"sensitive_headers" json:"sensitiveHeaders"`
	// AllowedHeaders are removed from the sensitive set after SensitiveHeaders
	// are added.
	AllowedHeaders []string `yaml:"allowed_headers,omitempty" json:"allowedHeaders,omitempty"`
}

// Document returns the complete serialized form of s.
func (s Settings) Document() Document {
	return Document{
		ExcludeSensitiveHeaders: &s.ExcludeSensitiveHeaders,
		ExcludeRequestBody:      &s.ExcludeRequestBody,
		ExcludeResponseBody:     &s.ExcludeResponseBody,
		SensitiveHeaders:        s.SensitiveHeaders(),
	}
}

// Apply updates s with the fields set in doc. Unset flags keep their value.
func (doc Document) Apply(s *Settings) {
	if doc.ExcludeSensitiveHeaders != nil {
		s.ExcludeSensitiveHeaders = *doc.ExcludeSensitiveHeaders
	}

	if doc.ExcludeRequestBody != nil {
		s.ExcludeRequestBody = *doc.ExcludeRequestBody
	}

	if doc.ExcludeResponseBody != nil {
		s.ExcludeResponseBody = *doc.ExcludeResponseBody
	}

	for _, key := range doc.SensitiveHeaders {
		s.AddSensitiveHeader(key)
	}

	for _, key := range doc.AllowedHeaders {
		s.RemoveSensitiveHeader(key)
	}
}

// Parse reads a YAML policy and applies it on top of DefaultSettings.
func Parse(r io.Reader) (Settings, error) {
	s := DefaultSettings()

	var doc Document

	err := yaml.NewDecoder(r).Decode(&doc)
	if err != nil && !errors.Is(err, io.EOF) {
		return Settings{}, fmt.Errorf("privacy: failed to decode policy: %w", err)
	}

	doc.Apply(&s)

	return s, nil
}

// LoadFile reads a YAML policy file. See Parse.
func LoadFile(path string) (Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("privacy: failed to read policy file: %w", err)
	}

	return Parse(bytes.NewReader(b))
}
