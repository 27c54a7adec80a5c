package http

import (
	nethttp "net/http"
	"strings"
)

// ParseHeader flattens a header map into one value per key. Repeated values
// are joined with ", ", the list form allowed for HTTP field values.
func ParseHeader(header nethttp.Header) map[string]string {
	headers := make(map[string]string, len(header))

	for key, values := range header {
		headers[key] = strings.Join(values, ", ")
	}

	return headers
}

// Header converts flattened headers back to a header map.
func Header(headers map[string]string) nethttp.Header {
	header := make(nethttp.Header, len(headers))

	for key, value := range headers {
		header.Set(key, value)
	}

	return header
}

// Lookup finds a header value by case-insensitive key.
func Lookup(headers map[string]string, key string) (string, bool) {
	if v, ok := headers[key]; ok {
		return v, true
	}

	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}

	return "", false
}

// CloneHeaders returns a copy of headers, preserving nil.
func CloneHeaders(headers map[string]string) map[string]string {
	if headers == nil {
		return nil
	}

	clone := make(map[string]string, len(headers))
	for k, v := range headers {
		clone[k] = v
	}

	return clone
}
