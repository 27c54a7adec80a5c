package http_test

import (
	nethttp "net/http"
	"testing"

	"github.com/dstotijn/netlog/pkg/http"
	"github.com/dstotijn/netlog/pkg/testutil"
)

func TestParseHeader(t *testing.T) {
	t.Parallel()

	header := nethttp.Header{}
	header.Add("Accept", "text/html")
	header.Add("Accept", "application/json")
	header.Set("X-Foo", "bar")

	exp := map[string]string{
		"Accept": "text/html, application/json",
		"X-Foo":  "bar",
	}

	testutil.Diff(t, "headers not equal", exp, http.ParseHeader(header))
	testutil.Diff(t, "header not equal", nethttp.Header{
		"Accept": []string{"text/html, application/json"},
		"X-Foo":  []string{"bar"},
	}, http.Header(exp))
}

func TestLookup(t *testing.T) {
	t.Parallel()

	headers := map[string]string{"content-type": "image/png"}

	got, ok := http.Lookup(headers, "Content-Type")
	if !ok || got != "image/png" {
		t.Fatalf("expected `image/png`, got: %q (found: %v)", got, ok)
	}

	if _, ok := http.Lookup(headers, "X-Foo"); ok {
		t.Fatal("expected header not to be found")
	}
}
