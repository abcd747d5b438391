// Package testutil provides small test helpers shared across
// dbforge's packages.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
)

// NewHTTPTestServer creates an httptest.Server and skips the test if
// the sandbox blocks opening a local listener (common in restricted
// CI environments).
func NewHTTPTestServer(t *testing.T, handler http.Handler) *httptest.Server {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprint(r)
			if strings.Contains(msg, "operation not permitted") || strings.Contains(msg, "permission denied") {
				t.Skipf("skipping HTTP server test due to sandbox restrictions: %v", r)
			}
			panic(r)
		}
	}()
	return httptest.NewServer(handler)
}

// ServerPort extracts the numeric port httptest.Server bound to from
// its URL, for tests that need to construct a ContainerRef around it.
func ServerPort(t *testing.T, rawURL string) int {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse server url %q: %v", rawURL, err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port from %q: %v", rawURL, err)
	}
	return port
}
