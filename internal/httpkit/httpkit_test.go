package httpkit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewClientDefaults(t *testing.T) {
	c := NewClient()
	if c.Timeout != 30*time.Second {
		t.Errorf("default timeout = %v, want 30s", c.Timeout)
	}
	if c.Transport == nil {
		t.Fatal("client has no transport")
	}
}

func TestUserAgentInjected(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := NewClient()
	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	DrainAndClose(resp.Body, 1024)

	if !strings.HasPrefix(gotUA, "Artifex/") {
		t.Errorf("User-Agent = %q, want Artifex/ prefix", gotUA)
	}
}

func TestUserAgentNotOverwritten(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := NewClient()
	req, _ := http.NewRequest(http.MethodGet, srv.URL, nil)
	req.Header.Set("User-Agent", "custom/1.0")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	DrainAndClose(resp.Body, 1024)

	if gotUA != "custom/1.0" {
		t.Errorf("User-Agent = %q, want custom/1.0", gotUA)
	}
}

func TestWithoutUserAgent(t *testing.T) {
	c := NewClient(WithoutUserAgent())
	if _, ok := c.Transport.(*userAgentTransport); ok {
		t.Error("user agent transport installed despite WithoutUserAgent")
	}
}

func TestReadErrorBody(t *testing.T) {
	body := io.NopCloser(strings.NewReader("something went wrong with a long trailing explanation"))
	got := ReadErrorBody(body, 20)
	if got != "something went wrong" {
		t.Errorf("ReadErrorBody = %q", got)
	}

	if got := ReadErrorBody(nil, 20); got != "" {
		t.Errorf("ReadErrorBody(nil) = %q, want empty", got)
	}
}
