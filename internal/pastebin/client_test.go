package pastebin

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHTTPClient_Upload(t *testing.T) {
	var gotBody, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("https://paste.example/abc123\n"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "tok", testLogger())
	url, err := c.Upload(context.Background(), "full message text")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if url != "https://paste.example/abc123" {
		t.Fatalf("url: %q", url)
	}
	if gotBody != "full message text" {
		t.Fatalf("body: %q", gotBody)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("auth header: %q", gotAuth)
	}
}

func TestHTTPClient_RetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("https://paste.example/ok"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", testLogger())
	url, err := c.Upload(context.Background(), "text")
	if err != nil {
		t.Fatalf("upload after retries: %v", err)
	}
	if url != "https://paste.example/ok" || calls != 3 {
		t.Fatalf("url=%q calls=%d", url, calls)
	}
}

func TestHTTPClient_ClientErrorIsFinal(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", testLogger())
	if _, err := c.Upload(context.Background(), "text"); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("4xx must not be retried, got %d calls", calls)
	}
}

func TestHTTPClient_RejectsNonURLResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("oops not a url"))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", testLogger())
	if _, err := c.Upload(context.Background(), "text"); err == nil {
		t.Fatal("garbage response must fail")
	}
}

func TestFileStore_Upload(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, "https://files.example/pastes", testLogger())

	url, err := s.Upload(context.Background(), "stored text")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(url, "https://files.example/pastes/") || !strings.HasSuffix(url, ".txt") {
		t.Fatalf("url shape: %q", url)
	}

	name := url[strings.LastIndex(url, "/")+1:]
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(data) != "stored text" {
		t.Fatalf("content: %q", data)
	}
}
