package media

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"bridgex/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type staticResolver struct{ url string }

func (r staticResolver) ResolveMediaURL(ctx context.Context, ref domain.MediaRef) (string, error) {
	return r.url, nil
}

func TestPrepare_IRCGetsLinkOnly(t *testing.T) {
	r := NewRelay(Options{Logger: testLogger()})
	ref := domain.MediaRef{Type: domain.MediaPhoto, URL: "https://cdn.example/p.jpg"}

	got := r.Prepare(context.Background(), ref, domain.PlatformIRC, nil)
	if !got.LinkOnly {
		t.Fatal("IRC target must get a link-only payload")
	}
	if got.Ref.URL != ref.URL {
		t.Fatalf("link url lost: %+v", got)
	}
	if got.Data != nil {
		t.Fatal("IRC target must not trigger a fetch")
	}
}

func TestPrepare_DiscordFetchesBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("image-bytes"))
	}))
	defer srv.Close()

	r := NewRelay(Options{Logger: testLogger()})
	ref := domain.MediaRef{Type: domain.MediaPhoto, URL: srv.URL + "/p.jpg", FileName: "p.jpg"}

	got := r.Prepare(context.Background(), ref, domain.PlatformDiscord, nil)
	if got.LinkOnly {
		t.Fatalf("expected direct upload payload, got link-only")
	}
	if string(got.Data) != "image-bytes" {
		t.Fatalf("unexpected bytes: %q", got.Data)
	}
	if got.FileName != "p.jpg" {
		t.Fatalf("file name lost: %q", got.FileName)
	}
}

func TestPrepare_OversizeDegradesToLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	r := NewRelay(Options{MaxFetchBytes: 1024, Logger: testLogger()})
	ref := domain.MediaRef{Type: domain.MediaVideo, URL: srv.URL + "/v.mp4"}

	got := r.Prepare(context.Background(), ref, domain.PlatformDiscord, nil)
	if !got.LinkOnly {
		t.Fatal("oversize fetch must degrade to link-only")
	}
}

func TestPrepare_DeclaredOversizeSkipsFetch(t *testing.T) {
	fetched := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fetched = true
	}))
	defer srv.Close()

	r := NewRelay(Options{MaxFetchBytes: 1024, Logger: testLogger()})
	ref := domain.MediaRef{Type: domain.MediaVideo, URL: srv.URL, SizeBytes: 1 << 30}

	got := r.Prepare(context.Background(), ref, domain.PlatformDiscord, nil)
	if !got.LinkOnly {
		t.Fatal("declared oversize must degrade to link-only")
	}
	if fetched {
		t.Fatal("declared oversize must not be fetched at all")
	}
}

func TestPrepare_FetchErrorDegradesToLink(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	r := NewRelay(Options{Logger: testLogger()})
	ref := domain.MediaRef{Type: domain.MediaDocument, URL: srv.URL + "/d.pdf"}

	got := r.Prepare(context.Background(), ref, domain.PlatformDiscord, nil)
	if !got.LinkOnly {
		t.Fatal("fetch failure must degrade to link-only")
	}
}

func TestPrepare_TelegramReusesNativeHandle(t *testing.T) {
	r := NewRelay(Options{Logger: testLogger()})
	ref := domain.MediaRef{Type: domain.MediaPhoto, Handle: "AgACAgQAAx"}

	got := r.Prepare(context.Background(), ref, domain.PlatformTelegram, nil)
	if got.NativeHandle != "AgACAgQAAx" {
		t.Fatalf("expected native handle reuse, got %+v", got)
	}
}

func TestPrepare_ResolverUsedForOpaqueHandles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("bytes"))
	}))
	defer srv.Close()

	r := NewRelay(Options{Logger: testLogger()})
	ref := domain.MediaRef{Type: domain.MediaPhoto, Handle: "opaque-id"}

	got := r.Prepare(context.Background(), ref, domain.PlatformDiscord, staticResolver{url: srv.URL})
	if got.LinkOnly || string(got.Data) != "bytes" {
		t.Fatalf("resolver-backed fetch failed: %+v", got)
	}
}

func TestPrepareAll_EmptyIsNil(t *testing.T) {
	r := NewRelay(Options{Logger: testLogger()})
	if got := r.PrepareAll(context.Background(), nil, domain.PlatformIRC, nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}
