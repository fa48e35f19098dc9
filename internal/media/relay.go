// Package media prepares attachments for re-delivery on each target
// platform: direct upload where the target supports it, a plain link where
// it does not, and a link fallback whenever fetching degrades.
package media

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"time"

	"bridgex/internal/domain"
	"bridgex/internal/platform"
)

// Resolver turns an opaque media handle into a fetchable URL. The source
// adapter implements it; nil means handles are already URLs.
type Resolver interface {
	ResolveMediaURL(ctx context.Context, ref domain.MediaRef) (string, error)
}

// Relay fetches source media into bounded buffers and shapes per-target
// payloads.
type Relay struct {
	hc       *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// Options configures a Relay.
type Options struct {
	MaxFetchBytes int64
	FetchTimeout  time.Duration
	Logger        *slog.Logger
}

// NewRelay creates a media relay.
func NewRelay(opts Options) *Relay {
	if opts.MaxFetchBytes <= 0 {
		opts.MaxFetchBytes = 8 << 20
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Relay{
		hc:       &http.Client{Timeout: opts.FetchTimeout},
		maxBytes: opts.MaxFetchBytes,
		logger:   opts.Logger,
	}
}

// Prepare shapes one attachment for the target platform. It never fails the
// event: every degradation path ends in a link-only payload. resolver may
// be nil when the ref already carries a URL.
func (r *Relay) Prepare(ctx context.Context, ref domain.MediaRef, target domain.Platform, resolver Resolver) domain.PreparedMedia {
	caps := platform.For(target)

	switch caps.Media {
	case platform.MediaLink:
		return r.linkOnly(ctx, ref, resolver)

	case platform.MediaNative:
		// Same-platform copies can reuse the native handle without any
		// byte shuffling.
		if ref.Handle != "" && ref.URL == "" {
			return domain.PreparedMedia{Ref: ref, NativeHandle: ref.Handle, FileName: ref.FileName}
		}
		fallthrough

	case platform.MediaUpload:
		data, err := r.fetch(ctx, ref, resolver)
		if err != nil {
			r.logger.Warn("media fetch degraded to link",
				"type", ref.Type, "target", target, "err", err)
			return r.linkOnly(ctx, ref, resolver)
		}
		name := ref.FileName
		if name == "" {
			name = defaultFileName(ref)
		}
		return domain.PreparedMedia{Ref: ref, Data: data, FileName: name}
	}

	return r.linkOnly(ctx, ref, resolver)
}

// PrepareAll prepares every attachment of an event for one target.
func (r *Relay) PrepareAll(ctx context.Context, refs []domain.MediaRef, target domain.Platform, resolver Resolver) []domain.PreparedMedia {
	if len(refs) == 0 {
		return nil
	}
	out := make([]domain.PreparedMedia, 0, len(refs))
	for _, ref := range refs {
		out = append(out, r.Prepare(ctx, ref, target, resolver))
	}
	return out
}

func (r *Relay) linkOnly(ctx context.Context, ref domain.MediaRef, resolver Resolver) domain.PreparedMedia {
	url := ref.URL
	if url == "" && resolver != nil {
		resolved, err := resolver.ResolveMediaURL(ctx, ref)
		if err != nil {
			r.logger.Warn("media url resolution failed", "type", ref.Type, "err", err)
		} else {
			url = resolved
		}
	}
	if url == "" {
		url = ref.Handle
	}
	prepared := ref
	prepared.URL = url
	return domain.PreparedMedia{Ref: prepared, LinkOnly: true}
}

// fetch downloads the attachment into a bounded buffer. Exceeding the cap
// is an error so the caller degrades to a link instead of buffering an
// arbitrarily large file.
func (r *Relay) fetch(ctx context.Context, ref domain.MediaRef, resolver Resolver) ([]byte, error) {
	if ref.SizeBytes > r.maxBytes {
		return nil, fmt.Errorf("media size %d exceeds cap %d", ref.SizeBytes, r.maxBytes)
	}

	url := ref.URL
	if url == "" && resolver != nil {
		resolved, err := resolver.ResolveMediaURL(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("resolve media url: %w", err)
		}
		url = resolved
	}
	if url == "" {
		url = ref.Handle
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build media request: %w", err)
	}
	resp, err := r.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch media: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, fmt.Errorf("media exceeds cap %d", r.maxBytes)
	}
	return data, nil
}

func defaultFileName(ref domain.MediaRef) string {
	if base := path.Base(ref.URL); base != "." && base != "/" && base != "" {
		return base
	}
	switch ref.Type {
	case domain.MediaPhoto:
		return "photo.jpg"
	case domain.MediaVideo:
		return "video.mp4"
	case domain.MediaAudio:
		return "audio.ogg"
	case domain.MediaSticker:
		return "sticker.webp"
	default:
		return "file"
	}
}
