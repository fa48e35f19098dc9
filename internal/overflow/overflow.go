// Package overflow decides when relayed text is too long for a target
// platform and substitutes a truncated preview plus a pastebin link. It is
// best-effort: when the paste service is down the text is hard-truncated
// instead, and dispatch proceeds either way.
package overflow

import (
	"context"
	"log/slog"
	"unicode/utf8"

	"bridgex/internal/domain"
	"bridgex/internal/pastebin"
	"bridgex/internal/platform"
)

const (
	linkMarker     = "... full text: "
	truncateMarker = " [truncated]"
)

// Handler applies per-target length policy to outgoing text.
type Handler struct {
	uploader pastebin.Uploader // nil disables externalization
	logger   *slog.Logger
}

// NewHandler creates an overflow handler. uploader may be nil, in which
// case overflowing text is always hard-truncated.
func NewHandler(uploader pastebin.Uploader, logger *slog.Logger) *Handler {
	return &Handler{uploader: uploader, logger: logger}
}

// Apply returns the text to dispatch to the target platform, and the paste
// reference if the full text was externalized. Texts within the target's
// limit pass through untouched.
func (h *Handler) Apply(ctx context.Context, text string, target domain.Platform) (display, ref string) {
	limit := platform.For(target).MaxTextLen
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text, ""
	}

	if h.uploader != nil {
		url, err := h.uploader.Upload(ctx, text)
		if err == nil {
			suffix := linkMarker + url
			return TruncateRunes(text, limit-utf8.RuneCountInString(suffix)) + suffix, url
		}
		h.logger.Warn("overflow upload failed, truncating", "target", target, "err", err)
	}

	return TruncateRunes(text, limit-utf8.RuneCountInString(truncateMarker)) + truncateMarker, ""
}

// TruncateRunes cuts s to at most n code points, never mid-character.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
