// Package platform holds the per-platform capability table consulted by the
// overflow handler, the media relay and the router instead of scattering
// platform conditionals through dispatch.
package platform

import "bridgex/internal/domain"

// MediaMode is how a target platform receives attachments.
type MediaMode int

const (
	// MediaLink posts the attachment URL as text (IRC).
	MediaLink MediaMode = iota
	// MediaUpload fetches bytes and uploads them directly (Discord).
	MediaUpload
	// MediaNative re-uploads by platform handle when available, otherwise
	// falls back to fetch-and-upload (Telegram).
	MediaNative
)

// Capabilities describes what a target platform can do with a relayed
// message.
type Capabilities struct {
	// MaxTextLen is the message length limit in code points; 0 means
	// effectively unlimited for relay purposes.
	MaxTextLen int
	CanEdit    bool
	CanDelete  bool
	Media      MediaMode
	// Bold is the inline marker pair wrapped around the author nick.
	Bold string
}

var table = map[domain.Platform]Capabilities{
	domain.PlatformTelegram: {
		MaxTextLen: 4096,
		CanEdit:    true,
		CanDelete:  true,
		Media:      MediaNative,
		Bold:       "**",
	},
	domain.PlatformDiscord: {
		MaxTextLen: 2000,
		CanEdit:    true,
		CanDelete:  true,
		Media:      MediaUpload,
		Bold:       "**",
	},
	domain.PlatformIRC: {
		// One protocol line minus prefix overhead.
		MaxTextLen: 400,
		CanEdit:    false,
		CanDelete:  false,
		Media:      MediaLink,
		Bold:       "\x02",
	},
}

// For returns the capability row for p. Unknown platforms get a zero row,
// which behaves as a link-only target with no limits; the config loader
// rejects unknown platforms before they reach dispatch.
func For(p domain.Platform) Capabilities {
	return table[p]
}
