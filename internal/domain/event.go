package domain

import "time"

// Platform identifies one of the bridged chat networks.
type Platform string

const (
	PlatformTelegram Platform = "telegram"
	PlatformIRC      Platform = "irc"
	PlatformDiscord  Platform = "discord"
)

// Valid reports whether p is one of the bridged platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformTelegram, PlatformIRC, PlatformDiscord:
		return true
	}
	return false
}

// EventKind is the action an inbound event describes.
type EventKind string

const (
	KindSend   EventKind = "send"
	KindEdit   EventKind = "edit"
	KindDelete EventKind = "delete"
)

// Endpoint is a platform-scoped group or channel, e.g. telegram/-100111 or
// irc/#test.
type Endpoint struct {
	Platform Platform
	GroupID  string
}

func (e Endpoint) String() string {
	return string(e.Platform) + "/" + e.GroupID
}

// OriginKey identifies a message on its originating platform. It is the key
// under which relayed copies are tracked.
type OriginKey struct {
	Platform  Platform
	GroupID   string
	MessageID string
}

func (k OriginKey) Endpoint() Endpoint {
	return Endpoint{Platform: k.Platform, GroupID: k.GroupID}
}

func (k OriginKey) String() string {
	return string(k.Platform) + "/" + k.GroupID + "/" + k.MessageID
}

// MediaType classifies an attachment.
type MediaType string

const (
	MediaPhoto    MediaType = "photo"
	MediaVideo    MediaType = "video"
	MediaAudio    MediaType = "audio"
	MediaDocument MediaType = "document"
	MediaSticker  MediaType = "sticker"
)

// MediaRef points at an attachment on the source platform. Handle is opaque
// to the core: a URL, or a platform-native file id the source adapter can
// resolve via ResolveMediaURL.
type MediaRef struct {
	Type      MediaType
	Handle    string
	URL       string // public URL if known, used for link-only targets
	FileName  string
	SizeBytes int64 // 0 = unknown until fetched
	Caption   string
}

// ReplyRef carries the minimal context of a replied-to message. Only targets
// without native reply support (IRC) render it.
type ReplyRef struct {
	Nick string
	Text string
}

// Event is the platform-agnostic representation of a chat action. Adapters
// produce Events for the router; the router never sees native payloads.
type Event struct {
	Kind       EventKind
	Origin     Endpoint
	MessageID  string // native id; required for edit/delete
	AuthorNick string
	FwdFrom    string // forward attribution, Telegram style
	ReplyTo    *ReplyRef
	Text       string
	Media      []MediaRef
	System     bool // join/quit style notices, relayed without prefix
	Timestamp  time.Time
}

// OriginKey returns the identity-map key of the event's source message.
func (ev Event) OriginKey() OriginKey {
	return OriginKey{
		Platform:  ev.Origin.Platform,
		GroupID:   ev.Origin.GroupID,
		MessageID: ev.MessageID,
	}
}
