package domain

import "context"

// PreparedMedia is an attachment ready for one specific target platform.
// Exactly one of Data, NativeHandle or LinkOnly is meaningful.
type PreparedMedia struct {
	Ref          MediaRef
	Data         []byte // fetched bytes for direct upload
	FileName     string
	NativeHandle string // platform-native re-upload handle (Telegram file id)
	LinkOnly     bool   // degrade: send Ref.URL as text instead of uploading
}

// Outbound is the payload the router hands an adapter for a single target
// group: overflow-adjusted text plus per-target prepared media.
type Outbound struct {
	Text  string
	Media []PreparedMedia
}

// Adapter is a platform client. Inbound, it publishes normalized Events on
// the bus from Start; outbound, the router calls Send/Edit/Delete. Errors
// returned from the outbound calls must be classified with Retryable,
// Terminal or ErrNotFound so the dispatch supervisor can decide on retry.
type Adapter interface {
	Name() Platform

	// Start connects and blocks, publishing inbound events until ctx is
	// cancelled.
	Start(ctx context.Context, bus EventBus) error
	Stop() error

	Send(ctx context.Context, groupID string, out Outbound) (messageID string, err error)
	Edit(ctx context.Context, groupID, messageID string, out Outbound) error
	Delete(ctx context.Context, groupID, messageID string) error

	// ResolveMediaURL turns an opaque media handle into a fetchable URL.
	ResolveMediaURL(ctx context.Context, ref MediaRef) (string, error)
}
