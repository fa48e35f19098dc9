package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"bridgex/internal/domain"

	"github.com/bwmarrin/discordgo"
)

// Discord bridges Discord channels over the gateway websocket.
type Discord struct {
	token     string
	nickStyle string // "nickname" | "account"

	session *discordgo.Session
	logger  *slog.Logger
}

type DiscordOptions struct {
	Token     string
	NickStyle string
	Logger    *slog.Logger
}

func NewDiscord(opts DiscordOptions) *Discord {
	if opts.NickStyle == "" {
		opts.NickStyle = "nickname"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Discord{
		token:     opts.Token,
		nickStyle: opts.NickStyle,
		logger:    opts.Logger,
	}
}

func (d *Discord) Name() domain.Platform { return domain.PlatformDiscord }

// Start opens the gateway session and blocks until ctx is cancelled.
func (d *Discord) Start(ctx context.Context, bus domain.EventBus) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session init: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	d.session = session

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		d.publishMessage(bus, m.Message, domain.KindSend)
	})
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageUpdate) {
		d.publishMessage(bus, m.Message, domain.KindEdit)
	})
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageDelete) {
		// Delete payloads carry only ids; the router resolves the rest
		// through the identity map.
		bus.Publish(domain.Event{
			Kind:      domain.KindDelete,
			Origin:    domain.Endpoint{Platform: domain.PlatformDiscord, GroupID: m.ChannelID},
			MessageID: m.ID,
		})
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord gateway open: %w", err)
	}
	d.logger.Info("discord gateway connected", "user", session.State.User.Username)

	<-ctx.Done()
	d.logger.Info("discord adapter stopping")
	return session.Close()
}

// Stop is a no-op: the session closes when Start's context is cancelled.
func (d *Discord) Stop() error { return nil }

func (d *Discord) publishMessage(bus domain.EventBus, m *discordgo.Message, kind domain.EventKind) {
	// Embed-only updates (link previews resolving) have no author and are
	// not user edits.
	if m == nil || m.Author == nil {
		return
	}
	if d.session.State.User != nil && m.Author.ID == d.session.State.User.ID {
		return
	}

	ev := domain.Event{
		Kind:       kind,
		Origin:     domain.Endpoint{Platform: domain.PlatformDiscord, GroupID: m.ChannelID},
		MessageID:  m.ID,
		AuthorNick: d.nick(m),
		Text:       m.Content,
		Media:      extractDiscordMedia(m),
		Timestamp:  m.Timestamp,
	}
	if ref := m.ReferencedMessage; ref != nil && ref.Author != nil {
		ev.ReplyTo = &domain.ReplyRef{Nick: d.nick(ref), Text: ref.Content}
	}
	if ev.Text == "" && len(ev.Media) == 0 {
		return
	}
	bus.Publish(ev)
}

func (d *Discord) nick(m *discordgo.Message) string {
	if d.nickStyle == "nickname" && m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	return m.Author.Username
}

func extractDiscordMedia(m *discordgo.Message) []domain.MediaRef {
	var media []domain.MediaRef
	for _, a := range m.Attachments {
		media = append(media, domain.MediaRef{
			Type:      mediaTypeFromContentType(a.ContentType),
			Handle:    a.ID,
			URL:       a.URL,
			FileName:  a.Filename,
			SizeBytes: int64(a.Size),
		})
	}
	return media
}

func mediaTypeFromContentType(contentType string) domain.MediaType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return domain.MediaPhoto
	case strings.HasPrefix(contentType, "video/"):
		return domain.MediaVideo
	case strings.HasPrefix(contentType, "audio/"):
		return domain.MediaAudio
	}
	return domain.MediaDocument
}

// Send posts a relayed message, uploading fetched media as files and
// appending link-only media URLs to the text.
func (d *Discord) Send(ctx context.Context, groupID string, out domain.Outbound) (string, error) {
	payload := &discordgo.MessageSend{Content: out.Text}
	for _, m := range out.Media {
		if m.LinkOnly {
			payload.Content += "\n" + m.Ref.URL
			continue
		}
		payload.Files = append(payload.Files, &discordgo.File{
			Name:   m.FileName,
			Reader: bytes.NewReader(m.Data),
		})
	}

	sent, err := d.session.ChannelMessageSendComplex(groupID, payload, discordgo.WithContext(ctx))
	if err != nil {
		return "", classifyDiscordErr(err)
	}
	return sent.ID, nil
}

// Edit rewrites a previously relayed message. Attachments cannot be swapped
// after the fact; only the text is updated.
func (d *Discord) Edit(ctx context.Context, groupID, messageID string, out domain.Outbound) error {
	_, err := d.session.ChannelMessageEdit(groupID, messageID, out.Text, discordgo.WithContext(ctx))
	if err != nil {
		return classifyDiscordErr(err)
	}
	return nil
}

// Delete removes a previously relayed message.
func (d *Discord) Delete(ctx context.Context, groupID, messageID string) error {
	if err := d.session.ChannelMessageDelete(groupID, messageID, discordgo.WithContext(ctx)); err != nil {
		return classifyDiscordErr(err)
	}
	return nil
}

// ResolveMediaURL is trivial on Discord: attachment URLs are public CDN
// links already carried on the ref.
func (d *Discord) ResolveMediaURL(ctx context.Context, ref domain.MediaRef) (string, error) {
	if ref.URL == "" {
		return "", domain.Terminal(fmt.Errorf("discord: attachment %s has no url", ref.Handle))
	}
	return ref.URL, nil
}

// classifyDiscordErr maps REST failures onto the dispatch error classes
// using the HTTP status carried by discordgo's error type.
func classifyDiscordErr(err error) error {
	if err == nil {
		return nil
	}

	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch code := restErr.Response.StatusCode; {
		case code == http.StatusNotFound:
			return fmt.Errorf("discord: %w: %s", domain.ErrNotFound, restErr.Error())
		case code == http.StatusTooManyRequests || code >= 500:
			return domain.Retryable(err)
		default:
			return domain.Terminal(err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.Retryable(err)
	}
	return domain.Terminal(err)
}
