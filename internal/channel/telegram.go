// Package channel contains the platform adapters. Each adapter normalizes
// its platform's payloads into domain events on the inbound side and maps
// domain outbound payloads back onto platform API calls, classifying every
// failure for the dispatch supervisor.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"bridgex/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram bridges Telegram groups via the Bot API long-polling interface.
type Telegram struct {
	token     string
	nickStyle string // "username" | "name"

	bot    *tgbotapi.BotAPI
	logger *slog.Logger
}

type TelegramOptions struct {
	Token     string
	NickStyle string
	Logger    *slog.Logger
}

func NewTelegram(opts TelegramOptions) *Telegram {
	if opts.NickStyle == "" {
		opts.NickStyle = "username"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Telegram{
		token:     opts.Token,
		nickStyle: opts.NickStyle,
		logger:    opts.Logger,
	}
}

func (t *Telegram) Name() domain.Platform { return domain.PlatformTelegram }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context, bus domain.EventBus) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram adapter stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(bus, update)
		}
	}
}

// Stop is a no-op: the bot stops when Start's context is cancelled.
func (t *Telegram) Stop() error { return nil }

func (t *Telegram) handleUpdate(bus domain.EventBus, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		t.publishMessage(bus, update.Message, domain.KindSend)
	case update.EditedMessage != nil:
		t.publishMessage(bus, update.EditedMessage, domain.KindEdit)
	}
}

func (t *Telegram) publishMessage(bus domain.EventBus, msg *tgbotapi.Message, kind domain.EventKind) {
	if msg.From == nil || msg.Chat == nil {
		return
	}
	// The bridge's own relays come back through getUpdates; dropping them
	// here is what prevents relay loops.
	if msg.From.ID == t.bot.Self.ID {
		return
	}

	origin := domain.Endpoint{
		Platform: domain.PlatformTelegram,
		GroupID:  strconv.FormatInt(msg.Chat.ID, 10),
	}

	if sys := systemText(msg); sys != "" {
		bus.Publish(domain.Event{
			Kind:      domain.KindSend,
			Origin:    origin,
			MessageID: strconv.Itoa(msg.MessageID),
			Text:      sys,
			System:    true,
			Timestamp: msg.Time(),
		})
		return
	}

	ev := domain.Event{
		Kind:       kind,
		Origin:     origin,
		MessageID:  strconv.Itoa(msg.MessageID),
		AuthorNick: t.nick(msg.From),
		FwdFrom:    forwardAttribution(msg),
		Text:       msg.Text,
		Media:      extractTelegramMedia(msg),
		Timestamp:  msg.Time(),
	}
	if ev.Text == "" {
		ev.Text = msg.Caption
	}
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		reply := msg.ReplyToMessage
		text := reply.Text
		if text == "" {
			text = reply.Caption
		}
		ev.ReplyTo = &domain.ReplyRef{Nick: t.nick(reply.From), Text: text}
	}
	if ev.Text == "" && len(ev.Media) == 0 {
		return
	}
	bus.Publish(ev)
}

func (t *Telegram) nick(u *tgbotapi.User) string {
	if t.nickStyle == "username" && u.UserName != "" {
		return u.UserName
	}
	name := u.FirstName
	if u.LastName != "" {
		name += " " + u.LastName
	}
	if name == "" {
		name = u.UserName
	}
	return name
}

func systemText(msg *tgbotapi.Message) string {
	switch {
	case len(msg.NewChatMembers) > 0:
		names := make([]string, 0, len(msg.NewChatMembers))
		for _, u := range msg.NewChatMembers {
			names = append(names, displayName(&u))
		}
		return strings.Join(names, ", ") + " joined"
	case msg.LeftChatMember != nil:
		return displayName(msg.LeftChatMember) + " left"
	}
	return ""
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func forwardAttribution(msg *tgbotapi.Message) string {
	switch {
	case msg.ForwardFrom != nil:
		return displayName(msg.ForwardFrom)
	case msg.ForwardFromChat != nil:
		return msg.ForwardFromChat.Title
	case msg.ForwardSenderName != "":
		// Sender chose to hide their account; only the display name is
		// available.
		return msg.ForwardSenderName
	}
	return ""
}

func extractTelegramMedia(msg *tgbotapi.Message) []domain.MediaRef {
	var media []domain.MediaRef
	if len(msg.Photo) > 0 {
		// Photo sizes are ordered smallest first; relay the original.
		best := msg.Photo[len(msg.Photo)-1]
		media = append(media, domain.MediaRef{
			Type:      domain.MediaPhoto,
			Handle:    best.FileID,
			SizeBytes: int64(best.FileSize),
			Caption:   msg.Caption,
		})
	}
	if msg.Video != nil {
		media = append(media, domain.MediaRef{
			Type:      domain.MediaVideo,
			Handle:    msg.Video.FileID,
			FileName:  msg.Video.FileName,
			SizeBytes: int64(msg.Video.FileSize),
			Caption:   msg.Caption,
		})
	}
	if msg.Audio != nil {
		media = append(media, domain.MediaRef{
			Type:      domain.MediaAudio,
			Handle:    msg.Audio.FileID,
			FileName:  msg.Audio.FileName,
			SizeBytes: int64(msg.Audio.FileSize),
		})
	}
	if msg.Voice != nil {
		media = append(media, domain.MediaRef{
			Type:      domain.MediaAudio,
			Handle:    msg.Voice.FileID,
			SizeBytes: int64(msg.Voice.FileSize),
		})
	}
	if msg.Document != nil {
		media = append(media, domain.MediaRef{
			Type:      domain.MediaDocument,
			Handle:    msg.Document.FileID,
			FileName:  msg.Document.FileName,
			SizeBytes: int64(msg.Document.FileSize),
			Caption:   msg.Caption,
		})
	}
	if msg.Sticker != nil {
		media = append(media, domain.MediaRef{
			Type:      domain.MediaSticker,
			Handle:    msg.Sticker.FileID,
			SizeBytes: int64(msg.Sticker.FileSize),
		})
	}
	return media
}

// Send posts a relayed message into a Telegram group. The first attachable
// media carries the text as its caption; link-only media URLs are appended
// to the text instead.
func (t *Telegram) Send(ctx context.Context, groupID string, out domain.Outbound) (string, error) {
	chatID, err := strconv.ParseInt(groupID, 10, 64)
	if err != nil {
		return "", domain.Terminal(fmt.Errorf("telegram: invalid chat id %q: %w", groupID, err))
	}

	text := out.Text
	var attachable []domain.PreparedMedia
	for _, m := range out.Media {
		if m.LinkOnly {
			text += "\n" + m.Ref.URL
			continue
		}
		attachable = append(attachable, m)
	}

	if len(attachable) == 0 {
		msg := tgbotapi.NewMessage(chatID, text)
		sent, err := t.bot.Send(msg)
		if err != nil {
			return "", classifyTelegramErr(err)
		}
		return strconv.Itoa(sent.MessageID), nil
	}

	// First attachment carries the caption and yields the tracked id; the
	// rest follow best-effort.
	first, err := t.sendMedia(chatID, attachable[0], text)
	if err != nil {
		return "", classifyTelegramErr(err)
	}
	for _, m := range attachable[1:] {
		if _, err := t.sendMedia(chatID, m, ""); err != nil {
			t.logger.Warn("telegram extra attachment failed", "chat", groupID, "err", err)
		}
	}
	return strconv.Itoa(first.MessageID), nil
}

func (t *Telegram) sendMedia(chatID int64, m domain.PreparedMedia, caption string) (tgbotapi.Message, error) {
	var file tgbotapi.RequestFileData
	if m.NativeHandle != "" {
		file = tgbotapi.FileID(m.NativeHandle)
	} else {
		file = tgbotapi.FileBytes{Name: m.FileName, Bytes: m.Data}
	}

	switch m.Ref.Type {
	case domain.MediaPhoto, domain.MediaSticker:
		cfg := tgbotapi.NewPhoto(chatID, file)
		cfg.Caption = caption
		return t.bot.Send(cfg)
	case domain.MediaVideo:
		cfg := tgbotapi.NewVideo(chatID, file)
		cfg.Caption = caption
		return t.bot.Send(cfg)
	case domain.MediaAudio:
		cfg := tgbotapi.NewAudio(chatID, file)
		cfg.Caption = caption
		return t.bot.Send(cfg)
	default:
		cfg := tgbotapi.NewDocument(chatID, file)
		cfg.Caption = caption
		return t.bot.Send(cfg)
	}
}

// Edit rewrites a previously relayed message in place.
func (t *Telegram) Edit(ctx context.Context, groupID, messageID string, out domain.Outbound) error {
	chatID, err := strconv.ParseInt(groupID, 10, 64)
	if err != nil {
		return domain.Terminal(fmt.Errorf("telegram: invalid chat id %q: %w", groupID, err))
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return domain.Terminal(fmt.Errorf("telegram: invalid message id %q: %w", messageID, err))
	}

	edit := tgbotapi.NewEditMessageText(chatID, msgID, out.Text)
	if _, err := t.bot.Send(edit); err != nil {
		return classifyTelegramErr(err)
	}
	return nil
}

// Delete removes a previously relayed message.
func (t *Telegram) Delete(ctx context.Context, groupID, messageID string) error {
	chatID, err := strconv.ParseInt(groupID, 10, 64)
	if err != nil {
		return domain.Terminal(fmt.Errorf("telegram: invalid chat id %q: %w", groupID, err))
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return domain.Terminal(fmt.Errorf("telegram: invalid message id %q: %w", messageID, err))
	}

	if _, err := t.bot.Request(tgbotapi.NewDeleteMessage(chatID, msgID)); err != nil {
		return classifyTelegramErr(err)
	}
	return nil
}

// ResolveMediaURL turns a Telegram file id into a temporary download URL.
func (t *Telegram) ResolveMediaURL(ctx context.Context, ref domain.MediaRef) (string, error) {
	if ref.URL != "" {
		return ref.URL, nil
	}
	file, err := t.bot.GetFile(tgbotapi.FileConfig{FileID: ref.Handle})
	if err != nil {
		return "", classifyTelegramErr(err)
	}
	return file.Link(t.token), nil
}

// classifyTelegramErr maps Bot API failures onto the dispatch error classes.
// The client surfaces API errors as strings, so this matches on the known
// response phrases.
func classifyTelegramErr(err error) error {
	if err == nil {
		return nil
	}
	s := err.Error()
	switch {
	case strings.Contains(s, "message is not modified"):
		// Editing to identical content; the copy is fine as it stands.
		return nil
	case strings.Contains(s, "message to edit not found"),
		strings.Contains(s, "message to delete not found"),
		strings.Contains(s, "message can't be deleted"):
		return fmt.Errorf("telegram: %w: %s", domain.ErrNotFound, s)
	case strings.Contains(s, "Too Many Requests"),
		strings.Contains(s, "retry after"),
		strings.Contains(s, "Bad Gateway"),
		strings.Contains(s, "Gateway Timeout"),
		strings.Contains(s, "Internal Server Error"),
		strings.Contains(s, "connection reset"),
		strings.Contains(s, "timeout"):
		return domain.Retryable(err)
	default:
		return domain.Terminal(err)
	}
}
