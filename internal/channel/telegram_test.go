package channel

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func TestTelegramNickStyle(t *testing.T) {
	user := &tgbotapi.User{UserName: "alice_u", FirstName: "Alice", LastName: "Liddell"}

	tg := NewTelegram(TelegramOptions{NickStyle: "username"})
	if got := tg.nick(user); got != "alice_u" {
		t.Fatalf("username style: got %q", got)
	}

	tg = NewTelegram(TelegramOptions{NickStyle: "name"})
	if got := tg.nick(user); got != "Alice Liddell" {
		t.Fatalf("name style: got %q", got)
	}

	// Accounts without a username fall back to the display name.
	tg = NewTelegram(TelegramOptions{NickStyle: "username"})
	if got := tg.nick(&tgbotapi.User{FirstName: "Bob"}); got != "Bob" {
		t.Fatalf("fallback: got %q", got)
	}
}

func TestForwardAttribution(t *testing.T) {
	if got := forwardAttribution(&tgbotapi.Message{ForwardFrom: &tgbotapi.User{UserName: "bob"}}); got != "bob" {
		t.Fatalf("user forward: got %q", got)
	}
	if got := forwardAttribution(&tgbotapi.Message{ForwardFromChat: &tgbotapi.Chat{Title: "Some Channel"}}); got != "Some Channel" {
		t.Fatalf("channel forward: got %q", got)
	}
	if got := forwardAttribution(&tgbotapi.Message{ForwardSenderName: "Hidden User"}); got != "Hidden User" {
		t.Fatalf("hidden forward: got %q", got)
	}
	if got := forwardAttribution(&tgbotapi.Message{}); got != "" {
		t.Fatalf("no forward: got %q", got)
	}
}

func TestSystemText(t *testing.T) {
	join := &tgbotapi.Message{NewChatMembers: []tgbotapi.User{{UserName: "carol"}}}
	if got := systemText(join); got != "carol joined" {
		t.Fatalf("join: got %q", got)
	}
	part := &tgbotapi.Message{LeftChatMember: &tgbotapi.User{UserName: "carol"}}
	if got := systemText(part); got != "carol left" {
		t.Fatalf("part: got %q", got)
	}
	if got := systemText(&tgbotapi.Message{Text: "hi"}); got != "" {
		t.Fatalf("plain message: got %q", got)
	}
}

func TestExtractTelegramMedia(t *testing.T) {
	msg := &tgbotapi.Message{
		Caption: "look",
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", FileSize: 100},
			{FileID: "large", FileSize: 9000},
		},
	}
	got := extractTelegramMedia(msg)
	if len(got) != 1 {
		t.Fatalf("want 1 ref, got %d", len(got))
	}
	if got[0].Handle != "large" {
		t.Fatalf("must pick the largest photo size, got %q", got[0].Handle)
	}
	if got[0].Caption != "look" {
		t.Fatalf("caption lost: %+v", got[0])
	}

	doc := &tgbotapi.Message{Document: &tgbotapi.Document{FileID: "d1", FileName: "notes.pdf", FileSize: 555}}
	got = extractTelegramMedia(doc)
	if len(got) != 1 || got[0].FileName != "notes.pdf" || got[0].SizeBytes != 555 {
		t.Fatalf("document ref malformed: %+v", got)
	}
}
