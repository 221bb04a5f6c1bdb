package telegram

import (
	"testing"

	"github.com/mymmrac/telego"

	"github.com/itellico/joi-gateway/internal/config"
)

func TestAdapter_Channel(t *testing.T) {
	a := New(config.TelegramConfig{})
	if a.Channel() != "telegram" {
		t.Fatalf("Channel() = %q, want telegram", a.Channel())
	}
}

func TestAdapter_DecodeDirectMessage(t *testing.T) {
	a := New(config.TelegramConfig{})
	update := telego.Update{Message: &telego.Message{
		Text: "hello",
		From: &telego.User{ID: 42, Username: "alice", FirstName: "Alice"},
		Chat: telego.Chat{ID: 42, Type: "private"},
	}}
	msg, ok := a.Decode(update)
	if !ok {
		t.Fatal("Decode() ok = false, want true for a plain direct message")
	}
	if msg.PeerKind != "direct" {
		t.Fatalf("PeerKind = %q, want direct", msg.PeerKind)
	}
	if msg.Content != "hello" {
		t.Fatalf("Content = %q, want hello", msg.Content)
	}
	if msg.UserID != "42" {
		t.Fatalf("UserID = %q, want 42", msg.UserID)
	}
}

func TestAdapter_DecodeGroupMessage(t *testing.T) {
	a := New(config.TelegramConfig{})
	update := telego.Update{Message: &telego.Message{
		Text: "hi group",
		From: &telego.User{ID: 1, Username: "bob"},
		Chat: telego.Chat{ID: -100, Type: "supergroup"},
	}}
	msg, ok := a.Decode(update)
	if !ok {
		t.Fatal("Decode() ok = false, want true")
	}
	if msg.PeerKind != "group" {
		t.Fatalf("PeerKind = %q, want group", msg.PeerKind)
	}
}

func TestAdapter_DecodeRejectsServiceMessage(t *testing.T) {
	a := New(config.TelegramConfig{})
	update := telego.Update{Message: &telego.Message{
		From:           &telego.User{ID: 1},
		Chat:           telego.Chat{ID: 1, Type: "private"},
		NewChatMembers: []telego.User{{ID: 2}},
	}}
	_, ok := a.Decode(update)
	if ok {
		t.Fatal("Decode() ok = true for a service message, want false")
	}
}

func TestAdapter_DecodeRejectsDisallowedSender(t *testing.T) {
	a := New(config.TelegramConfig{AllowFrom: config.FlexibleStringSlice{"99"}})
	update := telego.Update{Message: &telego.Message{
		Text: "hi",
		From: &telego.User{ID: 1},
		Chat: telego.Chat{ID: 1, Type: "private"},
	}}
	_, ok := a.Decode(update)
	if ok {
		t.Fatal("Decode() ok = true for a sender outside the allow-list, want false")
	}
}

func TestAdapter_DecodeFallsBackToCaption(t *testing.T) {
	a := New(config.TelegramConfig{})
	update := telego.Update{Message: &telego.Message{
		Caption: "a photo",
		Photo:   []telego.PhotoSize{{FileID: "f1"}},
		From:    &telego.User{ID: 1},
		Chat:    telego.Chat{ID: 1, Type: "private"},
	}}
	msg, ok := a.Decode(update)
	if !ok {
		t.Fatal("Decode() ok = false, want true")
	}
	if msg.Content != "a photo" {
		t.Fatalf("Content = %q, want %q", msg.Content, "a photo")
	}
}

func TestAdapter_DecodeRejectsNonUpdateEvent(t *testing.T) {
	a := New(config.TelegramConfig{})
	_, ok := a.Decode("not a telego update")
	if ok {
		t.Fatal("Decode() ok = true for a non-Update event, want false")
	}
}
