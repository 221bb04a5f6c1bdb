package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/itellico/joi-gateway/internal/config"
)

func boolPtr(b bool) *bool { return &b }

func TestAdapter_Channel(t *testing.T) {
	a := New(config.DiscordConfig{})
	if a.Channel() != "discord" {
		t.Fatalf("Channel() = %q, want discord", a.Channel())
	}
}

func TestAdapter_DecodeRejectsBotMessages(t *testing.T) {
	a := New(config.DiscordConfig{})
	evt := &discordgo.MessageCreate{Message: &discordgo.Message{
		Author:  &discordgo.User{ID: "bot-1", Bot: true},
		Content: "hi",
	}}
	_, ok := a.Decode(evt)
	if ok {
		t.Fatal("Decode() ok = true for a bot message, want false")
	}
}

func TestAdapter_DecodeDirectMessage(t *testing.T) {
	a := New(config.DiscordConfig{RequireMention: boolPtr(false)})
	evt := &discordgo.MessageCreate{Message: &discordgo.Message{
		Author:    &discordgo.User{ID: "user-1", Username: "alice"},
		Content:   "hello there",
		ChannelID: "chan-1",
		GuildID:   "",
	}}
	msg, ok := a.Decode(evt)
	if !ok {
		t.Fatal("Decode() ok = false, want true for a plain DM")
	}
	if msg.PeerKind != "direct" {
		t.Fatalf("PeerKind = %q, want direct", msg.PeerKind)
	}
	if msg.Content != "hello there" {
		t.Fatalf("Content = %q, want %q", msg.Content, "hello there")
	}
}

func TestAdapter_DecodeGroupMessageWithoutMentionRequiresMention(t *testing.T) {
	a := New(config.DiscordConfig{})
	a.BotUserID = "bot-1"
	evt := &discordgo.MessageCreate{Message: &discordgo.Message{
		Author:    &discordgo.User{ID: "user-1", Username: "alice"},
		Content:   "hello server",
		ChannelID: "chan-1",
		GuildID:   "guild-1",
	}}
	_, ok := a.Decode(evt)
	if ok {
		t.Fatal("Decode() ok = true for an unmentioned group message with RequireMention default true, want false")
	}
}

func TestAdapter_DecodeGroupMessageWithMention(t *testing.T) {
	a := New(config.DiscordConfig{})
	a.BotUserID = "bot-1"
	evt := &discordgo.MessageCreate{Message: &discordgo.Message{
		Author:    &discordgo.User{ID: "user-1", Username: "alice"},
		Content:   "hey @bot",
		ChannelID: "chan-1",
		GuildID:   "guild-1",
		Mentions:  []*discordgo.User{{ID: "bot-1"}},
	}}
	msg, ok := a.Decode(evt)
	if !ok {
		t.Fatal("Decode() ok = false for a mentioned group message, want true")
	}
	if msg.PeerKind != "group" {
		t.Fatalf("PeerKind = %q, want group", msg.PeerKind)
	}
}

func TestAdapter_DecodeRejectsDisallowedSender(t *testing.T) {
	a := New(config.DiscordConfig{AllowFrom: config.FlexibleStringSlice{"user-allowed"}})
	evt := &discordgo.MessageCreate{Message: &discordgo.Message{
		Author:  &discordgo.User{ID: "user-other", Username: "eve"},
		Content: "hi",
	}}
	_, ok := a.Decode(evt)
	if ok {
		t.Fatal("Decode() ok = true for a sender outside the allow-list, want false")
	}
}

func TestAdapter_DecodeRejectsNonMessageEvent(t *testing.T) {
	a := New(config.DiscordConfig{})
	_, ok := a.Decode("not a discord event")
	if ok {
		t.Fatal("Decode() ok = true for a non-MessageCreate event, want false")
	}
}
