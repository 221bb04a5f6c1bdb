// Package discord implements the ingress boundary's Discord adapter:
// decoding a bwmarrin/discordgo MessageCreate event into a
// bus.InboundMessage. It holds no *discordgo.Session and opens no gateway
// connection — that lifecycle belongs to whatever process runs the bot,
// out of scope here per the ingress boundary.
package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/itellico/joi-gateway/internal/bus"
	"github.com/itellico/joi-gateway/internal/config"
	"github.com/itellico/joi-gateway/internal/ingress"
)

// Adapter decodes discordgo.MessageCreate events. BotUserID is set once the
// caller's session has identified, so the bot's own messages are dropped.
type Adapter struct {
	cfg       config.DiscordConfig
	policy    ingress.AllowPolicy
	BotUserID string
}

func New(cfg config.DiscordConfig) *Adapter {
	return &Adapter{cfg: cfg, policy: ingress.AllowPolicy{AllowFrom: cfg.AllowFrom}}
}

func (a *Adapter) Channel() string { return "discord" }

// Decode turns one *discordgo.MessageCreate into a bus.InboundMessage.
// ok is false for the bot's own messages, other bots, and events gated out
// by the allow-list or mention requirement.
func (a *Adapter) Decode(event interface{}) (bus.InboundMessage, bool) {
	m, ok := event.(*discordgo.MessageCreate)
	if !ok || m.Message == nil {
		return bus.InboundMessage{}, false
	}
	if m.Author == nil || m.Author.Bot || m.Author.ID == a.BotUserID {
		return bus.InboundMessage{}, false
	}

	senderID := m.Author.ID
	isDM := m.GuildID == ""
	peerKind := "group"
	if isDM {
		peerKind = "direct"
	}

	if !a.policy.IsAllowed(senderID) {
		return bus.InboundMessage{}, false
	}

	if peerKind == "group" && a.requireMention() && !mentions(m, a.BotUserID) {
		return bus.InboundMessage{}, false
	}

	content := m.Content
	for _, att := range m.Attachments {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[attachment: %s]", att.URL)
	}
	if content == "" {
		content = "[empty message]"
	}

	senderName := m.Author.Username
	if m.Member != nil && m.Member.Nick != "" {
		senderName = m.Member.Nick
	}

	return bus.InboundMessage{
		Channel:    a.Channel(),
		SenderID:   senderID,
		ChatID:     m.ChannelID,
		Content:    content,
		PeerKind:   peerKind,
		UserID:     senderID,
		Metadata:   map[string]string{"sender_name": senderName, "guild_id": m.GuildID},
	}, true
}

func (a *Adapter) requireMention() bool {
	if a.cfg.RequireMention == nil {
		return true
	}
	return *a.cfg.RequireMention
}

func mentions(m *discordgo.MessageCreate, botUserID string) bool {
	if botUserID == "" {
		return false
	}
	for _, u := range m.Mentions {
		if u.ID == botUserID {
			return true
		}
	}
	return false
}
