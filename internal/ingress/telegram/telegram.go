// Package telegram implements the ingress boundary's Telegram adapter:
// decoding a mymmrac/telego Update into a bus.InboundMessage. Like
// ingress/discord, it never touches bot-gateway connection management —
// no long-polling loop, no webhook server, just the decode step.
package telegram

import (
	"fmt"

	"github.com/mymmrac/telego"

	"github.com/itellico/joi-gateway/internal/bus"
	"github.com/itellico/joi-gateway/internal/config"
	"github.com/itellico/joi-gateway/internal/ingress"
)

const generalTopicID = 1

type Adapter struct {
	cfg    config.TelegramConfig
	policy ingress.AllowPolicy
}

func New(cfg config.TelegramConfig) *Adapter {
	return &Adapter{cfg: cfg, policy: ingress.AllowPolicy{AllowFrom: cfg.AllowFrom}}
}

func (a *Adapter) Channel() string { return "telegram" }

// Decode turns one telego.Update into a bus.InboundMessage. ok is false for
// service messages (member joins, pinned messages, etc.) and messages from
// users outside the configured allow-list.
func (a *Adapter) Decode(event interface{}) (bus.InboundMessage, bool) {
	update, ok := event.(telego.Update)
	if !ok {
		return bus.InboundMessage{}, false
	}
	message := update.Message
	if message == nil || isServiceMessage(message) {
		return bus.InboundMessage{}, false
	}
	user := message.From
	if user == nil {
		return bus.InboundMessage{}, false
	}

	userID := fmt.Sprintf("%d", user.ID)
	senderID := userID
	if user.Username != "" {
		senderID = fmt.Sprintf("%s|%s", userID, user.Username)
	}
	if !a.policy.IsAllowed(senderID) {
		return bus.InboundMessage{}, false
	}

	isGroup := message.Chat.Type == "group" || message.Chat.Type == "supergroup"
	peerKind := "direct"
	if isGroup {
		peerKind = "group"
	}

	threadID := 0
	if isGroup && message.Chat.IsForum {
		threadID = message.MessageThreadID
		if threadID == 0 {
			threadID = generalTopicID
		}
	}

	content := message.Text
	if content == "" {
		content = message.Caption
	}
	if content == "" {
		content = "[empty message]"
	}

	chatID := fmt.Sprintf("%d", message.Chat.ID)
	metadata := map[string]string{"username": user.Username, "first_name": user.FirstName}
	if threadID != 0 {
		metadata["thread_id"] = fmt.Sprintf("%d", threadID)
	}

	return bus.InboundMessage{
		Channel:      a.Channel(),
		SenderID:     senderID,
		ChatID:       chatID,
		Content:      content,
		PeerKind:     peerKind,
		UserID:       userID,
		HistoryLimit: a.cfg.HistoryLimit,
		Metadata:     metadata,
	}, true
}

// isServiceMessage reports whether m carries no text/caption/media, only an
// administrative event (member added/removed, title changed, pin). These
// have no meaningful content to hand to the runtime.
func isServiceMessage(m *telego.Message) bool {
	if m.Text != "" || m.Caption != "" || m.Photo != nil || m.Document != nil ||
		m.Voice != nil || m.Video != nil || m.Audio != nil || m.Sticker != nil {
		return false
	}
	return len(m.NewChatMembers) > 0 || m.LeftChatMember != nil ||
		m.NewChatTitle != "" || m.PinnedMessage != nil
}
