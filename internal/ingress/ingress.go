// Package ingress defines the ingress boundary: translating a
// channel-specific inbound event into a generic bus.InboundMessage. Adapters
// here stop at "parse the event, build the inbound message" — bot-gateway
// connection management, typing indicators, and pairing flows are the
// channel's own concern and out of scope here.
package ingress

import "github.com/itellico/joi-gateway/internal/bus"

// ChannelAdapter decodes one channel SDK's native event type into a
// bus.InboundMessage, or reports ok=false for events that carry no user
// message (service messages, bot's own echoes, reactions).
type ChannelAdapter interface {
	Channel() string
	Decode(event interface{}) (msg bus.InboundMessage, ok bool)
}

// AllowPolicy gates an inbound message by sender before it reaches the
// Agent Runtime, mirroring the teacher's BaseChannel allow-list check.
type AllowPolicy struct {
	AllowFrom []string
}

// IsAllowed reports whether senderID may reach the runtime. An empty
// AllowFrom list means "allow anyone" — the policy is opt-in, not opt-out.
func (p AllowPolicy) IsAllowed(senderID string) bool {
	if len(p.AllowFrom) == 0 {
		return true
	}
	for _, id := range p.AllowFrom {
		if id == senderID {
			return true
		}
	}
	return false
}
