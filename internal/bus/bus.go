package bus

import (
	"context"
	"sync"
)

// MessageBus is the in-process hub connecting channel ingress adapters, the
// Agent Runtime, and connected gateway clients. It implements both
// EventPublisher (WS event fanout) and MessageRouter (inbound/outbound
// channel queues).
type MessageBus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler

	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

// New creates a MessageBus with reasonably sized buffered queues. A full
// inbound/outbound queue blocks the publisher rather than drop messages —
// ingress adapters and the runtime are expected to keep up.
func New() *MessageBus {
	return &MessageBus{
		handlers: make(map[string]EventHandler),
		inbound:  make(chan InboundMessage, 256),
		outbound: make(chan OutboundMessage, 256),
	}
}

func (b *MessageBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	b.handlers[id] = handler
	b.mu.Unlock()
}

func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	delete(b.handlers, id)
	b.mu.Unlock()
}

func (b *MessageBus) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, h := range b.handlers {
		h(event)
	}
}

func (b *MessageBus) PublishInbound(msg InboundMessage) {
	b.inbound <- msg
}

// ConsumeInbound blocks for the next inbound message, returning (msg, false)
// if ctx is cancelled first.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg := <-b.inbound:
		return msg, true
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

func (b *MessageBus) PublishOutbound(msg OutboundMessage) {
	b.outbound <- msg
}

func (b *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg := <-b.outbound:
		return msg, true
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}
