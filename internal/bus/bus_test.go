package bus

import (
	"context"
	"testing"
	"time"
)

func TestMessageBus_BroadcastReachesSubscribers(t *testing.T) {
	b := New()
	got := make(chan Event, 1)
	b.Subscribe("client-1", func(e Event) { got <- e })

	b.Broadcast(Event{Name: "chat", Payload: "hi"})

	select {
	case e := <-got:
		if e.Name != "chat" {
			t.Fatalf("event name = %q, want chat", e.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber never received broadcast event")
	}
}

func TestMessageBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New()
	calls := 0
	b.Subscribe("client-1", func(Event) { calls++ })
	b.Unsubscribe("client-1")

	b.Broadcast(Event{Name: "chat"})

	if calls != 0 {
		t.Fatalf("handler called %d times after Unsubscribe, want 0", calls)
	}
}

func TestMessageBus_InboundRoundTrip(t *testing.T) {
	b := New()
	b.PublishInbound(InboundMessage{Channel: "telegram", Content: "hello"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("ConsumeInbound() ok = false, want true")
	}
	if msg.Content != "hello" {
		t.Fatalf("Content = %q, want hello", msg.Content)
	}
}

func TestMessageBus_ConsumeInboundRespectsContextCancellation(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := b.ConsumeInbound(ctx)
	if ok {
		t.Fatal("ConsumeInbound() ok = true after context cancellation, want false")
	}
}

func TestMessageBus_OutboundRoundTrip(t *testing.T) {
	b := New()
	b.PublishOutbound(OutboundMessage{Channel: "discord", ChatID: "42", Content: "reply"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := b.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("SubscribeOutbound() ok = false, want true")
	}
	if msg.ChatID != "42" {
		t.Fatalf("ChatID = %q, want 42", msg.ChatID)
	}
}
