package bus

import (
	"context"
	"testing"
	"time"
)

func TestInboundRoundTrip(t *testing.T) {
	b := New()
	b.PublishInbound(InboundMessage{Channel: "telegram", ChatID: "42", Content: "hi"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := b.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected a message before the deadline")
	}
	if msg.Channel != "telegram" || msg.ChatID != "42" || msg.Content != "hi" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestConsumeInboundHonorsCancellation(t *testing.T) {
	b := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ok := b.ConsumeInbound(ctx); ok {
		t.Fatal("expected ok=false after cancellation")
	}
}

func TestOutboundRoundTrip(t *testing.T) {
	b := New()
	b.PublishOutbound(OutboundMessage{Channel: "telegram", ChatID: "42", Content: "pong"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	msg, ok := b.SubscribeOutbound(ctx)
	if !ok {
		t.Fatal("expected a message before the deadline")
	}
	if msg.Content != "pong" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	b := New()
	var got []string
	b.Subscribe("a", func(e Event) { got = append(got, "a:"+e.Name) })
	b.Subscribe("b", func(e Event) { got = append(got, "b:"+e.Name) })

	b.Broadcast(Event{Name: "health"})
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %v", got)
	}

	b.Unsubscribe("a")
	got = got[:0]
	b.Broadcast(Event{Name: "health"})
	if len(got) != 1 || got[0] != "b:health" {
		t.Fatalf("expected only b after unsubscribe, got %v", got)
	}
}
