package notify

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBus_PublishConsume(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ctx := context.Background()
	if err := b.Publish(ctx, Notification{Kind: KindIncomingMessage, SenderID: "u2", Text: "hi"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	n, ok := b.Consume(ctx)
	if !ok {
		t.Fatal("expected a notification")
	}
	if n.Kind != KindIncomingMessage || n.SenderID != "u2" {
		t.Errorf("got %+v", n)
	}
}

func TestBus_ClosedRejectsPublish(t *testing.T) {
	b := NewBus()
	b.Close()

	err := b.Publish(context.Background(), Notification{Kind: KindError})
	if !errors.Is(err, ErrBusClosed) {
		t.Errorf("expected ErrBusClosed, got %v", err)
	}

	if _, ok := b.Consume(context.Background()); ok {
		t.Error("expected consume to report closed")
	}
}

func TestBus_ConsumeHonorsContext(t *testing.T) {
	b := NewBus()
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, ok := b.Consume(ctx)
	if ok {
		t.Error("expected no notification")
	}
	if time.Since(start) > time.Second {
		t.Error("consume did not return promptly on context timeout")
	}
}
