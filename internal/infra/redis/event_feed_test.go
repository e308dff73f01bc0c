package redis

import (
	"context"
	"testing"
	"time"

	"checkpoint-service/internal/domain"
	miniredis "github.com/alicebob/miniredis/v2"
)

func TestEventFeedDeliversPublishedEvents(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	client := newClient(mr)
	feed := NewEventFeed(client, nil)
	ctx, cancelCtx := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelCtx()

	events, cancel, err := feed.Subscribe(ctx, "s1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := feed.Publish(ctx, domain.Event{ID: "e-other", SessionID: "s2", EventType: domain.EventHeartbeat}); err != nil {
		t.Fatalf("publish other: %v", err)
	}
	want := domain.Event{ID: "e1", SessionID: "s1", EventType: domain.EventTabSwitch, IsSuspicious: true, SuspicionReason: "left the tab"}
	if err := feed.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-events:
		if got.ID != want.ID || got.EventType != want.EventType || !got.IsSuspicious {
			t.Fatalf("unexpected event %+v", got)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for event")
	}

	cancel()
	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected channel to close after cancel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed after cancel")
	}
}
