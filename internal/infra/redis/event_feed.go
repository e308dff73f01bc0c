package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"checkpoint-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventFeed fans session events out through Redis pub/sub so every instance can
// stream them to websocket clients, whichever instance recorded the event.
type EventFeed struct {
	client *redis.Client
	logger *zap.Logger
}

func NewEventFeed(client *redis.Client, logger *zap.Logger) *EventFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventFeed{client: client, logger: logger}
}

func (f *EventFeed) Publish(ctx context.Context, e domain.Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return f.client.Publish(ctx, channel(e.SessionID), raw).Err()
}

// Subscribe streams events of sessionID until cancel is called or ctx ends.
func (f *EventFeed) Subscribe(ctx context.Context, sessionID string) (<-chan domain.Event, func(), error) {
	sub := f.client.Subscribe(ctx, channel(sessionID))
	// Wait for the subscription confirmation so no event published after Subscribe returns is lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", sessionID, err)
	}

	out := make(chan domain.Event, 16)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := sub.Channel()
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e domain.Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					f.logger.Warn("drop malformed session event", zap.String("session_id", sessionID), zap.Error(err))
					continue
				}
				select {
				case out <- e:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			case <-done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = sub.Close()
		})
	}
	return out, cancel, nil
}

func channel(sessionID string) string {
	return "checkpoint:session:" + sessionID + ":events"
}
