package app

import (
	"context"
	"time"

	"checkpoint-service/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Option configures a service.
type Option func(*options)

type options struct {
	now      func() time.Time
	newID    func() string
	logger   *zap.Logger
	policy   domain.EventPolicy
	notifier Notifier
	feed     EventFeed
}

func defaultOptions() options {
	return options{
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		logger:   zap.NewNop(),
		policy:   domain.DefaultEventPolicy(),
		notifier: noopNotifier{},
		feed:     noopFeed{},
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithClock is mostly for deterministic timestamps in tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithEventPolicy replaces the event classification used by RecordEvent.
func WithEventPolicy(policy domain.EventPolicy) Option {
	return func(o *options) {
		if policy != nil {
			o.policy = policy
		}
	}
}

func WithNotifier(n Notifier) Option {
	return func(o *options) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithEventFeed publishes every recorded event to feed after it is stored.
func WithEventFeed(feed EventFeed) Option {
	return func(o *options) {
		if feed != nil {
			o.feed = feed
		}
	}
}

// record appends e to the log and fans it out; a feed failure only costs live subscribers the event.
func (o options) record(ctx context.Context, store EventRepository, e domain.Event) error {
	if err := store.AppendEvent(ctx, e); err != nil {
		return err
	}
	if err := o.feed.Publish(ctx, e); err != nil {
		o.logger.Warn("publish session event failed",
			zap.String("session_id", e.SessionID),
			zap.String("event_type", string(e.EventType)),
			zap.Error(err),
		)
	}
	return nil
}
