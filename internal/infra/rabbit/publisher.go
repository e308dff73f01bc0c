package rabbit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"checkpoint-service/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// DefaultExchange is the topic exchange lifecycle notices are published to.
	DefaultExchange = "checkpoint.sessions"
	// SessionStartRoutingKey is used when a session moves to in progress.
	SessionStartRoutingKey = "session.start"
	// SessionEndRoutingKey is used when a session is submitted, abandoned or timed out.
	SessionEndRoutingKey = "session.end"
)

type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends session lifecycle notices to RabbitMQ for downstream consumers
// such as grading and analytics.
type Publisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       channel
	exchange string
}

// Notice is the message body of a lifecycle notice.
type Notice struct {
	SessionID     string               `json:"session_id"`
	CheckpointID  string               `json:"checkpoint_id"`
	UserID        string               `json:"user_id"`
	AttemptNumber int                  `json:"attempt_number"`
	Status        domain.SessionStatus `json:"status"`
	OccurredAt    time.Time            `json:"occurred_at"`
	TimeElapsed   int                  `json:"time_elapsed_seconds"`
	Score         *float64             `json:"score,omitempty"`
	MaxScore      *float64             `json:"max_score,omitempty"`
	Flagged       bool                 `json:"integrity_flagged"`
}

// Dial connects to url and declares the exchange.
func Dial(url, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	p, err := newPublisher(ch, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

func newPublisher(ch channel, exchange string) (*Publisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &Publisher{ch: ch, exchange: exchange}, nil
}

func (p *Publisher) SessionStarted(ctx context.Context, s domain.Session) error {
	return p.publish(ctx, SessionStartRoutingKey, s)
}

func (p *Publisher) SessionEnded(ctx context.Context, s domain.Session) error {
	return p.publish(ctx, SessionEndRoutingKey, s)
}

func (p *Publisher) publish(ctx context.Context, key string, s domain.Session) error {
	occurred := s.UpdatedAt
	if s.EndedAt != nil && key == SessionEndRoutingKey {
		occurred = *s.EndedAt
	}
	body, err := json.Marshal(Notice{
		SessionID:     s.ID,
		CheckpointID:  s.CheckpointID,
		UserID:        s.UserID,
		AttemptNumber: s.AttemptNumber,
		Status:        s.Status,
		OccurredAt:    occurred,
		TimeElapsed:   s.TimeElapsedSeconds,
		Score:         s.Score,
		MaxScore:      s.MaxScore,
		Flagged:       s.IntegrityFlagged,
	})
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    s.ID + ":" + string(s.Status),
		Timestamp:    occurred,
		Body:         body,
	})
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
