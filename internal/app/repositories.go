package app

import (
	"context"
	"time"

	"checkpoint-service/internal/domain"
)

// SessionRepository persists sessions. Every method is a single atomic statement against the store.
type SessionRepository interface {
	// CreateSession inserts s; a duplicate (user, checkpoint, attempt) yields domain.ErrConflict.
	CreateSession(ctx context.Context, s domain.Session) error
	GetSession(ctx context.Context, id string) (domain.Session, error)
	CountAttempts(ctx context.Context, userID, checkpointID string) (int, error)
	LatestAttempt(ctx context.Context, userID, checkpointID string) (domain.Session, bool, error)
	// TransitionSession writes s only if the stored status is one of from, reporting whether it applied.
	TransitionSession(ctx context.Context, s domain.Session, from ...domain.SessionStatus) (bool, error)
	FlagIntegrity(ctx context.Context, sessionID string) error
	// RefreshCounters recomputes answered/skipped counters from the session's response rows.
	RefreshCounters(ctx context.Context, sessionID string) (domain.Session, error)
}

// ResponseRepository persists responses keyed by (session_id, question_id).
type ResponseRepository interface {
	// UpsertResponse inserts r or merges it into the existing row for the same question.
	UpsertResponse(ctx context.Context, r domain.Response) (domain.Response, error)
	// SkipResponse inserts r as skipped or marks the existing row skipped.
	SkipResponse(ctx context.Context, r domain.Response) (domain.Response, error)
	// MarkViewed inserts r as viewed if absent and promotes a not_viewed row; other rows are returned as is.
	MarkViewed(ctx context.Context, r domain.Response) (domain.Response, error)
	// SetFlag flags or unflags an existing row; domain.ErrNotFound if there is none.
	SetFlag(ctx context.Context, sessionID, questionID string, flagged bool, now time.Time) (domain.Response, error)
	GetResponse(ctx context.Context, sessionID, questionID string) (domain.Response, error)
	ListResponses(ctx context.Context, sessionID string) ([]domain.Response, error)
}

// EventRepository is the append-only session event log.
type EventRepository interface {
	AppendEvent(ctx context.Context, e domain.Event) error
	ListEvents(ctx context.Context, sessionID string) ([]domain.Event, error)
}

// Store is the relational store shared by both services.
type Store interface {
	SessionRepository
	ResponseRepository
	EventRepository
}

// Catalog loads checkpoint definitions and question content owned by the authoring subsystem.
type Catalog interface {
	GetDefinition(ctx context.Context, checkpointID string) (domain.CheckpointDefinition, error)
	// GetQuestionContents fetches all requested questions with their options in bulk.
	GetQuestionContents(ctx context.Context, questionIDs []string) (map[string]domain.QuestionContent, error)
}

// AccommodationLookup reads approved accessibility records.
type AccommodationLookup interface {
	GetAccommodation(ctx context.Context, userID, communityID string) (domain.Accommodation, bool, error)
}

// Notifier publishes lifecycle notices for downstream consumers.
type Notifier interface {
	SessionStarted(ctx context.Context, s domain.Session) error
	SessionEnded(ctx context.Context, s domain.Session) error
}

type noopNotifier struct{}

func (noopNotifier) SessionStarted(context.Context, domain.Session) error { return nil }
func (noopNotifier) SessionEnded(context.Context, domain.Session) error   { return nil }

// EventFeed fans recorded events out to live subscribers such as websocket streams.
type EventFeed interface {
	Publish(ctx context.Context, e domain.Event) error
	// Subscribe streams events of sessionID until the returned cancel func is called.
	Subscribe(ctx context.Context, sessionID string) (<-chan domain.Event, func(), error)
}

type noopFeed struct{}

func (noopFeed) Publish(context.Context, domain.Event) error { return nil }

func (noopFeed) Subscribe(context.Context, string) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event)
	close(ch)
	return ch, func() {}, nil
}
