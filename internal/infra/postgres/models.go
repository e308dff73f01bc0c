package postgres

import (
	"encoding/json"
	"time"

	"checkpoint-service/internal/domain"
	"github.com/uptrace/bun"
)

type sessionModel struct {
	bun.BaseModel `bun:"table:checkpoint_sessions,alias:s"`

	ID                   string          `bun:"id,pk"`
	CheckpointID         string          `bun:"checkpoint_id,notnull"`
	UserID               string          `bun:"user_id,notnull"`
	AttemptNumber        int             `bun:"attempt_number,notnull"`
	Status               string          `bun:"status,notnull"`
	StartedAt            *time.Time      `bun:"started_at"`
	EndedAt              *time.Time      `bun:"ended_at"`
	ResumedAt            *time.Time      `bun:"resumed_at"`
	TimeElapsedSeconds   int             `bun:"time_elapsed_seconds,notnull"`
	TimeElapsedMillis    int64           `bun:"time_elapsed_ms,notnull"`
	TimeLimitSeconds     *int            `bun:"time_limit_seconds"`
	BreaksEnabled        bool            `bun:"breaks_enabled,notnull"`
	BreakDurationSeconds *int            `bun:"break_duration_seconds"`
	BreakStartedAt       *time.Time      `bun:"break_started_at"`
	BreaksTaken          int             `bun:"breaks_taken,notnull"`
	TotalBreakSeconds    int             `bun:"total_break_seconds,notnull"`
	QuestionsTotal       int             `bun:"questions_total,notnull"`
	QuestionsAnswered    int             `bun:"questions_answered,notnull"`
	QuestionsSkipped     int             `bun:"questions_skipped,notnull"`
	IntegrityFlagged     bool            `bun:"integrity_flagged,notnull"`
	Score                *float64        `bun:"score"`
	MaxScore             *float64        `bun:"max_score"`
	PendingReviewCount   int             `bun:"pending_review_count,notnull"`
	DeviceInfo           json.RawMessage `bun:"device_info,type:jsonb"`
	CreatedAt            time.Time       `bun:"created_at,notnull"`
	UpdatedAt            time.Time       `bun:"updated_at,notnull"`
}

// lifecycleColumns are the columns a status transition may write.
var lifecycleColumns = []string{
	"status", "started_at", "ended_at", "resumed_at", "time_elapsed_seconds", "time_elapsed_ms",
	"break_started_at", "breaks_taken", "total_break_seconds",
	"score", "max_score", "pending_review_count", "updated_at",
}

func newSessionModel(s domain.Session) *sessionModel {
	return &sessionModel{
		ID:                   s.ID,
		CheckpointID:         s.CheckpointID,
		UserID:               s.UserID,
		AttemptNumber:        s.AttemptNumber,
		Status:               string(s.Status),
		StartedAt:            s.StartedAt,
		EndedAt:              s.EndedAt,
		ResumedAt:            s.ResumedAt,
		TimeElapsedSeconds:   s.TimeElapsedSeconds,
		TimeElapsedMillis:    s.TimeElapsedMillis,
		TimeLimitSeconds:     s.TimeLimitSeconds,
		BreaksEnabled:        s.BreaksEnabled,
		BreakDurationSeconds: s.BreakDurationSeconds,
		BreakStartedAt:       s.BreakStartedAt,
		BreaksTaken:          s.BreaksTaken,
		TotalBreakSeconds:    s.TotalBreakSeconds,
		QuestionsTotal:       s.QuestionsTotal,
		QuestionsAnswered:    s.QuestionsAnswered,
		QuestionsSkipped:     s.QuestionsSkipped,
		IntegrityFlagged:     s.IntegrityFlagged,
		Score:                s.Score,
		MaxScore:             s.MaxScore,
		PendingReviewCount:   s.PendingReviewCount,
		DeviceInfo:           s.DeviceInfo,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
}

func (m *sessionModel) domain() domain.Session {
	return domain.Session{
		ID:                   m.ID,
		CheckpointID:         m.CheckpointID,
		UserID:               m.UserID,
		AttemptNumber:        m.AttemptNumber,
		Status:               domain.SessionStatus(m.Status),
		StartedAt:            utcPtr(m.StartedAt),
		EndedAt:              utcPtr(m.EndedAt),
		ResumedAt:            utcPtr(m.ResumedAt),
		TimeElapsedSeconds:   m.TimeElapsedSeconds,
		TimeElapsedMillis:    m.TimeElapsedMillis,
		TimeLimitSeconds:     m.TimeLimitSeconds,
		BreaksEnabled:        m.BreaksEnabled,
		BreakDurationSeconds: m.BreakDurationSeconds,
		BreakStartedAt:       utcPtr(m.BreakStartedAt),
		BreaksTaken:          m.BreaksTaken,
		TotalBreakSeconds:    m.TotalBreakSeconds,
		QuestionsTotal:       m.QuestionsTotal,
		QuestionsAnswered:    m.QuestionsAnswered,
		QuestionsSkipped:     m.QuestionsSkipped,
		IntegrityFlagged:     m.IntegrityFlagged,
		Score:                m.Score,
		MaxScore:             m.MaxScore,
		PendingReviewCount:   m.PendingReviewCount,
		DeviceInfo:           m.DeviceInfo,
		CreatedAt:            m.CreatedAt.UTC(),
		UpdatedAt:            m.UpdatedAt.UTC(),
	}
}

type responseModel struct {
	bun.BaseModel `bun:"table:checkpoint_responses,alias:r"`

	ID                string                `bun:"id,pk"`
	SessionID         string                `bun:"session_id,notnull"`
	QuestionID        string                `bun:"question_id,notnull"`
	Status            string                `bun:"status,notnull"`
	ResponseData      json.RawMessage       `bun:"response_data,type:jsonb"`
	TextResponse      *string               `bun:"text_response"`
	SelectedOptions   []string              `bun:"selected_options,type:jsonb"`
	MatchingPairs     []domain.MatchingPair `bun:"matching_pairs,type:jsonb"`
	Ordering          []string              `bun:"ordering,type:jsonb"`
	FileSubmissionID  *string               `bun:"file_submission_id"`
	AudioResponseURL  *string               `bun:"audio_response_url"`
	TimeSpentSeconds  int                   `bun:"time_spent_seconds,notnull"`
	FlaggedForReview  bool                  `bun:"flagged_for_review,notnull"`
	AnsweredAt        *time.Time            `bun:"answered_at"`
	OfflineAnsweredAt *time.Time            `bun:"offline_answered_at"`
	Synced            bool                  `bun:"synced,notnull"`
	CreatedAt         time.Time             `bun:"created_at,notnull"`
	UpdatedAt         time.Time             `bun:"updated_at,notnull"`
}

func newResponseModel(r domain.Response) *responseModel {
	return &responseModel{
		ID:                r.ID,
		SessionID:         r.SessionID,
		QuestionID:        r.QuestionID,
		Status:            string(r.Status),
		ResponseData:      r.ResponseData,
		TextResponse:      r.TextResponse,
		SelectedOptions:   r.SelectedOptions,
		MatchingPairs:     r.MatchingPairs,
		Ordering:          r.Ordering,
		FileSubmissionID:  r.FileSubmissionID,
		AudioResponseURL:  r.AudioResponseURL,
		TimeSpentSeconds:  r.TimeSpentSeconds,
		FlaggedForReview:  r.FlaggedForReview,
		AnsweredAt:        r.AnsweredAt,
		OfflineAnsweredAt: r.OfflineAnsweredAt,
		Synced:            r.Synced,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

func (m *responseModel) domain() domain.Response {
	return domain.Response{
		ID:                m.ID,
		SessionID:         m.SessionID,
		QuestionID:        m.QuestionID,
		Status:            domain.ResponseStatus(m.Status),
		ResponseData:      m.ResponseData,
		TextResponse:      m.TextResponse,
		SelectedOptions:   m.SelectedOptions,
		MatchingPairs:     m.MatchingPairs,
		Ordering:          m.Ordering,
		FileSubmissionID:  m.FileSubmissionID,
		AudioResponseURL:  m.AudioResponseURL,
		TimeSpentSeconds:  m.TimeSpentSeconds,
		FlaggedForReview:  m.FlaggedForReview,
		AnsweredAt:        utcPtr(m.AnsweredAt),
		OfflineAnsweredAt: utcPtr(m.OfflineAnsweredAt),
		Synced:            m.Synced,
		CreatedAt:         m.CreatedAt.UTC(),
		UpdatedAt:         m.UpdatedAt.UTC(),
	}
}

type eventModel struct {
	bun.BaseModel `bun:"table:checkpoint_session_events,alias:e"`

	Seq             int64           `bun:"seq,scanonly"`
	ID              string          `bun:"id,pk"`
	SessionID       string          `bun:"session_id,notnull"`
	EventType       string          `bun:"event_type,notnull"`
	QuestionID      *string         `bun:"question_id"`
	EventData       json.RawMessage `bun:"event_data,type:jsonb"`
	ClientTimestamp *time.Time      `bun:"client_timestamp"`
	ServerTimestamp time.Time       `bun:"server_timestamp,notnull"`
	IsSuspicious    bool            `bun:"is_suspicious,notnull"`
	SuspicionReason *string         `bun:"suspicion_reason"`
}

func newEventModel(e domain.Event) *eventModel {
	m := &eventModel{
		ID:              e.ID,
		SessionID:       e.SessionID,
		EventType:       string(e.EventType),
		QuestionID:      e.QuestionID,
		EventData:       e.EventData,
		ClientTimestamp: e.ClientTimestamp,
		ServerTimestamp: e.ServerTimestamp,
		IsSuspicious:    e.IsSuspicious,
	}
	if e.SuspicionReason != "" {
		reason := e.SuspicionReason
		m.SuspicionReason = &reason
	}
	return m
}

func (m *eventModel) domain() domain.Event {
	e := domain.Event{
		ID:              m.ID,
		SessionID:       m.SessionID,
		EventType:       domain.EventType(m.EventType),
		QuestionID:      m.QuestionID,
		EventData:       m.EventData,
		ClientTimestamp: utcPtr(m.ClientTimestamp),
		ServerTimestamp: m.ServerTimestamp.UTC(),
		IsSuspicious:    m.IsSuspicious,
	}
	if m.SuspicionReason != nil {
		e.SuspicionReason = *m.SuspicionReason
	}
	return e
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
