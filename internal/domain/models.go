package domain

import (
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle state of a checkpoint session.
type SessionStatus string

const (
	StatusInitializing SessionStatus = "initializing"
	StatusInProgress   SessionStatus = "in_progress"
	StatusPaused       SessionStatus = "paused"
	StatusOnBreak      SessionStatus = "on_break"
	StatusSubmitted    SessionStatus = "submitted"
	StatusTimedOut     SessionStatus = "timed_out"
	StatusAbandoned    SessionStatus = "abandoned"
)

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	switch s {
	case StatusSubmitted, StatusTimedOut, StatusAbandoned:
		return true
	}
	return false
}

// Session is one attempt by one learner at one checkpoint.
type Session struct {
	ID            string        `json:"id"`
	CheckpointID  string        `json:"checkpoint_id"`
	UserID        string        `json:"user_id"`
	AttemptNumber int           `json:"attempt_number"`
	Status        SessionStatus `json:"status"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	// ResumedAt is the baseline of the running segment; set only while in progress.
	ResumedAt          *time.Time `json:"-"`
	TimeElapsedSeconds int        `json:"time_elapsed_seconds"`
	TimeLimitSeconds   *int       `json:"time_limit_seconds"`
	TimeElapsedMillis  int64      `json:"-"`

	BreaksEnabled        bool       `json:"breaks_enabled"`
	BreakDurationSeconds *int       `json:"break_duration_seconds,omitempty"`
	BreakStartedAt       *time.Time `json:"break_started_at,omitempty"`
	BreaksTaken          int        `json:"breaks_taken"`
	TotalBreakSeconds    int        `json:"total_break_seconds"`

	QuestionsTotal    int `json:"questions_total"`
	QuestionsAnswered int `json:"questions_answered"`
	QuestionsSkipped  int `json:"questions_skipped"`

	IntegrityFlagged bool `json:"integrity_flagged"`

	Score              *float64 `json:"score,omitempty"`
	MaxScore           *float64 `json:"max_score,omitempty"`
	PendingReviewCount int      `json:"pending_review_count"`

	DeviceInfo json.RawMessage `json:"device_info,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// ElapsedAt returns accumulated active seconds including the running segment, if any.
// Sub-second remainders are carried in milliseconds and only truncated here.
func (s Session) ElapsedAt(now time.Time) int {
	elapsed := s.TimeElapsedMillis
	if s.Status == StatusInProgress && s.ResumedAt != nil {
		elapsed += MillisBetween(*s.ResumedAt, now)
	}
	return int(elapsed / 1000)
}

// AddActive folds an active segment into the elapsed counters. TimeElapsedMillis is authoritative;
// TimeElapsedSeconds is its whole-second view, so sub-second remainders survive pause cycles.
func (s *Session) AddActive(millis int64) {
	s.TimeElapsedMillis += millis
	s.TimeElapsedSeconds = int(s.TimeElapsedMillis / 1000)
}

// MillisBetween returns milliseconds from a to b, never negative.
func MillisBetween(a, b time.Time) int64 {
	d := b.Sub(a)
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}

// SecondsBetween returns whole seconds from a to b, never negative.
func SecondsBetween(a, b time.Time) int {
	d := b.Sub(a)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}

// SessionProgress summarizes completion and timing for a session.
type SessionProgress struct {
	Status               SessionStatus `json:"status"`
	QuestionsTotal       int           `json:"questions_total"`
	QuestionsAnswered    int           `json:"questions_answered"`
	QuestionsSkipped     int           `json:"questions_skipped"`
	CompletionPercentage int           `json:"completion_percentage"`
	TimeElapsedSeconds   int           `json:"time_elapsed_seconds"`
	TimeRemainingSeconds *int          `json:"time_remaining_seconds"`
	IsExpired            bool          `json:"is_expired"`
}

// ResponseStatus is the per-question state of a learner's response.
type ResponseStatus string

const (
	ResponseNotViewed ResponseStatus = "not_viewed"
	ResponseViewed    ResponseStatus = "viewed"
	ResponseAnswered  ResponseStatus = "answered"
	ResponseSkipped   ResponseStatus = "skipped"
	ResponseFlagged   ResponseStatus = "flagged"
)

// MatchingPair links a left-hand item to a right-hand item.
type MatchingPair struct {
	Left  string `json:"left" validate:"required"`
	Right string `json:"right" validate:"required"`
}

// Response is one learner's answer (or view/skip/flag state) for one question within one session.
type Response struct {
	ID               string          `json:"id"`
	SessionID        string          `json:"session_id"`
	QuestionID       string          `json:"question_id"`
	Status           ResponseStatus  `json:"status"`
	ResponseData     json.RawMessage `json:"response_data,omitempty"`
	TextResponse     *string         `json:"text_response,omitempty"`
	SelectedOptions  []string        `json:"selected_options,omitempty"`
	MatchingPairs    []MatchingPair  `json:"matching_pairs,omitempty"`
	Ordering         []string        `json:"ordering,omitempty"`
	FileSubmissionID *string         `json:"file_submission_id,omitempty"`
	AudioResponseURL *string         `json:"audio_response_url,omitempty"`
	TimeSpentSeconds int             `json:"time_spent_seconds"`
	FlaggedForReview bool            `json:"flagged_for_review"`
	AnsweredAt       *time.Time      `json:"answered_at,omitempty"`

	OfflineAnsweredAt *time.Time `json:"offline_answered_at,omitempty"`
	Synced            bool       `json:"synced"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Event is an append-only record of something that happened during a session.
type Event struct {
	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	EventType       EventType       `json:"event_type"`
	QuestionID      *string         `json:"question_id,omitempty"`
	EventData       json.RawMessage `json:"event_data,omitempty"`
	ClientTimestamp *time.Time      `json:"client_timestamp,omitempty"`
	ServerTimestamp time.Time       `json:"server_timestamp"`
	IsSuspicious    bool            `json:"is_suspicious"`
	SuspicionReason string          `json:"suspicion_reason,omitempty"`
}

// CheckpointStatus is the authoring status of a checkpoint definition.
type CheckpointStatus string

const (
	CheckpointDraft    CheckpointStatus = "draft"
	CheckpointActive   CheckpointStatus = "active"
	CheckpointArchived CheckpointStatus = "archived"
)

// Checkpoint is the read-only assessment definition owned by the catalog.
type Checkpoint struct {
	ID                 string           `json:"id"`
	CommunityID        string           `json:"community_id"`
	Title              string           `json:"title"`
	Status             CheckpointStatus `json:"status"`
	TimeLimitMinutes   *int             `json:"time_limit_minutes"`
	AllowPause         bool             `json:"allow_pause"`
	ShuffleQuestions   bool             `json:"shuffle_questions"`
	ShuffleOptions     bool             `json:"shuffle_options"`
	ShowCorrectAnswers bool             `json:"show_correct_answers"`
	MaxAttempts        *int             `json:"max_attempts"`
	CooldownHours      *int             `json:"cooldown_hours"`
}

// CheckpointQuestion joins a question into a checkpoint.
type CheckpointQuestion struct {
	QuestionID     string   `json:"question_id"`
	FormatTypeID   string   `json:"format_type_id"`
	DisplayOrder   int      `json:"display_order"`
	IsRequired     bool     `json:"is_required"`
	PointsOverride *float64 `json:"points_override"`
}

// CheckpointDefinition is a checkpoint plus its ordered question list.
type CheckpointDefinition struct {
	Checkpoint Checkpoint           `json:"checkpoint"`
	Questions  []CheckpointQuestion `json:"questions"`
}

// Question returns the checkpoint question with the given id.
func (d CheckpointDefinition) Question(questionID string) (CheckpointQuestion, bool) {
	for _, q := range d.Questions {
		if q.QuestionID == questionID {
			return q, true
		}
	}
	return CheckpointQuestion{}, false
}

// QuestionOption is a selectable option of a question. Correctness fields never leave the service.
type QuestionOption struct {
	ID              string `json:"id"`
	Text            string `json:"text"`
	DisplayOrder    int    `json:"display_order"`
	IsCorrect       bool   `json:"-"`
	CorrectPosition *int   `json:"-"`
}

// QuestionContent is the catalog content of a question with its format type.
type QuestionContent struct {
	ID           string           `json:"id"`
	QuestionType QuestionType     `json:"question_type"`
	Prompt       string           `json:"prompt"`
	Points       float64          `json:"points"`
	Options      []QuestionOption `json:"options"`
}

// Accommodation is an approved accessibility record for a learner in a community.
type Accommodation struct {
	UserID                string  `json:"user_id"`
	CommunityID           string  `json:"community_id"`
	Approved              bool    `json:"approved"`
	ExtendedTime          bool    `json:"extended_time"`
	TimeMultiplier        float64 `json:"time_multiplier"`
	BreakAllowances       bool    `json:"break_allowances"`
	BreakFrequencyMinutes *int    `json:"break_frequency_minutes"`
	BreakDurationMinutes  *int    `json:"break_duration_minutes"`
}

// Multiplier returns the time multiplier to apply, 1.0 unless an approved extended-time record exists.
func (a Accommodation) Multiplier() float64 {
	if !a.Approved || !a.ExtendedTime || a.TimeMultiplier <= 0 {
		return 1.0
	}
	return a.TimeMultiplier
}

// BreaksGranted reports whether an approved record allows breaks.
func (a Accommodation) BreaksGranted() bool {
	return a.Approved && a.BreakAllowances
}
