package app

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"checkpoint-service/internal/domain"
	"checkpoint-service/internal/metrics"
	"go.uber.org/zap"
)

// SessionService owns the lifecycle state machine of checkpoint sessions.
type SessionService struct {
	store          Store
	catalog        Catalog
	accommodations AccommodationLookup
	opts           options
}

func NewSessionService(store Store, catalog Catalog, accommodations AccommodationLookup, opts ...Option) *SessionService {
	return &SessionService{
		store:          store,
		catalog:        catalog,
		accommodations: accommodations,
		opts:           buildOptions(opts),
	}
}

// EventInput is a client- or server-reported session occurrence.
type EventInput struct {
	SessionID       string
	EventType       domain.EventType
	QuestionID      *string
	EventData       json.RawMessage
	ClientTimestamp *time.Time
}

// CreateSession opens a new attempt by userID at checkpointID in the initializing state.
func (s *SessionService) CreateSession(ctx context.Context, userID, checkpointID string, deviceInfo json.RawMessage) (domain.Session, error) {
	def, err := s.catalog.GetDefinition(ctx, checkpointID)
	if err != nil {
		return domain.Session{}, err
	}
	cp := def.Checkpoint
	if cp.Status != domain.CheckpointActive {
		return domain.Session{}, domain.NewError(domain.ErrInvalidState, "Checkpoint is not active")
	}

	attempts, err := s.store.CountAttempts(ctx, userID, checkpointID)
	if err != nil {
		return domain.Session{}, err
	}
	if cp.MaxAttempts != nil && *cp.MaxAttempts > 0 && attempts >= *cp.MaxAttempts {
		return domain.Session{}, domain.NewError(domain.ErrForbidden, "Maximum attempts reached for this checkpoint")
	}

	now := s.opts.now()
	if cp.CooldownHours != nil && *cp.CooldownHours > 0 && attempts > 0 {
		last, ok, err := s.store.LatestAttempt(ctx, userID, checkpointID)
		if err != nil {
			return domain.Session{}, err
		}
		if ok {
			since := last.CreatedAt
			if last.EndedAt != nil {
				since = *last.EndedAt
			}
			if now.Before(since.Add(time.Duration(*cp.CooldownHours) * time.Hour)) {
				return domain.Session{}, domain.NewError(domain.ErrForbidden, "Cooldown period has not elapsed since the last attempt")
			}
		}
	}

	var acc domain.Accommodation
	if s.accommodations != nil {
		found, ok, err := s.accommodations.GetAccommodation(ctx, userID, cp.CommunityID)
		if err != nil {
			return domain.Session{}, err
		}
		if ok {
			acc = found
		}
	}

	session := domain.Session{
		ID:             s.opts.newID(),
		CheckpointID:   checkpointID,
		UserID:         userID,
		AttemptNumber:  attempts + 1,
		Status:         domain.StatusInitializing,
		QuestionsTotal: len(def.Questions),
		DeviceInfo:     deviceInfo,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if cp.TimeLimitMinutes != nil && *cp.TimeLimitMinutes > 0 {
		limit := int(math.Round(float64(*cp.TimeLimitMinutes*60) * acc.Multiplier()))
		session.TimeLimitSeconds = &limit
	}
	if acc.BreaksGranted() {
		session.BreaksEnabled = true
		if acc.BreakDurationMinutes != nil {
			d := *acc.BreakDurationMinutes * 60
			session.BreakDurationSeconds = &d
		}
	}

	if err := s.store.CreateSession(ctx, session); err != nil {
		return domain.Session{}, err
	}
	s.opts.logger.Info("checkpoint session created",
		zap.String("session_id", session.ID),
		zap.String("checkpoint_id", checkpointID),
		zap.String("user_id", userID),
		zap.Int("attempt", session.AttemptNumber),
	)
	return session, nil
}

// GetSession returns the session if it belongs to userID.
func (s *SessionService) GetSession(ctx context.Context, sessionID, userID string) (domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.UserID != userID {
		return domain.Session{}, domain.NewError(domain.ErrUnauthorized, "Session does not belong to this user")
	}
	return session, nil
}

// StartSession moves an initializing session to in progress.
func (s *SessionService) StartSession(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	illegal := domain.NewError(domain.ErrInvalidTransition, "Session can only be started from initializing state")
	if session.Status != domain.StatusInitializing {
		return domain.Session{}, illegal
	}

	now := s.opts.now()
	next := session
	next.Status = domain.StatusInProgress
	next.StartedAt = &now
	next.ResumedAt = &now
	next, err = s.apply(ctx, session, next, domain.EventSessionStart, illegal)
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.opts.notifier.SessionStarted(ctx, next); err != nil {
		s.opts.logger.Warn("publish session start failed", zap.String("session_id", next.ID), zap.Error(err))
	}
	return next, nil
}

// PauseSession freezes the clock of an in-progress session.
func (s *SessionService) PauseSession(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	def, err := s.catalog.GetDefinition(ctx, session.CheckpointID)
	if err != nil {
		return domain.Session{}, err
	}
	if !def.Checkpoint.AllowPause {
		return domain.Session{}, domain.NewError(domain.ErrForbidden, "Pausing is not allowed for this checkpoint")
	}
	illegal := domain.NewError(domain.ErrInvalidTransition, "Can only pause sessions in progress")
	if session.Status != domain.StatusInProgress {
		return domain.Session{}, illegal
	}

	next := session
	freezeClock(&next, s.opts.now())
	next.Status = domain.StatusPaused
	return s.apply(ctx, session, next, domain.EventPause, illegal)
}

// ResumeSession restarts the clock of a paused session from a fresh baseline.
func (s *SessionService) ResumeSession(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	illegal := domain.NewError(domain.ErrInvalidTransition, "Can only resume paused sessions")
	if session.Status != domain.StatusPaused {
		return domain.Session{}, illegal
	}

	now := s.opts.now()
	next := session
	next.Status = domain.StatusInProgress
	next.ResumedAt = &now
	return s.apply(ctx, session, next, domain.EventResume, illegal)
}

// StartBreak puts an in-progress session on an accommodation break.
func (s *SessionService) StartBreak(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if !session.BreaksEnabled {
		return domain.Session{}, domain.NewError(domain.ErrForbidden, "Breaks are not enabled for this session")
	}
	illegal := domain.NewError(domain.ErrInvalidTransition, "Can only start a break for sessions in progress")
	if session.Status != domain.StatusInProgress {
		return domain.Session{}, illegal
	}

	now := s.opts.now()
	next := session
	freezeClock(&next, now)
	next.Status = domain.StatusOnBreak
	next.BreakStartedAt = &now
	return s.apply(ctx, session, next, domain.EventBreakStart, illegal)
}

// EndBreak closes the current break and resumes the session.
func (s *SessionService) EndBreak(ctx context.Context, sessionID string) (domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	illegal := domain.NewError(domain.ErrInvalidTransition, "Can only end a break for sessions on break")
	if session.Status != domain.StatusOnBreak {
		return domain.Session{}, illegal
	}

	now := s.opts.now()
	next := session
	closeBreak(&next, now)
	next.Status = domain.StatusInProgress
	next.ResumedAt = &now
	return s.apply(ctx, session, next, domain.EventBreakEnd, illegal)
}

// SubmitSession finalizes the attempt and scores objective questions.
// Paused and on-break sessions may be submitted; an open break is closed first.
func (s *SessionService) SubmitSession(ctx context.Context, sessionID, userID string) (domain.Session, error) {
	session, err := s.GetSession(ctx, sessionID, userID)
	if err != nil {
		return domain.Session{}, err
	}
	illegal := domain.NewError(domain.ErrInvalidTransition, "Can only submit sessions that are in progress, paused or on break")
	switch session.Status {
	case domain.StatusInProgress, domain.StatusPaused, domain.StatusOnBreak:
	default:
		return domain.Session{}, illegal
	}

	result, err := s.score(ctx, session)
	if err != nil {
		return domain.Session{}, err
	}

	now := s.opts.now()
	next := session
	closeBreak(&next, now)
	freezeClock(&next, now)
	next.Status = domain.StatusSubmitted
	next.EndedAt = &now
	next.Score = &result.Score
	next.MaxScore = &result.MaxScore
	next.PendingReviewCount = result.PendingReview
	return s.end(ctx, session, next, domain.EventSubmit, illegal)
}

// AbandonReason distinguishes an explicit exit from a client-detected timeout.
type AbandonReason string

const (
	AbandonUser    AbandonReason = "user"
	AbandonTimeout AbandonReason = "timeout"
)

// AbandonSession ends a non-terminal session as abandoned or timed out.
func (s *SessionService) AbandonSession(ctx context.Context, sessionID string, reason AbandonReason) (domain.Session, error) {
	var status domain.SessionStatus
	event := domain.EventAbandon
	switch reason {
	case AbandonUser:
		status = domain.StatusAbandoned
	case AbandonTimeout:
		status = domain.StatusTimedOut
		event = domain.EventTimeout
	default:
		return domain.Session{}, domain.NewValidationError("Abandon reason must be user or timeout",
			domain.FieldError{Field: "reason", Error: "must be one of user, timeout"})
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.Status.Terminal() {
		return domain.Session{}, domain.NewError(domain.ErrInvalidTransition, "Session has already ended")
	}
	illegal := domain.NewError(domain.ErrInvalidTransition, "Only started sessions can time out")
	if reason == AbandonTimeout && session.Status == domain.StatusInitializing {
		return domain.Session{}, illegal
	}

	now := s.opts.now()
	next := session
	closeBreak(&next, now)
	freezeClock(&next, now)
	next.Status = status
	next.EndedAt = &now
	return s.end(ctx, session, next, event, domain.NewError(domain.ErrInvalidTransition, "Session has already ended"))
}

// GetSessionProgress reports completion and live timing.
func (s *SessionService) GetSessionProgress(ctx context.Context, sessionID string) (domain.SessionProgress, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.SessionProgress{}, err
	}
	return progressOf(session, s.opts.now()), nil
}

func progressOf(session domain.Session, now time.Time) domain.SessionProgress {
	p := domain.SessionProgress{
		Status:             session.Status,
		QuestionsTotal:     session.QuestionsTotal,
		QuestionsAnswered:  session.QuestionsAnswered,
		QuestionsSkipped:   session.QuestionsSkipped,
		TimeElapsedSeconds: session.ElapsedAt(now),
	}
	if session.QuestionsTotal > 0 {
		p.CompletionPercentage = int(math.Round(100 * float64(session.QuestionsAnswered) / float64(session.QuestionsTotal)))
	}
	if session.TimeLimitSeconds != nil {
		remaining := *session.TimeLimitSeconds - p.TimeElapsedSeconds
		if remaining <= 0 {
			remaining = 0
			p.IsExpired = true
		}
		p.TimeRemainingSeconds = &remaining
	}
	return p
}

// RecordEvent appends an event and flags the session when the event type is suspicious.
func (s *SessionService) RecordEvent(ctx context.Context, in EventInput) (domain.Event, error) {
	rule, ok := s.opts.policy.Classify(in.EventType)
	if !ok {
		return domain.Event{}, domain.NewValidationError("Unknown event type",
			domain.FieldError{Field: "event_type", Error: "unsupported event type " + string(in.EventType)})
	}
	session, err := s.store.GetSession(ctx, in.SessionID)
	if err != nil {
		return domain.Event{}, err
	}

	event := domain.Event{
		ID:              s.opts.newID(),
		SessionID:       session.ID,
		EventType:       in.EventType,
		QuestionID:      in.QuestionID,
		EventData:       in.EventData,
		ClientTimestamp: in.ClientTimestamp,
		ServerTimestamp: s.opts.now(),
		IsSuspicious:    rule.Suspicious,
		SuspicionReason: rule.Reason,
	}
	if !rule.Suspicious {
		event.SuspicionReason = ""
	}
	if err := s.opts.record(ctx, s.store, event); err != nil {
		return domain.Event{}, err
	}
	if event.IsSuspicious {
		metrics.SuspiciousEvents.WithLabelValues(string(event.EventType)).Inc()
		if err := s.store.FlagIntegrity(ctx, session.ID); err != nil {
			return domain.Event{}, err
		}
		s.opts.logger.Warn("checkpoint session flagged",
			zap.String("session_id", session.ID),
			zap.String("event_type", string(event.EventType)),
			zap.String("reason", event.SuspicionReason),
		)
	}
	return event, nil
}

// apply persists next if session still has the status it was loaded with and logs the transition.
func (s *SessionService) apply(ctx context.Context, session, next domain.Session, event domain.EventType, raced error) (domain.Session, error) {
	next.UpdatedAt = s.opts.now()
	applied, err := s.store.TransitionSession(ctx, next, session.Status)
	if err != nil {
		return domain.Session{}, err
	}
	if !applied {
		return domain.Session{}, raced
	}
	metrics.SessionTransitions.WithLabelValues(string(next.Status)).Inc()
	s.opts.logger.Info("checkpoint session transition",
		zap.String("session_id", next.ID),
		zap.String("from", string(session.Status)),
		zap.String("to", string(next.Status)),
		zap.Int("elapsed_seconds", next.TimeElapsedSeconds),
	)
	if err := s.opts.record(ctx, s.store, domain.Event{
		ID:              s.opts.newID(),
		SessionID:       next.ID,
		EventType:       event,
		ServerTimestamp: next.UpdatedAt,
	}); err != nil {
		return domain.Session{}, err
	}
	return next, nil
}

func (s *SessionService) end(ctx context.Context, session, next domain.Session, event domain.EventType, raced error) (domain.Session, error) {
	next, err := s.apply(ctx, session, next, event, raced)
	if err != nil {
		return domain.Session{}, err
	}
	if err := s.opts.notifier.SessionEnded(ctx, next); err != nil {
		s.opts.logger.Warn("publish session end failed", zap.String("session_id", next.ID), zap.Error(err))
	}
	return next, nil
}

func (s *SessionService) score(ctx context.Context, session domain.Session) (scoreResult, error) {
	def, err := s.catalog.GetDefinition(ctx, session.CheckpointID)
	if err != nil {
		return scoreResult{}, err
	}
	ids := make([]string, 0, len(def.Questions))
	for _, q := range def.Questions {
		ids = append(ids, q.QuestionID)
	}
	contents, err := s.catalog.GetQuestionContents(ctx, ids)
	if err != nil {
		return scoreResult{}, err
	}
	responses, err := s.store.ListResponses(ctx, session.ID)
	if err != nil {
		return scoreResult{}, err
	}
	return scoreResponses(def.Questions, contents, responses), nil
}

// freezeClock folds the running segment into TimeElapsedSeconds.
func freezeClock(s *domain.Session, now time.Time) {
	if s.Status == domain.StatusInProgress && s.ResumedAt != nil {
		s.AddActive(domain.MillisBetween(*s.ResumedAt, now))
	}
	s.ResumedAt = nil
}

func closeBreak(s *domain.Session, now time.Time) {
	if s.BreakStartedAt == nil {
		return
	}
	s.TotalBreakSeconds += domain.SecondsBetween(*s.BreakStartedAt, now)
	s.BreaksTaken++
	s.BreakStartedAt = nil
}

// WatchEvents streams live events of a session owned by userID.
func (s *SessionService) WatchEvents(ctx context.Context, sessionID, userID string) (<-chan domain.Event, func(), error) {
	if _, err := s.GetSession(ctx, sessionID, userID); err != nil {
		return nil, nil, err
	}
	return s.opts.feed.Subscribe(ctx, sessionID)
}

// ListEvents returns the recorded event log of a session owned by userID.
func (s *SessionService) ListEvents(ctx context.Context, sessionID, userID string) ([]domain.Event, error) {
	if _, err := s.GetSession(ctx, sessionID, userID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, sessionID)
}
