package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"checkpoint-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.Store.
// A single mutex makes each method atomic, matching the single-statement contract of the SQL store.
type SessionStore struct {
	mu        sync.RWMutex
	sessions  map[string]domain.Session
	responses map[responseKey]domain.Response
	events    map[string][]domain.Event
}

type responseKey struct {
	sessionID  string
	questionID string
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions:  make(map[string]domain.Session),
		responses: make(map[responseKey]domain.Response),
		events:    make(map[string][]domain.Event),
	}
}

func (s *SessionStore) CreateSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; ok {
		return domain.NewError(domain.ErrConflict, "Session already exists")
	}
	for _, existing := range s.sessions {
		if existing.UserID == session.UserID &&
			existing.CheckpointID == session.CheckpointID &&
			existing.AttemptNumber == session.AttemptNumber {
			return domain.NewError(domain.ErrConflict, "Attempt already started for this checkpoint")
		}
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *SessionStore) GetSession(_ context.Context, id string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.NotFound("Session")
	}
	return session, nil
}

func (s *SessionStore) CountAttempts(_ context.Context, userID, checkpointID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, session := range s.sessions {
		if session.UserID == userID && session.CheckpointID == checkpointID {
			n++
		}
	}
	return n, nil
}

func (s *SessionStore) LatestAttempt(_ context.Context, userID, checkpointID string) (domain.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest domain.Session
	found := false
	for _, session := range s.sessions {
		if session.UserID != userID || session.CheckpointID != checkpointID {
			continue
		}
		if !found || session.AttemptNumber > latest.AttemptNumber {
			latest = session
			found = true
		}
	}
	return latest, found, nil
}

// TransitionSession copies lifecycle columns only; counters and the integrity flag belong to other writers.
func (s *SessionStore) TransitionSession(_ context.Context, next domain.Session, from ...domain.SessionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[next.ID]
	if !ok {
		return false, domain.NotFound("Session")
	}
	allowed := false
	for _, status := range from {
		if stored.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	stored.Status = next.Status
	stored.StartedAt = next.StartedAt
	stored.EndedAt = next.EndedAt
	stored.ResumedAt = next.ResumedAt
	stored.TimeElapsedSeconds = next.TimeElapsedSeconds
	stored.TimeElapsedMillis = next.TimeElapsedMillis
	stored.BreakStartedAt = next.BreakStartedAt
	stored.BreaksTaken = next.BreaksTaken
	stored.TotalBreakSeconds = next.TotalBreakSeconds
	stored.Score = next.Score
	stored.MaxScore = next.MaxScore
	stored.PendingReviewCount = next.PendingReviewCount
	stored.UpdatedAt = next.UpdatedAt
	s.sessions[next.ID] = stored
	return true, nil
}

func (s *SessionStore) FlagIntegrity(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.NotFound("Session")
	}
	session.IntegrityFlagged = true
	s.sessions[sessionID] = session
	return nil
}

func (s *SessionStore) RefreshCounters(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, domain.NotFound("Session")
	}
	answered, skipped := 0, 0
	for key, r := range s.responses {
		if key.sessionID != sessionID {
			continue
		}
		switch {
		case r.Status == domain.ResponseSkipped:
			skipped++
		case r.AnsweredAt != nil:
			answered++
		}
	}
	session.QuestionsAnswered = answered
	session.QuestionsSkipped = skipped
	s.sessions[sessionID] = session
	return session, nil
}

func (s *SessionStore) UpsertResponse(_ context.Context, r domain.Response) (domain.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := responseKey{r.SessionID, r.QuestionID}
	if existing, ok := s.responses[key]; ok {
		r.ID = existing.ID
		r.CreatedAt = existing.CreatedAt
		r.FlaggedForReview = existing.FlaggedForReview
	}
	r.Status = domain.ResponseAnswered
	if r.FlaggedForReview {
		r.Status = domain.ResponseFlagged
	}
	s.responses[key] = cloneResponse(r)
	return cloneResponse(r), nil
}

func (s *SessionStore) SkipResponse(_ context.Context, r domain.Response) (domain.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := responseKey{r.SessionID, r.QuestionID}
	if existing, ok := s.responses[key]; ok {
		existing.Status = domain.ResponseSkipped
		existing.UpdatedAt = r.UpdatedAt
		r = existing
	} else {
		r.Status = domain.ResponseSkipped
	}
	s.responses[key] = cloneResponse(r)
	return cloneResponse(r), nil
}

func (s *SessionStore) MarkViewed(_ context.Context, r domain.Response) (domain.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := responseKey{r.SessionID, r.QuestionID}
	if existing, ok := s.responses[key]; ok {
		if existing.Status != domain.ResponseNotViewed {
			return cloneResponse(existing), nil
		}
		existing.Status = domain.ResponseViewed
		existing.UpdatedAt = r.UpdatedAt
		r = existing
	} else {
		r.Status = domain.ResponseViewed
	}
	s.responses[key] = cloneResponse(r)
	return cloneResponse(r), nil
}

func (s *SessionStore) SetFlag(_ context.Context, sessionID, questionID string, flagged bool, now time.Time) (domain.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := responseKey{sessionID, questionID}
	r, ok := s.responses[key]
	if !ok {
		return domain.Response{}, domain.NotFound("Response")
	}
	r.FlaggedForReview = flagged
	switch {
	case flagged:
		r.Status = domain.ResponseFlagged
	case r.AnsweredAt != nil:
		r.Status = domain.ResponseAnswered
	default:
		r.Status = domain.ResponseViewed
	}
	r.UpdatedAt = now
	s.responses[key] = r
	return cloneResponse(r), nil
}

func (s *SessionStore) GetResponse(_ context.Context, sessionID, questionID string) (domain.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.responses[responseKey{sessionID, questionID}]
	if !ok {
		return domain.Response{}, domain.NotFound("Response")
	}
	return cloneResponse(r), nil
}

func (s *SessionStore) ListResponses(_ context.Context, sessionID string) ([]domain.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Response, 0)
	for key, r := range s.responses {
		if key.sessionID == sessionID {
			out = append(out, cloneResponse(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (s *SessionStore) AppendEvent(_ context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.SessionID] = append(s.events[e.SessionID], e)
	return nil
}

func (s *SessionStore) ListEvents(_ context.Context, sessionID string) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Event, len(s.events[sessionID]))
	copy(out, s.events[sessionID])
	return out, nil
}

func cloneResponse(r domain.Response) domain.Response {
	r.SelectedOptions = append([]string(nil), r.SelectedOptions...)
	r.Ordering = append([]string(nil), r.Ordering...)
	r.MatchingPairs = append([]domain.MatchingPair(nil), r.MatchingPairs...)
	r.ResponseData = append([]byte(nil), r.ResponseData...)
	return r
}
