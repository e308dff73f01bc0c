package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"checkpoint-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Store persists sessions, responses and events with bun. Every method is one statement,
// so concurrent writers serialize on row locks rather than in the service.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

func (s *Store) CreateSession(ctx context.Context, session domain.Session) error {
	if _, err := s.db.NewInsert().Model(newSessionModel(session)).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.NewError(domain.ErrConflict, "A session for this attempt already exists")
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (domain.Session, error) {
	m := new(sessionModel)
	err := s.db.NewSelect().Model(m).Where("s.id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.NotFound("Session")
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("select session: %w", err)
	}
	return m.domain(), nil
}

func (s *Store) CountAttempts(ctx context.Context, userID, checkpointID string) (int, error) {
	n, err := s.db.NewSelect().Model((*sessionModel)(nil)).
		Where("s.user_id = ?", userID).
		Where("s.checkpoint_id = ?", checkpointID).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

func (s *Store) LatestAttempt(ctx context.Context, userID, checkpointID string) (domain.Session, bool, error) {
	m := new(sessionModel)
	err := s.db.NewSelect().Model(m).
		Where("s.user_id = ?", userID).
		Where("s.checkpoint_id = ?", checkpointID).
		Order("s.attempt_number DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, false, nil
	}
	if err != nil {
		return domain.Session{}, false, fmt.Errorf("select latest attempt: %w", err)
	}
	return m.domain(), true, nil
}

func (s *Store) TransitionSession(ctx context.Context, session domain.Session, from ...domain.SessionStatus) (bool, error) {
	statuses := make([]string, len(from))
	for i, st := range from {
		statuses[i] = string(st)
	}
	res, err := s.db.NewUpdate().Model(newSessionModel(session)).
		Column(lifecycleColumns...).
		Where("s.id = ?", session.ID).
		Where("s.status IN (?)", bun.In(statuses)).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) FlagIntegrity(ctx context.Context, sessionID string) error {
	_, err := s.db.NewUpdate().Model((*sessionModel)(nil)).
		Set("integrity_flagged = TRUE").
		Where("s.id = ?", sessionID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("flag session: %w", err)
	}
	return nil
}

func (s *Store) RefreshCounters(ctx context.Context, sessionID string) (domain.Session, error) {
	answered := s.db.NewSelect().Model((*responseModel)(nil)).
		ColumnExpr("count(*)").
		Where("r.session_id = s.id").
		Where("r.answered_at IS NOT NULL").
		Where("r.status <> ?", string(domain.ResponseSkipped))
	skipped := s.db.NewSelect().Model((*responseModel)(nil)).
		ColumnExpr("count(*)").
		Where("r.session_id = s.id").
		Where("r.status = ?", string(domain.ResponseSkipped))

	m := new(sessionModel)
	err := s.db.NewUpdate().Model(m).
		Set("questions_answered = (?)", answered).
		Set("questions_skipped = (?)", skipped).
		Where("s.id = ?", sessionID).
		Returning("*").
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Session{}, domain.NotFound("Session")
	}
	if err != nil {
		return domain.Session{}, fmt.Errorf("refresh counters: %w", err)
	}
	return m.domain(), nil
}

// UpsertResponse replaces the answer fields of the (session, question) row. The row id,
// creation time and review flag of an existing row survive; a flagged row stays flagged.
func (s *Store) UpsertResponse(ctx context.Context, r domain.Response) (domain.Response, error) {
	m := newResponseModel(r)
	err := s.db.NewInsert().Model(m).
		On("CONFLICT (session_id, question_id) DO UPDATE").
		Set("status = CASE WHEN r.flagged_for_review THEN ? ELSE EXCLUDED.status END", string(domain.ResponseFlagged)).
		Set("response_data = EXCLUDED.response_data").
		Set("text_response = EXCLUDED.text_response").
		Set("selected_options = EXCLUDED.selected_options").
		Set("matching_pairs = EXCLUDED.matching_pairs").
		Set("ordering = EXCLUDED.ordering").
		Set("file_submission_id = EXCLUDED.file_submission_id").
		Set("audio_response_url = EXCLUDED.audio_response_url").
		Set("time_spent_seconds = EXCLUDED.time_spent_seconds").
		Set("answered_at = EXCLUDED.answered_at").
		Set("offline_answered_at = EXCLUDED.offline_answered_at").
		Set("synced = EXCLUDED.synced").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Scan(ctx)
	if err != nil {
		return domain.Response{}, fmt.Errorf("upsert response: %w", err)
	}
	return m.domain(), nil
}

func (s *Store) SkipResponse(ctx context.Context, r domain.Response) (domain.Response, error) {
	r.Status = domain.ResponseSkipped
	m := newResponseModel(r)
	err := s.db.NewInsert().Model(m).
		On("CONFLICT (session_id, question_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("updated_at = EXCLUDED.updated_at").
		Returning("*").
		Scan(ctx)
	if err != nil {
		return domain.Response{}, fmt.Errorf("skip response: %w", err)
	}
	return m.domain(), nil
}

func (s *Store) MarkViewed(ctx context.Context, r domain.Response) (domain.Response, error) {
	r.Status = domain.ResponseViewed
	m := newResponseModel(r)
	err := s.db.NewInsert().Model(m).
		On("CONFLICT (session_id, question_id) DO UPDATE").
		Set("status = CASE WHEN r.status = ? THEN EXCLUDED.status ELSE r.status END", string(domain.ResponseNotViewed)).
		Set("updated_at = CASE WHEN r.status = ? THEN EXCLUDED.updated_at ELSE r.updated_at END", string(domain.ResponseNotViewed)).
		Returning("*").
		Scan(ctx)
	if err != nil {
		return domain.Response{}, fmt.Errorf("mark viewed: %w", err)
	}
	return m.domain(), nil
}

func (s *Store) SetFlag(ctx context.Context, sessionID, questionID string, flagged bool, now time.Time) (domain.Response, error) {
	q := s.db.NewUpdate().Model((*responseModel)(nil)).
		Set("flagged_for_review = ?", flagged).
		Set("updated_at = ?", now)
	if flagged {
		q = q.Set("status = ?", string(domain.ResponseFlagged))
	} else {
		q = q.Set("status = CASE WHEN r.answered_at IS NOT NULL THEN ? ELSE ? END",
			string(domain.ResponseAnswered), string(domain.ResponseViewed))
	}

	m := new(responseModel)
	err := q.Where("r.session_id = ?", sessionID).
		Where("r.question_id = ?", questionID).
		Returning("*").
		Scan(ctx, m)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Response{}, domain.NotFound("Response")
	}
	if err != nil {
		return domain.Response{}, fmt.Errorf("set flag: %w", err)
	}
	return m.domain(), nil
}

func (s *Store) GetResponse(ctx context.Context, sessionID, questionID string) (domain.Response, error) {
	m := new(responseModel)
	err := s.db.NewSelect().Model(m).
		Where("r.session_id = ?", sessionID).
		Where("r.question_id = ?", questionID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Response{}, domain.NotFound("Response")
	}
	if err != nil {
		return domain.Response{}, fmt.Errorf("select response: %w", err)
	}
	return m.domain(), nil
}

func (s *Store) ListResponses(ctx context.Context, sessionID string) ([]domain.Response, error) {
	var rows []responseModel
	err := s.db.NewSelect().Model(&rows).
		Where("r.session_id = ?", sessionID).
		Order("r.question_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	out := make([]domain.Response, len(rows))
	for i := range rows {
		out[i] = rows[i].domain()
	}
	return out, nil
}

func (s *Store) AppendEvent(ctx context.Context, e domain.Event) error {
	if _, err := s.db.NewInsert().Model(newEventModel(e)).Exec(ctx); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, sessionID string) ([]domain.Event, error) {
	var rows []eventModel
	err := s.db.NewSelect().Model(&rows).
		Where("e.session_id = ?", sessionID).
		Order("e.seq ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	out := make([]domain.Event, len(rows))
	for i := range rows {
		out[i] = rows[i].domain()
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	return errors.As(err, &pgErr) && pgErr.Field('C') == "23505"
}
