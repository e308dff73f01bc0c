package postgres

import (
	"context"
	"errors"
	"fmt"

	"checkpoint-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// CatalogLoader reads checkpoint definitions, question content and accommodations
// owned by the authoring subsystem.
type CatalogLoader struct {
	pool *pgxpool.Pool
}

func NewCatalogLoader(pool *pgxpool.Pool) *CatalogLoader {
	return &CatalogLoader{pool: pool}
}

func (l *CatalogLoader) GetDefinition(ctx context.Context, checkpointID string) (domain.CheckpointDefinition, error) {
	var (
		cp     domain.Checkpoint
		status string
	)
	err := l.pool.QueryRow(ctx, `
		SELECT id, community_id, title, status, time_limit_minutes, allow_pause,
		       shuffle_questions, shuffle_options, show_correct_answers, max_attempts, cooldown_hours
		FROM checkpoints WHERE id = $1`, checkpointID).Scan(
		&cp.ID, &cp.CommunityID, &cp.Title, &status, &cp.TimeLimitMinutes, &cp.AllowPause,
		&cp.ShuffleQuestions, &cp.ShuffleOptions, &cp.ShowCorrectAnswers, &cp.MaxAttempts, &cp.CooldownHours,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CheckpointDefinition{}, domain.NotFound("Checkpoint")
	}
	if err != nil {
		return domain.CheckpointDefinition{}, fmt.Errorf("load checkpoint: %w", err)
	}
	cp.Status = domain.CheckpointStatus(status)

	rows, err := l.pool.Query(ctx, `
		SELECT question_id, format_type_id, display_order, is_required, points_override
		FROM checkpoint_questions WHERE checkpoint_id = $1
		ORDER BY display_order, question_id`, checkpointID)
	if err != nil {
		return domain.CheckpointDefinition{}, fmt.Errorf("load checkpoint questions: %w", err)
	}
	defer rows.Close()

	def := domain.CheckpointDefinition{Checkpoint: cp}
	for rows.Next() {
		var q domain.CheckpointQuestion
		if err := rows.Scan(&q.QuestionID, &q.FormatTypeID, &q.DisplayOrder, &q.IsRequired, &q.PointsOverride); err != nil {
			return domain.CheckpointDefinition{}, fmt.Errorf("scan checkpoint question: %w", err)
		}
		def.Questions = append(def.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return domain.CheckpointDefinition{}, fmt.Errorf("load checkpoint questions: %w", err)
	}
	return def, nil
}

// GetQuestionContents loads all requested questions and their options in two queries.
func (l *CatalogLoader) GetQuestionContents(ctx context.Context, questionIDs []string) (map[string]domain.QuestionContent, error) {
	out := make(map[string]domain.QuestionContent, len(questionIDs))
	if len(questionIDs) == 0 {
		return out, nil
	}

	rows, err := l.pool.Query(ctx, `
		SELECT id, question_type, prompt, points FROM questions WHERE id = ANY($1)`, questionIDs)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	for rows.Next() {
		var (
			c     domain.QuestionContent
			qtype string
		)
		if err := rows.Scan(&c.ID, &qtype, &c.Prompt, &c.Points); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan question: %w", err)
		}
		c.QuestionType = domain.QuestionType(qtype)
		out[c.ID] = c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}

	rows, err = l.pool.Query(ctx, `
		SELECT question_id, id, option_text, display_order, is_correct, correct_position
		FROM question_options WHERE question_id = ANY($1)
		ORDER BY question_id, display_order, id`, questionIDs)
	if err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			questionID string
			opt        domain.QuestionOption
		)
		if err := rows.Scan(&questionID, &opt.ID, &opt.Text, &opt.DisplayOrder, &opt.IsCorrect, &opt.CorrectPosition); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		c, ok := out[questionID]
		if !ok {
			continue
		}
		c.Options = append(c.Options, opt)
		out[questionID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load options: %w", err)
	}
	return out, nil
}

func (l *CatalogLoader) GetAccommodation(ctx context.Context, userID, communityID string) (domain.Accommodation, bool, error) {
	acc := domain.Accommodation{UserID: userID, CommunityID: communityID}
	err := l.pool.QueryRow(ctx, `
		SELECT approved, extended_time, time_multiplier, break_allowances,
		       break_frequency_minutes, break_duration_minutes
		FROM accommodations WHERE user_id = $1 AND community_id = $2`, userID, communityID).Scan(
		&acc.Approved, &acc.ExtendedTime, &acc.TimeMultiplier, &acc.BreakAllowances,
		&acc.BreakFrequencyMinutes, &acc.BreakDurationMinutes,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Accommodation{}, false, nil
	}
	if err != nil {
		return domain.Accommodation{}, false, fmt.Errorf("load accommodation: %w", err)
	}
	return acc, true, nil
}
