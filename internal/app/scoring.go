package app

import (
	"sort"

	"checkpoint-service/internal/domain"
)

type scoreResult struct {
	Score         float64
	MaxScore      float64
	PendingReview int
}

// scoreResponses awards points for objective question types. Answered non-objective questions are
// counted as pending review and contribute to neither score nor max score.
func scoreResponses(questions []domain.CheckpointQuestion, contents map[string]domain.QuestionContent, responses []domain.Response) scoreResult {
	byQuestion := make(map[string]domain.Response, len(responses))
	for _, r := range responses {
		byQuestion[r.QuestionID] = r
	}

	var result scoreResult
	for _, q := range questions {
		content, ok := contents[q.QuestionID]
		if !ok {
			continue
		}
		r, answered := byQuestion[q.QuestionID]
		answered = answered && isAnswered(r)

		if !content.QuestionType.Objective() {
			if answered {
				result.PendingReview++
			}
			continue
		}
		points := questionPoints(q, content)
		result.MaxScore += points
		if answered && correct(content, r) {
			result.Score += points
		}
	}
	return result
}

func questionPoints(q domain.CheckpointQuestion, content domain.QuestionContent) float64 {
	if q.PointsOverride != nil {
		return *q.PointsOverride
	}
	if content.Points > 0 {
		return content.Points
	}
	return 1
}

// isAnswered reports whether the row holds an answer that still counts; a skip discards it.
func isAnswered(r domain.Response) bool {
	return r.AnsweredAt != nil && r.Status != domain.ResponseSkipped
}

func correct(content domain.QuestionContent, r domain.Response) bool {
	switch content.QuestionType {
	case domain.QuestionMultipleChoice, domain.QuestionTrueFalse:
		if len(r.SelectedOptions) != 1 {
			return false
		}
		for _, opt := range content.Options {
			if opt.ID == r.SelectedOptions[0] {
				return opt.IsCorrect
			}
		}
		return false
	case domain.QuestionMultipleSelect:
		want := map[string]bool{}
		for _, opt := range content.Options {
			if opt.IsCorrect {
				want[opt.ID] = true
			}
		}
		got := map[string]bool{}
		for _, id := range r.SelectedOptions {
			got[id] = true
		}
		if len(want) != len(got) {
			return false
		}
		for id := range want {
			if !got[id] {
				return false
			}
		}
		return true
	case domain.QuestionOrdering:
		expected := correctOrder(content.Options)
		if len(expected) == 0 || len(expected) != len(r.Ordering) {
			return false
		}
		for i := range expected {
			if expected[i] != r.Ordering[i] {
				return false
			}
		}
		return true
	}
	return false
}

func correctOrder(options []domain.QuestionOption) []string {
	positioned := make([]domain.QuestionOption, 0, len(options))
	for _, opt := range options {
		if opt.CorrectPosition != nil {
			positioned = append(positioned, opt)
		}
	}
	sort.SliceStable(positioned, func(i, j int) bool {
		return *positioned[i].CorrectPosition < *positioned[j].CorrectPosition
	})
	ids := make([]string, len(positioned))
	for i, opt := range positioned {
		ids[i] = opt.ID
	}
	return ids
}
