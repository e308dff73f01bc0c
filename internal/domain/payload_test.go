package domain_test

import (
	"errors"
	"testing"
	"time"

	"checkpoint-service/internal/domain"
)

func strPtr(v string) *string { return &v }

func TestResponsePayloadValidate(t *testing.T) {
	cases := []struct {
		name    string
		qtype   domain.QuestionType
		payload domain.ResponsePayload
		field   string
	}{
		{"mcq none", domain.QuestionMultipleChoice, domain.ResponsePayload{}, "selected_options"},
		{"mcq two", domain.QuestionMultipleChoice, domain.ResponsePayload{SelectedOptions: []string{"a", "b"}}, "selected_options"},
		{"mcq one", domain.QuestionMultipleChoice, domain.ResponsePayload{SelectedOptions: []string{"a"}}, ""},
		{"true false two", domain.QuestionTrueFalse, domain.ResponsePayload{SelectedOptions: []string{"t", "f"}}, "selected_options"},
		{"multi select none", domain.QuestionMultipleSelect, domain.ResponsePayload{}, "selected_options"},
		{"multi select two", domain.QuestionMultipleSelect, domain.ResponsePayload{SelectedOptions: []string{"a", "b"}}, ""},
		{"fill blank missing", domain.QuestionFillBlank, domain.ResponsePayload{}, "answers"},
		{"fill blank", domain.QuestionFillBlank, domain.ResponsePayload{Answers: []string{"x"}}, ""},
		{"matching missing", domain.QuestionMatching, domain.ResponsePayload{}, "matching_pairs"},
		{"matching", domain.QuestionMatching, domain.ResponsePayload{MatchingPairs: []domain.MatchingPair{{Left: "a", Right: "1"}}}, ""},
		{"ordering missing", domain.QuestionOrdering, domain.ResponsePayload{}, "ordering"},
		{"ordering", domain.QuestionOrdering, domain.ResponsePayload{Ordering: []string{"a"}}, ""},
		{"short blank", domain.QuestionShortAnswer, domain.ResponsePayload{TextResponse: strPtr("   ")}, "text_response"},
		{"long text", domain.QuestionLongAnswer, domain.ResponsePayload{TextResponse: strPtr("essay")}, ""},
		{"file missing", domain.QuestionFileUpload, domain.ResponsePayload{TextResponse: strPtr("no")}, "file_submission_id"},
		{"file", domain.QuestionFileUpload, domain.ResponsePayload{FileSubmissionID: strPtr("f1")}, ""},
		{"code empty", domain.QuestionCode, domain.ResponsePayload{}, "text_response"},
		{"code file", domain.QuestionCode, domain.ResponsePayload{FileSubmissionID: strPtr("f1")}, ""},
		{"audio empty", domain.QuestionAudio, domain.ResponsePayload{ResponseData: []byte("null")}, "-"},
		{"audio url", domain.QuestionAudio, domain.ResponsePayload{AudioResponseURL: strPtr("https://cdn/a.ogg")}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.payload.Validate(tc.qtype)
			if tc.field == "" {
				if err != nil {
					t.Fatalf("expected valid payload, got %v", err)
				}
				return
			}
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if tc.field == "-" {
				return
			}
			var derr *domain.Error
			if !errors.As(err, &derr) || len(derr.Fields) != 1 || derr.Fields[0].Field != tc.field {
				t.Fatalf("expected field %q, got %+v", tc.field, err)
			}
		})
	}
}

func TestResponsePayloadApplyStoresFillBlankAnswers(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var r domain.Response
	if err := (domain.ResponsePayload{Answers: []string{"paris", "rome"}}).Apply(&r, at); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if r.Status != domain.ResponseAnswered || r.AnsweredAt == nil || !r.AnsweredAt.Equal(at) {
		t.Fatalf("unexpected response %+v", r)
	}
	if string(r.ResponseData) != `{"answers":["paris","rome"]}` {
		t.Fatalf("unexpected response data %s", r.ResponseData)
	}
}

func TestResponsePayloadApplyMergesAnswersIntoResponseData(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	var r domain.Response
	p := domain.ResponsePayload{
		Answers:      []string{"paris"},
		ResponseData: []byte(`{"hints_used":2,"answers":["stale"]}`),
	}
	if err := p.Apply(&r, at); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if string(r.ResponseData) != `{"answers":["paris"],"hints_used":2}` {
		t.Fatalf("expected merged response data, got %s", r.ResponseData)
	}

	var rejected domain.Response
	err := domain.ResponsePayload{Answers: []string{"paris"}, ResponseData: []byte(`["not","an","object"]`)}.Apply(&rejected, at)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for non-object response data, got %v", err)
	}
	if rejected.Status != "" || rejected.AnsweredAt != nil {
		t.Fatalf("rejected payload must not touch the row, got %+v", rejected)
	}

	var plain domain.Response
	raw := []byte(`{"free":"form"}`)
	if err := (domain.ResponsePayload{ResponseData: raw}).Apply(&plain, at); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if string(plain.ResponseData) != string(raw) {
		t.Fatalf("response data without answers must pass through, got %s", plain.ResponseData)
	}
}

func TestErrorMatchesKind(t *testing.T) {
	err := domain.NotFound("Session")
	if !errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("kind mismatch for %v", err)
	}
	if err.Error() != "Session not found" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if got := domain.NewError(domain.ErrConflict, "").Error(); got != "conflict" {
		t.Fatalf("expected kind text for empty message, got %q", got)
	}
}

func TestQuestionTypeTraits(t *testing.T) {
	if !domain.QuestionMatching.OrderSensitive() || !domain.QuestionOrdering.OrderSensitive() {
		t.Fatalf("matching and ordering keep option order")
	}
	if domain.QuestionMultipleChoice.OrderSensitive() {
		t.Fatalf("multiple choice options may be shuffled")
	}
	if !domain.QuestionOrdering.Objective() || domain.QuestionShortAnswer.Objective() {
		t.Fatalf("unexpected objective classification")
	}
}
