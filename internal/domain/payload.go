package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// QuestionType is the format type of a question; it selects the payload shape a response must have.
type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionMultipleSelect QuestionType = "multiple_select"
	QuestionFillBlank      QuestionType = "fill_blank"
	QuestionMatching       QuestionType = "matching"
	QuestionOrdering       QuestionType = "ordering"
	QuestionShortAnswer    QuestionType = "short_answer"
	QuestionLongAnswer     QuestionType = "long_answer"
	QuestionFileUpload     QuestionType = "file_upload"
	QuestionCode           QuestionType = "code"
	QuestionAudio          QuestionType = "audio"
)

// OrderSensitive reports whether option order carries meaning and must not be shuffled.
func (t QuestionType) OrderSensitive() bool {
	return t == QuestionMatching || t == QuestionOrdering
}

// Objective reports whether the type can be scored without human review.
func (t QuestionType) Objective() bool {
	switch t {
	case QuestionMultipleChoice, QuestionTrueFalse, QuestionMultipleSelect, QuestionOrdering:
		return true
	}
	return false
}

// ResponsePayload is the learner-submitted answer content for one question.
type ResponsePayload struct {
	SelectedOptions  []string        `json:"selected_options,omitempty"`
	Answers          []string        `json:"answers,omitempty"`
	MatchingPairs    []MatchingPair  `json:"matching_pairs,omitempty" validate:"omitempty,dive"`
	Ordering         []string        `json:"ordering,omitempty"`
	TextResponse     *string         `json:"text_response,omitempty"`
	FileSubmissionID *string         `json:"file_submission_id,omitempty"`
	AudioResponseURL *string         `json:"audio_response_url,omitempty" validate:"omitempty,url"`
	ResponseData     json.RawMessage `json:"response_data,omitempty"`
}

func (p ResponsePayload) hasText() bool {
	return p.TextResponse != nil && strings.TrimSpace(*p.TextResponse) != ""
}

func (p ResponsePayload) hasFile() bool {
	return p.FileSubmissionID != nil && strings.TrimSpace(*p.FileSubmissionID) != ""
}

func (p ResponsePayload) empty() bool {
	return len(p.SelectedOptions) == 0 &&
		len(p.Answers) == 0 &&
		len(p.MatchingPairs) == 0 &&
		len(p.Ordering) == 0 &&
		!p.hasText() &&
		!p.hasFile() &&
		(p.AudioResponseURL == nil || *p.AudioResponseURL == "") &&
		(len(p.ResponseData) == 0 || string(p.ResponseData) == "null")
}

// Validate checks the payload shape required by the question type.
func (p ResponsePayload) Validate(t QuestionType) error {
	switch t {
	case QuestionMultipleChoice, QuestionTrueFalse:
		if len(p.SelectedOptions) != 1 {
			return NewValidationError("Exactly one option must be selected",
				FieldError{Field: "selected_options", Error: "exactly one option is required"})
		}
	case QuestionMultipleSelect:
		if len(p.SelectedOptions) == 0 {
			return NewValidationError("At least one option must be selected",
				FieldError{Field: "selected_options", Error: "at least one option is required"})
		}
	case QuestionFillBlank:
		if len(p.Answers) == 0 {
			return NewValidationError("Fill in the blank answers are required",
				FieldError{Field: "answers", Error: "this field is required"})
		}
	case QuestionMatching:
		if len(p.MatchingPairs) == 0 {
			return NewValidationError("At least one matching pair is required",
				FieldError{Field: "matching_pairs", Error: "at least one pair is required"})
		}
	case QuestionOrdering:
		if len(p.Ordering) == 0 {
			return NewValidationError("An ordering is required",
				FieldError{Field: "ordering", Error: "this field is required"})
		}
	case QuestionShortAnswer, QuestionLongAnswer:
		if !p.hasText() {
			return NewValidationError("Text response is required",
				FieldError{Field: "text_response", Error: "this field is required"})
		}
	case QuestionFileUpload:
		if !p.hasFile() {
			return NewValidationError("File submission is required",
				FieldError{Field: "file_submission_id", Error: "this field is required"})
		}
	case QuestionCode:
		if !p.hasText() && !p.hasFile() {
			return NewValidationError("Code response or file submission is required",
				FieldError{Field: "text_response", Error: "text or file submission is required"})
		}
	default:
		if p.empty() {
			return NewValidationError("Response payload is required")
		}
	}
	return nil
}

// Apply copies the payload into an answered response row. Fill-in answers are stored under the
// "answers" key of response_data, next to any other keys the client sent; response_data must then be an object.
func (p ResponsePayload) Apply(r *Response, answeredAt time.Time) error {
	data, err := p.responseData()
	if err != nil {
		return err
	}
	r.Status = ResponseAnswered
	r.SelectedOptions = p.SelectedOptions
	r.MatchingPairs = p.MatchingPairs
	r.Ordering = p.Ordering
	r.TextResponse = p.TextResponse
	r.FileSubmissionID = p.FileSubmissionID
	r.AudioResponseURL = p.AudioResponseURL
	r.ResponseData = data
	r.AnsweredAt = &answeredAt
	return nil
}

func (p ResponsePayload) responseData() (json.RawMessage, error) {
	if len(p.Answers) == 0 {
		return p.ResponseData, nil
	}
	fields := map[string]json.RawMessage{}
	if len(p.ResponseData) > 0 && string(p.ResponseData) != "null" {
		if err := json.Unmarshal(p.ResponseData, &fields); err != nil {
			return nil, NewValidationError("Response data must be an object when answers are sent",
				FieldError{Field: "response_data", Error: "must be a JSON object"})
		}
	}
	answers, err := json.Marshal(p.Answers)
	if err != nil {
		return nil, fmt.Errorf("encode answers: %w", err)
	}
	fields["answers"] = answers
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode response data: %w", err)
	}
	return data, nil
}
