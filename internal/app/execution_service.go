package app

import (
	"context"
	"sort"
	"time"

	"checkpoint-service/internal/domain"
	"checkpoint-service/internal/metrics"
	"go.uber.org/zap"
)

// ExecutionService delivers session questions and records learner responses.
type ExecutionService struct {
	store   Store
	catalog Catalog
	opts    options
}

func NewExecutionService(store Store, catalog Catalog, opts ...Option) *ExecutionService {
	return &ExecutionService{store: store, catalog: catalog, opts: buildOptions(opts)}
}

// OptionView is a question option as shown to the learner.
type OptionView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// SessionQuestion is one question of a session with the learner's current response, if any.
type SessionQuestion struct {
	QuestionID     string                `json:"question_id"`
	Position       int                   `json:"position"`
	QuestionType   domain.QuestionType   `json:"question_type"`
	Prompt         string                `json:"prompt"`
	Points         float64               `json:"points"`
	IsRequired     bool                  `json:"is_required"`
	Options        []OptionView          `json:"options"`
	ResponseStatus domain.ResponseStatus `json:"response_status"`
	Response       *domain.Response      `json:"response,omitempty"`
}

// SessionQuestions is the question set delivered for a session.
type SessionQuestions struct {
	Questions          []SessionQuestion `json:"questions"`
	ShowCorrectAnswers bool              `json:"show_correct_answers"`
	ShuffleOptions     bool              `json:"shuffle_options"`
}

// SubmitResponseInput carries one answer submission.
type SubmitResponseInput struct {
	SessionID  string
	QuestionID string
	domain.ResponsePayload
	TimeSpentSeconds  int
	OfflineAnsweredAt *time.Time
}

// Completeness reports whether every required question has been answered.
type Completeness struct {
	IsComplete         bool     `json:"is_complete"`
	UnansweredRequired []string `json:"unanswered_required"`
	TotalRequired      int      `json:"total_required"`
	AnsweredRequired   int      `json:"answered_required"`
}

var errNotInProgress = domain.NewError(domain.ErrInvalidState, "Cannot submit responses for sessions not in progress")

// GetSessionQuestions returns the ordered question set for the session with answer keys stripped.
func (s *ExecutionService) GetSessionQuestions(ctx context.Context, sessionID, userID string) (SessionQuestions, error) {
	session, err := s.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return SessionQuestions{}, err
	}
	def, err := s.catalog.GetDefinition(ctx, session.CheckpointID)
	if err != nil {
		return SessionQuestions{}, err
	}
	cp := def.Checkpoint

	questions := make([]domain.CheckpointQuestion, len(def.Questions))
	copy(questions, def.Questions)
	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].DisplayOrder < questions[j].DisplayOrder
	})
	if cp.ShuffleQuestions {
		questions = Shuffle(questions, session.ID)
	}

	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = q.QuestionID
	}
	contents, err := s.catalog.GetQuestionContents(ctx, ids)
	if err != nil {
		return SessionQuestions{}, err
	}
	responses, err := s.store.ListResponses(ctx, session.ID)
	if err != nil {
		return SessionQuestions{}, err
	}
	byQuestion := make(map[string]domain.Response, len(responses))
	for _, r := range responses {
		byQuestion[r.QuestionID] = r
	}

	out := SessionQuestions{
		Questions:          make([]SessionQuestion, 0, len(questions)),
		ShowCorrectAnswers: cp.ShowCorrectAnswers,
		ShuffleOptions:     cp.ShuffleOptions,
	}
	for i, q := range questions {
		content, ok := contents[q.QuestionID]
		if !ok {
			return SessionQuestions{}, domain.NotFound("question " + q.QuestionID)
		}
		view := SessionQuestion{
			QuestionID:     q.QuestionID,
			Position:       i + 1,
			QuestionType:   content.QuestionType,
			Prompt:         content.Prompt,
			Points:         questionPoints(q, content),
			IsRequired:     q.IsRequired,
			Options:        s.optionViews(session.ID, cp, content),
			ResponseStatus: domain.ResponseNotViewed,
		}
		if r, ok := byQuestion[q.QuestionID]; ok {
			r := r
			view.ResponseStatus = r.Status
			view.Response = &r
		}
		out.Questions = append(out.Questions, view)
	}
	return out, nil
}

func (s *ExecutionService) optionViews(sessionID string, cp domain.Checkpoint, content domain.QuestionContent) []OptionView {
	options := make([]domain.QuestionOption, len(content.Options))
	copy(options, content.Options)
	sort.SliceStable(options, func(i, j int) bool {
		return options[i].DisplayOrder < options[j].DisplayOrder
	})
	if cp.ShuffleOptions && !content.QuestionType.OrderSensitive() {
		options = Shuffle(options, sessionID+":"+content.ID)
	}
	views := make([]OptionView, len(options))
	for i, opt := range options {
		views[i] = OptionView{ID: opt.ID, Text: opt.Text}
	}
	return views
}

// SubmitResponse validates and upserts the learner's answer for one question.
func (s *ExecutionService) SubmitResponse(ctx context.Context, in SubmitResponseInput, userID string) (domain.Response, error) {
	session, err := s.ownedSession(ctx, in.SessionID, userID)
	if err != nil {
		return domain.Response{}, err
	}
	if session.Status != domain.StatusInProgress {
		return domain.Response{}, errNotInProgress
	}
	_, content, err := s.member(ctx, session, in.QuestionID)
	if err != nil {
		return domain.Response{}, err
	}
	if err := in.ResponsePayload.Validate(content.QuestionType); err != nil {
		return domain.Response{}, err
	}
	if err := checkOptions(content, in.SelectedOptions); err != nil {
		return domain.Response{}, err
	}

	now := s.opts.now()
	row := domain.Response{
		ID:                s.opts.newID(),
		SessionID:         session.ID,
		QuestionID:        in.QuestionID,
		TimeSpentSeconds:  in.TimeSpentSeconds,
		OfflineAnsweredAt: in.OfflineAnsweredAt,
		Synced:            in.OfflineAnsweredAt == nil,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := in.ResponsePayload.Apply(&row, now); err != nil {
		return domain.Response{}, err
	}

	saved, err := s.store.UpsertResponse(ctx, row)
	if err != nil {
		return domain.Response{}, err
	}
	if _, err := s.store.RefreshCounters(ctx, session.ID); err != nil {
		return domain.Response{}, err
	}
	if err := s.appendEvent(ctx, session.ID, in.QuestionID, domain.EventQuestionAnswer); err != nil {
		return domain.Response{}, err
	}
	metrics.ResponsesSubmitted.WithLabelValues(string(content.QuestionType)).Inc()
	s.opts.logger.Debug("checkpoint response saved",
		zap.String("session_id", session.ID),
		zap.String("question_id", in.QuestionID),
		zap.Bool("synced", saved.Synced),
	)
	return saved, nil
}

// ViewQuestion lazily creates the response row for a question the learner opened.
func (s *ExecutionService) ViewQuestion(ctx context.Context, sessionID, questionID, userID string) (domain.Response, error) {
	session, err := s.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return domain.Response{}, err
	}
	if session.Status != domain.StatusInProgress {
		return domain.Response{}, domain.NewError(domain.ErrInvalidState, "Cannot view questions for sessions not in progress")
	}
	if _, _, err := s.member(ctx, session, questionID); err != nil {
		return domain.Response{}, err
	}

	now := s.opts.now()
	saved, err := s.store.MarkViewed(ctx, domain.Response{
		ID:         s.opts.newID(),
		SessionID:  session.ID,
		QuestionID: questionID,
		Status:     domain.ResponseViewed,
		Synced:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return domain.Response{}, err
	}
	if err := s.appendEvent(ctx, session.ID, questionID, domain.EventQuestionView); err != nil {
		return domain.Response{}, err
	}
	return saved, nil
}

// FlagQuestion marks an existing response for review.
func (s *ExecutionService) FlagQuestion(ctx context.Context, sessionID, questionID, userID string) (domain.Response, error) {
	return s.setFlag(ctx, sessionID, questionID, userID, true)
}

// UnflagQuestion clears the review flag, reverting to answered or viewed.
func (s *ExecutionService) UnflagQuestion(ctx context.Context, sessionID, questionID, userID string) (domain.Response, error) {
	return s.setFlag(ctx, sessionID, questionID, userID, false)
}

func (s *ExecutionService) setFlag(ctx context.Context, sessionID, questionID, userID string, flagged bool) (domain.Response, error) {
	session, err := s.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return domain.Response{}, err
	}
	if session.Status.Terminal() {
		return domain.Response{}, domain.NewError(domain.ErrInvalidState, "Cannot modify responses for sessions that have ended")
	}
	saved, err := s.store.SetFlag(ctx, session.ID, questionID, flagged, s.opts.now())
	if err != nil {
		return domain.Response{}, err
	}
	event := domain.EventQuestionFlag
	if !flagged {
		event = domain.EventQuestionUnflag
	}
	if err := s.appendEvent(ctx, session.ID, questionID, event); err != nil {
		return domain.Response{}, err
	}
	return saved, nil
}

// SkipQuestion marks an optional question skipped.
func (s *ExecutionService) SkipQuestion(ctx context.Context, sessionID, questionID, userID string) (domain.Response, error) {
	session, err := s.ownedSession(ctx, sessionID, userID)
	if err != nil {
		return domain.Response{}, err
	}
	if session.Status != domain.StatusInProgress {
		return domain.Response{}, domain.NewError(domain.ErrInvalidState, "Cannot skip questions for sessions not in progress")
	}
	q, _, err := s.member(ctx, session, questionID)
	if err != nil {
		return domain.Response{}, err
	}
	if q.IsRequired {
		return domain.Response{}, domain.NewError(domain.ErrForbidden, "Cannot skip required questions")
	}

	now := s.opts.now()
	saved, err := s.store.SkipResponse(ctx, domain.Response{
		ID:         s.opts.newID(),
		SessionID:  session.ID,
		QuestionID: questionID,
		Status:     domain.ResponseSkipped,
		Synced:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		return domain.Response{}, err
	}
	if _, err := s.store.RefreshCounters(ctx, session.ID); err != nil {
		return domain.Response{}, err
	}
	if err := s.appendEvent(ctx, session.ID, questionID, domain.EventQuestionSkip); err != nil {
		return domain.Response{}, err
	}
	return saved, nil
}

// CheckCompleteness lists required questions whose response is not exactly answered.
func (s *ExecutionService) CheckCompleteness(ctx context.Context, sessionID string) (Completeness, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Completeness{}, err
	}
	def, err := s.catalog.GetDefinition(ctx, session.CheckpointID)
	if err != nil {
		return Completeness{}, err
	}
	responses, err := s.store.ListResponses(ctx, session.ID)
	if err != nil {
		return Completeness{}, err
	}
	status := make(map[string]domain.ResponseStatus, len(responses))
	for _, r := range responses {
		status[r.QuestionID] = r.Status
	}

	questions := make([]domain.CheckpointQuestion, len(def.Questions))
	copy(questions, def.Questions)
	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].DisplayOrder < questions[j].DisplayOrder
	})

	c := Completeness{UnansweredRequired: []string{}}
	for _, q := range questions {
		if !q.IsRequired {
			continue
		}
		c.TotalRequired++
		if status[q.QuestionID] == domain.ResponseAnswered {
			c.AnsweredRequired++
			continue
		}
		c.UnansweredRequired = append(c.UnansweredRequired, q.QuestionID)
	}
	c.IsComplete = len(c.UnansweredRequired) == 0
	return c, nil
}

func (s *ExecutionService) ownedSession(ctx context.Context, sessionID, userID string) (domain.Session, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return domain.Session{}, err
	}
	if session.UserID != userID {
		return domain.Session{}, domain.NewError(domain.ErrUnauthorized, "Session does not belong to this user")
	}
	return session, nil
}

// member resolves questionID within the session's checkpoint together with its content.
func (s *ExecutionService) member(ctx context.Context, session domain.Session, questionID string) (domain.CheckpointQuestion, domain.QuestionContent, error) {
	def, err := s.catalog.GetDefinition(ctx, session.CheckpointID)
	if err != nil {
		return domain.CheckpointQuestion{}, domain.QuestionContent{}, err
	}
	q, ok := def.Question(questionID)
	if !ok {
		return domain.CheckpointQuestion{}, domain.QuestionContent{}, domain.NotFound("Question in this checkpoint")
	}
	contents, err := s.catalog.GetQuestionContents(ctx, []string{questionID})
	if err != nil {
		return domain.CheckpointQuestion{}, domain.QuestionContent{}, err
	}
	content, ok := contents[questionID]
	if !ok {
		return domain.CheckpointQuestion{}, domain.QuestionContent{}, domain.NotFound("Question")
	}
	return q, content, nil
}

func (s *ExecutionService) appendEvent(ctx context.Context, sessionID, questionID string, t domain.EventType) error {
	return s.opts.record(ctx, s.store, domain.Event{
		ID:              s.opts.newID(),
		SessionID:       sessionID,
		EventType:       t,
		QuestionID:      &questionID,
		ServerTimestamp: s.opts.now(),
	})
}

// checkOptions rejects selected option ids that are not options of the question.
func checkOptions(content domain.QuestionContent, selected []string) error {
	if len(selected) == 0 || len(content.Options) == 0 {
		return nil
	}
	known := make(map[string]bool, len(content.Options))
	for _, opt := range content.Options {
		known[opt.ID] = true
	}
	for _, id := range selected {
		if !known[id] {
			return domain.NewValidationError("Selected option does not belong to this question",
				domain.FieldError{Field: "selected_options", Error: "unknown option " + id})
		}
	}
	return nil
}
