package app_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"checkpoint-service/internal/app"
	"checkpoint-service/internal/domain"
	"checkpoint-service/internal/infra/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingCatalog struct {
	*memory.StaticCatalog
	mu           sync.Mutex
	contentCalls int
}

func (c *countingCatalog) GetQuestionContents(ctx context.Context, ids []string) (map[string]domain.QuestionContent, error) {
	c.mu.Lock()
	c.contentCalls++
	c.mu.Unlock()
	return c.StaticCatalog.GetQuestionContents(ctx, ids)
}

func (c *countingCatalog) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contentCalls
}

type harness struct {
	store     *memory.SessionStore
	catalog   *countingCatalog
	clock     *fakeClock
	sessions  *app.SessionService
	execution *app.ExecutionService
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func newHarness(t *testing.T, defs []domain.CheckpointDefinition, accommodations ...domain.Accommodation) *harness {
	t.Helper()
	h := &harness{
		store:   memory.NewSessionStore(),
		catalog: &countingCatalog{StaticCatalog: memory.NewStaticCatalog(defs, sampleContents())},
		clock:   newFakeClock(),
	}
	opts := []app.Option{app.WithClock(h.clock.Now)}
	h.sessions = app.NewSessionService(h.store, h.catalog, memory.NewStaticAccommodations(accommodations...), opts...)
	h.execution = app.NewExecutionService(h.store, h.catalog, opts...)
	return h
}

// startedSession creates and starts a session for user u1 on checkpoint cpID.
func (h *harness) startedSession(t *testing.T, cpID string) domain.Session {
	t.Helper()
	ctx := context.Background()
	session, err := h.sessions.CreateSession(ctx, "u1", cpID, nil)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	session, err = h.sessions.StartSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	return session
}

func requireKind(t *testing.T, err, kind error, contains string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", kind)
	}
	var derr *domain.Error
	if !errors.As(err, &derr) || derr.Kind != kind {
		t.Fatalf("expected %v error, got %v", kind, err)
	}
	if contains != "" && !strings.Contains(err.Error(), contains) {
		t.Fatalf("expected message containing %q, got %q", contains, err.Error())
	}
}

func singleMCQ() domain.CheckpointDefinition {
	return domain.CheckpointDefinition{
		Checkpoint: domain.Checkpoint{ID: "cp-mcq", CommunityID: "c1", Status: domain.CheckpointActive, AllowPause: true},
		Questions: []domain.CheckpointQuestion{
			{QuestionID: "mcq-1", FormatTypeID: "ft-mc", DisplayOrder: 1, IsRequired: true},
		},
	}
}

func noPause() domain.CheckpointDefinition {
	return domain.CheckpointDefinition{
		Checkpoint: domain.Checkpoint{ID: "cp-nopause", CommunityID: "c1", Status: domain.CheckpointActive},
		Questions: []domain.CheckpointQuestion{
			{QuestionID: "mcq-1", DisplayOrder: 1, IsRequired: true},
		},
	}
}

func timed() domain.CheckpointDefinition {
	return domain.CheckpointDefinition{
		Checkpoint: domain.Checkpoint{ID: "cp-timed", CommunityID: "c1", Status: domain.CheckpointActive, AllowPause: true, TimeLimitMinutes: intPtr(30)},
		Questions: []domain.CheckpointQuestion{
			{QuestionID: "mcq-1", DisplayOrder: 1, IsRequired: true},
		},
	}
}

func mixed() domain.CheckpointDefinition {
	return domain.CheckpointDefinition{
		Checkpoint: domain.Checkpoint{ID: "cp-mixed", CommunityID: "c1", Status: domain.CheckpointActive, AllowPause: true},
		Questions: []domain.CheckpointQuestion{
			{QuestionID: "mcq-1", DisplayOrder: 1, IsRequired: true},
			{QuestionID: "ms-1", DisplayOrder: 2, IsRequired: true},
			{QuestionID: "ord-1", DisplayOrder: 3},
			{QuestionID: "short-1", DisplayOrder: 4},
			{QuestionID: "tf-1", DisplayOrder: 5},
		},
	}
}

func shuffled() domain.CheckpointDefinition {
	qs := make([]domain.CheckpointQuestion, 0, 10)
	for i, id := range []string{"q01", "q02", "q03", "q04", "q05", "q06", "q07", "q08", "q09", "q10"} {
		qs = append(qs, domain.CheckpointQuestion{QuestionID: id, DisplayOrder: i + 1})
	}
	return domain.CheckpointDefinition{
		Checkpoint: domain.Checkpoint{ID: "cp-shuffle", CommunityID: "c1", Status: domain.CheckpointActive, ShuffleQuestions: true, ShuffleOptions: true},
		Questions:  qs,
	}
}

func sampleContents() []domain.QuestionContent {
	contents := []domain.QuestionContent{
		{ID: "mcq-1", QuestionType: domain.QuestionMultipleChoice, Prompt: "What is 2 + 2?", Points: 2, Options: []domain.QuestionOption{
			{ID: "o1", Text: "3", DisplayOrder: 1},
			{ID: "o2", Text: "4", DisplayOrder: 2, IsCorrect: true},
			{ID: "o3", Text: "5", DisplayOrder: 3},
		}},
		{ID: "ms-1", QuestionType: domain.QuestionMultipleSelect, Prompt: "Pick the primes", Options: []domain.QuestionOption{
			{ID: "p2", Text: "2", DisplayOrder: 1, IsCorrect: true},
			{ID: "p3", Text: "3", DisplayOrder: 2, IsCorrect: true},
			{ID: "p4", Text: "4", DisplayOrder: 3},
		}},
		{ID: "ord-1", QuestionType: domain.QuestionOrdering, Prompt: "Order ascending", Options: []domain.QuestionOption{
			{ID: "big", Text: "10", DisplayOrder: 1, CorrectPosition: intPtr(3)},
			{ID: "small", Text: "1", DisplayOrder: 2, CorrectPosition: intPtr(1)},
			{ID: "mid", Text: "5", DisplayOrder: 3, CorrectPosition: intPtr(2)},
		}},
		{ID: "short-1", QuestionType: domain.QuestionShortAnswer, Prompt: "Explain addition."},
		{ID: "tf-1", QuestionType: domain.QuestionTrueFalse, Prompt: "The sky is green.", Options: []domain.QuestionOption{
			{ID: "t", Text: "True", DisplayOrder: 1},
			{ID: "f", Text: "False", DisplayOrder: 2, IsCorrect: true},
		}},
	}
	for _, id := range []string{"q01", "q02", "q03", "q04", "q05", "q06", "q07", "q08", "q09", "q10"} {
		contents = append(contents, domain.QuestionContent{
			ID: id, QuestionType: domain.QuestionMultipleChoice, Prompt: "Prompt " + id,
			Options: []domain.QuestionOption{
				{ID: id + "-a", DisplayOrder: 1}, {ID: id + "-b", DisplayOrder: 2},
				{ID: id + "-c", DisplayOrder: 3}, {ID: id + "-d", DisplayOrder: 4},
				{ID: id + "-e", DisplayOrder: 5}, {ID: id + "-f", DisplayOrder: 6},
			},
		})
	}
	return contents
}
