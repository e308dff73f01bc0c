package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"checkpoint-service/internal/app"
	"checkpoint-service/internal/domain"
	"checkpoint-service/internal/infra/memory"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	router *mux.Router
	store  *memory.SessionStore
	hub    *memory.EventHub
}

func newTestServer(t *testing.T, checks map[string]ReadinessCheck) *testServer {
	t.Helper()
	store := memory.NewSessionStore()
	hub := memory.NewEventHub()
	catalog := memory.NewStaticCatalog([]domain.CheckpointDefinition{sampleDefinition()}, sampleContents())
	opts := []app.Option{app.WithEventFeed(hub)}
	sessions := app.NewSessionService(store, catalog, memory.NewStaticAccommodations(), opts...)
	execution := app.NewExecutionService(store, catalog, opts...)
	return &testServer{
		router: NewRouter(Deps{
			Sessions:  sessions,
			Execution: execution,
			Logger:    zap.NewNop(),
			Checks:    checks,
			Gatherer:  prometheus.NewRegistry(),
		}),
		store: store,
		hub:   hub,
	}
}

// do sends a JSON request as user (empty for anonymous) and decodes the response into out when non-nil.
func (s *testServer) do(t *testing.T, method, path, user string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec.Code
}

// startedSession creates and starts a session for user through the API.
func (s *testServer) startedSession(t *testing.T, user string) domain.Session {
	t.Helper()
	var session domain.Session
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/checkpoints/cp-1/sessions", user, nil, &session))
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/checkpoint-sessions/"+session.ID+"/start", user, nil, &session))
	return session
}

func sampleDefinition() domain.CheckpointDefinition {
	return domain.CheckpointDefinition{
		Checkpoint: domain.Checkpoint{ID: "cp-1", CommunityID: "c1", Status: domain.CheckpointActive, AllowPause: true},
		Questions: []domain.CheckpointQuestion{
			{QuestionID: "q1", DisplayOrder: 1, IsRequired: true},
			{QuestionID: "q2", DisplayOrder: 2},
		},
	}
}

func sampleContents() []domain.QuestionContent {
	return []domain.QuestionContent{
		{ID: "q1", QuestionType: domain.QuestionMultipleChoice, Prompt: "What is 2 + 2?", Points: 1, Options: []domain.QuestionOption{
			{ID: "o1", Text: "3", DisplayOrder: 1},
			{ID: "o2", Text: "4", DisplayOrder: 2, IsCorrect: true},
		}},
		{ID: "q2", QuestionType: domain.QuestionMatching, Prompt: "Match capitals"},
	}
}
