package http

import (
	"context"
	"net/http"
	"time"

	"checkpoint-service/internal/app"
	"checkpoint-service/internal/domain"
	"github.com/gorilla/mux"
)

type submitResponseRequest struct {
	domain.ResponsePayload
	TimeSpentSeconds  int        `json:"time_spent_seconds" validate:"gte=0"`
	OfflineAnsweredAt *time.Time `json:"offline_answered_at"`
}

func (h *handler) sessionQuestions(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	questions, err := h.execution.GetSessionQuestions(r.Context(), mux.Vars(r)["sessionID"], user)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, questions)
}

func (h *handler) submitResponse(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req submitResponseRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	vars := mux.Vars(r)
	saved, err := h.execution.SubmitResponse(r.Context(), app.SubmitResponseInput{
		SessionID:         vars["sessionID"],
		QuestionID:        vars["questionID"],
		ResponsePayload:   req.ResponsePayload,
		TimeSpentSeconds:  req.TimeSpentSeconds,
		OfflineAnsweredAt: req.OfflineAnsweredAt,
	}, user)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// questionOp runs a per-question operation that takes the caller's user id.
func (h *handler) questionOp(op func(ctx context.Context, sessionID, questionID, userID string) (domain.Response, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := userID(r)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		vars := mux.Vars(r)
		saved, err := op(r.Context(), vars["sessionID"], vars["questionID"], user)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func (h *handler) viewQuestion(w http.ResponseWriter, r *http.Request) {
	h.questionOp(h.execution.ViewQuestion)(w, r)
}

func (h *handler) flagQuestion(w http.ResponseWriter, r *http.Request) {
	h.questionOp(h.execution.FlagQuestion)(w, r)
}

func (h *handler) unflagQuestion(w http.ResponseWriter, r *http.Request) {
	h.questionOp(h.execution.UnflagQuestion)(w, r)
}

func (h *handler) skipQuestion(w http.ResponseWriter, r *http.Request) {
	h.questionOp(h.execution.SkipQuestion)(w, r)
}

func (h *handler) completeness(w http.ResponseWriter, r *http.Request) {
	sessionID, _, err := h.owned(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	c, err := h.execution.CheckCompleteness(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
