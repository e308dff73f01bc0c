package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"checkpoint-service/internal/app"
	"checkpoint-service/internal/domain"
	"github.com/gorilla/mux"
)

type createSessionRequest struct {
	DeviceInfo json.RawMessage `json:"device_info"`
}

type abandonRequest struct {
	Reason string `json:"reason" validate:"required,oneof=user timeout"`
}

type recordEventRequest struct {
	EventType       string          `json:"event_type" validate:"required,max=64"`
	QuestionID      *string         `json:"question_id"`
	EventData       json.RawMessage `json:"event_data"`
	ClientTimestamp *time.Time      `json:"client_timestamp"`
}

func (req recordEventRequest) input(sessionID string) app.EventInput {
	return app.EventInput{
		SessionID:       sessionID,
		EventType:       domain.EventType(req.EventType),
		QuestionID:      req.QuestionID,
		EventData:       req.EventData,
		ClientTimestamp: req.ClientTimestamp,
	}
}

func userID(r *http.Request) (string, error) {
	id := r.Header.Get(UserHeader)
	if id == "" {
		return "", errMissingIdentity
	}
	return id, nil
}

// owned resolves the caller and verifies they own the session named in the path.
func (h *handler) owned(r *http.Request) (string, string, error) {
	user, err := userID(r)
	if err != nil {
		return "", "", err
	}
	sessionID := mux.Vars(r)["sessionID"]
	if _, err := h.sessions.GetSession(r.Context(), sessionID, user); err != nil {
		return "", "", err
	}
	return sessionID, user, nil
}

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req createSessionRequest
	if err := decode(r, &req, true); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	session, err := h.sessions.CreateSession(r.Context(), user, mux.Vars(r)["checkpointID"], req.DeviceInfo)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	session, err := h.sessions.GetSession(r.Context(), mux.Vars(r)["sessionID"], user)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// transition runs a lifecycle operation after the ownership check.
func (h *handler) transition(op func(ctx context.Context, sessionID string) (domain.Session, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, _, err := h.owned(r)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		session, err := op(r.Context(), sessionID)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	}
}

func (h *handler) startSession(w http.ResponseWriter, r *http.Request) {
	h.transition(h.sessions.StartSession)(w, r)
}

func (h *handler) pauseSession(w http.ResponseWriter, r *http.Request) {
	h.transition(h.sessions.PauseSession)(w, r)
}

func (h *handler) resumeSession(w http.ResponseWriter, r *http.Request) {
	h.transition(h.sessions.ResumeSession)(w, r)
}

func (h *handler) startBreak(w http.ResponseWriter, r *http.Request) {
	h.transition(h.sessions.StartBreak)(w, r)
}

func (h *handler) endBreak(w http.ResponseWriter, r *http.Request) {
	h.transition(h.sessions.EndBreak)(w, r)
}

func (h *handler) submitSession(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	session, err := h.sessions.SubmitSession(r.Context(), mux.Vars(r)["sessionID"], user)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *handler) abandonSession(w http.ResponseWriter, r *http.Request) {
	sessionID, _, err := h.owned(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	req := abandonRequest{Reason: string(app.AbandonUser)}
	if err := decode(r, &req, true); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	session, err := h.sessions.AbandonSession(r.Context(), sessionID, app.AbandonReason(req.Reason))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *handler) sessionProgress(w http.ResponseWriter, r *http.Request) {
	sessionID, _, err := h.owned(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	progress, err := h.sessions.GetSessionProgress(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *handler) recordEvent(w http.ResponseWriter, r *http.Request) {
	sessionID, _, err := h.owned(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var req recordEventRequest
	if err := decode(r, &req, false); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	event, err := h.sessions.RecordEvent(r.Context(), req.input(sessionID))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, event)
}

func (h *handler) listEvents(w http.ResponseWriter, r *http.Request) {
	user, err := userID(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	events, err := h.sessions.ListEvents(r.Context(), mux.Vars(r)["sessionID"], user)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}
