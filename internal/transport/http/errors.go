package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"checkpoint-service/internal/domain"
	"go.uber.org/zap"
)

type errorBody struct {
	Error  string              `json:"error"`
	Fields []domain.FieldError `json:"fields,omitempty"`
}

// statusFor maps a domain error kind to its HTTP status; anything unrecognized is a server error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// errMissingIdentity is the only unauthorized error that reaches callers as such.
var errMissingIdentity = domain.NewError(domain.ErrUnauthorized, "Missing user identity")

// publicError returns what a caller may learn about err. A session owned by someone else is
// reported exactly like a missing one, and infrastructure failures are reduced to their status text.
func publicError(err error) (int, errorBody) {
	if errors.Is(err, domain.ErrUnauthorized) && !errors.Is(err, errMissingIdentity) {
		err = domain.NotFound("Session")
	}
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		return code, errorBody{Error: http.StatusText(code)}
	}
	body := errorBody{Error: err.Error()}
	var derr *domain.Error
	if errors.As(err, &derr) {
		body.Fields = derr.Fields
	}
	return code, body
}

func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	code, body := publicError(err)
	if code == http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, code, body)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
