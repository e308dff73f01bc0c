package http

import (
	"encoding/json"
	"net/http"

	"checkpoint-service/internal/app"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventStream pushes a session's event log to a websocket and accepts client telemetry on the same socket.
type EventStream struct {
	sessions *app.SessionService
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewEventStream(sessions *app.SessionService, logger *zap.Logger) *EventStream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStream{
		sessions: sessions,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// errorMessage builds an error frame with the same masking as REST responses.
func (s *EventStream) errorMessage(sessionID string, err error) outboundMessage[any] {
	code, body := publicError(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("ws request failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	return outboundMessage[any]{Type: "error", Payload: errorPayload{Message: body.Error}}
}

// ServeWS upgrades the request after the ownership check. Browsers cannot set headers on a
// websocket handshake, so the user id may also arrive as the user_id query parameter.
func (s *EventStream) ServeWS(w http.ResponseWriter, r *http.Request) {
	user := r.Header.Get(UserHeader)
	if user == "" {
		user = r.URL.Query().Get("user_id")
	}
	if user == "" {
		writeError(w, r, s.logger, errMissingIdentity)
		return
	}
	sessionID := mux.Vars(r)["sessionID"]

	session, err := s.sessions.GetSession(r.Context(), sessionID, user)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	updates, cancel, err := s.sessions.WatchEvents(r.Context(), sessionID, user)
	if err != nil {
		writeError(w, r, s.logger, err)
		return
	}
	defer cancel()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	defer conn.Close()

	send := make(chan outboundMessage[any], 16)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	// Only the writer goroutine touches the connection for writes.
	go func() {
		defer close(writerDone)
		broken := false
		// Keep draining after a failed write so senders never block.
		for msg := range send {
			if broken {
				continue
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("ws write failed", zap.String("session_id", sessionID), zap.Error(err))
				broken = true
			}
		}
	}()

	go func() {
		defer close(updatesDone)
		for {
			select {
			case event, ok := <-updates:
				if !ok {
					return
				}
				select {
				case send <- outboundMessage[any]{Type: "event", Payload: event}:
				case <-closeSignals:
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	send <- outboundMessage[any]{Type: "joined", Payload: session}

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "event":
			var req recordEventRequest
			if err := json.Unmarshal(inbound.Payload, &req); err != nil {
				send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid event payload"}}
				continue
			}
			if err := validateStruct(req); err != nil {
				send <- s.errorMessage(sessionID, err)
				continue
			}
			event, err := s.sessions.RecordEvent(r.Context(), req.input(sessionID))
			if err != nil {
				send <- s.errorMessage(sessionID, err)
				continue
			}
			send <- outboundMessage[any]{Type: "recorded", Payload: event}
		default:
			send <- outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}}
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
}
