package http

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"checkpoint-service/internal/app"
	"checkpoint-service/internal/metrics"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// UserHeader carries the authenticated user id set by the upstream auth proxy.
const UserHeader = "X-User-ID"

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Deps are the collaborators of the HTTP surface.
type Deps struct {
	Sessions  *app.SessionService
	Execution *app.ExecutionService
	Logger    *zap.Logger
	// Checks are run by /readyz, keyed by dependency name.
	Checks map[string]ReadinessCheck
	// Gatherer backs /metrics; the default registry when nil.
	Gatherer prometheus.Gatherer
}

type handler struct {
	sessions  *app.SessionService
	execution *app.ExecutionService
	logger    *zap.Logger
}

// NewRouter wires every route of the checkpoint service.
func NewRouter(deps Deps) *mux.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &handler{sessions: deps.Sessions, execution: deps.Execution, logger: logger}
	stream := NewEventStream(deps.Sessions, logger)

	r := mux.NewRouter()
	r.Use(metricsMiddleware)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readyHandler(deps.Checks, logger)).Methods(http.MethodGet)
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/checkpoints/{checkpointID}/sessions", h.createSession).Methods(http.MethodPost)
	r.HandleFunc("/checkpoint-sessions/{sessionID}", h.getSession).Methods(http.MethodGet)

	s := r.PathPrefix("/checkpoint-sessions/{sessionID}").Subrouter()
	s.HandleFunc("/start", h.startSession).Methods(http.MethodPost)
	s.HandleFunc("/pause", h.pauseSession).Methods(http.MethodPost)
	s.HandleFunc("/resume", h.resumeSession).Methods(http.MethodPost)
	s.HandleFunc("/break/start", h.startBreak).Methods(http.MethodPost)
	s.HandleFunc("/break/end", h.endBreak).Methods(http.MethodPost)
	s.HandleFunc("/submit", h.submitSession).Methods(http.MethodPost)
	s.HandleFunc("/abandon", h.abandonSession).Methods(http.MethodPost)
	s.HandleFunc("/progress", h.sessionProgress).Methods(http.MethodGet)
	s.HandleFunc("/completeness", h.completeness).Methods(http.MethodGet)
	s.HandleFunc("/questions", h.sessionQuestions).Methods(http.MethodGet)
	s.HandleFunc("/questions/{questionID}/response", h.submitResponse).Methods(http.MethodPost, http.MethodPut)
	s.HandleFunc("/questions/{questionID}/view", h.viewQuestion).Methods(http.MethodPost)
	s.HandleFunc("/questions/{questionID}/flag", h.flagQuestion).Methods(http.MethodPost)
	s.HandleFunc("/questions/{questionID}/unflag", h.unflagQuestion).Methods(http.MethodPost)
	s.HandleFunc("/questions/{questionID}/skip", h.skipQuestion).Methods(http.MethodPost)
	s.HandleFunc("/events", h.recordEvent).Methods(http.MethodPost)
	s.HandleFunc("/events", h.listEvents).Methods(http.MethodGet)
	s.HandleFunc("/events/stream", stream.ServeWS).Methods(http.MethodGet)
	return r
}

func readyHandler(checks map[string]ReadinessCheck, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := map[string]string{}
		code := http.StatusOK
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.Warn("readiness check failed", zap.String("dependency", name), zap.Error(err))
				status[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			status[name] = "ok"
		}
		writeJSON(w, code, status)
	}
}

// statusRecorder captures the response code and keeps websocket upgrades working.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	sr.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.RequestCounter.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
