package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpoint_session_transitions_total",
			Help: "Checkpoint session status transitions by target status",
		},
		[]string{"status"},
	)
	ResponsesSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpoint_responses_total",
			Help: "Persisted checkpoint responses by question type",
		},
		[]string{"question_type"},
	)
	SuspiciousEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkpoint_suspicious_events_total",
			Help: "Suspicious session events by event type",
		},
		[]string{"event_type"},
	)
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		SessionTransitions,
		ResponsesSubmitted,
		SuspiciousEvents,
		RequestCounter,
		RequestDuration,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
