package domain_test

import (
	"testing"
	"time"

	"checkpoint-service/internal/domain"
)

func TestEventPolicyClassification(t *testing.T) {
	p := domain.DefaultEventPolicy()
	for _, et := range []domain.EventType{
		domain.EventTabSwitch, domain.EventCopyAttempt, domain.EventPasteAttempt, domain.EventFocusLost,
	} {
		rule, ok := p.Classify(et)
		if !ok || !rule.Suspicious || rule.Reason == "" {
			t.Fatalf("%s: expected suspicious with reason, got %+v (known=%v)", et, rule, ok)
		}
	}
	if rule, ok := p.Classify(domain.EventQuestionView); !ok || rule.Suspicious {
		t.Fatalf("question_view should be known and benign, got %+v", rule)
	}
	if _, ok := p.Classify("teleport"); ok {
		t.Fatalf("unknown event type must not classify")
	}
}

func TestEventPolicyWithSuspiciousCopies(t *testing.T) {
	base := domain.DefaultEventPolicy()
	extended := base.WithSuspicious(map[string]string{
		"right_click":   "",
		"devtools_open": "Developer tools opened",
	})

	if rule, _ := base.Classify(domain.EventRightClick); rule.Suspicious {
		t.Fatalf("base policy must not change")
	}
	rule, ok := extended.Classify(domain.EventRightClick)
	if !ok || !rule.Suspicious || rule.Reason != "Suspicious activity: right_click" {
		t.Fatalf("unexpected right_click rule %+v", rule)
	}
	rule, ok = extended.Classify("devtools_open")
	if !ok || rule.Reason != "Developer tools opened" {
		t.Fatalf("unexpected devtools_open rule %+v", rule)
	}
}

func TestSessionElapsedAt(t *testing.T) {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	s := domain.Session{Status: domain.StatusInProgress, TimeElapsedSeconds: 30, TimeElapsedMillis: 30000, ResumedAt: &base}

	if got := s.ElapsedAt(base.Add(90 * time.Second)); got != 120 {
		t.Fatalf("expected 120 seconds, got %d", got)
	}
	if got := s.ElapsedAt(base.Add(-time.Minute)); got != 30 {
		t.Fatalf("clock skew must not subtract time, got %d", got)
	}

	s.Status = domain.StatusPaused
	if got := s.ElapsedAt(base.Add(time.Hour)); got != 30 {
		t.Fatalf("paused sessions are frozen, got %d", got)
	}
}

func TestSessionAddActiveCarriesRemainder(t *testing.T) {
	var s domain.Session
	for i := 0; i < 3; i++ {
		s.AddActive(700)
	}
	if s.TimeElapsedMillis != 2100 || s.TimeElapsedSeconds != 2 {
		t.Fatalf("expected 2100ms / 2s, got %dms / %ds", s.TimeElapsedMillis, s.TimeElapsedSeconds)
	}
}

func TestAccommodationMultiplier(t *testing.T) {
	cases := []struct {
		acc  domain.Accommodation
		want float64
	}{
		{domain.Accommodation{}, 1},
		{domain.Accommodation{Approved: false, ExtendedTime: true, TimeMultiplier: 2}, 1},
		{domain.Accommodation{Approved: true, ExtendedTime: false, TimeMultiplier: 2}, 1},
		{domain.Accommodation{Approved: true, ExtendedTime: true, TimeMultiplier: 0}, 1},
		{domain.Accommodation{Approved: true, ExtendedTime: true, TimeMultiplier: 1.5}, 1.5},
	}
	for _, tc := range cases {
		if got := tc.acc.Multiplier(); got != tc.want {
			t.Fatalf("%+v: expected %v, got %v", tc.acc, tc.want, got)
		}
	}
	if (domain.Accommodation{BreakAllowances: true}).BreaksGranted() {
		t.Fatalf("unapproved records grant no breaks")
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range []domain.SessionStatus{domain.StatusSubmitted, domain.StatusTimedOut, domain.StatusAbandoned} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []domain.SessionStatus{domain.StatusInitializing, domain.StatusInProgress, domain.StatusPaused, domain.StatusOnBreak} {
		if s.Terminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}
