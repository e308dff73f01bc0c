package domain

// EventType names a session-level occurrence.
type EventType string

const (
	EventSessionStart   EventType = "session_start"
	EventPause          EventType = "pause"
	EventResume         EventType = "resume"
	EventBreakStart     EventType = "break_start"
	EventBreakEnd       EventType = "break_end"
	EventSubmit         EventType = "submit"
	EventAbandon        EventType = "abandon"
	EventTimeout        EventType = "timeout"
	EventQuestionView   EventType = "question_view"
	EventQuestionAnswer EventType = "question_answer"
	EventQuestionSkip   EventType = "question_skip"
	EventQuestionFlag   EventType = "question_flag"
	EventQuestionUnflag EventType = "question_unflag"

	EventTabSwitch      EventType = "tab_switch"
	EventCopyAttempt    EventType = "copy_attempt"
	EventPasteAttempt   EventType = "paste_attempt"
	EventFocusLost      EventType = "focus_lost"
	EventFocusGained    EventType = "focus_gained"
	EventFullscreenExit EventType = "fullscreen_exit"
	EventRightClick     EventType = "right_click"
	EventNetworkOffline EventType = "network_offline"
	EventNetworkOnline  EventType = "network_online"
	EventHeartbeat      EventType = "heartbeat"
)

// EventRule classifies one event type.
type EventRule struct {
	Suspicious bool
	Reason     string
}

// EventPolicy maps every known event type to its classification.
type EventPolicy map[EventType]EventRule

// DefaultEventPolicy returns the built-in classification.
func DefaultEventPolicy() EventPolicy {
	p := EventPolicy{}
	for _, t := range []EventType{
		EventSessionStart, EventPause, EventResume, EventBreakStart, EventBreakEnd,
		EventSubmit, EventAbandon, EventTimeout,
		EventQuestionView, EventQuestionAnswer, EventQuestionSkip, EventQuestionFlag, EventQuestionUnflag,
		EventFocusGained, EventNetworkOffline, EventNetworkOnline, EventHeartbeat, EventRightClick,
	} {
		p[t] = EventRule{}
	}
	p[EventTabSwitch] = EventRule{Suspicious: true, Reason: "Learner switched away from the assessment tab"}
	p[EventCopyAttempt] = EventRule{Suspicious: true, Reason: "Copy attempted during assessment"}
	p[EventPasteAttempt] = EventRule{Suspicious: true, Reason: "Paste attempted during assessment"}
	p[EventFocusLost] = EventRule{Suspicious: true, Reason: "Assessment window lost focus"}
	p[EventFullscreenExit] = EventRule{Suspicious: true, Reason: "Learner exited fullscreen mode"}
	return p
}

// WithSuspicious returns a copy of the policy with the given event types marked suspicious.
// Unknown types are added to the policy.
func (p EventPolicy) WithSuspicious(reasons map[string]string) EventPolicy {
	out := make(EventPolicy, len(p)+len(reasons))
	for k, v := range p {
		out[k] = v
	}
	for t, reason := range reasons {
		if reason == "" {
			reason = "Suspicious activity: " + t
		}
		out[EventType(t)] = EventRule{Suspicious: true, Reason: reason}
	}
	return out
}

// Classify returns the rule for t and whether t is a known event type.
func (p EventPolicy) Classify(t EventType) (EventRule, bool) {
	rule, ok := p[t]
	return rule, ok
}
