package schemas

import "time"

// EventType identifies a message on the progress stream.
type EventType string

const (
	EventAgentStep             EventType = "agent_step"
	EventBrowserSessionStarted EventType = "browser_session_started"
	EventRunFinished           EventType = "run_finished"
	EventRunError              EventType = "run_error"
)

// Event is the envelope written to every streaming sink.
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// SessionStarted is the payload of a browser_session_started event.
type SessionStarted struct {
	SessionID  string `json:"sessionId"`
	SessionURL string `json:"sessionUrl"`
}

// RunSummary is the payload of a run_finished event.
type RunSummary struct {
	RunID       string `json:"runId"`
	Termination string `json:"termination"`
	Steps       int    `json:"steps"`
}

// RunFailure is the payload of a run_error event.
type RunFailure struct {
	RunID   string `json:"runId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewStepEvent wraps a step in an agent_step envelope.
func NewStepEvent(step Step) Event {
	return Event{Type: EventAgentStep, Data: step, Timestamp: time.Now().UTC()}
}

// NewEvent wraps an arbitrary payload.
func NewEvent(t EventType, data interface{}) Event {
	return Event{Type: t, Data: data, Timestamp: time.Now().UTC()}
}
