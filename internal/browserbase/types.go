package browserbase

import (
	"fmt"
	"time"
)

// SessionStatus values accepted and returned by the sessions API.
type SessionStatus string

const (
	StatusRunning        SessionStatus = "RUNNING"
	StatusCompleted      SessionStatus = "COMPLETED"
	StatusError          SessionStatus = "ERROR"
	StatusTimedOut       SessionStatus = "TIMED_OUT"
	StatusRequestRelease SessionStatus = "REQUEST_RELEASE"
)

// CreateSessionParams describes a new remote browser.
type CreateSessionParams struct {
	// ContextID attaches a persistent browsing context. Empty means a fresh profile.
	ContextID string
	// Persist writes cookies and storage back to the context when the session ends.
	Persist   bool
	KeepAlive bool
	BlockAds  bool
	Width     int
	Height    int
}

// Session is the subset of the session resource the agent needs.
type Session struct {
	ID         string        `json:"id"`
	ProjectID  string        `json:"projectId"`
	Status     SessionStatus `json:"status"`
	ConnectURL string        `json:"connectUrl"`
	ContextID  string        `json:"contextId,omitempty"`
	KeepAlive  bool          `json:"keepAlive"`
	CreatedAt  time.Time     `json:"createdAt"`
	ExpiresAt  time.Time     `json:"expiresAt"`
}

// DebugPage is one open tab as reported by the debug endpoint.
type DebugPage struct {
	ID                    string `json:"id"`
	URL                   string `json:"url"`
	Title                 string `json:"title"`
	DebuggerURL           string `json:"debuggerUrl"`
	DebuggerFullscreenURL string `json:"debuggerFullscreenUrl"`
}

// DebugInfo holds the live-view URLs of a running session.
type DebugInfo struct {
	DebuggerURL           string      `json:"debuggerUrl"`
	DebuggerFullscreenURL string      `json:"debuggerFullscreenUrl"`
	WSURL                 string      `json:"wsUrl"`
	Pages                 []DebugPage `json:"pages"`
}

// Context is a persistent browser profile.
type Context struct {
	ID string `json:"id"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("browserbase %s %s failed with status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// wire payloads

type browserSettings struct {
	Context  *contextSettings  `json:"context,omitempty"`
	BlockAds bool              `json:"blockAds,omitempty"`
	Viewport *viewportSettings `json:"viewport,omitempty"`
}

type contextSettings struct {
	ID      string `json:"id"`
	Persist bool   `json:"persist"`
}

type viewportSettings struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type createSessionRequest struct {
	ProjectID       string          `json:"projectId"`
	KeepAlive       bool            `json:"keepAlive,omitempty"`
	BrowserSettings browserSettings `json:"browserSettings"`
}

type updateSessionRequest struct {
	ProjectID string        `json:"projectId"`
	Status    SessionStatus `json:"status"`
}

type createContextRequest struct {
	ProjectID string `json:"projectId"`
}
