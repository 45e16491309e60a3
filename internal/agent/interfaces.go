// File: internal/agent/interfaces.go
package agent

import (
	"context"

	"github.com/xkilldash9x/director/api/schemas"
)

// Backend is the browser-automation surface the executor drives. Every method
// addresses an existing remote session and must honour ctx cancellation.
type Backend interface {
	// Navigate loads url and returns once the navigation has committed.
	Navigate(ctx context.Context, sessionID, url string) error
	// Act performs one natural-language UI interaction.
	Act(ctx context.Context, sessionID, instruction string) error
	Extract(ctx context.Context, sessionID, instruction string) (string, error)
	Observe(ctx context.Context, sessionID, instruction string) ([]schemas.ObserveResult, error)
	// Screenshot captures the current viewport as PNG.
	Screenshot(ctx context.Context, sessionID string) ([]byte, error)
	Back(ctx context.Context, sessionID string) error
	CurrentURL(ctx context.Context, sessionID string) (string, error)
}

// SessionCloser releases a remote session. Implementations should be idempotent.
type SessionCloser interface {
	EndSession(ctx context.Context, sessionID string) error
}

// Sink receives the ordered progress stream of a run.
type Sink interface {
	Send(ctx context.Context, event schemas.Event) error
}

// StepDecider produces the next step for a run.
type StepDecider interface {
	Decide(ctx context.Context, req DecisionRequest) (schemas.Step, error)
}

// StartSelector picks the URL a run begins from.
type StartSelector interface {
	SelectStart(ctx context.Context, goal string) (schemas.StartingPoint, error)
}

// ActionExecutor runs one tool against a session.
type ActionExecutor interface {
	Execute(ctx context.Context, sessionID string, tool schemas.ToolKind, instruction string) (Result, error)
	Screenshot(ctx context.Context, sessionID string) ([]byte, error)
}
