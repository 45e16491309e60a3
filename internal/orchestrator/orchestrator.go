// File: internal/orchestrator/orchestrator.go
// Description: Manages the full lifecycle of one agent run: session creation,
// the loop itself, session teardown and the closing event of the stream.

package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/director/api/schemas"
	"github.com/xkilldash9x/director/internal/agent"
	"github.com/xkilldash9x/director/internal/session"
	"github.com/xkilldash9x/director/internal/store"
)

const (
	endSessionTimeout = 30 * time.Second
	finishTimeout     = 5 * time.Second
)

// SessionProvider creates and releases remote browser sessions.
type SessionProvider interface {
	CreateSession(ctx context.Context, req session.CreateSessionRequest) (session.SessionInfo, error)
	EndSession(ctx context.Context, sessionID string) error
}

// LoopRunner runs the agent loop against an existing session.
type LoopRunner interface {
	Run(ctx context.Context, goal, sessionID string, sink agent.Sink) (agent.RunResult, error)
}

// RunRequest starts one run.
type RunRequest struct {
	Goal           string `json:"goal" validate:"required"`
	ConversationID string `json:"conversationId,omitempty"`
	ContextID      string `json:"contextId,omitempty"`
}

// Orchestrator ties a run to the session it executes in. It is injected with
// its collaborators through interfaces.
type Orchestrator struct {
	logger   *zap.Logger
	sessions SessionProvider
	runner   LoopRunner
	recorder store.RunRecorder
}

// New creates an Orchestrator. recorder may be nil.
func New(logger *zap.Logger, sessions SessionProvider, runner LoopRunner, recorder store.RunRecorder) (*Orchestrator, error) {
	if logger == nil || sessions == nil || runner == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		logger:   logger.Named("orchestrator"),
		sessions: sessions,
		runner:   runner,
		recorder: recorder,
	}, nil
}

// Execute creates a session, announces it, runs the loop and releases the
// session again whatever the outcome. The stream always ends with run_finished
// or run_error, unless the sink itself failed.
func (o *Orchestrator) Execute(ctx context.Context, req RunRequest, sink agent.Sink) (agent.RunResult, error) {
	started := time.Now().UTC()
	if sink == nil {
		sink = agent.MultiSink{}
	}

	info, err := o.sessions.CreateSession(ctx, session.CreateSessionRequest{
		ConversationID: req.ConversationID,
		ContextID:      req.ContextID,
	})
	if err != nil {
		o.finish(ctx, sink, schemas.NewEvent(schemas.EventRunError, schemas.RunFailure{
			Code:    string(agent.CodeOf(err)),
			Message: err.Error(),
		}))
		return agent.RunResult{State: agent.StateTerminated, Termination: agent.TerminationError}, err
	}

	logger := o.logger.With(zap.String("session_id", info.SessionID))

	if err := sink.Send(ctx, schemas.NewEvent(schemas.EventBrowserSessionStarted, schemas.SessionStarted{
		SessionID:  info.SessionID,
		SessionURL: info.SessionURL,
	})); err != nil {
		o.endSession(ctx, logger, info.SessionID)
		return agent.RunResult{State: agent.StateTerminated, Termination: agent.TerminationError}, fmt.Errorf("failed to announce session: %w", err)
	}

	result, runErr := o.runner.Run(ctx, req.Goal, info.SessionID, sink)

	// Released before the closing event so clients never see a finished run
	// with a live session.
	o.endSession(ctx, logger, info.SessionID)
	o.record(ctx, logger, req, info.SessionID, result, started)

	if runErr != nil {
		o.finish(ctx, sink, schemas.NewEvent(schemas.EventRunError, schemas.RunFailure{
			RunID:   result.RunID,
			Code:    string(agent.CodeOf(runErr)),
			Message: runErr.Error(),
		}))
		return result, runErr
	}

	o.finish(ctx, sink, schemas.NewEvent(schemas.EventRunFinished, schemas.RunSummary{
		RunID:       result.RunID,
		Termination: string(result.Termination),
		Steps:       len(result.Steps),
	}))
	return result, nil
}

// endSession releases the session even when ctx is already cancelled.
func (o *Orchestrator) endSession(ctx context.Context, logger *zap.Logger, sessionID string) {
	endCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), endSessionTimeout)
	defer cancel()
	if err := o.sessions.EndSession(endCtx, sessionID); err != nil {
		logger.Warn("Failed to end session after run", zap.Error(err))
	}
}

func (o *Orchestrator) record(ctx context.Context, logger *zap.Logger, req RunRequest, sessionID string, result agent.RunResult, started time.Time) {
	if o.recorder == nil {
		return
	}
	rec := store.RunRecord{
		RunID:          result.RunID,
		ConversationID: req.ConversationID,
		SessionID:      sessionID,
		Goal:           req.Goal,
		Termination:    string(result.Termination),
		StepCount:      len(result.Steps),
		StartedAt:      started,
		FinishedAt:     time.Now().UTC(),
	}
	if err := o.recorder.RecordRun(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("Failed to record run", zap.String("run_id", result.RunID), zap.Error(err))
	}
}

// finish delivers the closing event, also after the run was cancelled. The
// client may already be gone, so a failure is only logged.
func (o *Orchestrator) finish(ctx context.Context, sink agent.Sink, event schemas.Event) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	if err := sink.Send(sendCtx, event); err != nil {
		o.logger.Debug("Could not deliver closing event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}
