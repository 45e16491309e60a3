// internal/agent/executor.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/director/api/schemas"
	"github.com/xkilldash9x/director/internal/config"
	"github.com/xkilldash9x/director/internal/observability"
)

// closeTimeout bounds the best-effort session release after a failed action.
const closeTimeout = 10 * time.Second

// Result is the outcome of a successful Execute call.
type Result struct {
	Tool schemas.ToolKind
	// Extraction is set for EXTRACT and OBSERVE.
	Extraction *schemas.Extraction
	// Closed reports that the remote session was released.
	Closed bool
}

// Executor translates tool kinds into backend operations against one remote session.
type Executor struct {
	logger  *zap.Logger
	backend Backend
	closer  SessionCloser
	metrics *observability.Metrics

	actionTimeout     time.Duration
	navigationTimeout time.Duration
}

// NewExecutor wires an executor. metrics may be nil.
func NewExecutor(logger *zap.Logger, backend Backend, closer SessionCloser, cfg config.AgentConfig, metrics *observability.Metrics) *Executor {
	return &Executor{
		logger:            logger.Named("executor"),
		backend:           backend,
		closer:            closer,
		metrics:           metrics,
		actionTimeout:     cfg.ActionTimeout,
		navigationTimeout: cfg.NavigationTimeout,
	}
}

// Execute runs one action. Any failure, including losing the race against the
// action deadline, first attempts to release the session and then returns the error.
func (e *Executor) Execute(ctx context.Context, sessionID string, tool schemas.ToolKind, instruction string) (Result, error) {
	start := time.Now()
	res, err := e.dispatch(ctx, sessionID, tool, instruction)
	e.metrics.ObserveAction(tool.String(), time.Since(start), string(CodeOf(err)))
	if err != nil {
		e.logger.Warn("Action failed",
			zap.String("session_id", sessionID),
			zap.String("tool", tool.String()),
			zap.String("code", string(CodeOf(err))),
			zap.Error(err))
		if tool != schemas.ToolClose {
			e.closeBestEffort(ctx, sessionID)
		}
		return Result{Tool: tool}, err
	}
	res.Tool = tool
	return res, nil
}

// Screenshot captures the viewport. It is never chosen by the model but follows
// the same deadline and failure semantics as a model-chosen action.
func (e *Executor) Screenshot(ctx context.Context, sessionID string) ([]byte, error) {
	start := time.Now()
	img, err := runWithAdvisoryTimeout(ctx, e.actionTimeout, func(ctx context.Context) ([]byte, error) {
		return e.backend.Screenshot(ctx, sessionID)
	})
	err = e.wrap("SCREENSHOT", sessionID, e.actionTimeout, ErrCodeExecutionFailure, err)
	e.metrics.ObserveAction("SCREENSHOT", time.Since(start), string(CodeOf(err)))
	if err != nil {
		e.logger.Warn("Screenshot failed", zap.String("session_id", sessionID), zap.Error(err))
		e.closeBestEffort(ctx, sessionID)
		return nil, err
	}
	return img, nil
}

func (e *Executor) dispatch(ctx context.Context, sessionID string, tool schemas.ToolKind, instruction string) (Result, error) {
	switch tool {
	case schemas.ToolGoto:
		if strings.TrimSpace(instruction) == "" {
			return Result{}, e.invalid(tool, sessionID, errors.New("GOTO requires a URL"))
		}
		_, err := runWithAdvisoryTimeout(ctx, e.navigationTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.backend.Navigate(ctx, sessionID, instruction)
		})
		return Result{}, e.wrap(tool, sessionID, e.navigationTimeout, ErrCodeNavigationError, err)

	case schemas.ToolAct:
		_, err := runWithAdvisoryTimeout(ctx, e.actionTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.backend.Act(ctx, sessionID, instruction)
		})
		return Result{}, e.wrap(tool, sessionID, e.actionTimeout, ErrCodeExecutionFailure, err)

	case schemas.ToolExtract:
		text, err := runWithAdvisoryTimeout(ctx, e.actionTimeout, func(ctx context.Context) (string, error) {
			return e.backend.Extract(ctx, sessionID, instruction)
		})
		if err != nil {
			return Result{}, e.wrap(tool, sessionID, e.actionTimeout, ErrCodeExecutionFailure, err)
		}
		return Result{Extraction: &schemas.Extraction{Kind: schemas.ExtractionFromExtract, Text: text}}, nil

	case schemas.ToolObserve:
		obs, err := runWithAdvisoryTimeout(ctx, e.actionTimeout, func(ctx context.Context) ([]schemas.ObserveResult, error) {
			return e.backend.Observe(ctx, sessionID, instruction)
		})
		if err != nil {
			return Result{}, e.wrap(tool, sessionID, e.actionTimeout, ErrCodeExecutionFailure, err)
		}
		return Result{Extraction: &schemas.Extraction{Kind: schemas.ExtractionFromObserve, Observations: obs}}, nil

	case schemas.ToolNavBack:
		_, err := runWithAdvisoryTimeout(ctx, e.actionTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.backend.Back(ctx, sessionID)
		})
		return Result{}, e.wrap(tool, sessionID, e.actionTimeout, ErrCodeNavigationError, err)

	case schemas.ToolWait:
		return Result{}, e.wait(ctx, sessionID, instruction)

	case schemas.ToolClose:
		_, err := runWithAdvisoryTimeout(ctx, e.actionTimeout, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.closer.EndSession(ctx, sessionID)
		})
		if err != nil {
			return Result{}, e.wrap(tool, sessionID, e.actionTimeout, ErrCodeExecutionFailure, err)
		}
		return Result{Closed: true}, nil

	default:
		return Result{}, &ActionExecutionError{
			Tool:      tool,
			SessionID: sessionID,
			Code:      ErrCodeUnknownAction,
			Err:       fmt.Errorf("unknown tool kind %q", string(tool)),
		}
	}
}

// wait sleeps for instruction milliseconds. It makes no backend call.
func (e *Executor) wait(ctx context.Context, sessionID, instruction string) error {
	ms, err := strconv.Atoi(strings.TrimSpace(instruction))
	if err != nil || ms < 0 {
		return e.invalid(schemas.ToolWait, sessionID, fmt.Errorf("WAIT requires a non-negative millisecond count, got %q", instruction))
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return &ActionExecutionError{Tool: schemas.ToolWait, SessionID: sessionID, Code: ErrCodeCancelled, Err: ctx.Err()}
	}
}

func (e *Executor) invalid(tool schemas.ToolKind, sessionID string, err error) error {
	return &ActionExecutionError{Tool: tool, SessionID: sessionID, Code: ErrCodeInvalidParameters, Err: err}
}

// wrap maps a raw backend outcome to the executor's error taxonomy.
func (e *Executor) wrap(tool schemas.ToolKind, sessionID string, timeout time.Duration, code ErrorCode, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errDeadline) {
		return &ActionTimeoutError{Tool: tool, SessionID: sessionID, Timeout: timeout}
	}
	var p *panicError
	switch {
	case errors.As(err, &p):
		code = ErrCodeExecutorPanic
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeCancelled
	}
	return &ActionExecutionError{Tool: tool, SessionID: sessionID, Code: code, Err: err}
}

// closeBestEffort releases the session after a failure. The parent context may
// already be cancelled, so the release runs detached with its own deadline.
// Failures are logged and never returned.
func (e *Executor) closeBestEffort(ctx context.Context, sessionID string) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := e.closer.EndSession(closeCtx, sessionID); err != nil {
		e.logger.Error("Failed to close session after action failure",
			zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	e.logger.Info("Closed session after action failure", zap.String("session_id", sessionID))
}
