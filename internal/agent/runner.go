// internal/agent/runner.go
package agent

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/director/api/schemas"
	"github.com/xkilldash9x/director/internal/config"
	"github.com/xkilldash9x/director/internal/observability"
)

// State is the position of a run in the loop's state machine.
type State string

const (
	StateSelectingStart State = "SELECTING_START"
	StateNavigating     State = "NAVIGATING"
	StateDeciding       State = "DECIDING"
	StateExecuting      State = "EXECUTING"
	StateTerminated     State = "TERMINATED"
)

// Termination records why a run reached StateTerminated.
type Termination string

const (
	TerminationClosed          Termination = "closed"
	TerminationBudgetExhausted Termination = "budget_exhausted"
	TerminationError           Termination = "error"
)

const (
	budgetStepText      = "Reached maximum steps limit, ending session"
	budgetStepReasoning = "Safety mechanism to prevent infinite loops"
)

// RunResult is the final state of a run. Steps includes every streamed step,
// the synthetic budget step among them.
type RunResult struct {
	RunID       string
	State       State
	Termination Termination
	Steps       []schemas.Step
}

// Runner is the loop controller. It owns the step history and the step counter
// of each run; nothing inside a run executes concurrently.
type Runner struct {
	logger   *zap.Logger
	selector StartSelector
	decider  StepDecider
	executor ActionExecutor
	closer   SessionCloser
	metrics  *observability.Metrics

	maxSteps      int
	closeOnBudget bool
}

// NewRunner wires a loop controller. closer is used only for the optional
// release after budget exhaustion and may be nil when that is disabled.
func NewRunner(logger *zap.Logger, selector StartSelector, decider StepDecider, executor ActionExecutor, closer SessionCloser, cfg config.AgentConfig, metrics *observability.Metrics) *Runner {
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 10
	}
	return &Runner{
		logger:        logger.Named("runner"),
		selector:      selector,
		decider:       decider,
		executor:      executor,
		closer:        closer,
		metrics:       metrics,
		maxSteps:      maxSteps,
		closeOnBudget: cfg.CloseOnBudgetExhausted && closer != nil,
	}
}

// run is the mutable state of one Run call.
type run struct {
	id        string
	goal      string
	sessionID string
	sink      Sink
	logger    *zap.Logger

	state   State
	counter int
	history []schemas.Step
}

// Run drives sessionID toward goal, streaming every step to sink as soon as it
// is decided. Budget exhaustion is a normal termination. Any other failure ends
// the run in TerminationError and is returned alongside the partial result.
func (r *Runner) Run(ctx context.Context, goal, sessionID string, sink Sink) (RunResult, error) {
	rn := &run{
		id:        uuid.NewString(),
		goal:      goal,
		sessionID: sessionID,
		sink:      sink,
		counter:   1,
	}
	rn.logger = r.logger.With(zap.String("run_id", rn.id), zap.String("session_id", sessionID))
	r.metrics.RunStarted()

	termination, err := r.loop(ctx, rn)
	rn.transition(StateTerminated)
	if err != nil {
		termination = TerminationError
		rn.logger.Error("Run failed", zap.String("code", string(CodeOf(err))), zap.Error(err))
	} else {
		rn.logger.Info("Run finished", zap.String("termination", string(termination)), zap.Int("steps", len(rn.history)))
	}
	r.metrics.RunFinished(string(termination))

	return RunResult{
		RunID:       rn.id,
		State:       rn.state,
		Termination: termination,
		Steps:       append([]schemas.Step(nil), rn.history...),
	}, err
}

func (r *Runner) loop(ctx context.Context, rn *run) (Termination, error) {
	rn.transition(StateSelectingStart)
	sp, err := r.selector.SelectStart(ctx, rn.goal)
	if err != nil {
		return TerminationError, fmt.Errorf("failed to select starting point: %w", err)
	}

	first := FirstStep(sp)
	first.StepNumber = rn.next()
	if err := r.emit(ctx, rn, first); err != nil {
		return TerminationError, err
	}

	rn.transition(StateNavigating)
	if _, err := r.executor.Execute(ctx, rn.sessionID, schemas.ToolGoto, first.Instruction); err != nil {
		return TerminationError, err
	}

	var last *schemas.Extraction
	for rn.counter <= r.maxSteps {
		if err := ctx.Err(); err != nil {
			return TerminationError, err
		}

		rn.transition(StateDeciding)
		step, err := r.decider.Decide(ctx, DecisionRequest{
			Goal:           rn.goal,
			SessionID:      rn.sessionID,
			History:        rn.snapshot(),
			LastExtraction: last,
		})
		if err != nil {
			return TerminationError, fmt.Errorf("failed to decide step %d: %w", rn.counter, err)
		}
		// The extraction is consumed by exactly one decision.
		last = nil

		step.StepNumber = rn.next()
		if err := r.emit(ctx, rn, step); err != nil {
			return TerminationError, err
		}
		if step.IsTerminal() {
			return TerminationClosed, nil
		}

		rn.transition(StateExecuting)
		res, err := r.executor.Execute(ctx, rn.sessionID, step.Tool, step.Instruction)
		if err != nil {
			return TerminationError, err
		}
		last = res.Extraction
	}

	final := schemas.Step{
		Text:        budgetStepText,
		Reasoning:   budgetStepReasoning,
		Tool:        schemas.ToolClose,
		Instruction: "",
		StepNumber:  rn.counter,
	}
	if err := r.emit(ctx, rn, final); err != nil {
		return TerminationError, err
	}
	rn.logger.Warn("Step budget exhausted", zap.Int("max_steps", r.maxSteps))
	if r.closeOnBudget {
		r.releaseAfterBudget(ctx, rn)
	}
	return TerminationBudgetExhausted, nil
}

// emit appends step to the history and streams it.
func (r *Runner) emit(ctx context.Context, rn *run, step schemas.Step) error {
	rn.history = append(rn.history, step)
	r.metrics.StepDecided(step.Tool.String())
	rn.logger.Info("Step decided",
		zap.Int("step", step.StepNumber),
		zap.String("tool", step.Tool.String()),
		zap.String("instruction", step.Instruction))
	if rn.sink == nil {
		return nil
	}
	if err := rn.sink.Send(ctx, schemas.NewStepEvent(step)); err != nil {
		return fmt.Errorf("failed to stream step %d: %w", step.StepNumber, err)
	}
	return nil
}

// releaseAfterBudget ends the session once the budget runs out. It is not a step
// and its failure does not change the termination.
func (r *Runner) releaseAfterBudget(ctx context.Context, rn *run) {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := r.closer.EndSession(closeCtx, rn.sessionID); err != nil {
		rn.logger.Error("Failed to release session after budget exhaustion", zap.Error(err))
	}
}

func (rn *run) next() int {
	n := rn.counter
	rn.counter++
	return n
}

// snapshot returns a copy of the history so the decider cannot alias it.
func (rn *run) snapshot() []schemas.Step {
	return append([]schemas.Step(nil), rn.history...)
}

func (rn *run) transition(s State) {
	if rn.state == s {
		return
	}
	rn.logger.Debug("State transition", zap.String("from", string(rn.state)), zap.String("to", string(s)))
	rn.state = s
}
