package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/director/api/schemas"
)

// Stepper exposes the loop one phase at a time for clients that keep the
// history themselves. It reuses the same selector, decider and executor as Runner
// but holds no state between calls.
type Stepper struct {
	logger   *zap.Logger
	selector StartSelector
	decider  StepDecider
	executor ActionExecutor
}

func NewStepper(logger *zap.Logger, selector StartSelector, decider StepDecider, executor ActionExecutor) *Stepper {
	return &Stepper{
		logger:   logger.Named("stepper"),
		selector: selector,
		decider:  decider,
		executor: executor,
	}
}

// StepOutcome is returned by the phase methods.
type StepOutcome struct {
	Step       schemas.Step
	Steps      []schemas.Step
	Extraction *schemas.Extraction
	Done       bool
}

// Start selects the starting URL and navigates to it.
func (s *Stepper) Start(ctx context.Context, goal, sessionID string) (StepOutcome, error) {
	sp, err := s.selector.SelectStart(ctx, goal)
	if err != nil {
		return StepOutcome{}, fmt.Errorf("failed to select starting point: %w", err)
	}
	first := FirstStep(sp)
	if _, err := s.executor.Execute(ctx, sessionID, schemas.ToolGoto, first.Instruction); err != nil {
		return StepOutcome{}, err
	}
	return StepOutcome{Step: first, Steps: []schemas.Step{first}}, nil
}

// NextStep decides the step following history. Its number continues from the
// length of history.
func (s *Stepper) NextStep(ctx context.Context, goal, sessionID string, history []schemas.Step, last *schemas.Extraction) (StepOutcome, error) {
	hist := append([]schemas.Step(nil), history...)
	step, err := s.decider.Decide(ctx, DecisionRequest{
		Goal:           goal,
		SessionID:      sessionID,
		History:        hist,
		LastExtraction: last,
	})
	if err != nil {
		return StepOutcome{}, err
	}
	step.StepNumber = len(hist) + 1
	s.logger.Debug("Next step decided", zap.String("session_id", sessionID), zap.Int("step", step.StepNumber), zap.String("tool", step.Tool.String()))
	return StepOutcome{
		Step:  step,
		Steps: append(hist, step),
		Done:  step.IsTerminal(),
	}, nil
}

// ExecuteStep runs a previously decided step. The outcome is done once the
// executor reports the session released.
func (s *Stepper) ExecuteStep(ctx context.Context, sessionID string, step schemas.Step) (StepOutcome, error) {
	res, err := s.executor.Execute(ctx, sessionID, step.Tool, step.Instruction)
	if err != nil {
		return StepOutcome{}, err
	}
	return StepOutcome{
		Step:       step,
		Extraction: res.Extraction,
		Done:       res.Closed,
	}, nil
}
