package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xkilldash9x/director/api/schemas"
	"github.com/xkilldash9x/director/internal/config"
	"github.com/xkilldash9x/director/internal/llmutil"
)

// startPayload is the raw model answer. Reasoning may be empty but must be present.
type startPayload struct {
	URL       string  `json:"url" validate:"required,http_url"`
	Reasoning *string `json:"reasoning" validate:"required"`
}

// StartingPointSelector picks the first URL of a run from the goal alone.
type StartingPointSelector struct {
	logger   *zap.Logger
	llm      schemas.LLMClient
	validate *validator.Validate
	tier     schemas.ModelTier
	timeout  time.Duration
}

func NewStartingPointSelector(logger *zap.Logger, llm schemas.LLMClient, cfg config.AgentConfig) *StartingPointSelector {
	return &StartingPointSelector{
		logger:   logger.Named("start"),
		llm:      llm,
		validate: validator.New(),
		tier:     tierOrDefault(cfg.StartTier, schemas.TierFast),
		timeout:  cfg.DecisionTimeout,
	}
}

// SelectStart makes one structured model call. The URL must be absolute http(s).
func (s *StartingPointSelector) SelectStart(ctx context.Context, goal string) (schemas.StartingPoint, error) {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	defer cancel()

	raw, err := s.llm.Generate(callCtx, schemas.GenerationRequest{
		UserPrompt: buildStartPrompt(goal),
		Schema:     startSchema(),
		Tier:       s.tier,
		Options:    schemas.GenerationOptions{ForceJSONFormat: true},
	})
	if err != nil {
		return schemas.StartingPoint{}, &ModelError{Op: "select start", Err: err}
	}

	payload, err := llmutil.ParseJSONResponse[startPayload](raw)
	if err != nil {
		return schemas.StartingPoint{}, &DecisionSchemaError{Raw: llmutil.TruncateString(raw, 500), Err: err}
	}
	if err := s.validate.Struct(payload); err != nil {
		return schemas.StartingPoint{}, &DecisionSchemaError{
			Raw: llmutil.TruncateString(raw, 500),
			Err: fmt.Errorf("invalid starting point: %w", err),
		}
	}
	sp := schemas.StartingPoint{URL: payload.URL, Reasoning: *payload.Reasoning}
	s.logger.Debug("Selected starting point", zap.String("url", sp.URL))
	return sp, nil
}

// FirstStep builds the synthetic navigation step that opens every run.
func FirstStep(sp schemas.StartingPoint) schemas.Step {
	return schemas.Step{
		Text:        "Navigating to " + sp.URL,
		Reasoning:   sp.Reasoning,
		Tool:        schemas.ToolGoto,
		Instruction: sp.URL,
		StepNumber:  1,
	}
}
