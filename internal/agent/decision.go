// internal/agent/decision.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xkilldash9x/director/api/schemas"
	"github.com/xkilldash9x/director/internal/config"
	"github.com/xkilldash9x/director/internal/llmutil"
	"github.com/xkilldash9x/director/internal/observability"
)

// DecisionRequest is everything the model sees when choosing the next step.
type DecisionRequest struct {
	Goal      string
	SessionID string
	// History is read-only; the requester never retains or mutates it.
	History []schemas.Step
	// LastExtraction is the output of the previous EXTRACT or OBSERVE, if any.
	LastExtraction *schemas.Extraction
}

// URLProber reads the current page URL of a session.
type URLProber interface {
	CurrentURL(ctx context.Context, sessionID string) (string, error)
}

// decisionPayload mirrors the structured output schema.
type decisionPayload struct {
	Text        string `json:"text"`
	Reasoning   string `json:"reasoning"`
	Tool        string `json:"tool" validate:"required"`
	Instruction string `json:"instruction"`
}

// DecisionRequester asks the model for exactly one next step.
type DecisionRequester struct {
	logger   *zap.Logger
	llm      schemas.LLMClient
	executor ActionExecutor
	prober   URLProber
	validate *validator.Validate
	metrics  *observability.Metrics

	tier         schemas.ModelTier
	timeout      time.Duration
	probeTimeout time.Duration
	retries      int
}

// NewDecisionRequester wires a requester. Screenshots go through the executor so
// they share its deadline and close-on-failure behaviour.
func NewDecisionRequester(logger *zap.Logger, llm schemas.LLMClient, executor ActionExecutor, prober URLProber, cfg config.AgentConfig, metrics *observability.Metrics) *DecisionRequester {
	retries := cfg.DecisionRetries
	if retries < 0 {
		retries = 0
	}
	if retries > 1 {
		retries = 1
	}
	return &DecisionRequester{
		logger:       logger.Named("decision"),
		llm:          llm,
		executor:     executor,
		prober:       prober,
		validate:     validator.New(),
		metrics:      metrics,
		tier:         tierOrDefault(cfg.DecisionTier, schemas.TierPowerful),
		timeout:      cfg.DecisionTimeout,
		probeTimeout: cfg.URLProbeTimeout,
		retries:      retries,
	}
}

// Decide returns the next step. StepNumber is left zero; numbering belongs to the caller.
func (d *DecisionRequester) Decide(ctx context.Context, req DecisionRequest) (schemas.Step, error) {
	currentURL := d.probeURL(ctx, req.SessionID)

	var images []schemas.Image
	if hasNavigated(req.History) {
		png, err := d.executor.Screenshot(ctx, req.SessionID)
		if err != nil {
			return schemas.Step{}, err
		}
		images = append(images, schemas.Image{MIMEType: "image/png", Data: png})
	}

	genReq := schemas.GenerationRequest{
		UserPrompt: buildDecisionPrompt(req.Goal, currentURL, req.History, req.LastExtraction),
		Images:     images,
		Schema:     decisionSchema(),
		Tier:       d.tier,
		Options:    schemas.GenerationOptions{ForceJSONFormat: true},
	}

	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		step, err := d.generate(ctx, genReq)
		if err == nil {
			return step, nil
		}
		lastErr = err

		var schemaErr *DecisionSchemaError
		if !errors.As(err, &schemaErr) {
			return schemas.Step{}, err
		}
		d.logger.Warn("Model returned an invalid decision",
			zap.String("session_id", req.SessionID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return schemas.Step{}, lastErr
}

func (d *DecisionRequester) generate(ctx context.Context, req schemas.GenerationRequest) (schemas.Step, error) {
	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if d.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, d.timeout)
	}
	defer cancel()

	start := time.Now()
	raw, err := d.llm.Generate(callCtx, req)
	d.metrics.ObserveDecision(time.Since(start), err)
	if err != nil {
		return schemas.Step{}, &ModelError{Op: "decide", Err: err}
	}
	return d.parse(raw)
}

// parse validates raw model output against the decision schema.
func (d *DecisionRequester) parse(raw string) (schemas.Step, error) {
	payload, err := llmutil.ParseJSONResponse[decisionPayload](raw)
	if err != nil {
		return schemas.Step{}, &DecisionSchemaError{Raw: llmutil.TruncateString(raw, 500), Err: err}
	}
	if err := d.validate.Struct(payload); err != nil {
		return schemas.Step{}, &DecisionSchemaError{Raw: llmutil.TruncateString(raw, 500), Err: err}
	}
	tool, err := schemas.ParseToolKind(payload.Tool)
	if err != nil {
		return schemas.Step{}, &DecisionSchemaError{Raw: llmutil.TruncateString(raw, 500), Err: err}
	}
	if tool == schemas.ToolGoto && strings.TrimSpace(payload.Instruction) == "" {
		return schemas.Step{}, &DecisionSchemaError{Raw: llmutil.TruncateString(raw, 500), Err: fmt.Errorf("GOTO without a URL")}
	}
	return schemas.Step{
		Text:        payload.Text,
		Reasoning:   payload.Reasoning,
		Tool:        tool,
		Instruction: payload.Instruction,
	}, nil
}

// probeURL returns the session's current URL, or "" when the probe fails.
func (d *DecisionRequester) probeURL(ctx context.Context, sessionID string) string {
	if d.prober == nil {
		return ""
	}
	url, err := runWithAdvisoryTimeout(ctx, d.probeTimeout, func(ctx context.Context) (string, error) {
		return d.prober.CurrentURL(ctx, sessionID)
	})
	if err != nil {
		d.logger.Debug("Current URL probe failed", zap.String("session_id", sessionID), zap.Error(err))
		return ""
	}
	return url
}

func tierOrDefault(v string, def schemas.ModelTier) schemas.ModelTier {
	switch schemas.ModelTier(strings.ToLower(strings.TrimSpace(v))) {
	case schemas.TierFast:
		return schemas.TierFast
	case schemas.TierPowerful:
		return schemas.TierPowerful
	default:
		return def
	}
}
