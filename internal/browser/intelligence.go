// internal/browser/intelligence.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xkilldash9x/director/api/schemas"
	"github.com/xkilldash9x/director/internal/llmutil"
)

// Interaction methods the planner may choose for an ACT instruction.
const (
	MethodClick  = "click"
	MethodFill   = "fill"
	MethodType   = "type"
	MethodPress  = "press"
	MethodSelect = "select"
	MethodScroll = "scroll"
)

var interactionMethods = []string{MethodClick, MethodFill, MethodType, MethodPress, MethodSelect, MethodScroll}

// ErrNoMatchingElement is returned when the model cannot map an instruction
// onto any element of the snapshot.
var ErrNoMatchingElement = errors.New("no element on the page matches the instruction")

// ActionPlan is one concrete interaction resolved against a snapshot.
type ActionPlan struct {
	Element  Element
	Method   string
	Argument string
}

type actionPlanPayload struct {
	ElementID int    `json:"element_id" validate:"gte=0"`
	Method    string `json:"method" validate:"required,oneof=click fill type press select scroll"`
	Argument  string `json:"argument"`
	Reasoning string `json:"reasoning"`
}

type observedElement struct {
	ElementID   int      `json:"element_id" validate:"gt=0"`
	Description string   `json:"description" validate:"required"`
	Method      string   `json:"method"`
	Arguments   []string `json:"arguments"`
}

type observePayload struct {
	Elements []observedElement `json:"elements" validate:"dive"`
}

type extractPayload struct {
	Extraction string `json:"extraction"`
}

// Planner turns natural-language instructions into page operations using the
// language model.
type Planner struct {
	logger   *zap.Logger
	llm      schemas.LLMClient
	tier     schemas.ModelTier
	validate *validator.Validate
}

// NewPlanner creates a planner that sends its prompts at the given tier.
func NewPlanner(logger *zap.Logger, llm schemas.LLMClient, tier schemas.ModelTier) *Planner {
	if tier == "" {
		tier = schemas.TierFast
	}
	return &Planner{
		logger:   logger.Named("planner"),
		llm:      llm,
		tier:     tier,
		validate: validator.New(),
	}
}

const plannerSystemPrompt = `You operate a web browser on behalf of an automation agent.
You are given a list of interactive elements currently visible on the page. Each element is written as [id] <tag attributes> "text".
Only refer to elements by the ids in the list. Never invent ids.`

// PlanAction resolves an ACT instruction to an element and an interaction.
func (p *Planner) PlanAction(ctx context.Context, instruction string, snap *PageSnapshot) (ActionPlan, error) {
	prompt := fmt.Sprintf(`Page: %s (%s)

Interactive elements:
%s

Instruction: %q

Choose the single element and method that carries out the instruction.
Methods: %s. Use "fill" to replace the value of a field, "type" to append keystrokes, "press" with a key name such as Enter, "select" with the option text, and "scroll" to bring an element into view.
Put any text to enter, key to press or option to choose in "argument".
If nothing on the page matches, return element_id 0.`,
		snap.URL, snap.Title, snap.Render(), instruction, strings.Join(interactionMethods, ", "))

	raw, err := p.generate(ctx, prompt, actionSchema())
	if err != nil {
		return ActionPlan{}, err
	}
	payload, err := llmutil.ParseJSONResponse[actionPlanPayload](raw)
	if err != nil {
		return ActionPlan{}, err
	}
	payload.Method = strings.ToLower(strings.TrimSpace(payload.Method))
	if err := p.validate.Struct(payload); err != nil {
		return ActionPlan{}, fmt.Errorf("invalid action plan: %w", err)
	}

	// "press" may target the focused element without naming one.
	if payload.ElementID == 0 && payload.Method != MethodPress {
		return ActionPlan{}, ErrNoMatchingElement
	}
	plan := ActionPlan{Method: payload.Method, Argument: payload.Argument}
	if payload.ElementID != 0 {
		el, ok := snap.Find(payload.ElementID)
		if !ok {
			return ActionPlan{}, fmt.Errorf("model chose unknown element %d: %w", payload.ElementID, ErrNoMatchingElement)
		}
		plan.Element = el
	}
	p.logger.Debug("Planned action",
		zap.String("instruction", instruction),
		zap.String("method", plan.Method),
		zap.Int("element", plan.Element.ID),
		zap.String("reasoning", payload.Reasoning))
	return plan, nil
}

// PlanObservation lists the elements relevant to an OBSERVE instruction. An
// empty result is not an error.
func (p *Planner) PlanObservation(ctx context.Context, instruction string, snap *PageSnapshot) ([]schemas.ObserveResult, error) {
	if instruction == "" {
		instruction = "Find the elements a user would most likely interact with next."
	}
	prompt := fmt.Sprintf(`Page: %s (%s)

Interactive elements:
%s

Instruction: %q

Return the elements that match the instruction, most relevant first. For each, describe it briefly and suggest the method (%s) and arguments that would use it.`,
		snap.URL, snap.Title, snap.Render(), instruction, strings.Join(interactionMethods, ", "))

	raw, err := p.generate(ctx, prompt, observeSchema())
	if err != nil {
		return nil, err
	}
	payload, err := llmutil.ParseJSONResponse[observePayload](raw)
	if err != nil {
		return nil, err
	}
	if err := p.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("invalid observation: %w", err)
	}

	results := make([]schemas.ObserveResult, 0, len(payload.Elements))
	for _, o := range payload.Elements {
		el, ok := snap.Find(o.ElementID)
		if !ok {
			p.logger.Debug("Dropping observation of unknown element", zap.Int("element", o.ElementID))
			continue
		}
		results = append(results, schemas.ObserveResult{
			Selector:    el.Selector(),
			Description: o.Description,
			Method:      strings.ToLower(o.Method),
			Arguments:   o.Arguments,
		})
	}
	return results, nil
}

// Extract answers an EXTRACT instruction from the readable text of the page.
func (p *Planner) Extract(ctx context.Context, instruction, pageURL, pageText string) (string, error) {
	prompt := fmt.Sprintf(`Page: %s

Page text:
%s

Instruction: %q

Extract exactly the information the instruction asks for, using only the page text. If it is not present, say so.`,
		pageURL, pageText, instruction)

	raw, err := p.generate(ctx, prompt, extractSchema())
	if err != nil {
		return "", err
	}
	payload, err := llmutil.ParseJSONResponse[extractPayload](raw)
	if err != nil {
		return "", err
	}
	return payload.Extraction, nil
}

func (p *Planner) generate(ctx context.Context, prompt string, schema *schemas.ResponseSchema) (string, error) {
	raw, err := p.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: plannerSystemPrompt,
		UserPrompt:   prompt,
		Schema:       schema,
		Tier:         p.tier,
		Options:      schemas.GenerationOptions{Temperature: 0.1, ForceJSONFormat: true},
	})
	if err != nil {
		return "", fmt.Errorf("planner model call failed: %w", err)
	}
	return raw, nil
}

func actionSchema() *schemas.ResponseSchema {
	return &schemas.ResponseSchema{
		Name: "action_plan",
		Type: schemas.SchemaObject,
		Properties: map[string]*schemas.ResponseSchema{
			"element_id": {Type: schemas.SchemaInteger, Description: "Id of the element to use, or 0 if none matches."},
			"method":     {Type: schemas.SchemaString, Enum: interactionMethods},
			"argument":   {Type: schemas.SchemaString},
			"reasoning":  {Type: schemas.SchemaString},
		},
		Required: []string{"element_id", "method", "argument", "reasoning"},
	}
}

func observeSchema() *schemas.ResponseSchema {
	return &schemas.ResponseSchema{
		Name: "observation",
		Type: schemas.SchemaObject,
		Properties: map[string]*schemas.ResponseSchema{
			"elements": {
				Type: schemas.SchemaArray,
				Items: &schemas.ResponseSchema{
					Type: schemas.SchemaObject,
					Properties: map[string]*schemas.ResponseSchema{
						"element_id":  {Type: schemas.SchemaInteger},
						"description": {Type: schemas.SchemaString},
						"method":      {Type: schemas.SchemaString, Enum: interactionMethods},
						"arguments":   {Type: schemas.SchemaArray, Items: &schemas.ResponseSchema{Type: schemas.SchemaString}},
					},
					Required: []string{"element_id", "description", "method", "arguments"},
				},
			},
		},
		Required: []string{"elements"},
	}
}

func extractSchema() *schemas.ResponseSchema {
	return &schemas.ResponseSchema{
		Name: "extraction",
		Type: schemas.SchemaObject,
		Properties: map[string]*schemas.ResponseSchema{
			"extraction": {Type: schemas.SchemaString},
		},
		Required: []string{"extraction"},
	}
}
