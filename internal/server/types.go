// File: internal/server/types.go
package server

import (
	"github.com/xkilldash9x/director/api/schemas"
)

// AgentAction selects one phase of the stepwise agent API.
type AgentAction string

const (
	ActionStart       AgentAction = "START"
	ActionNextStep    AgentAction = "GET_NEXT_STEP"
	ActionExecuteStep AgentAction = "EXECUTE_STEP"
)

// AgentRequest is the body of POST /api/v1/agent. The client owns the history.
type AgentRequest struct {
	Action        AgentAction         `json:"action" validate:"required,oneof=START GET_NEXT_STEP EXECUTE_STEP"`
	Goal          string              `json:"goal" validate:"required_unless=Action EXECUTE_STEP"`
	SessionID     string              `json:"sessionId" validate:"required"`
	PreviousSteps []schemas.Step      `json:"previousSteps,omitempty"`
	Step          *schemas.Step       `json:"step,omitempty" validate:"required_if=Action EXECUTE_STEP"`
	Extraction    *schemas.Extraction `json:"extraction,omitempty"`
}

// AgentResponse mirrors the stepwise contract: result is the step just decided
// or executed, steps the full history so far.
type AgentResponse struct {
	Success    bool                `json:"success"`
	Result     *schemas.Step       `json:"result,omitempty"`
	Steps      []schemas.Step      `json:"steps,omitempty"`
	Done       bool                `json:"done"`
	Extraction *schemas.Extraction `json:"extraction,omitempty"`
}

// SessionRequest is the body of POST /api/v1/sessions. Both fields are optional.
type SessionRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	ContextID      string `json:"contextId,omitempty"`
}

type debugURLResponse struct {
	SessionID string `json:"sessionId"`
	DebugURL  string `json:"debugUrl"`
}

type statusResponse struct {
	Success bool `json:"success"`
}

// errorResponse is the body of every non-2xx JSON response.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}
