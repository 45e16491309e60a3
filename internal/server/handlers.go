// File: internal/server/handlers.go
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/director/internal/agent"
	"github.com/xkilldash9x/director/internal/browserbase"
	"github.com/xkilldash9x/director/internal/orchestrator"
	"github.com/xkilldash9x/director/internal/session"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

// requestError marks a malformed request body.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return fmt.Sprintf("invalid request body: %v", e.err) }

func (e *requestError) Unwrap() error { return e.err }

func (e *requestError) ErrorCode() string { return string(agent.ErrCodeInvalidParameters) }

// handleHealthCheck confirms the server is responsive.
func (s *Server) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleRunStream runs a goal in a fresh session and streams its events as
// server-sent events. Failures after the stream opened arrive as run_error.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.RunRequest
	if err := s.decode(r, &req, false); err != nil {
		s.respondWithError(w, err)
		return
	}

	ctx, cancel := s.runContext(r.Context())
	defer cancel()

	sink, err := newSSESink(w)
	if err != nil {
		s.respondWithError(w, err)
		return
	}

	s.logger.Info("Run requested", zap.String("conversation_id", req.ConversationID))
	result, err := s.runs.Execute(ctx, req, sink)
	if err != nil {
		s.logger.Warn("Run ended with error", zap.String("run_id", result.RunID), zap.Error(err))
		return
	}
	s.logger.Info("Run finished", zap.String("run_id", result.RunID), zap.String("termination", string(result.Termination)))
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req SessionRequest
	if err := s.decode(r, &req, true); err != nil {
		s.respondWithError(w, err)
		return
	}
	info, err := s.sessions.CreateSession(r.Context(), session.CreateSessionRequest{
		ConversationID: req.ConversationID,
		ContextID:      req.ContextID,
	})
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	s.respondWithSuccess(w, http.StatusCreated, info)
}

// handleEndSession serves both DELETE /sessions/{id} and POST /sessions/{id}/stop.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.sessions.EndSession(r.Context(), id); err != nil {
		s.respondWithError(w, err)
		return
	}
	s.respondWithSuccess(w, http.StatusOK, statusResponse{Success: true})
}

func (s *Server) handleDebugURL(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	url, err := s.sessions.DebugURL(r.Context(), id)
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	s.respondWithSuccess(w, http.StatusOK, debugURLResponse{SessionID: id, DebugURL: url})
}

// handleAgent drives one phase of the stepwise API.
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	var req AgentRequest
	if err := s.decode(r, &req, false); err != nil {
		s.respondWithError(w, err)
		return
	}

	ctx, cancel := s.runContext(r.Context())
	defer cancel()

	s.logger.Debug("Agent action", zap.String("action", string(req.Action)), zap.String("session_id", req.SessionID))

	var (
		out agent.StepOutcome
		err error
	)
	switch req.Action {
	case ActionStart:
		out, err = s.steps.Start(ctx, req.Goal, req.SessionID)
	case ActionNextStep:
		out, err = s.steps.NextStep(ctx, req.Goal, req.SessionID, req.PreviousSteps, req.Extraction)
	case ActionExecuteStep:
		out, err = s.steps.ExecuteStep(ctx, req.SessionID, *req.Step)
	}
	if err != nil {
		s.respondWithError(w, err)
		return
	}

	step := out.Step
	s.respondWithSuccess(w, http.StatusOK, AgentResponse{
		Success:    true,
		Result:     &step,
		Steps:      out.Steps,
		Done:       out.Done,
		Extraction: out.Extraction,
	})
}

// decode reads a JSON body into v and validates it. An empty body is accepted
// only when optional is set.
func (s *Server) decode(r *http.Request, v interface{}, optional bool) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	switch {
	case errors.Is(err, io.EOF) && optional:
	case err != nil:
		return &requestError{err: err}
	}
	if err := s.validate.Struct(v); err != nil {
		return &requestError{err: err}
	}
	return nil
}

// statusFor maps a service error to an HTTP status.
func statusFor(err error) int {
	var (
		reqErr     *requestError
		apiErr     *browserbase.APIError
		lifecycle  *session.SessionLifecycleError
		timeoutErr *agent.ActionTimeoutError
		execErr    *agent.ActionExecutionError
		schemaErr  *agent.DecisionSchemaError
		modelErr   *agent.ModelError
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		return http.StatusNotFound
	case errors.As(err, &lifecycle):
		return http.StatusBadGateway
	case errors.As(err, &timeoutErr):
		return http.StatusGatewayTimeout
	case errors.As(err, &execErr) && (execErr.Code == agent.ErrCodeUnknownAction || execErr.Code == agent.ErrCodeInvalidParameters):
		return http.StatusBadRequest
	case errors.As(err, &schemaErr), errors.As(err, &modelErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondWithError sends a standardized JSON error response.
func (s *Server) respondWithError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, s.logger, status, errorResponse{
		Error: err.Error(),
		Code:  string(agent.CodeOf(err)),
	})
}

// respondWithSuccess sends data as JSON with the given status.
func (s *Server) respondWithSuccess(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, s.logger, status, data)
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}
