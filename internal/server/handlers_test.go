// File: internal/server/handlers_test.go
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/director/api/schemas"
	"github.com/xkilldash9x/director/internal/agent"
	"github.com/xkilldash9x/director/internal/browserbase"
	"github.com/xkilldash9x/director/internal/config"
	"github.com/xkilldash9x/director/internal/session"
)

func doRequest(t *testing.T, f *fixture, method, path, body string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// readEvents parses an SSE body into its event names and raw data lines.
func readEvents(t *testing.T, r io.Reader) (names []string, data []string) {
	t.Helper()
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			names = append(names, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	require.NoError(t, sc.Err())
	return names, data
}

func TestHealthCheck(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	resp := doRequest(t, f, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK", string(body))
}

func TestRunStream(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	resp := doRequest(t, f, http.MethodPost, "/api/v1/runs", `{"goal":"find the weather","conversationId":"conv-9"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	names, data := readEvents(t, resp.Body)
	assert.Equal(t, []string{"browser_session_started", "agent_step", "run_finished"}, names)
	require.Len(t, data, 3)

	var stepEvent struct {
		Type string       `json:"type"`
		Data schemas.Step `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(data[1]), &stepEvent))
	assert.Equal(t, "agent_step", stepEvent.Type)
	assert.Equal(t, schemas.ToolGoto, stepEvent.Data.Tool)
	assert.Equal(t, 1, stepEvent.Data.StepNumber)

	req := f.runs.lastRequest()
	assert.Equal(t, "find the weather", req.Goal)
	assert.Equal(t, "conv-9", req.ConversationID)
}

func TestRunStream_RejectsMissingGoal(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})

	for _, body := range []string{`{}`, `{"goal":`, `[]`} {
		t.Run(body, func(t *testing.T) {
			resp := doRequest(t, f, http.MethodPost, "/api/v1/runs", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			var er errorResponse
			decodeBody(t, resp, &er)
			assert.False(t, er.Success)
			assert.Equal(t, string(agent.ErrCodeInvalidParameters), er.Code)
		})
	}
	assert.Empty(t, f.runs.lastRequest().Goal)
}

func TestSessions(t *testing.T) {
	t.Run("create with empty body", func(t *testing.T) {
		f := newFixture(t, config.ServerConfig{})
		resp := doRequest(t, f, http.MethodPost, "/api/v1/sessions", "")
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var info session.SessionInfo
		decodeBody(t, resp, &info)
		assert.Equal(t, "sess-1", info.SessionID)
		assert.Equal(t, "ctx-1", info.ContextID)
		assert.Empty(t, info.ConnectURL)
	})

	t.Run("create forwards conversation", func(t *testing.T) {
		f := newFixture(t, config.ServerConfig{})
		resp := doRequest(t, f, http.MethodPost, "/api/v1/sessions", `{"conversationId":"c-1"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		require.Len(t, f.sessions.created, 1)
		assert.Equal(t, "c-1", f.sessions.created[0].ConversationID)
	})

	t.Run("delete and stop both release", func(t *testing.T) {
		f := newFixture(t, config.ServerConfig{})
		resp := doRequest(t, f, http.MethodDelete, "/api/v1/sessions/s-1", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		resp = doRequest(t, f, http.MethodPost, "/api/v1/sessions/s-2/stop", "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, []string{"s-1", "s-2"}, f.sessions.endedIDs())
	})

	t.Run("debug url", func(t *testing.T) {
		f := newFixture(t, config.ServerConfig{})
		resp := doRequest(t, f, http.MethodGet, "/api/v1/sessions/s-3/debug", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out debugURLResponse
		decodeBody(t, resp, &out)
		assert.Equal(t, "https://debug.example/s-3", out.DebugURL)
	})

	t.Run("unknown session is 404", func(t *testing.T) {
		f := newFixture(t, config.ServerConfig{})
		f.sessions.debugErr = &session.SessionLifecycleError{
			Op:        "debug",
			SessionID: "gone",
			Err:       &browserbase.APIError{StatusCode: http.StatusNotFound, Method: "GET", Path: "/v1/sessions/gone/debug"},
		}
		resp := doRequest(t, f, http.MethodGet, "/api/v1/sessions/gone/debug", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("provider failure is 502", func(t *testing.T) {
		f := newFixture(t, config.ServerConfig{})
		f.sessions.createErr = &session.SessionLifecycleError{Op: "create", Err: errors.New("quota exceeded")}
		resp := doRequest(t, f, http.MethodPost, "/api/v1/sessions", `{}`)
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		var er errorResponse
		decodeBody(t, resp, &er)
		assert.Equal(t, session.ErrCodeSessionLifecycle, er.Code)
		assert.Contains(t, er.Error, "quota exceeded")
	})
}

func TestAgent_Start(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	resp := doRequest(t, f, http.MethodPost, "/api/v1/agent", `{"action":"START","goal":"g","sessionId":"s-1"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out AgentResponse
	decodeBody(t, resp, &out)
	assert.True(t, out.Success)
	require.NotNil(t, out.Result)
	assert.Equal(t, schemas.ToolGoto, out.Result.Tool)
	assert.Len(t, out.Steps, 1)
	assert.False(t, out.Done)
}

func TestAgent_NextStepPassesHistory(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	body := `{"action":"GET_NEXT_STEP","goal":"g","sessionId":"s-1",
		"previousSteps":[{"text":"a","tool":"GOTO","instruction":"https://x","stepNumber":1},
		                 {"text":"b","tool":"EXTRACT","instruction":"price","stepNumber":2}],
		"extraction":{"kind":"extraction","text":"$5"}}`
	resp := doRequest(t, f, http.MethodPost, "/api/v1/agent", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out AgentResponse
	decodeBody(t, resp, &out)
	require.NotNil(t, out.Result)
	assert.Equal(t, 3, out.Result.StepNumber)
	assert.Len(t, out.Steps, 3)
	assert.True(t, out.Done)

	f.steps.mu.Lock()
	defer f.steps.mu.Unlock()
	assert.Len(t, f.steps.history, 2)
	require.NotNil(t, f.steps.last)
	assert.Equal(t, "$5", f.steps.last.Text)
}

func TestAgent_ExecuteStep(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	resp := doRequest(t, f, http.MethodPost, "/api/v1/agent",
		`{"action":"EXECUTE_STEP","sessionId":"s-1","step":{"text":"read","tool":"EXTRACT","instruction":"answer","stepNumber":2}}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out AgentResponse
	decodeBody(t, resp, &out)
	assert.False(t, out.Done)
	require.NotNil(t, out.Extraction)
	assert.Equal(t, "42", out.Extraction.Text)
}

func TestAgent_Validation(t *testing.T) {
	testCases := map[string]string{
		"unknown action":         `{"action":"JUMP","goal":"g","sessionId":"s"}`,
		"missing session":        `{"action":"START","goal":"g"}`,
		"start without goal":     `{"action":"START","sessionId":"s"}`,
		"execute without step":   `{"action":"EXECUTE_STEP","sessionId":"s"}`,
		"next step without goal": `{"action":"GET_NEXT_STEP","sessionId":"s"}`,
	}
	f := newFixture(t, config.ServerConfig{})
	for name, body := range testCases {
		t.Run(name, func(t *testing.T) {
			resp := doRequest(t, f, http.MethodPost, "/api/v1/agent", body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestAgent_ErrorStatus(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	f.steps.err = &agent.ActionTimeoutError{Tool: schemas.ToolGoto, SessionID: "s-1"}

	resp := doRequest(t, f, http.MethodPost, "/api/v1/agent", `{"action":"START","goal":"g","sessionId":"s-1"}`)
	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
	var er errorResponse
	decodeBody(t, resp, &er)
	assert.Equal(t, string(agent.ErrCodeTimeoutError), er.Code)
}

func TestStatusFor(t *testing.T) {
	testCases := []struct {
		err  error
		want int
	}{
		{&requestError{err: io.ErrUnexpectedEOF}, http.StatusBadRequest},
		{&session.SessionLifecycleError{Op: "end", Err: errors.New("boom")}, http.StatusBadGateway},
		{fmt.Errorf("wrapped: %w", &agent.ActionTimeoutError{}), http.StatusGatewayTimeout},
		{&agent.ActionExecutionError{Code: agent.ErrCodeUnknownAction, Err: errors.New("x")}, http.StatusBadRequest},
		{&agent.ActionExecutionError{Code: agent.ErrCodeNavigationError, Err: errors.New("x")}, http.StatusInternalServerError},
		{&agent.DecisionSchemaError{Err: errors.New("x")}, http.StatusBadGateway},
		{&agent.ModelError{Op: "decide", Err: errors.New("x")}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("anything"), http.StatusInternalServerError},
	}
	for _, tc := range testCases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.want, statusFor(tc.err))
		})
	}
}

func TestMetricsEndpointCountsRequests(t *testing.T) {
	f := newFixture(t, config.ServerConfig{})
	doRequest(t, f, http.MethodPost, "/api/v1/sessions", "")

	resp := doRequest(t, f, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `director_http_requests_total{method="POST",route="/api/v1/sessions",status="201"} 1`)
}
