// File: cmd/main_test.go
package cmd

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/xkilldash9x/director/api/schemas"
	"github.com/xkilldash9x/director/internal/agent"
	"github.com/xkilldash9x/director/internal/browserbase"
	"github.com/xkilldash9x/director/internal/config"
	"github.com/xkilldash9x/director/internal/observability"
	"github.com/xkilldash9x/director/internal/service"
	"github.com/xkilldash9x/director/internal/session"
	"github.com/xkilldash9x/director/internal/store"
)

// executeCommand runs a fresh command tree and captures its output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

// -- Fake remote browser provider --

type fakeBrowserbase struct {
	mu       sync.Mutex
	released []string
}

func (f *fakeBrowserbase) DefaultSessionParams(contextID string) browserbase.CreateSessionParams {
	return browserbase.CreateSessionParams{ContextID: contextID}
}

func (f *fakeBrowserbase) CreateSession(context.Context, browserbase.CreateSessionParams) (*browserbase.Session, error) {
	return &browserbase.Session{ID: "sess-1", ConnectURL: "wss://connect.example/sess-1"}, nil
}

func (f *fakeBrowserbase) ReleaseSession(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, id)
	return nil
}

func (f *fakeBrowserbase) Debug(context.Context, string) (*browserbase.DebugInfo, error) {
	return &browserbase.DebugInfo{DebuggerFullscreenURL: "https://live.example/sess-1"}, nil
}

func (f *fakeBrowserbase) CreateContext(context.Context) (*browserbase.Context, error) {
	return &browserbase.Context{ID: "ctx-1"}, nil
}

func (f *fakeBrowserbase) releasedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.released...)
}

// -- Fake agent collaborators --

type fixedSelector struct{}

func (fixedSelector) SelectStart(context.Context, string) (schemas.StartingPoint, error) {
	return schemas.StartingPoint{URL: "https://www.google.com", Reasoning: "search first"}, nil
}

type closingDecider struct{}

func (closingDecider) Decide(context.Context, agent.DecisionRequest) (schemas.Step, error) {
	return schemas.Step{Text: "Done", Reasoning: "goal reached", Tool: schemas.ToolClose}, nil
}

type nopExecutor struct{}

func (nopExecutor) Execute(_ context.Context, _ string, tool schemas.ToolKind, _ string) (agent.Result, error) {
	return agent.Result{Tool: tool}, nil
}

func (nopExecutor) Screenshot(context.Context, string) ([]byte, error) { return nil, nil }

// fakeFactory assembles real session and loop components over the fakes.
type fakeFactory struct {
	bb  *fakeBrowserbase
	cfg config.Interface
}

func (f *fakeFactory) Create(_ context.Context, cfg config.Interface, logger *zap.Logger) (*service.Components, error) {
	f.cfg = cfg
	sessions := session.NewManager(logger, f.bb, store.NewMemoryStore(), nil)
	return &service.Components{
		Sessions: sessions,
		Runner:   agent.NewRunner(logger, fixedSelector{}, closingDecider{}, nopExecutor{}, sessions, cfg.Agent(), nil),
	}, nil
}

// useFakeFactory swaps the production factory for the test's lifetime.
func useFakeFactory(t *testing.T) *fakeFactory {
	t.Helper()
	f := &fakeFactory{bb: &fakeBrowserbase{}}
	original := newFactory
	newFactory = func(*observability.Metrics) service.ComponentFactory { return f }
	t.Cleanup(func() { newFactory = original })
	return f
}

type fakeSessionClient struct {
	created session.CreateSessionRequest
	ended   string
}

func (f *fakeSessionClient) CreateSession(_ context.Context, req session.CreateSessionRequest) (session.SessionInfo, error) {
	f.created = req
	return session.SessionInfo{SessionID: "sess-9", ContextID: "ctx-9", SessionURL: "https://live.example/sess-9"}, nil
}

func (f *fakeSessionClient) EndSession(_ context.Context, id string) error {
	f.ended = id
	return nil
}

func (f *fakeSessionClient) DebugURL(_ context.Context, id string) (string, error) {
	return "https://debug.example/" + id, nil
}

func useFakeSessionClient(t *testing.T) *fakeSessionClient {
	t.Helper()
	c := &fakeSessionClient{}
	original := newSessionClient
	newSessionClient = func(context.Context, config.Interface, *zap.Logger) (sessionClient, func(), error) {
		return c, func() {}, nil
	}
	t.Cleanup(func() { newSessionClient = original })
	return c
}
