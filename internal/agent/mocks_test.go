package agent

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/director/api/schemas"
	"github.com/xkilldash9x/director/internal/config"
)

// -- LLM Client Mock --

type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// -- Backend Mock --

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Navigate(ctx context.Context, sessionID, url string) error {
	return m.Called(ctx, sessionID, url).Error(0)
}

func (m *MockBackend) Act(ctx context.Context, sessionID, instruction string) error {
	return m.Called(ctx, sessionID, instruction).Error(0)
}

func (m *MockBackend) Extract(ctx context.Context, sessionID, instruction string) (string, error) {
	args := m.Called(ctx, sessionID, instruction)
	return args.String(0), args.Error(1)
}

func (m *MockBackend) Observe(ctx context.Context, sessionID, instruction string) ([]schemas.ObserveResult, error) {
	args := m.Called(ctx, sessionID, instruction)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]schemas.ObserveResult), args.Error(1)
}

func (m *MockBackend) Screenshot(ctx context.Context, sessionID string) ([]byte, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBackend) Back(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

func (m *MockBackend) CurrentURL(ctx context.Context, sessionID string) (string, error) {
	args := m.Called(ctx, sessionID)
	return args.String(0), args.Error(1)
}

// -- Session Closer Mock --

type MockCloser struct {
	mock.Mock
}

func (m *MockCloser) EndSession(ctx context.Context, sessionID string) error {
	return m.Called(ctx, sessionID).Error(0)
}

// -- Decider / Selector Mocks --

type MockDecider struct {
	mock.Mock
}

func (m *MockDecider) Decide(ctx context.Context, req DecisionRequest) (schemas.Step, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(schemas.Step), args.Error(1)
}

type MockSelector struct {
	mock.Mock
}

func (m *MockSelector) SelectStart(ctx context.Context, goal string) (schemas.StartingPoint, error) {
	args := m.Called(ctx, goal)
	return args.Get(0).(schemas.StartingPoint), args.Error(1)
}

// -- Recording Sink --

// recordingSink stores every event it receives.
type recordingSink struct {
	mu     sync.Mutex
	events []schemas.Event
	err    error
}

func (s *recordingSink) Send(_ context.Context, e schemas.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) steps() []schemas.Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []schemas.Step
	for _, e := range s.events {
		if step, ok := e.Data.(schemas.Step); ok {
			out = append(out, step)
		}
	}
	return out
}

// -- Helpers --

func observedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func testAgentConfig() config.AgentConfig {
	cfg := config.NewDefaultConfig().Agent()
	cfg.ActionTimeout = 200 * time.Millisecond
	cfg.NavigationTimeout = time.Second
	cfg.URLProbeTimeout = 100 * time.Millisecond
	cfg.DecisionTimeout = time.Second
	return cfg
}

// blockUntilDone simulates a backend call that never completes on its own.
func blockUntilDone(args mock.Arguments) {
	ctx := args.Get(0).(context.Context)
	<-ctx.Done()
}
