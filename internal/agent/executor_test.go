package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/director/api/schemas"
	"github.com/xkilldash9x/director/internal/observability"
)

type executorFixture struct {
	exec    *Executor
	backend *MockBackend
	closer  *MockCloser
	metrics *observability.Metrics
}

func newExecutorFixture(t *testing.T) executorFixture {
	t.Helper()
	backend := new(MockBackend)
	closer := new(MockCloser)
	metrics := observability.NewMetrics()
	exec := NewExecutor(zap.NewNop(), backend, closer, testAgentConfig(), metrics)
	t.Cleanup(func() {
		backend.AssertExpectations(t)
		closer.AssertExpectations(t)
	})
	return executorFixture{exec: exec, backend: backend, closer: closer, metrics: metrics}
}

func TestExecutor_Success(t *testing.T) {
	ctx := context.Background()

	t.Run("GOTO navigates", func(t *testing.T) {
		f := newExecutorFixture(t)
		f.backend.On("Navigate", mock.Anything, "sess", "https://example.com").Return(nil).Once()

		res, err := f.exec.Execute(ctx, "sess", schemas.ToolGoto, "https://example.com")
		require.NoError(t, err)
		assert.Equal(t, schemas.ToolGoto, res.Tool)
		assert.Nil(t, res.Extraction)
		f.closer.AssertNotCalled(t, "EndSession", mock.Anything, mock.Anything)
	})

	t.Run("EXTRACT returns text", func(t *testing.T) {
		f := newExecutorFixture(t)
		f.backend.On("Extract", mock.Anything, "sess", "the headline").Return("Paris", nil).Once()

		res, err := f.exec.Execute(ctx, "sess", schemas.ToolExtract, "the headline")
		require.NoError(t, err)
		require.NotNil(t, res.Extraction)
		assert.Equal(t, schemas.ExtractionFromExtract, res.Extraction.Kind)
		assert.Equal(t, "Paris", res.Extraction.Text)
	})

	t.Run("OBSERVE returns descriptors", func(t *testing.T) {
		f := newExecutorFixture(t)
		obs := []schemas.ObserveResult{{Selector: "xpath=/html/body/a", Description: "link"}}
		f.backend.On("Observe", mock.Anything, "sess", "links").Return(obs, nil).Once()

		res, err := f.exec.Execute(ctx, "sess", schemas.ToolObserve, "links")
		require.NoError(t, err)
		require.NotNil(t, res.Extraction)
		assert.Equal(t, schemas.ExtractionFromObserve, res.Extraction.Kind)
		assert.Equal(t, obs, res.Extraction.Observations)
	})

	t.Run("NAVBACK goes back", func(t *testing.T) {
		f := newExecutorFixture(t)
		f.backend.On("Back", mock.Anything, "sess").Return(nil).Once()
		_, err := f.exec.Execute(ctx, "sess", schemas.ToolNavBack, "")
		require.NoError(t, err)
	})

	t.Run("WAIT sleeps without touching the backend", func(t *testing.T) {
		f := newExecutorFixture(t)
		start := time.Now()
		_, err := f.exec.Execute(ctx, "sess", schemas.ToolWait, "20")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("CLOSE releases the session", func(t *testing.T) {
		f := newExecutorFixture(t)
		f.closer.On("EndSession", mock.Anything, "sess").Return(nil).Once()
		res, err := f.exec.Execute(ctx, "sess", schemas.ToolClose, "")
		require.NoError(t, err)
		assert.True(t, res.Closed)
	})
}

func TestExecutor_TimeoutClosesSession(t *testing.T) {
	f := newExecutorFixture(t)
	f.backend.On("Act", mock.Anything, "sess", "click the button").
		Run(blockUntilDone).
		Return(context.DeadlineExceeded).Once()
	f.closer.On("EndSession", mock.Anything, "sess").Return(nil).Once()

	start := time.Now()
	_, err := f.exec.Execute(context.Background(), "sess", schemas.ToolAct, "click the button")
	require.Error(t, err)

	var timeoutErr *ActionTimeoutError
	require.True(t, errors.As(err, &timeoutErr), "expected ActionTimeoutError, got %T", err)
	assert.Equal(t, schemas.ToolAct, timeoutErr.Tool)
	assert.Equal(t, 200*time.Millisecond, timeoutErr.Timeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, ErrCodeTimeoutError, CodeOf(err))
	f.closer.AssertNumberOfCalls(t, "EndSession", 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ActionFailures.WithLabelValues("ACT", "TIMEOUT_ERROR")))
}

func TestExecutor_NavigationUsesLongerDeadline(t *testing.T) {
	f := newExecutorFixture(t)
	// Slower than the action deadline, faster than the navigation deadline.
	f.backend.On("Navigate", mock.Anything, "sess", "https://slow.example").
		Run(func(mock.Arguments) { time.Sleep(300 * time.Millisecond) }).
		Return(nil).Once()

	_, err := f.exec.Execute(context.Background(), "sess", schemas.ToolGoto, "https://slow.example")
	require.NoError(t, err)
}

func TestExecutor_BackendErrorClosesSession(t *testing.T) {
	f := newExecutorFixture(t)
	boom := errors.New("element not found")
	f.backend.On("Act", mock.Anything, "sess", "click").Return(boom).Once()
	f.closer.On("EndSession", mock.Anything, "sess").Return(nil).Once()

	_, err := f.exec.Execute(context.Background(), "sess", schemas.ToolAct, "click")
	var execErr *ActionExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, ErrCodeExecutionFailure, execErr.Code)
	assert.ErrorIs(t, err, boom)
}

func TestExecutor_FailedCloseIsNotEscalated(t *testing.T) {
	backend := new(MockBackend)
	closer := new(MockCloser)
	logger, logs := observedLogger()
	exec := NewExecutor(logger, backend, closer, testAgentConfig(), nil)

	boom := errors.New("navigation refused")
	backend.On("Navigate", mock.Anything, "sess", "https://x.example").Return(boom).Once()
	closer.On("EndSession", mock.Anything, "sess").Return(errors.New("release failed")).Once()

	_, err := exec.Execute(context.Background(), "sess", schemas.ToolGoto, "https://x.example")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom, "the original failure is returned, not the close failure")
	assert.Equal(t, ErrCodeNavigationError, CodeOf(err))
	assert.Equal(t, 1, logs.FilterMessage("Failed to close session after action failure").Len())
}

func TestExecutor_CloseAttemptedEvenWhenCallerCancelled(t *testing.T) {
	f := newExecutorFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.backend.On("Extract", mock.Anything, "sess", "price").
		Run(func(mock.Arguments) { cancel() }).
		Return("", context.Canceled).Once()
	f.closer.On("EndSession", mock.MatchedBy(func(c context.Context) bool { return c.Err() == nil }), "sess").
		Return(nil).Once()

	_, err := f.exec.Execute(ctx, "sess", schemas.ToolExtract, "price")
	require.Error(t, err)
	assert.Equal(t, ErrCodeCancelled, CodeOf(err))
}

func TestExecutor_InvalidInput(t *testing.T) {
	testCases := []struct {
		name        string
		tool        schemas.ToolKind
		instruction string
		code        ErrorCode
	}{
		{"WAIT with text", schemas.ToolWait, "soon", ErrCodeInvalidParameters},
		{"WAIT negative", schemas.ToolWait, "-5", ErrCodeInvalidParameters},
		{"GOTO without URL", schemas.ToolGoto, "  ", ErrCodeInvalidParameters},
		{"unknown tool", schemas.ToolKind("SCROLL"), "down", ErrCodeUnknownAction},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newExecutorFixture(t)
			f.closer.On("EndSession", mock.Anything, "sess").Return(nil).Once()

			_, err := f.exec.Execute(context.Background(), "sess", tc.tool, tc.instruction)
			require.Error(t, err)
			assert.Equal(t, tc.code, CodeOf(err))
		})
	}
}

func TestExecutor_FailedCloseToolDoesNotCloseAgain(t *testing.T) {
	f := newExecutorFixture(t)
	f.closer.On("EndSession", mock.Anything, "sess").Return(errors.New("gone")).Once()

	_, err := f.exec.Execute(context.Background(), "sess", schemas.ToolClose, "")
	require.Error(t, err)
	f.closer.AssertNumberOfCalls(t, "EndSession", 1)
}

func TestExecutor_PanicIsRecovered(t *testing.T) {
	f := newExecutorFixture(t)
	f.backend.On("Back", mock.Anything, "sess").Run(func(mock.Arguments) { panic("cdp exploded") }).Return(nil).Once()
	f.closer.On("EndSession", mock.Anything, "sess").Return(nil).Once()

	_, err := f.exec.Execute(context.Background(), "sess", schemas.ToolNavBack, "")
	require.Error(t, err)
	assert.Equal(t, ErrCodeExecutorPanic, CodeOf(err))
}

func TestExecutor_Screenshot(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		f := newExecutorFixture(t)
		f.backend.On("Screenshot", mock.Anything, "sess").Return([]byte{0x89, 'P', 'N', 'G'}, nil).Once()
		img, err := f.exec.Screenshot(context.Background(), "sess")
		require.NoError(t, err)
		assert.Len(t, img, 4)
	})

	t.Run("failure closes the session", func(t *testing.T) {
		f := newExecutorFixture(t)
		f.backend.On("Screenshot", mock.Anything, "sess").Return(nil, errors.New("target detached")).Once()
		f.closer.On("EndSession", mock.Anything, "sess").Return(nil).Once()
		_, err := f.exec.Screenshot(context.Background(), "sess")
		require.Error(t, err)
	})
}

func TestRunWithAdvisoryTimeout(t *testing.T) {
	t.Run("zero timeout runs inline", func(t *testing.T) {
		v, err := runWithAdvisoryTimeout(context.Background(), 0, func(context.Context) (int, error) { return 7, nil })
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	})

	t.Run("parent cancellation wins over the deadline", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := runWithAdvisoryTimeout(ctx, time.Minute, func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("deadline returns errDeadline", func(t *testing.T) {
		_, err := runWithAdvisoryTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
			<-ctx.Done()
			return 0, ctx.Err()
		})
		assert.ErrorIs(t, err, errDeadline)
	})
}
