package agent

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/director/api/schemas"
)

func TestStepper(t *testing.T) {
	ctx := context.Background()
	exec := &fakeExecutor{results: map[schemas.ToolKind]Result{
		schemas.ToolObserve: {Extraction: &schemas.Extraction{Kind: schemas.ExtractionFromObserve, Observations: []schemas.ObserveResult{{Selector: "#a"}}}},
		schemas.ToolClose:   {Closed: true},
	}}
	dec := &scriptedDecider{script: []schemas.Step{
		{Text: "Look", Tool: schemas.ToolObserve, Instruction: "links"},
		{Text: "Done", Tool: schemas.ToolClose},
	}}
	s := NewStepper(zap.NewNop(), staticSelector("https://example.com"), dec, exec)

	start, err := s.Start(ctx, "g", "sess")
	require.NoError(t, err)
	assert.Equal(t, 1, start.Step.StepNumber)
	assert.Equal(t, schemas.ToolGoto, start.Step.Tool)
	assert.Len(t, start.Steps, 1)
	assert.False(t, start.Done)

	next, err := s.NextStep(ctx, "g", "sess", start.Steps, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, next.Step.StepNumber)
	assert.Len(t, next.Steps, 2)
	assert.False(t, next.Done)

	out, err := s.ExecuteStep(ctx, "sess", next.Step)
	require.NoError(t, err)
	require.NotNil(t, out.Extraction)
	assert.Equal(t, "#a", out.Extraction.Observations[0].Selector)

	final, err := s.NextStep(ctx, "g", "sess", next.Steps, out.Extraction)
	require.NoError(t, err)
	assert.True(t, final.Done)
	assert.Equal(t, 3, final.Step.StepNumber)
	require.NotNil(t, dec.requests[1].LastExtraction)

	closed, err := s.ExecuteStep(ctx, "sess", final.Step)
	require.NoError(t, err)
	assert.True(t, closed.Done)

	assert.Equal(t, []schemas.ToolKind{schemas.ToolGoto, schemas.ToolObserve, schemas.ToolClose}, exec.executed)
}

func TestStepper_Errors(t *testing.T) {
	boom := errors.New("decider down")
	s := NewStepper(zap.NewNop(), staticSelector("https://example.com"), &scriptedDecider{err: boom}, &fakeExecutor{})
	_, err := s.NextStep(context.Background(), "g", "sess", nil, nil)
	assert.ErrorIs(t, err, boom)

	exec := &fakeExecutor{failOn: schemas.ToolGoto, failErr: errors.New("nav failed")}
	s = NewStepper(zap.NewNop(), staticSelector("https://example.com"), &scriptedDecider{}, exec)
	_, err = s.Start(context.Background(), "g", "sess")
	assert.Error(t, err)
}

func TestStepper_DoneFollowsSessionRelease(t *testing.T) {
	exec := &fakeExecutor{results: map[schemas.ToolKind]Result{
		schemas.ToolClose: {Tool: schemas.ToolClose},
		schemas.ToolAct:   {Tool: schemas.ToolAct},
	}}
	s := NewStepper(zap.NewNop(), staticSelector("https://example.com"), &scriptedDecider{}, exec)

	out, err := s.ExecuteStep(context.Background(), "sess", schemas.Step{Tool: schemas.ToolAct, Instruction: "click"})
	require.NoError(t, err)
	assert.False(t, out.Done)

	out, err = s.ExecuteStep(context.Background(), "sess", schemas.Step{Tool: schemas.ToolClose})
	require.NoError(t, err)
	assert.False(t, out.Done, "a close the executor did not confirm leaves the session open")
}

func TestSinks(t *testing.T) {
	ctx := context.Background()
	step := schemas.Step{Text: "Navigating to https://a.example", Reasoning: "r", Tool: schemas.ToolGoto, Instruction: "https://a.example", StepNumber: 1}

	t.Run("console", func(t *testing.T) {
		var buf bytes.Buffer
		s := NewConsoleSink(&buf)
		require.NoError(t, s.Send(ctx, schemas.NewStepEvent(step)))
		require.NoError(t, s.Send(ctx, schemas.NewEvent(schemas.EventRunFinished, schemas.RunSummary{Termination: "closed", Steps: 1})))
		assert.Contains(t, buf.String(), "[ 1] GOTO    Navigating to https://a.example")
		assert.Contains(t, buf.String(), "instruction: https://a.example")
		assert.Contains(t, buf.String(), "finished: closed after 1 steps")
	})

	t.Run("channel honours cancellation", func(t *testing.T) {
		ch := make(chan schemas.Event, 1)
		s := NewChannelSink(ch)
		require.NoError(t, s.Send(ctx, schemas.NewStepEvent(step)))

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, s.Send(cctx, schemas.NewStepEvent(step)), context.DeadlineExceeded)
		assert.Equal(t, step, (<-ch).Data)
	})

	t.Run("multi stops at first error", func(t *testing.T) {
		first := &recordingSink{err: errors.New("closed")}
		second := &recordingSink{}
		err := MultiSink{first, second}.Send(ctx, schemas.NewStepEvent(step))
		assert.Error(t, err)
		assert.Empty(t, second.events)
	})

	t.Run("log", func(t *testing.T) {
		logger, logs := observedLogger()
		require.NoError(t, NewLogSink(logger).Send(ctx, schemas.NewStepEvent(step)))
		assert.Equal(t, 1, logs.FilterMessage("Event").Len())
	})
}
