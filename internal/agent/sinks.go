package agent

import (
	"context"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/director/api/schemas"
)

// ChannelSink forwards events to a channel. Send blocks until the event is
// received or ctx is done.
type ChannelSink struct {
	ch chan<- schemas.Event
}

func NewChannelSink(ch chan<- schemas.Event) *ChannelSink {
	return &ChannelSink{ch: ch}
}

func (s *ChannelSink) Send(ctx context.Context, event schemas.Event) error {
	select {
	case s.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsoleSink prints a human-readable line per event.
type ConsoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewConsoleSink(out io.Writer) *ConsoleSink {
	return &ConsoleSink{out: out}
}

func (s *ConsoleSink) Send(_ context.Context, event schemas.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch data := event.Data.(type) {
	case schemas.Step:
		_, err = fmt.Fprintf(s.out, "[%2d] %-7s %s\n     reasoning: %s\n", data.StepNumber, data.Tool, data.Text, data.Reasoning)
		if err == nil && data.Instruction != "" {
			_, err = fmt.Fprintf(s.out, "     instruction: %s\n", data.Instruction)
		}
	case schemas.SessionStarted:
		_, err = fmt.Fprintf(s.out, "session %s\n     live view: %s\n", data.SessionID, data.SessionURL)
	case schemas.RunSummary:
		_, err = fmt.Fprintf(s.out, "finished: %s after %d steps\n", data.Termination, data.Steps)
	case schemas.RunFailure:
		_, err = fmt.Fprintf(s.out, "failed [%s]: %s\n", data.Code, data.Message)
	default:
		_, err = fmt.Fprintf(s.out, "%s: %v\n", event.Type, event.Data)
	}
	return err
}

// LogSink writes each event to a structured logger.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("stream")}
}

func (s *LogSink) Send(_ context.Context, event schemas.Event) error {
	s.logger.Info("Event", zap.String("type", string(event.Type)), zap.Any("data", event.Data))
	return nil
}

// MultiSink fans events out to several sinks in order. The first error stops delivery.
type MultiSink []Sink

func (m MultiSink) Send(ctx context.Context, event schemas.Event) error {
	for _, s := range m {
		if err := s.Send(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
