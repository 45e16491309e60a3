package agent

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// errDeadline is returned by runWithAdvisoryTimeout when the deadline wins the race.
var errDeadline = errors.New("advisory deadline exceeded")

// panicError carries a value recovered from a backend call.
type panicError struct {
	value interface{}
}

func (p *panicError) Error() string { return fmt.Sprintf("panic in backend call: %v", p.value) }

// runWithAdvisoryTimeout races op against timeout. The derived context is handed
// to op so backends that honour cancellation stop work, but the caller returns as
// soon as the deadline passes whether or not op has. A zero timeout disables the
// deadline; op still runs on its own goroutine so a panic is converted to an error.
func runWithAdvisoryTimeout[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	opCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		opCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	// Buffered so an abandoned op never blocks on send.
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &panicError{value: r}}
			}
		}()
		v, err := op(opCtx)
		done <- outcome{val: v, err: err}
	}()

	var zero T
	select {
	case out := <-done:
		// A failure caused by our own deadline is still a timeout.
		if out.err != nil && ctx.Err() == nil && errors.Is(opCtx.Err(), context.DeadlineExceeded) {
			return zero, errDeadline
		}
		return out.val, out.err
	case <-opCtx.Done():
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		return zero, errDeadline
	}
}
