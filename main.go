// ./main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/director/cmd"
	"github.com/xkilldash9x/director/internal/observability"
)

const panicLogFile = "panic.log"

// main is the entry point for the director CLI.
func main() {
	defer handlePanic()

	// Cancelling on SIGINT/SIGTERM lets a run release its remote session.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cmd.Execute(ctx)
	observability.Sync()
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return
	default:
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// handlePanic flushes the logs and writes the stack to panic.log before
// exiting with a failure code.
func handlePanic() {
	if r := recover(); r != nil {
		observability.Sync()
		msg := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
		if err := os.WriteFile(panicLogFile, []byte(msg), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n%s\n", err, msg)
		} else {
			fmt.Fprintf(os.Stderr, "CRASH DETECTED. Details logged to %s\n", panicLogFile)
		}
		os.Exit(2)
	}
}
