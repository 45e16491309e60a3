// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/director/api/schemas"
	"github.com/xkilldash9x/director/internal/agent"
	"github.com/xkilldash9x/director/internal/config"
	"github.com/xkilldash9x/director/internal/observability"
	"github.com/xkilldash9x/director/internal/orchestrator"
	"github.com/xkilldash9x/director/internal/service"
)

// newFactory builds the component factory. Tests replace it.
var newFactory = func(metrics *observability.Metrics) service.ComponentFactory {
	return service.NewComponentFactory(metrics)
}

type runOptions struct {
	maxSteps       int
	actionTimeout  time.Duration
	conversationID string
	contextID      string
	jsonOutput     bool
}

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Works toward a goal in a fresh remote browser session and streams each step",
		Long: `Creates a remote browser session, prints its live view URL, then lets the
model pick one step at a time until it closes the session or the step budget runs out.
The session is always released when the command ends.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-steps") {
				cfg.SetAgentMaxSteps(opts.maxSteps)
			}
			if cmd.Flags().Changed("action-timeout") {
				cfg.SetAgentActionTimeout(opts.actionTimeout)
			}

			goal := strings.TrimSpace(strings.Join(args, " "))
			return runGoal(cmd.Context(), cmd.OutOrStdout(), cfg, goal, opts)
		},
	}

	runCmd.Flags().IntVar(&opts.maxSteps, "max-steps", 10, "Maximum number of decided steps before the run is closed")
	runCmd.Flags().DurationVar(&opts.actionTimeout, "action-timeout", 30*time.Second, "Deadline for a single browser action")
	runCmd.Flags().StringVar(&opts.conversationID, "conversation-id", "", "Reuse the browser context stored for this conversation")
	runCmd.Flags().StringVar(&opts.contextID, "context-id", "", "Reuse an explicit browser context")
	runCmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print events as newline-delimited JSON")
	return runCmd
}

// runGoal wires the components, runs the goal and tears everything down.
func runGoal(ctx context.Context, out io.Writer, cfg config.Interface, goal string, opts runOptions) error {
	logger := observability.GetLogger()
	if goal == "" {
		return fmt.Errorf("goal must not be empty")
	}

	components, err := newFactory(nil).Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	orch, err := orchestrator.New(logger, components.Sessions, components.Runner, components)
	if err != nil {
		return err
	}

	var sink agent.Sink = agent.NewConsoleSink(out)
	if opts.jsonOutput {
		sink = newJSONLineSink(out)
	}

	result, err := orch.Execute(ctx, orchestrator.RunRequest{
		Goal:           goal,
		ConversationID: opts.conversationID,
		ContextID:      opts.contextID,
	}, sink)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Run aborted", zap.String("run_id", result.RunID))
		}
		return fmt.Errorf("run failed: %w", err)
	}
	logger.Info("Run complete",
		zap.String("run_id", result.RunID),
		zap.String("termination", string(result.Termination)),
		zap.Int("steps", len(result.Steps)))
	return nil
}

// jsonLineSink writes one JSON document per event.
type jsonLineSink struct {
	mu  sync.Mutex
	enc *jsoniter.Encoder
}

func newJSONLineSink(out io.Writer) *jsonLineSink {
	return &jsonLineSink{enc: jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(out)}
}

func (s *jsonLineSink) Send(_ context.Context, event schemas.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(event)
}
