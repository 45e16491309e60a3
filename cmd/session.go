// File: cmd/session.go
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/director/internal/browserbase"
	"github.com/xkilldash9x/director/internal/config"
	"github.com/xkilldash9x/director/internal/observability"
	"github.com/xkilldash9x/director/internal/service"
	"github.com/xkilldash9x/director/internal/session"
)

// sessionClient is what the session subcommands need.
type sessionClient interface {
	CreateSession(ctx context.Context, req session.CreateSessionRequest) (session.SessionInfo, error)
	EndSession(ctx context.Context, sessionID string) error
	DebugURL(ctx context.Context, sessionID string) (string, error)
}

// newSessionClient builds a session manager without the model stack. Tests
// replace it.
var newSessionClient = func(ctx context.Context, cfg config.Interface, logger *zap.Logger) (sessionClient, func(), error) {
	repo, pool, err := service.InitializeRepository(ctx, cfg.Database(), logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if pool != nil {
			pool.Close()
		}
	}
	bb, err := browserbase.NewClient(cfg.Browserbase(), logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to initialize browserbase client: %w", err)
	}
	return session.NewManager(logger, bb, repo, nil), cleanup, nil
}

// newSessionCmd groups manual session management.
func newSessionCmd() *cobra.Command {
	sessionCmd := &cobra.Command{
		Use:   "session",
		Short: "Creates, inspects and releases remote browser sessions",
	}
	sessionCmd.AddCommand(newSessionCreateCmd())
	sessionCmd.AddCommand(newSessionEndCmd())
	sessionCmd.AddCommand(newSessionDebugURLCmd())
	return sessionCmd
}

func newSessionCreateCmd() *cobra.Command {
	var req session.CreateSessionRequest
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Creates a keep-alive session and prints its ids and live view URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionClient(cmd, func(ctx context.Context, c sessionClient) error {
				info, err := c.CreateSession(ctx, req)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "session:   %s\n", info.SessionID)
				fmt.Fprintf(out, "context:   %s\n", info.ContextID)
				fmt.Fprintf(out, "live view: %s\n", info.SessionURL)
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&req.ConversationID, "conversation-id", "", "Reuse or store the browser context for this conversation")
	createCmd.Flags().StringVar(&req.ContextID, "context-id", "", "Reuse an explicit browser context")
	return createCmd
}

func newSessionEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end <session-id>",
		Short: "Releases a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionClient(cmd, func(ctx context.Context, c sessionClient) error {
				if err := c.EndSession(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", args[0])
				return nil
			})
		},
	}
}

func newSessionDebugURLCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "debug-url <session-id>",
		Short: "Prints the live view URL of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSessionClient(cmd, func(ctx context.Context, c sessionClient) error {
				url, err := c.DebugURL(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), url)
				return nil
			})
		},
	}
}

func withSessionClient(cmd *cobra.Command, fn func(context.Context, sessionClient) error) error {
	ctx := cmd.Context()
	cfg, err := configFromContext(ctx)
	if err != nil {
		return err
	}
	c, cleanup, err := newSessionClient(ctx, cfg, observability.GetLogger())
	if err != nil {
		return err
	}
	defer cleanup()
	return fn(ctx, c)
}
