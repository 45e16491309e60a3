// File: cmd/serve.go
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/director/internal/config"
	"github.com/xkilldash9x/director/internal/observability"
	"github.com/xkilldash9x/director/internal/orchestrator"
	"github.com/xkilldash9x/director/internal/server"
)

// newServeCmd creates the `serve` command hosting the HTTP API.
func newServeCmd() *cobra.Command {
	var addr string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the streaming run, session and stepwise agent API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFromContext(cmd.Context())
			if err != nil {
				return err
			}
			srvCfg := cfg.Server()
			if addr != "" {
				srvCfg.Address = addr
			}
			return serve(cmd.Context(), cfg, srvCfg)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address, overrides server.address")
	return serveCmd
}

// serve runs until ctx is cancelled by a signal.
func serve(ctx context.Context, cfg config.Interface, srvCfg config.ServerConfig) error {
	logger := observability.GetLogger()
	metrics := observability.NewMetrics()

	components, err := newFactory(metrics).Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize components: %w", err)
	}
	defer components.Shutdown()

	orch, err := orchestrator.New(logger, components.Sessions, components.Runner, components)
	if err != nil {
		return err
	}
	srv, err := server.New(logger, srvCfg, server.Deps{
		Sessions: components.Sessions,
		Runs:     orch,
		Steps:    components.Stepper,
		Metrics:  metrics,
	})
	if err != nil {
		return err
	}

	if srvCfg.JWTSecret == "" {
		logger.Warn("No JWT secret configured; the API accepts unauthenticated requests.")
	}
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Server stopped", zap.String("address", srvCfg.Address))
	return nil
}
