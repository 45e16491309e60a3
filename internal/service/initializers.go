// File: internal/service/initializers.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/director/api/schemas"
	"github.com/xkilldash9x/director/internal/config"
	"github.com/xkilldash9x/director/internal/llmclient"
	"github.com/xkilldash9x/director/internal/store"
)

const persistTimeout = 10 * time.Second

// InitializeRepository connects to PostgreSQL, or falls back to an in-memory
// store when no database URL is configured. The returned pool is nil for the
// in-memory store.
func InitializeRepository(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (store.Repository, *pgxpool.Pool, error) {
	if cfg.URL == "" {
		logger.Warn("No database configured; browser contexts are kept in memory and lost on exit.")
		return store.NewMemoryStore(), nil, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 1 * time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to create PGX connection pool: %w", err)
	}

	repo, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize database store: %w", err)
	}
	logger.Info("PostgreSQL store initialized.", zap.String("host", poolConfig.ConnConfig.Host))
	return repo, pool, nil
}

// InitializeLLMClient builds the tiered model router from the routing table.
func InitializeLLMClient(ctx context.Context, cfg config.LLMRouterConfig, logger *zap.Logger) (schemas.LLMClient, error) {
	router, err := llmclient.NewRouterFromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize LLM client.", zap.Error(err))
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	return router, nil
}

// StartRunRecorder launches a goroutine that persists queued run summaries. It
// exits once records is closed and drained, or ctx is cancelled.
func StartRunRecorder(ctx context.Context, wg *sync.WaitGroup, records <-chan store.RunRecord, recorder store.RunRecorder, logger *zap.Logger) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Debug("Run recorder started.")
		defer logger.Debug("Run recorder stopped.")

		persist := func(rec store.RunRecord) {
			// Detached from ctx so records queued during shutdown still land.
			persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			if err := recorder.RecordRun(persistCtx, rec); err != nil {
				logger.Error("Failed to persist run record.", zap.String("run_id", rec.RunID), zap.Error(err))
			}
		}

		for {
			select {
			case rec, ok := <-records:
				if !ok {
					return
				}
				persist(rec)
			case <-ctx.Done():
				logger.Warn("Run recorder context cancelled, draining queued records.")
				for _, rec := range drainChannel(records) {
					persist(rec)
				}
				return
			}
		}
	}()
}

// drainChannel reads whatever is buffered in records without blocking.
func drainChannel(records <-chan store.RunRecord) []store.RunRecord {
	var out []store.RunRecord
	for {
		select {
		case rec, ok := <-records:
			if !ok {
				return out
			}
			out = append(out, rec)
		default:
			return out
		}
	}
}
