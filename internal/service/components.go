// File: internal/service/components.go
package service

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/director/api/schemas"
	"github.com/xkilldash9x/director/internal/agent"
	"github.com/xkilldash9x/director/internal/browser"
	"github.com/xkilldash9x/director/internal/browserbase"
	"github.com/xkilldash9x/director/internal/observability"
	"github.com/xkilldash9x/director/internal/session"
	"github.com/xkilldash9x/director/internal/store"
)

const recorderDrainTimeout = 10 * time.Second

// Components holds every initialized service a command or the HTTP server needs.
// It centralizes their lifecycle.
type Components struct {
	Metrics     *observability.Metrics
	LLM         schemas.LLMClient
	Browserbase *browserbase.Client
	Driver      *browser.Driver
	Sessions    *session.Manager
	Repository  store.Repository
	Runner      *agent.Runner
	Stepper     *agent.Stepper
	DBPool      *pgxpool.Pool

	logger *zap.Logger

	// records decouples run bookkeeping from the request that produced it.
	records    chan store.RunRecord
	recorderWG *sync.WaitGroup
	recordMu   sync.RWMutex
	closed     bool
	closeOnce  sync.Once
}

// RecordRun queues a run summary for persistence. It never blocks; when the
// queue is full the record is dropped with a warning.
func (c *Components) RecordRun(_ context.Context, rec store.RunRecord) error {
	c.recordMu.RLock()
	defer c.recordMu.RUnlock()
	if c.records == nil || c.closed {
		return nil
	}
	select {
	case c.records <- rec:
	default:
		c.logger.Warn("Run record queue full, dropping record.", zap.String("run_id", rec.RunID))
	}
	return nil
}

// Shutdown releases everything in reverse order of creation. It is safe to call
// on partially initialized components and more than once.
func (c *Components) Shutdown() {
	c.closeOnce.Do(c.shutdown)
}

func (c *Components) shutdown() {
	logger := c.logger
	if logger == nil {
		logger = observability.GetLogger()
	}
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Stop the run recorder after it drains.
	c.recordMu.Lock()
	c.closed = true
	if c.records != nil {
		close(c.records)
	}
	c.recordMu.Unlock()
	if c.records != nil {
		if c.recorderWG != nil && !timedWait(c.recorderWG, recorderDrainTimeout) {
			logger.Warn("Run recorder did not drain before the deadline.")
		}
	}

	// 2. Drop CDP connections. Remote sessions are owned by their runs.
	if c.Driver != nil {
		if err := c.Driver.Close(); err != nil {
			logger.Warn("Error closing browser driver.", zap.Error(err))
		}
	}

	// 3. Model clients.
	if c.LLM != nil {
		if err := c.LLM.Close(); err != nil {
			logger.Warn("Error closing LLM client.", zap.Error(err))
		}
	}

	// 4. Database pool, if this process opened one.
	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down.")
}

// timedWait waits for wg up to timeout and reports whether it finished.
func timedWait(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
