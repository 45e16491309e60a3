// File: internal/service/factory.go
package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/director/api/schemas"
	"github.com/xkilldash9x/director/internal/agent"
	"github.com/xkilldash9x/director/internal/browser"
	"github.com/xkilldash9x/director/internal/browserbase"
	"github.com/xkilldash9x/director/internal/config"
	"github.com/xkilldash9x/director/internal/observability"
	"github.com/xkilldash9x/director/internal/session"
	"github.com/xkilldash9x/director/internal/store"
)

const recordQueueSize = 256

// ComponentFactory creates the set of components needed to run the agent.
// Commands depend on the interface so they can be tested without live services.
type ComponentFactory interface {
	Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error)
}

// concreteFactory is the production implementation of the ComponentFactory.
type concreteFactory struct {
	metrics *observability.Metrics
}

// NewComponentFactory creates a production factory. metrics may be nil.
func NewComponentFactory(metrics *observability.Metrics) ComponentFactory {
	return &concreteFactory{metrics: metrics}
}

// Create handles the dependency injection and initialization of all components.
func (f *concreteFactory) Create(ctx context.Context, cfg config.Interface, logger *zap.Logger) (*Components, error) {
	components := &Components{
		Metrics: f.metrics,
		logger:  logger,
	}

	// Ensure cleanup happens if initialization fails midway.
	var initializationErr error
	defer func() {
		if initializationErr != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(initializationErr))
			components.Shutdown()
		}
	}()

	// 1. Persistence
	repo, pool, err := InitializeRepository(ctx, cfg.Database(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.Repository = repo
	components.DBPool = pool

	// 2. Run recorder
	components.records = make(chan store.RunRecord, recordQueueSize)
	components.recorderWG = &sync.WaitGroup{}
	StartRunRecorder(ctx, components.recorderWG, components.records, repo, logger)

	// 3. Model router
	llm, err := InitializeLLMClient(ctx, cfg.LLM(), logger)
	if err != nil {
		initializationErr = err
		return nil, initializationErr
	}
	components.LLM = llm

	// 4. Remote browser provider
	bb, err := browserbase.NewClient(cfg.Browserbase(), logger)
	if err != nil {
		initializationErr = fmt.Errorf("failed to initialize browserbase client: %w", err)
		return nil, initializationErr
	}
	components.Browserbase = bb

	// 5. Session lifecycle and the CDP driver bound to it.
	components.Sessions = session.NewManager(logger, bb, repo, f.metrics)
	planner := browser.NewPlanner(logger, llm, schemas.TierFast)
	components.Driver = browser.NewDriver(logger, bb, planner, cfg.Browser())
	components.Sessions.OnRelease(components.Driver.Detach)

	// 6. Agent
	agentCfg := cfg.Agent()
	executor := agent.NewExecutor(logger, components.Driver, components.Sessions, agentCfg, f.metrics)
	decider := agent.NewDecisionRequester(logger, llm, executor, components.Driver, agentCfg, f.metrics)
	selector := agent.NewStartingPointSelector(logger, llm, agentCfg)
	components.Runner = agent.NewRunner(logger, selector, decider, executor, components.Sessions, agentCfg, f.metrics)
	components.Stepper = agent.NewStepper(logger, selector, decider, executor)

	logger.Info("All components initialized.")
	return components, nil
}
