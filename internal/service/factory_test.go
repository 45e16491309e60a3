package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/director/internal/config"
	"github.com/xkilldash9x/director/internal/observability"
	"github.com/xkilldash9x/director/internal/store"
)

func openAIRouting() config.LLMRouterConfig {
	return config.LLMRouterConfig{
		DefaultFastModel:     "local",
		DefaultPowerfulModel: "local",
		Models: map[string]config.LLMModelConfig{
			"local": {Provider: config.ProviderOpenAI, Model: "gpt-4o-mini", APIKey: "test-key", Endpoint: "http://127.0.0.1:1/v1"},
		},
	}
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	logger := zap.NewNop()

	t.Run("Wires every component", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.LLMCfg = openAIRouting()
		cfg.BrowserbaseCfg.APIKey = "bb-key"
		cfg.BrowserbaseCfg.ProjectID = "proj"

		c, err := NewComponentFactory(observability.NewMetrics()).Create(ctx, cfg, logger)
		require.NoError(t, err)
		defer c.Shutdown()

		assert.NotNil(t, c.Runner)
		assert.NotNil(t, c.Stepper)
		assert.NotNil(t, c.Sessions)
		assert.NotNil(t, c.Driver)
		assert.NotNil(t, c.Browserbase)
		assert.IsType(t, &store.MemoryStore{}, c.Repository)
		assert.Nil(t, c.DBPool)
	})

	t.Run("Missing browserbase credentials", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.LLMCfg = openAIRouting()

		_, err := NewComponentFactory(nil).Create(ctx, cfg, logger)
		assert.ErrorContains(t, err, "BROWSERBASE_API_KEY")
	})

	t.Run("Unknown model", func(t *testing.T) {
		cfg := config.NewDefaultConfig()
		cfg.LLMCfg = config.LLMRouterConfig{DefaultFastModel: "nope", DefaultPowerfulModel: "nope"}

		_, err := NewComponentFactory(nil).Create(ctx, cfg, logger)
		assert.Error(t, err)
	})
}
