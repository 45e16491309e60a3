package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/director/internal/config"
	"github.com/xkilldash9x/director/internal/store"
)

func TestDrainChannel(t *testing.T) {
	ch := make(chan store.RunRecord, 3)
	ch <- store.RunRecord{RunID: "1"}
	ch <- store.RunRecord{RunID: "2"}
	close(ch)

	batch := drainChannel(ch)
	require.Len(t, batch, 2)
	assert.Equal(t, "1", batch[0].RunID)
	assert.Equal(t, "2", batch[1].RunID)

	open := make(chan store.RunRecord, 1)
	assert.Empty(t, drainChannel(open), "an empty open channel does not block")
}

func TestStartRunRecorder(t *testing.T) {
	logger := zap.NewNop()

	t.Run("PersistsUntilClosed", func(t *testing.T) {
		rec := new(MockRecorder)
		rec.On("RecordRun", mock.Anything, mock.Anything).Return(nil)
		ch := make(chan store.RunRecord, 10)
		wg := &sync.WaitGroup{}

		StartRunRecorder(context.Background(), wg, ch, rec, logger)
		ch <- store.RunRecord{RunID: "a"}
		ch <- store.RunRecord{RunID: "b"}
		close(ch)
		wg.Wait()

		assert.Equal(t, []string{"a", "b"}, rec.runIDs())
	})

	t.Run("PersistenceErrorsAreLogged", func(t *testing.T) {
		rec := new(MockRecorder)
		rec.On("RecordRun", mock.Anything, mock.Anything).Return(errors.New("db down"))
		ch := make(chan store.RunRecord, 1)
		wg := &sync.WaitGroup{}

		StartRunRecorder(context.Background(), wg, ch, rec, logger)
		ch <- store.RunRecord{RunID: "x"}
		close(ch)
		wg.Wait()

		rec.AssertNumberOfCalls(t, "RecordRun", 1)
	})

	t.Run("DrainsOnCancel", func(t *testing.T) {
		rec := new(MockRecorder)
		rec.On("RecordRun", mock.Anything, mock.Anything).Return(nil)
		ch := make(chan store.RunRecord, 10)
		ch <- store.RunRecord{RunID: "queued-1"}
		ch <- store.RunRecord{RunID: "queued-2"}
		wg := &sync.WaitGroup{}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		StartRunRecorder(ctx, wg, ch, rec, logger)
		wg.Wait()

		assert.ElementsMatch(t, []string{"queued-1", "queued-2"}, rec.runIDs())
	})
}

func TestInitializeRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("InMemoryWithoutURL", func(t *testing.T) {
		repo, pool, err := InitializeRepository(ctx, config.DatabaseConfig{}, zap.NewNop())
		require.NoError(t, err)
		assert.Nil(t, pool)
		assert.IsType(t, &store.MemoryStore{}, repo)
	})

	t.Run("InvalidURL", func(t *testing.T) {
		_, _, err := InitializeRepository(ctx, config.DatabaseConfig{URL: "postgres://%zz"}, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestInitializeLLMClient_UnknownModel(t *testing.T) {
	cfg := config.LLMRouterConfig{DefaultFastModel: "missing", DefaultPowerfulModel: "missing"}
	_, err := InitializeLLMClient(context.Background(), cfg, zap.NewNop())
	assert.ErrorContains(t, err, "not found in llm.models")
}
