package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a conversation has no stored browser context.
var ErrNotFound = errors.New("store: not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// ContextStore maps a logical conversation to the persistent browser context
// its sessions reuse.
type ContextStore interface {
	GetBrowserContext(ctx context.Context, conversationID string) (string, error)
	SetBrowserContext(ctx context.Context, conversationID, contextID string) error
}

// RunRecord summarizes one finished agent run. Steps are not persisted.
type RunRecord struct {
	RunID          string
	ConversationID string
	SessionID      string
	Goal           string
	Termination    string
	StepCount      int
	StartedAt      time.Time
	FinishedAt     time.Time
}

// RunRecorder stores run summaries.
type RunRecorder interface {
	RecordRun(ctx context.Context, rec RunRecord) error
}

// Repository is everything the service layer needs from persistence.
type Repository interface {
	ContextStore
	RunRecorder
}

const (
	sqlSelectContext = `
        SELECT browser_context_id
        FROM conversations
        WHERE id = $1;
    `
	sqlUpsertContext = `
        INSERT INTO conversations (id, browser_context_id, updated_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE SET
            browser_context_id = EXCLUDED.browser_context_id,
            updated_at = EXCLUDED.updated_at;
    `
	sqlInsertRun = `
        INSERT INTO agent_runs (id, conversation_id, session_id, goal, termination, step_count, started_at, finished_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
    `
	sqlTouchConversation = `
        UPDATE conversations SET updated_at = $2 WHERE id = $1;
    `
)

// Store provides a PostgreSQL implementation of Repository.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// GetBrowserContext returns the stored context id, or ErrNotFound.
func (s *Store) GetBrowserContext(ctx context.Context, conversationID string) (string, error) {
	var contextID *string
	err := s.pool.QueryRow(ctx, sqlSelectContext, conversationID).Scan(&contextID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query browser context: %w", err)
	}
	if contextID == nil || *contextID == "" {
		return "", ErrNotFound
	}
	return *contextID, nil
}

// SetBrowserContext records the context id for a conversation, replacing any previous value.
func (s *Store) SetBrowserContext(ctx context.Context, conversationID, contextID string) error {
	if _, err := s.pool.Exec(ctx, sqlUpsertContext, conversationID, contextID, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to store browser context: %w", err)
	}
	s.log.Debug("Stored browser context", zap.String("conversation_id", conversationID), zap.String("context_id", contextID))
	return nil
}

// RecordRun inserts a run summary and bumps the conversation's timestamp in one transaction.
func (s *Store) RecordRun(ctx context.Context, rec RunRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		// Rollback after Commit returns ErrTxClosed, which is expected.
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlInsertRun,
		rec.RunID, rec.ConversationID, rec.SessionID, rec.Goal, rec.Termination, rec.StepCount,
		rec.StartedAt.UTC(), rec.FinishedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if rec.ConversationID != "" {
		if _, err := tx.Exec(ctx, sqlTouchConversation, rec.ConversationID, rec.FinishedAt.UTC()); err != nil {
			return fmt.Errorf("failed to update conversation: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
