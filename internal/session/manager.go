// internal/session/manager.go
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/director/internal/browserbase"
	"github.com/xkilldash9x/director/internal/observability"
	"github.com/xkilldash9x/director/internal/store"
)

// endedRetention is how long a released session id is remembered for deduplication.
const endedRetention = time.Hour

// API is the subset of the Browserbase client the manager uses.
type API interface {
	DefaultSessionParams(contextID string) browserbase.CreateSessionParams
	CreateSession(ctx context.Context, p browserbase.CreateSessionParams) (*browserbase.Session, error)
	ReleaseSession(ctx context.Context, sessionID string) error
	Debug(ctx context.Context, sessionID string) (*browserbase.DebugInfo, error)
	CreateContext(ctx context.Context) (*browserbase.Context, error)
}

// ReleaseHook runs before a session is released, for example to drop a CDP attachment.
type ReleaseHook func(ctx context.Context, sessionID string)

// CreateSessionRequest asks for a new remote browser.
type CreateSessionRequest struct {
	// ConversationID keys the stored browser context. Optional.
	ConversationID string
	// ContextID reuses an explicit context and takes precedence over the stored one.
	ContextID string
}

// SessionInfo describes a freshly created session.
type SessionInfo struct {
	SessionID  string `json:"sessionId"`
	SessionURL string `json:"sessionUrl"`
	ContextID  string `json:"contextId"`
	ConnectURL string `json:"-"`
}

// Manager creates and destroys remote browser sessions. It performs no retries;
// transport-level retry policy lives in the Browserbase client.
type Manager struct {
	logger   *zap.Logger
	api      API
	contexts store.ContextStore
	metrics  *observability.Metrics

	mu    sync.Mutex
	hooks []ReleaseHook
	open  map[string]struct{}
	ended map[string]time.Time
}

// NewManager wires a manager. contexts and metrics may be nil.
func NewManager(logger *zap.Logger, api API, contexts store.ContextStore, metrics *observability.Metrics) *Manager {
	return &Manager{
		logger:   logger.Named("session"),
		api:      api,
		contexts: contexts,
		metrics:  metrics,
		open:     make(map[string]struct{}),
		ended:    make(map[string]time.Time),
	}
}

// OnRelease registers a hook that runs before every release.
func (m *Manager) OnRelease(h ReleaseHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, h)
}

// CreateSession resolves a persistent context, creating and storing one when
// none is supplied or stored, then starts a keep-alive session that persists
// back into it.
func (m *Manager) CreateSession(ctx context.Context, req CreateSessionRequest) (SessionInfo, error) {
	contextID, err := m.resolveContext(ctx, req)
	if err != nil {
		return SessionInfo{}, &SessionLifecycleError{Op: "create", Err: err}
	}

	params := m.api.DefaultSessionParams(contextID)
	params.Persist = true
	params.KeepAlive = true

	s, err := m.api.CreateSession(ctx, params)
	if err != nil {
		return SessionInfo{}, &SessionLifecycleError{Op: "create", Err: err}
	}
	m.mu.Lock()
	m.open[s.ID] = struct{}{}
	m.mu.Unlock()
	m.metrics.SessionOpened()

	info := SessionInfo{SessionID: s.ID, ContextID: contextID, ConnectURL: s.ConnectURL}
	if dbg, err := m.api.Debug(ctx, s.ID); err != nil {
		// The session is usable without a live view.
		m.logger.Warn("Could not fetch live view URL", zap.String("session_id", s.ID), zap.Error(err))
	} else {
		info.SessionURL = dbg.DebuggerFullscreenURL
	}

	m.logger.Info("Session created",
		zap.String("session_id", s.ID),
		zap.String("context_id", contextID),
		zap.String("conversation_id", req.ConversationID))
	return info, nil
}

func (m *Manager) resolveContext(ctx context.Context, req CreateSessionRequest) (string, error) {
	if req.ContextID != "" {
		return req.ContextID, m.remember(ctx, req.ConversationID, req.ContextID)
	}

	if m.contexts != nil && req.ConversationID != "" {
		id, err := m.contexts.GetBrowserContext(ctx, req.ConversationID)
		switch {
		case err == nil:
			return id, nil
		case !errors.Is(err, store.ErrNotFound):
			return "", err
		}
	}

	bc, err := m.api.CreateContext(ctx)
	if err != nil {
		return "", err
	}
	m.logger.Debug("Created browser context", zap.String("context_id", bc.ID))
	return bc.ID, m.remember(ctx, req.ConversationID, bc.ID)
}

func (m *Manager) remember(ctx context.Context, conversationID, contextID string) error {
	if m.contexts == nil || conversationID == "" {
		return nil
	}
	return m.contexts.SetBrowserContext(ctx, conversationID, contextID)
}

// EndSession requests release of a session. Ending a session this process has
// already released is a no-op, so the executor's close path and the caller's
// teardown can both call it.
func (m *Manager) EndSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return &SessionLifecycleError{Op: "end", Err: errors.New("empty session id")}
	}

	m.mu.Lock()
	m.pruneLocked(time.Now())
	if _, done := m.ended[sessionID]; done {
		m.mu.Unlock()
		m.logger.Debug("Session already released", zap.String("session_id", sessionID))
		return nil
	}
	hooks := append([]ReleaseHook(nil), m.hooks...)
	m.mu.Unlock()

	for _, h := range hooks {
		h(ctx, sessionID)
	}

	if err := m.api.ReleaseSession(ctx, sessionID); err != nil {
		return &SessionLifecycleError{Op: "end", SessionID: sessionID, Err: err}
	}

	m.mu.Lock()
	m.ended[sessionID] = time.Now()
	_, owned := m.open[sessionID]
	delete(m.open, sessionID)
	m.mu.Unlock()
	if owned {
		m.metrics.SessionClosed()
	}
	m.logger.Info("Session released", zap.String("session_id", sessionID))
	return nil
}

// DebugURL returns the fullscreen live-view URL of a session.
func (m *Manager) DebugURL(ctx context.Context, sessionID string) (string, error) {
	dbg, err := m.api.Debug(ctx, sessionID)
	if err != nil {
		return "", &SessionLifecycleError{Op: "debug", SessionID: sessionID, Err: err}
	}
	return dbg.DebuggerFullscreenURL, nil
}

func (m *Manager) pruneLocked(now time.Time) {
	for id, at := range m.ended {
		if now.Sub(at) > endedRetention {
			delete(m.ended, id)
		}
	}
}
