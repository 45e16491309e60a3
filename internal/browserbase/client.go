// Package browserbase is a small REST client for the Browserbase sessions and
// contexts API.
package browserbase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/director/internal/config"
)

const apiKeyHeader = "X-BB-API-Key"

// Client wraps resty with a retrying transport and a client-side rate limit.
type Client struct {
	resty      *resty.Client
	limiter    *rate.Limiter
	projectID  string
	apiKey     string
	connectURL string
	defaults   config.BrowserbaseConfig
	logger     *zap.Logger
}

// NewClient builds a client from configuration. Credentials are required.
func NewClient(cfg config.BrowserbaseConfig, logger *zap.Logger) (*Client, error) {
	if err := cfg.RequireBrowserbase(); err != nil {
		return nil, err
	}
	logger = logger.Named("browserbase")

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 500 * time.Millisecond
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.CheckRetry = checkRetry
	retryClient.Logger = nil

	restyClient := resty.New().
		SetBaseURL(cfg.APIURL).
		SetTimeout(cfg.RequestTimeout).
		SetHeader(apiKeyHeader, cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "director/1.0").
		SetTransport(&retryablehttp.RoundTripper{Client: retryClient})

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Client{
		resty:      restyClient,
		limiter:    limiter,
		projectID:  cfg.ProjectID,
		apiKey:     cfg.APIKey,
		connectURL: cfg.ConnectURL,
		defaults:   cfg,
		logger:     logger,
	}, nil
}

// checkRetry retries throttled requests of any method, but only retries
// transport failures and server errors for idempotent reads. Session creation
// and release must not be replayed after the server may have acted on them.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		return true, nil
	}
	idempotent := resp != nil && resp.Request != nil && resp.Request.Method == http.MethodGet
	if err != nil || !idempotent {
		return false, nil
	}
	return resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented, nil
}

// DefaultSessionParams returns session parameters from configuration.
func (c *Client) DefaultSessionParams(contextID string) CreateSessionParams {
	return CreateSessionParams{
		ContextID: contextID,
		Persist:   contextID != "",
		KeepAlive: c.defaults.KeepAlive,
		BlockAds:  c.defaults.BlockAds,
		Width:     c.defaults.ViewportWidth,
		Height:    c.defaults.ViewportHeight,
	}
}

// CreateSession starts a remote browser.
func (c *Client) CreateSession(ctx context.Context, p CreateSessionParams) (*Session, error) {
	body := createSessionRequest{ProjectID: c.projectID, KeepAlive: p.KeepAlive}
	body.BrowserSettings.BlockAds = p.BlockAds
	if p.ContextID != "" {
		body.BrowserSettings.Context = &contextSettings{ID: p.ContextID, Persist: p.Persist}
	}
	if p.Width > 0 && p.Height > 0 {
		body.BrowserSettings.Viewport = &viewportSettings{Width: p.Width, Height: p.Height}
	}

	var session Session
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", body, &session); err != nil {
		return nil, err
	}
	if session.ConnectURL == "" {
		session.ConnectURL = c.ConnectURL(session.ID)
	}
	c.logger.Info("Browser session created", zap.String("session_id", session.ID), zap.String("context_id", p.ContextID))
	return &session, nil
}

// GetSession fetches the current state of a session.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var session Session
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(sessionID), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// ReleaseSession asks the provider to end a keep-alive session.
func (c *Client) ReleaseSession(ctx context.Context, sessionID string) error {
	body := updateSessionRequest{ProjectID: c.projectID, Status: StatusRequestRelease}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(sessionID), body, nil); err != nil {
		return err
	}
	c.logger.Info("Browser session release requested", zap.String("session_id", sessionID))
	return nil
}

// Debug returns the live-view URLs of a session.
func (c *Client) Debug(ctx context.Context, sessionID string) (*DebugInfo, error) {
	var info DebugInfo
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(sessionID)+"/debug", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CreateContext creates a persistent browser profile.
func (c *Client) CreateContext(ctx context.Context) (*Context, error) {
	var bc Context
	if err := c.do(ctx, http.MethodPost, "/v1/contexts", createContextRequest{ProjectID: c.projectID}, &bc); err != nil {
		return nil, err
	}
	c.logger.Info("Browser context created", zap.String("context_id", bc.ID))
	return &bc, nil
}

// ConnectURL is the CDP websocket endpoint for a session.
func (c *Client) ConnectURL(sessionID string) string {
	q := url.Values{}
	q.Set("apiKey", c.apiKey)
	q.Set("sessionId", sessionID)
	return c.connectURL + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("browserbase rate limiter: %w", err)
	}

	req := c.resty.R().SetContext(ctx)
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}

	start := time.Now()
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("browserbase %s %s: %w", method, path, err)
	}
	c.logger.Debug("Browserbase request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("duration", time.Since(start)))

	if resp.IsError() {
		return &APIError{StatusCode: resp.StatusCode(), Method: method, Path: path, Body: string(resp.Body())}
	}
	return nil
}
