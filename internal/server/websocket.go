// File: internal/server/websocket.go
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xkilldash9x/director/api/schemas"
	"github.com/xkilldash9x/director/internal/agent"
	"github.com/xkilldash9x/director/internal/orchestrator"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size allowed from peer.
	maxMessageSize = 8192
	// Send buffer size
	sendChannelSize = 256
)

// runClient is one WebSocket connection carrying a single run. The first client
// message is the run request; the run's events flow back through send.
type runClient struct {
	logger *zap.Logger
	conn   *websocket.Conn
	send   chan schemas.Event
}

func (s *Server) handleRunWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		s.logger.Warn("Failed to upgrade connection to WebSocket", zap.Error(err))
		return
	}
	c := &runClient{
		logger: s.logger.With(zap.String("remote_addr", r.RemoteAddr)),
		conn:   conn,
		send:   make(chan schemas.Event, sendChannelSize),
	}
	defer conn.Close()

	req, ok := c.readRequest(s)
	if !ok {
		return
	}

	ctx, cancel := s.runContext(r.Context())
	defer cancel()

	readDone := make(chan struct{})
	writeDone := make(chan struct{})
	go func() {
		defer close(readDone)
		c.readPump(cancel)
	}()
	go func() {
		defer close(writeDone)
		c.writePump(cancel)
	}()

	result, err := s.runs.Execute(ctx, req, agent.NewChannelSink(c.send))
	if err != nil {
		c.logger.Warn("Run ended with error", zap.String("run_id", result.RunID), zap.Error(err))
	}

	// writePump flushes what is queued, then says goodbye.
	close(c.send)
	<-writeDone
	conn.Close()
	<-readDone
	c.logger.Debug("WebSocket run finished", zap.String("run_id", result.RunID))
}

// readRequest waits for the run request. An invalid request closes the
// connection with a policy violation.
func (c *runClient) readRequest(s *Server) (orchestrator.RunRequest, bool) {
	var req orchestrator.RunRequest
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error("Failed to set initial read deadline", zap.Error(err))
		return req, false
	}
	if err := c.conn.ReadJSON(&req); err != nil {
		c.logger.Info("WebSocket closed before a run request arrived", zap.Error(err))
		return req, false
	}
	if err := s.validate.Struct(req); err != nil {
		c.closeWith(websocket.ClosePolicyViolation, "a goal is required")
		return req, false
	}
	return req, true
}

// readPump keeps the read deadline alive and cancels the run once the peer goes
// away. Messages after the run request are ignored.
func (c *runClient) readPump(cancel context.CancelFunc) {
	defer cancel()
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("WebSocket closed unexpectedly", zap.Error(err))
			}
			return
		}
	}
}

// writePump is the only writer on the connection after the request was read.
func (c *runClient) writePump(cancel context.CancelFunc) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				cancel()
				return
			}
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(event); err != nil {
				c.logger.Warn("Error writing event to WebSocket", zap.Error(err))
				cancel()
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				cancel()
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Error sending ping", zap.Error(err))
				cancel()
				return
			}
		}
	}
}

func (c *runClient) closeWith(code int, reason string) {
	deadline := time.Now().Add(writeWait)
	if err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		c.logger.Debug("Failed to send close frame", zap.Error(err))
	}
}
