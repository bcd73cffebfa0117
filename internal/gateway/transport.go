// Package gateway implements the bidirectional streaming transport
// (§4.F): a text-framed, JSON-payload protocol over a websocket
// connection that drives internal/agent.Runtime turns and relays its
// ResponseChunk stream back to the client as it happens.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dylanbstorey/arawn-sub003/internal/agent"
	"github.com/dylanbstorey/arawn-sub003/internal/sessions"
	"github.com/dylanbstorey/arawn-sub003/pkg/models"
)

const (
	maxPayloadBytes = 1 << 20
	writeWait       = 10 * time.Second
	pongWait        = 45 * time.Second
	pingInterval    = (pongWait * 9) / 10
)

// Config configures a Server.
type Config struct {
	// Verifier checks Auth message bearer tokens. Nil or disabled
	// means every connection is treated as authenticated.
	Verifier *TokenVerifier
}

// Server upgrades HTTP connections to the streaming transport and
// drives each one against a shared Runtime and session Store.
type Server struct {
	cfg      Config
	runtime  *agent.Runtime
	store    sessions.Store
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewServer builds a transport Server. runtime is the turn loop every
// Chat message is dispatched against; store resolves/creates the
// models.Session a session_id refers to.
func NewServer(runtime *agent.Runtime, store sessions.Store, cfg Config) *Server {
	return &Server{
		cfg:     cfg,
		runtime: runtime,
		store:   store,
		logger:  slog.Default().With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs its read/write loops
// until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		server:        s,
		conn:          conn,
		send:          make(chan []byte, 64),
		ctx:           ctx,
		cancel:        cancel,
		authenticated: s.cfg.Verifier == nil || !s.cfg.Verifier.Enabled(),
		subscriptions: make(map[models.SessionId]bool),
	}
	c.run()
}

// connection is one client's per-socket state (§4.F: "authentication
// flag, session subscription set, current cancellation token").
type connection struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	authenticated bool
	subscriptions map[models.SessionId]bool

	// turnCancel cancels the in-flight Chat dispatch, if any. Cancel
	// replaces it with a fresh no-op immediately, matching §4.F's
	// "replaced with a fresh one immediately" semantics.
	turnCancel context.CancelFunc
}

func (c *connection) run() {
	defer c.close()
	go c.writeLoop()
	c.readLoop()
}

func (c *connection) close() {
	c.cancel()
	c.mu.Lock()
	if c.turnCancel != nil {
		c.turnCancel()
	}
	c.mu.Unlock()
	close(c.send)
	_ = c.conn.Close()
}

func (c *connection) readLoop() {
	c.conn.SetReadLimit(maxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("", "invalid_frame", err.Error())
			continue
		}

		if !c.isAuthenticated() && msg.Type != ClientPing && msg.Type != ClientAuth {
			c.sendError("", "unauthorized", "authenticate before sending further messages")
			continue
		}

		c.dispatch(msg)
	}
}

func (c *connection) writeLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) isAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

func (c *connection) dispatch(msg ClientMessage) {
	switch msg.Type {
	case ClientPing:
		c.write(ServerMessage{Type: ServerPong})
	case ClientAuth:
		c.handleAuth(msg)
	case ClientSubscribe:
		c.mu.Lock()
		c.subscriptions[models.SessionId(msg.SessionID)] = true
		c.mu.Unlock()
	case ClientUnsubscribe:
		c.mu.Lock()
		delete(c.subscriptions, models.SessionId(msg.SessionID))
		c.mu.Unlock()
	case ClientChat:
		go c.handleChat(msg)
	case ClientCancel:
		c.handleCancel()
	default:
		c.sendError("", "unknown_type", fmt.Sprintf("unrecognized message type %q", msg.Type))
	}
}

func (c *connection) handleAuth(msg ClientMessage) {
	verifier := c.server.cfg.Verifier
	if verifier == nil || !verifier.Enabled() {
		c.mu.Lock()
		c.authenticated = true
		c.mu.Unlock()
		c.write(ServerMessage{Type: ServerAuthResult, OK: true})
		return
	}

	if _, err := verifier.Verify(msg.Token); err != nil {
		c.write(ServerMessage{Type: ServerAuthResult, OK: false, Reason: err.Error()})
		return
	}
	c.mu.Lock()
	c.authenticated = true
	c.mu.Unlock()
	c.write(ServerMessage{Type: ServerAuthResult, OK: true})
}

func (c *connection) handleCancel() {
	c.mu.Lock()
	cancelPrev := c.turnCancel
	c.turnCancel = nil
	c.mu.Unlock()
	if cancelPrev != nil {
		cancelPrev()
	}
}

// handleChat resolves or creates the target session, dispatches the
// message through the Runtime's streamed turn loop, and relays every
// ResponseChunk as the corresponding §4.F server frame.
func (c *connection) handleChat(msg ClientMessage) {
	session, created, err := c.resolveSession(msg.SessionID)
	if err != nil {
		c.sendError("", "session_error", err.Error())
		return
	}
	if created {
		c.write(ServerMessage{Type: ServerSessionCreated, ID: string(session.ID)})
	}

	turnCtx, turnCancel := context.WithCancel(c.ctx)
	c.mu.Lock()
	c.turnCancel = turnCancel
	c.mu.Unlock()
	defer turnCancel()

	chunks, err := c.server.runtime.ProcessStream(turnCtx, session, msg.Message)
	if err != nil {
		c.sendError(string(session.ID), "chat_failed", err.Error())
		return
	}

	for chunk := range chunks {
		c.relayChunk(session.ID, chunk, turnCtx)
	}

	c.write(ServerMessage{Type: ServerChatChunk, SessionID: string(session.ID), Chunk: "", Done: true})
}

func (c *connection) relayChunk(sessionID models.SessionId, chunk *agent.ResponseChunk, turnCtx context.Context) {
	switch {
	case chunk.Error != nil:
		code := "internal_error"
		if errors.Is(turnCtx.Err(), context.Canceled) {
			code = "cancelled"
		}
		c.sendError(string(sessionID), code, chunk.Error.Error())

	case chunk.ToolEvent != nil:
		c.relayToolEvent(sessionID, chunk.ToolEvent)

	case chunk.Text != "":
		c.write(ServerMessage{Type: ServerChatChunk, SessionID: string(sessionID), Chunk: chunk.Text, Done: false})
	}
}

func (c *connection) relayToolEvent(sessionID models.SessionId, ev *models.ToolEvent) {
	switch ev.Stage {
	case models.ToolEventStarted:
		c.write(ServerMessage{
			Type: ServerToolStart, SessionID: string(sessionID),
			ToolID: ev.ToolCallID, ToolName: ev.ToolName,
		})
	case models.ToolEventSucceeded, models.ToolEventFailed:
		content := ev.Output
		if content == "" {
			content = ev.Error
		}
		if content != "" {
			c.write(ServerMessage{
				Type: ServerToolOutput, SessionID: string(sessionID),
				ToolID: ev.ToolCallID, Content: content,
			})
		}
		c.write(ServerMessage{
			Type: ServerToolEnd, SessionID: string(sessionID),
			ToolID: ev.ToolCallID, Success: ev.Stage == models.ToolEventSucceeded,
		})
	}
}

func (c *connection) resolveSession(rawID string) (session *models.Session, created bool, err error) {
	if rawID == "" {
		session = models.NewSession()
		if err := c.server.store.Create(context.Background(), session); err != nil {
			return nil, false, err
		}
		return session, true, nil
	}

	id := models.SessionId(rawID)
	session, err = c.server.store.Get(context.Background(), id)
	if errors.Is(err, sessions.ErrNotFound) {
		session = models.NewSession()
		session.ID = id
		if err := c.server.store.Create(context.Background(), session); err != nil {
			return nil, false, err
		}
		return session, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return session, false, nil
}

func (c *connection) sendError(sessionID, code, message string) {
	c.write(ServerMessage{Type: ServerError, SessionID: sessionID, Code: code, Message: message})
}

func (c *connection) write(msg ServerMessage) {
	data, err := encodeServerMessage(msg)
	if err != nil {
		c.server.logger.Error("encode server message", "error", err)
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	}
}
