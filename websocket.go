package mcp

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocketTransport serves one persistent full-duplex connection per client.
// Connections are registered in the pool on open and removed on close or
// error; inbound frames dispatch synchronously on the connection's read loop.
type WebSocketTransport struct {
	dispatcher Dispatcher
	logger     *slog.Logger
	gate       authGate
	upgrader   websocket.Upgrader
	pool       *Pool[*wsConnection]
}

// WebSocketOption represents the options for the WebSocket transport.
type WebSocketOption func(*WebSocketTransport)

type wsConnection struct {
	id   string
	conn *websocket.Conn

	// writeMu serializes frames on one socket; gorilla connections do not
	// support concurrent writers.
	writeMu sync.Mutex
}

func (c *wsConnection) writeMessage(msg JSONRPCMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// NewWebSocketTransport creates a WebSocket transport dispatching through
// dispatcher.
func NewWebSocketTransport(dispatcher Dispatcher, options ...WebSocketOption) *WebSocketTransport {
	t := &WebSocketTransport{
		dispatcher: dispatcher,
		logger:     slog.Default(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pool: NewPool[*wsConnection](),
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// WithWebSocketTokenValidator requires a valid bearer token on the upgrade
// handshake. Rejections are plain 401 responses; no upgrade happens.
func WithWebSocketTokenValidator(validator TokenValidator) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.gate.validator = validator
	}
}

// WithWebSocketUnauthorizedBody sets a custom body for 401 responses.
func WithWebSocketUnauthorizedBody(body string) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.gate.unauthorizedBody = body
	}
}

// WithWebSocketLogger sets the logger for the WebSocket transport.
func WithWebSocketLogger(logger *slog.Logger) WebSocketOption {
	return func(t *WebSocketTransport) {
		t.logger = logger.With(
			slog.String("package", "go-mcp"),
			slog.String("component", "websocket"),
		)
	}
}

// ServeHTTP implements http.Handler. It upgrades the connection and runs the
// read loop until the peer disconnects or a read fails.
func (t *WebSocketTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !t.gate.allow(w, r) {
		return
	}

	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("failed to upgrade connection", slog.String("err", err.Error()))
		return
	}

	wc := &wsConnection{
		id:   uuid.New().String(),
		conn: conn,
	}
	t.pool.Add(wc.id, wc)
	// Connections are never resurrected; once removed, a peer must reconnect.
	defer func() {
		t.pool.Remove(wc.id)
		conn.Close()
	}()

	logger := t.logger.With(slog.String("connectionID", wc.id))
	logger.Debug("connection open")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("connection closed unexpectedly", slog.String("err", err.Error()))
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		resp := t.dispatcher.HandleRaw(data, t, wc.id)
		if resp == nil {
			continue
		}
		if err := wc.writeMessage(*resp); err != nil {
			logger.Error("failed to write response", slog.String("err", err.Error()))
			return
		}
	}
}

// SendEvent implements EventSink by writing a notification frame to the
// connection registered under sessionID, or to every connection when
// sessionID is empty.
func (t *WebSocketTransport) SendEvent(event string, payload any, sessionID string) error {
	msg, err := newNotificationMessage(event, payload)
	if err != nil {
		return err
	}

	if sessionID == "" {
		return t.Broadcast(msg)
	}

	wc, ok := t.pool.Get(sessionID)
	if !ok {
		return fmt.Errorf("unknown connection: %s", sessionID)
	}
	return wc.writeMessage(msg)
}

// Broadcast implements EventSink by writing the message to every open socket.
// A write failure on one connection is logged and swallowed; delivery to the
// others continues.
func (t *WebSocketTransport) Broadcast(msg JSONRPCMessage) error {
	// Snapshot under the pool lock, write outside it.
	var conns []*wsConnection
	t.pool.Each(func(_ string, wc *wsConnection) {
		conns = append(conns, wc)
	})

	for _, wc := range conns {
		if err := wc.writeMessage(msg); err != nil {
			t.logger.Warn("failed to broadcast to connection",
				slog.String("connectionID", wc.id),
				slog.String("err", err.Error()))
		}
	}
	return nil
}

// Kind implements EventSink.
func (t *WebSocketTransport) Kind() string { return TransportKindWebSocket }
