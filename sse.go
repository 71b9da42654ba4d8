package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSETransport implements the hybrid event-stream-plus-POST transport. A
// long-lived GET holds the event stream and is registered in the pool under a
// session id; a separate POST carries one JSON-RPC request whose result is
// delivered asynchronously through the stream registered under the POST's
// session id. The POST's own HTTP response is always an empty 204
// acknowledgement.
//
// Responses are session-targeted: a POST tagged with session S reaches only
// the stream registered under S. When the POST carries no session id the
// transport falls back to the sole open stream if there is exactly one, and
// drops the response otherwise; it never broadcasts a response across
// sessions.
type SSETransport struct {
	dispatcher Dispatcher
	messageURL string
	logger     *slog.Logger
	gate       authGate
	pool       *Pool[*sseConnection]
}

// SSEOption represents the options for the SSE transport.
type SSEOption func(*SSETransport)

type sseConnection struct {
	sessionID string
	sess      *sse.Session

	// mu serializes send+flush pairs; the sse library does not support
	// concurrent senders on one session.
	mu sync.Mutex
}

// SessionHeader is the HTTP header correlating a POST with the SSE stream
// that should carry its response.
const SessionHeader = "X-Session-ID"

func (c *sseConnection) sendEvent(event, data string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := &sse.Message{Type: sse.Type(event)}
	msg.AppendData(data)
	if err := c.sess.Send(msg); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	if err := c.sess.Flush(); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	return nil
}

// NewSSETransport creates an SSE transport dispatching through dispatcher.
// messageURL is the absolute or relative URL of the message-POST endpoint,
// advertised to every new stream via the initial endpoint event.
func NewSSETransport(dispatcher Dispatcher, messageURL string, options ...SSEOption) *SSETransport {
	t := &SSETransport{
		dispatcher: dispatcher,
		messageURL: messageURL,
		logger:     slog.Default(),
		pool:       NewPool[*sseConnection](),
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// WithSSETokenValidator enables bearer-token authentication on both the
// stream GET and the message POST.
func WithSSETokenValidator(validator TokenValidator) SSEOption {
	return func(t *SSETransport) {
		t.gate.validator = validator
	}
}

// WithSSEUnauthorizedBody sets a custom body for 401 responses.
func WithSSEUnauthorizedBody(body string) SSEOption {
	return func(t *SSETransport) {
		t.gate.unauthorizedBody = body
	}
}

// WithSSELogger sets the logger for the SSE transport.
func WithSSELogger(logger *slog.Logger) SSEOption {
	return func(t *SSETransport) {
		t.logger = logger.With(
			slog.String("package", "go-mcp"),
			slog.String("component", "sse"),
		)
	}
}

// HandleSSE returns the http.Handler for the stream GET endpoint. It upgrades
// the connection, registers it in the pool under the peer-supplied session id
// (or a generated one), and emits the endpoint and session events before
// blocking for the lifetime of the connection.
func (t *SSETransport) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCORSHeaders(w)
		if !t.gate.allow(w, r) {
			return
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		sessID := r.URL.Query().Get("sessionID")
		if sessID == "" {
			sessID = r.Header.Get(SessionHeader)
		}
		if sessID == "" {
			sessID = uuid.New().String()
		}

		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			t.logger.Error("failed to upgrade session", slog.String("err", nErr.Error()))
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		conn := &sseConnection{
			sessionID: sessID,
			sess:      sess,
		}

		// Register before the bootstrap events go out, so a client that POSTs
		// the moment it sees the session event already finds its stream.
		t.pool.Add(sessID, conn)
		defer t.pool.Remove(sessID)

		// Tell the client where to POST its requests and under which session
		// they will be correlated.
		endpointURL := fmt.Sprintf("%s?sessionID=%s", t.messageURL, sessID)
		if err := conn.sendEvent("endpoint", endpointURL); err != nil {
			t.logger.Error("failed to send endpoint event", slog.String("err", err.Error()))
			return
		}
		if err := conn.sendEvent("session", sessID); err != nil {
			t.logger.Error("failed to send session event", slog.String("err", err.Error()))
			return
		}

		t.logger.Debug("stream open", slog.String("sessionID", sessID))

		// Hold the stream open until the client goes away.
		<-r.Context().Done()
	})
}

// HandleMessage returns the http.Handler for the message POST endpoint. The
// request is dispatched synchronously; its result travels back through the
// SSE stream matching the request's session id, and the POST itself is
// acknowledged with an empty 204.
func (t *SSETransport) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeCORSHeaders(w)
		if !t.gate.allow(w, r) {
			return
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		sessID := r.URL.Query().Get("sessionID")
		if sessID == "" {
			sessID = r.Header.Get(SessionHeader)
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			nErr := fmt.Errorf("failed to read request body: %w", err)
			t.logger.Warn("failed to read request body", slog.String("err", nErr.Error()))
			http.Error(w, nErr.Error(), http.StatusBadRequest)
			return
		}

		resp := t.dispatcher.HandleRaw(body, t, sessID)
		if resp != nil {
			t.deliverResponse(sessID, *resp)
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

// deliverResponse pushes a dispatched response to the stream registered under
// sessID. With no session id the sole open stream is used when there is
// exactly one; an ambiguous or missing target drops the response rather than
// leaking it across sessions.
func (t *SSETransport) deliverResponse(sessID string, msg JSONRPCMessage) {
	conn, ok := t.lookupTarget(sessID)
	if !ok {
		t.logger.Warn("no stream for response, dropping",
			slog.String("sessionID", sessID),
			slog.String("method", msg.Method))
		return
	}

	msgBs, err := json.Marshal(msg)
	if err != nil {
		t.logger.Error("failed to marshal response", slog.String("err", err.Error()))
		return
	}

	if err := conn.sendEvent("message", string(msgBs)); err != nil {
		t.logger.Error("failed to deliver response",
			slog.String("sessionID", conn.sessionID),
			slog.String("err", err.Error()))
	}
}

func (t *SSETransport) lookupTarget(sessID string) (*sseConnection, bool) {
	if sessID != "" {
		return t.pool.Get(sessID)
	}

	// Fallback: a single open stream is an unambiguous target.
	var conns []*sseConnection
	t.pool.Each(func(_ string, conn *sseConnection) {
		conns = append(conns, conn)
	})
	if len(conns) == 1 {
		return conns[0], true
	}
	return nil, false
}

// SendEvent implements EventSink by pushing a named event to the stream
// registered under sessionID, or to every stream when sessionID is empty.
func (t *SSETransport) SendEvent(event string, payload any, sessionID string) error {
	payloadBs, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	if sessionID != "" {
		conn, ok := t.pool.Get(sessionID)
		if !ok {
			return fmt.Errorf("unknown session: %s", sessionID)
		}
		return conn.sendEvent(event, string(payloadBs))
	}

	for _, conn := range t.snapshot() {
		if err := conn.sendEvent(event, string(payloadBs)); err != nil {
			t.logger.Warn("failed to send event to stream",
				slog.String("sessionID", conn.sessionID),
				slog.String("err", err.Error()))
		}
	}
	return nil
}

// Broadcast implements EventSink by pushing the message to every open stream.
// A failure on one stream is logged and swallowed; delivery to the others
// continues.
func (t *SSETransport) Broadcast(msg JSONRPCMessage) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	for _, conn := range t.snapshot() {
		if err := conn.sendEvent("message", string(msgBs)); err != nil {
			t.logger.Warn("failed to broadcast to stream",
				slog.String("sessionID", conn.sessionID),
				slog.String("err", err.Error()))
		}
	}
	return nil
}

// snapshot copies the open connections under the pool lock so writes happen
// outside it.
func (t *SSETransport) snapshot() []*sseConnection {
	var conns []*sseConnection
	t.pool.Each(func(_ string, conn *sseConnection) {
		conns = append(conns, conn)
	})
	return conns
}

// Kind implements EventSink.
func (t *SSETransport) Kind() string { return TransportKindSSE }
