package mcp

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/elnormous/contenttype"
)

// HTTPTransport serves the strict request/response transport: one POST, one
// synchronous JSON-RPC response on the same connection. There is no
// connection pool and no way to push data to a caller outside its own
// request, so SendEvent and Broadcast are no-ops.
//
// The handler answers GET with server info, POST with the dispatched
// JSON-RPC response and OPTIONS with CORS preflight headers.
type HTTPTransport struct {
	dispatcher Dispatcher
	info       Info
	logger     *slog.Logger
	gate       authGate
}

// HTTPOption represents the options for the HTTP transport.
type HTTPOption func(*HTTPTransport)

var jsonMediaType = contenttype.NewMediaType("application/json")

// NewHTTPTransport creates a unary HTTP transport dispatching through
// dispatcher.
func NewHTTPTransport(dispatcher Dispatcher, options ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		dispatcher: dispatcher,
		logger:     slog.Default(),
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// WithHTTPInfo sets the server identity returned from GET requests.
func WithHTTPInfo(info Info) HTTPOption {
	return func(t *HTTPTransport) {
		t.info = info
	}
}

// WithHTTPTokenValidator enables bearer-token authentication. Requests
// failing validation are rejected with a 401 before any JSON-RPC processing;
// OPTIONS requests always pass.
func WithHTTPTokenValidator(validator TokenValidator) HTTPOption {
	return func(t *HTTPTransport) {
		t.gate.validator = validator
	}
}

// WithHTTPUnauthorizedBody sets a custom body for 401 responses.
func WithHTTPUnauthorizedBody(body string) HTTPOption {
	return func(t *HTTPTransport) {
		t.gate.unauthorizedBody = body
	}
}

// WithHTTPLogger sets the logger for the HTTP transport.
func WithHTTPLogger(logger *slog.Logger) HTTPOption {
	return func(t *HTTPTransport) {
		t.logger = logger.With(
			slog.String("package", "go-mcp"),
			slog.String("component", "http"),
		)
	}
}

// ServeHTTP implements http.Handler.
func (t *HTTPTransport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeCORSHeaders(w)

	if !t.gate.allow(w, r) {
		return
	}

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	case http.MethodGet:
		t.handleInfo(w)
	case http.MethodPost:
		t.handleMessage(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (t *HTTPTransport) handleInfo(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(t.info); err != nil {
		t.logger.Error("failed to write server info", slog.String("err", err.Error()))
	}
}

func (t *HTTPTransport) handleMessage(w http.ResponseWriter, r *http.Request) {
	mediaType, err := contenttype.GetMediaType(r)
	if err != nil || !mediaType.Matches(jsonMediaType) {
		http.Error(w, "content type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		nErr := fmt.Errorf("failed to read request body: %w", err)
		t.logger.Warn("failed to read request body", slog.String("err", nErr.Error()))
		http.Error(w, nErr.Error(), http.StatusBadRequest)
		return
	}

	resp := t.dispatcher.HandleRaw(body, t, "")
	if resp == nil {
		// Notifications get an empty acknowledgement.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		t.logger.Error("failed to write response", slog.String("err", err.Error()))
	}
}

// SendEvent implements EventSink. Unary HTTP has no persistent connections,
// so this is a no-op.
func (t *HTTPTransport) SendEvent(string, any, string) error { return nil }

// Broadcast implements EventSink. Unary HTTP has no persistent connections,
// so this is a no-op.
func (t *HTTPTransport) Broadcast(JSONRPCMessage) error { return nil }

// Kind implements EventSink.
func (t *HTTPTransport) Kind() string { return TransportKindHTTP }
