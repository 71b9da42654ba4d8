package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Server is the transport-agnostic protocol dispatch engine. It routes parsed
// JSON-RPC messages to registry entries, invokes the matching handler outside
// any registry lock, and builds the response or error envelope. One Server can
// back any number of transport adapters at the same time.
type Server struct {
	info         Info
	instructions string
	registry     *Registry
	logger       *slog.Logger

	requestTimeout time.Duration

	// initialized transitions uninitialized -> initialized exactly once, on
	// the first successful initialize call.
	initialized atomic.Bool

	inflightMu sync.Mutex
	inflight   map[inflightKey]*RequestContext
}

// inflightKey identifies a tracked request by the session that issued it as
// well as its id, so a cancellation from one session can never reach another
// session's request that happens to share an id.
type inflightKey struct {
	sessionID string
	requestID RequestID
}

// ServerOption represents the options for the server.
type ServerOption func(*Server)

// NewServer creates a dispatch engine with the given server identity. The
// server starts with an empty registry unless WithRegistry supplies one.
func NewServer(info Info, options ...ServerOption) *Server {
	s := &Server{
		info:     info,
		logger:   slog.Default(),
		inflight: make(map[inflightKey]*RequestContext),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	return s
}

// WithRegistry sets the registry backing the server.
func WithRegistry(registry *Registry) ServerOption {
	return func(s *Server) {
		s.registry = registry
	}
}

// WithInstructions sets the instruction text returned from initialize.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithRequestTimeout sets a deadline applied to every request's derived
// context.Context. Cooperative timeout polls via EnsureNotTimedOut are
// unaffected; handlers pass their own budget there.
func WithRequestTimeout(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.requestTimeout = timeout
	}
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(
			slog.String("package", "go-mcp"),
			slog.String("component", "server"),
		)
	}
}

// Registry returns the registry backing the server.
func (s *Server) Registry() *Registry { return s.registry }

// Info returns the server identity.
func (s *Server) Info() Info { return s.info }

// Initialized reports whether the server has completed the initialize
// handshake.
func (s *Server) Initialized() bool { return s.initialized.Load() }

// Capabilities derives the advertised capability set from the registry's
// current contents. Sections with no registrations are omitted.
func (s *Server) Capabilities() ServerCapabilities {
	caps := ServerCapabilities{}
	if len(s.registry.Tools()) > 0 {
		caps.Tools = &ToolsCapability{}
	}
	if len(s.registry.Resources()) > 0 || len(s.registry.ResourceTemplates()) > 0 {
		caps.Resources = &ResourcesCapability{}
	}
	if len(s.registry.Prompts()) > 0 {
		caps.Prompts = &PromptsCapability{}
	}
	return caps
}

// HandleRaw parses a wire buffer and dispatches it. Malformed buffers yield a
// ParseError or InvalidRequest response. The returned message is nil when the
// input was a notification.
func (s *Server) HandleRaw(data []byte, sink EventSink, sessionID string) *JSONRPCMessage {
	msg, jsonErr := parseMessage(data)
	if jsonErr != nil {
		resp := newErrorMessage(msg.ID, *jsonErr)
		return &resp
	}
	return s.Handle(msg, sink, sessionID)
}

// Handle dispatches one parsed message. Requests return exactly one response
// message; notifications are dispatched fire-and-forget and return nil, with
// their outcome never surfaced. The sink is captured by the request's context
// for out-of-band delivery and may be nil.
func (s *Server) Handle(msg JSONRPCMessage, sink EventSink, sessionID string) *JSONRPCMessage {
	if msg.IsNotification() {
		s.handleNotification(msg, sink, sessionID)
		return nil
	}

	resp := s.handleRequest(msg, sink, sessionID)
	return &resp
}

func (s *Server) handleNotification(msg JSONRPCMessage, sink EventSink, sessionID string) {
	switch msg.Method {
	case methodNotificationsInitialized:
		// Acknowledged, nothing to do.
	case methodNotificationsCancelled:
		var params notificationsCancelledParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			s.logger.Warn("failed to unmarshal cancellation params", slog.String("err", err.Error()))
			return
		}
		s.cancelInflight(sessionID, params.RequestID)
	default:
		s.logger.Debug("ignoring notification", slog.String("method", msg.Method))
	}
}

func (s *Server) handleRequest(msg JSONRPCMessage, sink EventSink, sessionID string) JSONRPCMessage {
	switch msg.Method {
	case methodPing:
		return s.resultOrError(msg.ID, struct{}{}, nil)
	case methodInitialize:
		var params initializeParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			return newErrorMessage(msg.ID, JSONRPCError{
				Code:    jsonRPCInvalidParamsCode,
				Message: fmt.Sprintf("failed to unmarshal params: %s", err),
			})
		}
		res, err := s.initialize(params)
		return s.resultOrError(msg.ID, res, err)
	}

	if !s.initialized.Load() {
		return newErrorMessage(msg.ID, JSONRPCError{
			Code:    jsonRPCInvalidRequestCode,
			Message: "server is not initialized",
		})
	}

	switch msg.Method {
	case MethodToolsList:
		return s.resultOrError(msg.ID, ListToolsResult{Tools: s.registry.Tools()}, nil)
	case MethodToolsCall:
		res, err := s.callTool(msg, sink, sessionID)
		return s.resultOrError(msg.ID, res, err)
	case MethodResourcesList:
		return s.resultOrError(msg.ID, ListResourcesResult{Resources: s.registry.Resources()}, nil)
	case MethodResourcesTemplatesList:
		return s.resultOrError(msg.ID, ListResourceTemplatesResult{Templates: s.registry.ResourceTemplates()}, nil)
	case MethodResourcesRead:
		res, err := s.readResource(msg, sink, sessionID)
		return s.resultOrError(msg.ID, res, err)
	case MethodPromptsList:
		return s.resultOrError(msg.ID, ListPromptsResult{Prompts: s.registry.Prompts()}, nil)
	case MethodPromptsGet:
		res, err := s.getPrompt(msg, sink, sessionID)
		return s.resultOrError(msg.ID, res, err)
	default:
		return newErrorMessage(msg.ID, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: fmt.Sprintf("method not found: %s", msg.Method),
		})
	}
}

// initialize performs the handshake and flips the server into the initialized
// state. The transition is one-way; repeat calls succeed without changing
// state.
func (s *Server) initialize(params initializeParams) (initializeResult, error) {
	if params.ProtocolVersion != protocolVersion {
		return initializeResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("protocol version mismatch: %s != %s", params.ProtocolVersion, protocolVersion),
		}
	}

	s.initialized.Store(true)

	return initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    s.Capabilities(),
		ServerInfo:      s.info,
		Instructions:    s.instructions,
	}, nil
}

func (s *Server) callTool(msg JSONRPCMessage, sink EventSink, sessionID string) (CallToolResult, error) {
	var params CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return CallToolResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("failed to unmarshal params: %s", err),
		}
	}

	st, ok := s.registry.LookupTool(params.Name)
	if !ok {
		return CallToolResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("unknown tool: %s", params.Name),
		}
	}

	if err := validateToolArgs(st.Tool, params.Arguments); err != nil {
		return CallToolResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: err.Error(),
		}
	}

	ctx := s.trackRequest(msg.ID, sessionID, sink)
	defer s.releaseRequest(msg.ID, sessionID, ctx)

	// The registry lock is released by now; a handler registering new tools
	// or blocking on I/O cannot deadlock the dispatcher.
	result, err := st.Handler(ctx, params.Arguments)
	if err != nil {
		return CallToolResult{}, s.wrapHandlerError("tool", params.Name, err)
	}
	return result, nil
}

func (s *Server) readResource(msg JSONRPCMessage, sink EventSink, sessionID string) (ReadResourceResult, error) {
	var params ReadResourceParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return ReadResourceResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("failed to unmarshal params: %s", err),
		}
	}

	handler, uriParams, ok := s.registry.ResolveResource(params.URI)
	if !ok {
		return ReadResourceResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("unknown resource: %s", params.URI),
		}
	}

	ctx := s.trackRequest(msg.ID, sessionID, sink)
	defer s.releaseRequest(msg.ID, sessionID, ctx)

	result, err := handler(ctx, params.URI, uriParams)
	if err != nil {
		return ReadResourceResult{}, s.wrapHandlerError("resource", params.URI, err)
	}
	return result, nil
}

func (s *Server) getPrompt(msg JSONRPCMessage, sink EventSink, sessionID string) (GetPromptResult, error) {
	var params GetPromptParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return GetPromptResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("failed to unmarshal params: %s", err),
		}
	}

	sp, ok := s.registry.LookupPrompt(params.Name)
	if !ok {
		return GetPromptResult{}, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("unknown prompt: %s", params.Name),
		}
	}

	ctx := s.trackRequest(msg.ID, sessionID, sink)
	defer s.releaseRequest(msg.ID, sessionID, ctx)

	result, err := sp.Handler(ctx, params)
	if err != nil {
		return GetPromptResult{}, s.wrapHandlerError("prompt", params.Name, err)
	}
	return result, nil
}

// trackRequest creates the request context and registers it so a later
// notifications/cancelled from the same session can reach the in-flight
// invocation.
func (s *Server) trackRequest(id RequestID, sessionID string, sink EventSink) *RequestContext {
	ctx := newRequestContext(id, sessionID, sink)
	if s.requestTimeout > 0 {
		ctx.applyDeadline(s.requestTimeout)
	}

	if id != "" {
		s.inflightMu.Lock()
		s.inflight[inflightKey{sessionID: sessionID, requestID: id}] = ctx
		s.inflightMu.Unlock()
	}
	return ctx
}

// releaseRequest deregisters the context and releases its resources. The
// context must not be used after the invocation returns.
func (s *Server) releaseRequest(id RequestID, sessionID string, ctx *RequestContext) {
	if id != "" {
		s.inflightMu.Lock()
		delete(s.inflight, inflightKey{sessionID: sessionID, requestID: id})
		s.inflightMu.Unlock()
	}
	ctx.cancel()
}

func (s *Server) cancelInflight(sessionID string, id RequestID) {
	s.inflightMu.Lock()
	ctx, ok := s.inflight[inflightKey{sessionID: sessionID, requestID: id}]
	s.inflightMu.Unlock()

	if ok {
		ctx.Cancel()
	}
}

// wrapHandlerError maps a handler failure onto the protocol error taxonomy.
// Cancellation and timeout keep their dedicated codes; a JSONRPCError raised
// by the handler passes through; anything else becomes an internal error
// carrying the original message.
func (s *Server) wrapHandlerError(kind, name string, err error) error {
	s.logger.Error("handler failed",
		slog.String("kind", kind),
		slog.String("name", name),
		slog.String("err", err.Error()))

	switch {
	case errors.Is(err, ErrRequestCancelled):
		return JSONRPCError{Code: jsonRPCRequestCancelledCode, Message: err.Error()}
	case errors.Is(err, ErrRequestTimedOut):
		return JSONRPCError{Code: jsonRPCRequestTimedOutCode, Message: err.Error()}
	}

	jsonErr := JSONRPCError{}
	if errors.As(err, &jsonErr) {
		return jsonErr
	}

	return JSONRPCError{
		Code:    jsonRPCInternalErrorCode,
		Message: err.Error(),
	}
}

func (s *Server) resultOrError(id RequestID, result any, err error) JSONRPCMessage {
	if err != nil {
		jsonErr := JSONRPCError{}
		if !errors.As(err, &jsonErr) {
			jsonErr = JSONRPCError{
				Code:    jsonRPCInternalErrorCode,
				Message: err.Error(),
			}
		}
		return newErrorMessage(id, jsonErr)
	}

	msg, mErr := newResultMessage(id, result)
	if mErr != nil {
		s.logger.Error("failed to marshal result", slog.String("err", mErr.Error()))
		return newErrorMessage(id, JSONRPCError{
			Code:    jsonRPCInternalErrorCode,
			Message: mErr.Error(),
		})
	}
	return msg
}
