package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// MountPoint attaches a Server to a ComposedServer under a path and an
// optional name prefix. The prefix is stripped from incoming tool, resource
// and prompt names before delegation and re-added when listing.
type MountPoint struct {
	Path   string
	Server *Server
	Prefix string
}

// ComposedServer aggregates several dispatch engines behind one Dispatcher
// surface. Routing follows a two-step rule: a declared name prefix matching
// the incoming name wins first, then a mount whose own registry contains the
// bare name; earlier mounts win ties in registration order.
type ComposedServer struct {
	info   Info
	logger *slog.Logger

	mu     sync.RWMutex
	mounts []*MountPoint
	byPath map[string]*MountPoint

	initialized atomic.Bool
}

// ComposedServerOption represents the options for the composed server.
type ComposedServerOption func(*ComposedServer)

// NewComposedServer creates an empty composed server with the given identity.
func NewComposedServer(info Info, options ...ComposedServerOption) *ComposedServer {
	c := &ComposedServer{
		info:   info,
		logger: slog.Default(),
		byPath: make(map[string]*MountPoint),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// WithComposedServerLogger sets the logger for the composed server.
func WithComposedServerLogger(logger *slog.Logger) ComposedServerOption {
	return func(c *ComposedServer) {
		c.logger = logger.With(
			slog.String("package", "go-mcp"),
			slog.String("component", "composed"),
		)
	}
}

// Mount attaches server under path with an optional name prefix. Mount order
// determines routing priority.
func (c *ComposedServer) Mount(path string, server *Server, prefix string) error {
	if path == "" {
		return fmt.Errorf("mount path is required")
	}
	if server == nil {
		return fmt.Errorf("mount server is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byPath[path]; ok {
		return fmt.Errorf("path %q is already mounted", path)
	}

	mp := &MountPoint{Path: path, Server: server, Prefix: prefix}
	c.mounts = append(c.mounts, mp)
	c.byPath[path] = mp

	return nil
}

// Unmount removes the mount at path from both the ordered list and the path
// index atomically. Other mounts are unaffected.
func (c *ComposedServer) Unmount(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byPath[path]; !ok {
		return fmt.Errorf("path %q is not mounted", path)
	}
	delete(c.byPath, path)

	for i, mp := range c.mounts {
		if mp.Path == path {
			c.mounts = append(c.mounts[:i], c.mounts[i+1:]...)
			break
		}
	}

	return nil
}

// MountPoints returns a snapshot of the mounts in registration order.
func (c *ComposedServer) MountPoints() []MountPoint {
	c.mu.RLock()
	defer c.mu.RUnlock()

	mounts := make([]MountPoint, 0, len(c.mounts))
	for _, mp := range c.mounts {
		mounts = append(mounts, *mp)
	}
	return mounts
}

// Capabilities returns the union of all mounted servers' non-empty capability
// sets.
func (c *ComposedServer) Capabilities() ServerCapabilities {
	caps := ServerCapabilities{}
	for _, mp := range c.MountPoints() {
		childCaps := mp.Server.Capabilities()
		if childCaps.Tools != nil {
			caps.Tools = &ToolsCapability{}
		}
		if childCaps.Resources != nil {
			caps.Resources = &ResourcesCapability{}
		}
		if childCaps.Prompts != nil {
			caps.Prompts = &PromptsCapability{}
		}
	}
	return caps
}

// HandleRaw parses a wire buffer and dispatches it across the mounts.
func (c *ComposedServer) HandleRaw(data []byte, sink EventSink, sessionID string) *JSONRPCMessage {
	msg, jsonErr := parseMessage(data)
	if jsonErr != nil {
		resp := newErrorMessage(msg.ID, *jsonErr)
		return &resp
	}
	return c.Handle(msg, sink, sessionID)
}

// Handle dispatches one parsed message across the mounts, returning nil for
// notifications.
func (c *ComposedServer) Handle(msg JSONRPCMessage, sink EventSink, sessionID string) *JSONRPCMessage {
	if msg.IsNotification() {
		c.handleNotification(msg, sink, sessionID)
		return nil
	}

	resp := c.handleRequest(msg, sink, sessionID)
	return &resp
}

func (c *ComposedServer) handleNotification(msg JSONRPCMessage, sink EventSink, sessionID string) {
	// Notifications fan out: any mount holding the in-flight request reacts,
	// the others ignore it.
	for _, mp := range c.MountPoints() {
		mp.Server.Handle(msg, sink, sessionID)
	}
}

func (c *ComposedServer) handleRequest(msg JSONRPCMessage, sink EventSink, sessionID string) JSONRPCMessage {
	switch msg.Method {
	case methodPing:
		resMsg, err := newResultMessage(msg.ID, struct{}{})
		if err != nil {
			return newErrorMessage(msg.ID, JSONRPCError{Code: jsonRPCInternalErrorCode, Message: err.Error()})
		}
		return resMsg
	case methodInitialize:
		return c.initializeAll(msg)
	}

	if !c.initialized.Load() {
		return newErrorMessage(msg.ID, JSONRPCError{
			Code:    jsonRPCInvalidRequestCode,
			Message: "server is not initialized",
		})
	}

	switch msg.Method {
	case MethodToolsList:
		return c.listTools(msg.ID)
	case MethodResourcesList:
		return c.listResources(msg.ID)
	case MethodResourcesTemplatesList:
		return c.listResourceTemplates(msg.ID)
	case MethodPromptsList:
		return c.listPrompts(msg.ID)
	case MethodToolsCall:
		return routeNamed(c, msg, sink, sessionID, func(params *CallToolParams) *string { return &params.Name },
			func(mp *MountPoint, name string) bool {
				_, ok := mp.Server.Registry().LookupTool(name)
				return ok
			})
	case MethodPromptsGet:
		return routeNamed(c, msg, sink, sessionID, func(params *GetPromptParams) *string { return &params.Name },
			func(mp *MountPoint, name string) bool {
				_, ok := mp.Server.Registry().LookupPrompt(name)
				return ok
			})
	case MethodResourcesRead:
		return routeNamed(c, msg, sink, sessionID, func(params *ReadResourceParams) *string { return &params.URI },
			func(mp *MountPoint, uri string) bool {
				_, _, ok := mp.Server.Registry().ResolveResource(uri)
				return ok
			})
	default:
		return newErrorMessage(msg.ID, JSONRPCError{
			Code:    jsonRPCMethodNotFoundCode,
			Message: fmt.Sprintf("method not found: %s", msg.Method),
		})
	}
}

// initializeAll transitively initializes every mount not yet initialized. A
// single child failure fails the aggregate call and leaves the composed
// server uninitialized.
func (c *ComposedServer) initializeAll(msg JSONRPCMessage) JSONRPCMessage {
	var params initializeParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return newErrorMessage(msg.ID, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("failed to unmarshal params: %s", err),
		})
	}

	for _, mp := range c.MountPoints() {
		if mp.Server.Initialized() {
			continue
		}
		if _, err := mp.Server.initialize(params); err != nil {
			c.logger.Error("failed to initialize mount",
				slog.String("path", mp.Path),
				slog.String("err", err.Error()))
			jsonErr := JSONRPCError{}
			if !errors.As(err, &jsonErr) {
				jsonErr = JSONRPCError{Code: jsonRPCInternalErrorCode, Message: err.Error()}
			}
			return newErrorMessage(msg.ID, jsonErr)
		}
	}

	c.initialized.Store(true)

	res := initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities:    c.Capabilities(),
		ServerInfo:      c.info,
	}
	resMsg, err := newResultMessage(msg.ID, res)
	if err != nil {
		return newErrorMessage(msg.ID, JSONRPCError{Code: jsonRPCInternalErrorCode, Message: err.Error()})
	}
	return resMsg
}

// routeNamed routes a single-target request (tools/call, prompts/get,
// resources/read) to the owning mount. A declared prefix match wins first;
// otherwise the first mount whose registry holds the bare name is used.
func routeNamed[P any](c *ComposedServer, msg JSONRPCMessage, sink EventSink, sessionID string,
	nameOf func(*P) *string, contains func(*MountPoint, string) bool,
) JSONRPCMessage {
	var params P
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return newErrorMessage(msg.ID, JSONRPCError{
			Code:    jsonRPCInvalidParamsCode,
			Message: fmt.Sprintf("failed to unmarshal params: %s", err),
		})
	}

	name := *nameOf(&params)

	for _, mp := range c.MountPoints() {
		var bare string
		switch {
		case mp.Prefix != "" && strings.HasPrefix(name, mp.Prefix):
			bare = strings.TrimPrefix(name, mp.Prefix)
		case contains(&mp, name):
			bare = name
		default:
			continue
		}

		*nameOf(&params) = bare
		newParams, err := json.Marshal(params)
		if err != nil {
			return newErrorMessage(msg.ID, JSONRPCError{Code: jsonRPCInternalErrorCode, Message: err.Error()})
		}
		childMsg := msg
		childMsg.Params = newParams

		resp := mp.Server.Handle(childMsg, sink, sessionID)
		if resp == nil {
			return newErrorMessage(msg.ID, JSONRPCError{Code: jsonRPCInternalErrorCode, Message: "missing response"})
		}
		return *resp
	}

	return newErrorMessage(msg.ID, JSONRPCError{
		Code:    jsonRPCInvalidParamsCode,
		Message: fmt.Sprintf("unknown target: %s", name),
	})
}

func (c *ComposedServer) listTools(id RequestID) JSONRPCMessage {
	tools := make([]Tool, 0)
	for _, mp := range c.MountPoints() {
		for _, tool := range mp.Server.Registry().Tools() {
			tool.Name = mp.Prefix + tool.Name
			tools = append(tools, tool)
		}
	}
	msg, err := newResultMessage(id, ListToolsResult{Tools: tools})
	if err != nil {
		return newErrorMessage(id, JSONRPCError{Code: jsonRPCInternalErrorCode, Message: err.Error()})
	}
	return msg
}

func (c *ComposedServer) listResources(id RequestID) JSONRPCMessage {
	resources := make([]Resource, 0)
	for _, mp := range c.MountPoints() {
		for _, resource := range mp.Server.Registry().Resources() {
			resource.URI = mp.Prefix + resource.URI
			resources = append(resources, resource)
		}
	}
	msg, err := newResultMessage(id, ListResourcesResult{Resources: resources})
	if err != nil {
		return newErrorMessage(id, JSONRPCError{Code: jsonRPCInternalErrorCode, Message: err.Error()})
	}
	return msg
}

func (c *ComposedServer) listResourceTemplates(id RequestID) JSONRPCMessage {
	templates := make([]ResourceTemplate, 0)
	for _, mp := range c.MountPoints() {
		for _, template := range mp.Server.Registry().ResourceTemplates() {
			template.URITemplate = mp.Prefix + template.URITemplate
			templates = append(templates, template)
		}
	}
	msg, err := newResultMessage(id, ListResourceTemplatesResult{Templates: templates})
	if err != nil {
		return newErrorMessage(id, JSONRPCError{Code: jsonRPCInternalErrorCode, Message: err.Error()})
	}
	return msg
}

func (c *ComposedServer) listPrompts(id RequestID) JSONRPCMessage {
	prompts := make([]Prompt, 0)
	for _, mp := range c.MountPoints() {
		for _, prompt := range mp.Server.Registry().Prompts() {
			prompt.Name = mp.Prefix + prompt.Name
			prompts = append(prompts, prompt)
		}
	}
	msg, err := newResultMessage(id, ListPromptsResult{Prompts: prompts})
	if err != nil {
		return newErrorMessage(id, JSONRPCError{Code: jsonRPCInternalErrorCode, Message: err.Error()})
	}
	return msg
}
