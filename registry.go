package mcp

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"
	"github.com/yosida95/uritemplate/v3"
)

// ToolHandler executes a registered tool. It receives the per-request context
// and the raw JSON arguments object from the tools/call request.
type ToolHandler func(ctx *RequestContext, args json.RawMessage) (CallToolResult, error)

// ResourceHandler reads a registered resource. For template-registered
// resources, params carries the variables extracted from the URI template
// match; for exact resources it is empty.
type ResourceHandler func(ctx *RequestContext, uri string, params map[string]string) (ReadResourceResult, error)

// PromptHandler renders a registered prompt with the given arguments.
type PromptHandler func(ctx *RequestContext, params GetPromptParams) (GetPromptResult, error)

// ServerTool pairs a tool descriptor with its handler.
type ServerTool struct {
	Tool    Tool
	Handler ToolHandler
}

// ServerResource pairs an exact-URI resource descriptor with its handler.
type ServerResource struct {
	Resource Resource
	Handler  ResourceHandler
}

// ServerResourceTemplate pairs a resource template descriptor with its
// handler. The URITemplate must be a valid RFC 6570 template.
type ServerResourceTemplate struct {
	Template ResourceTemplate
	Handler  ResourceHandler
}

// ServerPrompt pairs a prompt descriptor with its handler.
type ServerPrompt struct {
	Prompt  Prompt
	Handler PromptHandler
}

type registeredTemplate struct {
	entry    ServerResourceTemplate
	compiled *uritemplate.Template
}

// Registry holds the tools, resources and prompts a Server exposes. All
// methods are safe for concurrent use; registration may happen at any time,
// including from inside a running handler.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]ServerTool
	resources map[string]ServerResource
	templates []registeredTemplate
	prompts   map[string]ServerPrompt
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:     make(map[string]ServerTool),
		resources: make(map[string]ServerResource),
		prompts:   make(map[string]ServerPrompt),
	}
}

// RegisterTool adds a tool to the registry. It returns an error if the name
// is already taken or the tool carries no handler.
func (r *Registry) RegisterTool(st ServerTool) error {
	if st.Tool.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if st.Handler == nil {
		return fmt.Errorf("tool %q has no handler", st.Tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[st.Tool.Name]; ok {
		return fmt.Errorf("tool %q is already registered", st.Tool.Name)
	}
	r.tools[st.Tool.Name] = st

	return nil
}

// RegisterResource adds an exact-URI resource to the registry. It returns an
// error if the URI is already taken or the resource carries no handler.
func (r *Registry) RegisterResource(sr ServerResource) error {
	if sr.Resource.URI == "" {
		return fmt.Errorf("resource URI is required")
	}
	if sr.Handler == nil {
		return fmt.Errorf("resource %q has no handler", sr.Resource.URI)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.resources[sr.Resource.URI]; ok {
		return fmt.Errorf("resource %q is already registered", sr.Resource.URI)
	}
	r.resources[sr.Resource.URI] = sr

	return nil
}

// RegisterResourceTemplate adds a templated resource to the registry. The
// template is compiled eagerly so an invalid template fails at registration
// time, not at read time.
func (r *Registry) RegisterResourceTemplate(srt ServerResourceTemplate) error {
	if srt.Handler == nil {
		return fmt.Errorf("resource template %q has no handler", srt.Template.URITemplate)
	}

	compiled, err := uritemplate.New(srt.Template.URITemplate)
	if err != nil {
		return fmt.Errorf("failed to compile resource template %q: %w", srt.Template.URITemplate, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range r.templates {
		if t.entry.Template.URITemplate == srt.Template.URITemplate {
			return fmt.Errorf("resource template %q is already registered", srt.Template.URITemplate)
		}
	}
	r.templates = append(r.templates, registeredTemplate{entry: srt, compiled: compiled})

	return nil
}

// RegisterPrompt adds a prompt to the registry. It returns an error if the
// name is already taken or the prompt carries no handler.
func (r *Registry) RegisterPrompt(sp ServerPrompt) error {
	if sp.Prompt.Name == "" {
		return fmt.Errorf("prompt name is required")
	}
	if sp.Handler == nil {
		return fmt.Errorf("prompt %q has no handler", sp.Prompt.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.prompts[sp.Prompt.Name]; ok {
		return fmt.Errorf("prompt %q is already registered", sp.Prompt.Name)
	}
	r.prompts[sp.Prompt.Name] = sp

	return nil
}

// Tools returns a snapshot of the registered tool descriptors.
func (r *Registry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, st := range r.tools {
		tools = append(tools, st.Tool)
	}
	return tools
}

// Resources returns a snapshot of the registered resource descriptors.
func (r *Registry) Resources() []Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resources := make([]Resource, 0, len(r.resources))
	for _, sr := range r.resources {
		resources = append(resources, sr.Resource)
	}
	return resources
}

// ResourceTemplates returns a snapshot of the registered resource template
// descriptors.
func (r *Registry) ResourceTemplates() []ResourceTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()

	templates := make([]ResourceTemplate, 0, len(r.templates))
	for _, t := range r.templates {
		templates = append(templates, t.entry.Template)
	}
	return templates
}

// Prompts returns a snapshot of the registered prompt descriptors.
func (r *Registry) Prompts() []Prompt {
	r.mu.RLock()
	defer r.mu.RUnlock()

	prompts := make([]Prompt, 0, len(r.prompts))
	for _, sp := range r.prompts {
		prompts = append(prompts, sp.Prompt)
	}
	return prompts
}

// LookupTool returns the registered tool for name.
func (r *Registry) LookupTool(name string) (ServerTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.tools[name]
	return st, ok
}

// LookupPrompt returns the registered prompt for name.
func (r *Registry) LookupPrompt(name string) (ServerPrompt, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sp, ok := r.prompts[name]
	return sp, ok
}

// ResolveResource finds the handler responsible for uri. Exact registrations
// win over templates; templates are tried in registration order with the
// matched variables returned as params.
func (r *Registry) ResolveResource(uri string) (ResourceHandler, map[string]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if sr, ok := r.resources[uri]; ok {
		return sr.Handler, map[string]string{}, true
	}

	for _, t := range r.templates {
		match := t.compiled.Match(uri)
		if match == nil {
			continue
		}
		params := make(map[string]string, len(match))
		for name, value := range match {
			params[name] = value.String()
		}
		return t.entry.Handler, params, true
	}

	return nil, nil, false
}

// validateToolArgs checks the raw arguments object against the tool's input
// schema. Tools registered without a schema accept any arguments.
func validateToolArgs(tool Tool, args json.RawMessage) error {
	if len(tool.InputSchema) == 0 {
		return nil
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(tool.InputSchema),
		gojsonschema.NewBytesLoader(args),
	)
	if err != nil {
		return fmt.Errorf("failed to validate arguments: %w", err)
	}

	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("invalid arguments: %s", errs[0])
		}
		return fmt.Errorf("invalid arguments")
	}

	return nil
}
