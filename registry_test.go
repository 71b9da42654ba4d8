package mcp_test

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	mcp "github.com/modelctx/go-mcp"
)

func nopToolHandler(*mcp.RequestContext, json.RawMessage) (mcp.CallToolResult, error) {
	return mcp.CallToolResult{}, nil
}

func nopResourceHandler(*mcp.RequestContext, string, map[string]string) (mcp.ReadResourceResult, error) {
	return mcp.ReadResourceResult{}, nil
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := mcp.NewRegistry()

	tool := mcp.ServerTool{Tool: mcp.Tool{Name: "echo"}, Handler: nopToolHandler}
	if err := registry.RegisterTool(tool); err != nil {
		t.Fatalf("failed to register tool: %v", err)
	}
	if err := registry.RegisterTool(tool); err == nil {
		t.Error("expected duplicate tool registration to fail")
	}

	resource := mcp.ServerResource{
		Resource: mcp.Resource{URI: "note:///a", Name: "a"},
		Handler:  nopResourceHandler,
	}
	if err := registry.RegisterResource(resource); err != nil {
		t.Fatalf("failed to register resource: %v", err)
	}
	if err := registry.RegisterResource(resource); err == nil {
		t.Error("expected duplicate resource registration to fail")
	}

	prompt := mcp.ServerPrompt{
		Prompt: mcp.Prompt{Name: "greet"},
		Handler: func(*mcp.RequestContext, mcp.GetPromptParams) (mcp.GetPromptResult, error) {
			return mcp.GetPromptResult{}, nil
		},
	}
	if err := registry.RegisterPrompt(prompt); err != nil {
		t.Fatalf("failed to register prompt: %v", err)
	}
	if err := registry.RegisterPrompt(prompt); err == nil {
		t.Error("expected duplicate prompt registration to fail")
	}
}

func TestRegistryRejectsMissingHandler(t *testing.T) {
	registry := mcp.NewRegistry()

	if err := registry.RegisterTool(mcp.ServerTool{Tool: mcp.Tool{Name: "echo"}}); err == nil {
		t.Error("expected tool without handler to be rejected")
	}
	if err := registry.RegisterResource(mcp.ServerResource{
		Resource: mcp.Resource{URI: "note:///a"},
	}); err == nil {
		t.Error("expected resource without handler to be rejected")
	}
	if err := registry.RegisterPrompt(mcp.ServerPrompt{Prompt: mcp.Prompt{Name: "greet"}}); err == nil {
		t.Error("expected prompt without handler to be rejected")
	}
}

func TestRegistryRejectsInvalidTemplate(t *testing.T) {
	registry := mcp.NewRegistry()

	err := registry.RegisterResourceTemplate(mcp.ServerResourceTemplate{
		Template: mcp.ResourceTemplate{URITemplate: "note:///{unclosed"},
		Handler:  nopResourceHandler,
	})
	if err == nil {
		t.Error("expected invalid template to be rejected at registration time")
	}
}

func TestRegistryResolveResourceExactWinsOverTemplate(t *testing.T) {
	registry := mcp.NewRegistry()

	err := registry.RegisterResourceTemplate(mcp.ServerResourceTemplate{
		Template: mcp.ResourceTemplate{URITemplate: "note:///{name}"},
		Handler: func(_ *mcp.RequestContext, uri string, _ map[string]string) (mcp.ReadResourceResult, error) {
			return mcp.ReadResourceResult{
				Contents: []mcp.ResourceContents{{URI: uri, Text: "template"}},
			}, nil
		},
	})
	if err != nil {
		t.Fatalf("failed to register template: %v", err)
	}

	err = registry.RegisterResource(mcp.ServerResource{
		Resource: mcp.Resource{URI: "note:///pinned", Name: "pinned"},
		Handler: func(_ *mcp.RequestContext, uri string, _ map[string]string) (mcp.ReadResourceResult, error) {
			return mcp.ReadResourceResult{
				Contents: []mcp.ResourceContents{{URI: uri, Text: "exact"}},
			}, nil
		},
	})
	if err != nil {
		t.Fatalf("failed to register resource: %v", err)
	}

	handler, params, ok := registry.ResolveResource("note:///pinned")
	if !ok {
		t.Fatal("expected resolution to succeed")
	}
	if len(params) != 0 {
		t.Errorf("expected no template params for exact match, got %v", params)
	}
	result, err := handler(nil, "note:///pinned", params)
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result.Contents[0].Text != "exact" {
		t.Errorf("expected exact registration to win, got %q", result.Contents[0].Text)
	}

	_, params, ok = registry.ResolveResource("note:///other")
	if !ok {
		t.Fatal("expected template resolution to succeed")
	}
	want := map[string]string{"name": "other"}
	if diff := cmp.Diff(want, params); diff != "" {
		t.Errorf("template params mismatch (-want +got):\n%s", diff)
	}

	if _, _, ok := registry.ResolveResource("other:///x"); ok {
		t.Error("expected unknown scheme to not resolve")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	registry := mcp.NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		i := i
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = registry.RegisterTool(mcp.ServerTool{
				Tool:    mcp.Tool{Name: fmt.Sprintf("tool-%d", i)},
				Handler: nopToolHandler,
			})
		}()
		go func() {
			defer wg.Done()
			for _, tool := range registry.Tools() {
				registry.LookupTool(tool.Name)
			}
		}()
	}
	wg.Wait()

	if got := len(registry.Tools()); got != 16 {
		t.Errorf("expected 16 registered tools, got %d", got)
	}
}
