package mcp_test

import (
	"encoding/json"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	mcp "github.com/modelctx/go-mcp"
)

func newComposedTestServer(t *testing.T) (*mcp.ComposedServer, *mcp.Server, *mcp.Server) {
	t.Helper()

	calc := newCalculatorServer(t)

	text := mcp.NewServer(mcp.Info{Name: "text", Version: "1.0"})
	err := text.Registry().RegisterTool(mcp.ServerTool{
		Tool: mcp.Tool{Name: "echo"},
		Handler: func(_ *mcp.RequestContext, raw json.RawMessage) (mcp.CallToolResult, error) {
			return mcp.CallToolResult{
				Content: []mcp.Content{{Type: mcp.ContentTypeText, Text: string(raw)}},
			}, nil
		},
	})
	if err != nil {
		t.Fatalf("failed to register echo tool: %v", err)
	}
	err = text.Registry().RegisterPrompt(mcp.ServerPrompt{
		Prompt: mcp.Prompt{Name: "greet"},
		Handler: func(*mcp.RequestContext, mcp.GetPromptParams) (mcp.GetPromptResult, error) {
			return mcp.GetPromptResult{}, nil
		},
	})
	if err != nil {
		t.Fatalf("failed to register prompt: %v", err)
	}

	composed := mcp.NewComposedServer(mcp.Info{Name: "composed", Version: "1.0"})
	if err := composed.Mount("/calc", calc, "calc_"); err != nil {
		t.Fatalf("failed to mount calc: %v", err)
	}
	if err := composed.Mount("/text", text, ""); err != nil {
		t.Fatalf("failed to mount text: %v", err)
	}

	return composed, calc, text
}

func initializeComposed(t *testing.T, composed *mcp.ComposedServer) {
	t.Helper()

	resp := composed.Handle(request("init", "initialize", initializeParamsJSON), nil, "")
	if resp == nil || resp.Error != nil {
		t.Fatalf("initialize failed: %+v", resp)
	}
}

func TestComposedServerInitializesMountsTransitively(t *testing.T) {
	composed, calc, text := newComposedTestServer(t)

	resp := composed.Handle(request("1", "initialize", initializeParamsJSON), nil, "")
	if resp.Error != nil {
		t.Fatalf("initialize failed: %v", resp.Error)
	}

	if !calc.Initialized() {
		t.Error("expected calc mount to be initialized")
	}
	if !text.Initialized() {
		t.Error("expected text mount to be initialized")
	}

	var result struct {
		Capabilities mcp.ServerCapabilities `json:"capabilities"`
		ServerInfo   mcp.Info               `json:"serverInfo"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	// The union carries every capability any mount advertises.
	if result.Capabilities.Tools == nil {
		t.Error("expected tools capability in the union")
	}
	if result.Capabilities.Prompts == nil {
		t.Error("expected prompts capability in the union")
	}
	if result.ServerInfo.Name != "composed" {
		t.Errorf("expected composed identity, got %s", result.ServerInfo.Name)
	}
}

func TestComposedServerGatesUntilInitialized(t *testing.T) {
	composed, _, _ := newComposedTestServer(t)

	resp := composed.Handle(request("1", mcp.MethodToolsList, ""), nil, "")
	if resp.Error == nil || resp.Error.Code != -32600 {
		t.Errorf("expected -32600 before initialize, got %+v", resp.Error)
	}

	resp = composed.Handle(request("2", "ping", ""), nil, "")
	if resp.Error != nil {
		t.Errorf("expected ping to work before initialize, got %v", resp.Error)
	}
}

func TestComposedServerListsPrefixedTools(t *testing.T) {
	composed, _, _ := newComposedTestServer(t)
	initializeComposed(t, composed)

	resp := composed.Handle(request("1", mcp.MethodToolsList, ""), nil, "")
	if resp.Error != nil {
		t.Fatalf("tools/list failed: %v", resp.Error)
	}

	var result mcp.ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	names := make([]string, 0, len(result.Tools))
	for _, tool := range result.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)

	if diff := cmp.Diff([]string{"calc_add", "echo"}, names); diff != "" {
		t.Errorf("tool names mismatch (-want +got):\n%s", diff)
	}
}

func TestComposedServerRoutesByPrefix(t *testing.T) {
	composed, _, _ := newComposedTestServer(t)
	initializeComposed(t, composed)

	resp := composed.Handle(request("1", mcp.MethodToolsCall,
		`{"name":"calc_add","arguments":{"a":5,"b":3}}`), nil, "")
	if got := toolText(t, resp); got != "8" {
		t.Errorf("expected 8, got %s", got)
	}
}

func TestComposedServerRoutesBareNames(t *testing.T) {
	composed, _, _ := newComposedTestServer(t)
	initializeComposed(t, composed)

	// echo has no prefix; routing falls back to the mount whose registry
	// holds the bare name.
	resp := composed.Handle(request("1", mcp.MethodToolsCall, `{"name":"echo","arguments":{}}`), nil, "")
	if resp.Error != nil {
		t.Errorf("expected bare-name routing to succeed, got %v", resp.Error)
	}
}

func TestComposedServerUnknownTarget(t *testing.T) {
	composed, _, _ := newComposedTestServer(t)
	initializeComposed(t, composed)

	resp := composed.Handle(request("1", mcp.MethodToolsCall, `{"name":"nope","arguments":{}}`), nil, "")
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Errorf("expected -32602 for unknown target, got %+v", resp.Error)
	}
}

func TestComposedServerUnmount(t *testing.T) {
	composed, _, _ := newComposedTestServer(t)
	initializeComposed(t, composed)

	if err := composed.Unmount("/calc"); err != nil {
		t.Fatalf("unmount failed: %v", err)
	}
	if err := composed.Unmount("/calc"); err == nil {
		t.Error("expected second unmount to fail")
	}

	mounts := composed.MountPoints()
	if len(mounts) != 1 || mounts[0].Path != "/text" {
		t.Errorf("unexpected mounts after unmount: %+v", mounts)
	}

	// The unmounted server's tools are gone from routing and listing alike.
	resp := composed.Handle(request("1", mcp.MethodToolsCall,
		`{"name":"calc_add","arguments":{"a":5,"b":3}}`), nil, "")
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Errorf("expected -32602 after unmount, got %+v", resp.Error)
	}

	resp = composed.Handle(request("2", mcp.MethodToolsList, ""), nil, "")
	var result mcp.ListToolsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if len(result.Tools) != 1 || result.Tools[0].Name != "echo" {
		t.Errorf("unexpected tools after unmount: %+v", result.Tools)
	}
}

func TestComposedServerRejectsDuplicateMountPath(t *testing.T) {
	composed, calc, _ := newComposedTestServer(t)

	if err := composed.Mount("/calc", calc, "other_"); err == nil {
		t.Error("expected duplicate mount path to be rejected")
	}
}

func TestComposedServerRoutesPrompts(t *testing.T) {
	composed, _, _ := newComposedTestServer(t)
	initializeComposed(t, composed)

	resp := composed.Handle(request("1", mcp.MethodPromptsGet, `{"name":"greet"}`), nil, "")
	if resp.Error != nil {
		t.Errorf("expected prompt routing to succeed, got %v", resp.Error)
	}

	resp = composed.Handle(request("2", mcp.MethodPromptsList, ""), nil, "")
	var result mcp.ListPromptsResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if len(result.Prompts) != 1 || result.Prompts[0].Name != "greet" {
		t.Errorf("unexpected prompts: %+v", result.Prompts)
	}
}

func TestComposedServerNotificationsFanOut(t *testing.T) {
	composed, _, _ := newComposedTestServer(t)
	initializeComposed(t, composed)

	// Notifications are fire-and-forget across every mount.
	resp := composed.Handle(mcp.JSONRPCMessage{
		JSONRPC: mcp.JSONRPCVersion,
		Method:  "notifications/initialized",
	}, nil, "")
	if resp != nil {
		t.Errorf("expected nil response for notification, got %+v", resp)
	}
}
