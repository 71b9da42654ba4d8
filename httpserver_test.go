package mcp_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	mcp "github.com/modelctx/go-mcp"
)

func newHTTPTestServer(t *testing.T, options ...mcp.HTTPOption) (*mcp.Server, *httptest.Server) {
	t.Helper()

	srv := newCalculatorServer(t)
	options = append([]mcp.HTTPOption{mcp.WithHTTPInfo(srv.Info())}, options...)
	transport := mcp.NewHTTPTransport(srv, options...)

	ts := httptest.NewServer(transport)
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url, body string, headers map[string]string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHTTPTransportServesInfo(t *testing.T) {
	_, ts := newHTTPTestServer(t)

	resp, err := http.Get(ts.URL)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var info mcp.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("failed to decode info: %v", err)
	}
	if info.Name != "calculator" {
		t.Errorf("expected server name calculator, got %s", info.Name)
	}
}

func TestHTTPTransportDispatchesRequests(t *testing.T) {
	_, ts := newHTTPTestServer(t)

	resp := postJSON(t, ts.URL, `{"jsonrpc":"2.0","id":"1","method":"initialize","params":`+initializeParamsJSON+`}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var msg mcp.JSONRPCMessage
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if msg.Error != nil {
		t.Fatalf("initialize failed: %v", msg.Error)
	}

	resp = postJSON(t, ts.URL, `{"jsonrpc":"2.0","id":"2","method":"tools/call","params":{"name":"add","arguments":{"a":5,"b":3}}}`, nil)
	if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		t.Fatalf("failed to unmarshal tool result: %v", err)
	}
	if result.Content[0].Text != "8" {
		t.Errorf("expected 8, got %s", result.Content[0].Text)
	}
}

func TestHTTPTransportAcknowledgesNotifications(t *testing.T) {
	_, ts := newHTTPTestServer(t)

	resp := postJSON(t, ts.URL, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("expected 202 for notification, got %d", resp.StatusCode)
	}

	body, _ := io.ReadAll(resp.Body)
	if len(body) != 0 {
		t.Errorf("expected empty body for notification, got %q", body)
	}
}

func TestHTTPTransportRejectsWrongContentType(t *testing.T) {
	_, ts := newHTTPTestServer(t)

	req, err := http.NewRequest(http.MethodPost, ts.URL, strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415, got %d", resp.StatusCode)
	}
}

func TestHTTPTransportPreflight(t *testing.T) {
	_, ts := newHTTPTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, ts.URL, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204 for OPTIONS, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("expected CORS origin header, got %q", got)
	}
}

func TestHTTPTransportAuthentication(t *testing.T) {
	_, ts := newHTTPTestServer(t,
		mcp.WithHTTPTokenValidator(mcp.NewStaticTokenValidator("secret")),
		mcp.WithHTTPUnauthorizedBody("nope"),
	)

	// Missing token is rejected before any JSON-RPC processing.
	resp := postJSON(t, ts.URL, `{"jsonrpc":"2.0","id":"1","method":"ping"}`, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "nope" {
		t.Errorf("expected configured 401 body, got %q", body)
	}

	// A valid token passes.
	resp = postJSON(t, ts.URL, `{"jsonrpc":"2.0","id":"1","method":"ping"}`,
		map[string]string{"Authorization": "Bearer secret"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 with valid token, got %d", resp.StatusCode)
	}

	// OPTIONS bypasses authentication entirely.
	req, _ := http.NewRequest(http.MethodOptions, ts.URL, nil)
	optResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer optResp.Body.Close()
	if optResp.StatusCode != http.StatusNoContent {
		t.Errorf("expected OPTIONS to bypass auth with 204, got %d", optResp.StatusCode)
	}
}
