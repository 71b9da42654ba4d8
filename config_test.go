package mcp_test

import (
	"testing"
	"time"

	mcp "github.com/modelctx/go-mcp"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := mcp.ConfigFromEnv()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Transport != "stdio" {
		t.Errorf("expected default transport stdio, got %s", cfg.Transport)
	}
	if cfg.ListenAddress != ":8080" {
		t.Errorf("expected default listen address :8080, got %s", cfg.ListenAddress)
	}
	if cfg.StdioWorkers != 4 {
		t.Errorf("expected default worker count 4, got %d", cfg.StdioWorkers)
	}
	if cfg.RequestTimeout != 0 {
		t.Errorf("expected no default request timeout, got %v", cfg.RequestTimeout)
	}
	if cfg.TokenValidator() != nil {
		t.Error("expected authentication to be disabled by default")
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("MCP_TRANSPORT", "sse")
	t.Setenv("MCP_LISTEN_ADDRESS", ":9999")
	t.Setenv("MCP_STDIO_WORKERS", "8")
	t.Setenv("MCP_REQUEST_TIMEOUT", "30s")
	t.Setenv("MCP_AUTH_TOKEN", "secret")

	cfg, err := mcp.ConfigFromEnv()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Transport != "sse" {
		t.Errorf("expected transport sse, got %s", cfg.Transport)
	}
	if cfg.ListenAddress != ":9999" {
		t.Errorf("expected listen address :9999, got %s", cfg.ListenAddress)
	}
	if cfg.StdioWorkers != 8 {
		t.Errorf("expected worker count 8, got %d", cfg.StdioWorkers)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("expected request timeout 30s, got %v", cfg.RequestTimeout)
	}

	validator := cfg.TokenValidator()
	if validator == nil {
		t.Fatal("expected a validator with MCP_AUTH_TOKEN set")
	}
	if !validator("secret") || validator("wrong") {
		t.Error("expected static token validator semantics")
	}
}

func TestConfigJWTWinsOverStaticToken(t *testing.T) {
	t.Setenv("MCP_AUTH_TOKEN", "static")
	t.Setenv("MCP_JWT_SECRET", "jwt-secret")

	cfg, err := mcp.ConfigFromEnv()
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	validator := cfg.TokenValidator()
	if validator == nil {
		t.Fatal("expected a validator")
	}
	// A JWT validator never accepts the raw static token.
	if validator("static") {
		t.Error("expected JWT validation to take precedence over the static token")
	}
}
