package mcp

import (
	"fmt"
	"time"

	"github.com/joeshaw/envdecode"
)

// Config carries the environment-driven settings for running a server
// binary. Programmatic embedders configure servers and transports through
// functional options instead.
type Config struct {
	// Transport selects the wire transport: stdio, http, websocket or sse.
	Transport string `env:"MCP_TRANSPORT,default=stdio"`

	// ListenAddress is the bind address for the HTTP-family transports.
	ListenAddress string `env:"MCP_LISTEN_ADDRESS,default=:8080"`

	// StdioWorkers is the size of the stdio transport's worker pool.
	StdioWorkers int `env:"MCP_STDIO_WORKERS,default=4"`

	// RequestTimeout bounds the derived context of every request. Zero
	// disables the deadline.
	RequestTimeout time.Duration `env:"MCP_REQUEST_TIMEOUT,default=0"`

	// AuthToken, when set, enables static bearer-token authentication on the
	// HTTP-family transports.
	AuthToken string `env:"MCP_AUTH_TOKEN"`

	// JWTSecret, when set, enables JWT bearer authentication instead of the
	// static token.
	JWTSecret string `env:"MCP_JWT_SECRET"`

	// LogLevel sets the slog level: debug, info, warn or error.
	LogLevel string `env:"MCP_LOG_LEVEL,default=info"`
}

// ConfigFromEnv reads the configuration from the process environment.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config from environment: %w", err)
	}
	return cfg, nil
}

// TokenValidator returns the validator implied by the configuration, or nil
// when authentication is disabled.
func (c Config) TokenValidator() TokenValidator {
	if c.JWTSecret != "" {
		return NewJWTValidator([]byte(c.JWTSecret))
	}
	if c.AuthToken != "" {
		return NewStaticTokenValidator(c.AuthToken)
	}
	return nil
}
