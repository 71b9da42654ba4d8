// Command calculator runs a small arithmetic server over any of the
// supported transports. The transport and listen address come from the
// environment (MCP_TRANSPORT, MCP_LISTEN_ADDRESS).
package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/spf13/cast"

	mcp "github.com/modelctx/go-mcp"
)

var addSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "a": {"type": "number", "description": "First operand"},
    "b": {"type": "number", "description": "Second operand"}
  },
  "required": ["a", "b"]
}`)

var subtractSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "a": {"type": "number", "description": "First operand"},
    "b": {"type": "number", "description": "Second operand"}
  },
  "required": ["a", "b"]
}`)

func binaryOp(op func(a, b float64) float64) mcp.ToolHandler {
	return func(_ *mcp.RequestContext, raw json.RawMessage) (mcp.CallToolResult, error) {
		args := map[string]any{}
		if err := json.Unmarshal(raw, &args); err != nil {
			return mcp.CallToolResult{}, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}

		a := cast.ToFloat64(args["a"])
		b := cast.ToFloat64(args["b"])

		return mcp.CallToolResult{
			Content: []mcp.Content{{
				Type: mcp.ContentTypeText,
				Text: strconv.FormatFloat(op(a, b), 'f', -1, 64),
			}},
		}, nil
	}
}

func main() {
	cfg, err := mcp.ConfigFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	registry := mcp.NewRegistry()
	ops := []mcp.ServerTool{
		{
			Tool: mcp.Tool{
				Name:        "add",
				Description: "Add two numbers.",
				InputSchema: addSchema,
			},
			Handler: binaryOp(func(a, b float64) float64 { return a + b }),
		},
		{
			Tool: mcp.Tool{
				Name:        "subtract",
				Description: "Subtract b from a.",
				InputSchema: subtractSchema,
			},
			Handler: binaryOp(func(a, b float64) float64 { return a - b }),
		},
	}
	for _, st := range ops {
		if err := registry.RegisterTool(st); err != nil {
			fmt.Fprintln(os.Stderr, "failed to register tool:", err)
			os.Exit(1)
		}
	}

	srv := mcp.NewServer(mcp.Info{
		Name:    "calculator",
		Version: "1.0",
	},
		mcp.WithRegistry(registry),
		mcp.WithRequestTimeout(cfg.RequestTimeout),
		mcp.WithServerLogger(logger),
	)

	switch cfg.Transport {
	case "stdio":
		transport := mcp.NewStdioTransport(srv, os.Stdin, os.Stdout,
			mcp.WithStdioWorkers(cfg.StdioWorkers),
			mcp.WithStdioLogger(logger),
		)
		if err := transport.Run(); err != nil {
			fmt.Fprintln(os.Stderr, "stdio transport failed:", err)
			os.Exit(1)
		}
	case "http":
		transport := mcp.NewHTTPTransport(srv,
			mcp.WithHTTPInfo(srv.Info()),
			mcp.WithHTTPTokenValidator(cfg.TokenValidator()),
			mcp.WithHTTPLogger(logger),
		)
		logger.Info("listening", slog.String("transport", "http"), slog.String("addr", cfg.ListenAddress))
		if err := http.ListenAndServe(cfg.ListenAddress, transport); err != nil {
			fmt.Fprintln(os.Stderr, "http transport failed:", err)
			os.Exit(1)
		}
	case "websocket":
		transport := mcp.NewWebSocketTransport(srv,
			mcp.WithWebSocketTokenValidator(cfg.TokenValidator()),
			mcp.WithWebSocketLogger(logger),
		)
		logger.Info("listening", slog.String("transport", "websocket"), slog.String("addr", cfg.ListenAddress))
		if err := http.ListenAndServe(cfg.ListenAddress, transport); err != nil {
			fmt.Fprintln(os.Stderr, "websocket transport failed:", err)
			os.Exit(1)
		}
	case "sse":
		transport := mcp.NewSSETransport(srv, "/messages",
			mcp.WithSSETokenValidator(cfg.TokenValidator()),
			mcp.WithSSELogger(logger),
		)
		mux := http.NewServeMux()
		mux.Handle("/sse", transport.HandleSSE())
		mux.Handle("/messages", transport.HandleMessage())
		logger.Info("listening", slog.String("transport", "sse"), slog.String("addr", cfg.ListenAddress))
		if err := http.ListenAndServe(cfg.ListenAddress, mux); err != nil {
			fmt.Fprintln(os.Stderr, "sse transport failed:", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown transport %q\n", cfg.Transport)
		os.Exit(1)
	}
}
