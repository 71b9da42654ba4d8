// Package mcp implements a transport-agnostic server engine for the Model
// Context Protocol (MCP). It dispatches JSON-RPC 2.0 requests to dynamically
// registered tools, resources and prompts over four wire transports: stdio,
// unary HTTP, WebSocket and SSE. Multiple servers can be aggregated behind
// name prefixes using a ComposedServer.
package mcp
