package mcp

// Dispatcher is the contract every transport adapter programs against. Both
// Server and ComposedServer satisfy it, so any transport can front either a
// single dispatch engine or an aggregate of mounted ones.
type Dispatcher interface {
	// HandleRaw parses wire bytes and dispatches the message, returning nil
	// for notifications.
	HandleRaw(data []byte, sink EventSink, sessionID string) *JSONRPCMessage

	// Handle dispatches an already parsed message, returning nil for
	// notifications.
	Handle(msg JSONRPCMessage, sink EventSink, sessionID string) *JSONRPCMessage
}

// Transport kind tags reported by EventSink.Kind.
const (
	TransportKindStdio     = "stdio"
	TransportKindHTTP      = "http"
	TransportKindWebSocket = "websocket"
	TransportKindSSE       = "sse"
)
