package mcp

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// RequestID is the JSON-RPC request identifier. The protocol allows either a
// string or an integer on the wire, so RequestID normalizes both to a string
// during unmarshaling and always encodes back as a string. An empty RequestID
// marks a notification.
type RequestID string

// JSONRPCMessage represents a JSON-RPC 2.0 message used for communication in
// the MCP protocol. It can represent either a request, response, or
// notification depending on which fields are populated:
//   - Request: JSONRPC, ID, Method, and Params are set
//   - Response: JSONRPC, ID, and exactly one of Result or Error are set
//   - Notification: JSONRPC and Method are set (no ID)
type JSONRPCMessage struct {
	// JSONRPC must always be "2.0" per the JSON-RPC specification
	JSONRPC string `json:"jsonrpc"`
	// ID uniquely identifies request-response pairs and must be a string or number
	ID RequestID `json:"id,omitempty"`
	// Method contains the RPC method name for requests and notifications
	Method string `json:"method,omitempty"`
	// Params contains the parameters for the method call as a raw JSON message
	Params json.RawMessage `json:"params,omitempty"`
	// Result contains the successful response data as a raw JSON message
	Result json.RawMessage `json:"result,omitempty"`
	// Error contains error details if the request failed
	Error *JSONRPCError `json:"error,omitempty"`
}

// JSONRPCError represents an error response in the JSON-RPC 2.0 protocol.
// It follows the standard error object format defined in the JSON-RPC 2.0
// specification.
type JSONRPCError struct {
	// Code indicates the error type that occurred.
	Code int `json:"code"`

	// Message provides a short description of the error.
	Message string `json:"message"`

	// Data contains additional information about the error.
	// The value is unstructured and may be omitted.
	Data map[string]any `json:"data,omitempty"`
}

const (
	// JSONRPCVersion specifies the JSON-RPC protocol version used for communication.
	JSONRPCVersion = "2.0"

	jsonRPCParseErrorCode     = -32700
	jsonRPCInvalidRequestCode = -32600
	jsonRPCMethodNotFoundCode = -32601
	jsonRPCInvalidParamsCode  = -32602
	jsonRPCInternalErrorCode  = -32603

	// Cancellation and timeout are surfaced with codes outside the reserved
	// range so callers can tell them apart from ordinary failures.
	jsonRPCRequestCancelledCode = -32800
	jsonRPCRequestTimedOutCode  = -32801
)

// IsNotification reports whether the message is a notification, which the
// protocol defines as a request carrying no id.
func (m JSONRPCMessage) IsNotification() bool {
	return m.ID == "" && m.Method != ""
}

// parseMessage decodes a raw byte buffer into a JSONRPCMessage. A decode
// failure is reported as a parse error, a wrong protocol version or a
// response-shaped message as an invalid request. The returned JSONRPCError is
// nil when the message is well-formed.
func parseMessage(data []byte) (JSONRPCMessage, *JSONRPCError) {
	var msg JSONRPCMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return JSONRPCMessage{}, &JSONRPCError{
			Code:    jsonRPCParseErrorCode,
			Message: fmt.Sprintf("failed to parse message: %s", err),
		}
	}

	if msg.JSONRPC != JSONRPCVersion {
		return JSONRPCMessage{}, &JSONRPCError{
			Code:    jsonRPCInvalidRequestCode,
			Message: fmt.Sprintf("invalid jsonrpc version: %q", msg.JSONRPC),
		}
	}

	if msg.Method == "" {
		return JSONRPCMessage{}, &JSONRPCError{
			Code:    jsonRPCInvalidRequestCode,
			Message: "missing method",
		}
	}

	return msg, nil
}

// newResultMessage builds a success response for the given request id. The
// error field is left unset entirely so receivers can rely on its absence.
func newResultMessage(id RequestID, result any) (JSONRPCMessage, error) {
	resBs, err := json.Marshal(result)
	if err != nil {
		return JSONRPCMessage{}, fmt.Errorf("failed to marshal result: %w", err)
	}

	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  resBs,
	}, nil
}

// newErrorMessage builds an error response for the given request id.
func newErrorMessage(id RequestID, jsonErr JSONRPCError) JSONRPCMessage {
	return JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   &jsonErr,
	}
}

// newNotificationMessage builds a notification carrying the given method and
// optional params. A nil params leaves the field absent on the wire.
func newNotificationMessage(method string, params any) (JSONRPCMessage, error) {
	msg := JSONRPCMessage{
		JSONRPC: JSONRPCVersion,
		Method:  method,
	}

	if params != nil {
		paramsBs, err := json.Marshal(params)
		if err != nil {
			return JSONRPCMessage{}, fmt.Errorf("failed to marshal params: %w", err)
		}
		msg.Params = paramsBs
	}

	return msg, nil
}

// UnmarshalJSON implements json.Unmarshaler to convert JSON data into
// RequestID, handling both string and numeric input formats.
func (r *RequestID) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}

	switch v := v.(type) {
	case string:
		*r = RequestID(v)
	case float64:
		// Only integral ids normalize losslessly to a string.
		if v != math.Trunc(v) {
			return fmt.Errorf("invalid id: non-integer number %v", v)
		}
		*r = RequestID(strconv.FormatInt(int64(v), 10))
	case nil:
		// A null id is treated the same as an absent one.
		*r = ""
	default:
		return fmt.Errorf("invalid type: %T", v)
	}

	return nil
}

// MarshalJSON implements json.Marshaler to convert RequestID into its JSON
// representation, always encoding as a string value.
func (r RequestID) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(r))
}

func (j JSONRPCError) Error() string {
	return fmt.Sprintf("request error, code: %d, message: %s, data %v", j.Code, j.Message, j.Data)
}
