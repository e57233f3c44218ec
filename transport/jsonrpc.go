package transport

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version marker carried by every envelope.
const Version = "2.0"

// Request represents a JSON-RPC 2.0 request.
// IDs are process-local: unique only within one client instance's lifetime.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

// NewRequest builds a request envelope for the given id and method.
// Nil params become an empty object, matching what the server expects.
func NewRequest(id int64, method string, params interface{}) Request {
	if params == nil {
		params = map[string]interface{}{}
	}
	return Request{
		JSONRPC: Version,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// Notification represents a JSON-RPC 2.0 notification (no ID, no response).
type Notification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// NewNotification builds a notification envelope.
func NewNotification(method string, params interface{}) Notification {
	return Notification{
		JSONRPC: Version,
		Method:  method,
		Params:  params,
	}
}

// Response represents a JSON-RPC 2.0 response envelope arriving on the stream.
// A nil ID marks an unsolicited event rather than a reply to a request.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsEvent reports whether the envelope is an unsolicited event (no id).
func (r *Response) IsEvent() bool {
	return r.ID == nil
}

// Error represents a JSON-RPC 2.0 error payload.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// Standard error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// DecodeResponse parses one stream payload as a response envelope.
// Payloads that are not JSON objects, or whose id is not an integer, fail
// here; the listener skips them without escalating.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
