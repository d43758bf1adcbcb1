package command

import (
	"encoding/json"
	"fmt"
)

// Control socket framing: one JSON-RPC 2.0 object per line in each
// direction, one response per request, in order.

const jsonrpcVersion = "2.0"

// JSONRPCRequest represents a JSON-RPC 2.0 request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response.
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// command converts the wire request for the handler. Numeric and string
// IDs both become strings; the original is echoed back unchanged.
func (r JSONRPCRequest) command() Command {
	id := ""
	if r.ID != nil {
		id = fmt.Sprintf("%v", r.ID)
	}
	return Command{Method: r.Method, Params: r.Params, ID: id}
}

// validate checks the envelope fields the handler does not look at.
func (r JSONRPCRequest) validate() *ErrorInfo {
	if r.JSONRPC != "" && r.JSONRPC != jsonrpcVersion {
		return &ErrorInfo{Code: ErrCodeInvalidRequest, Message: fmt.Sprintf("unsupported jsonrpc version %q", r.JSONRPC)}
	}
	if r.Method == "" {
		return &ErrorInfo{Code: ErrCodeInvalidRequest, Message: "method is required"}
	}
	return nil
}

func wireResponse(id interface{}, resp Response) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Result:  resp.Result,
		Error:   resp.Error,
	}
}

func wireError(id interface{}, code int, msg string) JSONRPCResponse {
	return JSONRPCResponse{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error:   &ErrorInfo{Code: code, Message: msg},
	}
}
