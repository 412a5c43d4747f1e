// Package server exposes the worker over a Unix socket using
// JSON-RPC 2.0, one request per connection.
package server

import "fmt"

// JSON-RPC 2.0 method names.
const (
	MethodSearch = "search"
	MethodStatus = "status"
	MethodPing   = "ping"
)

// Standard JSON-RPC 2.0 error codes.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// Server-specific error codes.
const (
	ErrCodeSearchFailed = -32002
)

// Request represents a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      string `json:"id"`
}

// Response represents a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
	ID      string `json:"id"`
}

// Error represents a JSON-RPC 2.0 error.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// NewSuccessResponse creates a successful response.
func NewSuccessResponse(id string, result any) Response {
	return Response{
		JSONRPC: "2.0",
		Result:  result,
		ID:      id,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(id string, code int, message string) Response {
	return Response{
		JSONRPC: "2.0",
		Error: &Error{
			Code:    code,
			Message: message,
		},
		ID: id,
	}
}

// SearchParams are the parameters for the search method.
type SearchParams struct {
	// Query is the search query (required).
	Query string `json:"query"`

	// TopK is the maximum number of results (default: 10).
	TopK int `json:"top_k,omitempty"`
}

// Validate checks that required fields are present.
func (p *SearchParams) Validate() error {
	if p.Query == "" {
		return fmt.Errorf("query is required")
	}
	if p.TopK < 0 {
		p.TopK = 0
	}
	return nil
}

// SearchResult is one note hit.
type SearchResult struct {
	Vault   string  `json:"vault"`
	Path    string  `json:"path"`
	AbsPath string  `json:"abs_path,omitempty"`
	Score   float32 `json:"score"`
}

// StatusResult describes the running server.
type StatusResult struct {
	Running  bool     `json:"running"`
	PID      int      `json:"pid"`
	Uptime   string   `json:"uptime"`
	Notes    int      `json:"notes"`
	Indexed  int      `json:"indexed"`
	QueueLen int      `json:"queue_len"`
	Watching bool     `json:"watching"`
	Vaults   []string `json:"vaults"`
	Model    string   `json:"model"`
}

// PingResult is the response to a ping request.
type PingResult struct {
	Pong bool `json:"pong"`
}
