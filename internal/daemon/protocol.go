package daemon

import (
	"fmt"

	"github.com/Aman-CERP/xrefsearch/internal/query"
)

// Methods served over the line-delimited JSON-RPC 2.0 connection.
const (
	MethodSearch = "search"
	MethodInfo   = "info"
)

// Error codes. The negative -327xx/-326xx range is reserved by JSON-RPC;
// -320xx are ours.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603

	ErrCodeSearchFailed = -32002
	ErrCodeBadPattern   = -32003
)

// ExitReason values in SearchStats.
const (
	ExitNone       = "NONE"
	ExitTimeout    = "TIMEOUT"
	ExitMatchLimit = "MATCH_LIMIT"
)

const jsonrpcVersion = "2.0"

// Request is one call. Params is decoded per method.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response carries either Result or Error.
type Response struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Result  any    `json:"result,omitempty"`
	Error   *Error `json:"error,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func NewSuccessResponse(id string, result any) Response {
	return Response{JSONRPC: jsonrpcVersion, ID: id, Result: result}
}

func NewErrorResponse(id string, code int, message string) Response {
	return Response{JSONRPC: jsonrpcVersion, ID: id, Error: &Error{Code: code, Message: message}}
}

// SearchParams are the parameters for the search method.
type SearchParams struct {
	// Line is the regex matched against each line.
	Line string `json:"line"`

	// File is a regex a match's path must satisfy. Empty means any path.
	File string `json:"file,omitempty"`

	FoldCase bool `json:"fold_case"`

	// ContextLines is the number of lines returned around each match.
	ContextLines int `json:"context_lines"`
}

// Validate checks and normalizes the parameters.
func (p *SearchParams) Validate() error {
	if p.Line == "" {
		return fmt.Errorf("line pattern is required")
	}
	if p.ContextLines < 0 || p.ContextLines > query.MaxContextLines {
		return fmt.Errorf("context_lines must be between 0 and %d", query.MaxContextLines)
	}
	return nil
}

// Bounds are the byte columns of a match within its line.
type Bounds struct {
	Left  int `json:"left"`
	Right int `json:"right"`
}

// Match is one matching line.
type Match struct {
	Path       string `json:"path"`
	Tree       string `json:"tree"`
	LineNumber int    `json:"line_number"`
	Bounds     Bounds `json:"bounds"`
	Line       string `json:"line"`
	// ContextBefore is nearest line first.
	ContextBefore []string `json:"context_before,omitempty"`
	ContextAfter  []string `json:"context_after,omitempty"`
}

// SearchStats describes how a search ended.
type SearchStats struct {
	ExitReason string `json:"exit_reason"`
	Files      int    `json:"files_scanned,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

// SearchReply is the result of the search method.
type SearchReply struct {
	Results []Match     `json:"results"`
	Stats   SearchStats `json:"stats"`
}

// InfoResult is the result of the info method.
type InfoResult struct {
	Tree      string `json:"tree"`
	IndexPath string `json:"index_path"`
	// IndexStamp is the IndexStamp of the store when the daemon loaded it.
	IndexStamp int64  `json:"index_stamp"`
	PID        int    `json:"pid"`
	Uptime     string `json:"uptime"`
	Files      int64  `json:"files"`
	Lines      int64  `json:"lines"`
}
