package mcp

import (
	"context"
	"errors"
	"fmt"

	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
)

// Custom MCP error codes.
const (
	// ErrCodeUnknownTree indicates the tree is not configured.
	ErrCodeUnknownTree = -32001

	// ErrCodeSymbolNotFound indicates a symbol has no definition.
	ErrCodeSymbolNotFound = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeBackendUnavailable indicates the full-text daemon is down.
	ErrCodeBackendUnavailable = -32004

	// ErrCodeIndexUnavailable indicates the tree's index is missing or corrupt.
	ErrCodeIndexUnavailable = -32005

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	var xe *xerrors.XrefError
	if errors.As(err, &xe) {
		return mapXrefError(xe)
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

func mapXrefError(xe *xerrors.XrefError) *MCPError {
	message := xe.Message
	if xe.Suggestion != "" {
		message = fmt.Sprintf("%s %s", xe.Message, xe.Suggestion)
	}

	switch xe.Code {
	case xerrors.ErrCodeInvalidQuery:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case xerrors.ErrCodeUnknownTree:
		return &MCPError{Code: ErrCodeUnknownTree, Message: message}
	case xerrors.ErrCodeSymbolNotFound:
		return &MCPError{Code: ErrCodeSymbolNotFound, Message: message}
	case xerrors.ErrCodeRequestTimeout, xerrors.ErrCodeDaemonTimeout:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	}

	switch xe.Category {
	case xerrors.CategoryDaemon:
		return &MCPError{Code: ErrCodeBackendUnavailable, Message: message}
	case xerrors.CategoryIndex:
		return &MCPError{Code: ErrCodeIndexUnavailable, Message: message}
	case xerrors.CategoryRequest:
		return &MCPError{Code: ErrCodeInvalidRequest, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
