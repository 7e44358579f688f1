// Package mcp exposes the search engine to AI clients over the Model
// Context Protocol. It registers search, define and list_trees tools and,
// when telemetry is enabled, a query_metrics resource.
package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/xrefsearch/internal/daemon"
	"github.com/Aman-CERP/xrefsearch/internal/query"
	"github.com/Aman-CERP/xrefsearch/internal/search"
	"github.com/Aman-CERP/xrefsearch/internal/telemetry"
	"github.com/Aman-CERP/xrefsearch/pkg/version"
)

// ServerName is the implementation name reported to clients.
const ServerName = "xrefsearch"

// HandleSource reports the state of a tree's full-text daemon.
type HandleSource interface {
	Handle() daemon.Handle
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics registers the query_metrics resource.
func WithMetrics(m *telemetry.QueryMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithDaemons reports daemon state per tree in list_trees.
func WithDaemons(daemons map[string]HandleSource) Option {
	return func(s *Server) {
		s.daemons = daemons
	}
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// Server is the MCP server over a search engine.
type Server struct {
	mcp     *mcp.Server
	engine  *search.Engine
	metrics *telemetry.QueryMetrics
	daemons map[string]HandleSource
	logger  *slog.Logger
}

// NewServer creates a new MCP server.
func NewServer(engine *search.Engine, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("%w: search engine is required", search.ErrNilDependency)
	}

	s := &Server{engine: engine, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    ServerName,
		Version: version.Version,
	}, nil)

	s.registerTools()
	if s.metrics != nil {
		s.registerQueryMetricsResource()
	}
	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name: "search",
		Description: "Search a source tree's semantic index and full text. Free text matches identifiers, " +
			"file paths and text; prefix with symbol:, id:, path:, re: or text: for a single backend. " +
			"Results are grouped by path kind (normal, test, generated) and kind (Definitions, Uses, ...).",
	}, s.searchHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "define",
		Description: "Find where a crossref symbol is defined. Returns the path, line number and source view link.",
	}, s.defineHandler)

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "list_trees",
		Description: "List configured source trees and the state of their full-text daemons.",
	}, s.listTreesHandler)

	s.logger.Debug("MCP tools registered", slog.Int("count", 3))
}

// resolveTree defaults an empty tree name when exactly one tree is served.
func (s *Server) resolveTree(name string) (string, error) {
	if name != "" {
		return name, nil
	}
	names := s.engine.Registry().Names()
	if len(names) == 1 {
		return names[0], nil
	}
	return "", NewInvalidParamsError(fmt.Sprintf("tree is required; configured trees: %s", strings.Join(names, ", ")))
}

func (s *Server) searchHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	if strings.TrimSpace(input.Query) == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}
	tree, err := s.resolveTree(input.Tree)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	start := time.Now()
	requestID := generateRequestID()
	s.logger.Info("search started",
		slog.String("request_id", requestID),
		slog.String("tree", tree),
		slog.String("query", input.Query))

	resp, err := s.engine.Search(ctx, tree, query.Request{
		Q:             input.Query,
		CaseSensitive: input.CaseSensitive,
		Regexp:        input.Regexp,
		Path:          input.Path,
	})
	if err != nil {
		s.logger.Error("search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return nil, SearchOutput{}, MapError(err)
	}

	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", time.Since(start)),
		slog.Bool("timed_out", resp.TimedOut))

	limit := clampLimit(input.Limit, defaultLineLimit, 1, maxLineLimit)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: FormatResponse(tree, input.Query, resp, limit)}},
	}, ToSearchOutput(resp), nil
}

func (s *Server) defineHandler(ctx context.Context, _ *mcp.CallToolRequest, input DefineInput) (
	*mcp.CallToolResult,
	DefineOutput,
	error,
) {
	if input.Symbol == "" {
		return nil, DefineOutput{}, NewInvalidParamsError("symbol parameter is required")
	}
	tree, err := s.resolveTree(input.Tree)
	if err != nil {
		return nil, DefineOutput{}, err
	}

	path, lno, err := s.engine.Define(ctx, tree, input.Symbol)
	if err != nil {
		return nil, DefineOutput{}, MapError(err)
	}
	return nil, DefineOutput{Path: path, Lno: lno, URL: SourceURL(tree, path, lno)}, nil
}

func (s *Server) listTreesHandler(_ context.Context, _ *mcp.CallToolRequest, _ ListTreesInput) (
	*mcp.CallToolResult,
	ListTreesOutput,
	error,
) {
	reg := s.engine.Registry()
	out := ListTreesOutput{Trees: make([]TreeOutput, 0)}
	for _, name := range reg.Names() {
		tree, err := reg.Get(name)
		if err != nil {
			continue
		}
		t := TreeOutput{Name: name, IndexPath: tree.IndexPath, FullText: tree.FullText != nil}
		if src, ok := s.daemons[name]; ok {
			h := src.Handle()
			t.Daemon = &h
		}
		out.Trees = append(out.Trees, t)
	}
	return nil, out, nil
}

// Serve runs the server over stdio until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("Starting MCP server", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped gracefully")
	return nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
