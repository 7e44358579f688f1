package mcp

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// QueryMetricsURI is the URI of the query telemetry resource.
const QueryMetricsURI = "xrefsearch://query_metrics"

// QueryMetricsOutput is the JSON body of the query_metrics resource.
type QueryMetricsOutput struct {
	TotalQueries        int64            `json:"total_queries"`
	ZeroResultPct       float64          `json:"zero_result_pct"`
	TimeoutCount        int64            `json:"timeout_count"`
	IntentCounts        map[string]int64 `json:"intent_counts"`
	TreeCounts          map[string]int64 `json:"tree_counts"`
	LimitCounts         map[string]int64 `json:"limit_counts"`
	TopTerms            []QueryTermCount `json:"top_terms"`
	ZeroResultQueries   []string         `json:"zero_result_queries"`
	LatencyDistribution map[string]int64 `json:"latency_distribution"`
}

// QueryTermCount is a query term with its frequency.
type QueryTermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// registerQueryMetricsResource registers the query_metrics resource.
func (s *Server) registerQueryMetricsResource() {
	s.mcp.AddResource(
		&mcp.Resource{
			Name:        "query_metrics",
			URI:         QueryMetricsURI,
			Description: "Query telemetry: intents, trees, limits hit, zero-result queries and latency",
			MIMEType:    "application/json",
		},
		s.readQueryMetrics,
	)
}

func (s *Server) readQueryMetrics(_ context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if s.metrics == nil {
		return nil, NewInvalidParamsError("query metrics not available")
	}

	snapshot := s.metrics.Snapshot()
	output := QueryMetricsOutput{
		TotalQueries:        snapshot.TotalQueries,
		ZeroResultPct:       snapshot.ZeroResultPercentage(),
		TimeoutCount:        snapshot.TimeoutCount,
		IntentCounts:        snapshot.IntentCounts,
		TreeCounts:          snapshot.TreeCounts,
		LimitCounts:         snapshot.LimitCounts,
		TopTerms:            make([]QueryTermCount, 0, len(snapshot.TopTerms)),
		ZeroResultQueries:   snapshot.ZeroResultQueries,
		LatencyDistribution: make(map[string]int64, len(snapshot.LatencyDistribution)),
	}
	for _, tc := range snapshot.TopTerms {
		output.TopTerms = append(output.TopTerms, QueryTermCount{Term: tc.Term, Count: tc.Count})
	}
	for bucket, count := range snapshot.LatencyDistribution {
		output.LatencyDistribution[string(bucket)] = count
	}

	content, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return nil, MapError(err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      QueryMetricsURI,
			MIMEType: "application/json",
			Text:     string(content),
		}},
	}, nil
}
