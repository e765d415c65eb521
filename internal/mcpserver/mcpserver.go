// Package mcpserver exposes drift's semantic search as a Model Context
// Protocol tool over stdio, so agentic coding tools can query the index
// without shelling out to the CLI.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/driftsearch/drift/internal/index"
)

// searchMu serializes tool calls that touch the index. Embedding and the
// underlying SQLite metastore are not safe for unbounded concurrent access
// from the handler goroutines mcp-go spawns per request.
var searchMu sync.Mutex

// NewServer builds an MCP server exposing idx through a single search tool.
func NewServer(idx *index.Index, version string) *server.MCPServer {
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer("drift", version, server.WithToolCapabilities(false))
	registerSearchTool(s, idx)
	registerStatsTool(s, idx)
	return s
}

// Serve runs an MCP server over stdio via server.ServeStdio until stdin
// closes or ServeStdio stops on a signal. ctx is not consulted.
func Serve(ctx context.Context, idx *index.Index) error {
	s := NewServer(idx, "dev")
	return server.ServeStdio(s)
}

type searchHit struct {
	Path    string  `json:"path"`
	Line    int     `json:"line"`
	Score   float32 `json:"score"`
	Snippet string  `json:"snippet"`
}

func registerSearchTool(s *server.MCPServer, idx *index.Index) {
	tool := mcp.NewTool("search_code",
		mcp.WithDescription("Semantic search over the indexed codebase. Finds code and docs by meaning, not just keyword match. Returns ranked file:line hits with a text snippet."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Natural-language description of the code you're looking for"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default: 10, max: 50)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		searchMu.Lock()
		defer searchMu.Unlock()

		query, err := req.RequireString("query")
		if err != nil || query == "" {
			return mcp.NewToolResultError("query is required"), nil
		}

		limit := 10
		if v, err := req.RequireFloat("limit"); err == nil {
			if n := int(v); n > 0 {
				limit = n
			}
		}
		if limit > 50 {
			limit = 50
		}

		results, err := idx.Search(query, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search error: %v", err)), nil
		}
		if len(results) == 0 {
			return mcp.NewToolResultText("no results"), nil
		}

		hits := make([]searchHit, len(results))
		for i, r := range results {
			snippet := r.Meta.Text
			if len(snippet) > 300 {
				snippet = snippet[:297] + "..."
			}
			hits[i] = searchHit{
				Path:    r.Meta.Path,
				Line:    r.Meta.LineNum,
				Score:   r.Score,
				Snippet: snippet,
			}
		}

		data, err := json.MarshalIndent(hits, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("marshal results: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}

func registerStatsTool(s *server.MCPServer, idx *index.Index) {
	tool := mcp.NewTool("index_stats",
		mcp.WithDescription("Report how many files and chunks are currently indexed and when the index was last updated."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		searchMu.Lock()
		defer searchMu.Unlock()

		st := idx.Stats()
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("marshal stats: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	})
}
