package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/highlight-search/internal/access"
	"github.com/dshills/highlight-search/internal/indexer"
	"github.com/dshills/highlight-search/internal/searcher"
	"github.com/dshills/highlight-search/internal/storage"
	"github.com/dshills/highlight-search/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeRebuildInProgress  = -32002 // Another rebuild is already running
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeRebuildUnavailable = -32005 // No source database configured
)

// handleSearch handles the search_annotations tool invocation
func (s *Server) handleSearch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	req, err := searchRequest(args)
	if err != nil {
		return nil, toMCPError(err)
	}
	req.Query = query
	req.CallerUserID = s.caller

	resp, err := s.search.Search(ctx, req)
	if err != nil {
		return nil, toMCPError(err)
	}
	return mcp.NewToolResultText(formatJSON(resp)), nil
}

// handleCapabilities handles the search_capabilities tool invocation
func (s *Server) handleCapabilities(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatJSON(s.search.Capabilities())), nil
}

// handleIndexStatus handles the index_status tool invocation
func (s *Server) handleIndexStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.status.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"driver":         status.Driver,
		"schema_version": status.SchemaVersion,
		"statistics": map[string]interface{}{
			"entries":        status.Entries,
			"embedded":       status.Embedded,
			"total":          status.Total,
			"total_embedded": status.TotalEmbedded,
		},
		"health": map[string]interface{}{
			"database_accessible": status.Health.DatabaseAccessible,
			"fts_index_built":     status.Health.FTSIndexBuilt,
			"vector_search":       status.Health.VectorSearch,
			"semantic_available":  s.semantic,
		},
		"queue":      s.index.QueueStats(),
		"rebuilding": s.index.Rebuilding(),
	}
	if !status.LastIndexedAt.IsZero() {
		response["last_indexed_at"] = status.LastIndexedAt.Format(time.RFC3339)
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleRebuild handles the rebuild_index tool invocation. Unlike the HTTP
// endpoint it waits for the rebuild to finish.
func (s *Server) handleRebuild(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	start := time.Now()
	err := s.index.Rebuild(ctx)
	switch {
	case errors.Is(err, indexer.ErrRebuildInProgress):
		return nil, newMCPError(ErrorCodeRebuildInProgress, err.Error(), nil)
	case errors.Is(err, indexer.ErrNoRebuilder):
		return nil, newMCPError(ErrorCodeRebuildUnavailable, "rebuild needs a source database", nil)
	case err != nil:
		return nil, newMCPError(ErrorCodeInternalError, "rebuild failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"rebuilt":     true,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if status, err := s.status.GetStatus(ctx); err == nil {
		response["total"] = status.Total
		response["total_embedded"] = status.TotalEmbedded
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// searchRequest reads the optional search arguments. Range and enum checks
// are left to the searcher so every surface reports them the same way.
func searchRequest(args map[string]interface{}) (searcher.SearchRequest, error) {
	req := searcher.SearchRequest{
		Domain:     getStringDefault(args, "domain", ""),
		URLPattern: getStringDefault(args, "url_pattern", ""),
		Mode:       searcher.SearchMode(getStringDefault(args, "mode", "")),
		SortBy:     storage.SortOrder(getStringDefault(args, "sort_by", "")),
		Limit:      getIntDefault(args, "limit", 0),
		Offset:     getIntDefault(args, "offset", 0),
	}

	if raw, ok := args["types"]; ok {
		list, ok := raw.([]interface{})
		if !ok {
			return req, &types.ValidationError{Field: "types", Value: fmt.Sprint(raw), Reason: "must be an array of strings"}
		}
		for _, v := range list {
			name, ok := v.(string)
			if !ok {
				return req, &types.ValidationError{Field: "types", Value: fmt.Sprint(v), Reason: "must be a string"}
			}
			req.Types = append(req.Types, types.EntityType(name))
		}
	}

	if _, ok := args["tag_id"]; ok {
		id := int64(getIntDefault(args, "tag_id", 0))
		req.TagID = &id
	}

	var err error
	if req.After, err = searcher.ParseTimeBound("after", getStringDefault(args, "after", ""), false); err != nil {
		return req, err
	}
	if req.Before, err = searcher.ParseTimeBound("before", getStringDefault(args, "before", ""), true); err != nil {
		return req, err
	}
	return req, nil
}

// toMCPError maps domain errors to MCP error codes
func toMCPError(err error) error {
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		data := map[string]interface{}{
			"param":  verr.Field,
			"reason": verr.Reason,
		}
		if verr.Value != "" {
			data["value"] = verr.Value
		}
		if len(verr.Allowed) > 0 {
			data["allowed"] = verr.Allowed
		}
		return newMCPError(ErrorCodeInvalidParams, verr.Error(), data)
	case errors.Is(err, access.ErrNoCaller), errors.Is(err, types.ErrValidation):
		return newMCPError(ErrorCodeInvalidParams, err.Error(), nil)
	default:
		return newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
