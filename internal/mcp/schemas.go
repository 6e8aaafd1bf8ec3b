package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// searchAnnotationsTool returns the tool definition for search_annotations
func searchAnnotationsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_annotations",
		Description: "Search bookmarks, highlights and comments visible to the configured user",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search text (keywords or a natural language question)",
				},
				"types": map[string]interface{}{
					"type":        "array",
					"description": "Restrict results to these entity types",
					"items": map[string]interface{}{
						"type": "string",
						"enum": []string{"bookmark", "highlight", "comment"},
					},
				},
				"tag_id": map[string]interface{}{
					"type":        "integer",
					"description": "Only return entities carrying this tag",
				},
				"domain": map[string]interface{}{
					"type":        "string",
					"description": "Host of the source page, e.g. paulgraham.com",
				},
				"url_pattern": map[string]interface{}{
					"type":        "string",
					"description": "Substring the source URL must contain",
				},
				"after": map[string]interface{}{
					"type":        "string",
					"description": "Created at or after (RFC 3339 or YYYY-MM-DD)",
				},
				"before": map[string]interface{}{
					"type":        "string",
					"description": "Created at or before (RFC 3339 or YYYY-MM-DD)",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "hybrid (keyword + semantic), fts (keyword only) or semantic",
					"enum":        []string{"hybrid", "fts", "semantic"},
					"default":     "hybrid",
				},
				"sort_by": map[string]interface{}{
					"type":        "string",
					"description": "Order by relevance or newest first",
					"enum":        []string{"relevance", "created"},
					"default":     "relevance",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     20,
					"minimum":     1,
					"maximum":     100,
				},
				"offset": map[string]interface{}{
					"type":        "integer",
					"description": "Number of results to skip",
					"default":     0,
					"minimum":     0,
				},
			},
			Required: []string{"query"},
		},
	}
}

// capabilitiesTool returns the tool definition for search_capabilities
func capabilitiesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_capabilities",
		Description: "Report the supported search modes and entity types",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// indexStatusTool returns the tool definition for index_status
func indexStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_status",
		Description: "Report index row counts, embedding coverage and queue statistics",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// rebuildIndexTool returns the tool definition for rebuild_index
func rebuildIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "rebuild_index",
		Description: "Rebuild the search index from the source tables and wait for it to finish",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}
