// Package mcp implements the Model Context Protocol (MCP) server for
// highlight search.
//
// The MCP server exposes four tools to AI assistants:
//   - search_annotations: Search bookmarks, highlights and comments
//   - search_capabilities: List supported modes and entity types
//   - index_status: Report index statistics and queue counters
//   - rebuild_index: Rebuild the index from the source tables
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// # Caller Identity
//
// A stdio session has no per-request authentication. Every search runs as
// the user named by HS_MCP_CALLER_USER_ID, with the same visibility rules
// as the HTTP API: own rows, public rows, and friends rows of accepted
// friends.
//
// # Tool: search_annotations
//
//	Request:
//	{
//	  "name": "search_annotations",
//	  "arguments": {
//	    "query": "how to read more carefully",
//	    "types": ["highlight", "comment"],
//	    "mode": "hybrid",
//	    "limit": 10
//	  }
//	}
//
//	Response:
//	{
//	  "results": [
//	    {
//	      "type": "highlight",
//	      "id": 4812,
//	      "url": "https://paulgraham.com/read.html",
//	      "text": "reading slowly pays",
//	      "createdAt": "2024-03-01T13:00:00Z",
//	      "score": 0.0325
//	    }
//	  ],
//	  "meta": {
//	    "total": 1,
//	    "limit": 10,
//	    "offset": 0,
//	    "modeRequested": "hybrid",
//	    "modeUsed": "hybrid",
//	    "semanticSearchUsed": true,
//	    "sortBy": "relevance"
//	  }
//	}
//
// When the embedding provider is unavailable a hybrid or semantic request
// still succeeds; meta.modeUsed reports "fts".
//
// # Tool: rebuild_index
//
// Runs a full backfill from the source database and returns once it has
// finished. Fails with code -32002 when a rebuild is already running and
// -32005 when no source database is configured.
//
// # Error Codes
//
//	-32602  Invalid parameters (field and allowed values in data)
//	-32603  Internal error
//	-32002  Rebuild already in progress
//	-32004  Empty query
//	-32005  Rebuild unavailable
package mcp
