package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/highlight-search/internal/indexer"
	"github.com/dshills/highlight-search/internal/searcher"
	"github.com/dshills/highlight-search/internal/storage"
	"github.com/dshills/highlight-search/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "highlight-search"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// ErrNoCaller is returned by NewServer when no caller identity is configured
var ErrNoCaller = errors.New("mcp server needs a caller user id")

// Searcher answers search requests
type Searcher interface {
	Search(ctx context.Context, req searcher.SearchRequest) (*searcher.SearchResponse, error)
	Capabilities() types.Capabilities
}

// Maintainer is the index maintenance surface
type Maintainer interface {
	Rebuild(ctx context.Context) error
	Rebuilding() bool
	QueueStats() indexer.QueueStats
}

// StatusReader reports index statistics
type StatusReader interface {
	GetStatus(ctx context.Context) (*storage.IndexStatus, error)
}

// Deps are the components the tools call into
type Deps struct {
	Search Searcher
	Index  Maintainer
	Status StatusReader

	// CallerUserID is the identity every search runs as. stdio has no
	// per-request authentication, so it comes from configuration.
	CallerUserID      string
	SemanticAvailable bool
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	search   Searcher
	index    Maintainer
	status   StatusReader
	caller   string
	semantic bool
}

// NewServer creates a new MCP server instance
func NewServer(deps Deps) (*Server, error) {
	if deps.CallerUserID == "" {
		return nil, ErrNoCaller
	}

	s := &Server{
		mcp:      server.NewMCPServer(ServerName, ServerVersion),
		search:   deps.Search,
		index:    deps.Index,
		status:   deps.Status,
		caller:   deps.CallerUserID,
		semantic: deps.SemanticAvailable,
	}
	s.registerTools()
	return s, nil
}

// Serve runs the MCP server on stdio and blocks until stdin closes
func (s *Server) Serve(_ context.Context) error {
	return server.ServeStdio(s.mcp)
}

func (s *Server) registerTools() {
	s.mcp.AddTool(searchAnnotationsTool(), s.handleSearch)
	s.mcp.AddTool(capabilitiesTool(), s.handleCapabilities)
	s.mcp.AddTool(indexStatusTool(), s.handleIndexStatus)
	s.mcp.AddTool(rebuildIndexTool(), s.handleRebuild)
}
