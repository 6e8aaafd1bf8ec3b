package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/highlight-search/internal/access"
	"github.com/dshills/highlight-search/internal/indexer"
	"github.com/dshills/highlight-search/internal/searcher"
	"github.com/dshills/highlight-search/internal/storage"
	"github.com/dshills/highlight-search/pkg/types"
)

type errorResponse struct {
	Error   string   `json:"error"`
	Field   string   `json:"field,omitempty"`
	Allowed []string `json:"allowed,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, err := parseSearchRequest(r.URL.Query())
	if err != nil {
		s.writeError(w, err)
		return
	}
	req.CallerUserID = callerFrom(r.Context())

	resp, err := s.search.Search(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.search.Capabilities())
}

type statusResponse struct {
	Driver        string                   `json:"driver"`
	SchemaVersion string                   `json:"schemaVersion"`
	Entries       map[types.EntityType]int `json:"entries"`
	Embedded      map[types.EntityType]int `json:"embedded"`
	Total         int                      `json:"total"`
	TotalEmbedded int                      `json:"totalEmbedded"`
	LastIndexedAt *time.Time               `json:"lastIndexedAt,omitempty"`
	VectorSearch  string                   `json:"vectorSearch"`
	Semantic      bool                     `json:"semanticSearchAvailable"`
	Rebuilding    bool                     `json:"rebuilding"`
	Queue         indexer.QueueStats       `json:"queue"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.status.GetStatus(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := statusResponse{
		Driver:        st.Driver,
		SchemaVersion: st.SchemaVersion,
		Entries:       st.Entries,
		Embedded:      st.Embedded,
		Total:         st.Total,
		TotalEmbedded: st.TotalEmbedded,
		VectorSearch:  st.Health.VectorSearch,
		Semantic:      s.semantic,
		Rebuilding:    s.index.Rebuilding(),
		Queue:         s.index.QueueStats(),
	}
	if !st.LastIndexedAt.IsZero() {
		resp.LastIndexedAt = &st.LastIndexedAt
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRebuild takes the rebuild lock, starts the rebuild in the
// background and returns immediately
func (s *Server) handleRebuild(w http.ResponseWriter, _ *http.Request) {
	run, err := s.index.StartRebuild()
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.rebuilds.Add(1)
	go func() {
		defer s.rebuilds.Done()
		start := time.Now()
		if err := run(s.ctx); err != nil {
			s.logger.Error("rebuild failed", "error", err)
			return
		}
		s.logger.Info("rebuild finished", "elapsed", time.Since(start))
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "rebuild started"})
}

type syncRequest struct {
	Type types.EntityType `json:"type"`
	ID   int64            `json:"id"`
}

// maxSyncBody bounds the POST /index/sync body
const maxSyncBody = 4 << 10

// handleSync reconciles one entity with its source row after a mutation
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSyncBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid body: " + err.Error()})
		return
	}

	ref, err := parseRef(string(req.Type), strconv.FormatInt(req.ID, 10))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.index.SyncRef(r.Context(), ref); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "synced", "type": ref.Type, "id": ref.ID})
}

// handleRemove drops an entity's row after a hard delete
func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	ref, err := parseRef(r.PathValue("type"), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	removed, err := s.index.Remove(r.Context(), ref)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed, "type": ref.Type, "id": ref.ID})
}

func parseRef(rawType, rawID string) (types.EntityRef, error) {
	t, err := types.ParseEntityType(rawType)
	if err != nil {
		allowed := make([]string, len(types.AllEntityTypes))
		for i, at := range types.AllEntityTypes {
			allowed[i] = string(at)
		}
		return types.EntityRef{}, &types.ValidationError{Field: "type", Value: rawType, Allowed: allowed}
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return types.EntityRef{}, &types.ValidationError{Field: "id", Value: rawID, Reason: "must be a positive integer"}
	}
	return types.EntityRef{Type: t, ID: id}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st, err := s.status.GetStatus(r.Context())
	if err != nil || !st.Health.DatabaseAccessible {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"semanticSearch":   s.semantic,
		"ftsIndexBuilt":    st.Health.FTSIndexBuilt,
		"vectorSearch":     st.Health.VectorSearch,
		"schemaVersion":    st.SchemaVersion,
		"storageBackend":   st.Driver,
		"rebuildRunning":   s.index.Rebuilding(),
		"queuePendingJobs": s.index.QueueStats().Pending,
	})
}

// writeError maps domain errors to status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field, Allowed: verr.Allowed})
	case errors.Is(err, access.ErrNoCaller):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: err.Error()})
	case errors.Is(err, types.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, indexer.ErrRebuildInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, indexer.ErrNoRebuilder), errors.Is(err, indexer.ErrNoSource):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// parseSearchRequest reads the query string. Parameter syntax errors are
// reported as validation errors; semantic checks happen in the searcher.
func parseSearchRequest(q url.Values) (searcher.SearchRequest, error) {
	req := searcher.SearchRequest{
		Query:      q.Get("q"),
		Domain:     q.Get("domain"),
		URLPattern: q.Get("url"),
		Mode:       searcher.SearchMode(q.Get("mode")),
		SortBy:     storage.SortOrder(q.Get("sortBy")),
	}

	if raw := q.Get("types"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			req.Types = append(req.Types, types.EntityType(strings.TrimSpace(part)))
		}
	}

	if raw := q.Get("tagId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return req, &types.ValidationError{Field: "tagId", Value: raw, Reason: "must be an integer"}
		}
		req.TagID = &id
	}

	var err error
	if req.After, err = searcher.ParseTimeBound("after", q.Get("after"), false); err != nil {
		return req, err
	}
	if req.Before, err = searcher.ParseTimeBound("before", q.Get("before"), true); err != nil {
		return req, err
	}
	if req.Limit, err = parseInt("limit", q.Get("limit")); err != nil {
		return req, err
	}
	if req.Offset, err = parseInt("offset", q.Get("offset")); err != nil {
		return req, err
	}
	return req, nil
}

func parseInt(field, raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &types.ValidationError{Field: field, Value: raw, Reason: "must be an integer"}
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
