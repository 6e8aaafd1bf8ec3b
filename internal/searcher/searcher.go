package searcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/highlight-search/internal/access"
	"github.com/dshills/highlight-search/internal/embedder"
	"github.com/dshills/highlight-search/internal/logging"
	"github.com/dshills/highlight-search/internal/metrics"
	"github.com/dshills/highlight-search/internal/source"
	"github.com/dshills/highlight-search/internal/storage"
	"github.com/dshills/highlight-search/pkg/types"
)

// SearchMode defines the type of search to perform
type SearchMode string

const (
	ModeHybrid   SearchMode = "hybrid"
	ModeFTS      SearchMode = "fts"
	ModeSemantic SearchMode = "semantic"
)

// SupportedModes lists the accepted modes in display order
var SupportedModes = []SearchMode{ModeHybrid, ModeFTS, ModeSemantic}

func (m SearchMode) valid() bool {
	switch m {
	case ModeHybrid, ModeFTS, ModeSemantic:
		return true
	}
	return false
}

const (
	DefaultLimit              = 20
	MaxLimit                  = 100
	DefaultMinSimilarity      = 0.2
	DefaultSemanticCandidates = 200
	DefaultRRFConstant        = 60
)

// SearchRequest represents a search query with filters
type SearchRequest struct {
	Query      string
	Types      []types.EntityType
	TagID      *int64
	Domain     string
	URLPattern string
	After      *time.Time
	Before     *time.Time
	Mode       SearchMode        // default hybrid
	SortBy     storage.SortOrder // default relevance
	Limit      int               // default 20, capped at 100
	Offset     int

	CallerUserID string
}

// SearchResponse contains one page of results and how they were produced
type SearchResponse struct {
	Results []types.SearchResult `json:"results"`
	Meta    types.SearchMeta     `json:"meta"`
}

// Options configures a Searcher
type Options struct {
	Friends access.FriendLister
	Tags    source.TagLookup

	MinSimilarity      float64 // default 0.2
	SemanticCandidates int     // default 200
	RRFConstant        float64 // default 60

	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// Searcher answers search requests over the index
type Searcher struct {
	storage storage.Storage
	gen     *embedder.Generator
	friends access.FriendLister
	tags    source.TagLookup

	minSimilarity float64
	candidates    int
	rrfK          float64

	logger  *slog.Logger
	metrics metrics.Recorder
}

// New creates a Searcher. gen may be nil, in which case every request is
// answered with full-text search.
func New(store storage.Storage, gen *embedder.Generator, opts Options) *Searcher {
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = DefaultMinSimilarity
	}
	if opts.SemanticCandidates <= 0 {
		opts.SemanticCandidates = DefaultSemanticCandidates
	}
	if opts.RRFConstant <= 0 {
		opts.RRFConstant = DefaultRRFConstant
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Noop{}
	}
	return &Searcher{
		storage:       store,
		gen:           gen,
		friends:       opts.Friends,
		tags:          opts.Tags,
		minSimilarity: opts.MinSimilarity,
		candidates:    opts.SemanticCandidates,
		rrfK:          opts.RRFConstant,
		logger:        logging.OrDiscard(opts.Logger),
		metrics:       opts.Metrics,
	}
}

// Capabilities reports the supported modes and entity types. It never
// touches the index.
func (s *Searcher) Capabilities() types.Capabilities {
	caps := types.Capabilities{
		SupportedModes: make([]string, len(SupportedModes)),
		SupportedTypes: make([]string, len(types.AllEntityTypes)),
	}
	for i, m := range SupportedModes {
		caps.SupportedModes[i] = string(m)
	}
	for i, t := range types.AllEntityTypes {
		caps.SupportedTypes[i] = string(t)
	}
	return caps
}

// Search executes a search request
func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.search(ctx, req)

	modeUsed := string(req.Mode)
	degraded := false
	if resp != nil {
		modeUsed = resp.Meta.ModeUsed
		degraded = resp.Meta.ModeUsed != resp.Meta.ModeRequested
	}
	s.metrics.RecordSearch(modeUsed, degraded, time.Since(start), err)

	if err != nil {
		return nil, err
	}
	s.logger.Debug("search complete",
		"mode_requested", req.Mode,
		"mode_used", resp.Meta.ModeUsed,
		"total", resp.Meta.Total,
		"returned", len(resp.Results),
		"duration", time.Since(start))
	return resp, nil
}

func (s *Searcher) search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	filter, err := s.buildFilter(ctx, req)
	if err != nil {
		return nil, err
	}

	mode := req.Mode
	var vector []float32
	if mode != ModeFTS {
		vector, err = s.embedQuery(ctx, req.Query)
		if err != nil {
			s.logger.Warn("semantic search unavailable, using full-text search", "error", err)
			mode = ModeFTS
		}
	}

	var page *candidatePage
	switch mode {
	case ModeFTS:
		page, err = s.ftsSearch(ctx, req, filter)
	case ModeSemantic:
		page, err = s.semanticSearch(ctx, req, filter, vector)
	default:
		page, err = s.hybridSearch(ctx, req, filter, vector)
	}
	if err != nil {
		return nil, err
	}

	results, err := s.fetchResults(ctx, page.hits)
	if err != nil {
		return nil, err
	}

	return &SearchResponse{
		Results: results,
		Meta: types.SearchMeta{
			Query:              req.Query,
			ModeRequested:      string(req.Mode),
			ModeUsed:           string(mode),
			SemanticSearchUsed: mode != ModeFTS,
			Total:              page.total,
			Limit:              req.Limit,
			Offset:             req.Offset,
			SortBy:             string(req.SortBy),
		},
	}, nil
}

func (s *Searcher) embedQuery(ctx context.Context, query string) ([]float32, error) {
	if !s.gen.SemanticAvailable() {
		return nil, embedder.ErrNoProviderEnabled
	}
	return s.gen.EmbedQuery(ctx, query)
}

// buildFilter resolves the caller's access predicate and the structural filters
func (s *Searcher) buildFilter(ctx context.Context, req SearchRequest) (storage.Filter, error) {
	acc, err := access.Build(ctx, req.CallerUserID, s.friends)
	if err != nil {
		return storage.Filter{}, err
	}

	filter := storage.Filter{
		Access:     acc,
		Types:      req.Types,
		Domain:     req.Domain,
		URLPattern: req.URLPattern,
		After:      req.After,
		Before:     req.Before,
	}

	if req.TagID != nil {
		if s.tags == nil {
			return storage.Filter{}, &types.ValidationError{Field: "tagId", Reason: "tag filtering is not configured"}
		}
		refs, err := s.tags.EntitiesForTag(ctx, *req.TagID)
		if err != nil {
			return storage.Filter{}, fmt.Errorf("resolve tag %d: %w", *req.TagID, err)
		}
		filter.Refs = refs
		filter.RestrictRefs = true
	}
	return filter, nil
}

// candidatePage is one ordered page of hits and the size of the full set
type candidatePage struct {
	hits  []storage.Hit
	total int
}

// ftsSearch lets storage order, count and paginate
func (s *Searcher) ftsSearch(ctx context.Context, req SearchRequest, filter storage.Filter) (*candidatePage, error) {
	res, err := s.storage.SearchLexical(ctx, storage.LexicalQuery{
		Text:   req.Query,
		Filter: filter,
		SortBy: req.SortBy,
		Limit:  req.Limit,
		Offset: req.Offset,
	})
	if err != nil {
		return nil, err
	}
	return &candidatePage{hits: res.Hits, total: res.Total}, nil
}

// semanticSearch pages through the capped similarity pool
func (s *Searcher) semanticSearch(ctx context.Context, req SearchRequest, filter storage.Filter, vector []float32) (*candidatePage, error) {
	hits, err := s.storage.SearchSemantic(ctx, storage.SemanticQuery{
		Vector:        vector,
		Filter:        filter,
		MinSimilarity: s.minSimilarity,
		Limit:         s.candidates,
	})
	if err != nil {
		return nil, err
	}
	storage.SortHits(hits, req.SortBy)
	return &candidatePage{hits: paginate(hits, req.Offset, req.Limit), total: len(hits)}, nil
}

// hybridSearch runs lexical and semantic retrieval in parallel and fuses
// the two rankings
func (s *Searcher) hybridSearch(ctx context.Context, req SearchRequest, filter storage.Filter, vector []float32) (*candidatePage, error) {
	var (
		lexical  []storage.Hit
		semantic []storage.Hit
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := s.storage.SearchLexical(gctx, storage.LexicalQuery{
			Text:   req.Query,
			Filter: filter,
			SortBy: storage.SortRelevance,
		})
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}
		lexical = res.Hits
		return nil
	})
	g.Go(func() error {
		hits, err := s.storage.SearchSemantic(gctx, storage.SemanticQuery{
			Vector:        vector,
			Filter:        filter,
			MinSimilarity: s.minSimilarity,
			Limit:         s.candidates,
		})
		if err != nil {
			return fmt.Errorf("semantic search: %w", err)
		}
		semantic = hits
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fused := applyRRF(lexical, semantic, s.rrfK)
	storage.SortHits(fused, req.SortBy)
	return &candidatePage{hits: paginate(fused, req.Offset, req.Limit), total: len(fused)}, nil
}

// applyRRF combines ranked lists with Reciprocal Rank Fusion:
// RRF(d) = Σ 1/(k + rank(d)), ranks starting at 1.
// The result is unordered; its length is the size of the union.
func applyRRF(lexical, semantic []storage.Hit, k float64) []storage.Hit {
	index := make(map[types.EntityRef]int, len(lexical)+len(semantic))
	fused := make([]storage.Hit, 0, len(lexical)+len(semantic))

	add := func(list []storage.Hit) {
		for rank, h := range list {
			score := 1.0 / (k + float64(rank+1))
			if i, ok := index[h.Ref]; ok {
				fused[i].Score += score
				continue
			}
			index[h.Ref] = len(fused)
			fused = append(fused, storage.Hit{Ref: h.Ref, Score: score, CreatedAt: h.CreatedAt})
		}
	}
	add(lexical)
	add(semantic)

	return fused
}

func paginate(hits []storage.Hit, offset, limit int) []storage.Hit {
	if offset >= len(hits) {
		return nil
	}
	end := offset + limit
	if end > len(hits) {
		end = len(hits)
	}
	return hits[offset:end]
}

// fetchResults loads display fields for an ordered page. Entries deleted
// since retrieval are skipped.
func (s *Searcher) fetchResults(ctx context.Context, hits []storage.Hit) ([]types.SearchResult, error) {
	results := make([]types.SearchResult, 0, len(hits))
	if len(hits) == 0 {
		return results, nil
	}

	refs := make([]types.EntityRef, len(hits))
	for i, h := range hits {
		refs[i] = h.Ref
	}
	entries, err := s.storage.GetEntries(ctx, refs)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}

	for _, h := range hits {
		e, ok := entries[h.Ref]
		if !ok {
			continue
		}
		results = append(results, toResult(e, h.Score))
	}
	return results, nil
}

func toResult(e *storage.Entry, score float64) types.SearchResult {
	r := types.SearchResult{
		Type:      e.EntityType,
		ID:        e.EntityID,
		URL:       e.SourceURL,
		CreatedAt: e.CreatedAt,
		Score:     score,
	}
	switch e.EntityType {
	case types.EntityBookmark:
		r.Title = e.Title
		if r.Title == "" {
			r.Title = e.Content
		}
	case types.EntityHighlight:
		r.Text = e.Body
	case types.EntityComment:
		r.Content = e.Body
	}
	return r
}

// validateRequest normalizes defaults and rejects malformed requests
func validateRequest(req *SearchRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return &types.ValidationError{Field: "query", Reason: "must not be empty"}
	}

	if req.Mode == "" {
		req.Mode = ModeHybrid
	}
	if !req.Mode.valid() {
		allowed := make([]string, len(SupportedModes))
		for i, m := range SupportedModes {
			allowed[i] = string(m)
		}
		return &types.ValidationError{Field: "mode", Value: string(req.Mode), Allowed: allowed}
	}

	if req.SortBy == "" {
		req.SortBy = storage.SortRelevance
	}
	if req.SortBy != storage.SortRelevance && req.SortBy != storage.SortCreated {
		return &types.ValidationError{
			Field:   "sortBy",
			Value:   string(req.SortBy),
			Allowed: []string{string(storage.SortRelevance), string(storage.SortCreated)},
		}
	}

	for _, t := range req.Types {
		if !t.Valid() {
			allowed := make([]string, len(types.AllEntityTypes))
			for i, a := range types.AllEntityTypes {
				allowed[i] = string(a)
			}
			return &types.ValidationError{Field: "types", Value: string(t), Allowed: allowed}
		}
	}

	if req.Limit < 0 {
		return &types.ValidationError{Field: "limit", Value: fmt.Sprint(req.Limit), Reason: "must not be negative"}
	}
	if req.Limit == 0 {
		req.Limit = DefaultLimit
	}
	if req.Limit > MaxLimit {
		req.Limit = MaxLimit
	}
	if req.Offset < 0 {
		return &types.ValidationError{Field: "offset", Value: fmt.Sprint(req.Offset), Reason: "must not be negative"}
	}

	if req.After != nil && req.Before != nil && req.After.After(*req.Before) {
		return &types.ValidationError{Field: "after", Value: req.After.Format(time.RFC3339), Reason: "must not be later than before"}
	}

	if strings.TrimSpace(req.CallerUserID) == "" {
		return &types.ValidationError{Field: "callerUserId", Reason: "caller identity required"}
	}
	return nil
}
