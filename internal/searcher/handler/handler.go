package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/searcher/cache"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/middleware"
)

// Searcher is the search service the handler fronts.
type Searcher interface {
	Search(ctx context.Context, req searcher.Request) (*searcher.Response, error)
	Document(did uint32) (*searcher.DocumentView, error)
	Reopen() (bool, error)
	Revision() uint64
	Stats() searcher.Stats
}

type Handler struct {
	searcher     Searcher
	cache        *cache.QueryCache
	metrics      *metrics.Metrics
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

// New builds the handler; queryCache and m may be nil.
func New(s Searcher, queryCache *cache.QueryCache, m *metrics.Metrics, defaultLimit, maxResults int) *Handler {
	return &Handler{
		searcher:     s,
		cache:        queryCache,
		metrics:      m,
		defaultLimit: defaultLimit,
		maxResults:   maxResults,
		logger:       logger.WithComponent("search-handler"),
	}
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/documents/{docid}", h.Document)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("POST /api/v1/reopen", h.Reopen)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)
	params := r.URL.Query()

	req := searcher.Request{
		Query:    params.Get("q"),
		Limit:    h.defaultLimit,
		Sort:     params.Get("sort"),
		Collapse: params.Get("collapse"),
	}
	if req.Query == "" {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	if v := params.Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		req.Limit = min(parsed, h.maxResults)
	}
	if v := params.Get("offset"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			h.writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		req.Offset = parsed
	}

	var (
		resp     *searcher.Response
		err      error
		cacheHit bool
	)
	if h.cache != nil {
		resp, cacheHit, err = h.cache.GetOrCompute(ctx, req, h.searcher.Revision(), func() (*searcher.Response, error) {
			return h.searcher.Search(ctx, req)
		})
	} else {
		resp, err = h.searcher.Search(ctx, req)
	}
	if err != nil {
		status := qerrors.HTTPStatusCode(err)
		if status >= http.StatusInternalServerError {
			log.Error("search execution failed", "query", req.Query, "error", err)
		}
		h.writeError(w, status, publicMessage(err, status))
		return
	}
	if h.metrics != nil {
		outcome := "miss"
		if cacheHit {
			outcome = "hit"
		}
		h.metrics.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	}

	log.Info("search completed",
		"query", req.Query,
		"estimated", resp.Matches.Estimated,
		"returned", len(resp.Results),
		"cache_hit", cacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
		"request_id", middleware.GetRequestID(ctx),
	)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Document(w http.ResponseWriter, r *http.Request) {
	did, err := strconv.ParseUint(r.PathValue("docid"), 10, 32)
	if err != nil || did == 0 {
		h.writeError(w, http.StatusBadRequest, "docid must be a positive integer")
		return
	}
	view, err := h.searcher.Document(uint32(did))
	if err != nil {
		status := qerrors.HTTPStatusCode(err)
		h.writeError(w, status, publicMessage(err, status))
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.searcher.Stats())
}

// Reopen moves the searcher to the latest committed revision. Cached
// responses are keyed by revision, so the cache needs no flush.
func (h *Handler) Reopen(w http.ResponseWriter, r *http.Request) {
	changed, err := h.searcher.Reopen()
	if err != nil {
		h.logger.Error("reopen failed", "error", err)
		status := qerrors.HTTPStatusCode(err)
		h.writeError(w, status, publicMessage(err, status))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"changed":  changed,
		"revision": h.searcher.Revision(),
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// publicMessage hides internal failures behind a generic message; client
// errors carry their detail.
func publicMessage(err error, status int) string {
	if status >= http.StatusInternalServerError && status != http.StatusGatewayTimeout && status != http.StatusNotImplemented {
		return "search failed"
	}
	var qerr *qerrors.Error
	if errors.As(err, &qerr) {
		return qerr.Error()
	}
	return err.Error()
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
