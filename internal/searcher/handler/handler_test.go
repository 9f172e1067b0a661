package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/database"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/searcher"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/querycore/pkg/redis"
)

var slots = map[string]uint32{"created_at": 0, "source": 1}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, pkgredis.ErrNil
	}
	return v, nil
}

func (m *memStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *memStore) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	clear(m.data)
	return n, nil
}

type fixture struct {
	mux     *http.ServeMux
	w       *database.WritableDatabase
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, withCache bool) *fixture {
	t.Helper()
	w, err := database.OpenWritable("", database.CreateOrOpen, 0)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	ix, err := ingest.New(w, config.IndexerConfig{Language: "english", StemStrategy: "some"}, slots)
	require.NoError(t, err)
	for i, body := range []string{
		"the harbour report",
		"a report on galaxies",
		"tomorrow's weather report",
	} {
		require.NoError(t, ix.Index(ingest.Event{
			DocumentID: "doc-" + strconv.Itoa(i+1),
			Title:      "Title " + strconv.Itoa(i+1),
			Body:       body,
			Numeric:    map[string]float64{"created_at": float64(i)},
		}))
	}
	require.NoError(t, ix.Commit(context.Background()))

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	svc, err := searcher.New(w.Database, config.SearchConfig{Language: "english", StemStrategy: "some"}, slots)
	require.NoError(t, err)
	svc.SetMetrics(m)

	var qc *cache.QueryCache
	if withCache {
		qc = cache.New(&memStore{data: make(map[string][]byte)}, time.Minute, m)
	}
	mux := http.NewServeMux()
	New(svc, qc, m, 2, 50).Routes(mux)
	return &fixture{mux: mux, w: w, metrics: m}
}

func (f *fixture) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestSearchEndpoint(t *testing.T) {
	f := newFixture(t, false)

	rec, body := f.do(t, http.MethodGet, "/api/v1/search?q=report")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	results := body["results"].([]any)
	assert.Len(t, results, 2, "default limit applies")
	assert.Equal(t, 3.0, body["matches"].(map[string]any)["estimated"])

	rec, body = f.do(t, http.MethodGet, "/api/v1/search?q=report&sort=-created_at&limit=1&offset=1")
	require.Equal(t, http.StatusOK, rec.Code)
	results = body["results"].([]any)
	require.Len(t, results, 1)
	data := results[0].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, "doc-2", data["id"])
	assert.Equal(t, 1.0, results[0].(map[string]any)["rank"])
}

func TestSearchLimitCapped(t *testing.T) {
	f := newFixture(t, false)

	rec, body := f.do(t, http.MethodGet, "/api/v1/search?q=report&limit=1000")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 50.0, body["limit"])
}

func TestSearchBadRequests(t *testing.T) {
	f := newFixture(t, false)

	tests := []struct {
		name    string
		target  string
		message string
	}{
		{"missing q", "/api/v1/search", "required"},
		{"bad limit", "/api/v1/search?q=x&limit=ten", "limit"},
		{"negative offset", "/api/v1/search?q=x&offset=-1", "offset"},
		{"syntax error", "/api/v1/search?q=" + "report+AND", "syntax"},
		{"unknown sort", "/api/v1/search?q=report&sort=price", "price"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := f.do(t, http.MethodGet, tt.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, body["error"], tt.message)
		})
	}
}

func TestSearchCached(t *testing.T) {
	f := newFixture(t, true)

	for range 3 {
		rec, _ := f.do(t, http.MethodGet, "/api/v1/search?q=weather")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SearchQueriesTotal.WithLabelValues("miss")))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SearchQueriesTotal.WithLabelValues("hit")))

	rec, body := f.do(t, http.MethodGet, "/api/v1/cache/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, body["hits"])
	assert.Equal(t, 1.0, body["misses"])
	assert.Equal(t, "66.7%", body["hit_rate"])

	rec, body = f.do(t, http.MethodPost, "/api/v1/cache/invalidate")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "invalidated", body["status"])
}

func TestCacheEndpointsDisabled(t *testing.T) {
	f := newFixture(t, false)

	rec, body := f.do(t, http.MethodGet, "/api/v1/cache/stats")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disabled", body["status"])

	rec, _ = f.do(t, http.MethodPost, "/api/v1/cache/invalidate")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDocumentEndpoint(t *testing.T) {
	f := newFixture(t, false)

	rec, body := f.do(t, http.MethodGet, "/api/v1/documents/1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["docid"])
	assert.NotEmpty(t, body["terms"])

	rec, _ = f.do(t, http.MethodGet, "/api/v1/documents/99")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = f.do(t, http.MethodGet, "/api/v1/documents/zero")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsAndReopen(t *testing.T) {
	f := newFixture(t, false)

	rec, body := f.do(t, http.MethodGet, "/api/v1/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3.0, body["doc_count"])

	rec, body = f.do(t, http.MethodPost, "/api/v1/reopen")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "changed")
	assert.Contains(t, body, "revision")

	rec = httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reopen", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestPublicMessage(t *testing.T) {
	assert.Equal(t, "search failed", publicMessage(assert.AnError, http.StatusInternalServerError))
	assert.True(t, strings.Contains(publicMessage(assert.AnError, http.StatusBadRequest), "assert.AnError"))
}
