package searcher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/database"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/config"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/metrics"
)

var testSlots = map[string]uint32{"created_at": 0, "source": 1}

var testEvents = []ingest.Event{
	{
		DocumentID: "a",
		Title:      "Galaxy Quest",
		Body:       "quarterly report on the rangers",
		Numeric:    map[string]float64{"created_at": 3},
		Keys:       map[string]string{"source": "wire"},
	},
	{
		DocumentID: "b",
		Title:      "Harbour news",
		Body:       "report about ships in the harbour",
		Numeric:    map[string]float64{"created_at": 1},
		Keys:       map[string]string{"source": "wire"},
	},
	{
		DocumentID: "c",
		Title:      "Weather",
		Body:       "the weather report for tomorrow",
		Numeric:    map[string]float64{"created_at": 2},
		Keys:       map[string]string{"source": "blog"},
	},
}

func newTestDB(t *testing.T, events ...ingest.Event) *database.WritableDatabase {
	t.Helper()
	w, err := database.OpenWritable("", database.CreateOrOpen, 0)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })

	ix, err := ingest.New(w, config.IndexerConfig{Language: "english", StemStrategy: "some"}, testSlots)
	require.NoError(t, err)
	for _, ev := range events {
		require.NoError(t, ix.Index(ev))
	}
	require.NoError(t, ix.Commit(context.Background()))
	return w
}

func newTestService(t *testing.T, events ...ingest.Event) (*Service, *database.WritableDatabase) {
	t.Helper()
	w := newTestDB(t, events...)
	s, err := New(w.Database, config.SearchConfig{
		Language:     "english",
		StemStrategy: "some",
		DefaultOp:    "OR",
	}, testSlots)
	require.NoError(t, err)
	return s, w
}

func hitIDs(t *testing.T, resp *Response) []string {
	t.Helper()
	ids := make([]string, 0, len(resp.Results))
	for _, hit := range resp.Results {
		var data ingest.StoredData
		require.NoError(t, json.Unmarshal(hit.Data, &data))
		ids = append(ids, data.ID)
	}
	return ids
}

func TestSearchRelevance(t *testing.T) {
	s, _ := newTestService(t, testEvents...)

	resp, err := s.Search(context.Background(), Request{Query: "galaxy", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, hitIDs(t, resp))
	assert.Equal(t, uint32(1), resp.Matches.Estimated)
	assert.Equal(t, uint32(1), resp.Results[0].Rank+1)
	assert.Equal(t, 100, resp.Results[0].Percent)
	assert.Positive(t, resp.Results[0].Weight)
	assert.NotEmpty(t, resp.Parsed)
}

func TestSearchTitlePrefix(t *testing.T) {
	s, _ := newTestService(t, testEvents...)

	resp, err := s.Search(context.Background(), Request{Query: "title:weather", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, hitIDs(t, resp))

	resp, err = s.Search(context.Background(), Request{Query: "title:report", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestSearchSort(t *testing.T) {
	s, _ := newTestService(t, testEvents...)

	tests := []struct {
		sort string
		want []string
	}{
		{"created_at", []string{"b", "c", "a"}},
		{"-created_at", []string{"a", "c", "b"}},
		{"created_at,relevance", []string{"b", "c", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.sort, func(t *testing.T) {
			resp, err := s.Search(context.Background(), Request{Query: "report", Limit: 10, Sort: tt.sort})
			require.NoError(t, err)
			assert.Equal(t, tt.want, hitIDs(t, resp))
		})
	}
}

func TestSearchPaging(t *testing.T) {
	s, _ := newTestService(t, testEvents...)

	resp, err := s.Search(context.Background(), Request{Query: "report", Offset: 1, Limit: 1, Sort: "created_at"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, hitIDs(t, resp))
	assert.Equal(t, uint32(1), resp.Results[0].Rank)
	assert.Equal(t, uint32(3), resp.Matches.Estimated)
}

func TestSearchCollapse(t *testing.T) {
	s, _ := newTestService(t, testEvents...)

	resp, err := s.Search(context.Background(), Request{Query: "report", Limit: 10, Collapse: "source"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	var collapsed uint32
	for _, hit := range resp.Results {
		collapsed += hit.CollapseCount
	}
	assert.Equal(t, uint32(1), collapsed)
}

func TestSearchErrors(t *testing.T) {
	s, _ := newTestService(t, testEvents...)
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	s.SetMetrics(m)

	tests := []struct {
		name string
		req  Request
		kind error
	}{
		{"syntax", Request{Query: "report AND", Limit: 10}, qerrors.ErrQueryParser},
		{"unknown sort", Request{Query: "report", Limit: 10, Sort: "price"}, qerrors.ErrInvalidArgument},
		{"unknown collapse", Request{Query: "report", Limit: 10, Collapse: "author"}, qerrors.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Search(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.kind)
		})
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("parse_error")))
}

func TestSearchZeroResults(t *testing.T) {
	s, _ := newTestService(t, testEvents...)
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	s.SetMetrics(m)

	resp, err := s.Search(context.Background(), Request{Query: "nonexistent", Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SearchQueriesTotal.WithLabelValues("zero_result")))
}

func TestReopenAndStats(t *testing.T) {
	dir := t.TempDir()
	w, err := database.OpenWritable(dir, database.CreateOrOpen, 0)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	ix, err := ingest.New(w, config.IndexerConfig{Language: "english", StemStrategy: "some"}, testSlots)
	require.NoError(t, err)
	require.NoError(t, ix.Index(testEvents[0]))
	require.NoError(t, ix.Commit(context.Background()))

	db, err := database.Open(dir, 0)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := New(db, config.SearchConfig{Language: "english", StemStrategy: "some"}, testSlots)
	require.NoError(t, err)

	before := s.Stats()
	assert.Equal(t, uint32(1), before.DocCount)
	assert.NotEmpty(t, before.UUID)

	changed, err := s.Reopen()
	require.NoError(t, err)
	assert.False(t, changed)

	require.NoError(t, ix.Index(testEvents[1]))
	require.NoError(t, ix.Commit(context.Background()))
	changed, err = s.Reopen()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, uint32(2), s.Stats().DocCount)
	assert.Greater(t, s.Revision(), before.Revision)
}

func TestDocument(t *testing.T) {
	s, w := newTestService(t, testEvents...)

	pl, err := w.PostingList(ingest.UniquePrefix + "c")
	require.NoError(t, err)
	require.True(t, pl.Next())
	did := uint32(pl.DocID())

	view, err := s.Document(did)
	require.NoError(t, err)
	assert.Equal(t, did, view.DocID)
	var terms []string
	for _, tv := range view.Terms {
		terms = append(terms, tv.Term)
	}
	assert.Contains(t, terms, "Qc")
	assert.Contains(t, terms, "Sweather")
	assert.Equal(t, "626c6f67", view.Values["source"])
	assert.Contains(t, view.Values, "created_at")

	_, err = s.Document(did + 100)
	assert.ErrorIs(t, err, qerrors.ErrDocumentNotFound)
}

func TestRawData(t *testing.T) {
	assert.JSONEq(t, `{"id":"x"}`, string(rawData(`{"id":"x"}`)))
	assert.Equal(t, `"plain text"`, string(rawData("plain text")))
	assert.Equal(t, "null", string(rawData("")))
}
