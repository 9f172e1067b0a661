package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/database"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/sortable"
)

type statusLog map[string][]string

func (s statusLog) UpdateStatus(ctx context.Context, ids []string, status string) error {
	s[status] = append(s[status], ids...)
	return nil
}

type dlqLog struct {
	events []kafka.Event
}

func (d *dlqLog) Publish(ctx context.Context, events ...kafka.Event) error {
	d.events = append(d.events, events...)
	return nil
}

var testSlots = map[string]uint32{"created_at": 0, "source": 1}

func newIndexer(t *testing.T) (*Indexer, *database.WritableDatabase) {
	t.Helper()
	w, err := database.OpenWritable("", database.CreateOrOpen, 0)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	ix, err := New(w, config.IndexerConfig{Language: "english", StemStrategy: "some", Spelling: true}, testSlots)
	require.NoError(t, err)
	return ix, w
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		ev     Event
		fields []string
	}{
		{"ok", Event{DocumentID: "a", Body: "text"}, nil},
		{"title only", Event{DocumentID: "a", Title: "Heading"}, nil},
		{"delete needs only id", Event{DocumentID: "a", Deleted: true}, nil},
		{"missing id", Event{Body: "text"}, []string{"document_id"}},
		{"padded id", Event{DocumentID: " a", Body: "text"}, []string{"document_id"}},
		{"empty", Event{DocumentID: "a", Body: "   "}, []string{"body"}},
		{"bad utf8", Event{DocumentID: "a", Body: "\xff"}, []string{"encoding"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.ev)
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			for _, f := range tt.fields {
				assert.Contains(t, verr.Fields, f)
			}
		})
	}
}

func TestIndexAndCommit(t *testing.T) {
	ix, w := newIndexer(t)
	status := statusLog{}
	ix.SetStatusRecorder(status)
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	ix.SetMetrics(m)

	require.NoError(t, ix.Index(Event{
		DocumentID: "doc-1",
		Title:      "Galaxy Quest",
		Body:       "the rangers were flying home",
		Numeric:    map[string]float64{"created_at": 1700000000, "unknown": 3},
		Keys:       map[string]string{"source": "wire"},
	}))
	require.NoError(t, ix.Index(Event{DocumentID: "doc-2", Body: "quiet evening"}))
	assert.Error(t, ix.Index(Event{DocumentID: "doc-3"}))
	assert.Equal(t, 3, ix.Pending())

	require.NoError(t, ix.Commit(context.Background()))
	assert.Equal(t, 0, ix.Pending())
	assert.ElementsMatch(t, []string{"doc-1", "doc-2"}, status[StatusIndexed])
	assert.Equal(t, []string{"doc-3"}, status[StatusFailed])
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DocsIndexedTotal.WithLabelValues("replace")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocsIndexedTotal.WithLabelValues("failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.DatabaseDocCount))

	for _, term := range []string{"Qdoc-1", "Sgalaxy", "Squest", "ZSgalaxi", "rangers", "Zranger", "galaxy", "Zgalaxi"} {
		tf, err := w.TermFreq(term)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), tf, term)
	}

	pl, err := w.PostingList("Qdoc-1")
	require.NoError(t, err)
	require.True(t, pl.Next())
	doc, err := w.Document(pl.DocID())
	require.NoError(t, err)
	assert.Equal(t, sortable.Serialise(1700000000), doc.Value(index.Slot(0)))
	assert.Equal(t, "wire", doc.Value(index.Slot(1)))

	var data StoredData
	require.NoError(t, json.Unmarshal([]byte(doc.Data()), &data))
	assert.Equal(t, StoredData{ID: "doc-1", Title: "Galaxy Quest", Snippet: "the rangers were flying home"}, data)
}

func TestReplaceAndDelete(t *testing.T) {
	ix, w := newIndexer(t)
	require.NoError(t, ix.Index(Event{DocumentID: "doc-1", Body: "first version"}))
	require.NoError(t, ix.Index(Event{DocumentID: "doc-1", Body: "second version"}))
	require.NoError(t, ix.Commit(context.Background()))

	assert.Equal(t, uint32(1), w.DocCount())
	tf, err := w.TermFreq("first")
	require.NoError(t, err)
	assert.Zero(t, tf)

	require.NoError(t, ix.Index(Event{DocumentID: "doc-1", Deleted: true}))
	require.NoError(t, ix.Index(Event{DocumentID: "never-indexed", Deleted: true}))
	require.NoError(t, ix.Commit(context.Background()))
	assert.Zero(t, w.DocCount())
}

func TestHandleMessageDeadLetters(t *testing.T) {
	ix, _ := newIndexer(t)
	dlq := &dlqLog{}
	ix.SetDeadLetter(dlq)
	handle := ix.HandleMessage()
	ctx := context.Background()

	good, err := json.Marshal(Event{DocumentID: "ok", Body: "fine"})
	require.NoError(t, err)
	require.NoError(t, handle(ctx, []byte("ok"), good))

	assert.Error(t, handle(ctx, []byte("broken"), []byte("{not json")))
	bad, err := json.Marshal(Event{DocumentID: "empty"})
	require.NoError(t, err)
	assert.Error(t, handle(ctx, []byte("empty"), bad))

	require.Len(t, dlq.events, 2)
	assert.Equal(t, "broken", dlq.events[0].Key)
	assert.Equal(t, "index", dlq.events[0].Headers["reason"])
	assert.Equal(t, "empty", dlq.events[1].Key)
	assert.Equal(t, "validation", dlq.events[1].Headers["reason"])
}

type sliceSource []Event

func (s sliceSource) ForEachPending(ctx context.Context, fn func(Event) error) error {
	for _, ev := range s {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

func TestLoaderBatches(t *testing.T) {
	ix, w := newIndexer(t)
	status := statusLog{}
	ix.SetStatusRecorder(status)

	src := sliceSource{
		{DocumentID: "1", Body: "alpha"},
		{DocumentID: "2", Body: "beta"},
		{DocumentID: "3"},
		{DocumentID: "4", Body: "delta"},
		{DocumentID: "5", Body: "epsilon"},
	}
	stats, err := NewLoader(ix, src, 2).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Seen)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 3, stats.Commits)
	assert.Equal(t, uint32(4), w.DocCount())
	assert.Len(t, status[StatusIndexed], 4)
	assert.Equal(t, []string{"3"}, status[StatusFailed])
}

func TestLoaderStopsOnCommitError(t *testing.T) {
	ix, w := newIndexer(t)
	require.NoError(t, w.BeginTransaction(false))
	_, err := NewLoader(ix, sliceSource{{DocumentID: "1", Body: "alpha"}}, 1).Run(context.Background())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
}

func TestSnippet(t *testing.T) {
	long := make([]rune, snippetLen+10)
	for i := range long {
		long[i] = 'é'
	}
	assert.Equal(t, snippetLen, len([]rune(snippet(string(long)))))
	assert.Equal(t, "short", snippet("short"))
}

type saveLog struct {
	saved []Event
	err   error
}

func (s *saveLog) Save(ctx context.Context, ev Event) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, ev)
	return nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(ctx context.Context, events ...kafka.Event) error {
	return errors.New("broker down")
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()

	t.Run("records then publishes", func(t *testing.T) {
		rec, pub := &saveLog{}, &dlqLog{}
		s := NewSubmitter(rec, pub)
		require.NoError(t, s.Submit(ctx, Event{DocumentID: "d1", Title: "Hello"}))
		require.Len(t, rec.saved, 1)
		assert.False(t, rec.saved[0].IngestedAt.IsZero())
		require.Len(t, pub.events, 1)
		assert.Equal(t, "d1", pub.events[0].Key)
		assert.Equal(t, "d1", pub.events[0].Value.(Event).DocumentID)
	})

	t.Run("invalid events go nowhere", func(t *testing.T) {
		rec, pub := &saveLog{}, &dlqLog{}
		err := NewSubmitter(rec, pub).Submit(ctx, Event{DocumentID: "d1"})
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
		assert.Empty(t, rec.saved)
		assert.Empty(t, pub.events)
	})

	t.Run("record failure is returned", func(t *testing.T) {
		rec, pub := &saveLog{err: errors.New("pg down")}, &dlqLog{}
		assert.Error(t, NewSubmitter(rec, pub).Submit(ctx, Event{DocumentID: "d1", Body: "x"}))
		assert.Empty(t, pub.events)
	})

	t.Run("publish failure leaves row pending", func(t *testing.T) {
		rec := &saveLog{}
		assert.NoError(t, NewSubmitter(rec, failingPublisher{}).Submit(ctx, Event{DocumentID: "d1", Body: "x"}))
		assert.Len(t, rec.saved, 1)
	})

	t.Run("publish failure without recorder is returned", func(t *testing.T) {
		assert.Error(t, NewSubmitter(nil, failingPublisher{}).Submit(ctx, Event{DocumentID: "d1", Body: "x"}))
	})
}

func TestSnapshot(t *testing.T) {
	ix, _ := newIndexer(t)
	docs, rev := ix.Snapshot()
	assert.Zero(t, docs)

	require.NoError(t, ix.Index(Event{DocumentID: "a", Body: "text"}))
	require.NoError(t, ix.Commit(context.Background()))
	docs, next := ix.Snapshot()
	assert.Equal(t, uint32(1), docs)
	assert.Greater(t, next, rev)
}
