package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/database"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/document"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/termgen"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/sortable"
)

const (
	// TitlePrefix marks terms that came from the title.
	TitlePrefix = "S"
	// UniquePrefix marks the term holding the source document id.
	UniquePrefix = "Q"

	// fieldGap keeps phrases from matching across the title and body.
	fieldGap   = 100
	snippetLen = 200
)

// StatusRecorder receives the outcome of each committed batch.
type StatusRecorder interface {
	UpdateStatus(ctx context.Context, ids []string, status string) error
}

// Publisher takes events that could not be indexed.
type Publisher interface {
	Publish(ctx context.Context, events ...kafka.Event) error
}

// Indexer writes events into a WritableDatabase. It is safe for concurrent
// use; calls are serialised.
type Indexer struct {
	db      *database.WritableDatabase
	tg      *termgen.TermGenerator
	slots   map[string]index.Slot
	status  StatusRecorder
	dlq     Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	indexed []string
	failed  []string
}

// New builds an Indexer over db, configuring the term generator from cfg.
func New(db *database.WritableDatabase, cfg config.IndexerConfig, slots map[string]uint32) (*Indexer, error) {
	stemmer, err := tokenizer.NewStemmer(cfg.Language)
	if err != nil {
		return nil, err
	}
	strategy, err := tokenizer.ParseStemStrategy(cfg.StemStrategy)
	if err != nil {
		return nil, err
	}
	tg := termgen.New()
	tg.SetStemmer(stemmer)
	tg.SetStemmingStrategy(strategy)
	if cfg.Language == "english" {
		tg.SetStopper(tokenizer.EnglishStopper())
		tg.SetStopStrategy(termgen.StopStemmed)
	}
	if cfg.Spelling {
		tg.SetDatabase(db)
		tg.SetFlags(termgen.FlagSpelling)
	}

	s := make(map[string]index.Slot, len(slots))
	for name, slot := range slots {
		s[name] = index.Slot(slot)
	}
	return &Indexer{
		db:     db,
		tg:     tg,
		slots:  s,
		logger: logger.WithComponent("indexer"),
	}, nil
}

func (ix *Indexer) SetStatusRecorder(r StatusRecorder) { ix.status = r }

func (ix *Indexer) SetDeadLetter(p Publisher) { ix.dlq = p }

func (ix *Indexer) SetMetrics(m *metrics.Metrics) { ix.metrics = m }

// Index applies one event to the staged database. Nothing is durable until
// Commit.
func (ix *Indexer) Index(ev Event) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := Validate(&ev); err != nil {
		ix.fail(ev.DocumentID)
		return fmt.Errorf("validating document %q: %w", ev.DocumentID, err)
	}
	unique := UniquePrefix + ev.DocumentID
	if ev.Deleted {
		if err := ix.db.DeleteDocumentByTerm(unique); err != nil {
			ix.fail(ev.DocumentID)
			return fmt.Errorf("deleting document %s: %w", ev.DocumentID, err)
		}
		ix.count("delete")
		ix.indexed = append(ix.indexed, ev.DocumentID)
		return nil
	}

	doc, err := ix.buildDocument(ev)
	if err != nil {
		ix.fail(ev.DocumentID)
		return err
	}
	did, err := ix.db.ReplaceDocumentByTerm(unique, doc)
	if err != nil {
		ix.fail(ev.DocumentID)
		return fmt.Errorf("indexing document %s: %w", ev.DocumentID, err)
	}
	ix.count("replace")
	ix.indexed = append(ix.indexed, ev.DocumentID)
	ix.logger.Debug("document staged", "doc_id", ev.DocumentID, "docid", did)
	return nil
}

func (ix *Indexer) buildDocument(ev Event) (*document.Document, error) {
	data, err := json.Marshal(StoredData{
		ID:      ev.DocumentID,
		Title:   ev.Title,
		Snippet: snippet(ev.Body),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding data for %s: %w", ev.DocumentID, err)
	}
	doc := document.New()
	doc.SetData(string(data))

	// Title capitals are headline case, not proper nouns, so title words
	// are stemmed like lower-case query words.
	title := strings.ToLower(ev.Title)
	ix.tg.SetDocument(doc)
	ix.tg.IndexText(title, 1, TitlePrefix)
	ix.tg.IndexText(title, 1, "")
	ix.tg.IncreaseTermpos(fieldGap)
	ix.tg.IndexText(ev.Body, 1, "")
	doc.AddBooleanTerm(UniquePrefix + ev.DocumentID)

	for _, name := range sortedKeys(ev.Numeric) {
		if slot, ok := ix.slot(name); ok {
			doc.AddValue(slot, sortable.Serialise(ev.Numeric[name]))
		}
	}
	for _, name := range sortedKeys(ev.Keys) {
		if slot, ok := ix.slot(name); ok {
			doc.AddValue(slot, ev.Keys[name])
		}
	}
	return doc, nil
}

func (ix *Indexer) slot(name string) (index.Slot, bool) {
	slot, ok := ix.slots[name]
	if !ok {
		ix.logger.Debug("ignoring value with no slot", "field", name)
	}
	return slot, ok
}

// Pending is the number of events staged since the last Commit.
func (ix *Indexer) Pending() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.indexed) + len(ix.failed)
}

// Snapshot reports the document count and revision of the database,
// serialised with indexing.
func (ix *Indexer) Snapshot() (docs uint32, revision uint64) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.db.DocCount(), ix.db.Revision()
}

// Commit makes staged changes durable, then reports the batch to the
// status recorder. A failed status update is logged but does not fail the
// commit; the next bulk load picks those rows up again.
func (ix *Indexer) Commit(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	start := time.Now()
	if err := ix.db.Commit(); err != nil {
		if ix.metrics != nil {
			ix.metrics.CommitsTotal.WithLabelValues("error").Inc()
		}
		return fmt.Errorf("committing %d documents: %w", len(ix.indexed), err)
	}
	if ix.metrics != nil {
		ix.metrics.CommitsTotal.WithLabelValues("ok").Inc()
		ix.metrics.CommitDuration.Observe(time.Since(start).Seconds())
		ix.metrics.DatabaseDocCount.Set(float64(ix.db.DocCount()))
		ix.metrics.DatabaseRevision.Set(float64(ix.db.Revision()))
	}
	ix.logger.Info("batch committed",
		"indexed", len(ix.indexed),
		"failed", len(ix.failed),
		"revision", ix.db.Revision(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	ix.report(ctx, ix.indexed, StatusIndexed)
	ix.report(ctx, ix.failed, StatusFailed)
	ix.indexed = ix.indexed[:0]
	ix.failed = ix.failed[:0]
	return nil
}

func (ix *Indexer) report(ctx context.Context, ids []string, status string) {
	if ix.status == nil || len(ids) == 0 {
		return
	}
	if err := ix.status.UpdateStatus(ctx, ids, status); err != nil {
		ix.logger.Error("failed to update document status",
			"status", status,
			"documents", len(ids),
			"error", err,
		)
	}
}

// HandleMessage returns a Kafka MessageHandler that indexes each ingest
// event. Undecodable or rejected events go to the dead letter topic.
func (ix *Indexer) HandleMessage() kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[Event](value)
		if err != nil {
			ix.deadLetter(ctx, string(key), string(value), err)
			return err
		}
		if err := ix.Index(ev); err != nil {
			ix.deadLetter(ctx, ev.DocumentID, ev, err)
			return err
		}
		return nil
	}
}

func (ix *Indexer) deadLetter(ctx context.Context, key string, value any, cause error) {
	if ix.dlq == nil {
		return
	}
	reason := "index"
	var verr *ValidationError
	if errors.As(cause, &verr) {
		reason = "validation"
	}
	err := ix.dlq.Publish(ctx, kafka.Event{
		Key:     key,
		Value:   value,
		Headers: map[string]string{"error": cause.Error(), "reason": reason},
	})
	if err != nil {
		ix.logger.Error("failed to dead-letter event", "key", key, "error", err)
	}
}

func (ix *Indexer) fail(id string) {
	ix.count("failed")
	if id != "" {
		ix.failed = append(ix.failed, id)
	}
}

func (ix *Indexer) count(action string) {
	if ix.metrics != nil {
		ix.metrics.DocsIndexedTotal.WithLabelValues(action).Inc()
	}
}

func snippet(body string) string {
	if utf8.RuneCountInString(body) <= snippetLen {
		return body
	}
	n := 0
	for i := range body {
		if n == snippetLen {
			return body[:i]
		}
		n++
	}
	return body
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
