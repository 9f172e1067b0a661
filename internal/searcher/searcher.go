// Package searcher answers search requests against an open database: it
// parses the query text, runs the match and shapes the MSet for the HTTP
// layer.
package searcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/database"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/query"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/queryparser"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/config"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/metrics"
)

// SortRelevance is the sort name for plain relevance ranking.
const SortRelevance = "relevance"

// Request is one search. Sort is "relevance" (or empty), a slot name for
// ascending value order, or "-name" for descending; "name,relevance"
// breaks value ties by relevance. Collapse names a slot to keep at most
// one hit per distinct value of.
type Request struct {
	Query    string `json:"q"`
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
	Sort     string `json:"sort,omitempty"`
	Collapse string `json:"collapse,omitempty"`
}

// Bounds are the lower, estimated and upper number of matching documents.
type Bounds struct {
	Lower     uint32 `json:"lower"`
	Estimated uint32 `json:"estimated"`
	Upper     uint32 `json:"upper"`
}

// Hit is one ranked document.
type Hit struct {
	DocID         uint32          `json:"docid"`
	Rank          uint32          `json:"rank"`
	Weight        float64         `json:"weight"`
	Percent       int             `json:"percent"`
	CollapseCount uint32          `json:"collapse_count,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// Response is the JSON shape of a search result.
type Response struct {
	Query       string  `json:"query"`
	Parsed      string  `json:"parsed"`
	Corrected   string  `json:"corrected,omitempty"`
	Offset      int     `json:"offset"`
	Limit       int     `json:"limit"`
	Matches     Bounds  `json:"matches"`
	MaxPossible float64 `json:"max_possible"`
	MaxAttained float64 `json:"max_attained"`
	Revision    uint64  `json:"revision"`
	Results     []Hit   `json:"results"`
}

// Stats describes the open database.
type Stats struct {
	DocCount  uint32  `json:"doc_count"`
	AvgLength float64 `json:"avg_length"`
	Revision  uint64  `json:"revision"`
	UUID      string  `json:"uuid"`
	Shards    int     `json:"shards"`
}

// Service runs searches. It is safe for concurrent use; each search gets
// its own parser and Enquire.
type Service struct {
	db        *database.Database
	cfg       config.SearchConfig
	stemmer   *tokenizer.Stemmer
	strategy  tokenizer.StemStrategy
	stopper   tokenizer.Stopper
	defaultOp query.Op
	slots     map[string]index.Slot
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// New builds a Service over db. slots maps sortable field names to value
// slots, as the indexer filled them.
func New(db *database.Database, cfg config.SearchConfig, slots map[string]uint32) (*Service, error) {
	stemmer, err := tokenizer.NewStemmer(cfg.Language)
	if err != nil {
		return nil, err
	}
	strategy, err := tokenizer.ParseStemStrategy(cfg.StemStrategy)
	if err != nil {
		return nil, err
	}
	s := &Service{
		db:        db,
		cfg:       cfg,
		stemmer:   stemmer,
		strategy:  strategy,
		stopper:   tokenizer.NeverStopper{},
		defaultOp: query.OpOr,
		slots:     make(map[string]index.Slot, len(slots)),
		logger:    logger.WithComponent("searcher"),
	}
	if cfg.Stopwords && cfg.Language == "english" {
		s.stopper = tokenizer.EnglishStopper()
	}
	if strings.EqualFold(cfg.DefaultOp, "AND") {
		s.defaultOp = query.OpAnd
	}
	for name, slot := range slots {
		s.slots[name] = index.Slot(slot)
	}
	return s, nil
}

func (s *Service) SetMetrics(m *metrics.Metrics) { s.metrics = m }

func (s *Service) newParser() *queryparser.QueryParser {
	qp := queryparser.New()
	qp.SetStemmer(s.stemmer)
	qp.SetStemmingStrategy(s.strategy)
	qp.SetStopper(s.stopper)
	qp.SetDatabase(s.db)
	qp.SetDefaultOp(s.defaultOp)
	qp.AddPrefix("title", "S")
	qp.AddBooleanPrefix("id", "Q", false)
	return qp
}

func (s *Service) parseFlags() queryparser.Flags {
	flags := queryparser.FlagDefault | queryparser.FlagWildcard | queryparser.FlagSynonym
	if s.cfg.SpellingCorrect {
		flags |= queryparser.FlagSpellingCorrection
	}
	return flags
}

// Search parses and runs req. Query syntax errors come back as
// ErrQueryParser, unknown sort or collapse names as ErrInvalidArgument and
// a match that outlives the configured timeout as ErrNetworkTimeout.
func (s *Service) Search(ctx context.Context, req Request) (*Response, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	qp := s.newParser()
	q, err := qp.Parse(req.Query, s.parseFlags(), "")
	if err != nil {
		s.outcome("parse_error")
		return nil, err
	}

	enq := matcher.New(s.db)
	enq.SetQuery(q, 0)
	sortLabel, err := s.applySort(enq, req.Sort)
	if err != nil {
		return nil, err
	}
	if req.Collapse != "" {
		slot, ok := s.slots[req.Collapse]
		if !ok {
			return nil, qerrors.Newf(qerrors.ErrInvalidArgument, "unknown collapse field %q", req.Collapse)
		}
		enq.SetCollapseKey(slot, 1)
	}

	start := time.Now()
	mset, err := enq.GetMSetContext(ctx, uint32(req.Offset), uint32(req.Limit), uint32(max(s.cfg.CheckAtLeast, 0)))
	if err != nil {
		s.outcome("error")
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, qerrors.Wrap(qerrors.ErrNetworkTimeout, err, "search exceeded its time limit")
		}
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.MatchLatency.WithLabelValues(sortLabel).Observe(time.Since(start).Seconds())
		s.metrics.MSetSize.Observe(float64(mset.Size()))
	}

	resp := &Response{
		Query:       req.Query,
		Parsed:      q.String(),
		Corrected:   qp.CorrectedQueryString(),
		Offset:      req.Offset,
		Limit:       req.Limit,
		MaxPossible: mset.MaxPossible(),
		MaxAttained: mset.MaxAttained(),
		Revision:    s.db.Revision(),
		Matches: Bounds{
			Lower:     mset.MatchesLowerBound(),
			Estimated: mset.MatchesEstimated(),
			Upper:     mset.MatchesUpperBound(),
		},
		Results: make([]Hit, 0, mset.Size()),
	}
	for it := mset.Iterator(); it.Next(); {
		doc, err := it.Document()
		if err != nil {
			s.outcome("error")
			return nil, fmt.Errorf("loading document %d: %w", it.DocID(), err)
		}
		resp.Results = append(resp.Results, Hit{
			DocID:         uint32(it.DocID()),
			Rank:          it.Rank(),
			Weight:        it.Weight(),
			Percent:       it.Percent(),
			CollapseCount: it.CollapseCount(),
			Data:          rawData(doc.Data()),
		})
	}
	if len(resp.Results) == 0 {
		s.outcome("zero_result")
	}

	logger.FromContext(ctx).Debug("search executed",
		"component", "searcher",
		"query", req.Query,
		"parsed", resp.Parsed,
		"estimated", resp.Matches.Estimated,
		"returned", len(resp.Results),
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return resp, nil
}

// applySort configures enq from a sort name and returns the metrics label
// for it.
func (s *Service) applySort(enq *matcher.Enquire, spec string) (string, error) {
	name, thenRelevance := strings.CutSuffix(spec, ","+SortRelevance)
	if name == "" || name == SortRelevance {
		return SortRelevance, nil
	}
	reverse := false
	if rest, ok := strings.CutPrefix(name, "-"); ok {
		name, reverse = rest, true
	}
	slot, ok := s.slots[name]
	if !ok {
		return "", qerrors.Newf(qerrors.ErrInvalidArgument, "unknown sort field %q", name)
	}
	if thenRelevance {
		enq.SetSortByValueThenRelevance(slot, reverse)
		return "value_then_relevance", nil
	}
	enq.SetSortByValue(slot, reverse)
	return "value", nil
}

func (s *Service) outcome(name string) {
	if s.metrics != nil {
		s.metrics.SearchQueriesTotal.WithLabelValues(name).Inc()
	}
}

// Reopen moves the database to its latest committed revision.
func (s *Service) Reopen() (bool, error) {
	changed, err := s.db.Reopen()
	if err != nil {
		return false, err
	}
	if s.metrics != nil {
		s.metrics.DatabaseDocCount.Set(float64(s.db.DocCount()))
		s.metrics.DatabaseRevision.Set(float64(s.db.Revision()))
	}
	if changed {
		s.logger.Info("serving new revision", "revision", s.db.Revision(), "docs", s.db.DocCount())
	}
	return changed, nil
}

// Revision is the revision searches currently see.
func (s *Service) Revision() uint64 { return s.db.Revision() }

func (s *Service) Stats() Stats {
	return Stats{
		DocCount:  s.db.DocCount(),
		AvgLength: s.db.AvgLength(),
		Revision:  s.db.Revision(),
		UUID:      s.db.UUID(),
		Shards:    s.db.Shards(),
	}
}

// DocumentView is a stored document as the API shows it.
type DocumentView struct {
	DocID  uint32            `json:"docid"`
	Data   json.RawMessage   `json:"data"`
	Terms  []TermView        `json:"terms"`
	Values map[string]string `json:"values,omitempty"`
}

// TermView is one entry of a document's term list.
type TermView struct {
	Term     string `json:"term"`
	WDF      uint32 `json:"wdf"`
	TermFreq uint32 `json:"termfreq"`
}

// Document returns document did with its term list. Values of named slots
// are reported hex-encoded, since sortable values are binary.
func (s *Service) Document(did uint32) (*DocumentView, error) {
	doc, err := s.db.Document(index.DocID(did))
	if err != nil {
		return nil, err
	}
	terms, err := s.db.TermList(index.DocID(did))
	if err != nil {
		return nil, err
	}
	view := &DocumentView{
		DocID: did,
		Data:  rawData(doc.Data()),
		Terms: make([]TermView, 0, terms.Len()),
	}
	for terms.Next() {
		view.Terms = append(view.Terms, TermView{Term: terms.Term(), WDF: terms.WDF(), TermFreq: terms.TermFreq()})
	}
	for name, slot := range s.slots {
		if v := doc.Value(slot); v != "" {
			if view.Values == nil {
				view.Values = make(map[string]string)
			}
			view.Values[name] = fmt.Sprintf("%x", v)
		}
	}
	return view, nil
}

// rawData passes JSON document data through untouched and quotes anything
// else.
func rawData(data string) json.RawMessage {
	if data == "" {
		return json.RawMessage("null")
	}
	if json.Valid([]byte(data)) {
		return json.RawMessage(data)
	}
	quoted, _ := json.Marshal(data)
	return quoted
}
