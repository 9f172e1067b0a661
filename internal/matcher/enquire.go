// Package matcher runs queries against a database and returns ranked
// result sets.
//
// A match builds one postlist tree per shard, all weighted with
// federation-wide statistics, and feeds every shard's documents into a
// single top-K heap. Once the heap is full the weight of its worst entry
// is pushed down into the trees so that branches which can no longer
// reach it are skipped.
package matcher

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/database"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/query"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/logger"
)

// SortOrder selects how results are ranked.
type SortOrder int

const (
	SortByRelevance SortOrder = iota
	SortByValue
	SortByValueThenRelevance
	SortByRelevanceThenValue
)

func (s SortOrder) String() string {
	switch s {
	case SortByValue:
		return "value"
	case SortByValueThenRelevance:
		return "value_then_relevance"
	case SortByRelevanceThenValue:
		return "relevance_then_value"
	}
	return "relevance"
}

// DocIDOrder breaks ties between equally ranked documents.
type DocIDOrder int

const (
	Ascending DocIDOrder = iota
	Descending
)

// ctxCheckInterval is how many matching documents pass between checks for
// cancellation.
const ctxCheckInterval = 1024

// Enquire holds a query and the options for running it. It is not safe for
// concurrent use; the database it reads may be shared.
type Enquire struct {
	db        *database.Database
	q         query.Query
	qlen      uint32
	hasQuery  bool
	weighting Weighting

	sortOrder   SortOrder
	sortSlot    index.Slot
	sortReverse bool
	docidOrder  DocIDOrder

	collapseSlot index.Slot
	collapseMax  uint32

	percentCutoff int
	weightCutoff  float64

	logger *slog.Logger
}

func New(db *database.Database) *Enquire {
	if db == nil {
		panic("matcher: nil database")
	}
	return &Enquire{
		db:        db,
		weighting: BM25Weight{},
		logger:    logger.WithComponent("matcher"),
	}
}

// SetQuery sets the query to run. A qlen of zero means the query's own
// length.
func (e *Enquire) SetQuery(q query.Query, qlen uint32) {
	if qlen == 0 {
		qlen = q.Length()
	}
	e.q, e.qlen, e.hasQuery = q, qlen, true
}

func (e *Enquire) Query() query.Query { return e.q }

func (e *Enquire) SetWeighting(w Weighting) {
	if w == nil {
		panic("matcher: nil weighting")
	}
	e.weighting = w
}

func (e *Enquire) SetSortByRelevance() { e.sortOrder = SortByRelevance }

// SetSortByValue ranks by the value in slot, ascending unless reverse.
func (e *Enquire) SetSortByValue(slot index.Slot, reverse bool) {
	e.sortOrder, e.sortSlot, e.sortReverse = SortByValue, slot, reverse
}

func (e *Enquire) SetSortByValueThenRelevance(slot index.Slot, reverse bool) {
	e.sortOrder, e.sortSlot, e.sortReverse = SortByValueThenRelevance, slot, reverse
}

func (e *Enquire) SetSortByRelevanceThenValue(slot index.Slot, reverse bool) {
	e.sortOrder, e.sortSlot, e.sortReverse = SortByRelevanceThenValue, slot, reverse
}

// SetCollapseKey keeps at most maxPerKey documents for each distinct value in
// slot. Documents with no value there are never collapsed. A max of zero
// turns collapsing off.
func (e *Enquire) SetCollapseKey(slot index.Slot, maxPerKey uint32) {
	e.collapseSlot, e.collapseMax = slot, maxPerKey
}

func (e *Enquire) SetDocIDOrder(order DocIDOrder) { e.docidOrder = order }

// SetCutoff drops results scoring below percent of the best match or below
// weight.
func (e *Enquire) SetCutoff(percent int, weight float64) {
	if percent < 0 || percent > 100 {
		panic(fmt.Sprintf("matcher: percent cutoff %d out of range", percent))
	}
	if weight < 0 || math.IsNaN(weight) {
		panic("matcher: negative weight cutoff")
	}
	e.percentCutoff, e.weightCutoff = percent, weight
}

func (e *Enquire) Description() string {
	return fmt.Sprintf("Enquire(%s, weighting=%s, sort=%s)",
		e.q.Description(), e.weighting.Description(), e.sortOrder)
}

// GetMSet runs the query and returns results first to first+maxItems-1 of
// the ranking. At least checkAtLeast documents are examined before any
// pruning, which makes the match counts exact when checkAtLeast exceeds
// them. It panics if no query has been set.
func (e *Enquire) GetMSet(first, maxItems, checkAtLeast uint32) (*MSet, error) {
	return e.GetMSetContext(context.Background(), first, maxItems, checkAtLeast)
}

// GetMSetContext is GetMSet with cancellation, checked periodically while
// matching.
func (e *Enquire) GetMSetContext(ctx context.Context, first, maxItems, checkAtLeast uint32) (*MSet, error) {
	if !e.hasQuery {
		panic(qerrors.New(qerrors.ErrInvalidOperation, "GetMSet called before SetQuery"))
	}
	m := &MSet{
		db:          e.db,
		firstItem:   first,
		termFreqs:   make(map[string]uint32),
		termWeights: make(map[string]float64),
	}
	if e.q.IsEmpty() {
		return m, nil
	}
	start := time.Now()
	r := &run{e: e, mset: m, first: first, maxItems: maxItems, checkAtLeast: checkAtLeast}
	err := e.db.View(func(shards []index.Shard) error {
		return r.match(ctx, shards)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("match completed",
		"query", e.q.Description(),
		"results", len(m.items),
		"matches_estimated", m.matches.estimated,
		"pruned", r.pruned,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return m, nil
}

// MatchingTerms lists the query terms indexing did, in query order.
func (e *Enquire) MatchingTerms(did index.DocID) ([]string, error) {
	tl, err := e.db.TermList(did)
	if err != nil {
		return nil, err
	}
	have := make(map[string]struct{}, tl.Len())
	for tl.Next() {
		have[tl.Term()] = struct{}{}
	}
	out := make([]string, 0)
	for _, t := range e.q.Terms() {
		if _, ok := have[t]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (e *Enquire) usesSortKey() bool { return e.sortOrder != SortByRelevance }

func (e *Enquire) relevanceFirst() bool {
	return e.sortOrder == SortByRelevance || e.sortOrder == SortByRelevanceThenValue
}

func (e *Enquire) compareKeys(a, b *candidate) int {
	c := strings.Compare(a.sortKey, b.sortKey)
	if e.sortReverse {
		return -c
	}
	return c
}

// better reports whether a ranks before b.
func (e *Enquire) better(a, b *candidate) bool {
	switch e.sortOrder {
	case SortByValue:
		if c := e.compareKeys(a, b); c != 0 {
			return c < 0
		}
	case SortByValueThenRelevance:
		if c := e.compareKeys(a, b); c != 0 {
			return c < 0
		}
		if a.weight != b.weight {
			return a.weight > b.weight
		}
	case SortByRelevanceThenValue:
		if a.weight != b.weight {
			return a.weight > b.weight
		}
		if c := e.compareKeys(a, b); c != 0 {
			return c < 0
		}
	default:
		if a.weight != b.weight {
			return a.weight > b.weight
		}
	}
	if e.docidOrder == Descending {
		return a.did > b.did
	}
	return a.did < b.did
}

// run is the state of one GetMSet call.
type run struct {
	e            *Enquire
	mset         *MSet
	first        uint32
	maxItems     uint32
	checkAtLeast uint32

	counted  uint32
	pruned   bool
	estimate uint64
	upper    uint64
	bestDid  index.DocID
	weights  []float64
}

func (r *run) match(ctx context.Context, shards []index.Shard) error {
	e := r.e
	p, err := newPlan(shards, e.q, e.weighting, e.qlen)
	if err != nil {
		return err
	}
	limit := int(min(uint64(r.first)+uint64(r.maxItems), math.MaxInt32))
	coll := newCollector(limit, e.better, int(e.collapseMax))
	if e.percentCutoff > 0 {
		r.weights = make([]float64, 0)
	}

	shadow := roaring.New()
	for si, shard := range shards {
		if err := r.matchShard(ctx, p, coll, shard, si > 0, shadow); err != nil {
			return err
		}
		ids, err := shard.DocIDs()
		if err != nil {
			return err
		}
		shadow.Or(ids)
	}
	return r.finish(shards, p, coll)
}

func valueMap(shard index.Shard, slot index.Slot) (map[index.DocID]string, error) {
	stream, err := shard.ValueStream(slot)
	if err != nil {
		return nil, err
	}
	out := make(map[index.DocID]string, len(stream))
	for _, v := range stream {
		out[v.DocID] = v.Value
	}
	return out, nil
}

func (r *run) matchShard(ctx context.Context, p *plan, coll *collector, shard index.Shard, shadowed bool, shadow *roaring.Bitmap) error {
	e := r.e
	sctx := &shardContext{shard: shard, docCount: shard.DocCount()}
	root, err := (&builder{plan: p, ctx: sctx}).build(e.q, false)
	if err != nil {
		return err
	}
	rootMax := root.maxWeight()
	r.mset.maxPossible = max(r.mset.maxPossible, rootMax)
	_, est, hi := root.estimate()
	r.estimate += uint64(est)
	r.upper += uint64(hi)

	var sortKeys, collapseKeys map[index.DocID]string
	if e.usesSortKey() {
		if sortKeys, err = valueMap(shard, e.sortSlot); err != nil {
			return err
		}
	}
	if e.collapseMax > 0 {
		if collapseKeys, err = valueMap(shard, e.collapseSlot); err != nil {
			return err
		}
	}
	// With no weights in play and ascending docids, a document past the
	// worst held docid can no longer enter a full heap, and neither can
	// anything after it in this shard.
	docOrderOnly := e.sortOrder == SortByRelevance && e.docidOrder == Ascending && rootMax == 0

	for {
		minWeight := e.weightCutoff
		canPrune := e.relevanceFirst() && coll.full() && r.counted >= r.checkAtLeast
		if canPrune {
			if w := coll.worstWeight(); w > minWeight {
				minWeight = w
				r.pruned = true
			}
			if minWeight > rootMax {
				break
			}
		}
		if !root.next(minWeight) {
			break
		}
		did := root.docID()
		if shadowed && shadow.Contains(uint32(did)) {
			continue
		}
		if canPrune && docOrderOnly && did > coll.worstDocID() {
			r.pruned = true
			break
		}
		w := root.weight()
		if sctx.err != nil {
			return sctx.err
		}
		if w < e.weightCutoff {
			continue
		}
		r.counted++
		if r.counted%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if r.bestDid == 0 || w > r.mset.maxAttained {
			r.mset.maxAttained, r.bestDid = w, did
		}
		if r.weights != nil {
			r.weights = append(r.weights, w)
		}
		coll.add(&candidate{
			did:         did,
			weight:      w,
			sortKey:     sortKeys[did],
			collapseKey: collapseKeys[did],
		})
	}
	return sctx.err
}

func (r *run) finish(shards []index.Shard, p *plan, coll *collector) error {
	e, m := r.e, r.mset
	for term, st := range p.stats {
		m.termFreqs[term] = st.TermFreq
	}
	for term, w := range p.termWeights {
		m.termWeights[term] = w
	}

	if m.maxAttained > 0 {
		frac := 1.0
		if terms := e.q.Terms(); len(terms) > 0 {
			n, err := countMatching(shards, r.bestDid, terms)
			if err != nil {
				return err
			}
			frac = float64(n) / float64(len(terms))
		}
		m.percentScale = frac / m.maxAttained
	}

	results := coll.results()
	counted := r.counted
	if e.percentCutoff > 0 {
		keep := results[:0]
		for _, c := range results {
			if m.ConvertToPercent(c.weight) >= e.percentCutoff {
				keep = append(keep, c)
			}
		}
		results = keep
		counted = 0
		for _, w := range r.weights {
			if m.ConvertToPercent(w) >= e.percentCutoff {
				counted++
			}
		}
	}

	if int(r.first) < len(results) {
		for _, c := range results[r.first:] {
			m.items = append(m.items, Item{
				DocID:         c.did,
				Weight:        c.weight,
				CollapseCount: coll.collapseCount(c),
				CollapseKey:   c.collapseKey,
				SortKey:       c.sortKey,
			})
		}
	}

	collapsed := counted - min(coll.collapsed, counted)
	if !r.pruned {
		m.uncollapsed = bounds{counted, counted, counted}
		m.matches = bounds{collapsed, collapsed, collapsed}
		return nil
	}
	upper := uint32(min(r.upper, math.MaxUint32))
	upper = max(upper, counted)
	est := min(max(uint32(min(r.estimate, math.MaxUint32)), counted), upper)
	m.uncollapsed = bounds{counted, est, upper}
	cest := est
	if counted > 0 {
		cest = uint32(float64(est) * float64(collapsed) / float64(counted))
	}
	m.matches = bounds{collapsed, min(max(cest, collapsed), upper), upper}
	return nil
}

// countMatching counts how many of terms index did, looking in the first
// shard that holds it.
func countMatching(shards []index.Shard, did index.DocID, terms []string) (int, error) {
	for _, s := range shards {
		doc, err := s.Document(did)
		if err != nil {
			if qerrors.Is(err, qerrors.ErrDocumentNotFound) {
				continue
			}
			return 0, err
		}
		have := make(map[string]struct{}, len(doc.Terms))
		for _, t := range doc.Terms {
			have[t.Term] = struct{}{}
		}
		n := 0
		for _, t := range terms {
			if _, ok := have[t]; ok {
				n++
			}
		}
		return n, nil
	}
	return 0, nil
}
