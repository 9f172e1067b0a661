package matcher

import (
	"sort"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/database"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/query"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

// plan holds what every shard's tree needs to agree on: collection-wide
// statistics and wildcard expansions.
type plan struct {
	weighting   Weighting
	docCount    uint32
	avgLength   float64
	queryLength uint32
	stats       map[string]index.TermStat
	expansions  map[string][]string
	termWeights map[string]float64
}

func wildcardKey(q query.Query) string {
	return strconv.FormatUint(uint64(q.MaxExpansion()), 10) + ":" + q.TermName()
}

// newPlan gathers federation-wide statistics for every term q can reach.
// Documents shadowed by an earlier shard still count here; the statistics
// only shape weights.
func newPlan(shards []index.Shard, q query.Query, w Weighting, qlen uint32) (*plan, error) {
	p := &plan{
		weighting:   w,
		queryLength: qlen,
		stats:       make(map[string]index.TermStat),
		expansions:  make(map[string][]string),
		termWeights: make(map[string]float64),
	}
	var totalLen uint64
	for _, s := range shards {
		p.docCount += s.DocCount()
		totalLen += s.TotalLength()
	}
	if p.docCount > 0 {
		p.avgLength = float64(totalLen) / float64(p.docCount)
	}
	if err := p.collect(shards, q); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *plan) collect(shards []index.Shard, q query.Query) error {
	switch q.Op() {
	case query.OpLeafTerm:
		return p.addTerm(shards, q.TermName())
	case query.OpWildcard:
		key := wildcardKey(q)
		if _, ok := p.expansions[key]; ok {
			return nil
		}
		merged, err := database.MergedTerms(shards, q.TermName())
		if err != nil {
			return err
		}
		if limit := q.MaxExpansion(); limit > 0 && uint32(len(merged)) > limit {
			merged = merged[:limit]
		}
		terms := make([]string, len(merged))
		for i, st := range merged {
			terms[i] = st.Term
			p.stats[st.Term] = st
		}
		p.expansions[key] = terms
		return nil
	}
	for _, sub := range q.Subqueries() {
		if err := p.collect(shards, sub); err != nil {
			return err
		}
	}
	return nil
}

func (p *plan) addTerm(shards []index.Shard, term string) error {
	if _, ok := p.stats[term]; ok {
		return nil
	}
	st := index.TermStat{Term: term}
	for _, s := range shards {
		tf, err := s.TermFreq(term)
		if err != nil {
			return err
		}
		cf, err := s.CollectionFreq(term)
		if err != nil {
			return err
		}
		st.TermFreq += tf
		st.CollFreq += cf
	}
	p.stats[term] = st
	return nil
}

func (p *plan) scorer(tf uint32, cf uint64, wqf uint32) TermScorer {
	return p.weighting.Scorer(Stats{
		DocCount:    p.docCount,
		AvgLength:   p.avgLength,
		TermFreq:    min(tf, p.docCount),
		CollFreq:    cf,
		WQF:         wqf,
		QueryLength: p.queryLength,
	})
}

func (p *plan) termScorer(term string, wqf uint32) TermScorer {
	st := p.stats[term]
	s := p.scorer(st.TermFreq, st.CollFreq, wqf)
	p.termWeights[term] = max(p.termWeights[term], s.MaxScore())
	return s
}

// expand rewrites a wildcard into its combiner over the matching terms.
func (p *plan) expand(q query.Query) query.Query {
	return query.CombineTerms(q.Combiner(), p.expansions[wildcardKey(q)])
}

// builder turns a query into one shard's postlist tree.
type builder struct {
	plan *plan
	ctx  *shardContext
}

func (b *builder) build(q query.Query, boolean bool) (postList, error) {
	ctx := b.ctx
	switch q.Op() {
	case query.OpInvalid:
		return emptyPL{}, nil

	case query.OpLeafTerm:
		postings, err := ctx.shard.PostingList(q.TermName())
		if err != nil {
			return nil, err
		}
		var scorer TermScorer
		if !boolean {
			scorer = b.plan.termScorer(q.TermName(), q.WQF())
		}
		return newTermPL(ctx, postings, scorer), nil

	case query.OpLeafMatchAll:
		ids, err := ctx.shard.DocIDs()
		if err != nil {
			return nil, err
		}
		return newDocListPL(ids.ToArray()), nil

	case query.OpLeafPostingSource:
		src := q.Source().Clone()
		if err := src.Init(ctx.shard); err != nil {
			return nil, err
		}
		return newSourcePL(src, boolean), nil

	case query.OpValueRange, query.OpValueGE, query.OpValueLE:
		return b.valueFilter(q)

	case query.OpScaleWeight:
		sub := q.Subqueries()[0]
		if boolean || q.Factor() == 0 {
			return b.build(sub, true)
		}
		pl, err := b.build(sub, false)
		if err != nil {
			return nil, err
		}
		return &scalePL{postList: pl, factor: q.Factor()}, nil

	case query.OpWildcard:
		return b.build(b.plan.expand(q), boolean)

	case query.OpAnd:
		kids, err := b.buildAll(q.Subqueries(), boolean)
		if err != nil {
			return nil, err
		}
		return b.and(kids), nil

	case query.OpFilter:
		subs := q.Subqueries()
		first, err := b.build(subs[0], boolean)
		if err != nil {
			return nil, err
		}
		rest, err := b.buildAll(subs[1:], true)
		if err != nil {
			return nil, err
		}
		return b.and(append([]postList{first}, rest...)), nil

	case query.OpOr, query.OpXor, query.OpMax:
		kids, err := b.buildAll(q.Subqueries(), boolean)
		if err != nil {
			return nil, err
		}
		mode := modeOr
		switch q.Op() {
		case query.OpXor:
			mode = modeXor
		case query.OpMax:
			mode = modeMax
		}
		return b.or(mode, kids), nil

	case query.OpAndNot:
		subs := q.Subqueries()
		left, err := b.build(subs[0], boolean)
		if err != nil {
			return nil, err
		}
		rest, err := b.buildAll(subs[1:], true)
		if err != nil {
			return nil, err
		}
		return newAndNotPL(left, b.or(modeOr, rest), ctx.docCount), nil

	case query.OpAndMaybe:
		subs := q.Subqueries()
		left, err := b.build(subs[0], boolean)
		if err != nil {
			return nil, err
		}
		if boolean {
			return left, nil
		}
		rest, err := b.buildAll(subs[1:], false)
		if err != nil {
			return nil, err
		}
		return newAndMaybePL(left, b.or(modeOr, rest)), nil

	case query.OpNear, query.OpPhrase:
		return b.near(q, boolean)

	case query.OpEliteSet:
		kids, err := b.buildAll(q.Subqueries(), boolean)
		if err != nil {
			return nil, err
		}
		if !boolean && uint32(len(kids)) > q.Window() {
			sort.SliceStable(kids, func(i, j int) bool {
				return kids[i].maxWeight() > kids[j].maxWeight()
			})
			kids = kids[:q.Window()]
		}
		return b.or(modeOr, kids), nil

	case query.OpSynonym:
		kids, err := b.buildAll(q.Subqueries(), true)
		if err != nil {
			return nil, err
		}
		inner := b.or(modeOr, kids)
		if boolean {
			return inner, nil
		}
		var tf uint32
		var cf uint64
		for _, t := range q.Terms() {
			st := b.plan.stats[t]
			tf += st.TermFreq
			cf += st.CollFreq
		}
		scorer := b.plan.scorer(tf, cf, 1)
		return &synonymPL{ctx: ctx, inner: inner, scorer: scorer, maxW: scorer.MaxScore()}, nil
	}
	return nil, qerrors.Newf(qerrors.ErrUnimplemented, "operator %s cannot be matched", q.Op())
}

func (b *builder) buildAll(qs []query.Query, boolean bool) ([]postList, error) {
	out := make([]postList, 0, len(qs))
	for _, sub := range qs {
		pl, err := b.build(sub, boolean)
		if err != nil {
			return nil, err
		}
		out = append(out, pl)
	}
	return out, nil
}

func (b *builder) and(kids []postList) postList {
	if len(kids) == 1 {
		return kids[0]
	}
	return newAndPL(kids, b.ctx.docCount)
}

func (b *builder) or(mode orMode, kids []postList) postList {
	switch len(kids) {
	case 0:
		return emptyPL{}
	case 1:
		return kids[0]
	}
	return newOrPL(mode, kids, b.ctx.docCount)
}

func (b *builder) near(q query.Query, boolean bool) (postList, error) {
	subs := q.Subqueries()
	terms := make([]*termPL, 0, len(subs))
	kids := make([]postList, 0, len(subs))
	for _, sub := range subs {
		if sub.Op() != query.OpLeafTerm {
			return nil, qerrors.Newf(qerrors.ErrUnimplemented,
				"%s only supports term subqueries, got %s", q.Op(), sub.Op())
		}
		pl, err := b.build(sub, boolean)
		if err != nil {
			return nil, err
		}
		t := pl.(*termPL)
		terms = append(terms, t)
		kids = append(kids, t)
	}
	return &nearPL{
		andPL:   newAndPL(kids, b.ctx.docCount),
		terms:   terms,
		window:  q.Window(),
		ordered: q.Op() == query.OpPhrase,
	}, nil
}

func (b *builder) valueFilter(q query.Query) (postList, error) {
	stream, err := b.ctx.shard.ValueStream(q.Slot())
	if err != nil {
		return nil, err
	}
	lo, hi := q.Bounds()
	docs := make([]uint32, 0, len(stream))
	for _, e := range stream {
		switch q.Op() {
		case query.OpValueGE:
			if e.Value < lo {
				continue
			}
		case query.OpValueLE:
			if e.Value > hi {
				continue
			}
		default:
			if e.Value < lo || e.Value > hi {
				continue
			}
		}
		docs = append(docs, uint32(e.DocID))
	}
	return newDocListPL(docs), nil
}
