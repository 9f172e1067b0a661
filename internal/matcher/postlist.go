package matcher

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/postingsource"
)

// postList is one node of the per-shard match tree. Lists start before
// their first document; next and skipTo return false once exhausted and
// must not be called again after that.
//
// minWeight is the lowest weight the caller can still use. A list may skip
// any document whose weight would fall below it, and may give up entirely
// once its maximum drops below it.
type postList interface {
	next(minWeight float64) bool
	// skipTo moves to the first document >= did. A list already positioned
	// at or past did stays where it is.
	skipTo(did index.DocID, minWeight float64) bool
	docID() index.DocID
	weight() float64
	maxWeight() float64
	wdf() uint32
	estimate() (lo, est, hi uint32)
}

// shardContext is the state shared by every list of one shard's tree.
// Leaves record the first storage error here; the match loop checks it
// after each document.
type shardContext struct {
	shard    index.Shard
	docCount uint32

	err     error
	lastDid index.DocID
	lastLen uint32
}

func (c *shardContext) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *shardContext) docLength(did index.DocID) uint32 {
	if did == c.lastDid && did != 0 {
		return c.lastLen
	}
	l, err := c.shard.DocLength(did)
	if err != nil {
		c.fail(err)
		return 0
	}
	c.lastDid, c.lastLen = did, l
	return l
}

type emptyPL struct{}

func (emptyPL) next(float64) bool                { return false }
func (emptyPL) skipTo(index.DocID, float64) bool { return false }
func (emptyPL) docID() index.DocID               { panic("matcher: empty list has no position") }
func (emptyPL) weight() float64                  { return 0 }
func (emptyPL) maxWeight() float64               { return 0 }
func (emptyPL) wdf() uint32                      { return 0 }
func (emptyPL) estimate() (lo, est, hi uint32)   { return 0, 0, 0 }

// termPL walks one term's postings. A nil scorer means the term is in a
// boolean context and contributes no weight.
type termPL struct {
	ctx      *shardContext
	postings index.PostingList
	pos      int
	scorer   TermScorer
	maxW     float64
}

func newTermPL(ctx *shardContext, postings index.PostingList, scorer TermScorer) *termPL {
	t := &termPL{ctx: ctx, postings: postings, pos: -1, scorer: scorer}
	if scorer != nil {
		t.maxW = scorer.MaxScore()
	}
	return t
}

func (t *termPL) exhaust() bool {
	t.pos = len(t.postings)
	return false
}

func (t *termPL) next(minWeight float64) bool {
	if minWeight > t.maxW {
		return t.exhaust()
	}
	if t.pos < len(t.postings) {
		t.pos++
	}
	return t.pos < len(t.postings)
}

func (t *termPL) skipTo(did index.DocID, minWeight float64) bool {
	if minWeight > t.maxW {
		return t.exhaust()
	}
	start := max(t.pos, 0)
	if t.pos >= 0 && start < len(t.postings) && t.postings[start].DocID >= did {
		return true
	}
	t.pos = start + sort.Search(len(t.postings)-start, func(i int) bool {
		return t.postings[start+i].DocID >= did
	})
	return t.pos < len(t.postings)
}

func (t *termPL) docID() index.DocID  { return t.postings[t.pos].DocID }
func (t *termPL) wdf() uint32         { return t.postings[t.pos].WDF }
func (t *termPL) positions() []uint32 { return t.postings[t.pos].Positions }
func (t *termPL) maxWeight() float64  { return t.maxW }

func (t *termPL) weight() float64 {
	if t.scorer == nil {
		return 0
	}
	p := t.postings[t.pos]
	return t.scorer.Score(p.WDF, t.ctx.docLength(p.DocID))
}

func (t *termPL) estimate() (lo, est, hi uint32) {
	n := uint32(len(t.postings))
	return n, n, n
}

// docListPL is an unweighted list of docids: all documents, or the
// documents whose value passes a range test.
type docListPL struct {
	docs []uint32
	pos  int
}

func newDocListPL(docs []uint32) *docListPL { return &docListPL{docs: docs, pos: -1} }

func (d *docListPL) next(minWeight float64) bool {
	if minWeight > 0 {
		d.pos = len(d.docs)
		return false
	}
	if d.pos < len(d.docs) {
		d.pos++
	}
	return d.pos < len(d.docs)
}

func (d *docListPL) skipTo(did index.DocID, minWeight float64) bool {
	if minWeight > 0 {
		d.pos = len(d.docs)
		return false
	}
	start := max(d.pos, 0)
	if d.pos >= 0 && start < len(d.docs) && index.DocID(d.docs[start]) >= did {
		return true
	}
	d.pos = start + sort.Search(len(d.docs)-start, func(i int) bool {
		return index.DocID(d.docs[start+i]) >= did
	})
	return d.pos < len(d.docs)
}

func (d *docListPL) docID() index.DocID { return index.DocID(d.docs[d.pos]) }
func (d *docListPL) weight() float64    { return 0 }
func (d *docListPL) maxWeight() float64 { return 0 }
func (d *docListPL) wdf() uint32        { return 0 }

func (d *docListPL) estimate() (lo, est, hi uint32) {
	n := uint32(len(d.docs))
	return n, n, n
}

// sourcePL adapts an application posting source.
type sourcePL struct {
	src     postingsource.Source
	boolean bool
	maxW    float64
}

func newSourcePL(src postingsource.Source, boolean bool) *sourcePL {
	s := &sourcePL{src: src, boolean: boolean}
	if !boolean {
		s.maxW = src.MaxWeight()
	}
	return s
}

func (s *sourcePL) srcMin(minWeight float64) float64 {
	if s.boolean {
		return 0
	}
	return minWeight
}

func (s *sourcePL) next(minWeight float64) bool {
	if minWeight > s.maxW {
		return false
	}
	return s.src.Next(s.srcMin(minWeight))
}

func (s *sourcePL) skipTo(did index.DocID, minWeight float64) bool {
	if minWeight > s.maxW {
		return false
	}
	return s.src.SkipTo(did, s.srcMin(minWeight))
}

func (s *sourcePL) docID() index.DocID { return s.src.DocID() }
func (s *sourcePL) maxWeight() float64 { return s.maxW }
func (s *sourcePL) wdf() uint32        { return 0 }

func (s *sourcePL) weight() float64 {
	if s.boolean {
		return 0
	}
	return s.src.Weight()
}

func (s *sourcePL) estimate() (lo, est, hi uint32) {
	return s.src.TermFreqMin(), s.src.TermFreqEst(), s.src.TermFreqMax()
}

// andPL matches documents present in every child, leapfrogging the
// children with skipTo.
type andPL struct {
	kids     []postList
	maxes    []float64
	total    float64
	docCount uint32
}

func newAndPL(kids []postList, docCount uint32) *andPL {
	a := &andPL{kids: kids, maxes: make([]float64, len(kids)), docCount: docCount}
	for i, k := range kids {
		a.maxes[i] = k.maxWeight()
		a.total += a.maxes[i]
	}
	return a
}

// childMin is what child i must contribute when every other child scores
// its maximum.
func (a *andPL) childMin(i int, minWeight float64) float64 {
	return minWeight - (a.total - a.maxes[i])
}

func (a *andPL) next(minWeight float64) bool {
	if minWeight > a.total {
		return false
	}
	if !a.kids[0].next(a.childMin(0, minWeight)) {
		return false
	}
	return a.align(minWeight)
}

func (a *andPL) skipTo(did index.DocID, minWeight float64) bool {
	if minWeight > a.total {
		return false
	}
	if !a.kids[0].skipTo(did, a.childMin(0, minWeight)) {
		return false
	}
	return a.align(minWeight)
}

func (a *andPL) align(minWeight float64) bool {
	cand := a.kids[0].docID()
	for {
		moved := false
		for i := 1; i < len(a.kids); i++ {
			if !a.kids[i].skipTo(cand, a.childMin(i, minWeight)) {
				return false
			}
			if d := a.kids[i].docID(); d > cand {
				if !a.kids[0].skipTo(d, a.childMin(0, minWeight)) {
					return false
				}
				cand = a.kids[0].docID()
				moved = true
				break
			}
		}
		if !moved {
			return true
		}
	}
}

func (a *andPL) docID() index.DocID { return a.kids[0].docID() }
func (a *andPL) maxWeight() float64 { return a.total }

func (a *andPL) weight() float64 {
	var w float64
	for _, k := range a.kids {
		w += k.weight()
	}
	return w
}

func (a *andPL) wdf() uint32 {
	var n uint32
	for _, k := range a.kids {
		n += k.wdf()
	}
	return n
}

func (a *andPL) estimate() (lo, est, hi uint32) {
	if a.docCount == 0 {
		return 0, 0, 0
	}
	n := float64(a.docCount)
	frac := 1.0
	hi = a.docCount
	for _, k := range a.kids {
		_, e, h := k.estimate()
		frac *= float64(e) / n
		hi = min(hi, h)
	}
	return 0, min(uint32(frac*n+0.5), hi), hi
}

type orMode int

const (
	modeOr orMode = iota
	modeXor
	modeMax
)

// orPL merges its children. In modeXor only documents matched by an odd
// number of children survive; in modeMax the weight is the best child's
// rather than the sum.
type orPL struct {
	mode     orMode
	kids     []postList
	live     []bool
	maxes    []float64
	at       []int
	did      index.DocID
	started  bool
	docCount uint32
}

func newOrPL(mode orMode, kids []postList, docCount uint32) *orPL {
	o := &orPL{
		mode:     mode,
		kids:     kids,
		live:     make([]bool, len(kids)),
		maxes:    make([]float64, len(kids)),
		at:       make([]int, 0, len(kids)),
		docCount: docCount,
	}
	for i, k := range kids {
		o.maxes[i] = k.maxWeight()
	}
	return o
}

func (o *orPL) liveTotal() float64 {
	var t float64
	for i, ok := range o.live {
		if ok {
			t += o.maxes[i]
		}
	}
	return t
}

// childMin lets an OR shed children that cannot lift any document over
// minWeight on their own, which turns it into an AND_MAYBE and then an AND
// as the threshold rises. XOR membership depends on every child, so it
// never sheds.
func (o *orPL) childMin(i int, minWeight float64) float64 {
	switch o.mode {
	case modeXor:
		return 0
	case modeMax:
		return minWeight
	}
	return minWeight - (o.liveTotal() - o.maxes[i])
}

func (o *orPL) start() {
	o.started = true
	for i := range o.live {
		o.live[i] = true
	}
}

func (o *orPL) next(minWeight float64) bool {
	if !o.started {
		o.start()
		for i, k := range o.kids {
			o.live[i] = k.next(o.childMin(i, minWeight))
		}
		return o.settle(minWeight)
	}
	o.advanceAt(minWeight)
	return o.settle(minWeight)
}

func (o *orPL) skipTo(did index.DocID, minWeight float64) bool {
	if !o.started {
		o.start()
		for i, k := range o.kids {
			o.live[i] = k.skipTo(did, o.childMin(i, minWeight))
		}
		return o.settle(minWeight)
	}
	if len(o.at) > 0 && o.did >= did {
		return true
	}
	for i, k := range o.kids {
		if o.live[i] && k.docID() < did {
			o.live[i] = k.skipTo(did, o.childMin(i, minWeight))
		}
	}
	return o.settle(minWeight)
}

func (o *orPL) advanceAt(minWeight float64) {
	for _, i := range o.at {
		o.live[i] = o.kids[i].next(o.childMin(i, minWeight))
	}
	o.at = o.at[:0]
}

// settle positions on the smallest docid among the live children,
// skipping documents that cannot qualify.
func (o *orPL) settle(minWeight float64) bool {
	for {
		o.at = o.at[:0]
		found := false
		for i, k := range o.kids {
			if !o.live[i] {
				continue
			}
			d := k.docID()
			if !found || d < o.did {
				o.did = d
				o.at = o.at[:0]
				found = true
			}
			if d == o.did {
				o.at = append(o.at, i)
			}
		}
		if !found {
			return false
		}
		if o.accept(minWeight) {
			return true
		}
		o.advanceAt(minWeight)
	}
}

func (o *orPL) accept(minWeight float64) bool {
	if o.mode == modeXor && len(o.at)%2 == 0 {
		return false
	}
	var bound float64
	for _, i := range o.at {
		if o.mode == modeMax {
			bound = max(bound, o.maxes[i])
		} else {
			bound += o.maxes[i]
		}
	}
	return bound >= minWeight
}

func (o *orPL) docID() index.DocID { return o.did }

func (o *orPL) weight() float64 {
	var w float64
	for _, i := range o.at {
		kw := o.kids[i].weight()
		if o.mode == modeMax {
			w = max(w, kw)
		} else {
			w += kw
		}
	}
	return w
}

func (o *orPL) maxWeight() float64 {
	var t float64
	for _, m := range o.maxes {
		if o.mode == modeMax {
			t = max(t, m)
		} else {
			t += m
		}
	}
	return t
}

func (o *orPL) wdf() uint32 {
	var n uint32
	for _, i := range o.at {
		n += o.kids[i].wdf()
	}
	return n
}

func (o *orPL) estimate() (lo, est, hi uint32) {
	if o.docCount == 0 {
		return 0, 0, 0
	}
	n := float64(o.docCount)
	miss := 1.0
	var sum uint64
	for _, k := range o.kids {
		l, e, h := k.estimate()
		if o.mode != modeXor {
			lo = max(lo, l)
		}
		miss *= 1 - float64(e)/n
		sum += uint64(h)
	}
	hi = uint32(min(sum, uint64(o.docCount)))
	est = uint32((1-miss)*n + 0.5)
	return lo, min(max(est, lo), hi), hi
}

// andNotPL yields documents of left that are absent from right. Right is
// always built in a boolean context.
type andNotPL struct {
	left, right postList
	rightLive   bool
	docCount    uint32
}

func newAndNotPL(left, right postList, docCount uint32) *andNotPL {
	return &andNotPL{left: left, right: right, rightLive: true, docCount: docCount}
}

func (a *andNotPL) next(minWeight float64) bool {
	if !a.left.next(minWeight) {
		return false
	}
	return a.settle(minWeight)
}

func (a *andNotPL) skipTo(did index.DocID, minWeight float64) bool {
	if !a.left.skipTo(did, minWeight) {
		return false
	}
	return a.settle(minWeight)
}

func (a *andNotPL) settle(minWeight float64) bool {
	for {
		d := a.left.docID()
		if a.rightLive {
			a.rightLive = a.right.skipTo(d, 0)
		}
		if !a.rightLive || a.right.docID() != d {
			return true
		}
		if !a.left.next(minWeight) {
			return false
		}
	}
}

func (a *andNotPL) docID() index.DocID { return a.left.docID() }
func (a *andNotPL) weight() float64    { return a.left.weight() }
func (a *andNotPL) maxWeight() float64 { return a.left.maxWeight() }
func (a *andNotPL) wdf() uint32        { return a.left.wdf() }

func (a *andNotPL) estimate() (lo, est, hi uint32) {
	llo, lest, lhi := a.left.estimate()
	_, rest, rhi := a.right.estimate()
	if llo > rhi {
		lo = llo - rhi
	}
	if a.docCount > 0 {
		est = uint32(float64(lest)*(1-float64(rest)/float64(a.docCount)) + 0.5)
	}
	return lo, min(max(est, lo), lhi), lhi
}

// andMaybePL yields the documents of left, adding right's weight where
// right matches too.
type andMaybePL struct {
	left, right postList
	rightLive   bool
	rightMax    float64
}

func newAndMaybePL(left, right postList) *andMaybePL {
	return &andMaybePL{left: left, right: right, rightLive: true, rightMax: right.maxWeight()}
}

func (a *andMaybePL) next(minWeight float64) bool {
	if !a.left.next(minWeight - a.rightMax) {
		return false
	}
	a.sync()
	return true
}

func (a *andMaybePL) skipTo(did index.DocID, minWeight float64) bool {
	if !a.left.skipTo(did, minWeight-a.rightMax) {
		return false
	}
	a.sync()
	return true
}

func (a *andMaybePL) sync() {
	if a.rightLive {
		a.rightLive = a.right.skipTo(a.left.docID(), 0)
	}
}

func (a *andMaybePL) rightHere() bool {
	return a.rightLive && a.right.docID() == a.left.docID()
}

func (a *andMaybePL) docID() index.DocID { return a.left.docID() }
func (a *andMaybePL) maxWeight() float64 { return a.left.maxWeight() + a.rightMax }

func (a *andMaybePL) weight() float64 {
	w := a.left.weight()
	if a.rightHere() {
		w += a.right.weight()
	}
	return w
}

func (a *andMaybePL) wdf() uint32 {
	n := a.left.wdf()
	if a.rightHere() {
		n += a.right.wdf()
	}
	return n
}

func (a *andMaybePL) estimate() (lo, est, hi uint32) { return a.left.estimate() }

type scalePL struct {
	postList
	factor float64
}

func (s *scalePL) next(minWeight float64) bool {
	return s.postList.next(minWeight / s.factor)
}

func (s *scalePL) skipTo(did index.DocID, minWeight float64) bool {
	return s.postList.skipTo(did, minWeight/s.factor)
}

func (s *scalePL) weight() float64    { return s.postList.weight() * s.factor }
func (s *scalePL) maxWeight() float64 { return s.postList.maxWeight() * s.factor }

// synonymPL scores the union of its children as if it were a single term
// whose wdf is the sum of theirs.
type synonymPL struct {
	ctx    *shardContext
	inner  postList
	scorer TermScorer
	maxW   float64
}

func (s *synonymPL) next(minWeight float64) bool {
	if minWeight > s.maxW {
		return false
	}
	return s.inner.next(0)
}

func (s *synonymPL) skipTo(did index.DocID, minWeight float64) bool {
	if minWeight > s.maxW {
		return false
	}
	return s.inner.skipTo(did, 0)
}

func (s *synonymPL) docID() index.DocID             { return s.inner.docID() }
func (s *synonymPL) maxWeight() float64             { return s.maxW }
func (s *synonymPL) wdf() uint32                    { return s.inner.wdf() }
func (s *synonymPL) estimate() (lo, est, hi uint32) { return s.inner.estimate() }

func (s *synonymPL) weight() float64 {
	d := s.inner.docID()
	return s.scorer.Score(s.inner.wdf(), s.ctx.docLength(d))
}

// nearPL filters an AND of term lists by term positions. Phrases need the
// terms in query order; NEAR accepts any order. Either way every term must
// fall inside a span of window positions.
type nearPL struct {
	*andPL
	terms   []*termPL
	window  uint32
	ordered bool
}

func (n *nearPL) next(minWeight float64) bool {
	for n.andPL.next(minWeight) {
		if n.check() {
			return true
		}
	}
	return false
}

func (n *nearPL) skipTo(did index.DocID, minWeight float64) bool {
	if !n.andPL.skipTo(did, minWeight) {
		return false
	}
	for !n.check() {
		if !n.andPL.next(minWeight) {
			return false
		}
	}
	return true
}

func (n *nearPL) check() bool {
	lists := make([][]uint32, len(n.terms))
	for i, t := range n.terms {
		lists[i] = t.positions()
		if len(lists[i]) == 0 {
			return false
		}
	}
	if n.ordered {
		return phraseMatch(lists, n.window)
	}
	return nearMatch(lists, n.window)
}

func (n *nearPL) estimate() (lo, est, hi uint32) {
	_, est, hi = n.andPL.estimate()
	return 0, est / 2, hi
}

// phraseMatch reports whether some choice of one position per list is
// strictly increasing and spans at most window positions.
func phraseMatch(lists [][]uint32, window uint32) bool {
	for _, first := range lists[0] {
		cur := first
		ok := true
		for _, l := range lists[1:] {
			j := sort.Search(len(l), func(k int) bool { return l[k] > cur })
			if j == len(l) {
				return false
			}
			cur = l[j]
			if cur-first+1 > window {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// nearMatch slides a window over the merged positions looking for a span
// of at most window positions that covers every list.
func nearMatch(lists [][]uint32, window uint32) bool {
	type tagged struct {
		pos uint32
		idx int
	}
	var merged []tagged
	for i, l := range lists {
		for _, p := range l {
			merged = append(merged, tagged{p, i})
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].pos < merged[j].pos })

	counts := make([]int, len(lists))
	covered, left := 0, 0
	for _, r := range merged {
		if counts[r.idx] == 0 {
			covered++
		}
		counts[r.idx]++
		for covered == len(lists) {
			if r.pos-merged[left].pos+1 <= window {
				return true
			}
			l := merged[left]
			counts[l.idx]--
			if counts[l.idx] == 0 {
				covered--
			}
			left++
		}
	}
	return false
}
