// Package query represents boolean and probabilistic queries as immutable
// trees. Combining queries always builds a new tree; nothing is mutated
// after construction, so a Query may be shared freely between goroutines.
package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/postingsource"
)

// Op is the operator of a query node.
type Op uint8

const (
	OpAnd Op = iota
	OpOr
	OpAndNot
	OpXor
	OpAndMaybe
	OpFilter
	OpNear
	OpPhrase
	OpValueRange
	OpScaleWeight
	OpEliteSet
	OpValueGE
	OpValueLE
	OpSynonym
	OpMax
	OpWildcard

	// Leaf kinds, reported by Op for leaves.
	OpLeafTerm
	OpLeafMatchAll
	OpLeafPostingSource
	// OpInvalid is the Op of the empty query.
	OpInvalid
)

var opNames = [...]string{
	OpAnd:               "AND",
	OpOr:                "OR",
	OpAndNot:            "AND_NOT",
	OpXor:               "XOR",
	OpAndMaybe:          "AND_MAYBE",
	OpFilter:            "FILTER",
	OpNear:              "NEAR",
	OpPhrase:            "PHRASE",
	OpValueRange:        "VALUE_RANGE",
	OpScaleWeight:       "SCALE_WEIGHT",
	OpEliteSet:          "ELITE_SET",
	OpValueGE:           "VALUE_GE",
	OpValueLE:           "VALUE_LE",
	OpSynonym:           "SYNONYM",
	OpMax:               "MAX",
	OpWildcard:          "WILDCARD",
	OpLeafTerm:          "LEAF_TERM",
	OpLeafMatchAll:      "LEAF_MATCH_ALL",
	OpLeafPostingSource: "LEAF_POSTING_SOURCE",
	OpInvalid:           "INVALID",
}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("Op(%d)", uint8(o))
}

// DefaultEliteSetSize is used when ELITE_SET is built without a size.
const DefaultEliteSetSize = 10

type node struct {
	op       Op
	term     string
	wqf      uint32
	pos      uint32
	window   uint32
	slot     index.Slot
	lo, hi   string
	factor   float64
	maxExp   uint32
	combiner Op
	source   postingsource.Source
	children []*node
}

// Query is an immutable query tree. The zero value is the empty query,
// which matches nothing.
type Query struct {
	root *node
}

func Empty() Query { return Query{} }

// MatchAll matches every document with zero weight.
func MatchAll() Query {
	return Query{root: &node{op: OpLeafMatchAll, wqf: 1}}
}

// Term is a term leaf with within-query frequency 1 and no position.
func Term(name string) Query {
	return TermWithWQF(name, 1, 0)
}

// TermWithWQF is a term leaf with an explicit within-query frequency and
// query position (0 for none). An empty name is MatchAll.
func TermWithWQF(name string, wqf, pos uint32) Query {
	if name == "" {
		return Query{root: &node{op: OpLeafMatchAll, wqf: wqf, pos: pos}}
	}
	return Query{root: &node{op: OpLeafTerm, term: name, wqf: wqf, pos: pos}}
}

// Combine joins qs under op. It accepts the n-ary operators only; the
// value, scale and wildcard operators have their own constructors.
func Combine(op Op, qs ...Query) Query {
	return CombineWindow(op, 0, qs...)
}

// CombineWindow is Combine with a parameter: the window size for NEAR and
// PHRASE (0 means the number of subqueries) or the set size for ELITE_SET
// (0 means DefaultEliteSetSize).
func CombineWindow(op Op, window uint32, qs ...Query) Query {
	switch op {
	case OpAnd, OpFilter, OpNear, OpPhrase:
		children := make([]*node, 0, len(qs))
		for _, q := range qs {
			if q.root == nil {
				return Query{}
			}
			children = append(children, q.root)
		}
		return build(op, window, children)
	case OpAndNot, OpAndMaybe:
		if len(qs) == 0 || qs[0].root == nil {
			return Query{}
		}
		children := []*node{qs[0].root}
		for _, q := range qs[1:] {
			if q.root != nil {
				children = append(children, q.root)
			}
		}
		return build(op, window, children)
	case OpOr, OpXor, OpSynonym, OpMax, OpEliteSet:
		children := make([]*node, 0, len(qs))
		for _, q := range qs {
			if q.root != nil {
				children = append(children, q.root)
			}
		}
		return build(op, window, children)
	default:
		panic(fmt.Sprintf("query: %s cannot combine subqueries", op))
	}
}

func build(op Op, window uint32, children []*node) Query {
	switch len(children) {
	case 0:
		return Query{}
	case 1:
		if op != OpSynonym {
			return Query{root: children[0]}
		}
	}
	switch op {
	case OpNear, OpPhrase:
		if window == 0 {
			window = uint32(len(children))
		}
	case OpEliteSet:
		if window == 0 {
			window = DefaultEliteSetSize
		}
	default:
		window = 0
	}
	return Query{root: &node{op: op, window: window, children: children}}
}

// CombineTerms builds a term leaf for every string and joins them under op.
func CombineTerms(op Op, terms []string) Query {
	qs := make([]Query, len(terms))
	for i, t := range terms {
		qs[i] = Term(t)
	}
	return Combine(op, qs...)
}

// ValueComparison matches documents whose value in slot is >= value
// (OpValueGE) or <= value (OpValueLE), comparing bytes. Any other op is a
// programming error and panics.
func ValueComparison(op Op, slot index.Slot, value string) Query {
	switch op {
	case OpValueGE:
		return Query{root: &node{op: op, slot: slot, lo: value}}
	case OpValueLE:
		return Query{root: &node{op: op, slot: slot, hi: value}}
	default:
		panic(fmt.Sprintf("query: ValueComparison needs VALUE_GE or VALUE_LE, got %s", op))
	}
}

// ValueRange matches documents whose value in slot lies in [lo, hi]. An
// inverted range is the empty query.
func ValueRange(slot index.Slot, lo, hi string) Query {
	if lo > hi {
		return Query{}
	}
	return Query{root: &node{op: OpValueRange, slot: slot, lo: lo, hi: hi}}
}

// ScaleWeight multiplies the weight of q by factor. A negative factor
// panics.
func ScaleWeight(factor float64, q Query) Query {
	if factor < 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		panic(fmt.Sprintf("query: scale factor must be finite and non-negative, got %v", factor))
	}
	if q.root == nil {
		return Query{}
	}
	if factor == 1 {
		return q
	}
	return Query{root: &node{op: OpScaleWeight, factor: factor, children: []*node{q.root}}}
}

// Wildcard matches every term starting with pattern, combining the
// expansions with combiner (OpSynonym, OpOr or OpMax). At most maxExpansion
// terms are used, 0 meaning no limit.
func Wildcard(pattern string, maxExpansion uint32, combiner Op) Query {
	switch combiner {
	case OpSynonym, OpOr, OpMax:
	default:
		panic(fmt.Sprintf("query: wildcard combiner must be SYNONYM, OR or MAX, got %s", combiner))
	}
	return Query{root: &node{op: OpWildcard, term: pattern, maxExp: maxExpansion, combiner: combiner}}
}

// FromPostingSource wraps src as a leaf. The query keeps src as a
// prototype; the matcher works on clones.
func FromPostingSource(src postingsource.Source) Query {
	if src == nil {
		panic("query: nil posting source")
	}
	return Query{root: &node{op: OpLeafPostingSource, source: src}}
}

func (q Query) IsEmpty() bool { return q.root == nil }

// Op is the operator at the root, OpInvalid for the empty query.
func (q Query) Op() Op {
	if q.root == nil {
		return OpInvalid
	}
	return q.root.op
}

// Subqueries returns the children of the root in construction order.
func (q Query) Subqueries() []Query {
	if q.root == nil {
		return nil
	}
	out := make([]Query, len(q.root.children))
	for i, c := range q.root.children {
		out[i] = Query{root: c}
	}
	return out
}

// TermName is the term of a term leaf or the pattern of a wildcard.
func (q Query) TermName() string {
	if q.root == nil {
		return ""
	}
	return q.root.term
}

func (q Query) WQF() uint32 {
	if q.root == nil {
		return 0
	}
	return q.root.wqf
}

func (q Query) Position() uint32 {
	if q.root == nil {
		return 0
	}
	return q.root.pos
}

// Window is the NEAR/PHRASE window or the ELITE_SET size.
func (q Query) Window() uint32 {
	if q.root == nil {
		return 0
	}
	return q.root.window
}

func (q Query) Slot() index.Slot {
	if q.root == nil {
		return 0
	}
	return q.root.slot
}

// Bounds returns the value bounds of a value leaf; an open end is "".
func (q Query) Bounds() (lo, hi string) {
	if q.root == nil {
		return "", ""
	}
	return q.root.lo, q.root.hi
}

func (q Query) Factor() float64 {
	if q.root == nil {
		return 0
	}
	return q.root.factor
}

func (q Query) MaxExpansion() uint32 {
	if q.root == nil {
		return 0
	}
	return q.root.maxExp
}

func (q Query) Combiner() Op {
	if q.root == nil {
		return OpInvalid
	}
	return q.root.combiner
}

func (q Query) Source() postingsource.Source {
	if q.root == nil {
		return nil
	}
	return q.root.source
}

// Length is the number of term occurrences in the query, weighted by wqf.
func (q Query) Length() uint32 {
	return length(q.root)
}

func length(n *node) uint32 {
	if n == nil {
		return 0
	}
	switch n.op {
	case OpLeafTerm, OpLeafMatchAll:
		return n.wqf
	}
	var total uint32
	for _, c := range n.children {
		total += length(c)
	}
	return total
}

// Terms returns the distinct terms of the query in the order they first
// appear.
func (q Query) Terms() []string {
	var out []string
	seen := make(map[string]struct{})
	var walk func(*node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		if n.op == OpLeafTerm {
			if _, ok := seen[n.term]; !ok {
				seen[n.term] = struct{}{}
				out = append(out, n.term)
			}
			return
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(q.root)
	return out
}

// Description renders the query for debugging, for example
// "Query((rey OR finn))".
func (q Query) Description() string {
	var b strings.Builder
	b.WriteString("Query(")
	if q.root != nil {
		describe(&b, q.root)
	}
	b.WriteByte(')')
	return b.String()
}

func (q Query) String() string { return q.Description() }

func describe(b *strings.Builder, n *node) {
	switch n.op {
	case OpLeafTerm, OpLeafMatchAll:
		if n.op == OpLeafMatchAll {
			b.WriteString("<alldocuments>")
		} else {
			b.WriteString(n.term)
		}
		if n.wqf != 1 {
			b.WriteByte('#')
			b.WriteString(strconv.FormatUint(uint64(n.wqf), 10))
		}
		if n.pos != 0 {
			b.WriteByte('@')
			b.WriteString(strconv.FormatUint(uint64(n.pos), 10))
		}
	case OpLeafPostingSource:
		b.WriteString("PostingSource(")
		b.WriteString(n.source.Description())
		b.WriteByte(')')
	case OpValueRange:
		fmt.Fprintf(b, "VALUE_RANGE %d %s %s", n.slot, n.lo, n.hi)
	case OpValueGE:
		fmt.Fprintf(b, "VALUE_GE %d %s", n.slot, n.lo)
	case OpValueLE:
		fmt.Fprintf(b, "VALUE_LE %d %s", n.slot, n.hi)
	case OpWildcard:
		fmt.Fprintf(b, "WILDCARD %s %s", n.combiner, n.term)
	case OpScaleWeight:
		b.WriteString(strconv.FormatFloat(n.factor, 'g', -1, 64))
		b.WriteString(" * ")
		describe(b, n.children[0])
	default:
		sep := " " + n.op.String() + " "
		switch n.op {
		case OpNear, OpPhrase, OpEliteSet:
			sep = fmt.Sprintf(" %s %d ", n.op, n.window)
		}
		b.WriteByte('(')
		for i, c := range n.children {
			if i > 0 {
				b.WriteString(sep)
			}
			describe(b, c)
		}
		b.WriteByte(')')
	}
}
