// Package postingsource defines pluggable suppliers of (document, weight)
// pairs that can be folded into a query as a leaf, and the built-in sources
// driven by document values.
package postingsource

import (
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
)

// Source enumerates matching documents of one shard in ascending docid
// order with a weight for each. A Source is stateful; the matcher clones the
// prototype held by a query once per shard and calls Init before iterating.
//
// MaxWeight must never be below the weight of any document the source can
// still return. Over-reporting only slows matching down; under-reporting
// loses matches.
type Source interface {
	Init(shard index.Shard) error
	// Next advances to the next document. minWeight is the lowest weight
	// still useful to the caller; a source may use it to stop early.
	Next(minWeight float64) bool
	// SkipTo advances to the first document with docid >= did.
	SkipTo(did index.DocID, minWeight float64) bool
	DocID() index.DocID
	Weight() float64
	MaxWeight() float64
	TermFreqMin() uint32
	TermFreqEst() uint32
	TermFreqMax() uint32
	Description() string
	// Name identifies the source type in a Registry. An empty name means
	// the source cannot be serialised.
	Name() string
	Serialise() string
	Clone() Source
}

// iterator holds the docid cursor shared by the built-in sources.
type iterator struct {
	pos     int
	started bool
	n       int
}

func (it *iterator) reset(n int) {
	*it = iterator{n: n}
}

func (it *iterator) advance() bool {
	if !it.started {
		it.started = true
		it.pos = 0
	} else if it.pos < it.n {
		it.pos++
	}
	return it.pos < it.n
}

func (it *iterator) exhaust() {
	it.started = true
	it.pos = it.n
}

func (it *iterator) valid() bool { return it.started && it.pos < it.n }

func (it *iterator) mustBeValid() {
	if !it.valid() {
		panic("postingsource: source accessed while not positioned on a document")
	}
}
