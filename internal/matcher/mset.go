package matcher

import (
	"math"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/database"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/document"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
)

// Item is one ranked result.
type Item struct {
	DocID         index.DocID
	Weight        float64
	CollapseCount uint32
	CollapseKey   string
	SortKey       string
}

type bounds struct {
	lower, estimated, upper uint32
}

// MSet is a window of ranked results together with match statistics.
type MSet struct {
	db          *database.Database
	items       []Item
	firstItem   uint32
	matches     bounds
	uncollapsed bounds
	maxPossible float64
	maxAttained float64
	// percentScale converts a weight to a fraction of the best possible
	// match.
	percentScale float64
	termFreqs    map[string]uint32
	termWeights  map[string]float64
}

func (m *MSet) Size() int         { return len(m.items) }
func (m *MSet) Empty() bool       { return len(m.items) == 0 }
func (m *MSet) FirstItem() uint32 { return m.firstItem }

// Items returns a copy of the results, best first.
func (m *MSet) Items() []Item {
	out := make([]Item, len(m.items))
	copy(out, m.items)
	return out
}

func (m *MSet) MatchesLowerBound() uint32 { return m.matches.lower }
func (m *MSet) MatchesEstimated() uint32  { return m.matches.estimated }
func (m *MSet) MatchesUpperBound() uint32 { return m.matches.upper }

func (m *MSet) UncollapsedMatchesLowerBound() uint32 { return m.uncollapsed.lower }
func (m *MSet) UncollapsedMatchesEstimated() uint32  { return m.uncollapsed.estimated }
func (m *MSet) UncollapsedMatchesUpperBound() uint32 { return m.uncollapsed.upper }

func (m *MSet) MaxPossible() float64 { return m.maxPossible }
func (m *MSet) MaxAttained() float64 { return m.maxAttained }

// TermFreq returns the database-wide frequency of term. Query terms are
// answered from the statistics gathered during the match.
func (m *MSet) TermFreq(term string) (uint32, error) {
	if tf, ok := m.termFreqs[term]; ok {
		return tf, nil
	}
	if m.db == nil {
		return 0, nil
	}
	return m.db.TermFreq(term)
}

// TermWeight is the maximum weight term could contribute to a document,
// zero for terms outside the query.
func (m *MSet) TermWeight(term string) float64 { return m.termWeights[term] }

// ConvertToPercent maps a weight to 0-100. Any positive weight maps to at
// least 1.
func (m *MSet) ConvertToPercent(w float64) int {
	if w <= 0 || m.percentScale == 0 {
		return 0
	}
	p := int(math.Round(w * m.percentScale * 100))
	return min(max(p, 1), 100)
}

func (m *MSet) Iterator() *MSetIterator {
	return &MSetIterator{mset: m, cur: index.NewCursor(len(m.items))}
}

// ReverseIterator walks the results from worst to best.
func (m *MSet) ReverseIterator() *MSetIterator {
	return &MSetIterator{mset: m, cur: index.NewCursor(len(m.items)), reverse: true}
}

// MSetIterator is a cursor over an MSet. It starts before the first
// result and keeps the direction of its first move: Next walks away from
// the end it started at, Prev from a fresh iterator starts at the other
// end, and mixing the two panics. The document at the current position is
// fetched on first use and dropped when the cursor moves.
type MSetIterator struct {
	mset    *MSet
	cur     index.Cursor
	reverse bool
	doc     *document.Document
}

func (it *MSetIterator) Next() bool {
	it.doc = nil
	return it.cur.Next()
}

func (it *MSetIterator) Prev() bool {
	it.doc = nil
	return it.cur.Prev()
}

func (it *MSetIterator) Valid() bool { return it.cur.Valid() }

func (it *MSetIterator) index() int {
	if !it.cur.Valid() {
		panic("matcher: MSet iterator accessed while not positioned on an item")
	}
	if it.reverse {
		return len(it.mset.items) - 1 - it.cur.Pos()
	}
	return it.cur.Pos()
}

func (it *MSetIterator) item() Item { return it.mset.items[it.index()] }

func (it *MSetIterator) DocID() index.DocID    { return it.item().DocID }
func (it *MSetIterator) Weight() float64       { return it.item().Weight }
func (it *MSetIterator) CollapseCount() uint32 { return it.item().CollapseCount }
func (it *MSetIterator) CollapseKey() string   { return it.item().CollapseKey }
func (it *MSetIterator) SortKey() string       { return it.item().SortKey }

// Rank is the zero-based position in the full ranking, not in this MSet.
func (it *MSetIterator) Rank() uint32 { return it.mset.firstItem + uint32(it.index()) }

func (it *MSetIterator) Percent() int { return it.mset.ConvertToPercent(it.Weight()) }

// Document fetches the current document from the database the MSet came
// from, which must still be open.
func (it *MSetIterator) Document() (*document.Document, error) {
	if it.doc != nil {
		return it.doc, nil
	}
	doc, err := it.mset.db.Document(it.DocID())
	if err != nil {
		return nil, err
	}
	it.doc = doc
	return doc, nil
}

// Clone returns a fresh iterator over the same results in the same order,
// positioned before the first one.
func (it *MSetIterator) Clone() *MSetIterator {
	return &MSetIterator{mset: it.mset, cur: index.NewCursor(len(it.mset.items)), reverse: it.reverse}
}
