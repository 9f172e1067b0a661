package index

import (
	"sort"
)

type cursorState int

const (
	notStarted cursorState = iota
	positioned
	exhausted
)

type direction int

const (
	dirUnset direction = iota
	dirForward
	dirBackward
)

// cursor is the NotStarted/At/Exhausted state machine shared by every
// iterator in the engine. Next and Prev are the only transitions and a
// cursor may only travel in the direction of its first move.
type cursor struct {
	n     int
	pos   int
	state cursorState
	dir   direction
}

func (c *cursor) turn(d direction) {
	if c.dir == dirUnset {
		c.dir = d
		return
	}
	if c.dir != d {
		panic("index: iterator direction changed; Next and Prev cannot be mixed on one cursor")
	}
}

func (c *cursor) next() bool {
	c.turn(dirForward)
	switch c.state {
	case notStarted:
		c.pos = 0
	case positioned:
		c.pos++
	default:
		return false
	}
	if c.pos >= c.n {
		c.state = exhausted
		return false
	}
	c.state = positioned
	return true
}

func (c *cursor) prev() bool {
	c.turn(dirBackward)
	switch c.state {
	case notStarted:
		c.pos = c.n - 1
	case positioned:
		c.pos--
	default:
		return false
	}
	if c.pos < 0 {
		c.state = exhausted
		return false
	}
	c.state = positioned
	return true
}

func (c *cursor) valid() bool { return c.state == positioned }

func (c *cursor) mustBeValid() {
	if c.state != positioned {
		panic("index: iterator accessed while not positioned on an item")
	}
}

// Cursor exposes the iterator state machine to packages that walk their
// own sequences of n items, such as result sets.
type Cursor struct {
	c cursor
}

func NewCursor(n int) Cursor { return Cursor{c: cursor{n: n}} }

// Next moves forward; from NotStarted it lands on item 0. Calling it on a
// cursor that has moved backwards panics.
func (c *Cursor) Next() bool { return c.c.next() }

// Prev moves backward; from NotStarted it lands on the last item. Calling
// it on a cursor that has moved forwards panics.
func (c *Cursor) Prev() bool { return c.c.prev() }

func (c *Cursor) Valid() bool { return c.c.valid() }

// Pos is the current item. It panics unless the cursor is positioned.
func (c *Cursor) Pos() int {
	c.c.mustBeValid()
	return c.c.pos
}

// TermItem is one position of a TermIterator.
type TermItem struct {
	Term      string
	WDF       uint32
	TermFreq  uint32
	Positions []uint32
}

// TermIterator walks a finite term list (a document's terms or a database
// term enumeration) in ascending term order.
type TermIterator struct {
	items []TermItem
	cur   cursor
}

// NewTermIterator wraps items, which must already be sorted by term.
func NewTermIterator(items []TermItem) *TermIterator {
	return &TermIterator{items: items, cur: cursor{n: len(items)}}
}

func (it *TermIterator) Next() bool  { return it.cur.next() }
func (it *TermIterator) Prev() bool  { return it.cur.prev() }
func (it *TermIterator) Valid() bool { return it.cur.valid() }
func (it *TermIterator) Len() int    { return len(it.items) }

// SkipTo advances to the first term >= term. It never moves backwards.
func (it *TermIterator) SkipTo(term string) bool {
	it.cur.turn(dirForward)
	if it.cur.state == exhausted {
		return false
	}
	start := 0
	if it.cur.state == positioned {
		if it.items[it.cur.pos].Term >= term {
			return true
		}
		start = it.cur.pos + 1
	}
	i := start + sort.Search(len(it.items)-start, func(i int) bool {
		return it.items[start+i].Term >= term
	})
	if i >= len(it.items) {
		it.cur.state = exhausted
		return false
	}
	it.cur.pos = i
	it.cur.state = positioned
	return true
}

func (it *TermIterator) Term() string {
	it.cur.mustBeValid()
	return it.items[it.cur.pos].Term
}

func (it *TermIterator) WDF() uint32 {
	it.cur.mustBeValid()
	return it.items[it.cur.pos].WDF
}

func (it *TermIterator) TermFreq() uint32 {
	it.cur.mustBeValid()
	return it.items[it.cur.pos].TermFreq
}

func (it *TermIterator) Positions() []uint32 {
	it.cur.mustBeValid()
	return append([]uint32(nil), it.items[it.cur.pos].Positions...)
}

// Clone returns an independent iterator over the same terms, positioned
// before the first item.
func (it *TermIterator) Clone() *TermIterator {
	return NewTermIterator(it.items)
}

// PostingIterator walks one term's posting list in ascending docid order.
type PostingIterator struct {
	postings PostingList
	docLen   func(DocID) (uint32, error)
	cur      cursor
}

// NewPostingIterator wraps postings; docLen resolves document lengths on
// demand and may be nil.
func NewPostingIterator(postings PostingList, docLen func(DocID) (uint32, error)) *PostingIterator {
	return &PostingIterator{postings: postings, docLen: docLen, cur: cursor{n: len(postings)}}
}

func (it *PostingIterator) Next() bool  { return it.cur.next() }
func (it *PostingIterator) Prev() bool  { return it.cur.prev() }
func (it *PostingIterator) Valid() bool { return it.cur.valid() }

// TermFreq is the number of documents in the list.
func (it *PostingIterator) TermFreq() uint32 { return uint32(len(it.postings)) }

// SkipTo advances to the first posting with DocID >= did.
func (it *PostingIterator) SkipTo(did DocID) bool {
	it.cur.turn(dirForward)
	if it.cur.state == exhausted {
		return false
	}
	start := 0
	if it.cur.state == positioned {
		if it.postings[it.cur.pos].DocID >= did {
			return true
		}
		start = it.cur.pos + 1
	}
	i := start + sort.Search(len(it.postings)-start, func(i int) bool {
		return it.postings[start+i].DocID >= did
	})
	if i >= len(it.postings) {
		it.cur.state = exhausted
		return false
	}
	it.cur.pos = i
	it.cur.state = positioned
	return true
}

func (it *PostingIterator) DocID() DocID {
	it.cur.mustBeValid()
	return it.postings[it.cur.pos].DocID
}

func (it *PostingIterator) WDF() uint32 {
	it.cur.mustBeValid()
	return it.postings[it.cur.pos].WDF
}

func (it *PostingIterator) Positions() []uint32 {
	it.cur.mustBeValid()
	return append([]uint32(nil), it.postings[it.cur.pos].Positions...)
}

func (it *PostingIterator) DocLength() (uint32, error) {
	it.cur.mustBeValid()
	if it.docLen == nil {
		return 0, nil
	}
	return it.docLen(it.postings[it.cur.pos].DocID)
}

func (it *PostingIterator) Clone() *PostingIterator {
	return NewPostingIterator(it.postings, it.docLen)
}
