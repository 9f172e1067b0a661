// Package document provides the in-memory document model: a data blob,
// per-slot values and a term list with within-document frequencies and
// positions.
package document

import (
	"sort"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

type (
	DocID = index.DocID
	Slot  = index.Slot
)

type termEntry struct {
	wdf       uint32
	positions []uint32
}

// Document is a mutable document. Documents read from a database are
// independent copies; changing them has no effect until they are written
// back.
type Document struct {
	id     DocID
	data   string
	values map[Slot]string
	terms  map[string]*termEntry
}

func New() *Document {
	return &Document{
		values: make(map[Slot]string),
		terms:  make(map[string]*termEntry),
	}
}

// FromStored builds a Document from its persisted form.
func FromStored(did DocID, sd *index.StoredDoc) *Document {
	d := New()
	d.id = did
	d.data = sd.Data
	for slot, v := range sd.Values {
		d.values[slot] = v
	}
	for _, t := range sd.Terms {
		d.terms[t.Term] = &termEntry{
			wdf:       t.WDF,
			positions: append([]uint32(nil), t.Positions...),
		}
	}
	return d
}

// Stored converts the document to its persisted form with terms sorted.
func (d *Document) Stored() *index.StoredDoc {
	sd := &index.StoredDoc{Data: d.data}
	if len(d.values) > 0 {
		sd.Values = make(map[Slot]string, len(d.values))
		for slot, v := range d.values {
			sd.Values[slot] = v
		}
	}
	for _, term := range d.sortedTerms() {
		e := d.terms[term]
		sd.Terms = append(sd.Terms, index.DocTerm{
			Term:      term,
			WDF:       e.wdf,
			Positions: append([]uint32(nil), e.positions...),
		})
	}
	return sd
}

// ID is the docid the document was read from, or 0 for a new document.
func (d *Document) ID() DocID { return d.id }

func (d *Document) Data() string { return d.data }

func (d *Document) SetData(data string) { d.data = data }

// AddValue stores v in slot, replacing any earlier value. An empty value
// removes the slot.
func (d *Document) AddValue(slot Slot, v string) {
	if v == "" {
		delete(d.values, slot)
		return
	}
	d.values[slot] = v
}

// Value returns the value in slot, or "" when the slot is unset.
func (d *Document) Value(slot Slot) string { return d.values[slot] }

func (d *Document) RemoveValue(slot Slot) { delete(d.values, slot) }

func (d *Document) ClearValues() { d.values = make(map[Slot]string) }

func (d *Document) ValuesCount() int { return len(d.values) }

// Values returns a copy of every set slot.
func (d *Document) Values() map[Slot]string {
	out := make(map[Slot]string, len(d.values))
	for slot, v := range d.values {
		out[slot] = v
	}
	return out
}

func (d *Document) entry(term string) *termEntry {
	if term == "" {
		panic("document: empty term")
	}
	e, ok := d.terms[term]
	if !ok {
		e = &termEntry{}
		d.terms[term] = e
	}
	return e
}

// AddTerm adds term without positional information, raising its WDF by
// wdfInc.
func (d *Document) AddTerm(term string, wdfInc uint32) {
	d.entry(term).wdf += wdfInc
}

// AddBooleanTerm adds term with zero WDF, for filtering only.
func (d *Document) AddBooleanTerm(term string) {
	d.entry(term)
}

// AddPosting records an occurrence of term at pos and raises its WDF by
// wdfInc.
func (d *Document) AddPosting(term string, pos uint32, wdfInc uint32) {
	e := d.entry(term)
	e.wdf += wdfInc
	i := sort.Search(len(e.positions), func(i int) bool { return e.positions[i] >= pos })
	if i < len(e.positions) && e.positions[i] == pos {
		return
	}
	e.positions = append(e.positions, 0)
	copy(e.positions[i+1:], e.positions[i:])
	e.positions[i] = pos
}

// RemovePosting removes the occurrence of term at pos and lowers its WDF by
// wdfDec (never below zero). The term itself stays in the term list.
func (d *Document) RemovePosting(term string, pos uint32, wdfDec uint32) error {
	e, ok := d.terms[term]
	if !ok {
		return qerrors.Newf(qerrors.ErrInvalidArgument, "term %q is not present in the document", term)
	}
	i := sort.Search(len(e.positions), func(i int) bool { return e.positions[i] >= pos })
	if i >= len(e.positions) || e.positions[i] != pos {
		return qerrors.Newf(qerrors.ErrInvalidArgument, "term %q has no posting at position %d", term, pos)
	}
	e.positions = append(e.positions[:i], e.positions[i+1:]...)
	if wdfDec > e.wdf {
		wdfDec = e.wdf
	}
	e.wdf -= wdfDec
	return nil
}

// RemoveTerm removes term and all of its postings.
func (d *Document) RemoveTerm(term string) error {
	if _, ok := d.terms[term]; !ok {
		return qerrors.Newf(qerrors.ErrInvalidArgument, "term %q is not present in the document", term)
	}
	delete(d.terms, term)
	return nil
}

func (d *Document) ClearTerms() { d.terms = make(map[string]*termEntry) }

func (d *Document) TermListCount() int { return len(d.terms) }

// HasTerm reports whether term is in the term list.
func (d *Document) HasTerm(term string) bool {
	_, ok := d.terms[term]
	return ok
}

// TermList returns a cursor over the document's terms in ascending order.
// TermFreq is not meaningful for a standalone document and reads as zero.
func (d *Document) TermList() *index.TermIterator {
	terms := d.sortedTerms()
	items := make([]index.TermItem, len(terms))
	for i, term := range terms {
		e := d.terms[term]
		items[i] = index.TermItem{
			Term:      term,
			WDF:       e.wdf,
			Positions: append([]uint32(nil), e.positions...),
		}
	}
	return index.NewTermIterator(items)
}

// DocLength is the sum of the WDF of every term.
func (d *Document) DocLength() uint32 {
	var n uint32
	for _, e := range d.terms {
		n += e.wdf
	}
	return n
}

// Clone returns an independent deep copy.
func (d *Document) Clone() *Document {
	return FromStored(d.id, d.Stored())
}

func (d *Document) sortedTerms() []string {
	terms := make([]string, 0, len(d.terms))
	for term := range d.terms {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	return terms
}
