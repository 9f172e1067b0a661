package index

// DocID identifies a document within one shard. Zero is never assigned.
type DocID uint32

// Slot numbers a per-document value.
type Slot uint32

// Posting is one (term, document) association.
type Posting struct {
	DocID     DocID    `json:"d"`
	WDF       uint32   `json:"f"`
	Positions []uint32 `json:"p,omitempty"`
}

// PostingList is a posting list sorted by ascending DocID.
type PostingList []Posting

// TermEntry is a term together with its complete posting list; segment
// writers consume a sorted slice of these.
type TermEntry struct {
	Term     string
	Postings PostingList
}

// TermStat carries the collection statistics of one term.
type TermStat struct {
	Term     string `json:"t"`
	TermFreq uint32 `json:"tf"`
	CollFreq uint64 `json:"cf"`
}

// DocTerm is one entry of a stored document's term list.
type DocTerm struct {
	Term      string   `json:"t"`
	WDF       uint32   `json:"f"`
	Positions []uint32 `json:"p,omitempty"`
}

// StoredDoc is the persisted form of a document: data blob, value slots and
// a term list sorted by term.
type StoredDoc struct {
	Data   string          `json:"data,omitempty"`
	Values map[Slot]string `json:"values,omitempty"`
	Terms  []DocTerm       `json:"terms,omitempty"`
}

// Length is the sum of the WDF of every term.
func (d *StoredDoc) Length() uint32 {
	var n uint32
	for _, t := range d.Terms {
		n += t.WDF
	}
	return n
}

// Clone returns a deep copy.
func (d *StoredDoc) Clone() *StoredDoc {
	c := &StoredDoc{Data: d.Data}
	if len(d.Values) > 0 {
		c.Values = make(map[Slot]string, len(d.Values))
		for k, v := range d.Values {
			c.Values[k] = v
		}
	}
	c.Terms = make([]DocTerm, len(d.Terms))
	for i, t := range d.Terms {
		c.Terms[i] = DocTerm{Term: t.Term, WDF: t.WDF, Positions: append([]uint32(nil), t.Positions...)}
	}
	return c
}

// ValueEntry is one document's value in a slot.
type ValueEntry struct {
	DocID DocID  `json:"d"`
	Value string `json:"v"`
}

// ValueStats summarises one slot.
type ValueStats struct {
	Freq  uint32 `json:"n"`
	Lower string `json:"lo"`
	Upper string `json:"hi"`
}

// WordFreq is a spelling dictionary entry.
type WordFreq struct {
	Word string `json:"w"`
	Freq uint32 `json:"f"`
}
