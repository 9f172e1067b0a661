package index

import (
	"sort"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

type termPostings struct {
	docs     *roaring.Bitmap
	entries  map[DocID]*Posting
	collFreq uint64
}

// MemoryIndex is a mutable shard held entirely in memory. Writable databases
// stage every change in one; the in-memory backend serves reads from it.
type MemoryIndex struct {
	mu          sync.RWMutex
	index       map[string]*termPostings
	docs        map[DocID]*StoredDoc
	docIDs      *roaring.Bitmap
	docLengths  map[DocID]uint32
	totalLength uint64
	lastDocID   DocID
	values      map[Slot]map[DocID]string
	metadata    map[string]string
	spellings   map[string]uint32
	synonyms    map[string]map[string]struct{}
	uuid        string
	revision    uint64
	size        int64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		index:      make(map[string]*termPostings),
		docs:       make(map[DocID]*StoredDoc),
		docIDs:     roaring.New(),
		docLengths: make(map[DocID]uint32),
		values:     make(map[Slot]map[DocID]string),
		metadata:   make(map[string]string),
		spellings:  make(map[string]uint32),
		synonyms:   make(map[string]map[string]struct{}),
	}
}

// AddDocument stores doc under did, replacing any document already there.
func (m *MemoryIndex) AddDocument(did DocID, doc *StoredDoc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(did)

	doc = doc.Clone()
	sort.Slice(doc.Terms, func(i, j int) bool {
		return doc.Terms[i].Term < doc.Terms[j].Term
	})
	var length uint32
	for _, t := range doc.Terms {
		tp, exists := m.index[t.Term]
		if !exists {
			tp = &termPostings{
				docs:    roaring.New(),
				entries: make(map[DocID]*Posting),
			}
			m.index[t.Term] = tp
		}
		tp.docs.Add(uint32(did))
		tp.entries[did] = &Posting{
			DocID:     did,
			WDF:       t.WDF,
			Positions: t.Positions,
		}
		tp.collFreq += uint64(t.WDF)
		length += t.WDF
		m.size += int64(len(t.Term) + len(t.Positions)*4 + 48)
	}
	for slot, v := range doc.Values {
		stream, ok := m.values[slot]
		if !ok {
			stream = make(map[DocID]string)
			m.values[slot] = stream
		}
		stream[did] = v
		m.size += int64(len(v) + 16)
	}
	m.docs[did] = doc
	m.docIDs.Add(uint32(did))
	m.docLengths[did] = length
	m.totalLength += uint64(length)
	m.size += int64(len(doc.Data) + 64)
	if did > m.lastDocID {
		m.lastDocID = did
	}
}

// DeleteDocument removes did and reports whether it existed.
func (m *MemoryIndex) DeleteDocument(did DocID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(did)
}

func (m *MemoryIndex) removeLocked(did DocID) bool {
	doc, exists := m.docs[did]
	if !exists {
		return false
	}
	for _, t := range doc.Terms {
		tp := m.index[t.Term]
		if tp == nil {
			continue
		}
		tp.docs.Remove(uint32(did))
		delete(tp.entries, did)
		tp.collFreq -= uint64(t.WDF)
		if tp.docs.IsEmpty() {
			delete(m.index, t.Term)
		}
	}
	for slot := range doc.Values {
		if stream := m.values[slot]; stream != nil {
			delete(stream, did)
			if len(stream) == 0 {
				delete(m.values, slot)
			}
		}
	}
	m.totalLength -= uint64(m.docLengths[did])
	delete(m.docLengths, did)
	delete(m.docs, did)
	m.docIDs.Remove(uint32(did))
	return true
}

// HasDocument reports whether did is present.
func (m *MemoryIndex) HasDocument(did DocID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.docs[did]
	return ok
}

func (m *MemoryIndex) SetLastDocID(did DocID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if did > m.lastDocID {
		m.lastDocID = did
	}
}

// SetMetadata stores value under key; an empty value deletes the key.
func (m *MemoryIndex) SetMetadata(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if value == "" {
		delete(m.metadata, key)
		return
	}
	m.metadata[key] = value
}

func (m *MemoryIndex) AddSpelling(word string, inc uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spellings[word] += inc
}

// RemoveSpelling lowers the frequency of word and drops the entry once it
// reaches zero.
func (m *MemoryIndex) RemoveSpelling(word string, dec uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	freq, ok := m.spellings[word]
	if !ok {
		return
	}
	if dec >= freq {
		delete(m.spellings, word)
		return
	}
	m.spellings[word] = freq - dec
}

func (m *MemoryIndex) AddSynonym(term, synonym string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.synonyms[term]
	if !ok {
		set = make(map[string]struct{})
		m.synonyms[term] = set
	}
	set[synonym] = struct{}{}
}

func (m *MemoryIndex) RemoveSynonym(term, synonym string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if set, ok := m.synonyms[term]; ok {
		delete(set, synonym)
		if len(set) == 0 {
			delete(m.synonyms, term)
		}
	}
}

func (m *MemoryIndex) ClearSynonyms(term string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.synonyms, term)
}

func (m *MemoryIndex) SetUUID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uuid = id
}

func (m *MemoryIndex) SetRevision(rev uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revision = rev
}

// Clone returns an independent deep copy, used to checkpoint transactions.
func (m *MemoryIndex) Clone() *MemoryIndex {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := NewMemoryIndex()
	for term, tp := range m.index {
		ctp := &termPostings{
			docs:     tp.docs.Clone(),
			entries:  make(map[DocID]*Posting, len(tp.entries)),
			collFreq: tp.collFreq,
		}
		for did, p := range tp.entries {
			cp := *p
			ctp.entries[did] = &cp
		}
		c.index[term] = ctp
	}
	for did, doc := range m.docs {
		c.docs[did] = doc.Clone()
	}
	c.docIDs = m.docIDs.Clone()
	for did, l := range m.docLengths {
		c.docLengths[did] = l
	}
	for slot, stream := range m.values {
		cs := make(map[DocID]string, len(stream))
		for did, v := range stream {
			cs[did] = v
		}
		c.values[slot] = cs
	}
	for k, v := range m.metadata {
		c.metadata[k] = v
	}
	for k, v := range m.spellings {
		c.spellings[k] = v
	}
	for k, set := range m.synonyms {
		cs := make(map[string]struct{}, len(set))
		for s := range set {
			cs[s] = struct{}{}
		}
		c.synonyms[k] = cs
	}
	c.totalLength = m.totalLength
	c.lastDocID = m.lastDocID
	c.uuid = m.uuid
	c.revision = m.revision
	c.size = m.size
	return c
}

// Export satisfies Exporter.
func (m *MemoryIndex) Export() (*MemoryIndex, error) {
	return m.Clone(), nil
}

// Snapshot returns every term with its posting list, sorted by term, in the
// form segment writers consume.
func (m *MemoryIndex) Snapshot() []TermEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries := make([]TermEntry, 0, len(m.index))
	for term, tp := range m.index {
		entries = append(entries, TermEntry{
			Term:     term,
			Postings: tp.sorted(),
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Term < entries[j].Term
	})
	return entries
}

// Documents returns the stored documents keyed by docid. The documents are
// shared with the index and must not be modified.
func (m *MemoryIndex) Documents() map[DocID]*StoredDoc {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[DocID]*StoredDoc, len(m.docs))
	for did, doc := range m.docs {
		out[did] = doc
	}
	return out
}

// MetadataMap returns a copy of all metadata.
func (m *MemoryIndex) MetadataMap() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.metadata))
	for k, v := range m.metadata {
		out[k] = v
	}
	return out
}

// SynonymMap returns a copy of the synonym table with sorted entries.
func (m *MemoryIndex) SynonymMap() map[string][]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]string, len(m.synonyms))
	for k, set := range m.synonyms {
		out[k] = sortedKeys(set)
	}
	return out
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	uuid := m.uuid
	*m = MemoryIndex{
		index:      make(map[string]*termPostings),
		docs:       make(map[DocID]*StoredDoc),
		docIDs:     roaring.New(),
		docLengths: make(map[DocID]uint32),
		values:     make(map[Slot]map[DocID]string),
		metadata:   make(map[string]string),
		spellings:  make(map[string]uint32),
		synonyms:   make(map[string]map[string]struct{}),
		uuid:       uuid,
	}
}

func (tp *termPostings) sorted() PostingList {
	out := make(PostingList, 0, len(tp.entries))
	it := tp.docs.Iterator()
	for it.HasNext() {
		p := tp.entries[DocID(it.Next())]
		out = append(out, Posting{
			DocID:     p.DocID,
			WDF:       p.WDF,
			Positions: append([]uint32(nil), p.Positions...),
		})
	}
	return out
}

func (m *MemoryIndex) DocCount() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint32(len(m.docs))
}

func (m *MemoryIndex) LastDocID() DocID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastDocID
}

func (m *MemoryIndex) TotalLength() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalLength
}

func (m *MemoryIndex) TermFreq(term string) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tp, ok := m.index[term]
	if !ok {
		return 0, nil
	}
	return uint32(tp.docs.GetCardinality()), nil
}

func (m *MemoryIndex) CollectionFreq(term string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tp, ok := m.index[term]
	if !ok {
		return 0, nil
	}
	return tp.collFreq, nil
}

func (m *MemoryIndex) PostingList(term string) (PostingList, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tp, ok := m.index[term]
	if !ok {
		return nil, nil
	}
	return tp.sorted(), nil
}

func (m *MemoryIndex) AllTerms(prefix string) ([]TermStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TermStat, 0)
	for term, tp := range m.index {
		if !strings.HasPrefix(term, prefix) {
			continue
		}
		out = append(out, TermStat{
			Term:     term,
			TermFreq: uint32(tp.docs.GetCardinality()),
			CollFreq: tp.collFreq,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	return out, nil
}

func (m *MemoryIndex) DocIDs() (*roaring.Bitmap, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.docIDs.Clone(), nil
}

func (m *MemoryIndex) DocLength(did DocID) (uint32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.docLengths[did]
	if !ok {
		return 0, qerrors.Newf(qerrors.ErrDocumentNotFound, "document %d not found", did)
	}
	return l, nil
}

func (m *MemoryIndex) Document(did DocID) (*StoredDoc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[did]
	if !ok {
		return nil, qerrors.Newf(qerrors.ErrDocumentNotFound, "document %d not found", did)
	}
	return doc.Clone(), nil
}

func (m *MemoryIndex) ValueStream(slot Slot) ([]ValueEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stream := m.values[slot]
	out := make([]ValueEntry, 0, len(stream))
	for did, v := range stream {
		out = append(out, ValueEntry{DocID: did, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

func (m *MemoryIndex) ValueStats(slot Slot) (ValueStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return computeValueStats(m.values[slot]), nil
}

func computeValueStats(stream map[DocID]string) ValueStats {
	var st ValueStats
	for _, v := range stream {
		if st.Freq == 0 || v < st.Lower {
			st.Lower = v
		}
		if st.Freq == 0 || v > st.Upper {
			st.Upper = v
		}
		st.Freq++
	}
	return st
}

func (m *MemoryIndex) Metadata(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metadata[key], nil
}

func (m *MemoryIndex) MetadataKeys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0)
	for k := range m.metadata {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryIndex) SpellingWords() ([]WordFreq, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]WordFreq, 0, len(m.spellings))
	for w, f := range m.spellings {
		out = append(out, WordFreq{Word: w, Freq: f})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Word < out[j].Word })
	return out, nil
}

func (m *MemoryIndex) Synonyms(term string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.synonyms[term]), nil
}

func (m *MemoryIndex) SynonymKeys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0)
	for k := range m.synonyms {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryIndex) UUID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.uuid
}

func (m *MemoryIndex) Revision() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

func (m *MemoryIndex) Close() error { return nil }

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
