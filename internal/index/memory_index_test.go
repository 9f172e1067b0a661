package index

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

func sampleDoc(data string, terms ...string) *StoredDoc {
	doc := &StoredDoc{Data: data}
	for i, t := range terms {
		doc.Terms = append(doc.Terms, DocTerm{Term: t, WDF: 1, Positions: []uint32{uint32(i + 1)}})
	}
	return doc
}

func TestMemoryIndexAddAndStats(t *testing.T) {
	mi := NewMemoryIndex()
	mi.AddDocument(1, sampleDoc("one", "search", "engine"))
	mi.AddDocument(3, sampleDoc("three", "search", "query", "query"))

	assert.Equal(t, uint32(2), mi.DocCount())
	assert.Equal(t, DocID(3), mi.LastDocID())
	assert.Equal(t, uint64(5), mi.TotalLength())

	tf, err := mi.TermFreq("search")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), tf)

	cf, err := mi.CollectionFreq("query")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cf)

	pl, err := mi.PostingList("search")
	require.NoError(t, err)
	require.Len(t, pl, 2)
	assert.Equal(t, DocID(1), pl[0].DocID)
	assert.Equal(t, DocID(3), pl[1].DocID)

	missing, err := mi.PostingList("absent")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestMemoryIndexReplaceAndDelete(t *testing.T) {
	mi := NewMemoryIndex()
	mi.AddDocument(1, sampleDoc("a", "alpha", "beta"))
	mi.AddDocument(1, sampleDoc("b", "gamma"))

	tf, _ := mi.TermFreq("alpha")
	assert.Zero(t, tf)
	doc, err := mi.Document(1)
	require.NoError(t, err)
	assert.Equal(t, "b", doc.Data)
	assert.Equal(t, uint64(1), mi.TotalLength())

	assert.True(t, mi.DeleteDocument(1))
	assert.False(t, mi.DeleteDocument(1))
	assert.Zero(t, mi.DocCount())
	assert.Equal(t, DocID(1), mi.LastDocID(), "deleting must not lower the high-water mark")

	_, err = mi.Document(1)
	assert.ErrorIs(t, err, qerrors.ErrDocumentNotFound)
	_, err = mi.DocLength(1)
	assert.ErrorIs(t, err, qerrors.ErrDocumentNotFound)
}

func TestMemoryIndexValues(t *testing.T) {
	mi := NewMemoryIndex()
	mi.AddDocument(1, &StoredDoc{Values: map[Slot]string{0: "m", 1: "x"}})
	mi.AddDocument(2, &StoredDoc{Values: map[Slot]string{0: "c"}})
	mi.AddDocument(3, &StoredDoc{Values: map[Slot]string{0: "t"}})

	st, err := mi.ValueStats(0)
	require.NoError(t, err)
	assert.Equal(t, ValueStats{Freq: 3, Lower: "c", Upper: "t"}, st)

	stream, err := mi.ValueStream(0)
	require.NoError(t, err)
	assert.Equal(t, []ValueEntry{{1, "m"}, {2, "c"}, {3, "t"}}, stream)

	mi.DeleteDocument(1)
	st, _ = mi.ValueStats(1)
	assert.Zero(t, st.Freq)
}

func TestMemoryIndexAuxiliaryTables(t *testing.T) {
	mi := NewMemoryIndex()
	mi.SetMetadata("owner", "ops")
	mi.SetMetadata("ownership", "x")
	mi.SetMetadata("ownership", "")
	keys, _ := mi.MetadataKeys("own")
	assert.Equal(t, []string{"owner"}, keys)

	mi.AddSpelling("search", 2)
	mi.RemoveSpelling("search", 1)
	mi.AddSpelling("engine", 1)
	mi.RemoveSpelling("engine", 5)
	words, _ := mi.SpellingWords()
	assert.Equal(t, []WordFreq{{Word: "search", Freq: 1}}, words)

	mi.AddSynonym("car", "automobile")
	mi.AddSynonym("car", "auto")
	mi.AddSynonym("cat", "feline")
	syns, _ := mi.Synonyms("car")
	assert.Equal(t, []string{"auto", "automobile"}, syns)
	mi.RemoveSynonym("cat", "feline")
	skeys, _ := mi.SynonymKeys("ca")
	assert.Equal(t, []string{"car"}, skeys)
	mi.ClearSynonyms("car")
	syns, _ = mi.Synonyms("car")
	assert.Empty(t, syns)
}

func TestMemoryIndexCloneIsIndependent(t *testing.T) {
	mi := NewMemoryIndex()
	mi.AddDocument(1, sampleDoc("one", "search"))
	mi.SetMetadata("k", "v")

	c := mi.Clone()
	c.AddDocument(2, sampleDoc("two", "search"))
	c.SetMetadata("k", "")

	assert.Equal(t, uint32(1), mi.DocCount())
	v, _ := mi.Metadata("k")
	assert.Equal(t, "v", v)
	tf, _ := c.TermFreq("search")
	assert.Equal(t, uint32(2), tf)
}

func TestMemoryIndexSnapshotSorted(t *testing.T) {
	mi := NewMemoryIndex()
	mi.AddDocument(2, sampleDoc("", "zeta", "alpha"))
	mi.AddDocument(1, sampleDoc("", "alpha"))

	snap := mi.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "alpha", snap[0].Term)
	assert.Equal(t, DocID(1), snap[0].Postings[0].DocID)
	assert.Equal(t, DocID(2), snap[0].Postings[1].DocID)

	terms, _ := mi.AllTerms("")
	assert.Equal(t, "alpha", terms[0].Term)
	assert.Equal(t, uint32(2), terms[0].TermFreq)
}

func TestTermIteratorStates(t *testing.T) {
	it := NewTermIterator([]TermItem{{Term: "a"}, {Term: "c"}, {Term: "e"}})
	assert.False(t, it.Valid())
	assert.Panics(t, func() { it.Term() })

	require.True(t, it.SkipTo("b"))
	assert.Equal(t, "c", it.Term())
	require.True(t, it.Next())
	assert.Equal(t, "e", it.Term())
	assert.False(t, it.Next())
	assert.False(t, it.Valid())
	assert.Panics(t, func() { it.Prev() })

	back := it.Clone()
	require.True(t, back.Prev())
	assert.Equal(t, "e", back.Term())
	assert.Panics(t, func() { back.Next() })
}

func TestPostingIteratorSkipTo(t *testing.T) {
	pl := PostingList{{DocID: 2, WDF: 1}, {DocID: 5, WDF: 3}, {DocID: 9, WDF: 1}}
	it := NewPostingIterator(pl, func(did DocID) (uint32, error) { return uint32(did) * 10, nil })
	assert.Equal(t, uint32(3), it.TermFreq())
	require.True(t, it.SkipTo(3))
	assert.Equal(t, DocID(5), it.DocID())
	assert.Equal(t, uint32(3), it.WDF())
	l, err := it.DocLength()
	require.NoError(t, err)
	assert.Equal(t, uint32(50), l)
	assert.True(t, it.SkipTo(5), "skipping to the current docid stays put")
	assert.False(t, it.SkipTo(10))
}

func BenchmarkMemoryIndexAdd(b *testing.B) {
	mi := NewMemoryIndex()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mi.AddDocument(DocID(i+1), sampleDoc("benchmark", "this", "is", "a", "benchmark", "document"))
	}
}

func BenchmarkMemoryIndexSnapshot(b *testing.B) {
	mi := NewMemoryIndex()
	for i := 0; i < 5000; i++ {
		mi.AddDocument(DocID(i+1), sampleDoc(fmt.Sprintf("doc-%d", i), "snapshot", "benchmark", "terms"))
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = mi.Snapshot()
	}
}
