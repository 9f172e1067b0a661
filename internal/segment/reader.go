package segment

import (
	"encoding/binary"
	"encoding/json"
	"hash/crc32"
	"os"
	"sort"
	"strings"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

// Reader serves a segment as a read-only index.Shard. The dictionary and
// auxiliary section are loaded on open; posting lists and documents are read
// from the file on demand.
type Reader struct {
	file     *os.File
	filePath string
	base     int64
	header   Header
	dict     []DictEntry
	aux      auxSection
	docIdx   map[index.DocID]int
	docIDs   *roaring.Bitmap
}

// OpenReader opens the segment stored at the start of path.
func OpenReader(path string) (*Reader, error) {
	return OpenReaderAt(path, 0)
}

// OpenReaderAt opens a segment embedded in path at byte offset base.
func OpenReaderAt(path string, base int64) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrDatabaseOpening, err, "opening segment file "+path)
	}
	r, err := load(f, path, base)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// IsSegment reports whether a segment header is present at offset base of
// path.
func IsSegment(path string, base int64) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	b := make([]byte, 4)
	if _, err := f.ReadAt(b, base); err != nil {
		return false
	}
	return binary.LittleEndian.Uint32(b) == MagicBytes
}

func load(f *os.File, path string, base int64) (*Reader, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrDatabaseOpening, err, "stat segment file")
	}
	if base < 0 || base+int64(HeaderSize) > st.Size() {
		return nil, qerrors.Newf(qerrors.ErrDatabaseOpening, "no segment at offset %d of %s", base, path)
	}
	headerBytes := make([]byte, HeaderSize)
	if _, err := f.ReadAt(headerBytes, base); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrDatabaseOpening, err, "reading segment header")
	}
	h := decodeHeader(headerBytes)
	if h.Magic != MagicBytes {
		return nil, qerrors.Newf(qerrors.ErrDatabaseOpening, "invalid segment file: bad magic bytes %x", h.Magic)
	}
	if h.Version != FormatVersion {
		return nil, qerrors.Newf(qerrors.ErrDatabaseVersion, "segment format %d, expected %d", h.Version, FormatVersion)
	}
	end := base + h.AuxOffset + h.AuxSize + int64(FooterSize)
	if h.DictSize < 0 || h.AuxSize < 0 || end > st.Size() {
		return nil, qerrors.New(qerrors.ErrDatabaseCorrupt, "segment truncated")
	}

	dictBytes := make([]byte, h.DictSize)
	if _, err := f.ReadAt(dictBytes, base+h.DictOffset); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrDatabaseCorrupt, err, "reading dictionary")
	}
	auxBytes := make([]byte, h.AuxSize)
	if _, err := f.ReadAt(auxBytes, base+h.AuxOffset); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrDatabaseCorrupt, err, "reading auxiliary section")
	}
	footer := make([]byte, FooterSize)
	if _, err := f.ReadAt(footer, end-int64(FooterSize)); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrDatabaseCorrupt, err, "reading footer")
	}
	checksum := crc32.NewIEEE()
	checksum.Write(dictBytes)
	checksum.Write(auxBytes)
	if got, want := checksum.Sum32(), binary.LittleEndian.Uint32(footer[0:4]); got != want {
		return nil, qerrors.Newf(qerrors.ErrDatabaseCorrupt, "checksum mismatch: %08x != %08x", got, want)
	}

	r := &Reader{
		file:     f,
		filePath: path,
		base:     base,
		header:   h,
		docIdx:   make(map[index.DocID]int),
		docIDs:   roaring.New(),
	}
	if err := json.Unmarshal(dictBytes, &r.dict); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrDatabaseCorrupt, err, "parsing dictionary")
	}
	if err := json.Unmarshal(auxBytes, &r.aux); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrDatabaseCorrupt, err, "parsing auxiliary section")
	}
	for i, d := range r.aux.Docs {
		r.docIdx[d.DocID] = i
		r.docIDs.Add(uint32(d.DocID))
	}
	return r, nil
}

// Path is the file the segment was read from.
func (r *Reader) Path() string { return r.filePath }

// Size is the number of bytes the segment occupies, footer included.
func (r *Reader) Size() int64 {
	return r.header.AuxOffset + r.header.AuxSize + int64(FooterSize)
}

func (r *Reader) lookup(term string) (DictEntry, bool) {
	i := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= term
	})
	if i >= len(r.dict) || r.dict[i].Term != term {
		return DictEntry{}, false
	}
	return r.dict[i], true
}

func (r *Reader) DocCount() uint32       { return uint32(len(r.aux.Docs)) }
func (r *Reader) LastDocID() index.DocID { return r.aux.LastDocID }
func (r *Reader) TotalLength() uint64    { return r.aux.TotalLength }
func (r *Reader) UUID() string           { return r.aux.UUID }
func (r *Reader) Revision() uint64       { return r.aux.Revision }
func (r *Reader) Terms() int             { return len(r.dict) }

func (r *Reader) TermFreq(term string) (uint32, error) {
	e, ok := r.lookup(term)
	if !ok {
		return 0, nil
	}
	return e.DocFreq, nil
}

func (r *Reader) CollectionFreq(term string) (uint64, error) {
	e, ok := r.lookup(term)
	if !ok {
		return 0, nil
	}
	return e.CollFreq, nil
}

func (r *Reader) PostingList(term string) (index.PostingList, error) {
	e, ok := r.lookup(term)
	if !ok {
		return nil, nil
	}
	buf := make([]byte, e.PostLen)
	if _, err := r.file.ReadAt(buf, r.base+r.header.PostOffset+e.PostOffset); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrDatabaseCorrupt, err, "reading postings for "+term)
	}
	var postings index.PostingList
	if err := json.Unmarshal(buf, &postings); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrDatabaseCorrupt, err, "parsing postings for "+term)
	}
	return postings, nil
}

func (r *Reader) AllTerms(prefix string) ([]index.TermStat, error) {
	start := sort.Search(len(r.dict), func(i int) bool {
		return r.dict[i].Term >= prefix
	})
	out := make([]index.TermStat, 0)
	for _, e := range r.dict[start:] {
		if !strings.HasPrefix(e.Term, prefix) {
			break
		}
		out = append(out, index.TermStat{Term: e.Term, TermFreq: e.DocFreq, CollFreq: e.CollFreq})
	}
	return out, nil
}

func (r *Reader) DocIDs() (*roaring.Bitmap, error) {
	return r.docIDs.Clone(), nil
}

func (r *Reader) DocLength(did index.DocID) (uint32, error) {
	i, ok := r.docIdx[did]
	if !ok {
		return 0, qerrors.Newf(qerrors.ErrDocumentNotFound, "document %d not found", did)
	}
	return r.aux.Docs[i].Length, nil
}

func (r *Reader) Document(did index.DocID) (*index.StoredDoc, error) {
	i, ok := r.docIdx[did]
	if !ok {
		return nil, qerrors.Newf(qerrors.ErrDocumentNotFound, "document %d not found", did)
	}
	e := r.aux.Docs[i]
	buf := make([]byte, e.Len)
	if _, err := r.file.ReadAt(buf, r.base+r.header.DocsOffset+e.Offset); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrDatabaseCorrupt, err, "reading document")
	}
	var doc index.StoredDoc
	if err := json.Unmarshal(buf, &doc); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrDatabaseCorrupt, err, "parsing document")
	}
	return &doc, nil
}

func (r *Reader) ValueStream(slot index.Slot) ([]index.ValueEntry, error) {
	return append([]index.ValueEntry(nil), r.aux.Values[slot]...), nil
}

func (r *Reader) ValueStats(slot index.Slot) (index.ValueStats, error) {
	var st index.ValueStats
	for _, e := range r.aux.Values[slot] {
		if st.Freq == 0 || e.Value < st.Lower {
			st.Lower = e.Value
		}
		if st.Freq == 0 || e.Value > st.Upper {
			st.Upper = e.Value
		}
		st.Freq++
	}
	return st, nil
}

func (r *Reader) Metadata(key string) (string, error) {
	return r.aux.Metadata[key], nil
}

func (r *Reader) MetadataKeys(prefix string) ([]string, error) {
	return prefixedKeys(r.aux.Metadata, prefix), nil
}

func (r *Reader) SpellingWords() ([]index.WordFreq, error) {
	return append([]index.WordFreq(nil), r.aux.Spellings...), nil
}

func (r *Reader) Synonyms(term string) ([]string, error) {
	return append([]string(nil), r.aux.Synonyms[term]...), nil
}

func (r *Reader) SynonymKeys(prefix string) ([]string, error) {
	return prefixedKeys(r.aux.Synonyms, prefix), nil
}

// Export rebuilds the whole segment as a mutable in-memory shard.
func (r *Reader) Export() (*index.MemoryIndex, error) {
	mi := index.NewMemoryIndex()
	for _, e := range r.aux.Docs {
		doc, err := r.Document(e.DocID)
		if err != nil {
			return nil, err
		}
		mi.AddDocument(e.DocID, doc)
	}
	for k, v := range r.aux.Metadata {
		mi.SetMetadata(k, v)
	}
	for _, wf := range r.aux.Spellings {
		mi.AddSpelling(wf.Word, wf.Freq)
	}
	for term, syns := range r.aux.Synonyms {
		for _, s := range syns {
			mi.AddSynonym(term, s)
		}
	}
	mi.SetUUID(r.aux.UUID)
	mi.SetLastDocID(r.aux.LastDocID)
	mi.SetRevision(r.aux.Revision)
	return mi, nil
}

func (r *Reader) Close() error {
	return r.file.Close()
}

func prefixedKeys[V any](m map[string]V, prefix string) []string {
	out := make([]string, 0)
	for k := range m {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
