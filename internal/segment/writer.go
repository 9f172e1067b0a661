// Package segment persists a complete shard as one immutable file: a fixed
// header, JSON-encoded posting lists and documents, a term dictionary and an
// auxiliary section holding values, metadata, spellings and synonyms. A
// segment may start at a non-zero offset of a larger file.
package segment

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
)

const (
	MagicBytes    uint32 = 0x51534547
	FormatVersion uint32 = 2
	HeaderSize    int    = 96
	FooterSize    int    = 16
	Extension            = ".qseg"
)

// Header is the fixed-size block at the start of every segment. Offsets are
// relative to the start of the segment, not of the containing file.
type Header struct {
	Magic      uint32
	Version    uint32
	TermCount  uint32
	DocCount   uint32
	CreatedAt  int64
	DictOffset int64
	DictSize   int64
	PostOffset int64
	PostSize   int64
	DocsOffset int64
	DocsSize   int64
	AuxOffset  int64
	AuxSize    int64
}

// DictEntry locates one term's posting list.
type DictEntry struct {
	Term       string `json:"t"`
	PostOffset int64  `json:"o"`
	PostLen    int    `json:"l"`
	DocFreq    uint32 `json:"d"`
	CollFreq   uint64 `json:"c"`
}

// DocEntry locates one stored document.
type DocEntry struct {
	DocID  index.DocID `json:"d"`
	Offset int64       `json:"o"`
	Len    int         `json:"l"`
	Length uint32      `json:"n"`
}

type auxSection struct {
	UUID        string                            `json:"uuid"`
	Revision    uint64                            `json:"rev"`
	LastDocID   index.DocID                       `json:"last"`
	TotalLength uint64                            `json:"total"`
	Docs        []DocEntry                        `json:"docs"`
	Values      map[index.Slot][]index.ValueEntry `json:"values,omitempty"`
	Metadata    map[string]string                 `json:"meta,omitempty"`
	Spellings   []index.WordFreq                  `json:"spell,omitempty"`
	Synonyms    map[string][]string               `json:"syn,omitempty"`
}

// Writer serialises shards into segment files inside one directory.
type Writer struct {
	dataDir string
	sync    bool
}

// NewWriter creates a Writer for dataDir. When sync is false segment files
// are not fsynced before being renamed into place.
func NewWriter(dataDir string, sync bool) *Writer {
	return &Writer{dataDir: dataDir, sync: sync}
}

// Write stores src as dataDir/name atomically: it writes a .tmp file and
// renames it on success. It returns the full path of the new segment.
func (w *Writer) Write(name string, src *index.MemoryIndex) (string, error) {
	finalPath := filepath.Join(w.dataDir, name)
	tmpPath := finalPath + ".tmp"

	if err := os.MkdirAll(w.dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating segment directory: %w", err)
	}
	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("creating temp segment file: %w", err)
	}
	defer f.Close()

	if _, err := Encode(f, src); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if w.sync {
		if err := f.Sync(); err != nil {
			return "", fmt.Errorf("syncing segment file: %w", err)
		}
	}
	f.Close()
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return "", fmt.Errorf("renaming segment file: %w", err)
	}
	return finalPath, nil
}

// Encode writes src as a segment to w and returns the number of bytes
// written. The sections are assembled in memory first so that the header
// can be emitted before them, which keeps w append-only.
func Encode(w io.Writer, src *index.MemoryIndex) (int64, error) {
	entries := src.Snapshot()

	var postings bytes.Buffer
	dict := make([]DictEntry, 0, len(entries))
	for _, entry := range entries {
		data, err := json.Marshal(entry.Postings)
		if err != nil {
			return 0, fmt.Errorf("marshaling postings for term %q: %w", entry.Term, err)
		}
		var cf uint64
		for _, p := range entry.Postings {
			cf += uint64(p.WDF)
		}
		dict = append(dict, DictEntry{
			Term:       entry.Term,
			PostOffset: int64(postings.Len()),
			PostLen:    len(data),
			DocFreq:    uint32(len(entry.Postings)),
			CollFreq:   cf,
		})
		postings.Write(data)
	}

	docIDs, _ := src.DocIDs()
	docs := src.Documents()
	var docBuf bytes.Buffer
	aux := auxSection{
		UUID:        src.UUID(),
		Revision:    src.Revision(),
		LastDocID:   src.LastDocID(),
		TotalLength: src.TotalLength(),
		Docs:        make([]DocEntry, 0, len(docs)),
		Values:      make(map[index.Slot][]index.ValueEntry),
		Metadata:    src.MetadataMap(),
		Synonyms:    src.SynonymMap(),
	}
	it := docIDs.Iterator()
	for it.HasNext() {
		did := index.DocID(it.Next())
		doc := docs[did]
		data, err := json.Marshal(doc)
		if err != nil {
			return 0, fmt.Errorf("marshaling document %d: %w", did, err)
		}
		aux.Docs = append(aux.Docs, DocEntry{
			DocID:  did,
			Offset: int64(docBuf.Len()),
			Len:    len(data),
			Length: doc.Length(),
		})
		docBuf.Write(data)
		for slot, v := range doc.Values {
			aux.Values[slot] = append(aux.Values[slot], index.ValueEntry{DocID: did, Value: v})
		}
	}
	aux.Spellings, _ = src.SpellingWords()

	dictData, err := json.Marshal(dict)
	if err != nil {
		return 0, fmt.Errorf("marshaling dictionary: %w", err)
	}
	auxData, err := json.Marshal(aux)
	if err != nil {
		return 0, fmt.Errorf("marshaling auxiliary section: %w", err)
	}

	h := Header{
		Magic:      MagicBytes,
		Version:    FormatVersion,
		TermCount:  uint32(len(dict)),
		DocCount:   uint32(len(aux.Docs)),
		CreatedAt:  time.Now().Unix(),
		PostOffset: int64(HeaderSize),
		PostSize:   int64(postings.Len()),
	}
	h.DocsOffset = h.PostOffset + h.PostSize
	h.DocsSize = int64(docBuf.Len())
	h.DictOffset = h.DocsOffset + h.DocsSize
	h.DictSize = int64(len(dictData))
	h.AuxOffset = h.DictOffset + h.DictSize
	h.AuxSize = int64(len(auxData))
	total := h.AuxOffset + h.AuxSize + int64(FooterSize)

	checksum := crc32.NewIEEE()
	checksum.Write(dictData)
	checksum.Write(auxData)
	footer := make([]byte, FooterSize)
	binary.LittleEndian.PutUint32(footer[0:4], checksum.Sum32())
	binary.LittleEndian.PutUint32(footer[4:8], h.DocCount)
	binary.LittleEndian.PutUint64(footer[8:16], uint64(total))

	var written int64
	for _, part := range [][]byte{encodeHeader(h), postings.Bytes(), docBuf.Bytes(), dictData, auxData, footer} {
		n, err := w.Write(part)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("writing segment: %w", err)
		}
	}
	return written, nil
}

func encodeHeader(h Header) []byte {
	b := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(b[0:4], h.Magic)
	binary.LittleEndian.PutUint32(b[4:8], h.Version)
	binary.LittleEndian.PutUint32(b[8:12], h.TermCount)
	binary.LittleEndian.PutUint32(b[12:16], h.DocCount)
	binary.LittleEndian.PutUint64(b[16:24], uint64(h.CreatedAt))
	binary.LittleEndian.PutUint64(b[24:32], uint64(h.DictOffset))
	binary.LittleEndian.PutUint64(b[32:40], uint64(h.DictSize))
	binary.LittleEndian.PutUint64(b[40:48], uint64(h.PostOffset))
	binary.LittleEndian.PutUint64(b[48:56], uint64(h.PostSize))
	binary.LittleEndian.PutUint64(b[56:64], uint64(h.DocsOffset))
	binary.LittleEndian.PutUint64(b[64:72], uint64(h.DocsSize))
	binary.LittleEndian.PutUint64(b[72:80], uint64(h.AuxOffset))
	binary.LittleEndian.PutUint64(b[80:88], uint64(h.AuxSize))
	return b
}

func decodeHeader(b []byte) Header {
	return Header{
		Magic:      binary.LittleEndian.Uint32(b[0:4]),
		Version:    binary.LittleEndian.Uint32(b[4:8]),
		TermCount:  binary.LittleEndian.Uint32(b[8:12]),
		DocCount:   binary.LittleEndian.Uint32(b[12:16]),
		CreatedAt:  int64(binary.LittleEndian.Uint64(b[16:24])),
		DictOffset: int64(binary.LittleEndian.Uint64(b[24:32])),
		DictSize:   int64(binary.LittleEndian.Uint64(b[32:40])),
		PostOffset: int64(binary.LittleEndian.Uint64(b[40:48])),
		PostSize:   int64(binary.LittleEndian.Uint64(b[48:56])),
		DocsOffset: int64(binary.LittleEndian.Uint64(b[56:64])),
		DocsSize:   int64(binary.LittleEndian.Uint64(b[64:72])),
		AuxOffset:  int64(binary.LittleEndian.Uint64(b[72:80])),
		AuxSize:    int64(binary.LittleEndian.Uint64(b[80:88])),
	}
}
