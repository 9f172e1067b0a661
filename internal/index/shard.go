// Package index holds the storage-facing building blocks of the engine: the
// posting and stored-document types, the Shard read contract every backend
// satisfies, the term and posting cursors handed to callers, and MemoryIndex,
// the mutable in-memory shard used for writes and the in-memory backend.
package index

import "github.com/RoaringBitmap/roaring/v2"

// Shard is a read view over one index segment. Implementations are the
// in-memory MemoryIndex and the on-disk segment reader.
type Shard interface {
	DocCount() uint32
	LastDocID() DocID
	TotalLength() uint64

	TermFreq(term string) (uint32, error)
	CollectionFreq(term string) (uint64, error)
	PostingList(term string) (PostingList, error)
	AllTerms(prefix string) ([]TermStat, error)

	DocIDs() (*roaring.Bitmap, error)
	DocLength(did DocID) (uint32, error)
	Document(did DocID) (*StoredDoc, error)

	ValueStream(slot Slot) ([]ValueEntry, error)
	ValueStats(slot Slot) (ValueStats, error)

	Metadata(key string) (string, error)
	MetadataKeys(prefix string) ([]string, error)
	SpellingWords() ([]WordFreq, error)
	Synonyms(term string) ([]string, error)
	SynonymKeys(prefix string) ([]string, error)

	UUID() string
	Revision() uint64
	Close() error
}

// Exporter is implemented by shards that can materialise their complete
// contents into a MemoryIndex. Compaction and writable opens depend on it.
type Exporter interface {
	Export() (*MemoryIndex, error)
}
