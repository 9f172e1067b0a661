// Package database opens indexes for reading and writing. A Database is a
// logical view over one or more shards (in-memory, segment directories,
// single-file segments or stub files listing other databases); statistics
// are summed across shards and docids are used as stored, never renumbered.
package database

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/document"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/segment"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/logger"
)

type shardKind int

const (
	kindMemory shardKind = iota
	kindDirectory
	kindFile
	kindWritable
)

// shardHandle owns one open shard. Handles are shared between databases
// combined with AddDatabase and reference counted so that the last owner
// closes the shard.
type shardHandle struct {
	mu     sync.Mutex
	kind   shardKind
	path   string
	offset int64
	shard  index.Shard
	refs   int
}

func (h *shardHandle) current() index.Shard {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shard
}

func (h *shardHandle) reopen() (bool, error) {
	if h.kind != kindDirectory {
		return false, nil
	}
	m, err := readManifest(h.path)
	if err != nil {
		return false, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if m.Revision == h.shard.Revision() {
		return false, nil
	}
	next, err := openSegmentShard(h.path, m)
	if err != nil {
		return false, err
	}
	old := h.shard
	h.shard = next
	return true, old.Close()
}

func (h *shardHandle) release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refs--
	if h.refs > 0 {
		return nil
	}
	return h.shard.Close()
}

// Database is a read-only view over one or more shards. Reads are safe for
// concurrent use; Reopen and AddDatabase may run concurrently with them.
// After Close, error-returning methods fail with ErrDatabase and the
// infallible statistics accessors panic.
type Database struct {
	mu      sync.RWMutex
	handles []*shardHandle
	closed  bool
	logger  *slog.Logger
}

func newDatabase(handles ...*shardHandle) *Database {
	return &Database{
		handles: handles,
		logger:  logger.WithComponent("database"),
	}
}

// Open opens the database at path. An empty path gives an empty in-memory
// database.
func Open(path string, flags Flags) (*Database, error) {
	return OpenAt(path, flags, 0)
}

// OpenAt opens a single-file database whose segment starts at byte offset
// within path.
func OpenAt(path string, flags Flags, offset int64) (*Database, error) {
	handles, err := openHandles(path, flags, offset, 0)
	if err != nil {
		return nil, err
	}
	db := newDatabase(handles...)
	db.logCapabilities(flags)
	db.logger.Debug("database opened", "path", path, "shards", len(handles))
	return db, nil
}

func (db *Database) logCapabilities(flags Flags) {
	if flags.has(Dangerous) {
		db.logger.Debug("dangerous mode requested; segments are always written afresh")
	}
	if flags.has(NoTermlist) {
		db.logger.Debug("no-termlist requested; term lists are kept for replacement")
	}
}

const maxStubDepth = 8

func openHandles(path string, flags Flags, offset int64, depth int) ([]*shardHandle, error) {
	if depth > maxStubDepth {
		return nil, qerrors.Newf(qerrors.ErrDatabaseOpening, "stub files nested too deeply at %s", path)
	}
	backend := flags.backend()
	if path == "" || backend == BackendInMemory {
		return []*shardHandle{{kind: kindMemory, shard: index.NewMemoryIndex(), refs: 1}}, nil
	}
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, qerrors.Newf(qerrors.ErrDatabaseOpening, "no database at %s", path)
		}
		return nil, qerrors.Wrap(qerrors.ErrDatabaseOpening, err, "stat "+path)
	}

	switch {
	case st.IsDir():
		if backend == BackendStub {
			return nil, qerrors.Newf(qerrors.ErrDatabaseOpening, "%s is a directory, not a stub file", path)
		}
		m, err := readManifest(path)
		if err != nil {
			return nil, err
		}
		shard, err := openSegmentShard(path, m)
		if err != nil {
			return nil, err
		}
		return []*shardHandle{{kind: kindDirectory, path: path, shard: shard, refs: 1}}, nil
	case backend != BackendStub && segment.IsSegment(path, offset):
		r, err := segment.OpenReaderAt(path, offset)
		if err != nil {
			return nil, err
		}
		return []*shardHandle{{kind: kindFile, path: path, offset: offset, shard: r, refs: 1}}, nil
	case backend == BackendDirectory:
		return nil, qerrors.Newf(qerrors.ErrDatabaseOpening, "%s is not a database directory", path)
	case offset != 0:
		return nil, qerrors.Newf(qerrors.ErrDatabaseOpening, "no segment at offset %d of %s", offset, path)
	default:
		return openStub(path, flags, depth)
	}
}

func openSegmentShard(dir string, m *manifest) (index.Shard, error) {
	if m.Segment == "" {
		mi := index.NewMemoryIndex()
		mi.SetUUID(m.UUID)
		mi.SetRevision(m.Revision)
		return mi, nil
	}
	return segment.OpenReader(filepath.Join(dir, m.Segment))
}

// Close releases every shard. Documents already fetched stay usable.
func (db *Database) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true
	var result *multierror.Error
	for _, h := range db.handles {
		if err := h.release(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	db.handles = nil
	return result.ErrorOrNil()
}

// Reopen moves every shard to its latest committed revision and reports
// whether anything changed.
func (db *Database) Reopen() (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return false, closedError()
	}
	changed := false
	for _, h := range db.handles {
		c, err := h.reopen()
		if err != nil {
			return changed, err
		}
		changed = changed || c
	}
	if changed {
		db.logger.Info("database reopened", "revision", db.revisionLocked())
	}
	return changed, nil
}

// AddDatabase extends the view with other's shards. Adding the database to
// itself, or a shard that is already part of the view, is a no-op.
func (db *Database) AddDatabase(other *Database) {
	if other == db {
		db.logger.Debug("ignoring attempt to add a database to itself")
		return
	}
	other.mu.RLock()
	incoming := append([]*shardHandle(nil), other.handles...)
	other.mu.RUnlock()

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		panic(closedError())
	}
	for _, h := range incoming {
		if db.contains(h) {
			db.logger.Debug("shard already part of database, skipping", "path", h.path)
			continue
		}
		h.mu.Lock()
		h.refs++
		h.mu.Unlock()
		db.handles = append(db.handles, h)
	}
}

func (db *Database) contains(h *shardHandle) bool {
	for _, existing := range db.handles {
		if existing == h {
			return true
		}
	}
	return false
}

// Shards is the number of shards in the view.
func (db *Database) Shards() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.handles)
}

// View runs fn with the current shards while holding the view stable: a
// concurrent Reopen waits until fn returns. fn must not call back into db.
func (db *Database) View(fn func(shards []index.Shard) error) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return closedError()
	}
	return fn(db.currentLocked())
}

func (db *Database) currentLocked() []index.Shard {
	shards := make([]index.Shard, len(db.handles))
	for i, h := range db.handles {
		shards[i] = h.current()
	}
	return shards
}

func (db *Database) shards() ([]index.Shard, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, closedError()
	}
	return db.currentLocked(), nil
}

func (db *Database) mustShards() []index.Shard {
	shards, err := db.shards()
	if err != nil {
		panic(err)
	}
	return shards
}

func closedError() *qerrors.Error {
	return qerrors.New(qerrors.ErrDatabase, "database has been closed")
}

func (db *Database) DocCount() uint32 {
	var n uint32
	for _, s := range db.mustShards() {
		n += s.DocCount()
	}
	return n
}

// LastDocID is the highest docid ever assigned in any shard.
func (db *Database) LastDocID() index.DocID {
	var last index.DocID
	for _, s := range db.mustShards() {
		if l := s.LastDocID(); l > last {
			last = l
		}
	}
	return last
}

func (db *Database) TotalLength() uint64 {
	var n uint64
	for _, s := range db.mustShards() {
		n += s.TotalLength()
	}
	return n
}

// AvgLength is the mean document length, or 0 for an empty database.
func (db *Database) AvgLength() float64 {
	docs := db.DocCount()
	if docs == 0 {
		return 0
	}
	return float64(db.TotalLength()) / float64(docs)
}

// UUID identifies the database. A federated view joins the shard UUIDs with
// ':'; an in-memory database has an empty UUID until first modified.
func (db *Database) UUID() string {
	shards := db.mustShards()
	ids := make([]string, 0, len(shards))
	for _, s := range shards {
		ids = append(ids, s.UUID())
	}
	if len(ids) == 1 {
		return ids[0]
	}
	return strings.Join(ids, ":")
}

// Revision increases whenever any shard commits. For a single shard it is
// that shard's commit counter.
func (db *Database) Revision() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		panic(closedError())
	}
	return db.revisionLocked()
}

func (db *Database) revisionLocked() uint64 {
	var rev uint64
	for _, h := range db.handles {
		rev += h.current().Revision()
	}
	return rev
}

func (db *Database) TermFreq(term string) (uint32, error) {
	shards, err := db.shards()
	if err != nil {
		return 0, err
	}
	var n uint32
	for _, s := range shards {
		tf, err := s.TermFreq(term)
		if err != nil {
			return 0, err
		}
		n += tf
	}
	return n, nil
}

func (db *Database) CollectionFreq(term string) (uint64, error) {
	shards, err := db.shards()
	if err != nil {
		return 0, err
	}
	var n uint64
	for _, s := range shards {
		cf, err := s.CollectionFreq(term)
		if err != nil {
			return 0, err
		}
		n += cf
	}
	return n, nil
}

// TermExists reports whether any document is indexed by term.
func (db *Database) TermExists(term string) (bool, error) {
	tf, err := db.TermFreq(term)
	return tf > 0, err
}

func checkDocID(did index.DocID) error {
	if did == 0 {
		return qerrors.New(qerrors.ErrInvalidArgument, "docid 0 is invalid")
	}
	return nil
}

// storedDoc finds did in the first shard that holds it.
func storedDoc(shards []index.Shard, did index.DocID) (*index.StoredDoc, error) {
	for _, s := range shards {
		doc, err := s.Document(did)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, qerrors.ErrDocumentNotFound) {
			return nil, err
		}
	}
	return nil, qerrors.Newf(qerrors.ErrDocumentNotFound, "document %d not found", did)
}

// Document fetches an independent copy of document did.
func (db *Database) Document(did index.DocID) (*document.Document, error) {
	if err := checkDocID(did); err != nil {
		return nil, err
	}
	shards, err := db.shards()
	if err != nil {
		return nil, err
	}
	sd, err := storedDoc(shards, did)
	if err != nil {
		return nil, err
	}
	return document.FromStored(did, sd), nil
}

func (db *Database) DocLength(did index.DocID) (uint32, error) {
	if err := checkDocID(did); err != nil {
		return 0, err
	}
	shards, err := db.shards()
	if err != nil {
		return 0, err
	}
	return docLength(shards, did)
}

func docLength(shards []index.Shard, did index.DocID) (uint32, error) {
	for _, s := range shards {
		l, err := s.DocLength(did)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, qerrors.ErrDocumentNotFound) {
			return 0, err
		}
	}
	return 0, qerrors.Newf(qerrors.ErrDocumentNotFound, "document %d not found", did)
}

// TermList returns a cursor over the terms of document did, with
// database-wide term frequencies.
func (db *Database) TermList(did index.DocID) (*index.TermIterator, error) {
	if err := checkDocID(did); err != nil {
		return nil, err
	}
	shards, err := db.shards()
	if err != nil {
		return nil, err
	}
	sd, err := storedDoc(shards, did)
	if err != nil {
		return nil, err
	}
	items := make([]index.TermItem, 0, len(sd.Terms))
	for _, t := range sd.Terms {
		var tf uint32
		for _, s := range shards {
			n, err := s.TermFreq(t.Term)
			if err != nil {
				return nil, err
			}
			tf += n
		}
		items = append(items, index.TermItem{Term: t.Term, WDF: t.WDF, TermFreq: tf, Positions: t.Positions})
	}
	return index.NewTermIterator(items), nil
}

// AllTerms enumerates every term starting with prefix. Each call returns a
// fresh cursor.
func (db *Database) AllTerms(prefix string) (*index.TermIterator, error) {
	shards, err := db.shards()
	if err != nil {
		return nil, err
	}
	stats, err := MergedTerms(shards, prefix)
	if err != nil {
		return nil, err
	}
	items := make([]index.TermItem, len(stats))
	for i, st := range stats {
		items[i] = index.TermItem{Term: st.Term, TermFreq: st.TermFreq}
	}
	return index.NewTermIterator(items), nil
}

// MergedTerms combines the term statistics of several shards, sorted by term.
func MergedTerms(shards []index.Shard, prefix string) ([]index.TermStat, error) {
	merged := make(map[string]*index.TermStat)
	for _, s := range shards {
		stats, err := s.AllTerms(prefix)
		if err != nil {
			return nil, err
		}
		for _, st := range stats {
			if m, ok := merged[st.Term]; ok {
				m.TermFreq += st.TermFreq
				m.CollFreq += st.CollFreq
				continue
			}
			cp := st
			merged[st.Term] = &cp
		}
	}
	out := make([]index.TermStat, 0, len(merged))
	for _, st := range merged {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Term < out[j].Term })
	return out, nil
}

// PostingList returns a cursor over the documents indexed by term. When
// shards share a docid the first shard's posting wins.
func (db *Database) PostingList(term string) (*index.PostingIterator, error) {
	shards, err := db.shards()
	if err != nil {
		return nil, err
	}
	var merged index.PostingList
	seen := make(map[index.DocID]struct{})
	for _, s := range shards {
		pl, err := s.PostingList(term)
		if err != nil {
			return nil, err
		}
		for _, p := range pl {
			if _, dup := seen[p.DocID]; dup {
				continue
			}
			seen[p.DocID] = struct{}{}
			merged = append(merged, p)
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].DocID < merged[j].DocID })
	return index.NewPostingIterator(merged, func(did index.DocID) (uint32, error) {
		return docLength(shards, did)
	}), nil
}

func (db *Database) valueStats(slot index.Slot) (index.ValueStats, error) {
	shards, err := db.shards()
	if err != nil {
		return index.ValueStats{}, err
	}
	var out index.ValueStats
	for _, s := range shards {
		st, err := s.ValueStats(slot)
		if err != nil {
			return index.ValueStats{}, err
		}
		if st.Freq == 0 {
			continue
		}
		if out.Freq == 0 || st.Lower < out.Lower {
			out.Lower = st.Lower
		}
		if out.Freq == 0 || st.Upper > out.Upper {
			out.Upper = st.Upper
		}
		out.Freq += st.Freq
	}
	return out, nil
}

// ValueFreq is the number of documents with a value in slot.
func (db *Database) ValueFreq(slot index.Slot) (uint32, error) {
	st, err := db.valueStats(slot)
	return st.Freq, err
}

// ValueLowerBound is the smallest value stored in slot, or "" when unused.
func (db *Database) ValueLowerBound(slot index.Slot) (string, error) {
	st, err := db.valueStats(slot)
	return st.Lower, err
}

// ValueUpperBound is the largest value stored in slot, or "" when unused.
func (db *Database) ValueUpperBound(slot index.Slot) (string, error) {
	st, err := db.valueStats(slot)
	return st.Upper, err
}

// Metadata returns the value stored under key in the first shard that has
// one, or "".
func (db *Database) Metadata(key string) (string, error) {
	if key == "" {
		return "", qerrors.New(qerrors.ErrInvalidArgument, "empty metadata key")
	}
	shards, err := db.shards()
	if err != nil {
		return "", err
	}
	for _, s := range shards {
		v, err := s.Metadata(key)
		if err != nil {
			return "", err
		}
		if v != "" {
			return v, nil
		}
	}
	return "", nil
}

func (db *Database) MetadataKeys(prefix string) ([]string, error) {
	shards, err := db.shards()
	if err != nil {
		return nil, err
	}
	return unionStrings(shards, func(s index.Shard) ([]string, error) {
		return s.MetadataKeys(prefix)
	})
}

// Synonyms returns the synonyms recorded for term across all shards.
func (db *Database) Synonyms(term string) ([]string, error) {
	shards, err := db.shards()
	if err != nil {
		return nil, err
	}
	return unionStrings(shards, func(s index.Shard) ([]string, error) {
		return s.Synonyms(term)
	})
}

func (db *Database) SynonymKeys(prefix string) ([]string, error) {
	shards, err := db.shards()
	if err != nil {
		return nil, err
	}
	return unionStrings(shards, func(s index.Shard) ([]string, error) {
		return s.SynonymKeys(prefix)
	})
}

func unionStrings(shards []index.Shard, get func(index.Shard) ([]string, error)) ([]string, error) {
	set := make(map[string]struct{})
	for _, s := range shards {
		vals, err := get(s)
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			set[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}
