package database

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/document"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/segment"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

type transaction struct {
	flushed    bool
	checkpoint *index.MemoryIndex
	pending    int
}

// WritableDatabase stages modifications in memory and makes them durable on
// Commit by writing a new segment and switching the manifest to it. A
// handle must be used by one writer at a time; reads through the embedded
// Database see uncommitted changes.
type WritableDatabase struct {
	*Database
	dir     string
	flags   Flags
	lock    *writeLock
	staging *index.MemoryIndex
	handle  *shardHandle
	pending int
	txn     *transaction
}

// OpenWritable opens or creates the database directory at path according
// to action. An empty path gives a writable in-memory database.
func OpenWritable(path string, action Action, flags Flags) (*WritableDatabase, error) {
	switch flags.backend() {
	case BackendStub:
		return nil, qerrors.New(qerrors.ErrFeatureUnavailable, "stub databases cannot be opened for writing")
	case BackendInMemory:
		path = ""
	}
	if path == "" {
		return newWritable("", flags, nil, index.NewMemoryIndex()), nil
	}

	exists, err := databaseExists(path)
	if err != nil {
		return nil, err
	}
	switch action {
	case Create:
		if exists {
			return nil, qerrors.Newf(qerrors.ErrDatabaseCreate, "database already exists at %s", path)
		}
		if nonEmpty(path) {
			return nil, qerrors.Newf(qerrors.ErrDatabaseCreate, "%s exists and is not an empty directory", path)
		}
	case OpenExisting:
		if !exists {
			return nil, qerrors.Newf(qerrors.ErrDatabaseOpening, "no database at %s", path)
		}
	case CreateOrOpen, CreateOrOverwrite:
		if !exists && nonEmpty(path) {
			return nil, qerrors.Newf(qerrors.ErrDatabaseCreate, "%s exists and is not a database directory", path)
		}
	default:
		panic(fmt.Sprintf("database: unknown action %d", action))
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrDatabaseCreate, err, "creating database directory")
	}
	lock, err := acquireLock(path, flags.has(RetryLock))
	if err != nil {
		return nil, err
	}

	staging, err := loadStaging(path, action, exists, flags)
	if err != nil {
		lock.release()
		return nil, err
	}
	w := newWritable(path, flags, lock, staging)
	w.logger.Info("writable database opened",
		"path", path,
		"action", action.String(),
		"docs", staging.DocCount(),
		"revision", staging.Revision(),
	)
	return w, nil
}

func newWritable(dir string, flags Flags, lock *writeLock, staging *index.MemoryIndex) *WritableDatabase {
	h := &shardHandle{kind: kindWritable, path: dir, shard: staging, refs: 1}
	db := newDatabase(h)
	db.logCapabilities(flags)
	return &WritableDatabase{
		Database: db,
		dir:      dir,
		flags:    flags,
		lock:     lock,
		staging:  staging,
		handle:   h,
	}
}

func databaseExists(path string) (bool, error) {
	st, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, qerrors.Wrap(qerrors.ErrDatabaseOpening, err, "stat "+path)
	}
	if !st.IsDir() {
		return false, nil
	}
	_, err = os.Stat(filepath.Join(path, manifestName))
	return err == nil, nil
}

func nonEmpty(path string) bool {
	st, err := os.Stat(path)
	if err != nil {
		return false
	}
	if !st.IsDir() {
		return true
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return true
	}
	for _, e := range entries {
		if e.Name() != lockName {
			return true
		}
	}
	return false
}

func loadStaging(dir string, action Action, exists bool, flags Flags) (*index.MemoryIndex, error) {
	if exists && (action == OpenExisting || action == CreateOrOpen) {
		m, err := readManifest(dir)
		if err != nil {
			return nil, err
		}
		staging := index.NewMemoryIndex()
		if m.Segment != "" {
			r, err := segment.OpenReader(filepath.Join(dir, m.Segment))
			if err != nil {
				return nil, err
			}
			staging, err = r.Export()
			r.Close()
			if err != nil {
				return nil, err
			}
		}
		staging.SetUUID(m.UUID)
		staging.SetRevision(m.Revision)
		return staging, nil
	}

	staging := index.NewMemoryIndex()
	staging.SetUUID(uuid.New().String())
	if err := writeManifest(dir, &manifest{UUID: staging.UUID()}, flags.has(FullSync)); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrDatabaseCreate, err, "writing initial manifest")
	}
	if err := removeStaleSegments(dir, ""); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrDatabaseCreate, err, "clearing old segments")
	}
	return staging, nil
}

func (w *WritableDatabase) modified() {
	w.pending++
	if w.staging.UUID() == "" {
		w.staging.SetUUID(uuid.New().String())
	}
}

// PendingChanges is the number of modifications since the last commit.
func (w *WritableDatabase) PendingChanges() int { return w.pending }

// AddDocument stores doc under the next unused docid and returns it.
func (w *WritableDatabase) AddDocument(doc *document.Document) (index.DocID, error) {
	if _, err := w.shards(); err != nil {
		return 0, err
	}
	last := w.staging.LastDocID()
	if last == math.MaxUint32 {
		return 0, qerrors.New(qerrors.ErrRange, "docid space exhausted")
	}
	did := last + 1
	w.staging.AddDocument(did, doc.Stored())
	w.modified()
	return did, nil
}

// ReplaceDocument overwrites document did. When did is unused the document
// is created with that id.
func (w *WritableDatabase) ReplaceDocument(did index.DocID, doc *document.Document) error {
	if err := checkDocID(did); err != nil {
		return err
	}
	if _, err := w.shards(); err != nil {
		return err
	}
	w.staging.AddDocument(did, doc.Stored())
	w.modified()
	return nil
}

// ReplaceDocumentByTerm replaces the first document indexed by uniqueTerm,
// deletes any others indexed by it, and adds doc when there are none. It
// returns the docid doc was stored under.
func (w *WritableDatabase) ReplaceDocumentByTerm(uniqueTerm string, doc *document.Document) (index.DocID, error) {
	if _, err := w.shards(); err != nil {
		return 0, err
	}
	pl, err := w.staging.PostingList(uniqueTerm)
	if err != nil {
		return 0, err
	}
	if len(pl) == 0 {
		return w.AddDocument(doc)
	}
	did := pl[0].DocID
	for _, p := range pl[1:] {
		w.staging.DeleteDocument(p.DocID)
	}
	w.staging.AddDocument(did, doc.Stored())
	w.modified()
	return did, nil
}

// DeleteDocument removes document did.
func (w *WritableDatabase) DeleteDocument(did index.DocID) error {
	if err := checkDocID(did); err != nil {
		return err
	}
	if _, err := w.shards(); err != nil {
		return err
	}
	if !w.staging.DeleteDocument(did) {
		return qerrors.Newf(qerrors.ErrDocumentNotFound, "document %d not found", did)
	}
	w.modified()
	return nil
}

// DeleteDocumentByTerm removes every document indexed by term.
func (w *WritableDatabase) DeleteDocumentByTerm(term string) error {
	if _, err := w.shards(); err != nil {
		return err
	}
	pl, err := w.staging.PostingList(term)
	if err != nil {
		return err
	}
	for _, p := range pl {
		w.staging.DeleteDocument(p.DocID)
	}
	if len(pl) > 0 {
		w.modified()
	}
	return nil
}

// SetMetadata stores value under key; an empty value deletes the key.
func (w *WritableDatabase) SetMetadata(key, value string) error {
	if key == "" {
		return qerrors.New(qerrors.ErrInvalidArgument, "empty metadata key")
	}
	if _, err := w.shards(); err != nil {
		return err
	}
	w.staging.SetMetadata(key, value)
	w.modified()
	return nil
}

// AddSpelling raises the frequency of word in the spelling dictionary.
// Like the other mutators without an error result, it panics once the
// database is closed.
func (w *WritableDatabase) AddSpelling(word string, inc uint32) {
	w.mustShards()
	if word == "" || inc == 0 {
		return
	}
	w.staging.AddSpelling(word, inc)
	w.modified()
}

// RemoveSpelling lowers the frequency of word, deleting it at zero.
func (w *WritableDatabase) RemoveSpelling(word string, dec uint32) {
	w.mustShards()
	if word == "" || dec == 0 {
		return
	}
	w.staging.RemoveSpelling(word, dec)
	w.modified()
}

func (w *WritableDatabase) AddSynonym(term, synonym string) {
	w.mustShards()
	w.staging.AddSynonym(term, synonym)
	w.modified()
}

func (w *WritableDatabase) RemoveSynonym(term, synonym string) {
	w.mustShards()
	w.staging.RemoveSynonym(term, synonym)
	w.modified()
}

func (w *WritableDatabase) ClearSynonyms(term string) {
	w.mustShards()
	w.staging.ClearSynonyms(term)
	w.modified()
}

// Commit makes all pending modifications durable and visible to readers
// that reopen. It fails inside a transaction.
func (w *WritableDatabase) Commit() error {
	if w.txn != nil {
		return qerrors.New(qerrors.ErrInvalidOperation, "cannot commit inside a transaction")
	}
	if _, err := w.shards(); err != nil {
		return err
	}
	return w.flush()
}

func (w *WritableDatabase) flush() error {
	if w.pending == 0 {
		return nil
	}
	start := time.Now()
	prevRev := w.staging.Revision()
	rev := prevRev + 1
	if w.dir == "" {
		w.staging.SetRevision(rev)
		w.pending = 0
		return nil
	}

	w.staging.SetRevision(rev)
	name := segmentName(rev)
	writer := segment.NewWriter(w.dir, !w.flags.has(NoSync))
	if _, err := writer.Write(name, w.staging); err != nil {
		w.staging.SetRevision(prevRev)
		return qerrors.Wrap(qerrors.ErrDatabase, err, "writing segment")
	}
	m := &manifest{Revision: rev, Segment: name, UUID: w.staging.UUID()}
	if err := writeManifest(w.dir, m, w.flags.has(FullSync)); err != nil {
		w.staging.SetRevision(prevRev)
		return qerrors.Wrap(qerrors.ErrDatabase, err, "writing manifest")
	}
	if err := removeStaleSegments(w.dir, name); err != nil {
		w.logger.Warn("failed to remove stale segments", "error", err)
	}
	w.logger.Info("database committed",
		"revision", rev,
		"changes", w.pending,
		"docs", w.staging.DocCount(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	w.pending = 0
	return nil
}

// InTransaction reports whether a transaction is open.
func (w *WritableDatabase) InTransaction() bool { return w.txn != nil }

// BeginTransaction starts an all-or-nothing group of modifications. With
// flushed set, pending changes are committed first and CommitTransaction
// commits; otherwise the group only becomes durable at the next Commit.
func (w *WritableDatabase) BeginTransaction(flushed bool) error {
	if _, err := w.shards(); err != nil {
		return err
	}
	if w.txn != nil {
		return qerrors.New(qerrors.ErrInvalidOperation, "transactions cannot be nested")
	}
	if flushed {
		if err := w.Commit(); err != nil {
			return err
		}
	}
	w.txn = &transaction{
		flushed:    flushed,
		checkpoint: w.staging.Clone(),
		pending:    w.pending,
	}
	return nil
}

func (w *WritableDatabase) CommitTransaction() error {
	if _, err := w.shards(); err != nil {
		return err
	}
	t := w.txn
	if t == nil {
		return qerrors.New(qerrors.ErrInvalidOperation, "no transaction in progress")
	}
	w.txn = nil
	if t.flushed {
		return w.flush()
	}
	return nil
}

// CancelTransaction discards every modification made since
// BeginTransaction.
func (w *WritableDatabase) CancelTransaction() error {
	if _, err := w.shards(); err != nil {
		return err
	}
	t := w.txn
	if t == nil {
		return qerrors.New(qerrors.ErrInvalidOperation, "no transaction in progress")
	}
	w.txn = nil
	w.staging = t.checkpoint
	w.pending = t.pending
	w.Database.mu.Lock()
	w.handle.mu.Lock()
	w.handle.shard = w.staging
	w.handle.mu.Unlock()
	w.Database.mu.Unlock()
	return nil
}

// Close commits pending changes (an open transaction is cancelled first),
// releases the write lock and closes the view.
func (w *WritableDatabase) Close() error {
	var result *multierror.Error
	if w.txn != nil {
		if err := w.CancelTransaction(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if _, err := w.shards(); err == nil {
		if err := w.flush(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := w.lock.release(); err != nil {
		result = multierror.Append(result, err)
	}
	w.lock = nil
	if err := w.Database.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
