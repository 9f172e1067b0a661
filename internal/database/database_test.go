package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/document"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/config"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

func makeDoc(data string, terms ...string) *document.Document {
	doc := document.New()
	doc.SetData(data)
	for i, t := range terms {
		doc.AddPosting(t, uint32(i+1), 1)
	}
	return doc
}

func createDB(t *testing.T, dir string, docs ...*document.Document) {
	t.Helper()
	w, err := OpenWritable(dir, CreateOrOpen, NoSync)
	require.NoError(t, err)
	for _, d := range docs {
		_, err := w.AddDocument(d)
		require.NoError(t, err)
	}
	require.NoError(t, w.Commit())
	require.NoError(t, w.Close())
}

func TestOpenNonexistentPath(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "missing"), 0)
	assert.Nil(t, db)
	assert.ErrorIs(t, err, qerrors.ErrDatabaseOpening)
}

func TestOpenEmptyPathIsInMemory(t *testing.T) {
	db, err := Open("", 0)
	require.NoError(t, err)
	defer db.Close()
	assert.Zero(t, db.DocCount())
	assert.Equal(t, "", db.UUID())
	assert.Zero(t, db.AvgLength())
}

func TestWriteThenRead(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	createDB(t, dir, makeDoc("hello", "hello", "world"))

	db, err := Open(dir, 0)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, uint32(1), db.DocCount())
	assert.Equal(t, index.DocID(1), db.LastDocID())
	assert.NotEmpty(t, db.UUID())

	doc, err := db.Document(1)
	require.NoError(t, err)
	assert.Equal(t, "hello", doc.Data())

	_, err = db.Document(0)
	assert.ErrorIs(t, err, qerrors.ErrInvalidArgument)
	_, err = db.Document(2)
	assert.ErrorIs(t, err, qerrors.ErrDocumentNotFound)

	tf, err := db.TermFreq("world")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), tf)
	tf, err = db.TermFreq("unindexed")
	require.NoError(t, err)
	assert.Zero(t, tf)
}

func TestCloseIsTerminal(t *testing.T) {
	db, err := Open("", 0)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	_, err = db.TermFreq("x")
	assert.ErrorIs(t, err, qerrors.ErrDatabase)
	assert.Panics(t, func() { db.DocCount() })
	assert.NoError(t, db.Close())
}

func TestReopenSeesNewCommits(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	w, err := OpenWritable(dir, Create, NoSync)
	require.NoError(t, err)
	defer w.Close()

	reader, err := Open(dir, 0)
	require.NoError(t, err)
	defer reader.Close()
	assert.Zero(t, reader.DocCount())

	_, err = w.AddDocument(makeDoc("a", "alpha"))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), w.DocCount(), "writer reads its own changes")
	require.NoError(t, w.Commit())

	assert.Zero(t, reader.DocCount(), "reader keeps its snapshot until reopened")
	changed, err := reader.Reopen()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, uint32(1), reader.DocCount())

	changed, err = reader.Reopen()
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestFederatedDatabase(t *testing.T) {
	root := t.TempDir()
	one := filepath.Join(root, "one")
	two := filepath.Join(root, "two")
	createDB(t, one, makeDoc("1a", "shared", "left"))
	createDB(t, two, makeDoc("2a", "shared"), makeDoc("2b", "shared", "right"))

	db, err := Open(one, 0)
	require.NoError(t, err)
	defer db.Close()
	other, err := Open(two, 0)
	require.NoError(t, err)
	defer other.Close()

	db.AddDatabase(other)
	assert.Equal(t, 2, db.Shards())
	db.AddDatabase(other)
	db.AddDatabase(db)
	assert.Equal(t, 2, db.Shards(), "redundant additions are ignored")

	assert.Equal(t, uint32(3), db.DocCount())
	assert.Equal(t, index.DocID(2), db.LastDocID())
	tf, _ := db.TermFreq("shared")
	assert.Equal(t, uint32(3), tf)

	doc, err := db.Document(1)
	require.NoError(t, err)
	assert.Equal(t, "1a", doc.Data(), "first shard wins for a shared docid")

	it, err := db.AllTerms("")
	require.NoError(t, err)
	var terms []string
	for it.Next() {
		terms = append(terms, it.Term())
	}
	assert.Equal(t, []string{"left", "right", "shared"}, terms)
}

func TestStubFile(t *testing.T) {
	root := t.TempDir()
	createDB(t, filepath.Join(root, "a"), makeDoc("a", "x"))
	createDB(t, filepath.Join(root, "b"), makeDoc("b", "y"))
	stub := filepath.Join(root, "all.stub")
	require.NoError(t, os.WriteFile(stub, []byte("# federated view\nauto a\nb\n"), 0o644))

	db, err := Open(stub, 0)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, 2, db.Shards())
	assert.Equal(t, uint32(2), db.DocCount())

	bad := filepath.Join(root, "bad.stub")
	require.NoError(t, os.WriteFile(bad, []byte("remote host:1234\n"), 0o644))
	_, err = Open(bad, 0)
	assert.ErrorIs(t, err, qerrors.ErrFeatureUnavailable)
}

func TestValueBoundsAndMetadata(t *testing.T) {
	w, err := OpenWritable("", CreateOrOpen, 0)
	require.NoError(t, err)
	defer w.Close()

	for _, v := range []string{"m", "c", "x"} {
		doc := makeDoc(v, "t")
		doc.AddValue(2, v)
		_, err := w.AddDocument(doc)
		require.NoError(t, err)
	}
	require.NoError(t, w.SetMetadata("owner", "search-team"))
	assert.ErrorIs(t, w.SetMetadata("", "x"), qerrors.ErrInvalidArgument)

	freq, _ := w.ValueFreq(2)
	lo, _ := w.ValueLowerBound(2)
	hi, _ := w.ValueUpperBound(2)
	assert.Equal(t, uint32(3), freq)
	assert.Equal(t, "c", lo)
	assert.Equal(t, "x", hi)

	v, _ := w.Metadata("owner")
	assert.Equal(t, "search-team", v)
	require.NoError(t, w.SetMetadata("owner", ""))
	v, _ = w.Metadata("owner")
	assert.Empty(t, v)
	assert.NotEmpty(t, w.UUID(), "first modification assigns a UUID")
}

func TestSpellingSuggestion(t *testing.T) {
	w, err := OpenWritable("", CreateOrOpen, 0)
	require.NoError(t, err)
	defer w.Close()
	w.AddSpelling("search", 5)
	w.AddSpelling("starch", 1)
	w.AddSpelling("engine", 2)

	s, err := w.SpellingSuggestion("serch", 2)
	require.NoError(t, err)
	assert.Equal(t, "search", s)

	s, _ = w.SpellingSuggestion("search", 2)
	assert.Empty(t, s, "correct words need no suggestion")
	s, _ = w.SpellingSuggestion("zzzzzz", 2)
	assert.Empty(t, s)

	w.RemoveSpelling("search", 10)
	s, _ = w.SpellingSuggestion("serch", 2)
	assert.Equal(t, "starch", s)
}

// opaqueShard hides the Exporter capability of the shard it wraps.
type opaqueShard struct{ index.Shard }

func TestCompact(t *testing.T) {
	root := t.TempDir()
	one := filepath.Join(root, "one")
	two := filepath.Join(root, "two")
	createDB(t, one, makeDoc("1a", "a"), makeDoc("1b", "b"))
	createDB(t, two, makeDoc("2a", "c"))

	db, err := Open(one, 0)
	require.NoError(t, err)
	defer db.Close()
	other, err := Open(two, 0)
	require.NoError(t, err)
	defer other.Close()
	db.AddDatabase(other)

	dest := filepath.Join(root, "compact")
	require.NoError(t, db.Compact(dest, CompactMultipass))
	out, err := Open(dest, 0)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, uint32(3), out.DocCount())
	doc, err := out.Document(3)
	require.NoError(t, err)
	assert.Equal(t, "2a", doc.Data())

	err = db.Compact(filepath.Join(root, "clash"), CompactNoRenumber)
	assert.ErrorIs(t, err, qerrors.ErrInvalidOperation)

	single := filepath.Join(root, "single.qseg")
	require.NoError(t, out.Compact(single, CompactSingleFile))
	sf, err := Open(single, 0)
	require.NoError(t, err)
	defer sf.Close()
	assert.Equal(t, uint32(3), sf.DocCount())
}

func TestCompactUnsupportedShardIsNoop(t *testing.T) {
	db := newDatabase(&shardHandle{kind: kindMemory, shard: opaqueShard{index.NewMemoryIndex()}, refs: 1})
	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, db.Compact(dest, 0))
	assert.NoDirExists(t, dest)
}

func TestFlagsFor(t *testing.T) {
	tests := []struct {
		cfg  config.DatabaseConfig
		want Flags
	}{
		{config.DatabaseConfig{Backend: "auto"}, BackendAuto},
		{config.DatabaseConfig{Backend: "inmemory"}, BackendInMemory},
		{config.DatabaseConfig{Backend: "directory", NoSync: true}, BackendDirectory | NoSync},
		{config.DatabaseConfig{Backend: "stub", FullSync: true, RetryLock: true}, BackendStub | FullSync | RetryLock},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FlagsFor(tt.cfg), tt.cfg.Backend)
	}
}
