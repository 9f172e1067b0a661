package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dchest/safefile"
	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/querycore/internal/index"
	"github.com/Adithya-Monish-Kumar-K/querycore/internal/segment"
	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

// Compact merges every shard into a single new database at dest. Documents
// are renumbered densely from 1 in shard order unless CompactNoRenumber is
// set, in which case docids colliding across shards are an error. A shard
// that cannot export its contents makes Compact log a warning and return
// without writing anything.
func (db *Database) Compact(dest string, flags CompactFlags) error {
	start := time.Now()
	shards, err := db.shards()
	if err != nil {
		return err
	}
	exporters := make([]index.Exporter, 0, len(shards))
	for i, s := range shards {
		ex, ok := s.(index.Exporter)
		if !ok {
			db.logger.Warn("compaction skipped",
				"shard", i,
				"error", qerrors.New(qerrors.ErrFeatureUnavailable, "shard backend cannot be compacted"),
			)
			return nil
		}
		exporters = append(exporters, ex)
	}
	if flags&CompactMultipass != 0 {
		db.logger.Debug("multipass compaction requested; output is always written in one pass")
	}

	merged, err := mergeShards(exporters, flags&CompactNoRenumber == 0)
	if err != nil {
		return err
	}

	if flags&CompactSingleFile != 0 {
		err = writeSingleFile(dest, merged)
	} else {
		err = writeDirectory(dest, merged)
	}
	if err != nil {
		return err
	}
	db.logger.Info("database compacted",
		"dest", dest,
		"shards", len(shards),
		"docs", merged.DocCount(),
		"single_file", flags&CompactSingleFile != 0,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func mergeShards(exporters []index.Exporter, renumber bool) (*index.MemoryIndex, error) {
	out := index.NewMemoryIndex()
	var next index.DocID
	for i, ex := range exporters {
		mi, err := ex.Export()
		if err != nil {
			return nil, fmt.Errorf("exporting shard %d: %w", i, err)
		}
		ids, _ := mi.DocIDs()
		docs := mi.Documents()
		it := ids.Iterator()
		for it.HasNext() {
			did := index.DocID(it.Next())
			target := did
			if renumber {
				next++
				target = next
			} else if out.HasDocument(did) {
				return nil, qerrors.Newf(qerrors.ErrInvalidOperation,
					"docid %d occurs in more than one shard; compact with renumbering", did)
			}
			out.AddDocument(target, docs[did])
		}
		if !renumber {
			out.SetLastDocID(mi.LastDocID())
		}
		for k, v := range mi.MetadataMap() {
			if existing, _ := out.Metadata(k); existing == "" {
				out.SetMetadata(k, v)
			}
		}
		words, _ := mi.SpellingWords()
		for _, wf := range words {
			out.AddSpelling(wf.Word, wf.Freq)
		}
		for term, syns := range mi.SynonymMap() {
			for _, s := range syns {
				out.AddSynonym(term, s)
			}
		}
	}
	out.SetUUID(uuid.New().String())
	out.SetRevision(1)
	return out, nil
}

func writeSingleFile(dest string, mi *index.MemoryIndex) error {
	if dir := filepath.Dir(dest); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return qerrors.Wrap(qerrors.ErrDatabaseCreate, err, "creating destination directory")
		}
	}
	f, err := safefile.Create(dest, 0o644)
	if err != nil {
		return qerrors.Wrap(qerrors.ErrDatabaseCreate, err, "creating "+dest)
	}
	defer f.Close()
	if _, err := segment.Encode(f, mi); err != nil {
		return qerrors.Wrap(qerrors.ErrDatabaseCreate, err, "encoding segment")
	}
	if err := f.Commit(); err != nil {
		return qerrors.Wrap(qerrors.ErrDatabaseCreate, err, "committing "+dest)
	}
	return nil
}

func writeDirectory(dest string, mi *index.MemoryIndex) error {
	if nonEmpty(dest) {
		return qerrors.Newf(qerrors.ErrDatabaseCreate, "compaction target %s is not empty", dest)
	}
	name := segmentName(mi.Revision())
	if _, err := segment.NewWriter(dest, true).Write(name, mi); err != nil {
		return qerrors.Wrap(qerrors.ErrDatabaseCreate, err, "writing compacted segment")
	}
	m := &manifest{Revision: mi.Revision(), Segment: name, UUID: mi.UUID()}
	if err := writeManifest(dest, m, false); err != nil {
		return qerrors.Wrap(qerrors.ErrDatabaseCreate, err, "writing manifest")
	}
	return nil
}
