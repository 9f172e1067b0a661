package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dchest/safefile"

	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

const (
	manifestName   = "manifest.json"
	lockName       = "lock"
	manifestFormat = 1
)

// manifest names the committed segment of a database directory. It is the
// only file rewritten in place, always atomically.
type manifest struct {
	Format   int    `json:"format"`
	Revision uint64 `json:"revision"`
	Segment  string `json:"segment,omitempty"`
	UUID     string `json:"uuid"`
}

func segmentName(rev uint64) string {
	return fmt.Sprintf("seg_%d.qseg", rev)
}

func readManifest(dir string) (*manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, qerrors.Newf(qerrors.ErrDatabaseOpening, "no database at %s", dir)
		}
		return nil, qerrors.Wrap(qerrors.ErrDatabaseOpening, err, "reading manifest")
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrDatabaseCorrupt, err, "parsing manifest")
	}
	if m.Format != manifestFormat {
		return nil, qerrors.Newf(qerrors.ErrDatabaseVersion, "manifest format %d, expected %d", m.Format, manifestFormat)
	}
	return &m, nil
}

func writeManifest(dir string, m *manifest, fullSync bool) error {
	m.Format = manifestFormat
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}
	f, err := safefile.Create(filepath.Join(dir, manifestName), 0o644)
	if err != nil {
		return fmt.Errorf("creating manifest: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := f.Commit(); err != nil {
		return fmt.Errorf("committing manifest: %w", err)
	}
	if fullSync {
		return syncDir(dir)
	}
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening directory for sync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("syncing directory: %w", err)
	}
	return nil
}

// removeStaleSegments deletes every segment file except keep.
func removeStaleSegments(dir, keep string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == keep || !strings.HasPrefix(name, "seg_") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
