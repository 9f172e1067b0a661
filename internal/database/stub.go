package database

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
)

// openStub opens every database listed in a stub file. Each non-blank line
// is either a bare path or "<backend> <path>" where backend is auto, glass,
// chert, directory or inmemory. Relative paths are resolved against the stub
// file's directory and '#' starts a comment line.
func openStub(path string, flags Flags, depth int) ([]*shardHandle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrDatabaseOpening, err, "opening stub file")
	}
	defer f.Close()

	base := filepath.Dir(path)
	var handles []*shardHandle
	fail := func(err error) ([]*shardHandle, error) {
		for _, h := range handles {
			h.release()
		}
		return nil, err
	}

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		kind, target, found := strings.Cut(line, " ")
		if !found {
			kind, target = "auto", line
		}
		target = strings.TrimSpace(target)
		var sub Flags
		switch kind {
		case "auto", "glass", "chert":
		case "directory":
			sub = BackendDirectory
		case "inmemory":
			sub, target = BackendInMemory, ""
		case "remote", "tcp", "prog":
			return fail(qerrors.Newf(qerrors.ErrFeatureUnavailable, "%s:%d: remote databases are not supported", path, lineNo))
		default:
			return fail(qerrors.Newf(qerrors.ErrDatabaseOpening, "%s:%d: unknown database type %q", path, lineNo, kind))
		}
		if target != "" && !filepath.IsAbs(target) {
			target = filepath.Join(base, target)
		}
		sub |= flags &^ backendMask
		opened, err := openHandles(target, sub, 0, depth+1)
		if err != nil {
			return fail(err)
		}
		handles = append(handles, opened...)
	}
	if err := scanner.Err(); err != nil {
		return fail(qerrors.Wrap(qerrors.ErrDatabaseOpening, err, "reading stub file"))
	}
	if len(handles) == 0 {
		return nil, qerrors.Newf(qerrors.ErrDatabaseOpening, "stub file %s lists no databases", path)
	}
	return handles, nil
}
