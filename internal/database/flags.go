package database

import "github.com/Adithya-Monish-Kumar-K/querycore/pkg/config"

// Flags select storage behaviour and the backend used by Open and
// OpenWritable. Backend bits are mutually exclusive; none set means the
// backend is detected from the path.
type Flags uint32

const (
	// NoSync skips fsync when committing.
	NoSync Flags = 1 << iota
	// FullSync also fsyncs the database directory after a commit.
	FullSync
	// Dangerous permits in-place updates; the segment backend always writes
	// a fresh segment so this is accepted and ignored.
	Dangerous
	// NoTermlist asks the backend not to store per-document term lists.
	// Segments always store them because replacement needs them.
	NoTermlist
	// RetryLock makes OpenWritable wait for a held write lock instead of
	// failing with ErrDatabaseLocked.
	RetryLock

	BackendInMemory
	BackendDirectory
	BackendStub
)

// BackendAuto detects the backend from what exists at the path.
const BackendAuto Flags = 0

const backendMask = BackendInMemory | BackendDirectory | BackendStub

func (f Flags) has(bit Flags) bool { return f&bit != 0 }

func (f Flags) backend() Flags { return f & backendMask }

// Action says how OpenWritable treats an existing or missing database.
type Action int

const (
	// Create makes a new database and fails if one already exists.
	Create Action = iota
	// OpenExisting opens an existing database and fails if there is none.
	OpenExisting
	// CreateOrOpen opens the database, creating it when missing.
	CreateOrOpen
	// CreateOrOverwrite discards any existing contents.
	CreateOrOverwrite
)

func (a Action) String() string {
	switch a {
	case Create:
		return "create"
	case OpenExisting:
		return "open"
	case CreateOrOpen:
		return "create_or_open"
	case CreateOrOverwrite:
		return "create_or_overwrite"
	default:
		return "unknown"
	}
}

// CompactFlags tune Compact.
type CompactFlags uint32

const (
	// CompactNoRenumber keeps the source docids instead of renumbering
	// documents densely from 1.
	CompactNoRenumber CompactFlags = 1 << iota
	// CompactMultipass merges in several passes. Output is always produced
	// in a single pass, so the flag has no effect.
	CompactMultipass
	// CompactSingleFile writes one segment file instead of a database
	// directory.
	CompactSingleFile
)

// FlagsFor translates the database section of the service configuration
// into open flags.
func FlagsFor(cfg config.DatabaseConfig) Flags {
	var f Flags
	switch cfg.Backend {
	case "inmemory":
		f |= BackendInMemory
	case "directory":
		f |= BackendDirectory
	case "stub":
		f |= BackendStub
	}
	if cfg.NoSync {
		f |= NoSync
	}
	if cfg.FullSync {
		f |= FullSync
	}
	if cfg.RetryLock {
		f |= RetryLock
	}
	return f
}
