//go:build !unix && !windows

package database

import "os"

// Platforms without advisory file locks do not enforce a single writer.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
