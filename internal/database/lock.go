package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	qerrors "github.com/Adithya-Monish-Kumar-K/querycore/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/querycore/pkg/resilience"
)

// lockRetry bounds how long RetryLock waits for a competing writer.
var lockRetry = resilience.RetryConfig{
	MaxAttempts:  20,
	InitialDelay: 50 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	Multiplier:   1.5,
	RetryIf: func(err error) bool {
		return errors.Is(err, qerrors.ErrDatabaseLocked)
	},
}

// errLockHeld is returned by lockFile when another open file holds the lock.
var errLockHeld = errors.New("lock held")

// writeLock is an exclusive advisory lock on <dir>/lock. The operating
// system drops it when the holder exits, so a crashed writer never leaves
// the database locked. The file itself stays behind and only records the
// last holder's pid.
type writeLock struct {
	f *os.File
}

func tryLock(dir string) (*writeLock, error) {
	path := filepath.Join(dir, lockName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrDatabaseOpening, err, "opening lock file")
	}
	if err := lockFile(f); err != nil {
		f.Close()
		if errors.Is(err, errLockHeld) {
			return nil, qerrors.Newf(qerrors.ErrDatabaseLocked, "%s is locked by another writer", dir)
		}
		return nil, qerrors.Wrap(qerrors.ErrDatabaseOpening, err, "locking "+path)
	}
	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	return &writeLock{f: f}, nil
}

// acquireLock takes the single-writer lock on dir. With retry it backs off
// while the lock is held by someone else; any other failure is returned
// immediately.
func acquireLock(dir string, retry bool) (*writeLock, error) {
	if !retry {
		return tryLock(dir)
	}
	var lock *writeLock
	err := resilience.Retry(context.Background(), "database lock", lockRetry, func(context.Context) error {
		l, err := tryLock(dir)
		lock = l
		return err
	})
	if err != nil {
		return nil, err
	}
	return lock, nil
}

func (l *writeLock) release() error {
	if l == nil || l.f == nil {
		return nil
	}
	uerr := unlockFile(l.f)
	cerr := l.f.Close()
	l.f = nil
	if uerr != nil {
		return fmt.Errorf("unlocking database: %w", uerr)
	}
	if cerr != nil {
		return fmt.Errorf("closing lock file: %w", cerr)
	}
	return nil
}
