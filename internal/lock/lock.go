// Package lock serializes workflows that mutate the same server directory,
// both within this process and across processes on the same host.
package lock

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/caedis/mc-manager/internal/apperr"
	"github.com/caedis/mc-manager/internal/logging"
)

// ErrHeld is the cause carried by the Busy error returned when the guard is
// already taken.
var ErrHeld = errors.New("another workflow is already running")

// lockedFile is an open file holding an exclusive advisory lock.
type lockedFile interface {
	Close() error
}

// Locker hands out one guard per cleaned absolute directory path.
type Locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func New() *Locker {
	return &Locker{held: make(map[string]struct{})}
}

// Key returns the cleaned absolute form of dir used to identify its guard.
func Key(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// FilePath returns the lock file for dir. It lives next to dir, not inside
// it, so wiping dir never removes a held lock.
func FilePath(key string) string {
	return filepath.Join(filepath.Dir(key), "."+filepath.Base(key)+".lock")
}

// TryAcquire takes the guard for dir without blocking. It returns an
// apperr.Busy error if a workflow in this or another process holds it. The
// returned release func is safe to call more than once.
func (l *Locker) TryAcquire(dir string) (func(), error) {
	key, err := Key(dir)
	if err != nil {
		return nil, apperr.WithPath(apperr.Filesystem, "resolve guard for", dir, err)
	}

	l.mu.Lock()
	if l.held == nil {
		l.held = make(map[string]struct{})
	}
	if _, ok := l.held[key]; ok {
		l.mu.Unlock()
		return nil, apperr.WithPath(apperr.Busy, "acquire guard for", key, ErrHeld)
	}
	l.held[key] = struct{}{}
	l.mu.Unlock()

	unmark := func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}

	lockPath := FilePath(key)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		unmark()
		return nil, apperr.WithPath(apperr.Filesystem, "create guard directory", filepath.Dir(lockPath), err)
	}
	f, err := openLockedFile(lockPath)
	if err != nil {
		unmark()
		if errors.Is(err, errWouldBlock) {
			return nil, apperr.WithPath(apperr.Busy, "acquire guard for", key, ErrHeld)
		}
		return nil, apperr.WithPath(apperr.Filesystem, "lock", lockPath, err)
	}
	logging.Debugf("Verbose: acquired guard %s\n", lockPath)

	var once sync.Once
	return func() {
		once.Do(func() {
			if err := f.Close(); err != nil {
				logging.L().WithField("path", lockPath).WithError(err).Warn("releasing guard")
			}
			unmark()
			logging.Debugf("Verbose: released guard %s\n", lockPath)
		})
	}, nil
}
