//go:build unix

package lock

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

var errWouldBlock = unix.EWOULDBLOCK

type unixLockedFile struct {
	file *os.File
}

func openLockedFile(path string) (lockedFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := setFileLock(f, true); err != nil {
		f.Close()
		return nil, err
	}
	return &unixLockedFile{file: f}, nil
}

func (f *unixLockedFile) Close() error {
	if err := setFileLock(f.file, false); err != nil {
		f.file.Close()
		return err
	}
	return f.file.Close()
}

func setFileLock(f *os.File, lock bool) error {
	how := unix.LOCK_UN
	if lock {
		how = unix.LOCK_EX
	}
	err := unix.Flock(int(f.Fd()), how|unix.LOCK_NB)
	if errors.Is(err, unix.EAGAIN) {
		return errWouldBlock
	}
	return err
}
