//go:build !unix

package lock

import (
	"errors"
	"os"
)

// Without flock only the in-process guard applies.
var errWouldBlock = errors.New("lock held")

type plainFile struct {
	file *os.File
}

func openLockedFile(path string) (lockedFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &plainFile{file: f}, nil
}

func (f *plainFile) Close() error {
	return f.file.Close()
}
