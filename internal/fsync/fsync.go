// Package fsync copies and clears server files between the live server
// directory and its backup directory.
//
// Operations are not atomic with respect to concurrent readers; a crash in the
// middle of CopyPath can leave a partially written subtree at the destination.
package fsync

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/caedis/mc-manager/internal/apperr"
	"github.com/caedis/mc-manager/internal/logging"
	"github.com/spf13/afero"
)

// Manifest is the ordered list of paths, relative to a root, that a backup
// or restore copies. Entries may be files or whole directories.
type Manifest []string

// DefaultManifest is the set of server files preserved across pack updates.
var DefaultManifest = Manifest{
	"eula.txt",
	"ops.json",
	"server.properties",
	"config",
	"world",
}

type Engine struct {
	Fs afero.Fs
}

func New(fs afero.Fs) *Engine {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Engine{Fs: fs}
}

// Exists reports whether path is present.
func (e *Engine) Exists(path string) (bool, error) {
	_, err := e.Fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, apperr.WithPath(apperr.Filesystem, "stat", path, err)
}

// CopyPath copies src to dst. Directories are copied recursively, merging into
// an existing dst and creating intermediate directories; files are copied byte
// for byte with their permission bits. A missing src is a no-op.
func (e *Engine) CopyPath(src, dst string) error {
	info, err := e.Fs.Stat(src)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Debugf("Verbose: copy skipped, %s does not exist\n", src)
			return nil
		}
		return apperr.WithPath(apperr.Filesystem, "stat", src, err)
	}

	if !info.IsDir() {
		if err := e.Fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return apperr.WithPath(apperr.Filesystem, "create directory", filepath.Dir(dst), err)
		}
		return e.copyFile(src, dst, info.Mode().Perm())
	}

	return afero.Walk(e.Fs, src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return apperr.WithPath(apperr.Filesystem, "walk", path, err)
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return apperr.WithPath(apperr.Filesystem, "walk", path, err)
		}
		target := filepath.Join(dst, rel)

		switch {
		case fi.IsDir():
			if err := e.Fs.MkdirAll(target, dirPerm(fi)); err != nil {
				return apperr.WithPath(apperr.Filesystem, "create directory", target, err)
			}
			return nil
		case fi.Mode()&os.ModeSymlink != 0:
			return e.copyLink(path, target)
		case fi.Mode().IsRegular():
			return e.copyFile(path, target, fi.Mode().Perm())
		default:
			logging.Debugf("Verbose: copy skipped special file %s\n", path)
			return nil
		}
	})
}

// copyLink recreates the symlink at src as dst without following it. On
// filesystems without link support the link is skipped.
func (e *Engine) copyLink(src, dst string) error {
	linker, ok := e.Fs.(afero.Symlinker)
	if !ok {
		logging.Debugf("Verbose: copy skipped symlink %s\n", src)
		return nil
	}
	dest, err := linker.ReadlinkIfPossible(src)
	if err != nil {
		return apperr.WithPath(apperr.Filesystem, "read link", src, err)
	}
	if err := e.Fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apperr.WithPath(apperr.Filesystem, "create directory", filepath.Dir(dst), err)
	}
	if err := e.Fs.Remove(dst); err != nil && !os.IsNotExist(err) {
		return apperr.WithPath(apperr.Filesystem, "replace", dst, err)
	}
	if err := linker.SymlinkIfPossible(dest, dst); err != nil {
		return apperr.WithPath(apperr.Filesystem, "link", dst, err)
	}
	return nil
}

func dirPerm(fi os.FileInfo) os.FileMode {
	if perm := fi.Mode().Perm(); perm != 0 {
		return perm | 0o700
	}
	return 0o755
}

// copyFile copies src to dst using an atomic write (write to dst.tmp, then rename).
func (e *Engine) copyFile(src, dst string, perm os.FileMode) error {
	in, err := e.Fs.Open(src)
	if err != nil {
		return apperr.WithPath(apperr.Filesystem, "open", src, err)
	}
	defer in.Close()

	if perm == 0 {
		perm = 0o644
	}
	tmpPath := dst + ".tmp"
	out, err := e.Fs.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return apperr.WithPath(apperr.Filesystem, "create", tmpPath, err)
	}

	_, err = io.Copy(out, in)
	closeErr := out.Close()
	if err != nil {
		e.Fs.Remove(tmpPath)
		return apperr.WithPath(apperr.Filesystem, "write", dst, err)
	}
	if closeErr != nil {
		e.Fs.Remove(tmpPath)
		return apperr.WithPath(apperr.Filesystem, "close", dst, closeErr)
	}

	if err := e.Fs.Rename(tmpPath, dst); err != nil {
		e.Fs.Remove(tmpPath)
		return apperr.WithPath(apperr.Filesystem, "finalize", dst, err)
	}
	if err := e.Fs.Chmod(dst, perm); err != nil {
		return apperr.WithPath(apperr.Filesystem, "chmod", dst, err)
	}
	return nil
}

// WipeAndRecreate removes dir and everything in it, then creates it empty.
// A missing dir is not an error, so calling it twice in a row is safe.
func (e *Engine) WipeAndRecreate(dir string) error {
	if err := e.Fs.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return apperr.WithPath(apperr.Filesystem, "remove", dir, err)
	}
	if err := e.Fs.MkdirAll(dir, 0o755); err != nil {
		return apperr.WithPath(apperr.Filesystem, "create directory", dir, err)
	}
	return nil
}

// CopyManifest copies every manifest entry from fromRoot to toRoot in order
// and returns the entries that were present. It stops at the first failed
// entry; entries after it are not attempted.
func (e *Engine) CopyManifest(fromRoot, toRoot string, m Manifest) ([]string, error) {
	var copied []string
	for _, item := range m {
		src := filepath.Join(fromRoot, item)
		ok, err := e.Exists(src)
		if err != nil {
			return copied, fmt.Errorf("%s: %w", item, err)
		}
		if !ok {
			logging.Debugf("Verbose: manifest entry %s not present in %s, skipping\n", item, fromRoot)
			continue
		}
		if err := e.CopyPath(src, filepath.Join(toRoot, item)); err != nil {
			return copied, fmt.Errorf("%s: %w", item, err)
		}
		copied = append(copied, item)
	}
	return copied, nil
}

// MakeExecutable adds the execute bits to path. It reports false without an
// error when path does not exist.
func (e *Engine) MakeExecutable(path string) (bool, error) {
	info, err := e.Fs.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, apperr.WithPath(apperr.Filesystem, "stat", path, err)
	}
	if err := e.Fs.Chmod(path, info.Mode().Perm()|0o111); err != nil {
		return true, apperr.WithPath(apperr.Filesystem, "chmod", path, err)
	}
	return true, nil
}
