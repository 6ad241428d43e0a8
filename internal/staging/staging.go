// Package staging manages the directory of user supplied extra mods that are
// layered on top of the modpack's own mods.
package staging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/caedis/mc-manager/internal/apperr"
	"github.com/caedis/mc-manager/internal/archive"
	"github.com/caedis/mc-manager/internal/logging"
	"github.com/spf13/afero"
)

// MaxUploadSize is the largest extra mod accepted.
const MaxUploadSize = 1 << 30

var ErrTooLarge = errors.New("file exceeds upload limit")

type Area struct {
	Fs  afero.Fs
	Dir string
	// Limit caps the size of a saved file. Zero means MaxUploadSize.
	Limit int64
}

func New(fs afero.Fs, dir string) *Area {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Area{Fs: fs, Dir: dir}
}

// ValidateName checks that name is a bare .jar filename.
func ValidateName(name string) error {
	switch {
	case name == "":
		return apperr.Errorf(apperr.Validation, "validate name", "missing filename")
	case name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == "." || name == "..":
		return apperr.Errorf(apperr.Validation, "validate name", "%q must be a plain filename", name)
	case !strings.HasSuffix(name, ".jar"):
		return apperr.Errorf(apperr.Validation, "validate name", "%q must be a .jar file", name)
	}
	return nil
}

// List returns the regular files in the staging directory, sorted. A missing
// directory is reported as empty.
func (a *Area) List() ([]string, error) {
	entries, err := afero.ReadDir(a.Fs, a.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, apperr.WithPath(apperr.Filesystem, "list", a.Dir, err)
	}

	names := []string{}
	for _, e := range entries {
		if e.Mode().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Save stores the contents of r as name, replacing any file of that name.
// Files larger than the limit are rejected and leave nothing behind.
func (a *Area) Save(name string, r io.Reader) (int64, error) {
	if err := ValidateName(name); err != nil {
		return 0, err
	}
	if err := a.Fs.MkdirAll(a.Dir, 0o755); err != nil {
		return 0, apperr.WithPath(apperr.Filesystem, "create", a.Dir, err)
	}

	dest := filepath.Join(a.Dir, name)
	tmpPath := dest + ".tmp"
	f, err := a.Fs.Create(tmpPath)
	if err != nil {
		return 0, apperr.WithPath(apperr.Filesystem, "create", tmpPath, err)
	}

	limit := a.Limit
	if limit <= 0 {
		limit = MaxUploadSize
	}
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	closeErr := f.Close()
	switch {
	case err != nil:
		a.Fs.Remove(tmpPath)
		return 0, apperr.WithPath(apperr.Filesystem, "write", dest, err)
	case closeErr != nil:
		a.Fs.Remove(tmpPath)
		return 0, apperr.WithPath(apperr.Filesystem, "close", dest, closeErr)
	case n > limit:
		a.Fs.Remove(tmpPath)
		return 0, apperr.WithPath(apperr.Validation, "save", name, ErrTooLarge)
	}

	if err := a.Fs.Rename(tmpPath, dest); err != nil {
		a.Fs.Remove(tmpPath)
		return 0, apperr.WithPath(apperr.Filesystem, "finalize", dest, err)
	}
	logging.L().WithField("file", name).WithField("bytes", n).Info("saved extra mod")
	return n, nil
}

// Import copies a jar from the local filesystem into the staging area.
func (a *Area) Import(path string) (int64, error) {
	f, err := a.Fs.Open(path)
	if err != nil {
		return 0, apperr.WithPath(apperr.Filesystem, "open", path, err)
	}
	defer f.Close()
	return a.Save(filepath.Base(path), f)
}

// Delete removes name from the staging area. Removing a file that does not
// exist returns an error wrapping os.ErrNotExist.
func (a *Area) Delete(name string) error {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == ".." {
		return apperr.Errorf(apperr.Validation, "delete", "%q must be a plain filename", name)
	}
	path := filepath.Join(a.Dir, name)
	if err := a.Fs.Remove(path); err != nil {
		return apperr.WithPath(apperr.Filesystem, "delete", path, err)
	}
	logging.L().WithField("file", name).Info("deleted extra mod")
	return nil
}

// WriteZip writes every staged file into w as a flat zip archive.
func (a *Area) WriteZip(w io.Writer) error {
	names, err := a.List()
	if err != nil {
		return err
	}
	if err := archive.WriteZip(a.Fs, w, a.Dir, names); err != nil {
		return fmt.Errorf("zipping %s: %w", a.Dir, err)
	}
	return nil
}
