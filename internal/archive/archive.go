// Package archive reads server pack zips and writes the extra mods bundle.
package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caedis/mc-manager/internal/apperr"
	"github.com/caedis/mc-manager/internal/logging"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

// Extract unpacks zipPath into destDir and returns the number of files
// written. When every entry sits under one top-level directory that
// directory is stripped, so a pack shipped as "Server-1.2/..." lands directly
// in destDir. Entries that would escape destDir are skipped.
func Extract(fs afero.Fs, zipPath, destDir string) (int, error) {
	f, err := fs.Open(zipPath)
	if err != nil {
		return 0, apperr.WithPath(apperr.Filesystem, "open archive", zipPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, apperr.WithPath(apperr.Filesystem, "stat archive", zipPath, err)
	}
	r, err := zip.NewReader(f, info.Size())
	if err != nil {
		return 0, apperr.WithPath(apperr.Filesystem, "read archive", zipPath, err)
	}

	prefix := commonRoot(r.File)
	if prefix != "" {
		logging.Debugf("Verbose: stripping archive root %q\n", prefix)
	}

	cleanDest := filepath.Clean(destDir)
	extracted := 0
	for _, zf := range r.File {
		name := strings.TrimPrefix(zf.Name, prefix)
		if name == "" {
			continue
		}

		destPath := filepath.Join(cleanDest, filepath.FromSlash(name))

		// Security check: prevent path traversal
		cleanPath := filepath.Clean(destPath)
		if cleanPath != cleanDest && !strings.HasPrefix(cleanPath, cleanDest+string(os.PathSeparator)) {
			logging.L().WithField("entry", zf.Name).Warn("skipping archive entry outside destination")
			continue
		}

		if zf.FileInfo().IsDir() {
			if err := fs.MkdirAll(cleanPath, 0o755); err != nil {
				return extracted, apperr.WithPath(apperr.Filesystem, "create directory", cleanPath, err)
			}
			continue
		}

		if err := extractFile(fs, zf, cleanPath); err != nil {
			return extracted, apperr.WithPath(apperr.Filesystem, "extract", zf.Name, err)
		}
		extracted++
	}

	return extracted, nil
}

func extractFile(fs afero.Fs, zf *zip.File, destPath string) error {
	if err := fs.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}

	perm := zf.Mode().Perm()
	if perm == 0 {
		perm = 0o644
	}

	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := fs.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, rc)
	closeErr := out.Close()
	if err != nil {
		return fmt.Errorf("writing %s: %w", destPath, err)
	}
	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", destPath, closeErr)
	}
	return fs.Chmod(destPath, perm)
}

// commonRoot returns "dir/" when every entry lives under that single
// top-level directory, and "" otherwise.
func commonRoot(files []*zip.File) string {
	root := ""
	nested := false
	for _, zf := range files {
		first, rest, found := strings.Cut(zf.Name, "/")
		if !found && !zf.FileInfo().IsDir() {
			return ""
		}
		if root == "" {
			root = first
		} else if first != root {
			return ""
		}
		if rest != "" {
			nested = true
		}
	}
	if root == "" || !nested {
		return ""
	}
	return root + "/"
}

// WriteZip writes the named files from dir into w as a flat deflate archive.
func WriteZip(fs afero.Fs, w io.Writer, dir string, names []string) error {
	zw := zip.NewWriter(w)
	for _, name := range names {
		if err := addFile(fs, zw, filepath.Join(dir, name), name); err != nil {
			zw.Close()
			return apperr.WithPath(apperr.Filesystem, "add to archive", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return apperr.New(apperr.Filesystem, "finish archive", err)
	}
	return nil
}

func addFile(fs afero.Fs, zw *zip.Writer, src, name string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	header := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: info.ModTime().UTC().Truncate(time.Second),
	}
	header.SetMode(info.Mode().Perm())

	out, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	return err
}
