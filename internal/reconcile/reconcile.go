// Package reconcile brings the installed mods directory in line with the
// modpack's allow list and the user's staged extra mods.
package reconcile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/caedis/mc-manager/internal/apperr"
	"github.com/caedis/mc-manager/internal/logging"
	"github.com/caedis/mc-manager/internal/modlist"
	"github.com/spf13/afero"
)

// Failure records a single file that could not be removed or installed.
type Failure struct {
	File string
	Op   string
	Err  error
}

func (f Failure) String() string {
	return fmt.Sprintf("%s %s: %v", f.Op, f.File, f.Err)
}

type Result struct {
	Removed []string
	Added   []string
	Failed  []Failure
}

// Reconcile deletes every .jar in installedDir whose name is not in
// allowList, then copies every .jar from stagingDir into installedDir,
// overwriting same-named files. Deletions always finish before any addition.
//
// Individual file failures are logged, recorded in Result.Failed and skipped.
// Only an unreadable installedDir aborts the run. A missing stagingDir means
// there is nothing to add.
func Reconcile(fs afero.Fs, installedDir, stagingDir string, allowList []string) (*Result, error) {
	allowed := make(map[string]bool, len(allowList))
	for _, name := range allowList {
		allowed[name] = true
	}

	installed, err := modlist.ListJars(fs, installedDir)
	if err != nil {
		return nil, apperr.WithPath(apperr.Filesystem, "list mods", installedDir, err)
	}

	result := &Result{}
	for _, name := range installed {
		if allowed[name] {
			continue
		}
		path := filepath.Join(installedDir, name)
		if err := fs.Remove(path); err != nil {
			if os.IsNotExist(err) {
				logging.Debugf("Verbose: %s vanished before removal\n", name)
				continue
			}
			logging.Infof("  ! Could not remove %s: %v\n", name, err)
			result.Failed = append(result.Failed, Failure{File: name, Op: "remove", Err: err})
			continue
		}
		logging.Infof("  - Removed disallowed mod %s\n", name)
		result.Removed = append(result.Removed, name)
	}

	addStaged(fs, stagingDir, installedDir, result)
	return result, nil
}

// CopyStaged copies every staged .jar into modsDir without removing anything.
// It is the addition half of Reconcile, used after a fresh pack install.
func CopyStaged(fs afero.Fs, stagingDir, modsDir string) (*Result, error) {
	if err := fs.MkdirAll(modsDir, 0o755); err != nil {
		return nil, apperr.WithPath(apperr.Filesystem, "create directory", modsDir, err)
	}
	result := &Result{}
	addStaged(fs, stagingDir, modsDir, result)
	return result, nil
}

// addStaged copies each staged .jar into modsDir, recording outcomes in result.
func addStaged(fs afero.Fs, stagingDir, modsDir string, result *Result) {
	staged, err := modlist.ListJars(fs, stagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Debugf("Verbose: staging directory %s does not exist\n", stagingDir)
			return
		}
		logging.Infof("  ! Could not list staged mods in %s: %v\n", stagingDir, err)
		result.Failed = append(result.Failed, Failure{File: stagingDir, Op: "list", Err: err})
		return
	}

	for _, name := range staged {
		if err := copyJar(fs, filepath.Join(stagingDir, name), filepath.Join(modsDir, name)); err != nil {
			logging.Infof("  ! Could not install %s: %v\n", name, err)
			result.Failed = append(result.Failed, Failure{File: name, Op: "install", Err: err})
			continue
		}
		logging.Infof("  + Installed extra mod %s\n", name)
		result.Added = append(result.Added, name)
	}
}

func copyJar(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	closeErr := out.Close()
	if err != nil {
		return err
	}
	return closeErr
}
