// Package modlist reads and writes mods.list, the newline separated list of
// mod jar filenames expected for the installed modpack version.
package modlist

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"
)

const FileName = "mods.list"

// Parse splits manifest content into filenames. Lines are trimmed and blank
// lines dropped, so a trailing newline has no effect.
func Parse(content string) []string {
	var names []string
	for _, line := range strings.Split(content, "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		names = append(names, name)
	}
	return names
}

// Format joins names one per line without a trailing newline. An empty list
// formats as the empty string.
func Format(names []string) string {
	return strings.Join(names, "\n")
}

// Read loads the manifest at path.
func Read(fs afero.Fs, path string) ([]string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return Parse(string(data)), nil
}

// Write replaces the manifest at path with names.
func Write(fs afero.Fs, path string, names []string) error {
	if err := afero.WriteFile(fs, path, []byte(Format(names)), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a manifest file is present at path.
func Exists(fs afero.Fs, path string) (bool, error) {
	_, err := fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// ListJars returns the sorted names of regular .jar files directly inside dir.
// Subdirectories are not descended into.
func ListJars(fs afero.Fs, dir string) ([]string, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.Mode().IsRegular() {
			continue
		}
		if filepath.Ext(e.Name()) == ".jar" {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// Generate writes a manifest at path listing the jars currently in modsDir.
// It returns the names written.
func Generate(fs afero.Fs, modsDir, path string) ([]string, error) {
	names, err := ListJars(fs, modsDir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", modsDir, err)
	}
	if err := Write(fs, path, names); err != nil {
		return nil, err
	}
	return names, nil
}
