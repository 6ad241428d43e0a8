// Package packconfig reads the installed modpack version and patches
// server.properties.
package packconfig

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caedis/mc-manager/internal/apperr"
	"github.com/caedis/mc-manager/internal/logging"
	"github.com/spf13/afero"
)

// VersionFile is the pack metadata file, relative to the server root, that
// carries modpackVersion.
const VersionFile = "config/bcc-common.toml"

const PropertiesFile = "server.properties"

var (
	versionRe = regexp.MustCompile(`modpackVersion\s*=\s*"([^"]*)"`)
	motdRe    = regexp.MustCompile(`(?m)^motd\s*=.*$`)
)

type bccCommon struct {
	General struct {
		ModpackProjectID int64  `toml:"modpackProjectID"`
		ModpackName      string `toml:"modpackName"`
		ModpackVersion   string `toml:"modpackVersion"`
		UseMetadata      bool   `toml:"useMetadata"`
	} `toml:"general"`
}

// ParseVersion extracts modpackVersion from the document. The document is
// decoded as TOML; if that fails or the field is not under [general], the text
// is scanned for the first quoted modpackVersion assignment.
func ParseVersion(data []byte) (string, bool) {
	var doc bccCommon
	if _, err := toml.Decode(string(data), &doc); err == nil {
		if v := strings.TrimSpace(doc.General.ModpackVersion); v != "" {
			return v, true
		}
	} else {
		logging.Debugf("Verbose: %s is not valid TOML, scanning text: %v\n", VersionFile, err)
	}

	m := versionRe.FindSubmatch(data)
	if m == nil || len(m[1]) == 0 {
		return "", false
	}
	return string(m[1]), true
}

// ReadVersion returns the modpack version recorded at path. A missing field is
// reported as apperr.ConfigFieldMissing, an unreadable file as
// apperr.Filesystem.
func ReadVersion(fs afero.Fs, path string) (string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return "", apperr.WithPath(apperr.Filesystem, "read", path, err)
	}
	v, ok := ParseVersion(data)
	if !ok {
		return "", apperr.WithPath(apperr.ConfigFieldMissing, "read modpackVersion from", path, errors.New("field not found"))
	}
	return v, nil
}

// MOTD is the message of the day advertised for a pack version.
func MOTD(version string) string {
	return fmt.Sprintf("V%s + extras", version)
}

// SetMOTD replaces the first motd= line in content, or appends one.
func SetMOTD(content, motd string) string {
	line := "motd=" + motd
	if loc := motdRe.FindStringIndex(content); loc != nil {
		return content[:loc[0]] + line + content[loc[1]:]
	}
	trimmed := strings.TrimRight(content, "\r\n\t ")
	if trimmed == "" {
		return line + "\n"
	}
	return trimmed + "\n" + line + "\n"
}

// PatchMOTD rewrites the motd in the properties file at path. It reports
// false without an error when the file does not exist.
func PatchMOTD(fs afero.Fs, path, motd string) (bool, error) {
	info, err := fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, apperr.WithPath(apperr.Filesystem, "stat", path, err)
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return false, apperr.WithPath(apperr.Filesystem, "read", path, err)
	}
	patched := SetMOTD(string(data), motd)
	if patched == string(data) {
		return true, nil
	}
	if err := afero.WriteFile(fs, path, []byte(patched), info.Mode().Perm()); err != nil {
		return false, apperr.WithPath(apperr.Filesystem, "write", path, err)
	}
	return true, nil
}
