package profile

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caedis/mc-manager/internal/config"
)

// Profile holds saveable CLI options. All fields are pointers so we can
// distinguish "not set" from zero values.
type Profile struct {
	ServerDir    *string `toml:"server-dir,omitempty"`
	ExtraModsDir *string `toml:"extra-mods-dir,omitempty"`
	Unit         *string `toml:"unit,omitempty"`
	ProjectID    *int64  `toml:"project-id,omitempty"`
	APIBase      *string `toml:"api-base,omitempty"`
	Listen       *string `toml:"listen,omitempty"`
	Verbose      *bool   `toml:"verbose,omitempty"`
	LogFile      *string `toml:"log-file,omitempty"`
	LogFormat    *string `toml:"log-format,omitempty"`
}

// Apply copies the profile's server settings onto s.
func (p *Profile) Apply(s *config.Settings) {
	if p.ServerDir != nil {
		s.ServerRoot = *p.ServerDir
		s.BackupRoot = config.BackupRootFor(s.ServerRoot)
	}
	if p.ExtraModsDir != nil {
		s.StagingDir = *p.ExtraModsDir
	}
	if p.Unit != nil {
		s.Unit = *p.Unit
	}
	if p.ProjectID != nil {
		s.ProjectID = *p.ProjectID
	}
	if p.APIBase != nil {
		s.APIBase = *p.APIBase
	}
	if p.Listen != nil {
		s.Listen = *p.Listen
	}
}

// Dir returns the profiles directory, using XDG_CONFIG_HOME with a fallback
// to ~/.config.
func Dir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "mc-manager", "profiles")
}

func validName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid profile name %q", name)
	}
	return nil
}

// Load reads a named profile from the profiles directory.
func Load(name string) (*Profile, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	path := filepath.Join(Dir(), name+".toml")
	var p Profile
	md, err := toml.DecodeFile(path, &p)
	if err != nil {
		return nil, fmt.Errorf("loading profile %q: %w", name, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("loading profile %q: unknown keys %v", name, undecoded)
	}
	return &p, nil
}

// Save writes a profile to the profiles directory, creating it if needed.
func Save(name string, p *Profile) error {
	if err := validName(name); err != nil {
		return err
	}
	dir := Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating profiles directory: %w", err)
	}
	path := filepath.Join(dir, name+".toml")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating profile file: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(p); err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}
	return nil
}

// List returns the names of all saved profiles.
func List() ([]string, error) {
	dir := Dir()

	var names []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if path == dir {
			return nil
		}
		if d.IsDir() {
			return filepath.SkipDir
		}
		if strings.HasSuffix(d.Name(), ".toml") {
			names = append(names, strings.TrimSuffix(d.Name(), ".toml"))
		}
		return nil
	})
	if err != nil && os.IsNotExist(err) {
		return nil, nil
	}
	return names, err
}

// Delete removes a named profile.
func Delete(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	path := filepath.Join(Dir(), name+".toml")
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting profile %q: %w", name, err)
	}
	return nil
}
