package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caedis/mc-manager/internal/curseforge"
	"github.com/caedis/mc-manager/internal/downloader"
	"github.com/caedis/mc-manager/internal/modlist"
	"github.com/caedis/mc-manager/internal/packconfig"
)

const (
	DefaultServerDir    = "atm10"
	DefaultExtraModsDir = "extra_mods"
	DefaultUnit         = "atm10.service"
	DefaultListen       = ":8000"

	EnvServerDir    = "SERVER_LOCATION"
	EnvExtraModsDir = "EXTRA_MODS_DIR"
	EnvUnit         = "MC_MANAGER_UNIT"
	EnvProjectID    = "CURSEFORGE_PROJECT_ID"

	ModsDirName     = "mods"
	StartScriptName = "startserver.sh"
	BackupSuffix    = "_backup"
)

// Settings holds the resolved locations and remote endpoints every workflow
// operates on.
type Settings struct {
	ServerRoot string
	BackupRoot string
	StagingDir string
	Unit       string

	ProjectID int64
	APIBase   string

	ListTimeout     time.Duration
	DownloadTimeout time.Duration

	Listen string
}

// Defaults returns settings for the stock server layout.
func Defaults() Settings {
	return Settings{
		ServerRoot:      DefaultServerDir,
		BackupRoot:      BackupRootFor(DefaultServerDir),
		StagingDir:      DefaultExtraModsDir,
		Unit:            DefaultUnit,
		ProjectID:       curseforge.DefaultProjectID,
		APIBase:         curseforge.DefaultBaseURL,
		ListTimeout:     curseforge.DefaultTimeout,
		DownloadTimeout: downloader.DefaultTimeout,
		Listen:          DefaultListen,
	}
}

// FromEnv returns Defaults overlaid with any of SERVER_LOCATION,
// EXTRA_MODS_DIR, MC_MANAGER_UNIT and CURSEFORGE_PROJECT_ID that are set.
// Unparseable values are ignored.
func FromEnv(getenv func(string) string) Settings {
	if getenv == nil {
		getenv = os.Getenv
	}
	s := Defaults()
	if v := strings.TrimSpace(getenv(EnvServerDir)); v != "" {
		s.ServerRoot = v
	}
	if v := strings.TrimSpace(getenv(EnvExtraModsDir)); v != "" {
		s.StagingDir = v
	}
	if v := strings.TrimSpace(getenv(EnvUnit)); v != "" {
		s.Unit = v
	}
	if v := strings.TrimSpace(getenv(EnvProjectID)); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil && id > 0 {
			s.ProjectID = id
		}
	}
	s.BackupRoot = BackupRootFor(s.ServerRoot)
	return s
}

// BackupRootFor returns the single backup slot for serverRoot.
func BackupRootFor(serverRoot string) string {
	return filepath.Clean(serverRoot) + BackupSuffix
}

func (s Settings) ModsDir() string {
	return filepath.Join(s.ServerRoot, ModsDirName)
}

// AllowListPath is the live mods.list of the installed pack.
func (s Settings) AllowListPath() string {
	return filepath.Join(s.ServerRoot, modlist.FileName)
}

// SnapshotPath is the mods.list written into the backup slot.
func (s Settings) SnapshotPath() string {
	return filepath.Join(s.BackupRoot, modlist.FileName)
}

func (s Settings) VersionFile() string {
	return filepath.Join(s.ServerRoot, filepath.FromSlash(packconfig.VersionFile))
}

func (s Settings) PropertiesFile() string {
	return filepath.Join(s.ServerRoot, packconfig.PropertiesFile)
}

func (s Settings) StartScript() string {
	return filepath.Join(s.ServerRoot, StartScriptName)
}
