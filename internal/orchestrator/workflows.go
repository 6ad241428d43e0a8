package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/caedis/mc-manager/internal/apperr"
	"github.com/caedis/mc-manager/internal/archive"
	"github.com/caedis/mc-manager/internal/config"
	"github.com/caedis/mc-manager/internal/curseforge"
	"github.com/caedis/mc-manager/internal/logging"
	"github.com/caedis/mc-manager/internal/modlist"
	"github.com/caedis/mc-manager/internal/packconfig"
	"github.com/caedis/mc-manager/internal/reconcile"
	"github.com/caedis/mc-manager/internal/semver"
	"github.com/caedis/mc-manager/internal/serverctl"
	"github.com/spf13/afero"
)

// ReconcileMods stops the server, removes installed mods that are not in the
// allow list, installs the staged extra mods and starts the server again.
//
// A failed stop leaves every file untouched. A failed start after
// reconciliation leaves the mods reconciled and the server down.
func (o *Orchestrator) ReconcileMods(ctx context.Context) (*reconcile.Result, error) {
	var result *reconcile.Result
	err := o.guarded(WorkflowReconcile, func(r *run) error {
		if err := r.setState(ctx, serverctl.Stop); err != nil {
			return err
		}

		var allow []string
		if err := r.step("read allow list", func() error {
			var err error
			allow, err = modlist.Read(o.fs(), o.Settings.AllowListPath())
			return err
		}); err != nil {
			return err
		}

		if err := r.step("reconcile", func() error {
			var err error
			result, err = reconcile.Reconcile(o.fs(), o.Settings.ModsDir(), o.Settings.StagingDir, allow)
			if err != nil {
				return err
			}
			o.Metrics.ModsReconciled(len(result.Removed), len(result.Added), len(result.Failed))
			r.log.WithField("policy", BestEffort.String()).
				WithField("removed", len(result.Removed)).
				WithField("added", len(result.Added)).
				WithField("failed", len(result.Failed)).
				Info("mods reconciled")
			return nil
		}); err != nil {
			return err
		}

		return r.setState(ctx, serverctl.Start)
	})
	return result, err
}

// Backup rebuilds the backup slot from the live server: it wipes BackupRoot,
// writes a mods.list snapshot of the installed jars and copies every
// manifest entry. The first failed copy aborts the remaining entries.
func (o *Orchestrator) Backup(ctx context.Context) (*config.BackupRecord, error) {
	var rec *config.BackupRecord
	err := o.guarded(WorkflowBackup, func(r *run) error {
		var err error
		rec, err = o.backupCycle(r)
		return err
	})
	return rec, err
}

func (o *Orchestrator) backupCycle(r *run) (*config.BackupRecord, error) {
	s := o.Settings
	rec := &config.BackupRecord{
		RunID:      r.id,
		CreatedAt:  time.Now().UTC(),
		ServerRoot: s.ServerRoot,
		Items:      []string{},
	}

	if err := r.step("wipe backup", func() error {
		return o.engine().WipeAndRecreate(s.BackupRoot)
	}); err != nil {
		return nil, err
	}

	if err := r.step("write mods snapshot", func() error {
		names, err := modlist.ListJars(o.fs(), s.ModsDir())
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				r.log.Debug("no mods directory, skipping snapshot")
				return nil
			}
			return apperr.WithPath(apperr.Filesystem, "list mods", s.ModsDir(), err)
		}
		rec.Mods = len(names)
		return modlist.Write(o.fs(), s.SnapshotPath(), names)
	}); err != nil {
		return nil, err
	}

	if err := r.step("copy files", func() error {
		copied, err := o.engine().CopyManifest(s.ServerRoot, s.BackupRoot, o.manifest())
		rec.Items = append(rec.Items, copied...)
		return err
	}); err != nil {
		return nil, err
	}

	if v, err := packconfig.ReadVersion(o.fs(), s.VersionFile()); err == nil {
		rec.PackVersion = v
	}
	if err := r.step("write record", func() error {
		if err := rec.Save(o.fs(), s.BackupRoot); err != nil {
			return apperr.WithPath(apperr.Filesystem, "write", s.BackupRoot, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	logging.Infof("Backed up %d items and %d mods to %s\n", len(rec.Items), rec.Mods, s.BackupRoot)
	return rec, nil
}

// RestoreReport describes what a restore changed.
type RestoreReport struct {
	RunID            string
	Items            []string
	Version          string
	MOTDPatched      bool
	ScriptExecutable bool
	ModListGenerated bool
}

// Restore copies the manifest entries from the backup slot back into the
// server, re-derives the MOTD from the restored pack version, makes the
// start script executable and regenerates mods.list if it is missing.
func (o *Orchestrator) Restore(ctx context.Context) (*RestoreReport, error) {
	var report *RestoreReport
	err := o.guarded(WorkflowRestore, func(r *run) error {
		report = &RestoreReport{RunID: r.id}
		if err := r.step("copy files", func() error {
			copied, err := o.engine().CopyManifest(o.Settings.BackupRoot, o.Settings.ServerRoot, o.manifest())
			report.Items = copied
			return err
		}); err != nil {
			return err
		}

		if err := r.step("patch motd", func() error {
			v, err := packconfig.ReadVersion(o.fs(), o.Settings.VersionFile())
			if err != nil {
				if apperr.Is(err, apperr.ConfigFieldMissing) || errors.Is(err, os.ErrNotExist) {
					r.log.WithError(err).Warn("no pack version, leaving motd unchanged")
					return nil
				}
				return err
			}
			report.Version = v
			report.MOTDPatched, err = packconfig.PatchMOTD(o.fs(), o.Settings.PropertiesFile(), packconfig.MOTD(v))
			return err
		}); err != nil {
			return err
		}

		if err := r.step("make start script executable", func() error {
			var err error
			report.ScriptExecutable, err = o.engine().MakeExecutable(o.Settings.StartScript())
			return err
		}); err != nil {
			return err
		}

		return r.step("regenerate mods list", func() error {
			exists, err := modlist.Exists(o.fs(), o.Settings.AllowListPath())
			if err != nil || exists {
				return err
			}
			names, err := modlist.Generate(o.fs(), o.Settings.ModsDir(), o.Settings.AllowListPath())
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return nil
				}
				return err
			}
			report.ModListGenerated = true
			r.log.WithField("mods", len(names)).Info("generated mods list")
			return nil
		})
	})
	return report, err
}

// UpdateReport describes a completed pack upgrade.
type UpdateReport struct {
	RunID     string
	Previous  string
	Version   string
	Extracted int
	Bytes     int64
	AllowList []string
	Staged    *reconcile.Result
}

// UpdatePack replaces the installed server pack with the latest published
// one. The sequence is stop, backup, wipe, resolve, download, extract, chmod,
// restore files, regenerate the allow list, install staged mods, start and
// finally patch the MOTD. Nothing is rolled back on failure; the backup slot
// is the recovery path.
func (o *Orchestrator) UpdatePack(ctx context.Context) (*UpdateReport, error) {
	var report *UpdateReport
	err := o.guarded(WorkflowUpdatePack, func(r *run) error {
		s := o.Settings
		report = &UpdateReport{RunID: r.id}
		if v, err := packconfig.ReadVersion(o.fs(), s.VersionFile()); err == nil {
			report.Previous = v
		}

		if err := r.setState(ctx, serverctl.Stop); err != nil {
			return err
		}

		if _, err := o.backupCycle(r); err != nil {
			return err
		}

		if err := r.step("wipe server", func() error {
			return o.engine().WipeAndRecreate(s.ServerRoot)
		}); err != nil {
			return err
		}

		var pack *curseforge.ServerPack
		if err := r.step("resolve latest", func() error {
			if o.Resolver == nil {
				return apperr.Errorf(apperr.Lookup, "resolve", "no resolver configured")
			}
			var err error
			pack, err = o.Resolver.LatestServerPack(ctx)
			return err
		}); err != nil {
			return err
		}
		report.Version = pack.Version
		r.log.WithField("version", pack.Version).WithField("file_id", pack.FileID).Info("resolved server pack")

		tmpDir, cleanup, err := o.downloadDir()
		if err != nil {
			return &StepError{Workflow: r.workflow, Step: "download", Err: err}
		}
		defer cleanup()
		zipPath := filepath.Join(tmpDir, "server-pack.zip")

		if err := r.step("download", func() error {
			if o.Downloader == nil {
				return apperr.Errorf(apperr.Lookup, "download", "no downloader configured")
			}
			n, err := o.Downloader.DownloadToFile(ctx, pack.DownloadURL, zipPath)
			report.Bytes = n
			o.Metrics.Downloaded(n)
			return err
		}); err != nil {
			return err
		}

		if err := r.step("extract", func() error {
			var err error
			report.Extracted, err = archive.Extract(o.fs(), zipPath, s.ServerRoot)
			return err
		}); err != nil {
			return err
		}

		if err := r.step("make start script executable", func() error {
			_, err := o.engine().MakeExecutable(s.StartScript())
			return err
		}); err != nil {
			return err
		}

		// The restored config tree would otherwise put the previous
		// modpackVersion back.
		marker, markerErr := afero.ReadFile(o.fs(), s.VersionFile())

		if err := r.step("restore files", func() error {
			_, err := o.engine().CopyManifest(s.BackupRoot, s.ServerRoot, o.manifest())
			return err
		}); err != nil {
			return err
		}

		if markerErr == nil {
			if err := r.step("keep pack version", func() error {
				return afero.WriteFile(o.fs(), s.VersionFile(), marker, 0o644)
			}); err != nil {
				return err
			}
		}

		if err := r.step("regenerate mods list", func() error {
			if err := o.fs().MkdirAll(s.ModsDir(), 0o755); err != nil {
				return apperr.WithPath(apperr.Filesystem, "create directory", s.ModsDir(), err)
			}
			var err error
			report.AllowList, err = modlist.Generate(o.fs(), s.ModsDir(), s.AllowListPath())
			return err
		}); err != nil {
			return err
		}

		if err := r.step("copy staged mods", func() error {
			var err error
			report.Staged, err = reconcile.CopyStaged(o.fs(), s.StagingDir, s.ModsDir())
			if err == nil {
				o.Metrics.ModsReconciled(0, len(report.Staged.Added), len(report.Staged.Failed))
			}
			return err
		}); err != nil {
			return err
		}

		if err := r.setState(ctx, serverctl.Start); err != nil {
			return err
		}

		return r.step("patch motd", func() error {
			_, err := packconfig.PatchMOTD(o.fs(), s.PropertiesFile(), packconfig.MOTD(pack.Version))
			return err
		})
	})
	return report, err
}

func (o *Orchestrator) downloadDir() (string, func(), error) {
	if o.TempDir != "" {
		if err := o.fs().MkdirAll(o.TempDir, 0o755); err != nil {
			return "", nil, apperr.WithPath(apperr.Filesystem, "create directory", o.TempDir, err)
		}
		dir, err := afero.TempDir(o.fs(), o.TempDir, "pack-")
		if err != nil {
			return "", nil, apperr.WithPath(apperr.Filesystem, "create temp dir in", o.TempDir, err)
		}
		return dir, func() { o.fs().RemoveAll(dir) }, nil
	}
	dir, err := afero.TempDir(o.fs(), "", "mc-manager-pack-")
	if err != nil {
		return "", nil, apperr.New(apperr.Filesystem, "create temp dir", err)
	}
	return dir, func() { o.fs().RemoveAll(dir) }, nil
}

// UpdateStatus compares the installed pack with the newest published one.
type UpdateStatus struct {
	Local    string `json:"local_version"`
	Latest   string `json:"latest_version"`
	UpToDate bool   `json:"up_to_date"`
	// Newer is set when Latest sorts above Local.
	Newer bool `json:"newer_available"`
}

// CheckUpdate reads the installed pack version and compares it with the
// latest server pack. It changes nothing and so takes no guard. A missing
// version field is an apperr.ConfigFieldMissing error, distinct from a
// failed remote lookup.
func (o *Orchestrator) CheckUpdate(ctx context.Context) (*UpdateStatus, error) {
	r := o.newRun(WorkflowCheckUpdate)

	var local string
	if err := r.step("read local version", func() error {
		var err error
		local, err = packconfig.ReadVersion(o.fs(), o.Settings.VersionFile())
		return err
	}); err != nil {
		return nil, err
	}

	var pack *curseforge.ServerPack
	if err := r.step("resolve latest", func() error {
		if o.Resolver == nil {
			return apperr.Errorf(apperr.Lookup, "resolve", "no resolver configured")
		}
		var err error
		pack, err = o.Resolver.LatestServerPack(ctx)
		return err
	}); err != nil {
		return nil, err
	}

	return &UpdateStatus{
		Local:    local,
		Latest:   pack.Version,
		UpToDate: semver.Equal(local, pack.Version),
		Newer:    semver.Compare(pack.Version, local) > 0,
	}, nil
}
