package cmd

import (
	"strings"

	"github.com/caedis/mc-manager/internal/logging"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Copy the server's world and settings into the backup slot",
	Long:  "Replace the backup slot with eula.txt, ops.json, server.properties, config and world from the server root, plus a snapshot of the installed mods.",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		rec, err := a.orchestrator.Backup(workflowContext(cmd))
		if err != nil {
			return err
		}
		logging.Infof("Backup complete: %d items, %d mods -> %s\n", len(rec.Items), rec.Mods, settings.BackupRoot)
		if len(rec.Items) > 0 {
			logging.Infof("  %s\n", strings.Join(rec.Items, ", "))
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Copy the backup slot back over the server root",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		rep, err := a.orchestrator.Restore(workflowContext(cmd))
		if err != nil {
			return err
		}
		logging.Infof("Restore complete: %d items restored\n", len(rep.Items))
		if rep.MOTDPatched {
			logging.Infof("  MOTD set for version %s\n", rep.Version)
		}
		if rep.ModListGenerated {
			logging.Infoln("  Regenerated mods.list from installed mods")
		}
		return nil
	},
}

var updateExtrasCmd = &cobra.Command{
	Use:   "update-extras",
	Short: "Reconcile installed mods with the allow list and extra mods",
	Long:  "Stop the server, remove mods not in mods.list, copy in every staged extra mod, then start the server again.",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		res, err := a.orchestrator.ReconcileMods(workflowContext(cmd))
		if res != nil {
			for _, name := range res.Removed {
				logging.Infof("  - %s\n", name)
			}
			for _, name := range res.Added {
				logging.Infof("  + %s\n", name)
			}
			for _, f := range res.Failed {
				logging.Infof("  ! %s\n", f)
			}
		}
		if err != nil {
			return err
		}
		logging.Infof("Extra mods updated: %d removed, %d added, %d failed\n", len(res.Removed), len(res.Added), len(res.Failed))
		return nil
	},
}

var checkUpdateCmd = &cobra.Command{
	Use:   "check-update",
	Short: "Compare the installed pack version with the latest server pack",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		st, err := a.orchestrator.CheckUpdate(cmd.Context())
		if err != nil {
			return err
		}
		logging.Infof("Installed: %s\n", st.Local)
		logging.Infof("Latest:    %s\n", st.Latest)
		switch {
		case st.UpToDate:
			logging.Infoln("Server is up to date.")
		case st.Newer:
			logging.Infoln("A newer server pack is available. Run update-pack to install it.")
		default:
			logging.Infoln("Installed version differs from the latest release.")
		}
		return nil
	},
}

var updatePackCmd = &cobra.Command{
	Use:   "update-pack",
	Short: "Install the latest server pack, keeping world and settings",
	Long: `Stop the server, back it up, replace the server root with the latest
CurseForge server pack, restore the backed up files, re-apply extra mods and
start the server again.`,
	Args: usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(true)
		if err != nil {
			return err
		}
		rep, err := a.orchestrator.UpdatePack(workflowContext(cmd))
		if err != nil {
			return err
		}
		previous := rep.Previous
		if previous == "" {
			previous = "unknown"
		}
		logging.Infof("\nUpdate complete: %s → %s\n", previous, rep.Version)
		logging.Infof("  Server pack: %s, %d files extracted\n", humanize.IBytes(uint64(rep.Bytes)), rep.Extracted)
		logging.Infof("  Allow list: %d mods\n", len(rep.AllowList))
		if rep.Staged != nil {
			logging.Infof("  Extra mods: %d added, %d failed\n", len(rep.Staged.Added), len(rep.Staged.Failed))
			for _, f := range rep.Staged.Failed {
				logging.Infof("  ! %s\n", f)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backupCmd, restoreCmd, updateExtrasCmd, checkUpdateCmd, updatePackCmd)
}
