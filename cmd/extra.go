package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/caedis/mc-manager/internal/logging"
	"github.com/caedis/mc-manager/internal/staging"
	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var zipOutput string

var extraCmd = &cobra.Command{
	Use:   "extra",
	Short: "Manage extra mods",
	Long:  "Add, remove, or list the extra mods that update-extras and update-pack layer on top of the server pack.",
}

func stagingArea() *staging.Area {
	return staging.New(afero.NewOsFs(), settings.StagingDir)
}

var extraListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extra mods",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := stagingArea().List()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			logging.Infoln("No extra mods staged.")
			return nil
		}
		logging.Infoln("Extra mods:")
		for _, n := range names {
			logging.Infof("  - %s\n", n)
		}
		return nil
	},
}

var extraAddCmd = &cobra.Command{
	Use:   "add [jar files...]",
	Short: "Copy jar files into the extra mods directory",
	Long:  "Copy local .jar files into the extra mods directory. They are installed on the next update-extras or update-pack.",
	Args:  usageArgs(cobra.MinimumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		area := stagingArea()
		for _, path := range args {
			n, err := area.Import(path)
			if err != nil {
				return err
			}
			logging.Infof("  Added %s (%s)\n", path, humanize.IBytes(uint64(n)))
		}
		return nil
	},
}

var extraRemoveCmd = &cobra.Command{
	Use:   "remove [jar names...]",
	Short: "Remove extra mods",
	Args:  usageArgs(cobra.MinimumNArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		area := stagingArea()
		for _, name := range args {
			err := area.Delete(name)
			switch {
			case errors.Is(err, os.ErrNotExist):
				logging.Infof("  %s is not in the extra mods directory\n", name)
			case err != nil:
				return err
			default:
				logging.Infof("  %s — removed, uninstalled on next update-extras\n", name)
			}
		}
		return nil
	},
}

var extraZipCmd = &cobra.Command{
	Use:   "zip",
	Short: "Bundle the extra mods into a zip archive",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Create(zipOutput)
		if err != nil {
			return fmt.Errorf("creating %s: %w", zipOutput, err)
		}
		if err := stagingArea().WriteZip(f); err != nil {
			f.Close()
			os.Remove(zipOutput)
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("closing %s: %w", zipOutput, err)
		}
		logging.Infof("Wrote %s\n", zipOutput)
		return nil
	},
}

func init() {
	extraZipCmd.Flags().StringVarP(&zipOutput, "output", "o", "mods.zip", "Archive path to write")
	extraCmd.AddCommand(extraListCmd, extraAddCmd, extraRemoveCmd, extraZipCmd)
	rootCmd.AddCommand(extraCmd)
}
