package cmd

import (
	"bytes"

	"github.com/BurntSushi/toml"
	"github.com/caedis/mc-manager/internal/logging"
	"github.com/caedis/mc-manager/internal/profile"
	"github.com/spf13/cobra"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage saved option profiles",
}

var profileCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new profile",
	Long:  "Save the global flags given on this command line (for example --server-dir or --unit) as a named profile.",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := profileFromFlags(cmd.Flags().Changed)
		if err := profile.Save(args[0], p); err != nil {
			return err
		}
		logging.Infof("Profile %q saved to %s\n", args[0], profile.Dir())
		return nil
	},
}

// profileFromFlags captures the explicitly set global flags.
func profileFromFlags(changed func(string) bool) *profile.Profile {
	p := &profile.Profile{}
	if changed("server-dir") {
		v := serverDir
		p.ServerDir = &v
	}
	if changed("extra-mods-dir") {
		v := extraModsDir
		p.ExtraModsDir = &v
	}
	if changed("unit") {
		v := unit
		p.Unit = &v
	}
	if changed("project-id") {
		v := projectID
		p.ProjectID = &v
	}
	if changed("api-base") {
		v := apiBase
		p.APIBase = &v
	}
	if changed("listen") {
		v := listenAddr
		p.Listen = &v
	}
	if changed("verbose") {
		v := verbose
		p.Verbose = &v
	}
	if changed("log-file") {
		v := logFile
		p.LogFile = &v
	}
	if changed("log-format") {
		v := logFormat
		p.LogFormat = &v
	}
	return p
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved profiles",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		names, err := profile.List()
		if err != nil {
			return err
		}
		if len(names) == 0 {
			logging.Infoln("No profiles saved.")
			return nil
		}
		for _, n := range names {
			logging.Infoln(n)
		}
		return nil
	},
}

var profileShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show a profile's contents",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := profile.Load(args[0])
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(p); err != nil {
			return err
		}
		logging.Infof("%s", buf.String())
		return nil
	},
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a saved profile",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := profile.Delete(args[0]); err != nil {
			return err
		}
		logging.Infof("Profile %q deleted.\n", args[0])
		return nil
	},
}

func init() {
	profileCreateCmd.Flags().StringVar(&listenAddr, "listen", "", "Address for the serve command to listen on")

	profileCmd.AddCommand(profileCreateCmd, profileListCmd, profileShowCmd, profileDeleteCmd)
	rootCmd.AddCommand(profileCmd)
}
