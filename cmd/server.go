package cmd

import (
	"fmt"

	"github.com/caedis/mc-manager/internal/logging"
	"github.com/caedis/mc-manager/internal/serverctl"
	"github.com/spf13/cobra"
)

var logLines int

func newActionCmd(action serverctl.Action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action.String(),
		Short: short,
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(false)
			if err != nil {
				return err
			}
			if err := a.orchestrator.SetServerState(workflowContext(cmd), action); err != nil {
				return fmt.Errorf("failed to %s %s: %w", action, settings.Unit, err)
			}
			logging.Infof("%s: %s requested\n", settings.Unit, action)
			return nil
		},
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the server unit state and installed pack version",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		state, err := a.service.Status(cmd.Context())
		if err != nil {
			return err
		}
		logging.Infof("Unit:    %s (%s)\n", settings.Unit, state)
		logging.Infof("Server:  %s\n", settings.ServerRoot)

		st, err := a.orchestrator.CheckUpdate(cmd.Context())
		if err != nil {
			logging.Infof("Version: unknown (%v)\n", err)
			return nil
		}
		logging.Infof("Version: %s\n", st.Local)
		if st.Newer {
			logging.Infof("Update available: %s\n", st.Latest)
		}
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Print the tail of the server unit's journal",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		if logLines < 1 {
			return wrapUsageError(fmt.Errorf("--lines must be positive, got %d", logLines))
		}
		a, err := newApp(false)
		if err != nil {
			return err
		}
		out, err := a.service.LogTail(cmd.Context(), logLines)
		if err != nil {
			return err
		}
		logging.Infof("%s", out)
		return nil
	},
}

func init() {
	logsCmd.Flags().IntVarP(&logLines, "lines", "n", 1000, "Number of journal lines to show")

	rootCmd.AddCommand(
		newActionCmd(serverctl.Start, "Start the server unit"),
		newActionCmd(serverctl.Stop, "Stop the server unit"),
		newActionCmd(serverctl.Restart, "Restart the server unit"),
		statusCmd,
		logsCmd,
	)
}
