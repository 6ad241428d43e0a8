package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caedis/mc-manager/internal/config"
	"github.com/caedis/mc-manager/internal/curseforge"
	"github.com/caedis/mc-manager/internal/downloader"
	"github.com/caedis/mc-manager/internal/logging"
	"github.com/caedis/mc-manager/internal/profile"
	"github.com/spf13/cobra"
)

var (
	serverDir    string
	extraModsDir string
	unit         string
	projectID    int64
	apiBase      string
	profileName  string
	verbose      bool
	logFile      string
	logFormat    string

	httpTimeout     time.Duration
	downloadTimeout time.Duration

	// settings is resolved once per invocation in PersistentPreRunE.
	settings config.Settings
)

var rootCmd = &cobra.Command{
	Use:           "mc-manager",
	Short:         "Control panel for a modded Minecraft server",
	Long:          "Start, stop and back up a systemd managed Minecraft server, layer extra mods onto it, and upgrade it to the latest CurseForge server pack.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var p *profile.Profile
		if profileName != "" {
			loaded, err := profile.Load(profileName)
			if err != nil {
				return err
			}
			p = loaded
		}

		settings = resolveSettings(cmd.Flags().Changed, p, os.Getenv)

		logging.SetVerbose(verbose)
		if err := logging.SetFormat(logFormat); err != nil {
			return wrapUsageError(err)
		}
		if err := logging.SetOutputFile(logFile); err != nil {
			return fmt.Errorf("opening log file %q: %w", logFile, err)
		}
		logging.Debugf("Verbose: server root %s, backup root %s, extra mods %s, unit %s\n",
			settings.ServerRoot, settings.BackupRoot, settings.StagingDir, settings.Unit)
		return nil
	},
}

// resolveSettings layers defaults, environment, profile and explicitly set
// flags, in increasing order of precedence. Logging options from the profile
// are applied to the package flag vars.
func resolveSettings(changed func(string) bool, p *profile.Profile, getenv func(string) string) config.Settings {
	s := config.FromEnv(getenv)

	if p != nil {
		p.Apply(&s)
		if p.Verbose != nil && !changed("verbose") {
			verbose = *p.Verbose
		}
		if p.LogFile != nil && !changed("log-file") {
			logFile = *p.LogFile
		}
		if p.LogFormat != nil && !changed("log-format") {
			logFormat = *p.LogFormat
		}
	}

	if changed("server-dir") {
		s.ServerRoot = serverDir
		s.BackupRoot = config.BackupRootFor(serverDir)
	}
	if changed("extra-mods-dir") {
		s.StagingDir = extraModsDir
	}
	if changed("unit") {
		s.Unit = unit
	}
	if changed("project-id") {
		s.ProjectID = projectID
	}
	if changed("api-base") {
		s.APIBase = apiBase
	}
	if changed("listen") {
		s.Listen = listenAddr
	}
	if changed("http-timeout") {
		s.ListTimeout = httpTimeout
	}
	if changed("download-timeout") {
		s.DownloadTimeout = downloadTimeout
	}
	return s
}

// workflowContext detaches a state-changing workflow from the command's
// signal context. An interrupt stops the CLI from starting new work but never
// aborts a workflow half way through.
func workflowContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithoutCancel(ctx)
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	closeErr := logging.Close()
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "Error closing log file: %v\n", closeErr)
		if err == nil {
			os.Exit(1)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if isUsageError(err) {
			if cmd, _, findErr := rootCmd.Find(os.Args[1:]); findErr == nil && cmd != nil {
				_ = cmd.Usage()
			} else {
				_ = rootCmd.Usage()
			}
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return wrapUsageError(err)
	})

	rootCmd.PersistentFlags().StringVarP(&serverDir, "server-dir", "d", config.DefaultServerDir, "Server root directory (also reads "+config.EnvServerDir+")")
	rootCmd.PersistentFlags().StringVar(&extraModsDir, "extra-mods-dir", config.DefaultExtraModsDir, "Directory of extra mods layered on the pack (also reads "+config.EnvExtraModsDir+")")
	rootCmd.PersistentFlags().StringVar(&unit, "unit", config.DefaultUnit, "systemd user unit running the server (also reads "+config.EnvUnit+")")
	rootCmd.PersistentFlags().Int64Var(&projectID, "project-id", 0, "CurseForge project id of the modpack (also reads "+config.EnvProjectID+")")
	rootCmd.PersistentFlags().StringVar(&apiBase, "api-base", "", "CurseForge API base URL")
	rootCmd.PersistentFlags().DurationVar(&httpTimeout, "http-timeout", curseforge.DefaultTimeout, "Timeout for the CurseForge file listing")
	rootCmd.PersistentFlags().DurationVar(&downloadTimeout, "download-timeout", downloader.DefaultTimeout, "Timeout for downloading a server pack")
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Load a saved option profile by name")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write command output to a log file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Structured log format: text or json")
}

type usageError struct {
	err error
}

func (e *usageError) Error() string {
	return e.err.Error()
}

func (e *usageError) Unwrap() error {
	return e.err
}

func wrapUsageError(err error) error {
	if err == nil {
		return nil
	}
	return &usageError{err: err}
}

func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if validate == nil {
			return nil
		}
		if err := validate(cmd, args); err != nil {
			return wrapUsageError(err)
		}
		return nil
	}
}

func isUsageError(err error) bool {
	var ue *usageError
	if errors.As(err, &ue) {
		return true
	}

	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command ")
}
