package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/caedis/mc-manager/internal/config"
	"github.com/caedis/mc-manager/internal/logging"
	"github.com/caedis/mc-manager/internal/web"
	"github.com/spf13/cobra"
)

var listenAddr string

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control panel",
	Args:  usageArgs(cobra.NoArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}

		panel := &web.Server{
			Workflows: a.orchestrator,
			Service:   a.service,
			Staging:   a.staging,
			Unit:      settings.Unit,
			Gatherer:  a.registry,
		}
		srv := panel.NewHTTPServer(settings.Listen)

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		logging.L().WithField("addr", settings.Listen).WithField("server_root", settings.ServerRoot).Info("control panel listening")

		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("serving on %s: %w", settings.Listen, err)
		case <-cmd.Context().Done():
		}

		logging.L().Info("shutting down control panel")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutting down: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", config.DefaultListen, "Address to listen on")
	rootCmd.AddCommand(serveCmd)
}
