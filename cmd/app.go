package cmd

import (
	"github.com/caedis/mc-manager/internal/curseforge"
	"github.com/caedis/mc-manager/internal/downloader"
	"github.com/caedis/mc-manager/internal/lock"
	"github.com/caedis/mc-manager/internal/metrics"
	"github.com/caedis/mc-manager/internal/orchestrator"
	"github.com/caedis/mc-manager/internal/serverctl"
	"github.com/caedis/mc-manager/internal/staging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
)

// app bundles the components one invocation works with.
type app struct {
	fs           afero.Fs
	service      *serverctl.Systemctl
	staging      *staging.Area
	registry     *prometheus.Registry
	orchestrator *orchestrator.Orchestrator
}

func newApp(progress bool) (*app, error) {
	fs := afero.NewOsFs()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New()
	if err := m.Register(reg); err != nil {
		return nil, err
	}

	resolver := curseforge.New(settings.APIBase, settings.ProjectID)
	resolver.Timeout = settings.ListTimeout

	dl := downloader.New(fs)
	dl.Timeout = settings.DownloadTimeout
	dl.Progress = progress

	service := &serverctl.Systemctl{Unit: settings.Unit}

	return &app{
		fs:       fs,
		service:  service,
		staging:  staging.New(fs, settings.StagingDir),
		registry: reg,
		orchestrator: &orchestrator.Orchestrator{
			Settings:   settings,
			Fs:         fs,
			Controller: service,
			Resolver:   resolver,
			Downloader: dl,
			Locker:     lock.New(),
			Metrics:    m,
		},
	}, nil
}
