// Package orchestrator runs the multi-step server lifecycle workflows:
// reconciling extra mods, backing up and restoring server files, and
// upgrading to the latest published server pack.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/caedis/mc-manager/internal/apperr"
	"github.com/caedis/mc-manager/internal/config"
	"github.com/caedis/mc-manager/internal/curseforge"
	"github.com/caedis/mc-manager/internal/fsync"
	"github.com/caedis/mc-manager/internal/lock"
	"github.com/caedis/mc-manager/internal/logging"
	"github.com/caedis/mc-manager/internal/metrics"
	"github.com/caedis/mc-manager/internal/serverctl"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Policy names how a workflow treats a failing unit of work.
type Policy int

const (
	// StrictSequential aborts the workflow at the first failed step.
	StrictSequential Policy = iota
	// BestEffort logs and skips individual failures and carries on.
	BestEffort
)

func (p Policy) String() string {
	switch p {
	case StrictSequential:
		return "strict-sequential"
	case BestEffort:
		return "best-effort"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Workflow names, used in errors, logs and metric labels.
const (
	WorkflowReconcile   = "update-extras"
	WorkflowBackup      = "backup"
	WorkflowRestore     = "restore"
	WorkflowUpdatePack  = "update-pack"
	WorkflowCheckUpdate = "check-update"
)

// StepError reports the workflow step that failed.
type StepError struct {
	Workflow string
	Step     string
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %s failed: %v", e.Workflow, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Resolver finds the newest published server pack.
type Resolver interface {
	LatestServerPack(ctx context.Context) (*curseforge.ServerPack, error)
}

// Fetcher downloads an artifact to a local file.
type Fetcher interface {
	DownloadToFile(ctx context.Context, url, destPath string) (int64, error)
}

// Guard grants exclusive access to a server directory.
type Guard interface {
	TryAcquire(dir string) (func(), error)
}

type Orchestrator struct {
	Settings   config.Settings
	Fs         afero.Fs
	Controller serverctl.Controller
	Resolver   Resolver
	Downloader Fetcher
	Locker     Guard
	Metrics    *metrics.Metrics

	// Manifest overrides fsync.DefaultManifest.
	Manifest fsync.Manifest
	// TempDir is where server packs are downloaded. Empty means a fresh
	// directory under the system temp dir.
	TempDir string

	once sync.Once
}

// setDefaults fills in a nil Fs or Locker once, so an Orchestrator shared
// across goroutines never writes its fields concurrently.
func (o *Orchestrator) setDefaults() {
	o.once.Do(func() {
		if o.Fs == nil {
			o.Fs = afero.NewOsFs()
		}
		if o.Locker == nil {
			o.Locker = lock.New()
		}
	})
}

func (o *Orchestrator) fs() afero.Fs {
	o.setDefaults()
	return o.Fs
}

func (o *Orchestrator) engine() *fsync.Engine {
	return fsync.New(o.fs())
}

func (o *Orchestrator) manifest() fsync.Manifest {
	if len(o.Manifest) > 0 {
		return o.Manifest
	}
	return fsync.DefaultManifest
}

func (o *Orchestrator) guard() Guard {
	o.setDefaults()
	return o.Locker
}

// run tracks one workflow invocation.
type run struct {
	o        *Orchestrator
	workflow string
	id       string
	log      *logrus.Entry
}

// guarded runs fn while holding the ServerRoot guard and records the outcome.
func (o *Orchestrator) guarded(workflow string, fn func(r *run) error) error {
	release, err := o.guard().TryAcquire(o.Settings.ServerRoot)
	if err != nil {
		o.Metrics.ObserveRun(workflow, metrics.Busy, 0)
		return &StepError{Workflow: workflow, Step: "acquire guard", Err: err}
	}
	defer release()

	r := o.newRun(workflow)
	start := time.Now()
	r.log.Info("workflow started")

	err = fn(r)
	elapsed := time.Since(start)
	if err != nil {
		o.Metrics.ObserveRun(workflow, metrics.Fail, elapsed)
		r.log.WithError(err).WithField("elapsed", elapsed.Round(time.Millisecond).String()).Error("workflow failed")
		return err
	}
	o.Metrics.ObserveRun(workflow, metrics.Ok, elapsed)
	r.log.WithField("elapsed", elapsed.Round(time.Millisecond).String()).Info("workflow complete")
	return nil
}

func (o *Orchestrator) newRun(workflow string) *run {
	id := uuid.NewString()
	return &run{
		o:        o,
		workflow: workflow,
		id:       id,
		log: logging.L().WithFields(logrus.Fields{
			"workflow": workflow,
			"run_id":   id,
		}),
	}
}

// step runs one StrictSequential step, tagging any error with its name.
func (r *run) step(name string, fn func() error) error {
	log := r.log.WithField("step", name)
	log.Debug("step started")
	if err := fn(); err != nil {
		r.o.Metrics.StepFailed(r.workflow, name)
		log.WithError(err).Warn("step failed")
		return &StepError{Workflow: r.workflow, Step: name, Err: err}
	}
	log.Info("step complete")
	return nil
}

// setState drives the controller and converts a refused transition into an
// error.
func (r *run) setState(ctx context.Context, action serverctl.Action) error {
	return r.step(action.String(), func() error {
		return r.o.transition(ctx, action)
	})
}

func (o *Orchestrator) transition(ctx context.Context, action serverctl.Action) error {
	if o.Controller == nil {
		return apperr.Errorf(apperr.ProcessControl, action.String(), "no process controller configured")
	}
	ok := o.Controller.SetState(ctx, action)
	o.Metrics.Transition(action.String(), ok)
	if !ok {
		return apperr.Errorf(apperr.ProcessControl, action.String(), "%s of %s did not complete", action, o.Settings.Unit)
	}
	return nil
}

// SetServerState performs a single guarded start, stop or restart.
func (o *Orchestrator) SetServerState(ctx context.Context, action serverctl.Action) error {
	return o.guarded(action.String(), func(r *run) error {
		return r.setState(ctx, action)
	})
}
