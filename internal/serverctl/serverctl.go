// Package serverctl drives the systemd user unit that runs the game server.
package serverctl

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/caedis/mc-manager/internal/apperr"
	"github.com/caedis/mc-manager/internal/logging"
)

type Action int

const (
	Start Action = iota
	Stop
	Restart
)

func (a Action) String() string {
	switch a {
	case Start:
		return "start"
	case Stop:
		return "stop"
	case Restart:
		return "restart"
	default:
		return "action(" + strconv.Itoa(int(a)) + ")"
	}
}

// ParseAction accepts start, stop or restart in any case.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start":
		return Start, nil
	case "stop":
		return Stop, nil
	case "restart":
		return Restart, nil
	}
	return 0, apperr.Errorf(apperr.Validation, "parse action", "unknown action %q: must be start, stop, or restart", s)
}

// Controller changes the running state of the managed server.
type Controller interface {
	SetState(ctx context.Context, action Action) bool
}

// Systemctl controls a single unit through systemctl. The zero value is not
// usable; Unit must be set.
type Systemctl struct {
	Unit string
	// Binary overrides the systemctl executable.
	Binary string
	// Journal overrides the journalctl executable.
	Journal string
	// System targets the system manager instead of the user manager.
	System bool
}

func (s *Systemctl) scopeArgs() []string {
	if s.System {
		return nil
	}
	return []string{"--user"}
}

func (s *Systemctl) binary() string {
	if s.Binary != "" {
		return s.Binary
	}
	return "systemctl"
}

// Run performs the transition and waits for systemctl to finish. It returns
// an apperr.ProcessControl error if systemctl cannot be run or exits non-zero.
// Failures are never retried.
func (s *Systemctl) Run(ctx context.Context, action Action) error {
	args := append(s.scopeArgs(), action.String(), s.Unit)
	logging.Debugf("Verbose: exec %s %s\n", s.binary(), strings.Join(args, " "))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.binary(), args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return apperr.WithPath(apperr.ProcessControl, action.String(), s.Unit, err)
	}
	return nil
}

// SetState reports whether the supervisor completed the transition.
func (s *Systemctl) SetState(ctx context.Context, action Action) bool {
	if err := s.Run(ctx, action); err != nil {
		logging.L().WithField("unit", s.Unit).WithField("action", action.String()).WithError(err).Warn("service transition failed")
		return false
	}
	return true
}

// Status returns the unit's active state as reported by systemctl is-active
// ("active", "inactive", "failed", ...). is-active exits non-zero for every
// state but active, so only a missing state line is an error.
func (s *Systemctl) Status(ctx context.Context) (string, error) {
	args := append(s.scopeArgs(), "is-active", s.Unit)
	out, err := exec.CommandContext(ctx, s.binary(), args...).Output()
	state := strings.TrimSpace(string(out))
	if state == "" {
		if err == nil {
			err = fmt.Errorf("empty response")
		}
		return "", apperr.WithPath(apperr.ProcessControl, "is-active", s.Unit, err)
	}
	return state, nil
}

// LogTail returns the last n lines the unit wrote to the journal.
func (s *Systemctl) LogTail(ctx context.Context, n int) (string, error) {
	if n < 1 {
		n = 1000
	}
	bin := s.Journal
	if bin == "" {
		bin = "journalctl"
	}
	args := append(s.scopeArgs(), "-u", s.Unit, "-n", strconv.Itoa(n), "--no-pager", "--output=cat")
	out, err := exec.CommandContext(ctx, bin, args...).Output()
	if err != nil {
		return "", apperr.WithPath(apperr.ProcessControl, "read journal for", s.Unit, err)
	}
	return string(out), nil
}
