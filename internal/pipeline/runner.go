package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/loykin/bluegreen/internal/metrics"
	"github.com/loykin/bluegreen/internal/process"
)

// ExitError reports a step that ran and exited non-zero.
type ExitError struct {
	Step    string
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.Code)
}

// Runner executes steps one after another and stops at the first failure.
type Runner struct {
	Out io.Writer // receives combined stdout/stderr of every step
	Env []string  // nil inherits the manager's environment
	Log *slog.Logger
}

// Run executes steps in dir. It returns *ExitError for a non-zero exit, a
// wrapped error when a step could not be started or timed out, and nil when
// every step succeeded. Steps after a failure are never run.
func (r *Runner) Run(ctx context.Context, dir string, steps []Step) error {
	for _, s := range steps {
		if err := r.runStep(ctx, dir, s); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) runStep(ctx context.Context, dir string, s Step) error {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	cmd := process.Spec{Name: s.Name, Command: s.Command, WorkDir: dir}.CommandContext(ctx)
	if r.Env != nil {
		cmd.Env = r.Env
	}
	out := r.Out
	if out == nil {
		out = io.Discard
	}
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = time.Second

	log.Info("run: "+s.Command+" in "+dir, "step", s.Name)
	start := time.Now()
	err := cmd.Run()
	metrics.ObserveStep(s.Name, time.Since(start).Seconds())
	if err == nil {
		log.Info(s.Command+" succeeded", "step", s.Name)
		return nil
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", s.Command, ctx.Err())
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return &ExitError{Step: s.Name, Command: s.Command, Code: ee.ExitCode()}
	}
	log.Error(s.Command+" error", "step", s.Name, "error", err)
	return fmt.Errorf("%s: %w", s.Command, err)
}
