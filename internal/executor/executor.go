// Package executor runs single pipeline stage commands as subprocesses with
// captured output, dry-run support, and an environment overlay.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/me/gosplat/internal/logging"
)

// Invocation is one fully expanded stage command.
type Invocation struct {
	Stage string
	Argv  []string
	Dir   string
	Env   []string // overlay appended to the ambient environment
}

// Runner executes stage commands. The pipeline controller depends on this
// interface; tests substitute a recorder.
type Runner interface {
	Run(ctx context.Context, inv Invocation) error
}

// Executor is the real Runner. It logs the expanded command line the same
// way in dry-run and normal mode, so a dry run's log diffs cleanly against a
// real one.
type Executor struct {
	Logger  *slog.Logger
	Log     *logging.RunLog
	Console io.Writer // verbose tee target, defaults to os.Stdout
	DryRun  bool
	Verbose bool
}

// Run spawns the invocation and blocks until it exits. Stdout and stderr are
// drained concurrently (a subprocess filling one pipe while the other is read
// synchronously would stall forever), captured in full, and appended to the
// run log after exit. A nonzero exit yields a *ProcessError. In dry-run mode
// nothing is spawned and Run returns success.
func (e *Executor) Run(ctx context.Context, inv Invocation) error {
	if len(inv.Argv) == 0 {
		return fmt.Errorf("stage %s: empty command", inv.Stage)
	}

	text := commandText(inv.Argv)
	e.Logger.Info("stage command", "stage", inv.Stage, "command", text, "dry_run", e.DryRun)
	if err := e.Log.Section(inv.Stage, text); err != nil {
		return fmt.Errorf("stage %s: write log: %w", inv.Stage, err)
	}

	if e.DryRun {
		return nil
	}

	cmd := exec.CommandContext(ctx, inv.Argv[0], inv.Argv[1:]...)
	cmd.Dir = inv.Dir
	cmd.Env = append(os.Environ(), inv.Env...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stage %s: stdout pipe: %w", inv.Stage, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stage %s: stderr pipe: %w", inv.Stage, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("stage %s: start %s: %w", inv.Stage, inv.Argv[0], err)
	}

	var outBuf, errBuf bytes.Buffer
	g := new(errgroup.Group)
	g.Go(func() error { return e.drain(&outBuf, stdout) })
	g.Go(func() error { return e.drain(&errBuf, stderr) })
	drainErr := g.Wait()

	waitErr := cmd.Wait()

	// Output goes to the log unconditionally, including on failure: the log
	// must hold everything needed to diagnose without re-running.
	if err := e.Log.Append(outBuf.String()); err != nil {
		return fmt.Errorf("stage %s: write log: %w", inv.Stage, err)
	}
	if err := e.Log.Append(errBuf.String()); err != nil {
		return fmt.Errorf("stage %s: write log: %w", inv.Stage, err)
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			perr := &ProcessError{Stage: inv.Stage, ExitCode: exitErr.ExitCode(), Err: waitErr}
			e.Log.Notef("stage %s failed: exit code %d", inv.Stage, perr.ExitCode)
			return perr
		}
		return fmt.Errorf("stage %s: %w", inv.Stage, waitErr)
	}
	if drainErr != nil {
		return fmt.Errorf("stage %s: read output: %w", inv.Stage, drainErr)
	}
	return nil
}

// drain copies one output stream into buf, teeing to the console when
// verbose.
func (e *Executor) drain(buf *bytes.Buffer, r io.Reader) error {
	var w io.Writer = buf
	if e.Verbose {
		console := e.Console
		if console == nil {
			console = os.Stdout
		}
		w = io.MultiWriter(buf, console)
	}
	_, err := io.Copy(w, r)
	return err
}

// commandText renders argv for logs and dry-run output, quoting arguments
// containing whitespace.
func commandText(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		if strings.ContainsAny(a, " \t\"") {
			parts[i] = `"` + strings.ReplaceAll(a, `"`, `\"`) + `"`
		} else {
			parts[i] = a
		}
	}
	return strings.Join(parts, " ")
}

// LookupTool resolves a tool location to an executable path. Called lazily
// at the start of each stage that needs the tool, so a missing tool for an
// unselected backend never blocks a run. display names the tool family in
// errors; path is the configured location, falling back to display as a
// PATH-relative name when empty.
func LookupTool(display, path string) (string, error) {
	candidate := path
	if candidate == "" {
		candidate = display
	}
	resolved, err := exec.LookPath(candidate)
	if err != nil {
		return "", &ToolMissingError{Tool: display, Path: candidate, Err: err}
	}
	return resolved, nil
}
