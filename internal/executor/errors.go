package executor

import "fmt"

// ProcessError reports a stage subprocess that exited nonzero. Always fatal
// to the run; the controller never retries.
type ProcessError struct {
	Stage    string
	ExitCode int
	Err      error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("stage %s: command exited with code %d", e.Stage, e.ExitCode)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// ToolMissingError reports an external executable that could not be located
// before the stage needing it ran.
type ToolMissingError struct {
	Tool string
	Path string
	Err  error
}

func (e *ToolMissingError) Error() string {
	return fmt.Sprintf("tool %s not found (looked for %q): %v", e.Tool, e.Path, e.Err)
}

func (e *ToolMissingError) Unwrap() error { return e.Err }
