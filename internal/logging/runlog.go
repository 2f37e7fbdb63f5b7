package logging

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// RunLog is the append-only log file for one pipeline run. Every stage
// command and its full captured output lands here regardless of console
// verbosity. Exactly one stage writes at a time, so plain appends are
// sufficient.
type RunLog struct {
	path string
	f    *os.File
}

// OpenRunLog opens (creating if needed) the log file at path in append mode.
func OpenRunLog(path string) (*RunLog, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &RunLog{path: path, f: f}, nil
}

// Path returns the log file path.
func (l *RunLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Section writes a stage header followed by the fully expanded command line.
// Dry-run and real runs emit identical sections so their logs diff cleanly.
func (l *RunLog) Section(stage, command string) error {
	if l == nil {
		return nil
	}
	_, err := fmt.Fprintf(l.f, "\n==== stage %s [%s] ====\n$ %s\n",
		stage, time.Now().Format(time.RFC3339), command)
	return err
}

// Append writes captured subprocess output verbatim, ensuring a trailing
// newline so the next section starts on its own line.
func (l *RunLog) Append(text string) error {
	if l == nil || text == "" {
		return nil
	}
	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	_, err := l.f.WriteString(text)
	return err
}

// Notef writes a timestamped orchestrator note (stage skipped, run failed).
func (l *RunLog) Notef(format string, args ...any) error {
	if l == nil {
		return nil
	}
	_, err := fmt.Fprintf(l.f, "[%s] %s\n",
		time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))
	return err
}

// Close closes the underlying file.
func (l *RunLog) Close() error {
	if l == nil {
		return nil
	}
	return l.f.Close()
}
