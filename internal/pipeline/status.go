package pipeline

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
)

var (
	beginStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	doneStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	skipStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

// Status prints the per-stage progress lines. These appear for every stage
// boundary and outcome regardless of verbosity; the run log carries the full
// command text and output.
type Status struct {
	w io.Writer
}

func NewStatus(w io.Writer) *Status {
	if w == nil {
		w = os.Stdout
	}
	return &Status{w: w}
}

func (s *Status) Begin(stage string) {
	fmt.Fprintln(s.w, beginStyle.Render("▸ "+stage))
}

func (s *Status) Done(stage string) {
	fmt.Fprintln(s.w, doneStyle.Render("✓ "+stage))
}

func (s *Status) Skip(stage, reason string) {
	fmt.Fprintln(s.w, skipStyle.Render("↷ "+stage+" skipped: "+reason))
}

func (s *Status) Fail(stage string, err error) {
	fmt.Fprintln(s.w, failStyle.Render("✗ "+stage+": "+err.Error()))
}
