// Package output renders chainctl's user-facing terminal output with lipgloss.
//
// Diagnostics go to the logger; everything a user is meant to read (trigger
// offers, step progress, run summaries, status tables) goes through [Printer].
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"chainctl/internal/chain"
	"chainctl/internal/checkpoint"
	"chainctl/internal/engine"
	"chainctl/internal/runstate"
)

// NoTriggersMessage is printed when no chain trigger holds.
const NoTriggersMessage = "No chain triggers detected."

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	nameStyle    = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	skipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	promptStyle  = lipgloss.NewStyle().Italic(true)
)

// Printer writes formatted output to a writer.
type Printer struct {
	out io.Writer
}

// NewPrinter writes to stdout.
func NewPrinter() *Printer {
	return &Printer{out: os.Stdout}
}

// NewPrinterWithWriter writes to w. Tests pass a buffer.
func NewPrinterWithWriter(w io.Writer) *Printer {
	return &Printer{out: w}
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.out
}

func (p *Printer) println(s string) {
	fmt.Fprintln(p.out, s)
}

// Triggers lists eligible chains with their description and prompt.
func (p *Printer) Triggers(triggers []engine.Trigger) {
	if len(triggers) == 0 {
		p.println(NoTriggersMessage)
		return
	}
	p.println(titleStyle.Render("Chain triggers detected:"))
	for _, t := range triggers {
		line := "  " + nameStyle.Render(t.Name)
		if t.Chain != nil && t.Chain.Description != "" {
			line += " - " + t.Chain.Description
		}
		p.println(line)
		p.println("    " + promptStyle.Render(t.Prompt))
	}
}

// StepStart reports the step about to run.
func (p *Printer) StepStart(index, total int, label string) {
	p.println(mutedStyle.Render(fmt.Sprintf("[%d/%d]", index, total)) + " " + label)
}

// ChainStart announces a run.
func (p *Printer) ChainStart(name string) {
	p.println(titleStyle.Render("Running chain " + name))
}

// Result summarises a finished run.
func (p *Printer) Result(res engine.Result) {
	for _, r := range res.Results {
		p.stepResult(r, "  ")
	}
	switch {
	case res.Success:
		p.println(successStyle.Render(fmt.Sprintf("✓ %s completed in %s", res.Chain, res.Duration.Round(time.Millisecond))))
	case res.Gated:
		p.println(failStyle.Render(fmt.Sprintf("✗ %s not started: %s", res.Chain, res.Error)))
	default:
		p.println(failStyle.Render(fmt.Sprintf("✗ %s failed: %s", res.Chain, res.Error)))
	}
}

func (p *Printer) stepResult(r runstate.StepResult, indent string) {
	label := r.Command
	if r.Kind == runstate.KindAgent {
		label = "agent:" + r.Agent
	}
	var mark string
	switch {
	case r.Skipped:
		mark = skipStyle.Render("-")
		label += mutedStyle.Render(" (skipped)")
	case r.Success:
		mark = successStyle.Render("✓")
	default:
		mark = failStyle.Render("✗")
	}
	p.println(indent + mark + " " + label)
	if r.Error != "" {
		p.println(indent + "  " + failStyle.Render(r.Error))
	}
	for _, c := range r.Children {
		p.stepResult(c, indent+"  ")
	}
}

// Status prints run-state counts and the chains in each set.
func (p *Printer) Status(st runstate.Status) {
	p.println(titleStyle.Render("Chain run state"))
	p.println(fmt.Sprintf("  running: %d  completed: %d  failed: %d", st.RunningCount, st.CompletedCount, st.FailedCount))
	if st.State == nil {
		return
	}
	for _, name := range sortedKeys(st.State.Running) {
		r := st.State.Running[name]
		p.println(fmt.Sprintf("  %s %s (step %d, since %s)", skipStyle.Render("●"), name, r.CurrentStep, r.StartedAt.Format(time.RFC3339)))
	}
	for _, name := range sortedKeys(st.State.Completed) {
		c := st.State.Completed[name]
		p.println(fmt.Sprintf("  %s %s (%.1fs, %s)", successStyle.Render("✓"), name, c.Duration, c.CompletedAt.Format(time.RFC3339)))
	}
	for _, name := range sortedKeys(st.State.Failed) {
		f := st.State.Failed[name]
		p.println(fmt.Sprintf("  %s %s: %s", failStyle.Render("✗"), name, f.Error))
	}
}

// Chains lists registered chains.
func (p *Printer) Chains(chains []*chain.Chain) {
	if len(chains) == 0 {
		p.println("No chains defined.")
		return
	}
	for _, c := range chains {
		line := nameStyle.Render(c.Name) + mutedStyle.Render(fmt.Sprintf(" (%d steps)", len(c.Steps)))
		if c.Description != "" {
			line += " - " + c.Description
		}
		p.println(line)
	}
}

// Checkpoints lists a chain's checkpoints.
func (p *Printer) Checkpoints(name string, cps []checkpoint.Checkpoint) {
	if len(cps) == 0 {
		p.println("No checkpoints for " + name + ".")
		return
	}
	p.println(titleStyle.Render("Checkpoints for " + name))
	for _, cp := range cps {
		p.println(fmt.Sprintf("  %s  step %d  %s  %s", cp.ID, cp.Step, cp.Marker, mutedStyle.Render(cp.CreatedAt.Format(time.RFC3339))))
	}
}

// Error prints a failure message.
func (p *Printer) Error(msg string) {
	p.println(failStyle.Render("Error: " + msg))
}

// Info prints a plain message.
func (p *Printer) Info(msg string) {
	p.println(strings.TrimRight(msg, "\n"))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
