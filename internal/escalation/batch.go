// Package escalation builds the shell batches that need administrator rights
// and runs them, either through an authorization prompt or directly when the
// process is already privileged.
package escalation

import (
	"fmt"
	"strings"

	"hangulkey/internal/security"
)

// SuccessSentinel is echoed as the last statement of every batch. A run
// counts as successful only when it appears in the output.
const SuccessSentinel = "SUCCESS"

// Operation names what a batch does.
type Operation string

const (
	OpInstall Operation = "install"
	OpRemove  Operation = "remove"
)

// Step is one command of a batch.
type Step struct {
	Name       string
	Args       []string
	BestEffort bool
}

// Batch is an ordered list of commands run in one escalated shell. Required
// steps abort the batch with their 1-based index as exit status; best-effort
// steps never abort it.
type Batch struct {
	Op    Operation
	steps []Step
	err   error
}

// NewBatch starts an empty batch for op.
func NewBatch(op Operation) *Batch {
	return &Batch{Op: op}
}

// Add appends a required step.
func (b *Batch) Add(name string, args ...string) *Batch {
	return b.add(Step{Name: name, Args: args})
}

// AddBestEffort appends a step whose failure is ignored.
func (b *Batch) AddBestEffort(name string, args ...string) *Batch {
	return b.add(Step{Name: name, Args: args, BestEffort: true})
}

func (b *Batch) add(s Step) *Batch {
	if b.err != nil {
		return b
	}
	if len(s.Args) == 0 {
		b.err = fmt.Errorf("escalation: step %q has no command", s.Name)
		return b
	}
	for _, a := range s.Args {
		if err := security.CheckShellArgument(a); err != nil {
			b.err = fmt.Errorf("escalation: step %q: %w", s.Name, err)
			return b
		}
	}
	b.steps = append(b.steps, s)
	return b
}

// Steps returns a copy of the batch's steps.
func (b *Batch) Steps() []Step {
	out := make([]Step, len(b.steps))
	copy(out, b.steps)
	return out
}

// Len reports the number of steps.
func (b *Batch) Len() int { return len(b.steps) }

// StepAt returns the step reported by exit status code, if code names a
// required step.
func (b *Batch) StepAt(code int) (Step, bool) {
	if code < 1 || code > len(b.steps) {
		return Step{}, false
	}
	s := b.steps[code-1]
	if s.BestEffort {
		return Step{}, false
	}
	return s, true
}

// Script renders the batch as a single line of POSIX shell. Each argument is
// quoted exactly once here.
func (b *Batch) Script() (string, error) {
	if b.err != nil {
		return "", b.err
	}
	if len(b.steps) == 0 {
		return "", fmt.Errorf("escalation: empty %s batch", b.Op)
	}

	parts := make([]string, 0, len(b.steps)+1)
	for i, s := range b.steps {
		quoted := make([]string, len(s.Args))
		for j, a := range s.Args {
			quoted[j] = security.ShellQuote(a)
		}
		cmd := strings.Join(quoted, " ") + " 2>/dev/null"
		if s.BestEffort {
			cmd += " || true"
		} else {
			cmd += fmt.Sprintf(" || exit %d", i+1)
		}
		parts = append(parts, cmd)
	}
	parts = append(parts, "echo "+security.ShellQuote(SuccessSentinel))
	return strings.Join(parts, "; "), nil
}
