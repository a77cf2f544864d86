// Package hidutil drives macOS's hidutil(1) to set, clear and inspect the
// UserKeyMapping property of the keyboard HID service.
package hidutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"hangulkey/internal/keycode"
)

// DefaultPath is where macOS ships hidutil.
const DefaultPath = "/usr/bin/hidutil"

// ErrProcessFailed matches every *ProcessError.
var ErrProcessFailed = errors.New("hidutil: process failed")

// ProcessError reports a helper process that could not be started or
// exited non-zero. Code is -1 when the process never ran.
type ProcessError struct {
	Path   string
	Code   int
	Stderr string
}

func (e *ProcessError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s exited with code %d: %s", e.Path, e.Code, e.Stderr)
	}
	return fmt.Sprintf("%s exited with code %d", e.Path, e.Code)
}

func (e *ProcessError) Is(target error) bool {
	return target == ErrProcessFailed
}

// Runner executes a program and returns its standard output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &ProcessError{Path: name, Code: exitErr.ExitCode(), Stderr: strings.TrimSpace(stderr.String())}
		}
		return nil, &ProcessError{Path: name, Code: -1, Stderr: err.Error()}
	}
	return stdout.Bytes(), nil
}

// Remapper applies and clears the live key mapping table.
type Remapper struct {
	Path   string
	Runner Runner
}

// NewRemapper returns a Remapper for the hidutil binary at path.
func NewRemapper(path string, runner Runner) *Remapper {
	if path == "" {
		path = DefaultPath
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Remapper{Path: path, Runner: runner}
}

// Apply maps src onto the locale toggle key.
func (r *Remapper) Apply(ctx context.Context, src keycode.Descriptor) error {
	m := ForKey(src)
	if err := m.Validate(); err != nil {
		return err
	}
	_, err := r.Runner.Run(ctx, r.Path, SetArgs(m)...)
	return err
}

// Clear empties the mapping table.
func (r *Remapper) Clear(ctx context.Context) error {
	_, err := r.Runner.Run(ctx, r.Path, SetArgs()...)
	return err
}

// Current returns the mappings hidutil reports as active.
func (r *Remapper) Current(ctx context.Context) ([]Mapping, error) {
	out, err := r.Runner.Run(ctx, r.Path, "property", "--get", "UserKeyMapping")
	if err != nil {
		return nil, err
	}
	return ParseProperty(out)
}

// SetArgs returns the argument vector of a "property --set" call that
// installs exactly ms.
func SetArgs(ms ...Mapping) []string {
	return []string{"property", "--set", Payload(ms...)}
}
