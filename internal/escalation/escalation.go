package escalation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

var (
	// ErrPermissionDenied means the user declined the authorization prompt.
	ErrPermissionDenied = errors.New("escalation: permission denied")

	// ErrPrivilegedExecutionFailed means the batch ran but a required step
	// failed or the success sentinel was missing.
	ErrPrivilegedExecutionFailed = errors.New("escalation: privileged execution failed")
)

// userCanceled is the AppleScript error number for a dismissed prompt.
const userCanceled = -128

// StatusUnknown is reported when a failed run carries no exit status. It
// never names a step.
const StatusUnknown = -1

// Error describes a failed batch. Step is the 1-based index of the failed
// required step, or 0 when the failure cannot be attributed to one.
type Error struct {
	Op     Operation
	Step   int
	Name   string
	Code   int
	Output string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %v", e.Op, e.Err)
	if e.Step > 0 {
		fmt.Fprintf(&b, " at step %d (%s)", e.Step, e.Name)
	} else if e.Code != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Code)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		fmt.Fprintf(&b, ": %s", out)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Escalator runs a batch with administrator rights and returns its standard
// output. The context only gates the start of the run; once the batch is
// launched it runs to completion.
type Escalator interface {
	Run(ctx context.Context, b *Batch) (string, error)
}

// Default picks Shell when already running as root and AppleScript
// otherwise.
func Default() Escalator {
	if os.Geteuid() == 0 {
		return Shell{}
	}
	return AppleScript{}
}

// result converts a finished run into the batch outcome.
func (b *Batch) result(output string, code int, detail string) error {
	if code == 0 {
		if strings.Contains(output, SuccessSentinel) {
			return nil
		}
		return &Error{Op: b.Op, Output: detail, Err: ErrPrivilegedExecutionFailed}
	}
	if code == userCanceled {
		return &Error{Op: b.Op, Code: code, Output: detail, Err: ErrPermissionDenied}
	}
	e := &Error{Op: b.Op, Code: code, Output: detail, Err: ErrPrivilegedExecutionFailed}
	if s, ok := b.StepAt(code); ok {
		e.Step = code
		e.Name = s.Name
	}
	return e
}

// Shell runs batches through /bin/sh without prompting. It is used when the
// process already has the rights it needs.
type Shell struct {
	// Path of the shell. Defaults to /bin/sh.
	Path string
}

// Run implements Escalator.
func (s Shell) Run(ctx context.Context, b *Batch) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	script, err := b.Script()
	if err != nil {
		return "", err
	}
	path := s.Path
	if path == "" {
		path = "/bin/sh"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(path, "-c", script)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	code := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", &Error{Op: b.Op, Code: StatusUnknown, Output: err.Error(), Err: ErrPrivilegedExecutionFailed}
		}
		code = exitErr.ExitCode()
	}
	out := stdout.String()
	return out, b.result(out, code, stderr.String())
}

// AppleScript runs batches through osascript's "do shell script ... with
// administrator privileges", which shows the system authorization prompt.
type AppleScript struct {
	// Path of osascript. Defaults to /usr/bin/osascript.
	Path string

	// Prompt replaces the default prompt text when set.
	Prompt string
}

var appleScriptStatus = regexp.MustCompile(`\((-?\d+)\)\s*$`)

// Run implements Escalator.
func (a AppleScript) Run(ctx context.Context, b *Batch) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	script, err := b.Script()
	if err != nil {
		return "", err
	}
	path := a.Path
	if path == "" {
		path = "/usr/bin/osascript"
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(path, "-e", a.Source(script))
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	code := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", &Error{Op: b.Op, Code: StatusUnknown, Output: err.Error(), Err: ErrPrivilegedExecutionFailed}
		}
		code = ParseStatus(stderr.String())
	}
	out := stdout.String()
	return out, b.result(out, code, stderr.String())
}

// Source returns the AppleScript statement that runs script.
func (a AppleScript) Source(script string) string {
	src := `do shell script "` + appleScriptEscape(script) + `" with administrator privileges`
	if a.Prompt != "" {
		src += ` with prompt "` + appleScriptEscape(a.Prompt) + `"`
	}
	return src
}

// ParseStatus extracts the trailing "(N)" error number osascript prints on
// failure. It returns StatusUnknown when none is present.
func ParseStatus(stderr string) int {
	m := appleScriptStatus.FindStringSubmatch(strings.TrimSpace(stderr))
	if m == nil {
		return StatusUnknown
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n == 0 {
		return StatusUnknown
	}
	return n
}

func appleScriptEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
