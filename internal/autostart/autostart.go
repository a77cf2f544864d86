// Package autostart manages the per-user launch agent that starts hangulkey
// at login.
package autostart

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"hangulkey/internal/launchd"
	"hangulkey/internal/security"
)

// DefaultLabel names the login agent. It differs from the remapping agent,
// which runs as a system-wide agent.
const DefaultLabel = "com.hangulcommand.app"

// Options configures a LaunchAgent.
type Options struct {
	// Dir is the user's LaunchAgents directory.
	Dir   string
	Label string

	// Executable is the binary to start. Empty uses os.Executable.
	Executable string
	// Args follow the executable when it is not an app bundle.
	Args []string

	Logger *slog.Logger
}

// LaunchAgent toggles ~/Library/LaunchAgents/<label>.plist.
type LaunchAgent struct {
	dir        string
	label      string
	executable string
	args       []string
	logger     *slog.Logger
}

// New returns a LaunchAgent.
func New(opts Options) *LaunchAgent {
	if opts.Label == "" {
		opts.Label = DefaultLabel
	}
	if opts.Dir == "" {
		home, _ := os.UserHomeDir()
		opts.Dir = filepath.Join(home, "Library", "LaunchAgents")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LaunchAgent{
		dir:        opts.Dir,
		label:      opts.Label,
		executable: opts.Executable,
		args:       opts.Args,
		logger:     logger.With("component", "autostart"),
	}
}

// Path returns the agent descriptor path.
func (a *LaunchAgent) Path() string {
	return launchd.PathFor(a.dir, a.label)
}

// Enabled reports whether a descriptor with our label is present.
func (a *LaunchAgent) Enabled() (bool, error) {
	d, err := launchd.Read(a.Path())
	if err != nil {
		if errors.Is(err, launchd.ErrServiceDescriptorNotFound) {
			return false, nil
		}
		return false, err
	}
	return d.Label == a.label, nil
}

// SetEnabled writes or removes the descriptor.
func (a *LaunchAgent) SetEnabled(enabled bool) error {
	if !enabled {
		err := os.Remove(a.Path())
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove login agent: %w", err)
		}
		a.logger.Info("login agent removed", "path", a.Path())
		return nil
	}

	program, err := a.program()
	if err != nil {
		return err
	}
	data, err := launchd.New(a.label, program...).Encode()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return fmt.Errorf("create agents directory: %w", err)
	}
	if err := security.WriteSecureFile(a.Path(), data, security.PermDescriptor); err != nil {
		return fmt.Errorf("write login agent: %w", err)
	}
	a.logger.Info("login agent installed", "path", a.Path(), "program", program[0])
	return nil
}

// program returns the launch arguments. Binaries inside an app bundle are
// started through open(1) so the bundle gets a normal app launch.
func (a *LaunchAgent) program() ([]string, error) {
	exe := a.executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("locate executable: %w", err)
		}
	}
	if idx := strings.Index(exe, ".app/"); idx != -1 {
		return []string{"/usr/bin/open", "-a", exe[:idx+4]}, nil
	}
	return append([]string{exe}, a.args...), nil
}
