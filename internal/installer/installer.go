// Package installer writes, loads and removes the login-time key mapping:
// a shell script that calls hidutil and a launchd descriptor that runs it.
//
// Artifacts are staged at normal privilege and moved into their system
// locations by one escalated batch, so the user sees a single prompt per
// operation.
package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"hangulkey/internal/escalation"
	"hangulkey/internal/hidutil"
	"hangulkey/internal/keycode"
	"hangulkey/internal/launchd"
	"hangulkey/internal/security"
)

// Defaults for a system-wide install.
const (
	DefaultScriptPath    = "/Users/Shared/bin/hangulkeymapping"
	DefaultSharedRoot    = "/Users/Shared"
	DefaultOwner         = "root:admin"
	DefaultLaunchctlPath = "/bin/launchctl"
)

// Auditor records every escalation attempt.
type Auditor interface {
	LogEscalation(ctx context.Context, op string, steps []string, err error) error
}

// Options configures an Installer. Zero fields take the defaults above.
type Options struct {
	Label         string
	ScriptPath    string
	DescriptorDir string
	Owner         string
	HidutilPath   string
	LaunchctlPath string

	Resolver  *security.Resolver
	Remapper  *hidutil.Remapper
	Escalator escalation.Escalator
	Logger    *slog.Logger
	Auditor   Auditor
}

// Installer owns the script and descriptor paths. Nothing else writes them.
type Installer struct {
	label          string
	scriptPath     string
	descriptorPath string
	owner          string
	hidutilPath    string
	launchctlPath  string

	resolver  *security.Resolver
	remapper  *hidutil.Remapper
	escalator escalation.Escalator
	logger    *slog.Logger
	auditor   Auditor
}

// New returns an Installer for opts.
func New(opts Options) *Installer {
	if opts.Label == "" {
		opts.Label = launchd.DefaultLabel
	}
	if opts.ScriptPath == "" {
		opts.ScriptPath = DefaultScriptPath
	}
	if opts.DescriptorDir == "" {
		opts.DescriptorDir = launchd.SystemAgentsDir
	}
	if opts.Owner == "" {
		opts.Owner = DefaultOwner
	}
	if opts.HidutilPath == "" {
		opts.HidutilPath = hidutil.DefaultPath
	}
	if opts.LaunchctlPath == "" {
		opts.LaunchctlPath = DefaultLaunchctlPath
	}
	if opts.Resolver == nil {
		opts.Resolver = security.NewResolver(DefaultSharedRoot, filepath.Dir(opts.ScriptPath), filepath.Base(opts.ScriptPath))
	}
	if opts.Remapper == nil {
		opts.Remapper = hidutil.NewRemapper(opts.HidutilPath, nil)
	}
	if opts.Escalator == nil {
		opts.Escalator = escalation.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Installer{
		label:          opts.Label,
		scriptPath:     opts.ScriptPath,
		descriptorPath: launchd.PathFor(opts.DescriptorDir, opts.Label),
		owner:          opts.Owner,
		hidutilPath:    opts.HidutilPath,
		launchctlPath:  opts.LaunchctlPath,
		resolver:       opts.Resolver,
		remapper:       opts.Remapper,
		escalator:      opts.Escalator,
		logger:         logger.With("component", "installer"),
		auditor:        opts.Auditor,
	}
}

// ScriptPath returns the installed script location.
func (in *Installer) ScriptPath() string { return in.scriptPath }

// DescriptorPath returns the installed descriptor location.
func (in *Installer) DescriptorPath() string { return in.descriptorPath }

// Label returns the launchd job label.
func (in *Installer) Label() string { return in.label }

// Install maps src onto the locale toggle now and at every login.
func (in *Installer) Install(ctx context.Context, src keycode.Descriptor) error {
	mapping := hidutil.ForKey(src)
	if err := mapping.Validate(); err != nil {
		return err
	}

	staged := in.resolver.ChoosePath()
	defer func() {
		if err := in.resolver.Cleanup(); err != nil {
			in.logger.Debug("remove staging directory", "error", err)
		}
	}()
	if err := security.CreateSecureDirectory(filepath.Dir(staged)); err != nil {
		return fmt.Errorf("prepare staging directory: %w", err)
	}

	script := hidutil.Script(in.hidutilPath, mapping)
	if err := security.WriteSecureFile(staged, []byte(script), security.PermScript); err != nil {
		return fmt.Errorf("write script: %w", err)
	}
	in.logger.Debug("script staged", "path", staged, "source", src.String())

	if err := in.remapper.Apply(ctx, src); err != nil {
		in.logger.Debug("immediate remap failed", "error", err)
	}

	descriptor, err := launchd.New(in.label, in.scriptPath).Encode()
	if err != nil {
		return err
	}
	stagedDescriptor, err := stageTemp(descriptor)
	if err != nil {
		return fmt.Errorf("stage descriptor: %w", err)
	}
	defer func() {
		if err := os.Remove(stagedDescriptor); err != nil && !errors.Is(err, os.ErrNotExist) {
			in.logger.Debug("remove staged descriptor", "path", stagedDescriptor, "error", err)
		}
	}()

	return in.run(ctx, in.installBatch(staged, stagedDescriptor))
}

func (in *Installer) installBatch(stagedScript, stagedDescriptor string) *escalation.Batch {
	b := escalation.NewBatch(escalation.OpInstall).
		Add("create descriptor directory", "mkdir", "-p", filepath.Dir(in.descriptorPath)).
		Add("create script directory", "mkdir", "-p", filepath.Dir(in.scriptPath))

	if filepath.Clean(stagedScript) == filepath.Clean(in.scriptPath) {
		b.Add("mark script executable", "chmod", "755", in.scriptPath)
	} else {
		b.Add("move script", "mv", "-f", stagedScript, in.scriptPath)
	}

	return b.
		Add("move descriptor", "mv", "-f", stagedDescriptor, in.descriptorPath).
		Add("set descriptor owner", "chown", in.owner, in.descriptorPath).
		Add("set descriptor mode", "chmod", "644", in.descriptorPath).
		AddBestEffort("unload previous job", in.launchctlPath, "unload", in.descriptorPath).
		Add("load job", in.launchctlPath, "load", in.descriptorPath)
}

// Remove clears the live mapping and deletes both artifacts. It succeeds
// when nothing is installed.
func (in *Installer) Remove(ctx context.Context) error {
	if err := in.remapper.Clear(ctx); err != nil {
		in.logger.Debug("immediate clear failed", "error", err)
	}
	return in.run(ctx, in.removeBatch())
}

func (in *Installer) removeBatch() *escalation.Batch {
	return escalation.NewBatch(escalation.OpRemove).
		AddBestEffort("remove job", in.launchctlPath, "remove", in.label).
		AddBestEffort("delete descriptor", "rm", "-f", in.descriptorPath).
		AddBestEffort("delete script", "rm", "-f", in.scriptPath).
		AddBestEffort("clear mapping", append([]string{in.hidutilPath}, hidutil.SetArgs()...)...)
}

func (in *Installer) run(ctx context.Context, b *escalation.Batch) error {
	in.logger.Info("running privileged batch", "operation", b.Op, "steps", b.Len())
	_, err := in.escalator.Run(ctx, b)

	if in.auditor != nil {
		steps := make([]string, 0, b.Len())
		for _, s := range b.Steps() {
			steps = append(steps, s.Name)
		}
		if aerr := in.auditor.LogEscalation(ctx, string(b.Op), steps, err); aerr != nil {
			in.logger.Debug("audit write failed", "error", aerr)
		}
	}

	if err != nil {
		in.logger.Warn("privileged batch failed", "operation", b.Op, "error", err)
		return err
	}
	in.logger.Info("privileged batch succeeded", "operation", b.Op)
	return nil
}

func stageTemp(data []byte) (string, error) {
	f, err := os.CreateTemp("", "hangulkey-*.plist")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
