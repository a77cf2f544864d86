package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"hangulkey/internal/capture"
	"hangulkey/internal/hidutil"
	"hangulkey/internal/keycode"
	"hangulkey/internal/mapping"
	"hangulkey/internal/store"
	"hangulkey/internal/watcher"
)

func (a *app) cmdStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	verbose := fs.Bool("v", false, "inspect the installed artifacts")
	fs.Parse(args)

	snap := a.manager.Snapshot()
	fmt.Println("=== hangulkey Status ===")
	fmt.Println()
	fmt.Printf("Mapping:     %s\n", strings.ToUpper(snap.State.String()))
	fmt.Printf("Source key:  %s\n", snap.Source)
	fmt.Printf("Destination: %s\n", keycode.LocaleToggle)
	fmt.Printf("Login item:  %s\n", onOff(snap.LaunchAtLogin))
	fmt.Println()
	fmt.Println("Artifacts:")
	fmt.Printf("  Script:     %s %s\n", snap.Record.ScriptPath, present(snap.Record.ScriptExists))
	fmt.Printf("  Descriptor: %s %s\n", snap.Record.DescriptorPath, present(snap.Record.DescriptorExists))

	if !*verbose {
		return nil
	}

	fmt.Println()
	fmt.Println("Installed:")
	insp, err := a.installer.Inspect()
	if err != nil {
		fmt.Printf("  %s\n", mapping.Describe(err))
	} else {
		fmt.Printf("  Label:   %s\n", insp.Descriptor.Label)
		fmt.Printf("  Program: %s\n", strings.Join(insp.Descriptor.ProgramArguments, " "))
		if insp.Source.IsZero() {
			fmt.Printf("  Mapping: 0x%x -> 0x%x (unknown key)\n", insp.Mapping.Src, insp.Mapping.Dst)
		} else {
			fmt.Printf("  Mapping: %s -> 0x%x\n", insp.Source, insp.Mapping.Dst)
		}
		fmt.Printf("  Digest:  %s\n", insp.Digest)
		if insp.Source != snap.Source && !insp.Source.IsZero() {
			fmt.Println("  Note: installed key differs from the configured key; run 'hangulkey enable' to update")
		}
	}

	fmt.Println()
	fmt.Println("Live:")
	live, err := a.remapper.Current(ctx)
	switch {
	case err != nil:
		fmt.Printf("  %s\n", mapping.Describe(err))
	case len(live) == 0:
		fmt.Println("  (no mapping active)")
	default:
		for _, m := range live {
			name := fmt.Sprintf("0x%x", m.Src)
			if src, ok := m.Source(); ok {
				name = src.String()
			}
			fmt.Printf("  %s -> 0x%x\n", name, m.Dst)
		}
	}
	return nil
}

func (a *app) cmdEnable(ctx context.Context) error {
	if err := a.manager.Enable(ctx); err != nil {
		return err
	}
	fmt.Printf("Mapping enabled: %s now sends F18.\n", a.manager.Source().DisplayName)
	fmt.Println("Bind F18 to \"Select next source in input menu\" in Keyboard Shortcuts.")
	return nil
}

func (a *app) cmdDisable(ctx context.Context) error {
	if err := a.manager.Disable(ctx); err != nil {
		return err
	}
	fmt.Println("Mapping disabled.")
	return nil
}

func (a *app) cmdSetKey(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: hangulkey set-key <name> (see 'hangulkey keys')")
	}
	src, ok := keycode.Lookup(strings.Join(args, " "))
	if !ok {
		return fmt.Errorf("%w: unknown key %q", mapping.ErrInvalidSource, strings.Join(args, " "))
	}
	return a.applySource(ctx, src)
}

func (a *app) applySource(ctx context.Context, src keycode.Descriptor) error {
	old := a.manager.Source()
	if err := a.manager.SetSourceKey(ctx, src); err != nil {
		return err
	}
	if a.audit != nil {
		a.audit.LogConfigChange(ctx, "sourceUsageCode",
			strconv.FormatUint(uint64(old.UsageCode), 10), strconv.FormatUint(uint64(src.UsageCode), 10))
	}
	fmt.Printf("Source key set to %s.\n", src)
	if a.manager.Snapshot().State != mapping.Enabled {
		fmt.Println("Run 'hangulkey enable' to install the mapping.")
	}
	return nil
}

func (a *app) cmdCapture(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("capture", flag.ExitOnError)
	timeout := fs.Duration("timeout", 30*time.Second, "give up after this long")
	fs.Parse(args)

	if !capture.Trusted() {
		fmt.Fprintln(os.Stderr, "Grant Accessibility access to this terminal in System Settings > Privacy & Security.")
	}

	if err := a.manager.StartCapture(ctx); err != nil {
		return err
	}
	fmt.Println("Press the key to use for switching input sources...")

	waitCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	r, err := a.manager.WaitCapture(waitCtx)
	if err != nil || r.Kind != capture.KeyCaptured {
		// Background ctx: the command context may already be cancelled and
		// the live mapping still has to come back.
		a.manager.CancelCapture(context.Background())
		if errors.Is(err, context.DeadlineExceeded) {
			return errors.New("no key pressed")
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Println("Capture cancelled.")
		return nil
	}

	fmt.Printf("Captured %s.\n", r.Key)
	old := a.manager.Source()
	if err := a.manager.ConfirmCapture(ctx); err != nil {
		return err
	}
	if a.audit != nil {
		a.audit.LogConfigChange(ctx, "sourceUsageCode",
			strconv.FormatUint(uint64(old.UsageCode), 10), strconv.FormatUint(uint64(r.Key.UsageCode), 10))
	}
	return nil
}

func cmdKeys() {
	fmt.Printf("%-16s %-20s %s\n", "NAME", "KEY", "HID")
	for _, e := range keycode.Entries() {
		marker := ""
		if e.Key == keycode.DefaultSource {
			marker = " (default)"
		}
		fmt.Printf("%-16s %-20s %s%s\n", e.Name, e.Key.DisplayName, e.Key.HIDHex(), marker)
	}
}

func (a *app) cmdLogin(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: hangulkey login on|off|status")
	}
	switch args[0] {
	case "status":
		fmt.Printf("Launch at login: %s (%s)\n", onOff(a.manager.RefreshLaunchAtLogin()), a.login.Path())
		return nil
	case "on", "off":
		enabled := args[0] == "on"
		err := a.manager.SetLaunchAtLogin(ctx, enabled)
		if a.audit != nil {
			a.audit.LogLoginItem(ctx, enabled, err)
		}
		if err != nil {
			return err
		}
		fmt.Printf("Launch at login: %s\n", onOff(a.manager.Snapshot().LaunchAtLogin))
		return nil
	default:
		return fmt.Errorf("unknown login action %q", args[0])
	}
}

func (a *app) cmdHistory(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	n := fs.Int("n", 20, "number of operations to show")
	since := fs.Duration("since", 0, "show operations from this long ago, oldest first")
	fs.Parse(args)

	if a.history == nil {
		fmt.Println("History is disabled.")
		return nil
	}

	var (
		ops []store.Operation
		err error
	)
	if *since > 0 {
		ops, err = a.history.Since(ctx, time.Now().Add(-*since))
	} else {
		ops, err = a.history.Recent(ctx, *n)
	}
	if err != nil {
		return err
	}

	total, err := a.history.Count(ctx)
	if err != nil {
		return err
	}
	last, err := a.history.LastSuccess(ctx, mapping.OpEnable)
	if err != nil {
		return err
	}
	fmt.Printf("%d operations stored", total)
	if last != nil {
		fmt.Printf("; last enabled %s with %s",
			last.At.Local().Format("2006-01-02 15:04:05"), last.SourceName)
	}
	fmt.Println()

	if len(ops) == 0 {
		fmt.Println("No operations recorded.")
		return nil
	}

	fmt.Println()
	fmt.Printf("%-20s %-16s %-8s %s\n", "TIME", "OPERATION", "RESULT", "KEY")
	for _, op := range ops {
		fmt.Printf("%-20s %-16s %-8s %s\n",
			op.At.Local().Format("2006-01-02 15:04:05"), op.Kind, op.Outcome, op.SourceName)
		if op.Error != "" {
			detail := op.Error
			if op.FailedStep > 0 {
				detail = fmt.Sprintf("step %d: %s", op.FailedStep, detail)
			}
			fmt.Printf("%-20s %s\n", "", detail)
		}
	}
	return nil
}

func (a *app) cmdWatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	quiet := fs.Duration("quiet", 500*time.Millisecond, "debounce period")
	fs.Parse(args)

	updates, unsubscribe := a.manager.Subscribe()
	defer unsubscribe()

	go func() {
		last := a.manager.Snapshot().State
		for snap := range updates {
			if snap.Loading || snap.State == last {
				continue
			}
			last = snap.State
			fmt.Printf("%s  mapping %s (%s)\n", time.Now().Format("15:04:05"), snap.State, snap.Source.DisplayName)
		}
	}()

	var digest string
	if insp, err := a.installer.Inspect(); err == nil {
		digest = insp.Digest
	}

	fmt.Printf("Watching %s and %s\n", a.installer.ScriptPath(), a.installer.DescriptorPath())
	fmt.Printf("Mapping %s. Press Ctrl-C to stop.\n", a.manager.Snapshot().State)

	err := watcher.Run(ctx, []string{a.installer.ScriptPath(), a.installer.DescriptorPath()}, *quiet,
		func(ev watcher.Event) {
			a.logger.Debug("artifacts changed", "paths", ev.Paths)
			a.manager.CheckStatus()
			insp, err := a.installer.Inspect()
			if err != nil {
				digest = ""
				return
			}
			if digest != "" && insp.Digest != digest {
				a.logger.Warn("installed script changed",
					"path", insp.Descriptor.ProgramArguments[0], "digest", insp.Digest)
				fmt.Printf("%s  script content changed (%s)\n", time.Now().Format("15:04:05"), insp.Digest[:12])
			}
			digest = insp.Digest
		},
		func(err error) {
			a.logger.Warn("watch error", "error", err)
		})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// inputSourcesURL opens System Settings at Keyboard > Input Sources.
const inputSourcesURL = "x-apple.systempreferences:com.apple.preference.keyboard?InputSources"

func (a *app) cmdSettings(ctx context.Context) error {
	if _, err := (hidutil.ExecRunner{}).Run(ctx, "/usr/bin/open", inputSourcesURL); err != nil {
		return fmt.Errorf("open System Settings: %w", err)
	}
	fmt.Println("Bind F18 to \"Select next source in input menu\" under Keyboard Shortcuts > Input Sources.")
	return nil
}

func (a *app) cmdConfig() error {
	c := a.cfg
	fmt.Printf("Config file:     %s\n", a.cfgPath)
	fmt.Printf("Source key:      %s\n", c.Source())
	fmt.Printf("Launch at login: %s\n", onOff(c.LaunchAtLoginEnabled))
	fmt.Println()
	fmt.Println("Install:")
	fmt.Printf("  Label:          %s\n", c.Install.Label)
	fmt.Printf("  Script:         %s\n", c.Install.ScriptPath)
	fmt.Printf("  Descriptor dir: %s\n", c.Install.DescriptorDir)
	fmt.Printf("  Owner:          %s\n", c.Install.Owner)
	fmt.Println()
	fmt.Println("Logging:")
	fmt.Printf("  Level:  %s\n", c.Logging.Level)
	fmt.Printf("  Output: %s\n", c.Logging.Output)
	if c.Logging.AuditPath != "" {
		fmt.Printf("  Audit:  %s\n", c.Logging.AuditPath)
	}
	fmt.Println()
	if c.History.Enabled {
		fmt.Printf("History: %s (keeps %d)\n", c.History.Path, c.History.MaxEntries)
	} else {
		fmt.Println("History: disabled")
	}
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func present(b bool) string {
	if b {
		return "(present)"
	}
	return "(missing)"
}
