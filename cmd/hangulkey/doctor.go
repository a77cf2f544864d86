package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"hangulkey/internal/capture"
	"hangulkey/internal/health"
	"hangulkey/internal/hidutil"
	"hangulkey/internal/installer"
)

// checker assembles the environment checks for the configured install.
func (a *app) checker() *health.Checker {
	inst := a.cfg.Install
	c := health.NewChecker()

	hidutilPath := inst.HidutilPath
	if hidutilPath == "" {
		hidutilPath = hidutil.DefaultPath
	}
	osascriptPath := inst.OsascriptPath
	if osascriptPath == "" {
		osascriptPath = "/usr/bin/osascript"
	}
	launchctlPath := inst.LaunchctlPath
	if launchctlPath == "" {
		launchctlPath = installer.DefaultLaunchctlPath
	}

	c.RegisterFunc("hidutil", true, health.ExecutableCheck(hidutilPath))
	c.RegisterFunc("launchctl", true, health.ExecutableCheck(launchctlPath))
	c.RegisterFunc("osascript", os.Geteuid() != 0, health.ExecutableCheck(osascriptPath))
	c.RegisterFunc("shared root", false,
		health.WritableCheck(inst.SharedRoot, "script is staged in a temporary directory"))
	c.RegisterFunc("agents directory", false, health.DirectoryCheck(inst.DescriptorDir))
	c.RegisterFunc("accessibility", false, health.CustomCheck(health.StatusDegraded, func() (string, error) {
		if capture.Trusted() {
			return "trusted", nil
		}
		return "key capture needs Accessibility access", errors.New("not trusted")
	}))
	c.RegisterFunc("installed mapping", false, health.CustomCheck(health.StatusDegraded, a.installedMatches))
	if a.history != nil {
		c.RegisterFunc("history", false, health.DatabaseCheck(a.history.Ping))
		c.RegisterFunc("history schema", false, health.CustomCheck(health.StatusDegraded, a.historySchema))
	}
	return c
}

// installedMatches compares the installed script with the configured key.
func (a *app) installedMatches() (string, error) {
	rec := a.installer.Probe()
	if !rec.ScriptExists && !rec.DescriptorExists {
		return "not installed", nil
	}
	if !rec.Enabled() {
		return "partially installed; run enable or disable", errors.New("incomplete install")
	}
	insp, err := a.installer.Inspect()
	if err != nil {
		return "unreadable", err
	}
	want := a.manager.Source()
	if insp.Source != want {
		return fmt.Sprintf("installed %s, configured %s", insp.Source.DisplayName, want.DisplayName),
			errors.New("source key mismatch")
	}
	return "matches " + want.DisplayName, nil
}

func (a *app) historySchema() (string, error) {
	status, err := a.history.Schema()
	if err != nil {
		return "unreadable", err
	}
	msg := fmt.Sprintf("version %d of %d", status.CurrentVersion, status.LatestVersion)
	if n := len(status.Pending); n > 0 {
		return msg, fmt.Errorf("%d migrations pending", n)
	}
	return msg, nil
}

func (a *app) cmdDoctor(ctx context.Context) error {
	report := a.checker().Run(ctx)

	for _, r := range report.Results {
		detail := r.Message
		if p, ok := r.Details["path"].(string); ok {
			detail = fmt.Sprintf("%s (%s)", detail, filepath.Clean(p))
		}
		fmt.Printf("  %-10s %-18s %s\n", "["+string(r.Status)+"]", r.Name, detail)
	}
	fmt.Println()
	fmt.Printf("Overall: %s\n", strings.ToUpper(string(report.Status)))

	if report.Status == health.StatusUnhealthy {
		return fmt.Errorf("required checks failed: %s", strings.Join(report.Failed(), ", "))
	}
	return nil
}
