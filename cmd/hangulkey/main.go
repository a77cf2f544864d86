// hangulkey remaps a physical key to F18 so macOS can use it to switch
// input sources.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"hangulkey/internal/autostart"
	"hangulkey/internal/capture"
	"hangulkey/internal/config"
	"hangulkey/internal/escalation"
	"hangulkey/internal/hidutil"
	"hangulkey/internal/installer"
	"hangulkey/internal/logging"
	"hangulkey/internal/mapping"
	"hangulkey/internal/security"
	"hangulkey/internal/store"
)

var (
	configPath = flag.String("config", "", "path to config file")
	logLevel   = flag.String("log-level", "", "override the configured log level")
)

func main() {
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "help" {
		usage()
		return
	}
	if cmd == "keys" {
		cmdKeys()
		return
	}

	a, err := newApp(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var runErr error
	switch cmd {
	case "status":
		runErr = a.cmdStatus(ctx, args)
	case "enable":
		runErr = a.cmdEnable(ctx)
	case "disable":
		runErr = a.cmdDisable(ctx)
	case "set-key":
		runErr = a.cmdSetKey(ctx, args)
	case "capture":
		runErr = a.cmdCapture(ctx, args)
	case "login":
		runErr = a.cmdLogin(ctx, args)
	case "history":
		runErr = a.cmdHistory(ctx, args)
	case "watch":
		runErr = a.cmdWatch(ctx, args)
	case "settings":
		runErr = a.cmdSettings(ctx)
	case "config":
		runErr = a.cmdConfig()
	case "doctor":
		runErr = a.cmdDoctor(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		a.Close()
		os.Exit(1)
	}

	a.Close()
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", mapping.Describe(runErr))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `hangulkey - Remap a key to F18 for input source switching

Usage: hangulkey [options] <command> [args]

Commands:
  status [-v]            Show whether the mapping is installed
  enable                 Install the mapping (asks for an administrator password)
  disable                Remove the mapping
  set-key <name>         Change the source key, e.g. right-command, caps-lock
  capture [-timeout d]   Press a key to choose it as the source key
  keys                   List the keys that can be remapped
  login on|off|status    Start hangulkey at login
  history [-n N]         Show recent operations, or -since 24h for a window
  watch                  Follow status changes until interrupted
  settings               Open the input source shortcuts in System Settings
  config                 Print the effective configuration
  doctor                 Check tools, directories and permissions
  help                   Show this help message

Options:
  -config <path>     Path to config file (default: ` + config.ConfigPath() + `)
  -log-level <lvl>   debug, info, warn or error`)
}

// app holds the wired components for one command.
type app struct {
	cfg     *config.Config
	cfgPath string

	logger    *logging.Logger
	audit     *logging.AuditLogger
	history   *store.Store
	installer *installer.Installer
	remapper  *hidutil.Remapper
	login     *autostart.LaunchAgent
	manager   *mapping.Manager
}

func newApp(path string) (*app, error) {
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, _, err := config.LoadOrCreate(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, cfgPath: path}
	if a.logger, err = newLogger(cfg.Logging); err != nil {
		return nil, err
	}
	logging.SetDefault(a.logger)
	log := a.logger.Logger

	if cfg.Logging.AuditPath != "" {
		a.audit, err = logging.NewAuditLogger(&logging.AuditLoggerConfig{
			FilePath:   cfg.Logging.AuditPath,
			MaxSize:    int64(cfg.Logging.MaxSizeMB),
			MaxAge:     cfg.Logging.MaxAgeDays,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		})
		if err != nil {
			log.Warn("audit log unavailable", "error", err)
		}
	}

	if cfg.History.Enabled {
		a.history, err = store.OpenWithLimit(cfg.History.Path, cfg.History.MaxEntries)
		if err != nil {
			log.Warn("history unavailable", "error", err)
		}
	}

	inst := cfg.Install
	a.remapper = hidutil.NewRemapper(inst.HidutilPath, nil)

	var esc escalation.Escalator = escalation.AppleScript{Path: inst.OsascriptPath, Prompt: inst.Prompt}
	if os.Geteuid() == 0 {
		esc = escalation.Shell{}
	}

	opts := installer.Options{
		Label:         inst.Label,
		ScriptPath:    inst.ScriptPath,
		DescriptorDir: inst.DescriptorDir,
		Owner:         inst.Owner,
		HidutilPath:   inst.HidutilPath,
		LaunchctlPath: inst.LaunchctlPath,
		Resolver:      security.NewResolver(inst.SharedRoot, filepath.Dir(inst.ScriptPath), filepath.Base(inst.ScriptPath)),
		Remapper:      a.remapper,
		Escalator:     esc,
		Logger:        log,
	}
	if a.audit != nil {
		opts.Auditor = a.audit
	}
	a.installer = installer.New(opts)

	a.login = autostart.New(autostart.Options{
		Dir:    config.UserAgentsDir(),
		Args:   []string{"watch"},
		Logger: log,
	})

	mopts := mapping.Options{
		Installer:     a.installer,
		Preferences:   config.NewPreferences(cfg, path),
		LoginItem:     a.login,
		Interceptor:   capture.NewEventTap(),
		Remapper:      a.remapper,
		Source:        cfg.Source(),
		LaunchAtLogin: cfg.LaunchAtLoginEnabled,
		Logger:        log,
	}
	if a.history != nil {
		mopts.Journal = a.history
	}
	a.manager = mapping.New(mopts)
	a.manager.CheckStatus()
	a.manager.RefreshLaunchAtLogin()

	return a, nil
}

func newLogger(lc config.LoggingConfig) (*logging.Logger, error) {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(lc.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     lc.Output,
		FilePath:   lc.FilePath,
		MaxSize:    int64(lc.MaxSizeMB),
		MaxAge:     lc.MaxAgeDays,
		MaxBackups: lc.MaxBackups,
		Compress:   lc.Compress,
		Component:  "hangulkey",
	})
}

// Close releases files held by the app.
func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			slog.Debug("close history", "error", err)
		}
	}
	if a.audit != nil {
		a.audit.Close()
	}
	a.logger.Close()
}
