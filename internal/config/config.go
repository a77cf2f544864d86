// Package config handles preferences and settings loading, validation and
// persistence for hangulkey.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"hangulkey/internal/keycode"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the persisted preferences and the tool settings.
//
// The three preference keys are top-level so other tools reading the file
// see the same names the app has always written.
type Config struct {
	// Version is the configuration schema version for migrations.
	Version int `toml:"version" json:"version" yaml:"version"`

	// SourceUsageCode is the HID usage of the key mapped onto F18.
	SourceUsageCode uint32 `toml:"sourceUsageCode" json:"sourceUsageCode" yaml:"sourceUsageCode"`

	// SourceDisplayName is shown next to the source key.
	SourceDisplayName string `toml:"sourceDisplayName" json:"sourceDisplayName" yaml:"sourceDisplayName"`

	// LaunchAtLoginEnabled mirrors the login item registration.
	LaunchAtLoginEnabled bool `toml:"launchAtLoginEnabled" json:"launchAtLoginEnabled" yaml:"launchAtLoginEnabled"`

	// Install locates the artifacts and helper tools.
	Install InstallConfig `toml:"install" json:"install" yaml:"install"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// History configures the operation journal.
	History HistoryConfig `toml:"history" json:"history" yaml:"history"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// InstallConfig holds artifact locations and tool paths.
type InstallConfig struct {
	// Label is the launchd job label.
	Label string `toml:"label" json:"label" yaml:"label"`

	// ScriptPath is the installed remap script.
	ScriptPath string `toml:"script_path" json:"script_path" yaml:"script_path"`

	// SharedRoot is probed to decide whether the script can be staged in
	// place.
	SharedRoot string `toml:"shared_root" json:"shared_root" yaml:"shared_root"`

	// DescriptorDir receives the launchd descriptor.
	DescriptorDir string `toml:"descriptor_dir" json:"descriptor_dir" yaml:"descriptor_dir"`

	// Owner is the chown(8) spec applied to the descriptor.
	Owner string `toml:"owner" json:"owner" yaml:"owner"`

	HidutilPath   string `toml:"hidutil_path" json:"hidutil_path" yaml:"hidutil_path"`
	LaunchctlPath string `toml:"launchctl_path" json:"launchctl_path" yaml:"launchctl_path"`
	OsascriptPath string `toml:"osascript_path" json:"osascript_path" yaml:"osascript_path"`

	// Prompt replaces the authorization prompt text.
	Prompt string `toml:"prompt" json:"prompt" yaml:"prompt"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is "stdout", "stderr", "file" or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file (when Output is "file" or "both").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// AuditPath receives one JSON line per privileged operation. Empty
	// disables the audit log.
	AuditPath string `toml:"audit_path" json:"audit_path" yaml:"audit_path"`

	MaxSizeMB  int  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool `toml:"compress" json:"compress" yaml:"compress"`
}

// HistoryConfig holds operation journal configuration.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`

	// MaxEntries bounds the journal; older rows are pruned. 0 keeps all.
	MaxEntries int `toml:"max_entries" json:"max_entries" yaml:"max_entries"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	dir := Dir()
	logDir := PlatformLogDir()
	return &Config{
		Version:           Version,
		SourceUsageCode:   keycode.DefaultSource.UsageCode,
		SourceDisplayName: keycode.DefaultSource.DisplayName,
		Install: InstallConfig{
			Label:         "com.hangulcommand.userkeymapping",
			ScriptPath:    "/Users/Shared/bin/hangulkeymapping",
			SharedRoot:    "/Users/Shared",
			DescriptorDir: "/Library/LaunchAgents",
			Owner:         "root:admin",
			HidutilPath:   "/usr/bin/hidutil",
			LaunchctlPath: "/bin/launchctl",
			OsascriptPath: "/usr/bin/osascript",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(logDir, "hangulkey.log"),
			AuditPath:  filepath.Join(logDir, "audit.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
			Compress:   true,
		},
		History: HistoryConfig{
			Enabled:    true,
			Path:       filepath.Join(dir, "history.db"),
			MaxEntries: 1000,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(Dir(), "config.toml")
}

// Dir returns the base hangulkey directory. HANGULKEY_DATA_DIR overrides
// the platform default.
func Dir() string {
	if envDir := os.Getenv("HANGULKEY_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// Source returns the persisted source key. Unknown or missing usage codes
// fall back to the default.
func (c *Config) Source() keycode.Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if d, ok := keycode.ByUsage(c.SourceUsageCode); ok {
		return d
	}
	return keycode.DefaultSource
}

// SetSource records d as the source key.
func (c *Config) SetSource(d keycode.Descriptor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.SourceUsageCode = d.UsageCode
	c.SourceDisplayName = d.DisplayName
}

// SetLaunchAtLogin records the login item state.
func (c *Config) SetLaunchAtLogin(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LaunchAtLoginEnabled = enabled
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the per-user directories the tool writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Logging.FilePath),
		filepath.Dir(c.Logging.AuditPath),
		filepath.Dir(c.History.Path),
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies HANGULKEY_* environment overrides.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("HANGULKEY_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("HANGULKEY_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("HANGULKEY_AUDIT_PATH"); v != "" {
		c.Logging.AuditPath = v
	}
	if v := os.Getenv("HANGULKEY_HISTORY_PATH"); v != "" {
		c.History.Path = v
	}

	// Install overrides, mostly for testing against scratch directories.
	if v := os.Getenv("HANGULKEY_SCRIPT_PATH"); v != "" {
		c.Install.ScriptPath = v
	}
	if v := os.Getenv("HANGULKEY_SHARED_ROOT"); v != "" {
		c.Install.SharedRoot = v
	}
	if v := os.Getenv("HANGULKEY_DESCRIPTOR_DIR"); v != "" {
		c.Install.DescriptorDir = v
	}
	if v := os.Getenv("HANGULKEY_HIDUTIL_PATH"); v != "" {
		c.Install.HidutilPath = v
	}
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Version:              c.Version,
		SourceUsageCode:      c.SourceUsageCode,
		SourceDisplayName:    c.SourceDisplayName,
		LaunchAtLoginEnabled: c.LaunchAtLoginEnabled,
		Install:              c.Install,
		Logging:              c.Logging,
		History:              c.History,
	}
}
