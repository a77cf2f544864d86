package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PlatformDataDir returns the platform-specific data directory.
//
// Platform paths:
//   - macOS:   ~/Library/Application Support/hangulkey/
//   - Linux:   ~/.local/share/hangulkey/
//
// Falls back to ~/.hangulkey elsewhere.
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Application Support", "hangulkey")
	case "linux":
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			return filepath.Join(xdg, "hangulkey")
		}
		return filepath.Join(homeDir(), ".local", "share", "hangulkey")
	default:
		return filepath.Join(homeDir(), ".hangulkey")
	}
}

// PlatformLogDir returns the platform-specific log directory.
//
// Platform paths:
//   - macOS:   ~/Library/Logs/hangulkey/
//   - Linux:   ~/.local/state/hangulkey/
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(homeDir(), "Library", "Logs", "hangulkey")
	case "linux":
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			return filepath.Join(xdg, "hangulkey")
		}
		return filepath.Join(homeDir(), ".local", "state", "hangulkey")
	default:
		return filepath.Join(homeDir(), ".hangulkey", "logs")
	}
}

// UserAgentsDir is where per-user launch agents live.
func UserAgentsDir() string {
	return filepath.Join(homeDir(), "Library", "LaunchAgents")
}

func homeDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return home
}

// SupportedConfigFormats lists the recognised file extensions.
func SupportedConfigFormats() []string {
	return []string{".toml", ".json", ".yaml", ".yml"}
}
