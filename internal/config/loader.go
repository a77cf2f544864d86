package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"hangulkey/internal/security"
)

// Load reads configuration from path, or ConfigPath() when path is empty.
// A missing file yields the defaults. The format follows the extension
// (TOML, JSON or YAML); unknown extensions are tried in that order.
// Older schema versions are migrated in memory. HANGULKEY_* overrides are
// applied to the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// loadFile is Load without environment overrides.
func loadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// A file without a version key predates versioning.
	cfg.Version = 0
	if err := decode(path, data, cfg); err != nil {
		return nil, err
	}
	if _, err := MigrateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrCreate loads path, writing the defaults first if it does not exist.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		path = ConfigPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := Save(cfg, path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		cfg.ApplyEnvOverrides()
		return cfg, true, nil
	}
	cfg, err := Load(path)
	return cfg, false, err
}

func decode(path string, data []byte, cfg *Config) error {
	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if err := autoDetectAndParse(data, cfg); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	return nil
}

// autoDetectAndParse attempts to parse the config in multiple formats.
func autoDetectAndParse(data []byte, cfg *Config) error {
	if _, err := toml.Decode(string(data), cfg); err == nil {
		return nil
	}
	if err := json.Unmarshal(data, cfg); err == nil {
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err == nil {
		return nil
	}
	return fmt.Errorf("unable to parse config file (tried TOML, JSON, YAML)")
}

func encode(path string, cfg *Config) ([]byte, error) {
	snapshot := cfg.Clone()

	switch filepath.Ext(path) {
	case ".json":
		data, err := json.MarshalIndent(snapshot, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(data, '\n'), nil
	case ".yaml", ".yml":
		return yaml.Marshal(snapshot)
	default:
		var buf bytes.Buffer
		buf.WriteString("# hangulkey preferences\n")
		if err := toml.NewEncoder(&buf).Encode(snapshot); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

// Save writes cfg to path atomically with owner-only permissions. Writers
// are serialized through an advisory lock on a sibling ".lock" file.
func Save(cfg *Config, path string) error {
	if path == "" {
		path = ConfigPath()
	}
	unlock, err := lockConfig(path)
	if err != nil {
		return err
	}
	defer unlock()
	return write(cfg, path)
}

// Update re-reads the file at path under the config lock, applies fn and
// writes the result. Values that came from the environment or from flags
// in this process are never written back.
func Update(path string, fn func(*Config)) error {
	if path == "" {
		path = ConfigPath()
	}
	unlock, err := lockConfig(path)
	if err != nil {
		return err
	}
	defer unlock()

	cfg, err := loadFile(path)
	if err != nil {
		return err
	}
	fn(cfg)
	return write(cfg, path)
}

func lockConfig(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), security.PermPrivateDir); err != nil {
		return nil, fmt.Errorf("create config directory: %w", err)
	}
	lock, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, security.PermPrivateFile)
	if err != nil {
		return nil, fmt.Errorf("open config lock: %w", err)
	}
	if err := security.LockFile(lock); err != nil {
		lock.Close()
		return nil, fmt.Errorf("lock config: %w", err)
	}
	return func() {
		security.UnlockFile(lock)
		lock.Close()
	}, nil
}

func write(cfg *Config, path string) error {
	data, err := encode(path, cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := security.WriteSecureFile(path, data, security.PermPrivateFile); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
