package config

import (
	"fmt"

	"hangulkey/internal/keycode"
)

// MigrationResult describes what MigrateConfig changed.
type MigrationResult struct {
	FromVersion int
	ToVersion   int
	Changes     []string
	Warnings    []string
}

// MigrateConfig upgrades cfg in place to the current schema version.
func MigrateConfig(cfg *Config) (*MigrationResult, error) {
	result := &MigrationResult{FromVersion: cfg.Version, ToVersion: Version}

	if cfg.Version > Version {
		return nil, fmt.Errorf("config version %d is newer than supported version %d", cfg.Version, Version)
	}

	for cfg.Version < Version {
		var changes, warnings []string
		switch cfg.Version {
		case 0:
			changes, warnings = migrateV0ToV1(cfg)
		default:
			return nil, fmt.Errorf("no migration from config version %d", cfg.Version)
		}
		result.Changes = append(result.Changes, changes...)
		result.Warnings = append(result.Warnings, warnings...)
		cfg.Version++
	}
	return result, nil
}

// migrateV0ToV1 handles preference files written before the schema had a
// version: the display name may be missing or stale, and the usage code may
// name a key the table no longer carries.
func migrateV0ToV1(cfg *Config) (changes []string, warnings []string) {
	if cfg.SourceUsageCode == 0 {
		cfg.SourceUsageCode = keycode.DefaultSource.UsageCode
		cfg.SourceDisplayName = keycode.DefaultSource.DisplayName
		changes = append(changes, "set default source key")
		return changes, warnings
	}

	d, ok := keycode.ByUsage(cfg.SourceUsageCode)
	if !ok {
		warnings = append(warnings, fmt.Sprintf("unknown source usage 0x%x replaced by default", cfg.SourceUsageCode))
		d = keycode.DefaultSource
	}
	if cfg.SourceUsageCode != d.UsageCode || cfg.SourceDisplayName != d.DisplayName {
		cfg.SourceUsageCode = d.UsageCode
		cfg.SourceDisplayName = d.DisplayName
		changes = append(changes, "refreshed source display name")
	}
	return changes, warnings
}
