package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"hangulkey/internal/keycode"
)

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

var labelPattern = regexp.MustCompile(`^[A-Za-z0-9-]+(\.[A-Za-z0-9-]+)+$`)

// ValidateConfig checks every section and returns ValidationErrors, or nil.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	if _, ok := keycode.ByUsage(c.SourceUsageCode); !ok {
		errs = append(errs, ValidationError{
			Field:   "sourceUsageCode",
			Message: fmt.Sprintf("unknown key usage 0x%x", c.SourceUsageCode),
		})
	}

	errs = append(errs, validateInstall(&c.Install)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateHistory(&c.History)...)

	if len(errs) == 0 {
		return nil
	}
	return errs
}

func validateInstall(in *InstallConfig) ValidationErrors {
	var errs ValidationErrors

	if !labelPattern.MatchString(in.Label) {
		errs = append(errs, ValidationError{
			Field:   "install.label",
			Message: fmt.Sprintf("label %q is not reverse-DNS", in.Label),
		})
	}

	paths := map[string]string{
		"install.script_path":    in.ScriptPath,
		"install.shared_root":    in.SharedRoot,
		"install.descriptor_dir": in.DescriptorDir,
		"install.hidutil_path":   in.HidutilPath,
		"install.launchctl_path": in.LaunchctlPath,
		"install.osascript_path": in.OsascriptPath,
	}
	for field, p := range paths {
		if p == "" {
			errs = append(errs, *RequiredFieldError(field))
			continue
		}
		if !filepath.IsAbs(p) {
			errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("%q is not absolute", p)})
		}
	}

	if in.Owner == "" || strings.ContainsAny(in.Owner, " \t\n") {
		errs = append(errs, ValidationError{
			Field:   "install.owner",
			Message: fmt.Sprintf("invalid owner %q", in.Owner),
		})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: "file path is required when output is 'file' or 'both'",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxSizeMB < 1 {
		errs = append(errs, *RangeError("logging.max_size_mb", 1, "unbounded"))
	}
	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_backups", Message: "max backups cannot be negative"})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{Field: "logging.max_age_days", Message: "max age cannot be negative"})
	}
	return errs
}

func validateHistory(h *HistoryConfig) ValidationErrors {
	var errs ValidationErrors
	if h.Enabled && h.Path == "" {
		errs = append(errs, *RequiredFieldError("history.path"))
	}
	if h.MaxEntries < 0 {
		errs = append(errs, ValidationError{Field: "history.max_entries", Message: "max entries cannot be negative"})
	}
	return errs
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
