// Package security validates filesystem paths before they are written at
// normal privilege and later handed to a privileged shell.
package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Validation errors
var (
	ErrPathValidationFailed = errors.New("security: path validation failed")
	ErrDirectoryNotWritable = errors.New("security: directory not writable")
	ErrNullByte             = errors.New("security: null byte in input")
	ErrUnsafeShellArgument  = errors.New("security: unsafe shell argument")
)

// PermSecureDir is applied explicitly to directories a privileged helper
// will read, so the ambient umask never decides it.
const PermSecureDir os.FileMode = 0755

// Validate checks that path is absolute, free of traversal and
// home-relative components, and that its parent directory exists and is
// writable by the current user.
func Validate(path string) error {
	if path == "" {
		return fmt.Errorf("%w: empty path", ErrPathValidationFailed)
	}
	if strings.ContainsRune(path, 0) {
		return fmt.Errorf("%w: %v", ErrPathValidationFailed, ErrNullByte)
	}
	if containsTraversal(path) {
		return fmt.Errorf("%w: %q contains a traversal component", ErrPathValidationFailed, path)
	}
	if !filepath.IsAbs(path) {
		return fmt.Errorf("%w: %q is not absolute", ErrPathValidationFailed, path)
	}

	parent := filepath.Dir(filepath.Clean(path))
	info, err := os.Stat(parent)
	if err != nil {
		return fmt.Errorf("%w: parent %s: %v", ErrPathValidationFailed, parent, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: parent %s is not a directory", ErrPathValidationFailed, parent)
	}
	if !IsWritable(parent) {
		return fmt.Errorf("%w: %s", ErrDirectoryNotWritable, parent)
	}
	return nil
}

// containsTraversal reports whether any component of path is ".." or "~".
func containsTraversal(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." || part == "~" {
			return true
		}
	}

	// URL-encoded traversal
	return strings.Contains(strings.ToLower(path), "%2e%2e")
}

// CreateSecureDirectory validates path, creates it with any missing
// parents and sets its mode to 0755.
func CreateSecureDirectory(path string) error {
	if err := Validate(path); err != nil {
		return err
	}
	if err := os.MkdirAll(path, PermSecureDir); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	if err := os.Chmod(path, PermSecureDir); err != nil {
		return fmt.Errorf("chmod directory %s: %w", path, err)
	}
	return nil
}
