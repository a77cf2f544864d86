package security

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// File permission constants
const (
	// PermPrivateFile is used for per-user preferences.
	PermPrivateFile os.FileMode = 0600

	// PermPrivateDir is used for per-user preference directories.
	PermPrivateDir os.FileMode = 0700

	// PermScript is the mode of the staged remap script.
	PermScript os.FileMode = 0755

	// PermDescriptor is the mode of an installed launchd descriptor.
	PermDescriptor os.FileMode = 0644
)

// File operation errors
var (
	ErrAtomicWriteFailed = errors.New("security: atomic write failed")
	ErrTempFileFailed    = errors.New("security: temporary file creation failed")
)

// SecureFileWriter handles atomic file writes with explicit permissions.
type SecureFileWriter struct {
	path     string
	perm     os.FileMode
	tempFile *os.File
	tempPath string
}

// NewSecureFileWriter creates a writer that stages data in a sibling
// temporary file and renames it over path on Commit.
func NewSecureFileWriter(path string, perm os.FileMode) (*SecureFileWriter, error) {
	if !filepath.IsAbs(path) || containsTraversal(path) {
		return nil, fmt.Errorf("%w: %q", ErrPathValidationFailed, path)
	}
	clean := filepath.Clean(path)

	if err := os.MkdirAll(filepath.Dir(clean), PermPrivateDir); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	tempPath := clean + ".tmp." + randomSuffix()
	tempFile, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTempFileFailed, err)
	}

	return &SecureFileWriter{
		path:     clean,
		perm:     perm,
		tempFile: tempFile,
		tempPath: tempPath,
	}, nil
}

// Write writes data to the temporary file.
func (w *SecureFileWriter) Write(p []byte) (n int, err error) {
	return w.tempFile.Write(p)
}

// Commit syncs the temporary file, forces its mode and renames it into place.
func (w *SecureFileWriter) Commit() error {
	if err := w.tempFile.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("sync: %w", err)
	}
	if err := w.tempFile.Close(); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("close: %w", err)
	}
	// O_CREATE honours the umask; the final mode must not.
	if err := os.Chmod(w.tempPath, w.perm); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(w.tempPath, w.path); err != nil {
		os.Remove(w.tempPath)
		return fmt.Errorf("%w: %v", ErrAtomicWriteFailed, err)
	}
	return nil
}

// Abort cancels the write and removes the temporary file.
func (w *SecureFileWriter) Abort() {
	w.tempFile.Close()
	os.Remove(w.tempPath)
}

func randomSuffix() string {
	var b [8]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// WriteSecureFile writes data to path atomically with mode perm.
func WriteSecureFile(path string, data []byte, perm os.FileMode) error {
	writer, err := NewSecureFileWriter(path, perm)
	if err != nil {
		return err
	}

	if _, err := writer.Write(data); err != nil {
		writer.Abort()
		return err
	}

	return writer.Commit()
}

// LockFile attempts to acquire an exclusive lock on a file.
func LockFile(f *os.File) error {
	return lockFile(f)
}

// UnlockFile releases the exclusive lock on a file.
func UnlockFile(f *os.File) error {
	return unlockFile(f)
}

// IsWritable reports whether the current user may create entries in dir.
func IsWritable(dir string) bool {
	return isWritable(dir)
}
