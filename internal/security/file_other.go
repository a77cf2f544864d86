//go:build !unix

package security

import (
	"os"
	"path/filepath"
)

func lockFile(f *os.File) error { return nil }

func unlockFile(f *os.File) error { return nil }

// isWritable probes by creating and removing a temporary file.
func isWritable(dir string) bool {
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return false
	}
	name := f.Name()
	f.Close()
	os.Remove(filepath.Clean(name))
	return true
}
