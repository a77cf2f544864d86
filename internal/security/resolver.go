package security

import (
	"os"
	"path/filepath"
	"strconv"
)

// Resolver picks where the remap script is staged before the privileged
// install moves it into place.
type Resolver struct {
	// SharedRoot is probed for writability, e.g. /Users/Shared.
	SharedRoot string

	// SharedDir is the preferred staging directory under SharedRoot.
	SharedDir string

	// ScriptName is the file name of the staged script.
	ScriptName string

	// TempRoot holds the per-run fallback directory. Defaults to os.TempDir().
	TempRoot string

	runDir string
}

// NewResolver returns a resolver for the given shared directory layout.
func NewResolver(sharedRoot, sharedDir, scriptName string) *Resolver {
	return &Resolver{
		SharedRoot: sharedRoot,
		SharedDir:  sharedDir,
		ScriptName: scriptName,
	}
}

// ChoosePath returns the staged script path. The shared location wins when
// the current user can write to its root; otherwise a per-run temporary
// directory is used.
func (r *Resolver) ChoosePath() string {
	if r.SharedRoot != "" && IsWritable(r.SharedRoot) {
		return filepath.Join(r.SharedDir, r.ScriptName)
	}
	return filepath.Join(r.tempDir(), r.ScriptName)
}

func (r *Resolver) tempDir() string {
	if r.runDir == "" {
		root := r.TempRoot
		if root == "" {
			root = os.TempDir()
		}
		r.runDir = filepath.Join(root, "hangulkey-"+strconv.Itoa(os.Getpid()))
	}
	return r.runDir
}

// Cleanup removes the per-run temporary directory if ChoosePath created
// one. The shared staging directory is left alone.
func (r *Resolver) Cleanup() error {
	if r.runDir == "" {
		return nil
	}
	if err := os.RemoveAll(r.runDir); err != nil {
		return err
	}
	r.runDir = ""
	return nil
}
