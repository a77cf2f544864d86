package security

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// Path Validation Tests
// =============================================================================

func TestValidateRejectsTraversal(t *testing.T) {
	tests := []string{
		"/base/../../etc",
		"~/x",
		"/Users/Shared/~/bin",
		"/tmp/%2e%2e/etc",
		"relative/path",
		"",
		"/tmp/a\x00b",
	}

	for _, path := range tests {
		err := Validate(path)
		if !errors.Is(err, ErrPathValidationFailed) {
			t.Errorf("Validate(%q) = %v, want ErrPathValidationFailed", path, err)
		}
	}
}

func TestValidateMissingParent(t *testing.T) {
	dir := t.TempDir()
	err := Validate(filepath.Join(dir, "missing", "child"))
	if !errors.Is(err, ErrPathValidationFailed) {
		t.Fatalf("expected ErrPathValidationFailed, got %v", err)
	}
}

func TestValidateAcceptsWritableParent(t *testing.T) {
	dir := t.TempDir()
	if err := Validate(filepath.Join(dir, "bin")); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateNonWritableParent(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root bypasses directory permissions")
	}

	base := filepath.Join(t.TempDir(), "base")
	if err := os.Mkdir(base, 0555); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chmod(base, 0755) })

	err := Validate(filepath.Join(base, "x"))
	if !errors.Is(err, ErrDirectoryNotWritable) {
		t.Fatalf("expected ErrDirectoryNotWritable, got %v", err)
	}
	if errors.Is(err, ErrPathValidationFailed) {
		t.Fatal("non-writable parent must not report a validation failure")
	}
}

func TestCreateSecureDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "bin")

	if err := CreateSecureDirectory(dir); err != nil {
		t.Fatalf("CreateSecureDirectory: %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsDir() {
		t.Fatal("expected a directory")
	}
	if mode := info.Mode().Perm(); mode != PermSecureDir {
		t.Errorf("mode = %04o, want %04o", mode, PermSecureDir)
	}

	// Idempotent
	if err := CreateSecureDirectory(dir); err != nil {
		t.Fatalf("second CreateSecureDirectory: %v", err)
	}
}

func TestCreateSecureDirectoryRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	err := CreateSecureDirectory(dir + "/../escape")
	if !errors.Is(err, ErrPathValidationFailed) {
		t.Fatalf("expected ErrPathValidationFailed, got %v", err)
	}
}

// =============================================================================
// Resolver Tests
// =============================================================================

func TestResolverPrefersSharedLocation(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(root, filepath.Join(root, "bin"), "remap")

	got := r.ChoosePath()
	want := filepath.Join(root, "bin", "remap")
	if got != want {
		t.Errorf("ChoosePath() = %q, want %q", got, want)
	}
}

func TestResolverFallsBackToTemp(t *testing.T) {
	tmp := t.TempDir()
	r := NewResolver("/nonexistent-shared-root", "/nonexistent-shared-root/bin", "remap")
	r.TempRoot = tmp

	got := r.ChoosePath()
	if !strings.HasPrefix(got, tmp+string(filepath.Separator)) {
		t.Fatalf("ChoosePath() = %q, want a path under %q", got, tmp)
	}
	if filepath.Base(got) != "remap" {
		t.Errorf("unexpected script name in %q", got)
	}
	if again := r.ChoosePath(); again != got {
		t.Errorf("per-run directory changed: %q then %q", got, again)
	}
	if err := Validate(filepath.Dir(got)); err != nil {
		t.Errorf("fallback directory does not validate: %v", err)
	}
}

func TestResolverCleanup(t *testing.T) {
	tmp := t.TempDir()
	r := NewResolver("/nonexistent-shared-root", "/nonexistent-shared-root/bin", "remap")
	r.TempRoot = tmp

	if err := r.Cleanup(); err != nil {
		t.Fatalf("Cleanup before use: %v", err)
	}

	staged := r.ChoosePath()
	if err := CreateSecureDirectory(filepath.Dir(staged)); err != nil {
		t.Fatalf("CreateSecureDirectory: %v", err)
	}
	if err := WriteSecureFile(staged, []byte("#!/bin/sh\n"), PermScript); err != nil {
		t.Fatalf("WriteSecureFile: %v", err)
	}

	if err := r.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(staged)); !os.IsNotExist(err) {
		t.Errorf("staging directory still present: %v", err)
	}
	if _, err := os.Stat(tmp); err != nil {
		t.Errorf("temp root removed: %v", err)
	}
}

func TestResolverCleanupLeavesSharedLocation(t *testing.T) {
	root := t.TempDir()
	r := NewResolver(root, filepath.Join(root, "bin"), "remap")
	if err := os.MkdirAll(filepath.Join(root, "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	r.ChoosePath()

	if err := r.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "bin")); err != nil {
		t.Errorf("shared staging directory removed: %v", err)
	}
}

// =============================================================================
// Shell Quoting Tests
// =============================================================================

func TestShellQuote(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/Library/LaunchAgents/x.plist", `'/Library/LaunchAgents/x.plist'`},
		{"it's", `'it'\''s'`},
		{"", `''`},
		{"$(rm -rf /)", `'$(rm -rf /)'`},
	}
	for _, tt := range tests {
		if got := ShellQuote(tt.in); got != tt.want {
			t.Errorf("ShellQuote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestShellQuoteRoundTrip(t *testing.T) {
	inputs := []string{"plain", "it's", `a"b`, "$HOME `id`", `back\slash`, "'; echo pwned; '"}
	for _, in := range inputs {
		out, err := exec.Command("/bin/sh", "-c", "printf %s "+ShellQuote(in)).Output()
		if err != nil {
			t.Fatalf("sh: %v", err)
		}
		if string(out) != in {
			t.Errorf("round trip of %q produced %q", in, out)
		}
	}
}

func TestCheckShellArgument(t *testing.T) {
	if err := CheckShellArgument("/Users/Shared/bin/x y"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	for _, bad := range []string{"a\nb", "a\rb", "a\x00b"} {
		if err := CheckShellArgument(bad); !errors.Is(err, ErrUnsafeShellArgument) {
			t.Errorf("CheckShellArgument(%q) = %v, want ErrUnsafeShellArgument", bad, err)
		}
	}
}

// =============================================================================
// File Tests
// =============================================================================

func TestWriteSecureFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "prefs.toml")

	if err := WriteSecureFile(path, []byte("a = 1\n"), PermPrivateFile); err != nil {
		t.Fatalf("WriteSecureFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "a = 1\n" {
		t.Errorf("content = %q", data)
	}

	info, _ := os.Stat(path)
	if mode := info.Mode().Perm(); mode != PermPrivateFile {
		t.Errorf("mode = %04o, want %04o", mode, PermPrivateFile)
	}

	matches, _ := filepath.Glob(path + ".tmp.*")
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}

func TestWriteSecureFileRejectsRelative(t *testing.T) {
	if err := WriteSecureFile("prefs.toml", nil, PermPrivateFile); !errors.Is(err, ErrPathValidationFailed) {
		t.Fatalf("expected ErrPathValidationFailed, got %v", err)
	}
}

func TestLockFile(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "lock"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if err := LockFile(f); err != nil {
		t.Fatalf("LockFile: %v", err)
	}
	if err := UnlockFile(f); err != nil {
		t.Fatalf("UnlockFile: %v", err)
	}
}
