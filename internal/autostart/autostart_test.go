package autostart

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hangulkey/internal/launchd"
)

func TestEnableDisable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "LaunchAgents")
	agent := New(Options{Dir: dir, Executable: "/usr/local/bin/hangulkey", Args: []string{"watch"}})

	enabled, err := agent.Enabled()
	require.NoError(t, err)
	assert.False(t, enabled)

	require.NoError(t, agent.SetEnabled(true))
	enabled, err = agent.Enabled()
	require.NoError(t, err)
	assert.True(t, enabled)

	info, err := os.Stat(agent.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	d, err := launchd.Read(agent.Path())
	require.NoError(t, err)
	assert.Equal(t, DefaultLabel, d.Label)
	assert.Equal(t, []string{"/usr/local/bin/hangulkey", "watch"}, d.ProgramArguments)
	assert.True(t, d.RunAtLoad)

	require.NoError(t, agent.SetEnabled(false))
	enabled, err = agent.Enabled()
	require.NoError(t, err)
	assert.False(t, enabled)

	// Disabling twice is fine.
	assert.NoError(t, agent.SetEnabled(false))
}

func TestAppBundleUsesOpen(t *testing.T) {
	agent := New(Options{
		Dir:        t.TempDir(),
		Executable: "/Applications/HangulKey.app/Contents/MacOS/hangulkey",
		Args:       []string{"ignored"},
	})
	require.NoError(t, agent.SetEnabled(true))

	d, err := launchd.Read(agent.Path())
	require.NoError(t, err)
	assert.Equal(t, []string{"/usr/bin/open", "-a", "/Applications/HangulKey.app"}, d.ProgramArguments)
}

func TestForeignDescriptorNotEnabled(t *testing.T) {
	dir := t.TempDir()
	agent := New(Options{Dir: dir, Label: "com.example.mine", Executable: "/bin/true"})

	other, err := launchd.New("com.example.other", "/bin/true").Encode()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(agent.Path(), other, 0644))

	enabled, err := agent.Enabled()
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestCorruptDescriptorReportsError(t *testing.T) {
	dir := t.TempDir()
	agent := New(Options{Dir: dir, Executable: "/bin/true"})
	require.NoError(t, os.WriteFile(agent.Path(), []byte(`<?xml version="1.0"?><plist><dict><key>Label`), 0644))

	_, err := agent.Enabled()
	assert.ErrorIs(t, err, launchd.ErrInvalidDescriptor)
}

func TestRelativeExecutableRejected(t *testing.T) {
	agent := New(Options{Dir: t.TempDir(), Executable: "bin/hangulkey"})
	err := agent.SetEnabled(true)
	assert.ErrorIs(t, err, launchd.ErrInvalidDescriptor)
	_, statErr := os.Stat(agent.Path())
	assert.True(t, os.IsNotExist(statErr))
}
