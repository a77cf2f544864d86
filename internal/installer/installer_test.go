package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hangulkey/internal/escalation"
	"hangulkey/internal/hidutil"
	"hangulkey/internal/keycode"
	"hangulkey/internal/launchd"
	"hangulkey/internal/security"
)

type fakeRunner struct {
	calls [][]string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return nil, nil
}

type fakeAuditor struct {
	ops  []string
	errs []error
}

func (f *fakeAuditor) LogEscalation(ctx context.Context, op string, steps []string, err error) error {
	f.ops = append(f.ops, op)
	f.errs = append(f.errs, err)
	return nil
}

type failingEscalator struct{ err error }

func (f failingEscalator) Run(ctx context.Context, b *escalation.Batch) (string, error) {
	return "", f.err
}

type env struct {
	root     string
	shared   string
	agents   string
	tmp      string
	runner   *fakeRunner
	auditor  *fakeAuditor
	resolver *security.Resolver
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	e := &env{
		root:    root,
		shared:  filepath.Join(root, "Shared"),
		agents:  filepath.Join(root, "LaunchAgents"),
		tmp:     filepath.Join(root, "tmp"),
		runner:  &fakeRunner{},
		auditor: &fakeAuditor{},
	}
	require.NoError(t, os.Mkdir(e.shared, 0755))
	require.NoError(t, os.Mkdir(e.tmp, 0755))
	t.Setenv("TMPDIR", e.tmp)

	e.resolver = security.NewResolver(e.shared, filepath.Join(e.shared, "bin"), "hangulkeymapping")
	e.resolver.TempRoot = e.tmp
	return e
}

func (e *env) installer(esc escalation.Escalator) *Installer {
	if esc == nil {
		esc = escalation.Shell{}
	}
	return New(Options{
		ScriptPath:    filepath.Join(e.shared, "bin", "hangulkeymapping"),
		DescriptorDir: e.agents,
		Owner:         fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		LaunchctlPath: "true",
		Resolver:      e.resolver,
		Remapper:      hidutil.NewRemapper("", e.runner),
		Escalator:     esc,
		Auditor:       e.auditor,
	})
}

func capsLock(t *testing.T) keycode.Descriptor {
	t.Helper()
	d, ok := keycode.Lookup("caps-lock")
	require.True(t, ok)
	return d
}

func TestInstallCreatesArtifacts(t *testing.T) {
	e := newEnv(t)
	in := e.installer(nil)

	require.False(t, in.Probe().Enabled())
	require.NoError(t, in.Install(context.Background(), keycode.DefaultSource))

	rec := in.Probe()
	assert.True(t, rec.ScriptExists)
	assert.True(t, rec.DescriptorExists)
	assert.True(t, rec.Enabled())
	assert.Equal(t, filepath.Join(e.agents, launchd.DefaultLabel+".plist"), rec.DescriptorPath)

	info, err := os.Stat(in.ScriptPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())

	content, err := os.ReadFile(in.ScriptPath())
	require.NoError(t, err)
	assert.Equal(t, hidutil.Script(hidutil.DefaultPath, hidutil.ForKey(keycode.DefaultSource)), string(content))

	info, err = os.Stat(in.DescriptorPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	d, err := launchd.Read(in.DescriptorPath())
	require.NoError(t, err)
	assert.Equal(t, []string{in.ScriptPath()}, d.ProgramArguments)
	assert.True(t, d.RunAtLoad)
	assert.False(t, d.KeepAlive)

	require.Len(t, e.runner.calls, 1)
	assert.Equal(t, append([]string{hidutil.DefaultPath}, hidutil.SetArgs(hidutil.ForKey(keycode.DefaultSource))...), e.runner.calls[0])

	assert.Equal(t, []string{"install"}, e.auditor.ops)
	assert.Nil(t, e.auditor.errs[0])

	leftovers, err := os.ReadDir(e.tmp)
	require.NoError(t, err)
	assert.Empty(t, leftovers, "staged descriptor should be removed")
}

func TestInstallTwiceLeavesOneOfEach(t *testing.T) {
	e := newEnv(t)
	in := e.installer(nil)

	require.NoError(t, in.Install(context.Background(), keycode.DefaultSource))
	require.NoError(t, in.Install(context.Background(), capsLock(t)))

	scripts, err := os.ReadDir(filepath.Join(e.shared, "bin"))
	require.NoError(t, err)
	assert.Len(t, scripts, 1)

	agents, err := os.ReadDir(e.agents)
	require.NoError(t, err)
	assert.Len(t, agents, 1)

	insp, err := in.Inspect()
	require.NoError(t, err)
	assert.Equal(t, capsLock(t), insp.Source)

	content, err := os.ReadFile(in.ScriptPath())
	require.NoError(t, err)
	assert.Equal(t, Fingerprint(content), insp.Digest)
	assert.Len(t, insp.Digest, 64)
}

func TestInstallFromTemporaryStaging(t *testing.T) {
	e := newEnv(t)
	e.resolver.SharedRoot = filepath.Join(e.root, "missing")
	in := e.installer(nil)

	require.NoError(t, in.Install(context.Background(), keycode.DefaultSource))
	assert.True(t, in.Probe().Enabled())

	staged := filepath.Join(e.tmp, fmt.Sprintf("hangulkey-%d", os.Getpid()))
	assert.NoDirExists(t, staged, "per-run staging directory should be removed")
	assert.FileExists(t, in.ScriptPath())
}

func TestInstallRemovesTemporaryStagingOnFailure(t *testing.T) {
	e := newEnv(t)
	e.resolver.SharedRoot = filepath.Join(e.root, "missing")
	in := e.installer(failingEscalator{err: escalation.ErrPermissionDenied})

	require.Error(t, in.Install(context.Background(), keycode.DefaultSource))
	assert.NoDirExists(t, filepath.Join(e.tmp, fmt.Sprintf("hangulkey-%d", os.Getpid())))
}

func TestInstallKeepsSharedStagingDirectory(t *testing.T) {
	e := newEnv(t)
	in := e.installer(nil)

	require.NoError(t, in.Install(context.Background(), keycode.DefaultSource))
	assert.DirExists(t, filepath.Join(e.shared, "bin"))
}

func TestInstallRejectsRelativeStaging(t *testing.T) {
	e := newEnv(t)
	e.resolver.SharedDir = "relative/bin"
	in := e.installer(nil)

	err := in.Install(context.Background(), keycode.DefaultSource)
	assert.ErrorIs(t, err, security.ErrPathValidationFailed)
	assert.False(t, in.Probe().DescriptorExists)
}

func TestInstallRejectsInvalidSource(t *testing.T) {
	e := newEnv(t)
	in := e.installer(nil)

	err := in.Install(context.Background(), keycode.Descriptor{})
	assert.ErrorIs(t, err, hidutil.ErrInvalidMapping)
	assert.Empty(t, e.auditor.ops)
}

func TestInstallEscalationDeclined(t *testing.T) {
	e := newEnv(t)
	declined := &escalation.Error{Op: escalation.OpInstall, Code: -128, Err: escalation.ErrPermissionDenied}
	in := e.installer(failingEscalator{err: declined})

	err := in.Install(context.Background(), keycode.DefaultSource)
	assert.ErrorIs(t, err, escalation.ErrPermissionDenied)
	assert.False(t, in.Probe().DescriptorExists)
	require.Len(t, e.auditor.errs, 1)
	assert.ErrorIs(t, e.auditor.errs[0], escalation.ErrPermissionDenied)

	leftovers, err := os.ReadDir(e.tmp)
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestRemove(t *testing.T) {
	e := newEnv(t)
	in := e.installer(nil)

	require.NoError(t, in.Remove(context.Background()), "removing nothing succeeds")

	require.NoError(t, in.Install(context.Background(), keycode.DefaultSource))
	require.NoError(t, in.Remove(context.Background()))

	rec := in.Probe()
	assert.False(t, rec.ScriptExists)
	assert.False(t, rec.DescriptorExists)

	require.NoError(t, in.Remove(context.Background()))

	last := e.runner.calls[len(e.runner.calls)-1]
	assert.Equal(t, append([]string{hidutil.DefaultPath}, hidutil.SetArgs()...), last)
	assert.Equal(t, []string{"remove", "install", "remove", "remove"}, e.auditor.ops)
}

func TestRemoveBatchIsBestEffort(t *testing.T) {
	e := newEnv(t)
	b := e.installer(nil).removeBatch()
	for _, s := range b.Steps() {
		assert.True(t, s.BestEffort, s.Name)
	}
	assert.Equal(t, escalation.OpRemove, b.Op)
}

func TestInspectWithoutDescriptor(t *testing.T) {
	e := newEnv(t)
	_, err := e.installer(nil).Inspect()
	assert.ErrorIs(t, err, launchd.ErrServiceDescriptorNotFound)
}
