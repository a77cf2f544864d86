package hidutil

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hangulkey/internal/keycode"
)

type call struct {
	name string
	args []string
}

type fakeRunner struct {
	calls []call
	out   []byte
	err   error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	return f.out, f.err
}

func TestPayload(t *testing.T) {
	assert.Equal(t, `{"UserKeyMapping":[]}`, Payload())
	assert.Equal(t,
		`{"UserKeyMapping":[{"HIDKeyboardModifierMappingSrc":0x7000000e7,"HIDKeyboardModifierMappingDst":0x70000006d}]}`,
		Payload(ForKey(keycode.DefaultSource)))
}

func TestRemapperApply(t *testing.T) {
	runner := &fakeRunner{}
	r := NewRemapper("/usr/bin/hidutil", runner)

	require.NoError(t, r.Apply(context.Background(), keycode.DefaultSource))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, "/usr/bin/hidutil", runner.calls[0].name)
	assert.Equal(t, []string{"property", "--set", Payload(ForKey(keycode.DefaultSource))}, runner.calls[0].args)
}

func TestRemapperClear(t *testing.T) {
	runner := &fakeRunner{}
	r := NewRemapper("", runner)

	require.NoError(t, r.Clear(context.Background()))
	require.Len(t, runner.calls, 1)
	assert.Equal(t, DefaultPath, runner.calls[0].name)
	assert.Equal(t, []string{"property", "--set", `{"UserKeyMapping":[]}`}, runner.calls[0].args)
}

func TestRemapperApplyPropagatesProcessError(t *testing.T) {
	runner := &fakeRunner{err: &ProcessError{Path: DefaultPath, Code: 1}}
	r := NewRemapper("", runner)

	err := r.Apply(context.Background(), keycode.DefaultSource)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProcessFailed))

	var pe *ProcessError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 1, pe.Code)
}

func TestRemapperCurrent(t *testing.T) {
	runner := &fakeRunner{out: []byte(`(
        {
        HIDKeyboardModifierMappingDst = 30064771181;
        HIDKeyboardModifierMappingSrc = 30064771303;
    }
)
`)}
	r := NewRemapper("", runner)

	ms, err := r.Current(context.Background())
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, ForKey(keycode.DefaultSource), ms[0])

	src, ok := ms[0].Source()
	require.True(t, ok)
	assert.Equal(t, keycode.DefaultSource, src)
}

func TestParsePropertyNull(t *testing.T) {
	ms, err := ParseProperty([]byte("(null)\n"))
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func TestParsePropertyMalformed(t *testing.T) {
	_, err := ParseProperty([]byte("({ HIDKeyboardModifierMappingSrc = 1; })"))
	assert.Error(t, err)
}

func TestScriptRoundTrip(t *testing.T) {
	capsLock, ok := keycode.Lookup("caps-lock")
	require.True(t, ok)

	script := Script("/usr/bin/hidutil", ForKey(capsLock))
	lines := strings.Split(strings.TrimSpace(script), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "#!/bin/sh", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "'/usr/bin/hidutil' 'property' '--set' "))
	assert.Contains(t, script, "0x700000039")
	assert.Contains(t, script, "0x70000006d")

	m, err := ParseScript([]byte(script))
	require.NoError(t, err)
	assert.Equal(t, ForKey(capsLock), m)
}

func TestScriptRunsUnderShell(t *testing.T) {
	dir := t.TempDir()
	tool := filepath.Join(dir, "hidutil")
	out := filepath.Join(dir, "args")
	require.NoError(t, os.WriteFile(tool, []byte("#!/bin/sh\nprintf '%s\\n' \"$@\" > '"+out+"'\n"), 0755))

	script := filepath.Join(dir, "remap")
	require.NoError(t, os.WriteFile(script, []byte(Script(tool, ForKey(keycode.DefaultSource))), 0755))
	require.NoError(t, exec.Command("/bin/sh", script).Run())

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "property\n--set\n"+Payload(ForKey(keycode.DefaultSource))+"\n", string(got))
}

func TestParseScriptWithoutMapping(t *testing.T) {
	_, err := ParseScript([]byte("#!/bin/sh\nexit 0\n"))
	assert.ErrorIs(t, err, ErrNoMapping)
}

func TestMappingValidate(t *testing.T) {
	require.NoError(t, ForKey(keycode.DefaultSource).Validate())

	tests := []struct {
		name string
		m    Mapping
	}{
		{"wrong destination", Mapping{Src: keycode.DefaultSource.HIDValue(), Dst: 0x700000039}},
		{"not keyboard page", Mapping{Src: 0xFF00000003, Dst: keycode.LocaleToggle.HIDValue()}},
		{"zero source", Mapping{Src: 0x700000000, Dst: keycode.LocaleToggle.HIDValue()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.m.Validate(), ErrInvalidMapping)
		})
	}
}

func TestExecRunnerReportsExitCode(t *testing.T) {
	_, err := ExecRunner{}.Run(context.Background(), "/bin/sh", "-c", "echo boom >&2; exit 3")
	var pe *ProcessError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 3, pe.Code)
	assert.Equal(t, "boom", pe.Stderr)

	_, err = ExecRunner{}.Run(context.Background(), "/nonexistent/hidutil")
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, -1, pe.Code)
}
