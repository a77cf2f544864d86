// Package mapping holds the observable state of the key mapping and
// coordinates installer, capture and persistence operations on it.
package mapping

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"hangulkey/internal/capture"
	"hangulkey/internal/installer"
	"hangulkey/internal/keycode"
)

var (
	// ErrBusy is returned when an enable or disable is already running.
	ErrBusy = errors.New("mapping: another operation is in progress")

	// ErrNothingCaptured is returned when confirming a capture that has no
	// key.
	ErrNothingCaptured = errors.New("mapping: no key captured")

	// ErrInvalidSource is returned for a zero source key.
	ErrInvalidSource = errors.New("mapping: invalid source key")
)

// State of the installed mapping.
type State int

const (
	Disabled State = iota
	Enabling
	Enabled
	Disabling
	Error
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "disabled"
	case Enabling:
		return "enabling"
	case Enabled:
		return "enabled"
	case Disabling:
		return "disabling"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Journal operation kinds.
const (
	OpEnable        = "enable"
	OpDisable       = "disable"
	OpSetKey        = "set-key"
	OpCapture       = "capture"
	OpCaptureCancel = "capture-cancel"
	OpLaunchAtLogin = "launch-at-login"
)

// Installer writes and removes the mapping artifacts.
type Installer interface {
	Install(ctx context.Context, src keycode.Descriptor) error
	Remove(ctx context.Context) error
	Probe() installer.Record
}

// Preferences persists user choices.
type Preferences interface {
	SaveSource(src keycode.Descriptor) error
	SaveLaunchAtLogin(enabled bool) error
}

// Journal records the outcome of every operation.
type Journal interface {
	Record(ctx context.Context, kind string, src keycode.Descriptor, err error) error
}

// LoginItem controls whether the app starts at login.
type LoginItem interface {
	Enabled() (bool, error)
	SetEnabled(enabled bool) error
}

// Snapshot is the published view of the manager.
type Snapshot struct {
	State         State
	Loading       bool
	Source        keycode.Descriptor
	LastError     string
	Capture       capture.Result
	LaunchAtLogin bool
	Record        installer.Record
}

// Options configures a Manager.
type Options struct {
	Installer   Installer
	Preferences Preferences
	Journal     Journal
	LoginItem   LoginItem

	// Interceptor and Remapper back the capture session.
	Interceptor capture.Interceptor
	Remapper    capture.Remapper

	// Source is the persisted source key; zero means the default.
	Source        keycode.Descriptor
	LaunchAtLogin bool

	Logger *slog.Logger
}

// Manager is the single owner of mapping state. Published fields change
// only under mu; installer work runs outside it.
type Manager struct {
	installer Installer
	prefs     Preferences
	journal   Journal
	login     LoginItem
	session   *capture.Session
	logger    *slog.Logger

	mu   sync.Mutex
	busy bool
	gen  uint64 // bumped by every transition
	snap Snapshot
	subs map[chan Snapshot]struct{}
}

// New returns a Manager. Call CheckStatus to load the initial state.
func New(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	src := opts.Source
	if src.IsZero() {
		src = keycode.DefaultSource
	}

	m := &Manager{
		installer: opts.Installer,
		prefs:     opts.Preferences,
		journal:   opts.Journal,
		login:     opts.LoginItem,
		logger:    logger.With("component", "mapping"),
		subs:      make(map[chan Snapshot]struct{}),
		snap: Snapshot{
			State:         Disabled,
			Source:        src,
			LaunchAtLogin: opts.LaunchAtLogin,
		},
	}
	m.session = capture.NewSession(capture.Options{
		Interceptor:    opts.Interceptor,
		Remapper:       opts.Remapper,
		CurrentMapping: m.ActiveSource,
		Logger:         logger,
	})
	return m
}

// Snapshot returns the current published state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// Source returns the configured source key.
func (m *Manager) Source() keycode.Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Source
}

// ActiveSource returns the source key and whether the mapping is enabled.
func (m *Manager) ActiveSource() (keycode.Descriptor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap.Source, m.snap.State == Enabled
}

// Subscribe returns a channel that receives the latest snapshot after every
// change. Slow readers see only the most recent one. The returned func
// unsubscribes and closes the channel.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	ch <- m.snap
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			close(ch)
			m.mu.Unlock()
		})
	}
}

// publishLocked delivers the snapshot to every subscriber. mu must be held.
func (m *Manager) publishLocked() {
	for ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- m.snap
	}
}

func (m *Manager) update(fn func(*Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.snap)
	m.publishLocked()
}

// CheckStatus re-probes the filesystem. The mapping is enabled exactly when
// both the script and the descriptor exist. While an enable or disable is
// running the probe is skipped; that operation re-probes when it ends.
func (m *Manager) CheckStatus() {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		m.logger.Debug("status check skipped during transition")
		return
	}
	m.snap.Loading = true
	gen := m.gen
	m.publishLocked()
	m.mu.Unlock()

	rec := m.installer.Probe()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy || m.gen != gen {
		return
	}
	m.applyProbeLocked(rec)
}

// applyProbeLocked publishes rec as the settled state. mu must be held.
func (m *Manager) applyProbeLocked(rec installer.Record) {
	m.snap.Record = rec
	if rec.Enabled() {
		m.snap.State = Enabled
	} else {
		m.snap.State = Disabled
	}
	m.snap.Loading = false
	m.publishLocked()
}

// Enable installs the mapping for the configured source key.
func (m *Manager) Enable(ctx context.Context) error {
	return m.transition(ctx, OpEnable, Enabling, func(src keycode.Descriptor) error {
		return m.installer.Install(ctx, src)
	})
}

// Disable removes the mapping.
func (m *Manager) Disable(ctx context.Context) error {
	return m.transition(ctx, OpDisable, Disabling, func(keycode.Descriptor) error {
		return m.installer.Remove(ctx)
	})
}

func (m *Manager) transition(ctx context.Context, op string, during State, run func(keycode.Descriptor) error) error {
	m.mu.Lock()
	if m.busy {
		m.mu.Unlock()
		return ErrBusy
	}
	m.busy = true
	m.gen++
	m.snap.Loading = true
	m.snap.State = during
	m.snap.LastError = ""
	src := m.snap.Source
	m.publishLocked()
	m.mu.Unlock()

	m.logger.Info("mapping transition", "operation", op, "source", src.String())
	err := run(src)

	if err != nil {
		m.logger.Warn("mapping transition failed", "operation", op, "error", err)
		m.update(func(s *Snapshot) {
			s.State = Error
			s.LastError = Describe(err)
		})
	}
	m.record(ctx, op, src, err)

	// Probe while still busy: the settled state belongs to this operation.
	rec := m.installer.Probe()
	m.mu.Lock()
	m.busy = false
	m.applyProbeLocked(rec)
	m.mu.Unlock()
	return err
}

// SetSourceKey persists src and reinstalls the mapping if it is enabled.
func (m *Manager) SetSourceKey(ctx context.Context, src keycode.Descriptor) error {
	if src.IsZero() {
		return ErrInvalidSource
	}

	m.mu.Lock()
	m.snap.Source = src
	enabled := m.snap.State == Enabled
	m.publishLocked()
	m.mu.Unlock()

	var saveErr error
	if m.prefs != nil {
		saveErr = m.prefs.SaveSource(src)
		if saveErr != nil {
			m.logger.Warn("save source key", "error", saveErr)
		}
	}
	m.record(ctx, OpSetKey, src, saveErr)

	if enabled {
		if err := m.Enable(ctx); err != nil {
			return err
		}
	}
	return saveErr
}

// StartCapture begins listening for the next key.
func (m *Manager) StartCapture(ctx context.Context) error {
	m.update(func(s *Snapshot) { s.Capture = capture.Result{Kind: capture.Waiting} })

	if err := m.session.Start(ctx); err != nil {
		m.update(func(s *Snapshot) {
			s.Capture = m.session.Result()
			s.LastError = Describe(err)
		})
		return err
	}
	return nil
}

// WaitCapture blocks until the capture session produces a result.
func (m *Manager) WaitCapture(ctx context.Context) (capture.Result, error) {
	r, err := m.session.Wait(ctx)
	m.update(func(s *Snapshot) { s.Capture = r })
	return r, err
}

// ConfirmCapture adopts the captured key as the source key and ends the
// session.
func (m *Manager) ConfirmCapture(ctx context.Context) error {
	r := m.session.Result()
	if r.Kind != capture.KeyCaptured {
		return ErrNothingCaptured
	}

	err := m.SetSourceKey(ctx, r.Key)
	m.session.Stop(ctx)
	m.update(func(s *Snapshot) { s.Capture = r })
	m.record(ctx, OpCapture, r.Key, err)
	return err
}

// CancelCapture abandons the session and restores the live mapping.
func (m *Manager) CancelCapture(ctx context.Context) {
	m.session.Cancel()
	m.session.Stop(ctx)

	src := m.Source()
	m.update(func(s *Snapshot) { s.Capture = capture.Result{Kind: capture.KeyCancelled} })
	m.record(ctx, OpCaptureCancel, src, nil)
}

// CaptureState returns the capture session state.
func (m *Manager) CaptureState() capture.State {
	return m.session.State()
}

// SetLaunchAtLogin registers or unregisters the login item and persists the
// resulting state.
func (m *Manager) SetLaunchAtLogin(ctx context.Context, enabled bool) error {
	if m.login == nil {
		return nil
	}
	err := m.login.SetEnabled(enabled)
	if err != nil {
		m.logger.Warn("set launch at login", "enabled", enabled, "error", err)
		m.update(func(s *Snapshot) { s.LastError = Describe(err) })
	}
	actual := m.RefreshLaunchAtLogin()

	if m.prefs != nil {
		if serr := m.prefs.SaveLaunchAtLogin(actual); serr != nil {
			m.logger.Warn("save launch at login", "error", serr)
			if err == nil {
				err = serr
			}
		}
	}
	m.record(ctx, OpLaunchAtLogin, m.Source(), err)
	return err
}

// RefreshLaunchAtLogin re-reads the login item state.
func (m *Manager) RefreshLaunchAtLogin() bool {
	if m.login == nil {
		return m.Snapshot().LaunchAtLogin
	}
	enabled, err := m.login.Enabled()
	if err != nil {
		m.logger.Debug("read launch at login", "error", err)
		return m.Snapshot().LaunchAtLogin
	}
	m.update(func(s *Snapshot) { s.LaunchAtLogin = enabled })
	return enabled
}

// DismissError clears the last error message.
func (m *Manager) DismissError() {
	m.update(func(s *Snapshot) { s.LastError = "" })
}

func (m *Manager) record(ctx context.Context, kind string, src keycode.Descriptor, err error) {
	if m.journal == nil {
		return
	}
	if jerr := m.journal.Record(ctx, kind, src, err); jerr != nil {
		m.logger.Debug("journal write failed", "operation", kind, "error", jerr)
	}
}
