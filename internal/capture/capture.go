// Package capture listens for the next physical key press so the user can
// choose which key becomes the locale toggle.
//
// While a session is listening every key-down and modifier change is
// swallowed, so nothing typed during capture reaches other applications.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"hangulkey/internal/keycode"
)

var (
	// ErrNotAvailable is returned where no event interceptor exists.
	ErrNotAvailable = errors.New("capture: keyboard interception not available on this platform")

	// ErrAccessDenied is returned when the process lacks input monitoring
	// or accessibility rights.
	ErrAccessDenied = errors.New("capture: keyboard interception not permitted")

	// ErrBusy is returned when another session already owns the
	// process-wide interceptor.
	ErrBusy = errors.New("capture: another session is listening")
)

// Disposition tells the interceptor what to do with an event.
type Disposition int

const (
	Pass Disposition = iota
	Consume
)

// Interceptor delivers keyboard events to a handler until stopped. Handlers
// run on the interceptor's thread and must not call Stop.
type Interceptor interface {
	Start(handler func(keycode.RawEvent) Disposition) error
	Stop() error
}

// Remapper is the live mapping table the session suspends while listening.
type Remapper interface {
	Apply(ctx context.Context, src keycode.Descriptor) error
	Clear(ctx context.Context) error
}

// State of a session.
type State int

const (
	Idle State = iota
	Listening
	Captured
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Captured:
		return "captured"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ResultKind discriminates Result.
type ResultKind int

const (
	Waiting ResultKind = iota
	KeyCaptured
	KeyCancelled
)

// Result is the outcome of the latest session. Key is set only for
// KeyCaptured.
type Result struct {
	Kind ResultKind
	Key  keycode.Descriptor
}

func (r Result) String() string {
	switch r.Kind {
	case KeyCaptured:
		return "captured " + r.Key.String()
	case KeyCancelled:
		return "cancelled"
	default:
		return "waiting"
	}
}

// Options configures a Session.
type Options struct {
	Interceptor Interceptor
	Remapper    Remapper

	// CurrentMapping reports the source key to reinstate on Stop, or false
	// when the mapping is not enabled.
	CurrentMapping func() (keycode.Descriptor, bool)

	Logger *slog.Logger
}

// Session runs at most one capture at a time.
type Session struct {
	interceptor Interceptor
	remapper    Remapper
	current     func() (keycode.Descriptor, bool)
	logger      *slog.Logger

	// tapMu serializes interceptor Start and Stop. It is never taken from
	// the event handler.
	tapMu sync.Mutex

	mu     sync.Mutex
	gen    uint64
	active bool
	state  State
	result Result
	done   chan struct{}
}

// NewSession returns an idle session.
func NewSession(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		interceptor: opts.Interceptor,
		remapper:    opts.Remapper,
		current:     opts.CurrentMapping,
		logger:      logger.With("component", "capture"),
	}
}

// Start begins listening. A session that is already listening is stopped
// first. The live mapping is cleared so the chosen key is seen unmapped.
func (s *Session) Start(ctx context.Context) error {
	s.tapMu.Lock()
	defer s.tapMu.Unlock()

	s.stopTap()

	if s.remapper != nil {
		if err := s.remapper.Clear(ctx); err != nil {
			s.logger.Debug("clear mapping before capture", "error", err)
		}
	}

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.state = Listening
	s.result = Result{Kind: Waiting}
	s.done = make(chan struct{})
	s.active = true
	s.mu.Unlock()

	if s.interceptor == nil {
		s.abort()
		return ErrNotAvailable
	}
	if err := s.interceptor.Start(func(ev keycode.RawEvent) Disposition {
		return s.handle(gen, ev)
	}); err != nil {
		s.abort()
		return err
	}
	s.logger.Debug("listening")
	return nil
}

func (s *Session) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.state = Idle
	s.result = Result{Kind: KeyCancelled}
	close(s.done)
}

func (s *Session) handle(gen uint64, ev keycode.RawEvent) Disposition {
	if ev.Kind != keycode.KindKeyDown && ev.Kind != keycode.KindFlagsChanged {
		return Pass
	}

	s.mu.Lock()
	if gen != s.gen || s.state != Listening {
		s.mu.Unlock()
		return Consume
	}
	d, ok := keycode.Extract(ev)
	if !ok {
		s.mu.Unlock()
		return Consume
	}
	s.state = Captured
	s.result = Result{Kind: KeyCaptured, Key: d}
	close(s.done)
	s.mu.Unlock()

	s.logger.Debug("key captured", "key", d.String(), "usage", d.HIDHex())
	go s.teardown(gen)
	return Consume
}

// teardown stops the interceptor after a capture. It runs off the event
// thread and does nothing if a newer session has started since.
func (s *Session) teardown(gen uint64) {
	s.tapMu.Lock()
	defer s.tapMu.Unlock()

	s.mu.Lock()
	if gen != s.gen || !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.mu.Unlock()

	if err := s.interceptor.Stop(); err != nil {
		s.logger.Debug("stop interceptor", "error", err)
	}
}

// stopTap stops the interceptor if running and cancels a listening
// session. tapMu must be held.
func (s *Session) stopTap() {
	s.mu.Lock()
	active := s.active
	s.active = false
	if s.state == Listening {
		s.state = Cancelled
		s.result = Result{Kind: KeyCancelled}
		close(s.done)
	}
	s.mu.Unlock()

	if active {
		if err := s.interceptor.Stop(); err != nil {
			s.logger.Debug("stop interceptor", "error", err)
		}
	}
}

// Cancel ends a listening session immediately.
func (s *Session) Cancel() {
	s.tapMu.Lock()
	defer s.tapMu.Unlock()
	s.stopTap()
}

// Stop tears the session down, reinstates the live mapping if it is enabled
// and returns to Idle. The last result stays readable.
func (s *Session) Stop(ctx context.Context) {
	s.tapMu.Lock()
	s.stopTap()
	s.mu.Lock()
	s.state = Idle
	s.mu.Unlock()
	s.tapMu.Unlock()

	if s.current == nil || s.remapper == nil {
		return
	}
	if src, ok := s.current(); ok {
		if err := s.remapper.Apply(ctx, src); err != nil {
			s.logger.Debug("reinstate mapping after capture", "error", err)
		}
	}
}

// Wait blocks until the current session leaves Waiting or ctx is done.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	if done == nil {
		return s.Result(), nil
	}
	select {
	case <-done:
		return s.Result(), nil
	case <-ctx.Done():
		return s.Result(), ctx.Err()
	}
}

// State returns the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result returns the latest result.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}
