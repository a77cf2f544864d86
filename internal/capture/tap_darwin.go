//go:build darwin && cgo

package capture

/*
#cgo LDFLAGS: -framework ApplicationServices -framework CoreFoundation

#include <stdint.h>

int hkStartTap(void);
void hkStopTap(void);
int hkAccessibilityTrusted(void);
*/
import "C"

import (
	"fmt"
	"sync"
	"sync/atomic"

	"hangulkey/internal/keycode"
)

// CGEventType values delivered to the tap.
const (
	cgEventKeyDown      = 10
	cgEventKeyUp        = 11
	cgEventFlagsChanged = 12
)

// The callback has no user data, so the handler lives in a package global.
// Only one tap may exist per process.
var (
	tapMu      sync.Mutex
	tapOwner   *EventTap
	tapHandler atomic.Pointer[func(keycode.RawEvent) Disposition]
)

// EventTap intercepts keyboard events with a session-level CGEventTap.
type EventTap struct{}

// NewEventTap returns the platform interceptor.
func NewEventTap() *EventTap {
	return &EventTap{}
}

// Start installs the tap on its own run-loop thread.
func (t *EventTap) Start(handler func(keycode.RawEvent) Disposition) error {
	tapMu.Lock()
	defer tapMu.Unlock()

	if tapOwner != nil {
		return ErrBusy
	}
	tapHandler.Store(&handler)

	switch rc := C.hkStartTap(); rc {
	case 0:
		tapOwner = t
		return nil
	case -1:
		tapHandler.Store(nil)
		return ErrAccessDenied
	default:
		tapHandler.Store(nil)
		return fmt.Errorf("capture: start event tap: code %d", int(rc))
	}
}

// Stop removes the tap and joins its thread.
func (t *EventTap) Stop() error {
	tapMu.Lock()
	defer tapMu.Unlock()

	if tapOwner != t {
		return nil
	}
	C.hkStopTap()
	tapHandler.Store(nil)
	tapOwner = nil
	return nil
}

// Trusted reports whether the process may install an event tap.
func Trusted() bool {
	return C.hkAccessibilityTrusted() != 0
}

//export hkHandleEvent
func hkHandleEvent(eventType C.int, keyCode C.int, flags C.uint64_t) C.int {
	h := tapHandler.Load()
	if h == nil {
		return 0
	}

	ev := keycode.RawEvent{KeyCode: uint16(keyCode), Flags: uint64(flags)}
	switch int(eventType) {
	case cgEventKeyDown:
		ev.Kind = keycode.KindKeyDown
	case cgEventKeyUp:
		ev.Kind = keycode.KindKeyUp
	case cgEventFlagsChanged:
		ev.Kind = keycode.KindFlagsChanged
	default:
		ev.Kind = keycode.KindOther
	}

	if (*h)(ev) == Consume {
		return 1
	}
	return 0
}
