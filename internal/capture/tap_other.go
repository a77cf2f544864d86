//go:build !darwin || !cgo

package capture

import "hangulkey/internal/keycode"

// EventTap is unavailable off macOS and without cgo.
type EventTap struct{}

// NewEventTap returns the platform interceptor.
func NewEventTap() *EventTap {
	return &EventTap{}
}

// Start always fails with ErrNotAvailable.
func (t *EventTap) Start(handler func(keycode.RawEvent) Disposition) error {
	return ErrNotAvailable
}

// Stop is a no-op.
func (t *EventTap) Stop() error {
	return nil
}

// Trusted reports false.
func Trusted() bool {
	return false
}
