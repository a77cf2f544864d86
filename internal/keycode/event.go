package keycode

// EventKind mirrors the CGEventType values the capture tap listens for.
type EventKind int

const (
	KindOther EventKind = iota
	KindKeyDown
	KindKeyUp
	KindFlagsChanged
)

func (k EventKind) String() string {
	switch k {
	case KindKeyDown:
		return "key_down"
	case KindKeyUp:
		return "key_up"
	case KindFlagsChanged:
		return "flags_changed"
	default:
		return "other"
	}
}

// Device-independent modifier flag bits (CGEventFlags).
const (
	FlagCapsLock uint64 = 0x00010000
	FlagShift    uint64 = 0x00020000
	FlagControl  uint64 = 0x00040000
	FlagOption   uint64 = 0x00080000
	FlagCommand  uint64 = 0x00100000
)

// RawEvent is the subset of a keyboard event needed to identify a key.
type RawEvent struct {
	Kind    EventKind
	KeyCode uint16
	Flags   uint64
}

// modifierFlag maps each modifier key code to the flag that is set while
// that modifier is held.
var modifierFlag = map[uint16]uint64{
	0x36: FlagCommand, 0x37: FlagCommand,
	0x38: FlagShift, 0x3C: FlagShift,
	0x3A: FlagOption, 0x3D: FlagOption,
	0x3B: FlagControl, 0x3E: FlagControl,
	0x39: FlagCapsLock,
}

// Extract resolves the key carried by ev.
//
// A flags-changed event is emitted for both press and release of a
// modifier; only the transition to pressed yields a descriptor. Key-down
// events always resolve. Everything else, including unknown key codes,
// yields nothing.
func Extract(ev RawEvent) (Descriptor, bool) {
	switch ev.Kind {
	case KindFlagsChanged:
		if flag, ok := modifierFlag[ev.KeyCode]; ok && ev.Flags&flag == 0 {
			return Descriptor{}, false
		}
		return Resolve(ev.KeyCode)
	case KindKeyDown:
		return Resolve(ev.KeyCode)
	default:
		return Descriptor{}, false
	}
}
