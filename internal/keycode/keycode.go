// Package keycode translates macOS virtual key codes into USB HID keyboard
// usage codes, the vocabulary hidutil uses for its UserKeyMapping property.
//
// The table is closed: keys that are not listed resolve to nothing, and
// callers are expected to ignore them rather than fail.
package keycode

import (
	"fmt"
	"sort"
	"strings"
)

// Descriptor identifies a physical key by its HID usage code on the
// keyboard usage page (0x07) together with a human-readable name.
type Descriptor struct {
	UsageCode   uint32
	DisplayName string
}

// hidKeyboardPage is the keyboard/keypad usage page shifted into the
// position hidutil expects.
const hidKeyboardPage uint64 = 0x700000000

var (
	// DefaultSource is the key remapped on first run.
	DefaultSource = Descriptor{UsageCode: 0xE7, DisplayName: "Right Command ⌘"}

	// LocaleToggle is the fixed remap destination. F18 is unused by
	// Apple keyboards, so it can be bound to "select next input source".
	LocaleToggle = Descriptor{UsageCode: 0x6D, DisplayName: "F18"}
)

// HIDValue returns the full 64-bit page|usage value.
func (d Descriptor) HIDValue() uint64 {
	return hidKeyboardPage | uint64(d.UsageCode)
}

// HIDHex formats the usage the way hidutil documentation spells it,
// e.g. 0x7000000e7.
func (d Descriptor) HIDHex() string {
	return fmt.Sprintf("0x7%08x", d.UsageCode)
}

// IsZero reports whether d is the zero descriptor.
func (d Descriptor) IsZero() bool {
	return d.UsageCode == 0 && d.DisplayName == ""
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s (%s)", d.DisplayName, d.HIDHex())
}

// Entry is one row of the key table.
type Entry struct {
	KeyCode uint16
	Name    string
	Key     Descriptor
}

type row struct {
	usage   uint32
	name    string
	display string
}

// macOS virtual key code → HID usage.
var table = map[uint16]row{
	// Modifiers
	0x36: {0xE7, "right-command", "Right Command ⌘"},
	0x37: {0xE3, "left-command", "Left Command ⌘"},
	0x38: {0xE1, "left-shift", "Left Shift ⇧"},
	0x3C: {0xE5, "right-shift", "Right Shift ⇧"},
	0x3A: {0xE2, "left-option", "Left Option ⌥"},
	0x3D: {0xE6, "right-option", "Right Option ⌥"},
	0x3B: {0xE0, "left-control", "Left Control ⌃"},
	0x3E: {0xE4, "right-control", "Right Control ⌃"},
	0x39: {0x39, "caps-lock", "Caps Lock ⇪"},

	// Letters
	0x00: {0x04, "a", "A"}, 0x0B: {0x05, "b", "B"}, 0x08: {0x06, "c", "C"},
	0x02: {0x07, "d", "D"}, 0x0E: {0x08, "e", "E"}, 0x03: {0x09, "f", "F"},
	0x05: {0x0A, "g", "G"}, 0x04: {0x0B, "h", "H"}, 0x22: {0x0C, "i", "I"},
	0x26: {0x0D, "j", "J"}, 0x28: {0x0E, "k", "K"}, 0x25: {0x0F, "l", "L"},
	0x2E: {0x10, "m", "M"}, 0x2D: {0x11, "n", "N"}, 0x1F: {0x12, "o", "O"},
	0x23: {0x13, "p", "P"}, 0x0C: {0x14, "q", "Q"}, 0x0F: {0x15, "r", "R"},
	0x01: {0x16, "s", "S"}, 0x11: {0x17, "t", "T"}, 0x20: {0x18, "u", "U"},
	0x09: {0x19, "v", "V"}, 0x0D: {0x1A, "w", "W"}, 0x07: {0x1B, "x", "X"},
	0x10: {0x1C, "y", "Y"}, 0x06: {0x1D, "z", "Z"},

	// Digits
	0x12: {0x1E, "1", "1"}, 0x13: {0x1F, "2", "2"}, 0x14: {0x20, "3", "3"},
	0x15: {0x21, "4", "4"}, 0x17: {0x22, "5", "5"}, 0x16: {0x23, "6", "6"},
	0x1A: {0x24, "7", "7"}, 0x1C: {0x25, "8", "8"}, 0x19: {0x26, "9", "9"},
	0x1D: {0x27, "0", "0"},

	// Function keys
	0x7A: {0x3A, "f1", "F1"}, 0x78: {0x3B, "f2", "F2"}, 0x63: {0x3C, "f3", "F3"},
	0x76: {0x3D, "f4", "F4"}, 0x60: {0x3E, "f5", "F5"}, 0x61: {0x3F, "f6", "F6"},
	0x62: {0x40, "f7", "F7"}, 0x64: {0x41, "f8", "F8"}, 0x65: {0x42, "f9", "F9"},
	0x6D: {0x43, "f10", "F10"}, 0x67: {0x44, "f11", "F11"}, 0x6F: {0x45, "f12", "F12"},

	// Special keys
	0x24: {0x28, "return", "Return ↩"},
	0x30: {0x2B, "tab", "Tab ⇥"},
	0x31: {0x2C, "space", "Space"},
	0x33: {0x2A, "delete", "Delete ⌫"},
	0x35: {0x29, "escape", "Escape ⎋"},
	0x75: {0x4C, "forward-delete", "Forward Delete ⌦"},
}

// Resolve returns the descriptor for a macOS virtual key code.
func Resolve(keyCode uint16) (Descriptor, bool) {
	r, ok := table[keyCode]
	if !ok {
		return Descriptor{}, false
	}
	return Descriptor{UsageCode: r.usage, DisplayName: r.display}, true
}

// Lookup finds a key by its short name ("right-command", "f5", "a").
// Matching ignores case and treats spaces and underscores as dashes.
func Lookup(name string) (Descriptor, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer(" ", "-", "_", "-").Replace(n)
	for _, r := range table {
		if r.name == n {
			return Descriptor{UsageCode: r.usage, DisplayName: r.display}, true
		}
	}
	return Descriptor{}, false
}

// ByUsage maps a HID usage code back to its table descriptor.
func ByUsage(usage uint32) (Descriptor, bool) {
	for _, r := range table {
		if r.usage == usage {
			return Descriptor{UsageCode: r.usage, DisplayName: r.display}, true
		}
	}
	return Descriptor{}, false
}

// Entries lists the table ordered by HID usage code.
func Entries() []Entry {
	out := make([]Entry, 0, len(table))
	for kc, r := range table {
		out = append(out, Entry{
			KeyCode: kc,
			Name:    r.name,
			Key:     Descriptor{UsageCode: r.usage, DisplayName: r.display},
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.UsageCode < out[j].Key.UsageCode
	})
	return out
}
