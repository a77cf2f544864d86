// Package launchd renders and reads the property-list descriptors that tell
// launchd to run a program when a session starts.
package launchd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"howett.net/plist"
)

// Well-known locations.
const (
	SystemAgentsDir = "/Library/LaunchAgents"
	DefaultLabel    = "com.hangulcommand.userkeymapping"
)

var (
	ErrServiceDescriptorNotFound = errors.New("launchd: service descriptor not found")
	ErrInvalidDescriptor         = errors.New("launchd: invalid service descriptor")
)

var labelPattern = regexp.MustCompile(`^[A-Za-z0-9-]+(\.[A-Za-z0-9-]+)+$`)

// Descriptor is the subset of launchd.plist(5) this tool writes.
type Descriptor struct {
	Label            string   `plist:"Label"`
	ProgramArguments []string `plist:"ProgramArguments"`
	RunAtLoad        bool     `plist:"RunAtLoad"`
	KeepAlive        bool     `plist:"KeepAlive"`
}

// New returns a run-once-at-load descriptor for program.
func New(label string, program ...string) Descriptor {
	return Descriptor{
		Label:            label,
		ProgramArguments: program,
		RunAtLoad:        true,
		KeepAlive:        false,
	}
}

// Validate checks the label and program arguments.
func (d Descriptor) Validate() error {
	if !labelPattern.MatchString(d.Label) {
		return fmt.Errorf("%w: label %q is not reverse-DNS", ErrInvalidDescriptor, d.Label)
	}
	if len(d.ProgramArguments) == 0 {
		return fmt.Errorf("%w: no program", ErrInvalidDescriptor)
	}
	if !filepath.IsAbs(d.ProgramArguments[0]) {
		return fmt.Errorf("%w: program %q is not absolute", ErrInvalidDescriptor, d.ProgramArguments[0])
	}
	return nil
}

// Encode renders d as an XML property list.
func (d Descriptor) Encode() ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return plist.MarshalIndent(d, plist.XMLFormat, "\t")
}

// Decode parses a property list in any format launchd accepts.
func Decode(data []byte) (Descriptor, error) {
	var d Descriptor
	if _, err := plist.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrInvalidDescriptor, err)
	}
	return d, nil
}

// Read loads the descriptor at path.
func Read(path string) (Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Descriptor{}, fmt.Errorf("%w: %s", ErrServiceDescriptorNotFound, path)
		}
		return Descriptor{}, err
	}
	return Decode(data)
}

// PathFor returns dir/<label>.plist.
func PathFor(dir, label string) string {
	return filepath.Join(dir, label+".plist")
}
