package installer

import (
	"encoding/hex"
	"fmt"
	"os"

	"golang.org/x/crypto/blake2b"

	"hangulkey/internal/hidutil"
	"hangulkey/internal/keycode"
	"hangulkey/internal/launchd"
)

// Record is the on-disk installation state.
type Record struct {
	ScriptPath       string
	DescriptorPath   string
	ScriptExists     bool
	DescriptorExists bool
}

// Enabled reports whether both artifacts are present.
func (r Record) Enabled() bool {
	return r.ScriptExists && r.DescriptorExists
}

// Probe stats both artifacts.
func (in *Installer) Probe() Record {
	return Record{
		ScriptPath:       in.scriptPath,
		DescriptorPath:   in.descriptorPath,
		ScriptExists:     exists(in.scriptPath),
		DescriptorExists: exists(in.descriptorPath),
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Inspection is what the installed artifacts actually encode.
type Inspection struct {
	Descriptor launchd.Descriptor
	Mapping    hidutil.Mapping

	// Source is the table entry for Mapping.Src; zero when unknown.
	Source keycode.Descriptor

	// Digest is the BLAKE2b-256 of the script, hex encoded.
	Digest string
}

// Fingerprint hashes script content the way Inspect reports it.
func Fingerprint(content []byte) string {
	sum := blake2b.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Inspect reads the installed descriptor and the script it runs.
func (in *Installer) Inspect() (Inspection, error) {
	d, err := launchd.Read(in.descriptorPath)
	if err != nil {
		return Inspection{}, err
	}
	if err := d.Validate(); err != nil {
		return Inspection{}, err
	}

	program := d.ProgramArguments[0]
	content, err := os.ReadFile(program)
	if err != nil {
		return Inspection{Descriptor: d}, fmt.Errorf("read script %s: %w", program, err)
	}
	m, err := hidutil.ParseScript(content)
	if err != nil {
		return Inspection{Descriptor: d}, fmt.Errorf("parse script %s: %w", program, err)
	}

	insp := Inspection{Descriptor: d, Mapping: m, Digest: Fingerprint(content)}
	if src, ok := m.Source(); ok {
		insp.Source = src
	}
	return insp, nil
}
