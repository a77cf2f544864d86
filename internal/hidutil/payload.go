package hidutil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"hangulkey/internal/keycode"
	"hangulkey/internal/security"
)

// Mapping is one UserKeyMapping entry. Values carry the usage page in the
// upper bits (0x7000000e7 for right command).
type Mapping struct {
	Src uint64
	Dst uint64
}

// ForKey maps src onto the fixed locale toggle destination.
func ForKey(src keycode.Descriptor) Mapping {
	return Mapping{Src: src.HIDValue(), Dst: keycode.LocaleToggle.HIDValue()}
}

// Source returns the table descriptor for m.Src, if it is a keyboard usage
// the key table knows.
func (m Mapping) Source() (keycode.Descriptor, bool) {
	if m.Src>>32 != 0x7 {
		return keycode.Descriptor{}, false
	}
	return keycode.ByUsage(uint32(m.Src & 0xFFFFFFFF))
}

// Payload renders the hidutil property document. hidutil accepts hex
// literals in its JSON-like syntax, so values are written as 0x... .
func Payload(ms ...Mapping) string {
	var b strings.Builder
	b.WriteString(`{"UserKeyMapping":[`)
	for i, m := range ms {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, `{"HIDKeyboardModifierMappingSrc":0x%x,"HIDKeyboardModifierMappingDst":0x%x}`, m.Src, m.Dst)
	}
	b.WriteString(`]}`)
	return b.String()
}

// Script renders the POSIX shell script the launchd job runs at login.
func Script(hidutilPath string, m Mapping) string {
	if hidutilPath == "" {
		hidutilPath = DefaultPath
	}
	args := SetArgs(m)
	quoted := make([]string, 0, len(args)+1)
	quoted = append(quoted, security.ShellQuote(hidutilPath))
	for _, a := range args {
		quoted = append(quoted, security.ShellQuote(a))
	}
	return "#!/bin/sh\n" + strings.Join(quoted, " ") + "\n"
}

// ErrNoMapping is returned when a script carries no mapping.
var ErrNoMapping = errors.New("hidutil: no mapping found")

var scriptMapping = regexp.MustCompile(`"HIDKeyboardModifierMappingSrc":0x([0-9a-fA-F]+),"HIDKeyboardModifierMappingDst":0x([0-9a-fA-F]+)`)

// ParseScript recovers the mapping baked into a script made by Script.
func ParseScript(content []byte) (Mapping, error) {
	match := scriptMapping.FindSubmatch(content)
	if match == nil {
		return Mapping{}, ErrNoMapping
	}
	src, err := strconv.ParseUint(string(match[1]), 16, 64)
	if err != nil {
		return Mapping{}, fmt.Errorf("parse source: %w", err)
	}
	dst, err := strconv.ParseUint(string(match[2]), 16, 64)
	if err != nil {
		return Mapping{}, fmt.Errorf("parse destination: %w", err)
	}
	return Mapping{Src: src, Dst: dst}, nil
}

var (
	propertyEntry = regexp.MustCompile(`\{([^{}]*)\}`)
	propertySrc   = regexp.MustCompile(`HIDKeyboardModifierMappingSrc\s*=\s*(\d+)`)
	propertyDst   = regexp.MustCompile(`HIDKeyboardModifierMappingDst\s*=\s*(\d+)`)
)

// ParseProperty parses the NeXTSTEP-style listing printed by
// "hidutil property --get UserKeyMapping". "(null)" means no mapping.
func ParseProperty(out []byte) ([]Mapping, error) {
	var ms []Mapping
	for _, entry := range propertyEntry.FindAllSubmatch(out, -1) {
		src := propertySrc.FindSubmatch(entry[1])
		dst := propertyDst.FindSubmatch(entry[1])
		if src == nil || dst == nil {
			return nil, fmt.Errorf("hidutil: malformed mapping entry %q", bytes.TrimSpace(entry[1]))
		}
		s, err := strconv.ParseUint(string(src[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse source: %w", err)
		}
		d, err := strconv.ParseUint(string(dst[1]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse destination: %w", err)
		}
		ms = append(ms, Mapping{Src: s, Dst: d})
	}
	return ms, nil
}

// ErrInvalidMapping is returned for mappings outside the keyboard page or
// not targeting the locale toggle key.
var ErrInvalidMapping = errors.New("hidutil: invalid mapping")

const schemaURL = "hangulkey://user-key-mapping.schema.json"

// mappingSchema pins the payload to at most one keyboard-page source
// mapped onto F18.
var mappingSchema = fmt.Sprintf(`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["UserKeyMapping"],
  "additionalProperties": false,
  "properties": {
    "UserKeyMapping": {
      "type": "array",
      "maxItems": 1,
      "items": {
        "type": "object",
        "required": ["HIDKeyboardModifierMappingSrc", "HIDKeyboardModifierMappingDst"],
        "additionalProperties": false,
        "properties": {
          "HIDKeyboardModifierMappingSrc": {"type": "integer", "minimum": %d, "maximum": %d},
          "HIDKeyboardModifierMappingDst": {"const": %d}
        }
      }
    }
  }
}`, uint64(0x700000000)+1, uint64(0x7000000FF), keycode.LocaleToggle.HIDValue())

var (
	compiled     *jsonschema.Schema
	compiledErr  error
	compiledOnce sync.Once
)

func schema() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, strings.NewReader(mappingSchema)); err != nil {
			compiledErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiled, compiledErr = compiler.Compile(schemaURL)
	})
	return compiled, compiledErr
}

// Validate checks m against the mapping schema.
func (m Mapping) Validate() error {
	s, err := schema()
	if err != nil {
		return err
	}

	doc := map[string]any{
		"UserKeyMapping": []map[string]uint64{{
			"HIDKeyboardModifierMappingSrc": m.Src,
			"HIDKeyboardModifierMappingDst": m.Dst,
		}},
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return err
	}

	if err := s.Validate(instance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMapping, err)
	}
	return nil
}
