package security

import (
	"fmt"
	"strings"
)

// ShellQuote wraps s in single quotes for a POSIX shell, closing and
// reopening the quote around every embedded single quote.
//
// All strings interpolated into a shell command go through here.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// CheckShellArgument rejects strings that cannot be carried safely as a
// single quoted argument: NUL bytes and line breaks.
func CheckShellArgument(s string) error {
	if strings.ContainsRune(s, 0) {
		return fmt.Errorf("%w: %v", ErrUnsafeShellArgument, ErrNullByte)
	}
	if strings.ContainsAny(s, "\r\n") {
		return fmt.Errorf("%w: line break in %q", ErrUnsafeShellArgument, s)
	}
	return nil
}
