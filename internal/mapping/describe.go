package mapping

import (
	"errors"
	"fmt"

	"hangulkey/internal/capture"
	"hangulkey/internal/escalation"
	"hangulkey/internal/hidutil"
	"hangulkey/internal/launchd"
	"hangulkey/internal/security"
)

// Describe turns an operation error into a message for the user.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var escErr *escalation.Error
	var procErr *hidutil.ProcessError

	switch {
	case errors.Is(err, escalation.ErrPermissionDenied):
		return "Administrator authorization was cancelled. The key mapping was not changed."
	case errors.As(err, &escErr) && escErr.Step > 0:
		return fmt.Sprintf("Installation step %d (%s) failed. The key mapping may be incomplete.", escErr.Step, escErr.Name)
	case errors.Is(err, escalation.ErrPrivilegedExecutionFailed):
		return "The privileged installation did not complete."
	case errors.Is(err, security.ErrDirectoryNotWritable):
		return "The staging directory is not writable."
	case errors.Is(err, security.ErrPathValidationFailed):
		return "An installation path failed validation."
	case errors.As(err, &procErr):
		return fmt.Sprintf("hidutil failed with exit code %d.", procErr.Code)
	case errors.Is(err, launchd.ErrServiceDescriptorNotFound):
		return "The launch agent descriptor is missing."
	case errors.Is(err, capture.ErrAccessDenied):
		return "Allow this app under Privacy & Security > Input Monitoring to capture a key."
	case errors.Is(err, capture.ErrNotAvailable):
		return "Key capture is only available on macOS."
	case errors.Is(err, ErrBusy):
		return "Another operation is still running."
	default:
		return err.Error()
	}
}
