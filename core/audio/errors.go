package audio

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	ErrPermissionDenied  = errors.New("audio device permission denied")
	ErrNotInitialized    = errors.New("audio device not initialized")
)

// ClassifyDeviceError wraps a backend error with the matching sentinel so
// callers can use errors.Is regardless of the backend.
func ClassifyDeviceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDeviceUnavailable) || errors.Is(err, ErrPermissionDenied) {
		return fmt.Errorf("%s: %w", op, err)
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"permission", "access denied", "not permitted", "unauthorized"} {
		if strings.Contains(msg, hint) {
			return fmt.Errorf("%s: %w: %w", op, ErrPermissionDenied, err)
		}
	}
	return fmt.Errorf("%s: %w: %w", op, ErrDeviceUnavailable, err)
}
