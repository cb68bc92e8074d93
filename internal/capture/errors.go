package capture

import "errors"

var (
	// ErrPermissionDenied means the user or OS refused microphone access
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable means no usable input device could be opened
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrMissingFileName means a downloaded file carried no usable name
	ErrMissingFileName = errors.New("download response is missing a file name")
	// ErrSessionActive means a recording is already in progress
	ErrSessionActive = errors.New("a capture session is already recording")
	// ErrNotRecording means the session was already stopped
	ErrNotRecording = errors.New("capture session is not recording")
)

// errorLabel returns a metric label for a device error
func errorLabel(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, ErrSessionActive):
		return "session_active"
	default:
		return "other"
	}
}
