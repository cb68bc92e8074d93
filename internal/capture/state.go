package capture

// State is the lifecycle position of a capture session
type State string

const (
	// StateIdle means no recording is in progress
	StateIdle State = "idle"

	// StateRecording means chunks are being buffered
	StateRecording State = "recording"

	// StateStopped means buffering ended and the result has not been handed off
	StateStopped State = "stopped"

	// StateConsumed means the recording was handed to the converter
	StateConsumed State = "consumed"
)

// String returns the string representation of State
func (s State) String() string {
	return string(s)
}
