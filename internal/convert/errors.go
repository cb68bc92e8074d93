package convert

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedFormat means the input has no decodable audio track
	ErrUnsupportedFormat = errors.New("unsupported media format")
	// ErrEngineFailure means the decoding backend itself failed
	ErrEngineFailure = errors.New("conversion engine failure")
)

// ConversionError describes why one input could not be converted.
// It matches ErrUnsupportedFormat or ErrEngineFailure with errors.Is.
type ConversionError struct {
	Kind error  // ErrUnsupportedFormat or ErrEngineFailure
	Name string // input file name
	Err  error  // underlying cause, may be nil
}

func (e *ConversionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("convert %q: %v", e.Name, e.Kind)
	}
	return fmt.Sprintf("convert %q: %v: %v", e.Name, e.Kind, e.Err)
}

func (e *ConversionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// unsupported builds an ErrUnsupportedFormat failure
func unsupported(format string, args ...any) error {
	return &ConversionError{Kind: ErrUnsupportedFormat, Err: fmt.Errorf(format, args...)}
}

// engineFailure builds an ErrEngineFailure failure
func engineFailure(format string, args ...any) error {
	return &ConversionError{Kind: ErrEngineFailure, Err: fmt.Errorf(format, args...)}
}

// classify turns any decoding error into a ConversionError naming the input.
// Errors that are not already classified count as engine failures.
func classify(name string, err error) *ConversionError {
	var convErr *ConversionError
	if errors.As(err, &convErr) {
		out := *convErr
		out.Name = name
		return &out
	}

	kind := ErrEngineFailure
	if errors.Is(err, ErrUnsupportedFormat) {
		kind = ErrUnsupportedFormat
	}

	return &ConversionError{Kind: kind, Name: name, Err: err}
}

// KindLabel returns a metric label for the failure kind of err
func KindLabel(err error) string {
	switch {
	case errors.Is(err, ErrUnsupportedFormat):
		return "unsupported_format"
	case errors.Is(err, ErrEngineFailure):
		return "engine_failure"
	default:
		return "unknown"
	}
}
