package heifcoder

import (
	"errors"
	"fmt"
)

// Engine sentinels. Engines wrap them so the coder can tell a broken file
// from a feature the engine lacks.
var (
	ErrMalformed          = errors.New("heifcoder: malformed container")
	ErrUnsupported        = errors.New("heifcoder: unsupported feature")
	ErrEncoderUnavailable = errors.New("heifcoder: no HEVC encoder available")
)

// Reason classifies a decode or encode failure.
type Reason int

const (
	ReasonMalformedContainer Reason = iota + 1
	ReasonUnsupportedFeature
	ReasonEngineFailure
	ReasonInvalidInput
	ReasonUnsupportedOptions
)

func (r Reason) String() string {
	switch r {
	case ReasonMalformedContainer:
		return "malformed_container"
	case ReasonUnsupportedFeature:
		return "unsupported_feature"
	case ReasonEngineFailure:
		return "engine_failure"
	case ReasonInvalidInput:
		return "invalid_input"
	case ReasonUnsupportedOptions:
		return "unsupported_options"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// DecodeError is returned by Decode. Reason is one of
// ReasonMalformedContainer, ReasonUnsupportedFeature or ReasonEngineFailure.
type DecodeError struct {
	Reason Reason
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err == nil {
		return "heifcoder: decode: " + e.Reason.String()
	}
	return fmt.Sprintf("heifcoder: decode: %s: %v", e.Reason, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodeError is returned by Encode. Reason is one of ReasonInvalidInput,
// ReasonUnsupportedOptions or ReasonEngineFailure.
type EncodeError struct {
	Reason Reason
	Err    error
}

func (e *EncodeError) Error() string {
	if e.Err == nil {
		return "heifcoder: encode: " + e.Reason.String()
	}
	return fmt.Sprintf("heifcoder: encode: %s: %v", e.Reason, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// decodeFailure classifies an engine error.
func decodeFailure(err error) *DecodeError {
	switch {
	case errors.Is(err, ErrMalformed):
		return &DecodeError{Reason: ReasonMalformedContainer, Err: err}
	case errors.Is(err, ErrUnsupported):
		return &DecodeError{Reason: ReasonUnsupportedFeature, Err: err}
	}
	return &DecodeError{Reason: ReasonEngineFailure, Err: err}
}

// encodeFailure classifies an engine error. An engine that cannot honour the
// requested options (e.g. sequences) reports ErrUnsupported.
func encodeFailure(err error) *EncodeError {
	if errors.Is(err, ErrUnsupported) {
		return &EncodeError{Reason: ReasonUnsupportedOptions, Err: err}
	}
	return &EncodeError{Reason: ReasonEngineFailure, Err: err}
}

// reasonOf returns the reason carried by err, or 0.
func reasonOf(err error) Reason {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Reason
	}
	var ee *EncodeError
	if errors.As(err, &ee) {
		return ee.Reason
	}
	return 0
}
