//go:build noheif && !libheif
// +build noheif,!libheif

package heifcoder

import "fmt"

// noEngine stands in when HEIC support is disabled in this build.
type noEngine struct{}

func defaultEngine() Engine { return noEngine{} }

const registerFormats = true

func (noEngine) Name() string { return "none" }

func (noEngine) CanEncode() bool { return false }

// OpenDecoder returns an error when HEIC support is disabled
func (noEngine) OpenDecoder([]byte) (DecoderContext, error) {
	return nil, fmt.Errorf("HEIC support is disabled in this build: %w", ErrUnsupported)
}

func (noEngine) OpenEncoder(EncoderParams) (EncoderContext, error) {
	return nil, ErrEncoderUnavailable
}
