//go:build !noheif && !libheif
// +build !noheif,!libheif

package heifcoder

import (
	"bytes"
	"fmt"
	"image"
	"time"

	"github.com/jdeng/goheif"
)

// goheifEngine decodes with the pure Go goheif port of libde265. It only
// sees the primary image and cannot encode.
type goheifEngine struct{}

func defaultEngine() Engine { return goheifEngine{} }

// goheif registers "????ftyp" in its own init, which runs first and claims
// every ftyp file, so image.Decode reaches goheif directly in this build.
const registerFormats = false

func (goheifEngine) Name() string { return "goheif" }

func (goheifEngine) CanEncode() bool { return false }

func (goheifEngine) OpenDecoder(data []byte) (DecoderContext, error) {
	return &goheifDecoder{data: data}, nil
}

func (goheifEngine) OpenEncoder(EncoderParams) (EncoderContext, error) {
	return nil, ErrEncoderUnavailable
}

type goheifDecoder struct {
	data []byte
}

// ImageCount is always 1: goheif exposes the primary image only.
func (d *goheifDecoder) ImageCount() int { return 1 }

// DecodeImage decodes HEIC image using goheif library
func (d *goheifDecoder) DecodeImage(i int) (img image.Image, _ time.Duration, err error) {
	if i != 0 {
		return nil, 0, fmt.Errorf("goheif: image %d: %w", i, ErrUnsupported)
	}
	// goheif panics on some corrupt bitstreams.
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("goheif: %v: %w", r, ErrMalformed)
		}
	}()

	img, err = goheif.Decode(bytes.NewReader(d.data))
	if err != nil {
		return nil, 0, fmt.Errorf("goheif: %w", err)
	}
	return img, 0, nil
}

func (d *goheifDecoder) Close() { d.data = nil }
