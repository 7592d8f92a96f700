package heifcoder

import (
	"image"
	"time"
)

// Engine is the native codec behind the coder. Every call opens its own
// context; contexts are not safe for concurrent use and must be closed.
type Engine interface {
	Name() string
	// CanEncode reports whether OpenEncoder can succeed at all.
	CanEncode() bool
	OpenDecoder(data []byte) (DecoderContext, error)
	OpenEncoder(params EncoderParams) (EncoderContext, error)
}

// DecoderContext decodes the images of one container.
type DecoderContext interface {
	// ImageCount is the number of images the engine can return.
	ImageCount() int
	// DecodeImage decodes image i, 0 <= i < ImageCount(), in increasing
	// order. Pixels come back as stored, without irot/imir applied. The
	// duration is zero when the engine does not know it.
	DecodeImage(i int) (image.Image, time.Duration, error)
	Close()
}

// EncoderParams configure an encode context.
type EncoderParams struct {
	// Quality 0..100, already clamped.
	Quality  int
	Lossless bool
	// Frames is the number of AddImage calls that will follow. More than one
	// makes the output an image sequence.
	Frames int
}

// EncoderContext builds one container.
type EncoderContext interface {
	// AddImage adds the next frame. The first frame becomes the primary
	// image. d is ignored for single-frame encodes.
	AddImage(img *image.NRGBA, d time.Duration) error
	// AddThumbnail attaches a thumbnail to the primary image. It must follow
	// the first AddImage.
	AddThumbnail(img *image.NRGBA) error
	// Finish writes the container.
	Finish() ([]byte, error)
	Close()
}

// DefaultEngine returns the engine selected by build tags: goheif by
// default, libheif with -tags libheif, a stub with -tags noheif.
func DefaultEngine() Engine { return defaultEngine() }
