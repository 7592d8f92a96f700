// Package heifcoder decodes and encodes HEIF/HEIC images and image sequences
// for Go's image package, delegating the HEVC bitstream to a native engine.
package heifcoder

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/skyvense/heifcoder/internal/container"
)

// Format names an output format a coder may be asked to produce.
type Format string

const (
	FormatHEIC Format = "heic"
	FormatHEIF Format = "heif"
)

// ImageCoder is the coder plugin protocol of an image-loading host.
type ImageCoder interface {
	// CanDecode inspects the leading bytes of data only.
	CanDecode(data []byte) bool
	CanEncode(format Format) bool
	Decode(data []byte, opts *DecodeOptions) (*Sequence, error)
	Encode(seq *Sequence, opts *EncodeOptions) ([]byte, error)
}

var _ ImageCoder = (*Coder)(nil)

// Coder implements ImageCoder for HEIF. It holds configuration only, every
// call opens its own engine context, so a Coder is safe for concurrent use.
type Coder struct {
	engine  Engine
	log     zerolog.Logger
	metrics *Metrics
}

// New returns a Coder over DefaultEngine unless WithEngine says otherwise.
func New(opts ...Option) *Coder {
	o := options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.engine == nil {
		o.engine = DefaultEngine()
	}
	return &Coder{
		engine:  o.engine,
		log:     o.log.With().Str("engine", o.engine.Name()).Logger(),
		metrics: o.metrics,
	}
}

var shared = sync.OnceValue(func() *Coder { return New() })

// Shared returns the process-wide Coder used by the image package
// registration.
func Shared() *Coder { return shared() }

// Engine returns the engine the coder delegates to.
func (c *Coder) Engine() Engine { return c.engine }

// CanDecode reports whether data starts with the ftyp box of an HEVC-coded
// HEIF file. It reads no further than that box.
func (c *Coder) CanDecode(data []byte) bool {
	_, ok := container.Sniff(data)
	return ok
}

// CanEncode reports whether format is HEIC/HEIF and the engine can encode.
func (c *Coder) CanEncode(format Format) bool {
	switch format {
	case FormatHEIC, FormatHEIF:
		return c.engine.CanEncode()
	}
	return false
}
