package heifcoder

import (
	"errors"
	"fmt"
	"image"

	"github.com/skyvense/heifcoder/internal/container"
)

// Decode decodes every image of a HEIF container, or only the first with
// FirstFrameOnly. A nil opts decodes all frames at full size. Failures are
// *DecodeError; no partial sequence is ever returned.
func (c *Coder) Decode(data []byte, opts *DecodeOptions) (*Sequence, error) {
	seq, err := c.decode(data, opts)
	if err != nil {
		c.metrics.observe(opDecode, 0, len(data), err)
		c.log.Debug().Err(err).Int("bytes", len(data)).Msg("decode failed")
		return nil, err
	}
	c.metrics.observe(opDecode, len(seq.Frames), len(data), nil)
	return seq, nil
}

func (c *Coder) decode(data []byte, opts *DecodeOptions) (*Sequence, error) {
	if opts == nil {
		opts = &DecodeOptions{}
	}

	brand, ok := container.Sniff(data)
	if !ok {
		return nil, &DecodeError{Reason: ReasonMalformedContainer, Err: fmt.Errorf("no HEIF signature in %d bytes: %w", len(data), container.ErrNotHEIF)}
	}
	info, err := container.Probe(data)
	if err != nil {
		return nil, &DecodeError{Reason: ReasonMalformedContainer, Err: fmt.Errorf("probe: %w", err)}
	}
	declared := info.ImageCount()
	if declared == 0 {
		return nil, &DecodeError{Reason: ReasonMalformedContainer, Err: errors.New("container declares no images")}
	}
	if info.Sequence == nil && info.SequenceBrand() {
		c.log.Debug().Str("brand", brand).Int("items", declared).Msg("sequence brand without a sequence track")
	}

	dec, err := c.engine.OpenDecoder(data)
	if err != nil {
		return nil, decodeFailure(fmt.Errorf("open: %w", err))
	}
	defer dec.Close()

	n := dec.ImageCount()
	if n == 0 {
		return nil, &DecodeError{Reason: ReasonMalformedContainer, Err: fmt.Errorf("engine found no images: %w", ErrMalformed)}
	}
	switch {
	case opts.FirstFrameOnly:
		n = 1
	case n < declared:
		// Never fewer frames than the container declares.
		return nil, &DecodeError{
			Reason: ReasonUnsupportedFeature,
			Err:    fmt.Errorf("engine %s decodes %d of %d images: %w", c.engine.Name(), n, declared, ErrUnsupported),
		}
	case n > declared:
		c.log.Debug().Int("declared", declared).Int("engine", n).Msg("engine found more images than declared")
	}

	orientation := containerOrientation(info)
	frames := make([]Frame, 0, n)
	for i := 0; i < n; i++ {
		img, d, err := dec.DecodeImage(i)
		if err != nil {
			return nil, decodeFailure(fmt.Errorf("frame %d: %w", i, err))
		}
		if img == nil || !validSize(img) {
			return nil, &DecodeError{Reason: ReasonEngineFailure, Err: fmt.Errorf("frame %d: engine returned no pixels", i)}
		}
		if d == 0 {
			d = info.Duration(i)
		}

		f := Frame{Image: toNRGBA(img), Duration: d, Orientation: orientation}
		if opts.ApplyOrientation {
			f.Image = toNRGBA(orientation.Apply(f.Image))
			f.Orientation = OrientationUp
		}
		if opts.ThumbnailSize != (image.Point{}) {
			if opts.PreserveAspectRatio {
				f.Image = fitWithin(f.Image.(*image.NRGBA), opts.ThumbnailSize)
			} else {
				f.Image = shrinkTo(f.Image.(*image.NRGBA), opts.ThumbnailSize)
			}
		}
		frames = append(frames, f)
	}

	// A single frame is a still image whatever the container says.
	if len(frames) == 1 && frames[0].Duration != 0 {
		c.log.Debug().Dur("duration", frames[0].Duration).Msg("dropping duration of single frame")
		frames[0].Duration = 0
	}

	c.log.Debug().
		Str("brand", brand).
		Int("frames", len(frames)).
		Bool("animated", info.Animated()).
		Int("orientation", int(orientation)).
		Msg("decoded")
	return &Sequence{Frames: frames}, nil
}
