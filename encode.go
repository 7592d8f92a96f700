package heifcoder

import (
	"errors"
	"fmt"
	"image"
	"time"
)

// maxSizePasses bounds the extra encodes spent meeting MaxFileSize.
const maxSizePasses = 7

// Encode writes seq as a HEIF container. Multi-frame sequences become an
// image sequence with per-frame durations; a single frame is a still image.
// A nil opts means DefaultEncodeOptions. Failures are *EncodeError.
func (c *Coder) Encode(seq *Sequence, opts *EncodeOptions) ([]byte, error) {
	out, frames, err := c.encode(seq, opts)
	if err != nil {
		c.metrics.observe(opEncode, 0, 0, err)
		c.log.Debug().Err(err).Msg("encode failed")
		return nil, err
	}
	c.metrics.observe(opEncode, frames, len(out), nil)
	return out, nil
}

// job is an encode after validation and scaling.
type job struct {
	images    []*image.NRGBA
	durations []time.Duration
	thumbnail *image.NRGBA
	lossless  bool
}

func (c *Coder) encode(seq *Sequence, opts *EncodeOptions) ([]byte, int, error) {
	if opts == nil {
		opts = DefaultEncodeOptions()
	}
	if seq == nil || len(seq.Frames) == 0 {
		return nil, 0, &EncodeError{Reason: ReasonInvalidInput, Err: errors.New("no frames")}
	}
	for i, f := range seq.Frames {
		if f.Image == nil {
			return nil, 0, &EncodeError{Reason: ReasonInvalidInput, Err: fmt.Errorf("frame %d has no image", i)}
		}
		if !validSize(f.Image) {
			b := f.Image.Bounds()
			return nil, 0, &EncodeError{Reason: ReasonInvalidInput, Err: fmt.Errorf("frame %d is %dx%d", i, b.Dx(), b.Dy())}
		}
	}
	if opts.MaxFileSize < 0 {
		return nil, 0, &EncodeError{Reason: ReasonUnsupportedOptions, Err: fmt.Errorf("max file size %d", opts.MaxFileSize)}
	}
	if !c.engine.CanEncode() {
		return nil, 0, &EncodeError{Reason: ReasonEngineFailure, Err: fmt.Errorf("%s: %w", c.engine.Name(), ErrEncoderUnavailable)}
	}

	frames := seq.Frames
	if opts.FirstFrameOnly {
		frames = frames[:1]
	}

	j := job{lossless: opts.Lossless}
	for i, f := range frames {
		img := toNRGBA(f.Image)
		if opts.MaxPixelSize != (image.Point{}) {
			img = fitWithin(img, opts.MaxPixelSize)
		}
		j.images = append(j.images, img)

		d := f.Duration
		if len(frames) == 1 && d != 0 {
			c.log.Debug().Int("frame", i).Dur("duration", d).Msg("dropping duration of still image")
			d = 0
		}
		j.durations = append(j.durations, d)

		if f.Orientation.Valid() && f.Orientation != OrientationUp {
			c.log.Debug().Int("frame", i).Int("orientation", int(f.Orientation)).Msg("orientation not written")
		}
	}
	if opts.EmbedThumbnail {
		j.thumbnail = fitWithin(j.images[0], image.Pt(ThumbnailBound, ThumbnailBound))
	}

	quality := clampQuality(opts.Quality)
	out, err := c.encodeOnce(j, quality)
	if err != nil {
		return nil, 0, err
	}
	if opts.MaxFileSize > 0 && !opts.Lossless && len(out) > opts.MaxFileSize {
		if out, err = c.fitFileSize(j, quality, opts.MaxFileSize, out); err != nil {
			return nil, 0, err
		}
	}

	c.log.Debug().
		Int("frames", len(j.images)).
		Int("quality", quality).
		Bool("lossless", opts.Lossless).
		Int("bytes", len(out)).
		Msg("encoded")
	return out, len(j.images), nil
}

// encodeOnce runs one engine encode session.
func (c *Coder) encodeOnce(j job, quality int) ([]byte, error) {
	enc, err := c.engine.OpenEncoder(EncoderParams{Quality: quality, Lossless: j.lossless, Frames: len(j.images)})
	if err != nil {
		return nil, encodeFailure(fmt.Errorf("open: %w", err))
	}
	defer enc.Close()

	for i, img := range j.images {
		if err := enc.AddImage(img, j.durations[i]); err != nil {
			return nil, encodeFailure(fmt.Errorf("frame %d: %w", i, err))
		}
		if i == 0 && j.thumbnail != nil {
			if err := enc.AddThumbnail(j.thumbnail); err != nil {
				return nil, encodeFailure(fmt.Errorf("thumbnail: %w", err))
			}
		}
	}

	out, err := enc.Finish()
	if err != nil {
		return nil, encodeFailure(fmt.Errorf("finish: %w", err))
	}
	return out, nil
}

// fitFileSize binary-searches qualities below quality for the largest output
// within limit. When none fits it returns the smallest output produced.
func (c *Coder) fitFileSize(j job, quality, limit int, first []byte) ([]byte, error) {
	var best []byte
	smallest := first
	lo, hi := 0, quality-1
	for pass := 0; pass < maxSizePasses && lo <= hi; pass++ {
		q := (lo + hi) / 2
		out, err := c.encodeOnce(j, q)
		if err != nil {
			return nil, err
		}
		c.log.Debug().Int("quality", q).Int("bytes", len(out)).Int("limit", limit).Msg("size pass")

		if len(out) < len(smallest) {
			smallest = out
		}
		if len(out) <= limit {
			if len(out) > len(best) {
				best = out
			}
			lo = q + 1
		} else {
			hi = q - 1
		}
	}
	if best != nil {
		return best, nil
	}
	return smallest, nil
}
