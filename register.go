package heifcoder

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/skyvense/heifcoder/internal/container"
)

// magics maps the image package format name to the ftyp prefixes it claims.
var magics = map[string][]string{
	"heic": {"????ftypheic", "????ftypheix", "????ftyphevc", "????ftyphevx"},
	"heif": {"????ftypmif1", "????ftypmsf1"},
}

func init() {
	if !registerFormats {
		return
	}
	for name, prefixes := range magics {
		for _, magic := range prefixes {
			image.RegisterFormat(name, magic,
				func(r io.Reader) (image.Image, error) { return Shared().decodeImage(r) },
				func(r io.Reader) (image.Config, error) { return Shared().decodeConfig(r) })
		}
	}
}

// decodeImage returns the first frame as stored, like image.Decode does for
// other formats.
func (c *Coder) decodeImage(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	seq, err := c.Decode(data, &DecodeOptions{FirstFrameOnly: true})
	if err != nil {
		return nil, err
	}
	return seq.First(), nil
}

// decodeConfig reports the primary image's stored size from its ispe
// property without decoding pixels.
func (c *Coder) decodeConfig(r io.Reader) (image.Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return image.Config{}, err
	}
	if !c.CanDecode(data) {
		return image.Config{}, &DecodeError{Reason: ReasonMalformedContainer, Err: container.ErrNotHEIF}
	}
	info, err := container.Probe(data)
	if err != nil {
		return image.Config{}, &DecodeError{Reason: ReasonMalformedContainer, Err: fmt.Errorf("probe: %w", err)}
	}
	p := info.Primary()
	if p == nil && len(info.TopLevel) > 0 {
		p = info.TopLevel[0]
	}
	if p == nil || p.Width == 0 || p.Height == 0 {
		return image.Config{}, &DecodeError{Reason: ReasonMalformedContainer, Err: fmt.Errorf("no primary image size: %w", ErrMalformed)}
	}
	return image.Config{ColorModel: color.NRGBAModel, Width: p.Width, Height: p.Height}, nil
}
