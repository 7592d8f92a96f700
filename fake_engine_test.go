package heifcoder

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/skyvense/heifcoder/internal/container"
	"github.com/skyvense/heifcoder/internal/container/containertest"
)

// qualityPadding is how many bytes each quality step adds to a lossy frame,
// so output size grows with quality.
const qualityPadding = 100

// fakeEngine stores raw pixels as image items: a width/height header and
// the NRGBA bytes. Lossy frames drop the low bit of every sample and carry
// quality-dependent padding.
type fakeEngine struct {
	noEncode    bool
	noSequences bool
	// count overrides the image count the decoder reports when >= 0.
	count int
	// failFrame makes DecodeImage fail with failErr at that index.
	failFrame int
	failErr   error

	mu         sync.Mutex
	params     []EncoderParams
	thumbnails []image.Rectangle
	open       int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{count: -1, failFrame: -1}
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) CanEncode() bool { return !e.noEncode }

func (e *fakeEngine) OpenDecoder(data []byte) (DecoderContext, error) {
	info, err := container.Probe(data)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrMalformed)
	}
	items := info.TopLevel
	if e.count >= 0 && e.count < len(items) {
		items = items[:e.count]
	}
	e.acquire()
	return &fakeDecoder{e: e, data: data, items: items}, nil
}

func (e *fakeEngine) OpenEncoder(params EncoderParams) (EncoderContext, error) {
	if e.noEncode {
		return nil, ErrEncoderUnavailable
	}
	if params.Frames > 1 && e.noSequences {
		return nil, fmt.Errorf("sequences: %w", ErrUnsupported)
	}
	e.mu.Lock()
	e.params = append(e.params, params)
	e.mu.Unlock()
	e.acquire()
	return &fakeEncoder{e: e, params: params}, nil
}

func (e *fakeEngine) acquire() {
	e.mu.Lock()
	e.open++
	e.mu.Unlock()
}

func (e *fakeEngine) release() {
	e.mu.Lock()
	e.open--
	e.mu.Unlock()
}

// openContexts is the number of contexts not yet closed.
func (e *fakeEngine) openContexts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

func (e *fakeEngine) lastParams() EncoderParams {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.params) == 0 {
		return EncoderParams{}
	}
	return e.params[len(e.params)-1]
}

type fakeDecoder struct {
	e     *fakeEngine
	data  []byte
	items []*container.Item
}

func (d *fakeDecoder) ImageCount() int { return len(d.items) }

func (d *fakeDecoder) DecodeImage(i int) (image.Image, time.Duration, error) {
	if i == d.e.failFrame {
		return nil, 0, d.e.failErr
	}
	b, err := container.ItemData(d.data, d.items[i])
	if err != nil {
		return nil, 0, err
	}
	img, err := unpackPixels(b)
	return img, 0, err
}

func (d *fakeDecoder) Close() { d.e.release() }

type fakeEncoder struct {
	e         *fakeEngine
	params    EncoderParams
	file      containertest.File
	durations []time.Duration
	closed    bool
}

func (c *fakeEncoder) AddImage(img *image.NRGBA, d time.Duration) error {
	c.file.Items = append(c.file.Items, containertest.Item{
		Data:   packPixels(img, c.params),
		Width:  img.Rect.Dx(),
		Height: img.Rect.Dy(),
	})
	if c.params.Frames > 1 {
		c.durations = append(c.durations, d)
	}
	return nil
}

func (c *fakeEncoder) AddThumbnail(img *image.NRGBA) error {
	if len(c.file.Items) == 0 {
		return errors.New("thumbnail before primary image")
	}
	c.file.Items = append(c.file.Items, containertest.Item{
		Data:        packPixels(img, c.params),
		Width:       img.Rect.Dx(),
		Height:      img.Rect.Dy(),
		ThumbnailOf: 1,
	})
	c.e.mu.Lock()
	c.e.thumbnails = append(c.e.thumbnails, img.Rect)
	c.e.mu.Unlock()
	return nil
}

func (c *fakeEncoder) Finish() ([]byte, error) {
	c.file.Durations = c.durations
	return containertest.Build(c.file), nil
}

func (c *fakeEncoder) Close() {
	if !c.closed {
		c.closed = true
		c.e.release()
	}
}

func packPixels(img *image.NRGBA, params EncoderParams) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := binary.BigEndian.AppendUint32(nil, uint32(w))
	out = binary.BigEndian.AppendUint32(out, uint32(h))
	for y := 0; y < h; y++ {
		row := img.Pix[img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y):][:w*4]
		for _, v := range row {
			if !params.Lossless {
				v &^= 1
			}
			out = append(out, v)
		}
	}
	if !params.Lossless {
		out = append(out, make([]byte, (params.Quality+1)*qualityPadding)...)
	}
	return out
}

func unpackPixels(b []byte) (*image.NRGBA, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("%d byte item: %w", len(b), ErrMalformed)
	}
	w, h := int(binary.BigEndian.Uint32(b)), int(binary.BigEndian.Uint32(b[4:]))
	if len(b)-8 < w*h*4 {
		return nil, fmt.Errorf("%dx%d item in %d bytes: %w", w, h, len(b), ErrMalformed)
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	copy(img.Pix, b[8:])
	return img, nil
}

// pixelItem returns an item the fake engine decodes back to img.
func pixelItem(img *image.NRGBA) containertest.Item {
	return containertest.Item{
		Data:   packPixels(img, EncoderParams{Lossless: true}),
		Width:  img.Rect.Dx(),
		Height: img.Rect.Dy(),
	}
}

// testImage returns a w×h image whose pixels differ in every channel,
// alpha included.
func testImage(w, h int, seed uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8(x*7) + seed,
				G: uint8(y*13) + seed,
				B: uint8(x*y) ^ seed,
				A: uint8(255 - (x+y)%64),
			})
		}
	}
	return img
}
