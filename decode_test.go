package heifcoder

import (
	"bytes"
	"errors"
	"image"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/skyvense/heifcoder/internal/container"
	"github.com/skyvense/heifcoder/internal/container/containertest"
)

func TestDecodeErrors(t *testing.T) {
	good := containertest.Build(containertest.File{Items: []containertest.Item{
		pixelItem(testImage(8, 8, 1)),
		pixelItem(testImage(8, 8, 2)),
	}})

	tests := []struct {
		name   string
		data   []byte
		engine func(*fakeEngine)
		reason Reason
		is     error
	}{
		{name: "empty", reason: ReasonMalformedContainer, is: container.ErrNotHEIF},
		{name: "jpeg", data: []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01"), reason: ReasonMalformedContainer},
		{name: "truncated", data: good[:len(good)-20], reason: ReasonMalformedContainer, is: container.ErrTruncated},
		{name: "no images", data: containertest.Build(containertest.File{}), reason: ReasonMalformedContainer},
		{
			name:   "engine finds no images",
			data:   good,
			engine: func(e *fakeEngine) { e.count = 0 },
			reason: ReasonMalformedContainer,
		},
		{
			name:   "engine sees fewer images",
			data:   good,
			engine: func(e *fakeEngine) { e.count = 1 },
			reason: ReasonUnsupportedFeature,
			is:     ErrUnsupported,
		},
		{
			name:   "unsupported frame",
			data:   good,
			engine: func(e *fakeEngine) { e.failFrame, e.failErr = 0, ErrUnsupported },
			reason: ReasonUnsupportedFeature,
			is:     ErrUnsupported,
		},
		{
			name:   "corrupt second frame",
			data:   good,
			engine: func(e *fakeEngine) { e.failFrame, e.failErr = 1, ErrMalformed },
			reason: ReasonMalformedContainer,
			is:     ErrMalformed,
		},
		{
			name:   "engine failure",
			data:   good,
			engine: func(e *fakeEngine) { e.failFrame, e.failErr = 1, errors.New("out of memory") },
			reason: ReasonEngineFailure,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e := newFakeEngine()
			if test.engine != nil {
				test.engine(e)
			}
			c := New(WithEngine(e))

			seq, err := c.Decode(test.data, nil)
			if seq != nil {
				t.Errorf("partial result with %d frames", len(seq.Frames))
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("error %v is not a *DecodeError", err)
			}
			if de.Reason != test.reason {
				t.Errorf("reason %v, want %v", de.Reason, test.reason)
			}
			if test.is != nil && !errors.Is(err, test.is) {
				t.Errorf("errors.Is(%v, %v) = false", err, test.is)
			}
			if n := e.openContexts(); n != 0 {
				t.Errorf("%d engine contexts left open", n)
			}
		})
	}
}

func TestDecodeCollection(t *testing.T) {
	a, b := testImage(8, 4, 1), testImage(6, 6, 2)
	data := containertest.Build(containertest.File{Items: []containertest.Item{pixelItem(a), pixelItem(b)}})
	c := New(WithEngine(newFakeEngine()))

	seq, err := c.Decode(data, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(seq.Frames) != 2 {
		t.Fatalf("%d frames, want 2", len(seq.Frames))
	}
	// Dimensions may differ per frame; items without a track carry no timing.
	for i, want := range []image.Rectangle{a.Rect, b.Rect} {
		f := seq.Frames[i]
		if f.Image.Bounds() != want {
			t.Errorf("frame %d bounds %v, want %v", i, f.Image.Bounds(), want)
		}
		if f.Duration != 0 {
			t.Errorf("frame %d duration %v", i, f.Duration)
		}
	}

	first, err := c.Decode(data, &DecodeOptions{FirstFrameOnly: true})
	if err != nil {
		t.Fatalf("Decode first frame: %v", err)
	}
	if len(first.Frames) != 1 || first.Frames[0].Image.Bounds() != a.Rect {
		t.Errorf("first frame only: %d frames", len(first.Frames))
	}
}

func TestDecodeSingleSampleSequence(t *testing.T) {
	data := containertest.Build(containertest.File{
		MajorBrand: "msf1",
		Compatible: []string{"msf1", "hevc"},
		Items:      []containertest.Item{pixelItem(testImage(4, 4, 0))},
		Durations:  []time.Duration{750 * time.Millisecond},
	})
	c := New(WithEngine(newFakeEngine()))

	seq, err := c.Decode(data, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if seq.Animated() || seq.Frames[0].Duration != 0 {
		t.Errorf("single sample: animated %v, duration %v", seq.Animated(), seq.Frames[0].Duration)
	}
}

func TestDecodeFirstFrameOfAnimation(t *testing.T) {
	data := containertest.Build(containertest.File{
		MajorBrand: "msf1",
		Compatible: []string{"msf1", "hevc"},
		Items:      []containertest.Item{pixelItem(testImage(4, 4, 0)), pixelItem(testImage(4, 4, 1))},
		Durations:  []time.Duration{40 * time.Millisecond, 40 * time.Millisecond},
	})
	c := New(WithEngine(newFakeEngine()))

	seq, err := c.Decode(data, &DecodeOptions{FirstFrameOnly: true})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(seq.Frames) != 1 || seq.Frames[0].Duration != 0 {
		t.Errorf("%d frames, first duration %v", len(seq.Frames), seq.Frames[0].Duration)
	}
}

func TestDecodeIncompleteSequence(t *testing.T) {
	data := containertest.Build(containertest.File{
		MajorBrand: "msf1",
		Compatible: []string{"msf1", "hevc"},
		Items:      []containertest.Item{pixelItem(testImage(4, 4, 0)), pixelItem(testImage(4, 4, 1))},
		Durations:  []time.Duration{100 * time.Millisecond, 200 * time.Millisecond},
	})
	e := newFakeEngine()
	e.count = 1
	c := New(WithEngine(e))

	seq, err := c.Decode(data, nil)
	if seq != nil {
		t.Errorf("partial result with %d frames, animated %v", len(seq.Frames), seq.Animated())
	}
	var de *DecodeError
	if !errors.As(err, &de) || de.Reason != ReasonUnsupportedFeature || !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Decode error %v", err)
	}

	// The first frame alone is still available.
	first, err := c.Decode(data, &DecodeOptions{FirstFrameOnly: true})
	if err != nil {
		t.Fatalf("Decode first frame: %v", err)
	}
	if len(first.Frames) != 1 {
		t.Errorf("%d frames, want 1", len(first.Frames))
	}
	if n := e.openContexts(); n != 0 {
		t.Errorf("%d engine contexts left open", n)
	}
}

func TestDecodeSequenceBrandWithoutTrack(t *testing.T) {
	var buf bytes.Buffer
	c := New(WithEngine(newFakeEngine()), WithLogger(zerolog.New(&buf).Level(zerolog.DebugLevel)))
	data := containertest.Build(containertest.File{
		MajorBrand: "msf1",
		Compatible: []string{"msf1", "hevc"},
		Items:      []containertest.Item{pixelItem(testImage(4, 4, 0)), pixelItem(testImage(4, 4, 1))},
	})

	seq, err := c.Decode(data, nil)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(seq.Frames) != 2 {
		t.Errorf("%d frames, want 2", len(seq.Frames))
	}
	if !bytes.Contains(buf.Bytes(), []byte("sequence brand without a sequence track")) {
		t.Errorf("no debug event for the missing track in %q", buf.String())
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"animated":false`)) {
		t.Errorf("decode event lacks the animated field: %q", buf.String())
	}
}

func TestDecodeOrientation(t *testing.T) {
	src := testImage(6, 4, 0)

	tests := []struct {
		name string
		item func(*containertest.Item)
		exif []byte
		want Orientation
	}{
		{name: "none", want: OrientationUp},
		{name: "irot 90", item: func(it *containertest.Item) { it.Rotation = 1 }, want: OrientationLeft},
		{name: "irot 270", item: func(it *containertest.Item) { it.Rotation = 3 }, want: OrientationRight},
		{name: "imir", item: func(it *containertest.Item) { it.Mirror = true }, want: OrientationUpMirrored},
		{name: "exif", exif: containertest.TIFFOrientation(6), want: OrientationRight},
		{
			name: "irot wins over exif",
			item: func(it *containertest.Item) { it.Rotation = 2 },
			exif: containertest.TIFFOrientation(6),
			want: OrientationDown,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			primary := pixelItem(src)
			if test.item != nil {
				test.item(&primary)
			}
			data := containertest.Build(containertest.File{
				Items: []containertest.Item{primary, pixelItem(testImage(6, 4, 9))},
				EXIF:  test.exif,
			})
			c := New(WithEngine(newFakeEngine()))

			seq, err := c.Decode(data, nil)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			for i, f := range seq.Frames {
				if f.Orientation != test.want {
					t.Errorf("frame %d orientation %d, want %d", i, f.Orientation, test.want)
				}
				if f.Image.Bounds() != src.Rect {
					t.Errorf("frame %d pixels transformed: %v", i, f.Image.Bounds())
				}
			}

			baked, err := c.Decode(data, &DecodeOptions{ApplyOrientation: true})
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			f := baked.Frames[0]
			if f.Orientation != OrientationUp {
				t.Errorf("baked orientation %d, want up", f.Orientation)
			}
			want := test.want.Apply(src).Bounds()
			if f.Image.Bounds() != want {
				t.Errorf("baked bounds %v, want %v", f.Image.Bounds(), want)
			}
		})
	}
}

func TestDecodeThumbnailSize(t *testing.T) {
	data := containertest.Build(containertest.File{Items: []containertest.Item{pixelItem(testImage(64, 48, 0))}})
	c := New(WithEngine(newFakeEngine()))

	tests := []struct {
		name string
		opts DecodeOptions
		want image.Point
	}{
		{name: "fit", opts: DecodeOptions{ThumbnailSize: image.Pt(32, 32), PreserveAspectRatio: true}, want: image.Pt(32, 24)},
		{name: "stretch", opts: DecodeOptions{ThumbnailSize: image.Pt(32, 32)}, want: image.Pt(32, 32)},
		{name: "width only", opts: DecodeOptions{ThumbnailSize: image.Pt(16, 0), PreserveAspectRatio: true}, want: image.Pt(16, 12)},
		{name: "no upscale", opts: DecodeOptions{ThumbnailSize: image.Pt(640, 480), PreserveAspectRatio: true}, want: image.Pt(64, 48)},
		{name: "no upscale stretched", opts: DecodeOptions{ThumbnailSize: image.Pt(640, 24)}, want: image.Pt(64, 24)},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			seq, err := c.Decode(data, &test.opts)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			img := seq.Frames[0].Image
			if _, ok := img.(*image.NRGBA); !ok {
				t.Errorf("thumbnail is %T", img)
			}
			if got := img.Bounds().Size(); got != test.want {
				t.Errorf("size %v, want %v", got, test.want)
			}
		})
	}
}
