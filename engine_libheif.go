//go:build libheif
// +build libheif

package heifcoder

/*
#cgo pkg-config: libheif
#include <stdlib.h>
#include <string.h>
#include <libheif/heif.h>

#if LIBHEIF_HAVE_VERSION(1, 20, 0)
#define HC_SEQUENCES 1
#else
#define HC_SEQUENCES 0
#endif

typedef struct {
	uint8_t *data;
	size_t size;
} hc_buffer;

static struct heif_error hc_buffer_write(struct heif_context *ctx, const void *data, size_t size, void *userdata) {
	hc_buffer *buf = (hc_buffer *)userdata;
	struct heif_error err = { heif_error_Ok, heif_suberror_Unspecified, "Success" };
	uint8_t *p = realloc(buf->data, buf->size + size);
	if (p == NULL) {
		err.code = heif_error_Memory_allocation_error;
		err.message = "cannot grow output buffer";
		return err;
	}
	memcpy(p + buf->size, data, size);
	buf->data = p;
	buf->size += size;
	return err;
}

static struct heif_error hc_context_write(struct heif_context *ctx, hc_buffer *buf) {
	struct heif_writer w;
	w.writer_api_version = 1;
	w.write = hc_buffer_write;
	return heif_context_write(ctx, &w, buf);
}

static void hc_ignore_transformations(struct heif_decoding_options *opts) {
	opts->ignore_transformations = 1;
}

static void hc_set_output_nclx(struct heif_encoding_options *opts, struct heif_color_profile_nclx *nclx) {
	nclx->matrix_coefficients = heif_matrix_coefficients_RGB_GBR;
	opts->output_nclx_profile = nclx;
}

static int hc_sequences_supported(void) {
	return HC_SEQUENCES;
}

static struct heif_error hc_unsupported(void) {
	struct heif_error err = { heif_error_Unsupported_feature, heif_suberror_Unspecified, "image sequences need libheif 1.20" };
	return err;
}

static int hc_has_sequence(struct heif_context *ctx) {
#if HC_SEQUENCES
	return heif_context_has_sequence(ctx);
#else
	return 0;
#endif
}

static void *hc_get_track(struct heif_context *ctx) {
#if HC_SEQUENCES
	return heif_context_get_track(ctx, 0);
#else
	return NULL;
#endif
}

static void hc_track_release(void *track) {
#if HC_SEQUENCES
	heif_track_release((struct heif_track *)track);
#endif
}

static uint32_t hc_track_timescale(void *track) {
#if HC_SEQUENCES
	return heif_track_get_timescale((struct heif_track *)track);
#else
	return 0;
#endif
}

static struct heif_error hc_track_decode_next(void *track, struct heif_image **img, const struct heif_decoding_options *opts) {
#if HC_SEQUENCES
	return heif_track_decode_next_image((struct heif_track *)track, img, heif_colorspace_RGB, heif_chroma_interleaved_RGBA, opts);
#else
	return hc_unsupported();
#endif
}

static uint32_t hc_image_duration(const struct heif_image *img) {
#if HC_SEQUENCES
	return heif_image_get_duration(img);
#else
	return 0;
#endif
}

static struct heif_error hc_add_sequence_track(struct heif_context *ctx, int width, int height, uint32_t timescale, void **out) {
#if HC_SEQUENCES
	struct heif_track *track = NULL;
	struct heif_error err;
	heif_context_set_sequence_timescale(ctx, timescale);
	err = heif_context_add_visual_sequence_track(ctx, (uint16_t)width, (uint16_t)height, heif_track_type_image_sequence, NULL, NULL, &track);
	*out = track;
	return err;
#else
	return hc_unsupported();
#endif
}

static struct heif_error hc_track_encode(void *track, struct heif_image *img, struct heif_encoder *enc, uint32_t duration) {
#if HC_SEQUENCES
	heif_image_set_duration(img, duration);
	return heif_track_encode_sequence_image((struct heif_track *)track, img, enc, NULL);
#else
	return hc_unsupported();
#endif
}
*/
import "C"

import (
	"fmt"
	"image"
	"time"
	"unsafe"

	"github.com/skyvense/heifcoder/internal/container"
)

// sequenceTimescale is the track timescale of encoded sequences: milliseconds.
const sequenceTimescale = 1000

// libheifEngine drives libheif with libde265 and x265 through cgo. It decodes
// every top-level image and, with libheif 1.20 or later, image sequences.
type libheifEngine struct{}

func defaultEngine() Engine { return libheifEngine{} }

const registerFormats = true

func (libheifEngine) Name() string {
	return "libheif " + C.GoString(C.heif_get_version())
}

func (libheifEngine) CanEncode() bool {
	ctx := C.heif_context_alloc()
	defer C.heif_context_free(ctx)

	var enc *C.struct_heif_encoder
	if heifError(C.heif_context_get_encoder_for_format(ctx, C.heif_compression_HEVC, &enc)) != nil {
		return false
	}
	C.heif_encoder_release(enc)
	return true
}

// heifError converts a libheif error, nil for heif_error_Ok.
func heifError(e C.struct_heif_error) error {
	if e.code == C.heif_error_Ok {
		return nil
	}
	msg := fmt.Sprintf("libheif: %s (%d.%d)", C.GoString(e.message), int(e.code), int(e.subcode))
	switch e.code {
	case C.heif_error_Invalid_input:
		return fmt.Errorf("%s: %w", msg, ErrMalformed)
	case C.heif_error_Unsupported_filetype, C.heif_error_Unsupported_feature:
		return fmt.Errorf("%s: %w", msg, ErrUnsupported)
	}
	return fmt.Errorf("%s", msg)
}

type libheifDecoder struct {
	ctx  *C.struct_heif_context
	opts *C.struct_heif_decoding_options

	ids []C.heif_item_id

	// Sequence files decode from the first visual track in order.
	track     unsafe.Pointer
	timescale uint32
	count     int
	next      int
}

func (libheifEngine) OpenDecoder(data []byte) (DecoderContext, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty input: %w", ErrMalformed)
	}
	d := &libheifDecoder{ctx: C.heif_context_alloc()}
	if err := heifError(C.heif_context_read_from_memory(d.ctx, unsafe.Pointer(&data[0]), C.size_t(len(data)), nil)); err != nil {
		d.Close()
		return nil, err
	}
	d.opts = C.heif_decoding_options_alloc()
	C.hc_ignore_transformations(d.opts)

	if C.hc_has_sequence(d.ctx) != 0 {
		info, err := container.Probe(data)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("probe: %w: %w", err, ErrMalformed)
		}
		d.track = C.hc_get_track(d.ctx)
		if d.track == nil {
			d.Close()
			return nil, fmt.Errorf("no visual track: %w", ErrMalformed)
		}
		d.timescale = uint32(C.hc_track_timescale(d.track))
		d.count = info.ImageCount()
		return d, nil
	}

	n := int(C.heif_context_get_number_of_top_level_images(d.ctx))
	if n > 0 {
		d.ids = make([]C.heif_item_id, n)
		n = int(C.heif_context_get_list_of_top_level_image_IDs(d.ctx, &d.ids[0], C.int(n)))
		d.ids = d.ids[:n]
	}
	d.count = n
	return d, nil
}

func (d *libheifDecoder) ImageCount() int { return d.count }

func (d *libheifDecoder) DecodeImage(i int) (image.Image, time.Duration, error) {
	if i < 0 || i >= d.count {
		return nil, 0, fmt.Errorf("image %d of %d", i, d.count)
	}

	var img *C.struct_heif_image
	if d.track != nil {
		if i != d.next {
			return nil, 0, fmt.Errorf("sequence sample %d requested after %d", i, d.next-1)
		}
		if err := heifError(C.hc_track_decode_next(d.track, &img, d.opts)); err != nil {
			return nil, 0, fmt.Errorf("sample %d: %w", i, err)
		}
		d.next++
	} else {
		var handle *C.struct_heif_image_handle
		if err := heifError(C.heif_context_get_image_handle(d.ctx, d.ids[i], &handle)); err != nil {
			return nil, 0, fmt.Errorf("image %d: %w", i, err)
		}
		err := heifError(C.heif_decode_image(handle, &img, C.heif_colorspace_RGB, C.heif_chroma_interleaved_RGBA, d.opts))
		C.heif_image_handle_release(handle)
		if err != nil {
			return nil, 0, fmt.Errorf("image %d: %w", i, err)
		}
	}
	defer C.heif_image_release(img)

	var dur time.Duration
	if d.track != nil && d.timescale > 0 {
		dur = time.Duration(uint64(C.hc_image_duration(img)) * uint64(time.Second) / uint64(d.timescale))
	}

	out, err := planeToNRGBA(img)
	if err != nil {
		return nil, 0, fmt.Errorf("image %d: %w", i, err)
	}
	return out, dur, nil
}

func (d *libheifDecoder) Close() {
	if d.track != nil {
		C.hc_track_release(d.track)
		d.track = nil
	}
	if d.opts != nil {
		C.heif_decoding_options_free(d.opts)
		d.opts = nil
	}
	if d.ctx != nil {
		C.heif_context_free(d.ctx)
		d.ctx = nil
	}
}

// planeToNRGBA copies an interleaved 8-bit RGBA image out of C memory.
func planeToNRGBA(img *C.struct_heif_image) (*image.NRGBA, error) {
	if bits := int(C.heif_image_get_bits_per_pixel_range(img, C.heif_channel_interleaved)); bits != 8 {
		return nil, fmt.Errorf("%d bits per channel: %w", bits, ErrUnsupported)
	}
	w := int(C.heif_image_get_width(img, C.heif_channel_interleaved))
	h := int(C.heif_image_get_height(img, C.heif_channel_interleaved))

	var stride C.int
	p := C.heif_image_get_plane_readonly(img, C.heif_channel_interleaved, &stride)
	if p == nil || w <= 0 || h <= 0 {
		return nil, fmt.Errorf("no interleaved plane: %w", ErrUnsupported)
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(p)), int(stride)*h)

	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		copy(out.Pix[y*out.Stride:y*out.Stride+w*4], src[y*int(stride):])
	}
	return out, nil
}

type libheifEncoder struct {
	ctx  *C.struct_heif_context
	enc  *C.struct_heif_encoder
	opts *C.struct_heif_encoding_options
	nclx *C.struct_heif_color_profile_nclx

	params  EncoderParams
	primary *C.struct_heif_image_handle
	track   unsafe.Pointer
	added   int
}

func (libheifEngine) OpenEncoder(params EncoderParams) (EncoderContext, error) {
	if params.Frames > 1 && C.hc_sequences_supported() == 0 {
		return nil, fmt.Errorf("%d frames with libheif %s: %w", params.Frames, C.GoString(C.heif_get_version()), ErrUnsupported)
	}

	e := &libheifEncoder{ctx: C.heif_context_alloc(), params: params}
	if err := heifError(C.heif_context_get_encoder_for_format(e.ctx, C.heif_compression_HEVC, &e.enc)); err != nil {
		e.Close()
		return nil, fmt.Errorf("%v: %w", err, ErrEncoderUnavailable)
	}
	e.opts = C.heif_encoding_options_alloc()

	if err := heifError(C.heif_encoder_set_lossy_quality(e.enc, C.int(params.Quality))); err != nil {
		e.Close()
		return nil, fmt.Errorf("quality %d: %w", params.Quality, err)
	}
	if params.Lossless {
		if err := heifError(C.heif_encoder_set_lossless(e.enc, 1)); err != nil {
			e.Close()
			return nil, fmt.Errorf("lossless: %w", err)
		}
		// RGB matrix and full chroma, or YCbCr rounding loses the exact values.
		e.nclx = C.heif_nclx_color_profile_alloc()
		C.hc_set_output_nclx(e.opts, e.nclx)

		name, value := C.CString("chroma"), C.CString("444")
		err := heifError(C.heif_encoder_set_parameter_string(e.enc, name, value))
		C.free(unsafe.Pointer(name))
		C.free(unsafe.Pointer(value))
		if err != nil {
			e.Close()
			return nil, fmt.Errorf("chroma 444: %w", err)
		}
	}
	return e, nil
}

// newImage copies img into a fresh libheif RGBA image.
func newImage(img *image.NRGBA) (*C.struct_heif_image, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()

	var out *C.struct_heif_image
	if err := heifError(C.heif_image_create(C.int(w), C.int(h), C.heif_colorspace_RGB, C.heif_chroma_interleaved_RGBA, &out)); err != nil {
		return nil, err
	}
	if err := heifError(C.heif_image_add_plane(out, C.heif_channel_interleaved, C.int(w), C.int(h), 8)); err != nil {
		C.heif_image_release(out)
		return nil, err
	}

	var stride C.int
	p := C.heif_image_get_plane(out, C.heif_channel_interleaved, &stride)
	dst := unsafe.Slice((*byte)(unsafe.Pointer(p)), int(stride)*h)
	for y := 0; y < h; y++ {
		row := img.Pix[img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y):]
		copy(dst[y*int(stride):y*int(stride)+w*4], row[:w*4])
	}
	return out, nil
}

func (e *libheifEncoder) AddImage(img *image.NRGBA, d time.Duration) error {
	himg, err := newImage(img)
	if err != nil {
		return err
	}
	defer C.heif_image_release(himg)

	if e.added == 0 {
		// The first frame doubles as the still image readers without
		// sequence support show.
		if err := heifError(C.heif_context_encode_image(e.ctx, himg, e.enc, e.opts, &e.primary)); err != nil {
			return fmt.Errorf("primary image: %w", err)
		}
	}

	if e.params.Frames > 1 {
		if e.track == nil {
			w, h := img.Rect.Dx(), img.Rect.Dy()
			if w > 0xffff || h > 0xffff {
				return fmt.Errorf("%dx%d sequence frame: %w", w, h, ErrUnsupported)
			}
			if err := heifError(C.hc_add_sequence_track(e.ctx, C.int(w), C.int(h), sequenceTimescale, &e.track)); err != nil {
				return fmt.Errorf("sequence track: %w", err)
			}
		}
		ticks := uint32(d / (time.Second / sequenceTimescale))
		if err := heifError(C.hc_track_encode(e.track, himg, e.enc, C.uint32_t(ticks))); err != nil {
			return fmt.Errorf("sample %d: %w", e.added, err)
		}
	}
	e.added++
	return nil
}

func (e *libheifEncoder) AddThumbnail(img *image.NRGBA) error {
	if e.primary == nil {
		return fmt.Errorf("thumbnail before primary image")
	}
	himg, err := newImage(img)
	if err != nil {
		return err
	}
	defer C.heif_image_release(himg)

	var thumb *C.struct_heif_image_handle
	if err := heifError(C.heif_context_encode_image(e.ctx, himg, e.enc, e.opts, &thumb)); err != nil {
		return fmt.Errorf("thumbnail: %w", err)
	}
	defer C.heif_image_handle_release(thumb)
	return heifError(C.heif_context_assign_thumbnail(e.ctx, e.primary, thumb))
}

func (e *libheifEncoder) Finish() ([]byte, error) {
	var buf C.hc_buffer
	defer func() { C.free(unsafe.Pointer(buf.data)) }()

	if err := heifError(C.hc_context_write(e.ctx, &buf)); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	return C.GoBytes(unsafe.Pointer(buf.data), C.int(buf.size)), nil
}

func (e *libheifEncoder) Close() {
	if e.track != nil {
		C.hc_track_release(e.track)
		e.track = nil
	}
	if e.primary != nil {
		C.heif_image_handle_release(e.primary)
		e.primary = nil
	}
	if e.opts != nil {
		// output_nclx_profile is owned by us, not by the options.
		C.heif_encoding_options_free(e.opts)
		e.opts = nil
	}
	if e.nclx != nil {
		C.heif_nclx_color_profile_free(e.nclx)
		e.nclx = nil
	}
	if e.enc != nil {
		C.heif_encoder_release(e.enc)
		e.enc = nil
	}
	if e.ctx != nil {
		C.heif_context_free(e.ctx)
		e.ctx = nil
	}
}
