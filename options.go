package heifcoder

import "image"

// DefaultQuality is the encode quality used when no options are given.
const DefaultQuality = 85

// ThumbnailBound bounds both sides of an embedded thumbnail.
const ThumbnailBound = 320

// DecodeOptions tune a single Decode call. A nil *DecodeOptions decodes every
// frame at full size.
type DecodeOptions struct {
	// FirstFrameOnly stops after the first image.
	FirstFrameOnly bool
	// ThumbnailSize, when non-zero, downsizes each frame to fit. A zero
	// component leaves that axis unbounded. Frames are never upscaled.
	ThumbnailSize image.Point
	// PreserveAspectRatio keeps the aspect ratio when ThumbnailSize applies;
	// otherwise the frame is stretched to ThumbnailSize.
	PreserveAspectRatio bool
	// ApplyOrientation rotates and mirrors the pixels for display and
	// reports OrientationUp.
	ApplyOrientation bool
}

// EncodeOptions tune a single Encode call.
type EncodeOptions struct {
	// Quality 0..100, clamped. Ignored by the engine when Lossless is set.
	Quality int
	// Lossless keeps source pixels exactly.
	Lossless bool
	// MaxFileSize is a byte-size hint, 0 for none. When the output is larger
	// the coder retries at lower qualities. Ignored when Lossless is set.
	MaxFileSize int
	// EmbedThumbnail stores a downsized copy of the first frame, at most
	// ThumbnailBound pixels on each side.
	EmbedThumbnail bool
	// FirstFrameOnly encodes only the first frame as a still image.
	FirstFrameOnly bool
	// MaxPixelSize, when non-zero, downsizes frames to fit, keeping the
	// aspect ratio.
	MaxPixelSize image.Point
}

// DefaultEncodeOptions returns the options nil stands for.
func DefaultEncodeOptions() *EncodeOptions {
	return &EncodeOptions{Quality: DefaultQuality}
}

// clampQuality maps any integer onto 0..100.
func clampQuality(q int) int {
	if q < 0 {
		return 0
	}
	if q > 100 {
		return 100
	}
	return q
}
