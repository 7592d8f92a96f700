package heifcoder

import (
	"image"
	"time"
)

// Frame is one decoded image.
type Frame struct {
	// Image is an *image.NRGBA after Decode. Encode accepts any image.Image.
	Image image.Image
	// Duration is the display time, zero for still images.
	Duration time.Duration
	// Orientation tells how to display Image. It is the same for every frame
	// of a sequence.
	Orientation Orientation
}

// Sequence is the ordered frames of one container.
type Sequence struct {
	Frames []Frame
}

// Animated reports whether the sequence holds more than one frame.
func (s *Sequence) Animated() bool { return s != nil && len(s.Frames) > 1 }

// First returns the first frame's image, or nil.
func (s *Sequence) First() image.Image {
	if s == nil || len(s.Frames) == 0 {
		return nil
	}
	return s.Frames[0].Image
}
