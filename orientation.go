package heifcoder

import (
	"image"

	"github.com/disintegration/imaging"

	"github.com/skyvense/heifcoder/internal/container"
)

// Orientation is an EXIF orientation value: how stored pixels must be
// transformed for display.
type Orientation int

const (
	OrientationUp            Orientation = 1 // stored as displayed
	OrientationUpMirrored    Orientation = 2
	OrientationDown          Orientation = 3
	OrientationDownMirrored  Orientation = 4
	OrientationLeftMirrored  Orientation = 5
	OrientationRight         Orientation = 6
	OrientationRightMirrored Orientation = 7
	OrientationLeft          Orientation = 8
)

// Valid reports whether o is one of the eight EXIF orientations.
func (o Orientation) Valid() bool { return o >= OrientationUp && o <= OrientationLeft }

// Apply transforms img for display. Unknown orientations return img as is.
func (o Orientation) Apply(img image.Image) image.Image {
	switch o {
	case OrientationUpMirrored:
		// Flip horizontal
		return imaging.FlipH(img)
	case OrientationDown:
		// Rotate 180 degrees
		return imaging.Rotate180(img)
	case OrientationDownMirrored:
		// Flip vertical
		return imaging.FlipV(img)
	case OrientationLeftMirrored:
		// Rotate 90 degrees clockwise and flip horizontal
		return imaging.FlipH(imaging.Rotate270(img))
	case OrientationRight:
		// Rotate 90 degrees clockwise
		return imaging.Rotate270(img)
	case OrientationRightMirrored:
		// Rotate 90 degrees counter-clockwise and flip horizontal
		return imaging.FlipH(imaging.Rotate90(img))
	case OrientationLeft:
		// Rotate 90 degrees counter-clockwise
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// transformOrientation indexes [clockwise quarter turns][mirrored].
var transformOrientation = [4][2]Orientation{
	{OrientationUp, OrientationUpMirrored},
	{OrientationRight, OrientationLeftMirrored},
	{OrientationDown, OrientationDownMirrored},
	{OrientationLeft, OrientationRightMirrored},
}

// fromTransform maps irot (anticlockwise quarter turns) followed by imir
// onto the equivalent EXIF orientation.
func fromTransform(rotation, mirror int) Orientation {
	cw := (4 - rotation&3) % 4
	switch mirror {
	case 0:
		// Mirror about the vertical axis: flip horizontal.
		return transformOrientation[cw][1]
	case 1:
		// A vertical flip is a horizontal flip after a half turn.
		return transformOrientation[(cw+2)%4][1]
	}
	return transformOrientation[cw][0]
}

// containerOrientation returns the display orientation of a container:
// the primary item's irot/imir, else its EXIF orientation tag, else Up.
func containerOrientation(info *container.Info) Orientation {
	if p := info.Primary(); p != nil && p.HasTransform() {
		return fromTransform(p.Rotation, p.Mirror)
	}
	if o := Orientation(info.EXIFOrientation); o.Valid() {
		return o
	}
	return OrientationUp
}
