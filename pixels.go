package heifcoder

import (
	"image"

	"golang.org/x/image/draw"
)

// toNRGBA returns img as 8-bit straight-alpha NRGBA anchored at the origin.
// Images already in that form are returned as is.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// validSize reports whether img has pixels.
func validSize(img image.Image) bool {
	b := img.Bounds()
	return b.Dx() > 0 && b.Dy() > 0
}
