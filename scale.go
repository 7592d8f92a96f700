package heifcoder

import (
	"image"

	"github.com/nfnt/resize"
)

// limits returns the bound for each axis of a w×h image; zero or negative
// components of bound do not limit their axis.
func limits(w, h int, bound image.Point) (int, int) {
	mw, mh := bound.X, bound.Y
	if mw <= 0 {
		mw = w
	}
	if mh <= 0 {
		mh = h
	}
	return mw, mh
}

// fitWithin scales img down to fit within bound, keeping the aspect ratio.
// Images that already fit are returned unchanged.
func fitWithin(img *image.NRGBA, bound image.Point) *image.NRGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	mw, mh := limits(w, h, bound)
	if w <= mw && h <= mh {
		return img
	}
	// Lanczos3 provides the best quality for photo scaling
	return toNRGBA(resize.Thumbnail(uint(mw), uint(mh), img, resize.Lanczos3))
}

// shrinkTo scales img to bound without keeping the aspect ratio. No axis is
// ever enlarged.
func shrinkTo(img *image.NRGBA, bound image.Point) *image.NRGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	mw, mh := limits(w, h, bound)
	if mw > w {
		mw = w
	}
	if mh > h {
		mh = h
	}
	if mw == w && mh == h {
		return img
	}
	return toNRGBA(resize.Resize(uint(mw), uint(mh), img, resize.Lanczos3))
}
