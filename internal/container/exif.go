package container

import (
	"bytes"

	"github.com/rwcarlsen/goexif/exif"
	"go4.org/media/heif"
)

var (
	tiffBigEndian    = []byte("MM\x00*")
	tiffLittleEndian = []byte("II*\x00")
)

// exifOrientation extracts the EXIF item of a HEIF file and returns its
// orientation tag, or 0 when the file has none or it cannot be read. EXIF is
// optional metadata, so failures are not errors.
func exifOrientation(data []byte) int {
	raw, err := heif.Open(bytes.NewReader(data)).EXIF()
	if err != nil {
		return 0
	}
	return OrientationFromEXIF(raw)
}

// OrientationFromEXIF returns the orientation tag (1..8) of an EXIF payload,
// or 0. The payload may carry the HEIF EXIF item header or an "Exif\0\0"
// prefix in front of the TIFF structure.
func OrientationFromEXIF(raw []byte) int {
	start := bytes.Index(raw, tiffBigEndian)
	if le := bytes.Index(raw, tiffLittleEndian); le >= 0 && (start < 0 || le < start) {
		start = le
	}
	if start < 0 {
		return 0
	}

	x, err := exif.Decode(bytes.NewReader(raw[start:]))
	if x == nil || (err != nil && exif.IsCriticalError(err)) {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 0
	}
	return v
}
