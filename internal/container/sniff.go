package container

import "encoding/binary"

// MinSignatureLen is the shortest prefix Sniff can classify: the ftyp box
// size, type and major brand.
const MinSignatureLen = 12

// maxSniff caps how much of the ftyp box Sniff reads for compatible brands.
const maxSniff = 256

// hevcBrands are the ftyp brands of HEVC-coded HEIF files.
var hevcBrands = map[string]bool{
	"heic": true, // still image, 8-bit main profile
	"heix": true, // still image, extended profiles
	"heim": true,
	"heis": true,
	"hevc": true, // image sequence
	"hevx": true,
	"hevm": true,
	"hevs": true,
}

// genericBrands only say the file is HEIF; the codec comes from the
// compatible brands.
var genericBrands = map[string]bool{
	"mif1": true,
	"mif2": true,
	"msf1": true,
}

// sequenceBrands mark files whose primary content is an image sequence.
var sequenceBrands = map[string]bool{
	"msf1": true,
	"hevc": true,
	"hevx": true,
	"hevm": true,
	"hevs": true,
}

// Sniff reports whether data begins with the ftyp box of an HEVC-coded HEIF
// file, and returns its major brand. It never reads past the ftyp box and
// returns false for empty, short or truncated input.
func Sniff(data []byte) (string, bool) {
	if len(data) < MinSignatureLen || string(data[4:8]) != "ftyp" {
		return "", false
	}
	major := string(data[8:12])
	if hevcBrands[major] {
		return major, true
	}
	if !genericBrands[major] {
		return "", false
	}

	// major(4) + minor version(4), then compatible brands.
	end := int(binary.BigEndian.Uint32(data))
	if end > len(data) {
		end = len(data)
	}
	if end > maxSniff {
		end = maxSniff
	}
	for pos := 16; pos+4 <= end; pos += 4 {
		if hevcBrands[string(data[pos:pos+4])] {
			return major, true
		}
	}
	return "", false
}

// IsSequenceBrand reports whether brand marks an image sequence file.
func IsSequenceBrand(brand string) bool { return sequenceBrands[brand] }
