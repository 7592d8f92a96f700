// Package containertest synthesises HEIF containers and test images.
package containertest

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"time"

	"github.com/Eyevinn/mp4ff/mp4"
)

// Item describes one image item of a synthesised file.
type Item struct {
	// Type defaults to "hvc1".
	Type   string
	Data   []byte
	Width  int
	Height int
	Hidden bool

	// Rotation adds an irot property with this many anticlockwise quarter
	// turns when non-zero.
	Rotation int
	// Mirror adds an imir property; MirrorAxis 0 flips left-right, 1 top-bottom.
	Mirror     bool
	MirrorAxis int

	// ThumbnailOf marks the item as thumbnail of Items[ThumbnailOf-1].
	ThumbnailOf int
}

// File describes a synthesised HEIF file.
type File struct {
	// MajorBrand defaults to "heic".
	MajorBrand string
	Compatible []string

	Items []Item
	// Primary indexes Items.
	Primary int

	// Durations adds an image sequence track with one sample per entry.
	Durations []time.Duration
	// Timescale of the sequence track, default 1000.
	Timescale uint32

	// EXIF adds an Exif item with this payload after the 4-byte header offset.
	EXIF []byte

	// WideIDs writes 32-bit item IDs: pitm v1, iinf v1 with infe v3, iref v1,
	// ipma v1 and iloc v2.
	WideIDs bool
}

// Build returns the bytes of f: ftyp, meta, an optional moov and mdat.
func Build(f File) []byte {
	brand := f.MajorBrand
	if brand == "" {
		brand = "heic"
	}
	compat := f.Compatible
	if compat == nil {
		compat = []string{"mif1", brand}
	}
	ftypBody := []byte(brand)
	ftypBody = binary.BigEndian.AppendUint32(ftypBody, 0)
	for _, c := range compat {
		ftypBody = append(ftypBody, c...)
	}
	ftyp := Box("ftyp", ftypBody)

	var moov []byte
	if len(f.Durations) > 0 {
		moov = sequence(f.Durations, f.Timescale)
	}

	// Item data is laid out back to back in mdat; iloc offsets depend on
	// where mdat starts, which depends on the meta size, which does not
	// depend on the offset values.
	var payload [][]byte
	for _, it := range f.Items {
		payload = append(payload, it.Data)
	}
	if f.EXIF != nil {
		payload = append(payload, append([]byte{0, 0, 0, 0}, f.EXIF...))
	}
	probe := meta(f, payload, 0)
	base := len(ftyp) + len(probe) + len(moov) + 8

	var out bytes.Buffer
	out.Write(ftyp)
	out.Write(meta(f, payload, base))
	out.Write(moov)
	out.Write(Box("mdat", bytes.Join(payload, nil)))
	return out.Bytes()
}

func meta(f File, payload [][]byte, base int) []byte {
	n := len(f.Items)
	if f.EXIF != nil {
		n++
	}
	var v uint8
	id := func(i int) []byte { return u16(uint16(i + 1)) }
	if f.WideIDs {
		v = 1
		// Above 16 bits so a narrow read cannot pass.
		id = func(i int) []byte { return u32(uint32(i+1) | 0x10000) }
	}

	hdlr := FullBox("hdlr", 0, 0, u32(0), []byte("pict"), make([]byte, 12), []byte("heifcoder\x00"))

	var pitm []byte
	if len(f.Items) > 0 {
		pitm = FullBox("pitm", v, 0, id(f.Primary))
	}

	var infes [][]byte
	for i, it := range f.Items {
		typ := it.Type
		if typ == "" {
			typ = "hvc1"
		}
		var flags uint32
		if it.Hidden {
			flags = 1
		}
		infes = append(infes, infe(f.WideIDs, flags, id(i), typ))
	}
	if f.EXIF != nil {
		infes = append(infes, infe(f.WideIDs, 0, id(len(f.Items)), "Exif"))
	}
	count := u16(uint16(n))
	if f.WideIDs {
		count = u32(uint32(n))
	}
	iinf := FullBox("iinf", v, 0, count, bytes.Join(infes, nil))

	var refs [][]byte
	for i, it := range f.Items {
		if it.ThumbnailOf > 0 {
			refs = append(refs, Box("thmb", id(i), u16(1), id(it.ThumbnailOf-1)))
		}
	}
	if f.EXIF != nil && len(f.Items) > 0 {
		refs = append(refs, Box("cdsc", id(len(f.Items)), u16(1), id(f.Primary)))
	}
	var iref []byte
	if len(refs) > 0 {
		iref = FullBox("iref", v, 0, bytes.Join(refs, nil))
	}

	var props [][]byte
	var entries [][]byte
	for i, it := range f.Items {
		var idx []byte
		if it.Width > 0 || it.Height > 0 {
			props = append(props, FullBox("ispe", 0, 0, u32(uint32(it.Width)), u32(uint32(it.Height))))
			idx = append(idx, byte(len(props)))
		}
		if it.Rotation != 0 {
			props = append(props, Box("irot", []byte{byte(it.Rotation & 3)}))
			idx = append(idx, 0x80|byte(len(props)))
		}
		if it.Mirror {
			props = append(props, Box("imir", []byte{byte(it.MirrorAxis & 1)}))
			idx = append(idx, 0x80|byte(len(props)))
		}
		entries = append(entries, id(i), []byte{byte(len(idx))}, idx)
	}
	iprp := Box("iprp",
		Box("ipco", bytes.Join(props, nil)),
		FullBox("ipma", v, 0, u32(uint32(len(f.Items))), bytes.Join(entries, nil)))

	// iloc v0: offset_size 4, length_size 4, base_offset_size 0. The wide
	// layout is v2 with base_offset_size 4, carrying the mdat start there.
	loc := [][]byte{{0x44, 0x00}, u16(uint16(len(payload)))}
	off := base
	if f.WideIDs {
		loc = [][]byte{{0x44, 0x40}, u32(uint32(len(payload)))}
		off = 0
	}
	for i, p := range payload {
		loc = append(loc, id(i), u16(0))
		if f.WideIDs {
			loc = append(loc, u16(0), u32(uint32(base)))
		}
		loc = append(loc, u16(1), u32(uint32(off)), u32(uint32(len(p))))
		off += len(p)
	}
	ilocVersion := uint8(0)
	if f.WideIDs {
		ilocVersion = 2
	}
	iloc := FullBox("iloc", ilocVersion, 0, loc...)

	return FullBox("meta", 0, 0, hdlr, pitm, iinf, iref, iprp, iloc)
}

// infe returns an item info entry: version 2 with a 16-bit ID, or version 3
// when wide. mime and uri items carry the strings their types require.
func infe(wide bool, flags uint32, id []byte, typ string) []byte {
	v := uint8(2)
	if wide {
		v = 3
	}
	body := [][]byte{id, u16(0), []byte(typ), {0}}
	switch typ {
	case "mime":
		body = append(body, []byte("application/rdf+xml\x00"))
	case "uri ":
		body = append(body, []byte("urn:heifcoder:test\x00"))
	}
	return FullBox("infe", v, flags, body...)
}

func sequence(durations []time.Duration, timescale uint32) []byte {
	if timescale == 0 {
		timescale = 1000
	}
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(timescale, "video", "und")
	trak := init.Moov.Trak
	trak.Mdia.Hdlr.HandlerType = "pict"

	stbl := trak.Mdia.Minf.Stbl
	if stbl.Stts == nil {
		stbl.AddChild(&mp4.SttsBox{})
	}
	if stbl.Stsz == nil {
		stbl.AddChild(&mp4.StszBox{})
	}
	for _, d := range durations {
		stbl.Stts.SampleCount = append(stbl.Stts.SampleCount, 1)
		stbl.Stts.SampleTimeDelta = append(stbl.Stts.SampleTimeDelta,
			uint32(uint64(d)*uint64(timescale)/uint64(time.Second)))
	}
	stbl.Stsz.SampleUniformSize = 1
	stbl.Stsz.SampleNumber = uint32(len(durations))

	var buf bytes.Buffer
	if err := init.Moov.Encode(&buf); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Box returns a box of type typ around the concatenated payload.
func Box(typ string, payload ...[]byte) []byte {
	body := bytes.Join(payload, nil)
	out := u32(uint32(len(body) + 8))
	out = append(out, typ...)
	return append(out, body...)
}

// FullBox returns a full box with the given version and flags.
func FullBox(typ string, version uint8, flags uint32, payload ...[]byte) []byte {
	hdr := u32(uint32(version)<<24 | flags&0xffffff)
	return Box(typ, append([][]byte{hdr}, payload...)...)
}

// TIFFOrientation returns a big-endian TIFF structure whose first IFD holds
// only the orientation tag.
func TIFFOrientation(orientation int) []byte {
	b := []byte("MM\x00*")
	b = append(b, u32(8)...)
	b = append(b, u16(1)...)
	// tag 0x0112, type SHORT, count 1, value left-justified.
	b = append(b, u16(0x0112)...)
	b = append(b, u16(3)...)
	b = append(b, u32(1)...)
	b = append(b, u16(uint16(orientation))...)
	b = append(b, 0, 0)
	return append(b, u32(0)...)
}

// Image returns a w×h image filled with bg and a checker of white and black
// dots every 50 pixels.
func Image(w, h int, bg color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, bg)
		}
	}
	for y := 0; y < h; y += 50 {
		for x := 0; x < w; x += 50 {
			if (x/50+y/50)%2 == 0 {
				img.SetNRGBA(x, y, color.NRGBA{255, 255, 255, 255})
			} else {
				img.SetNRGBA(x, y, color.NRGBA{0, 0, 0, 255})
			}
		}
	}
	return img
}

func u16(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }
func u32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }
