package container

import (
	"errors"
	"fmt"
	"io"
	"time"

	"go4.org/media/heif/bmff"
)

var (
	// ErrNotHEIF is returned by Probe when data has no ftyp box.
	ErrNotHEIF = errors.New("container: missing ftyp box")
	// ErrBadItem is returned for item boxes whose fields contradict each other.
	ErrBadItem = errors.New("container: invalid item description")
)

// nonImageTypes are item types that never hold a coded image.
var nonImageTypes = map[string]bool{
	"":     true,
	"Exif": true,
	"mime": true,
	"uri ": true,
	"hvt1": true, // tile track samples, not items
}

// NoMirror marks an item without an imir property.
const NoMirror = -1

// Extent is a byte range of an item's data, absolute in the file.
type Extent struct {
	Offset int
	Length int
}

// Item is one entry of the item information box with its properties.
type Item struct {
	ID     uint32
	Type   string
	Hidden bool

	// Width and Height come from the ispe property, zero when absent.
	Width, Height int

	// Rotation is the irot angle in anticlockwise quarter turns.
	Rotation int
	// Mirror is the imir axis: 0 vertical axis (left-right flip), 1
	// horizontal axis (top-bottom flip) or NoMirror.
	Mirror int

	Extents []Extent
}

// HasTransform reports whether the item carries irot or imir.
func (it *Item) HasTransform() bool { return it.Rotation != 0 || it.Mirror != NoMirror }

// Track is the image sequence track of a file.
type Track struct {
	Timescale uint32
	// Durations holds one entry per declared sample, in presentation order.
	Durations []time.Duration
}

// Info is what Probe learns about a HEIF container without decoding pixels.
type Info struct {
	MajorBrand       string
	CompatibleBrands []string

	PrimaryID uint32
	// Items lists every item in iinf order.
	Items []*Item
	// TopLevel lists the displayable images, primary first.
	TopLevel []*Item

	// Sequence is nil when the file has no image sequence track.
	Sequence *Track

	// EXIFOrientation is the EXIF orientation tag (1..8), 0 when absent.
	EXIFOrientation int
}

// ImageCount is the number of images the container declares: the samples of
// its sequence track when it has one, otherwise its top-level items.
func (i *Info) ImageCount() int {
	if i.Sequence != nil {
		return len(i.Sequence.Durations)
	}
	return len(i.TopLevel)
}

// Animated reports whether the container declares a multi-image sequence.
func (i *Info) Animated() bool { return i.Sequence != nil && len(i.Sequence.Durations) > 1 }

// SequenceBrand reports whether the major or a compatible brand marks an
// image sequence file.
func (i *Info) SequenceBrand() bool {
	if IsSequenceBrand(i.MajorBrand) {
		return true
	}
	for _, b := range i.CompatibleBrands {
		if IsSequenceBrand(b) {
			return true
		}
	}
	return false
}

// Primary returns the primary item, or nil.
func (i *Info) Primary() *Item { return i.Item(i.PrimaryID) }

// Item returns the item with the given ID, or nil.
func (i *Info) Item(id uint32) *Item {
	for _, it := range i.Items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// Duration returns the declared duration of image n, zero when unknown.
func (i *Info) Duration(n int) time.Duration {
	if i.Sequence == nil || n < 0 || n >= len(i.Sequence.Durations) {
		return 0
	}
	return i.Sequence.Durations[n]
}

// ItemData returns the bytes of it, concatenating its extents. Single-extent
// items share memory with data.
func ItemData(data []byte, it *Item) ([]byte, error) {
	if len(it.Extents) == 1 {
		e := it.Extents[0]
		return data[e.Offset : e.Offset+e.Length], nil
	}
	var out []byte
	for _, e := range it.Extents {
		out = append(out, data[e.Offset:e.Offset+e.Length]...)
	}
	if out == nil {
		return nil, fmt.Errorf("item %d has no data: %w", it.ID, ErrBadItem)
	}
	return out, nil
}

// Probe parses the box structure of data: brands, items and their
// properties, the sequence track and the EXIF orientation. It does not
// decode any coded image.
func Probe(data []byte) (*Info, error) {
	boxes, err := readBoxes(data, 0)
	if err != nil {
		return nil, err
	}

	info := &Info{}
	var sawFtyp bool
	for _, b := range boxes {
		switch b.typ {
		case "ftyp":
			ft, err := parseAs[*bmff.FileTypeBox](b)
			if err != nil {
				return nil, err
			}
			info.MajorBrand, info.CompatibleBrands = ft.MajorBrand, ft.Compatible
			sawFtyp = true
		case "meta":
			if err := parseMeta(b, data, info); err != nil {
				return nil, fmt.Errorf("meta: %w", err)
			}
		case "moov":
			track, err := parseSequence(b)
			if err != nil {
				return nil, fmt.Errorf("moov: %w", err)
			}
			info.Sequence = track
		}
	}
	if !sawFtyp {
		return nil, ErrNotHEIF
	}

	if hasEXIF(info) {
		info.EXIFOrientation = exifOrientation(data)
	}
	return info, nil
}

// rawExtent is an iloc extent before idat offsets are known.
type rawExtent struct {
	method int
	offset uint64
	length uint64
}

type reference struct {
	typ  string
	from uint32
	to   []uint32
}

func parseMeta(b box, data []byte, info *Info) error {
	kids, err := b.fullChildren(0)
	if err != nil {
		return err
	}

	var (
		handler   string
		locations = map[uint32][]rawExtent{}
		refs      []reference
		idat      *box
		props     []bmff.Box
		assoc     = map[uint32][]int{}
	)
	for i, k := range kids {
		switch k.typ {
		case "hdlr":
			h, err := parseAs[*bmff.HandlerBox](k)
			if err != nil {
				return err
			}
			handler = h.HandlerType
		case "pitm":
			id, err := primaryItem(k)
			if err != nil {
				return fmt.Errorf("pitm: %w", err)
			}
			info.PrimaryID = id
		case "iinf":
			items, err := parseItemInfo(k)
			if err != nil {
				return fmt.Errorf("iinf: %w", err)
			}
			info.Items = items
		case "iloc":
			if err := parseItemLocation(k, locations); err != nil {
				return fmt.Errorf("iloc: %w", err)
			}
		case "iref":
			r, err := parseItemReferences(k)
			if err != nil {
				return fmt.Errorf("iref: %w", err)
			}
			refs = r
		case "idat":
			idat = &kids[i]
		case "iprp":
			p, a, err := parseItemProperties(k)
			if err != nil {
				return fmt.Errorf("iprp: %w", err)
			}
			props, assoc = p, a
		}
	}
	if handler != "pict" {
		// Not an image meta box; the file may still carry a sequence.
		info.Items = nil
		return nil
	}

	for _, it := range info.Items {
		it.Mirror = NoMirror
		for _, idx := range assoc[it.ID] {
			if idx < 1 || idx > len(props) {
				return fmt.Errorf("item %d property %d of %d: %w", it.ID, idx, len(props), ErrBadItem)
			}
			applyProperty(it, props[idx-1])
		}
		for _, e := range locations[it.ID] {
			ext, err := resolveExtent(e, data, idat)
			if err != nil {
				return fmt.Errorf("item %d: %w", it.ID, err)
			}
			it.Extents = append(it.Extents, ext)
		}
	}

	info.TopLevel = topLevel(info.Items, refs, info.PrimaryID)
	return nil
}

// primaryItem reads pitm. bmff only knows the 16-bit version 0 layout.
func primaryItem(b box) (uint32, error) {
	if b.version() > 0 {
		c := newCursor(b)
		c.fullHeader()
		id := c.u32()
		return id, c.err
	}
	p, err := parseAs[*bmff.PrimaryItemBox](b)
	if err != nil {
		return 0, err
	}
	return uint32(p.ItemID), nil
}

// parseItemInfo reads iinf. The entry count is 32 bit from version 1 on and
// version 3 entries carry 32-bit item IDs, neither of which bmff reads, so
// only version 2 entries go through it.
func parseItemInfo(b box) ([]*Item, error) {
	c := newCursor(b)
	v, _ := c.fullHeader()
	if v == 0 {
		c.u16()
	} else {
		c.u32()
	}
	if c.err != nil {
		return nil, c.err
	}
	entries, err := readBoxes(c.rest(), b.offset+c.off)
	if err != nil {
		return nil, err
	}

	var items []*Item
	for _, e := range entries {
		if e.typ != "infe" {
			continue
		}
		switch e.version() {
		case 2:
			ie, err := parseAs[*bmff.ItemInfoEntry](e)
			if err != nil {
				return nil, err
			}
			items = append(items, &Item{ID: uint32(ie.ItemID), Type: ie.ItemType, Hidden: ie.Flags&1 != 0})
		case 3:
			ec := newCursor(e)
			_, flags := ec.fullHeader()
			it := &Item{Hidden: flags&1 != 0}
			it.ID = ec.u32()
			ec.u16()
			it.Type = ec.fourcc()
			if ec.err != nil {
				return nil, fmt.Errorf("infe: %w", ec.err)
			}
			items = append(items, it)
		}
		// Versions 0 and 1 predate item types and never describe images.
	}
	return items, nil
}

// parseItemLocation reads iloc by hand: bmff drops base_offset and has no
// version 2 with 32-bit item IDs.
func parseItemLocation(b box, out map[uint32][]rawExtent) error {
	c := newCursor(b)
	v, _ := c.fullHeader()
	if v > 2 {
		return fmt.Errorf("version %d: %w", v, ErrBadItem)
	}
	sizes := c.u16()
	offsetSize := int(sizes >> 12)
	lengthSize := int(sizes >> 8 & 0xf)
	baseSize := int(sizes >> 4 & 0xf)
	indexSize := 0
	if v > 0 {
		indexSize = int(sizes & 0xf)
	}

	var count uint32
	if v < 2 {
		count = uint32(c.u16())
	} else {
		count = c.u32()
	}
	for i := uint32(0); i < count && c.err == nil; i++ {
		id := c.id(v == 2)
		method := 0
		if v > 0 {
			method = int(c.u16() & 0xf)
		}
		c.u16() // data_reference_index
		base := c.sized(baseSize)
		n := c.u16()
		for j := uint16(0); j < n && c.err == nil; j++ {
			if indexSize > 0 {
				c.sized(indexSize)
			}
			off := c.sized(offsetSize)
			length := c.sized(lengthSize)
			out[id] = append(out[id], rawExtent{method: method, offset: base + off, length: length})
		}
	}
	return c.err
}

func resolveExtent(e rawExtent, data []byte, idat *box) (Extent, error) {
	var region []byte
	var start int
	switch e.method {
	case 0:
		region, start = data, 0
	case 1:
		if idat == nil {
			return Extent{}, fmt.Errorf("idat extent without idat box: %w", ErrBadItem)
		}
		region, start = idat.body, idat.offset
	default:
		return Extent{}, fmt.Errorf("construction method %d: %w", e.method, ErrBadItem)
	}

	if e.offset > uint64(len(region)) {
		return Extent{}, fmt.Errorf("extent offset %d beyond %d bytes: %w", e.offset, len(region), ErrTruncated)
	}
	length := e.length
	if length == 0 {
		length = uint64(len(region)) - e.offset
	}
	if length > uint64(len(region))-e.offset {
		return Extent{}, fmt.Errorf("extent %d+%d beyond %d bytes: %w", e.offset, length, len(region), ErrTruncated)
	}
	return Extent{Offset: start + int(e.offset), Length: int(length)}, nil
}

func parseItemReferences(b box) ([]reference, error) {
	c := newCursor(b)
	v, _ := c.fullHeader()
	if c.err != nil {
		return nil, c.err
	}
	kids, err := readBoxes(c.rest(), b.offset+c.off)
	if err != nil {
		return nil, err
	}

	var refs []reference
	for _, k := range kids {
		kc := newCursor(k)
		r := reference{typ: k.typ, from: kc.id(v > 0)}
		n := kc.u16()
		for i := uint16(0); i < n && kc.err == nil; i++ {
			r.to = append(r.to, kc.id(v > 0))
		}
		if kc.err != nil {
			return nil, fmt.Errorf("%q: %w", k.typ, kc.err)
		}
		refs = append(refs, r)
	}
	return refs, nil
}

// parseItemProperties returns the ipco property boxes and, per item, the
// 1-based property indices from ipma.
func parseItemProperties(b box) ([]bmff.Box, map[uint32][]int, error) {
	ip, err := parseAs[*bmff.ItemPropertiesBox](b)
	if err != nil {
		return nil, nil, err
	}
	assoc := map[uint32][]int{}
	for _, a := range ip.Associations {
		for _, e := range a.Entries {
			for _, p := range e.Associations {
				if p.Index != 0 {
					assoc[e.ItemID] = append(assoc[e.ItemID], int(p.Index))
				}
			}
		}
	}
	return ip.PropertyContainer.Properties, assoc, nil
}

func applyProperty(it *Item, p bmff.Box) {
	switch p.Type().String() {
	case "ispe":
		if v, err := p.Parse(); err == nil {
			if ispe, ok := v.(*bmff.ImageSpatialExtentsProperty); ok {
				it.Width, it.Height = int(ispe.ImageWidth), int(ispe.ImageHeight)
			}
		}
	case "irot":
		if v, err := p.Parse(); err == nil {
			if rot, ok := v.(*bmff.ImageRotation); ok {
				it.Rotation = int(rot.Angle)
			}
		}
	case "imir":
		// No bmff parser; the axis is the low bit of the only byte.
		var axis [1]byte
		if _, err := io.ReadFull(p.Body(), axis[:]); err == nil {
			it.Mirror = int(axis[0] & 1)
		}
	}
}

// topLevel filters items down to the displayable images: not hidden, not a
// thumbnail or auxiliary image of another item, not a tile of a derived
// image. The primary item comes first, the rest keep iinf order.
func topLevel(items []*Item, refs []reference, primary uint32) []*Item {
	excluded := map[uint32]bool{}
	for _, r := range refs {
		switch r.typ {
		case "thmb", "auxl":
			excluded[r.from] = true
		case "dimg":
			for _, id := range r.to {
				excluded[id] = true
			}
		}
	}

	var out []*Item
	for _, it := range items {
		if it.Hidden || excluded[it.ID] || nonImageTypes[it.Type] {
			continue
		}
		if it.ID == primary {
			out = append([]*Item{it}, out...)
			continue
		}
		out = append(out, it)
	}
	return out
}

func hasEXIF(info *Info) bool {
	for _, it := range info.Items {
		if it.Type == "Exif" {
			return true
		}
	}
	return false
}
