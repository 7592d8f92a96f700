package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"go4.org/media/heif/bmff"
)

// ErrTruncated is returned when a box header or payload runs past the end
// of the data it was read from.
var ErrTruncated = errors.New("container: truncated box")

// box is one ISO-BMFF box. body excludes the header; offset is the absolute
// file offset of body[0]. raw is the whole box, header included.
type box struct {
	typ    string
	body   []byte
	offset int
	raw    []byte
}

// readBoxes splits b into consecutive boxes. base is the absolute offset of b[0].
func readBoxes(b []byte, base int) ([]box, error) {
	var boxes []box
	pos := 0
	for pos < len(b) {
		if len(b)-pos < 8 {
			return nil, fmt.Errorf("box header at %d: %w", base+pos, ErrTruncated)
		}
		size := uint64(binary.BigEndian.Uint32(b[pos:]))
		typ := string(b[pos+4 : pos+8])
		hdr := 8
		switch size {
		case 0:
			size = uint64(len(b) - pos)
		case 1:
			if len(b)-pos < 16 {
				return nil, fmt.Errorf("%q largesize at %d: %w", typ, base+pos, ErrTruncated)
			}
			size = binary.BigEndian.Uint64(b[pos+8:])
			hdr = 16
		}
		if size < uint64(hdr) || size > uint64(len(b)-pos) {
			return nil, fmt.Errorf("%q of size %d at %d: %w", typ, size, base+pos, ErrTruncated)
		}
		end := pos + int(size)
		boxes = append(boxes, box{typ: typ, body: b[pos+hdr : end], offset: base + pos + hdr, raw: b[pos:end]})
		pos = end
	}
	return boxes, nil
}

// parseAs decodes b with the go4 bmff parser registered for its type.
func parseAs[T bmff.Box](b box) (T, error) {
	var zero T
	r, err := bmff.NewReader(bytes.NewReader(b.raw)).ReadBox()
	if err != nil {
		return zero, fmt.Errorf("%q: %v: %w", b.typ, err, ErrTruncated)
	}
	parsed, err := r.Parse()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return zero, fmt.Errorf("%q: %w", b.typ, ErrTruncated)
		}
		return zero, fmt.Errorf("%q: %v: %w", b.typ, err, ErrBadItem)
	}
	v, ok := parsed.(T)
	if !ok {
		return zero, fmt.Errorf("%q parsed as %T: %w", b.typ, parsed, ErrBadItem)
	}
	return v, nil
}

// version is the version byte of a full box, 0 when the body is empty.
func (b box) version() uint8 {
	if len(b.body) == 0 {
		return 0
	}
	return b.body[0]
}

// children parses the boxes nested in a plain container box.
func (b box) children() ([]box, error) {
	return readBoxes(b.body, b.offset)
}

// fullChildren parses the boxes nested in a full box (version and flags first).
func (b box) fullChildren(skip int) ([]box, error) {
	if len(b.body) < 4+skip {
		return nil, fmt.Errorf("%q: %w", b.typ, ErrTruncated)
	}
	return readBoxes(b.body[4+skip:], b.offset+4+skip)
}

// cursor reads big-endian fields from a box payload. The first short read
// makes every later read return zero and sets err.
type cursor struct {
	b   []byte
	off int
	err error
}

func newCursor(b box) *cursor { return &cursor{b: b.body} }

func (c *cursor) need(n int) bool {
	if c.err != nil {
		return false
	}
	if n < 0 || len(c.b)-c.off < n {
		c.err = ErrTruncated
		return false
	}
	return true
}

func (c *cursor) u16() uint16 {
	if !c.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(c.b[c.off:])
	c.off += 2
	return v
}

func (c *cursor) u32() uint32 {
	if !c.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(c.b[c.off:])
	c.off += 4
	return v
}

func (c *cursor) u64() uint64 {
	if !c.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(c.b[c.off:])
	c.off += 8
	return v
}

// sized reads an unsigned field of n bytes, n in {0, 4, 8}. Zero-sized
// fields read as 0, as iloc allows.
func (c *cursor) sized(n int) uint64 {
	switch n {
	case 0:
		return 0
	case 4:
		return uint64(c.u32())
	case 8:
		return c.u64()
	}
	if c.err == nil {
		c.err = fmt.Errorf("container: unsupported field size %d", n)
	}
	return 0
}

// id reads an item ID, 16 bit when wide is false.
func (c *cursor) id(wide bool) uint32 {
	if wide {
		return c.u32()
	}
	return uint32(c.u16())
}

func (c *cursor) fourcc() string {
	if !c.need(4) {
		return ""
	}
	v := string(c.b[c.off : c.off+4])
	c.off += 4
	return v
}

// fullHeader reads the version and flags of a full box.
func (c *cursor) fullHeader() (version uint8, flags uint32) {
	v := c.u32()
	return uint8(v >> 24), v & 0xffffff
}

func (c *cursor) rest() []byte {
	if c.err != nil {
		return nil
	}
	return c.b[c.off:]
}
