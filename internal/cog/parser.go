package cog

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/kiesman99/cogserve/internal/source"
)

// parser decodes TIFF structure out of a RangeReader. The first chunk of the
// file is prefetched since header, IFDs and their out-of-line arrays sit at
// the front of a well-formed COG.
type parser struct {
	ctx      context.Context
	src      source.RangeReader
	order    binary.ByteOrder
	firstIFD int64
	prefix   []byte
}

type ifdEntry struct {
	tag      uint16
	typ      uint16
	count    uint32
	inline   []byte // value bytes when they fit into the entry
	valueOff int64  // file offset otherwise
}

func (p *parser) init() error {
	buf, err := p.src.ReadRange(p.ctx, 0, headerPrefetch)
	if err != nil {
		return err
	}
	if len(buf) < 8 {
		return fmt.Errorf("%w: file too short (%d bytes)", ErrNotTIFF, len(buf))
	}
	p.prefix = buf

	switch string(buf[0:4]) {
	case leHeader:
		p.order = binary.LittleEndian
	case beHeader:
		p.order = binary.BigEndian
	default:
		// BigTIFF carries magic 43 in bytes 2-3.
		if string(buf[0:2]) == "II" || string(buf[0:2]) == "MM" {
			return fmt.Errorf("%w: BigTIFF is not supported", ErrUnsupportedFormat)
		}
		return fmt.Errorf("%w: bad magic %x", ErrNotTIFF, buf[0:4])
	}

	p.firstIFD = int64(p.order.Uint32(buf[4:8]))
	if p.firstIFD < 8 {
		return fmt.Errorf("%w: first IFD offset %d", ErrNotTIFF, p.firstIFD)
	}
	return nil
}

// at returns n bytes starting at off, served from the prefetched prefix when
// possible. Short reads are errors here: structure must be complete.
func (p *parser) at(off int64, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if off+int64(n) <= int64(len(p.prefix)) {
		return p.prefix[off : off+int64(n)], nil
	}
	buf, err := p.src.ReadRange(p.ctx, off, n)
	if err != nil {
		return nil, err
	}
	if len(buf) < n {
		return nil, fmt.Errorf("truncated TIFF structure at offset %d: want %d bytes, got %d", off, n, len(buf))
	}
	return buf, nil
}

// readIFD parses the directory at off and returns its entries plus the offset
// of the next directory in the chain (0 when there is none).
func (p *parser) readIFD(off int64) (map[uint16]ifdEntry, int64, error) {
	head, err := p.at(off, 2)
	if err != nil {
		return nil, 0, err
	}
	count := int(p.order.Uint16(head))

	body, err := p.at(off+2, count*ifdEntryLen+4)
	if err != nil {
		return nil, 0, err
	}

	entries := make(map[uint16]ifdEntry, count)
	for i := 0; i < count; i++ {
		raw := body[i*ifdEntryLen : (i+1)*ifdEntryLen]
		e := ifdEntry{
			tag:   p.order.Uint16(raw[0:2]),
			typ:   p.order.Uint16(raw[2:4]),
			count: p.order.Uint32(raw[4:8]),
		}
		if e.typ == 0 || int(e.typ) >= len(dtSizes) {
			continue // unknown type; skip entry
		}
		size := uint64(dtSizes[e.typ]) * uint64(e.count)
		if size <= 4 {
			e.inline = append([]byte(nil), raw[8:8+size]...)
		} else {
			e.valueOff = int64(p.order.Uint32(raw[8:12]))
		}
		entries[e.tag] = e
	}

	next := int64(p.order.Uint32(body[count*ifdEntryLen:]))
	return entries, next, nil
}

func (p *parser) entryData(e ifdEntry) ([]byte, error) {
	if e.inline != nil {
		return e.inline, nil
	}
	return p.at(e.valueOff, int(uint64(dtSizes[e.typ])*uint64(e.count)))
}

// entryUints decodes BYTE, SHORT or LONG values.
func (p *parser) entryUints(e ifdEntry) ([]uint64, error) {
	data, err := p.entryData(e)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, e.count)
	switch e.typ {
	case dtByte:
		for i := range out {
			out[i] = uint64(data[i])
		}
	case dtShort:
		for i := range out {
			out[i] = uint64(p.order.Uint16(data[i*2:]))
		}
	case dtLong:
		for i := range out {
			out[i] = uint64(p.order.Uint32(data[i*4:]))
		}
	default:
		return nil, fmt.Errorf("tag %d: unexpected integer type %d", e.tag, e.typ)
	}
	return out, nil
}

// entryDoubles decodes DOUBLE values.
func (p *parser) entryDoubles(e ifdEntry) ([]float64, error) {
	if e.typ != dtDouble {
		return nil, fmt.Errorf("tag %d: unexpected type %d, want DOUBLE", e.tag, e.typ)
	}
	data, err := p.entryData(e)
	if err != nil {
		return nil, err
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(p.order.Uint64(data[i*8:]))
	}
	return out, nil
}

// entryUint reads a required single-valued integer tag.
func (p *parser) entryUint(ifd map[uint16]ifdEntry, tag uint16) (uint64, error) {
	e, ok := ifd[tag]
	if !ok {
		return 0, fmt.Errorf("%w: missing required tag %d", ErrUnsupportedFormat, tag)
	}
	vals, err := p.entryUints(e)
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, fmt.Errorf("%w: empty tag %d", ErrUnsupportedFormat, tag)
	}
	return vals[0], nil
}

// entryUintDefault reads an optional single-valued integer tag.
func (p *parser) entryUintDefault(ifd map[uint16]ifdEntry, tag uint16, def uint64) uint64 {
	e, ok := ifd[tag]
	if !ok {
		return def
	}
	vals, err := p.entryUints(e)
	if err != nil || len(vals) == 0 {
		return def
	}
	return vals[0]
}
