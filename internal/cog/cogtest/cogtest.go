// Package cogtest builds small synthetic cloud-optimized GeoTIFFs in memory
// for tests. The files are classic little-endian TIFFs: header, IFD chain
// (full resolution first, then overviews), out-of-line arrays, then tile
// data.
package cogtest

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// Options describes the file to synthesize.
type Options struct {
	Width      int
	Height     int
	TileWidth  int // default 64
	TileHeight int // default 64
	Bands      int // default 1

	// DType is one of uint8 (default), uint16, int16, float32.
	DType string

	Deflate   bool // zlib-compress tile payloads
	Predictor bool // horizontal differencing (integer types only)
	Striped   bool // write one strip instead of tiles

	// SparseTiles lists full-resolution tile indices whose offset and byte
	// count are written as zero, the sparse-COG convention for empty tiles.
	SparseTiles []int

	// CompressionCode overrides the compression tag while leaving payloads
	// as configured, for exercising unsupported-scheme handling.
	CompressionCode uint16

	// Overviews lists downsample factors for reduced-resolution IFDs,
	// e.g. []int{2, 4}.
	Overviews []int

	// PixelScale > 0 adds georeferencing: CRS units per full-resolution
	// pixel anchored at (OriginX, OriginY).
	PixelScale float64
	OriginX    float64
	OriginY    float64
	EPSG       int

	// Sample produces the value of band b at full-resolution pixel (x, y).
	// The default is a deterministic gradient.
	Sample func(b, x, y int) float64
}

// Build serializes the TIFF described by o. It panics on malformed options;
// this is test infrastructure.
func Build(o Options) []byte {
	fillDefaults(&o)

	factors := append([]int{1}, o.Overviews...)
	levels := make([]*level, len(factors))
	for i, f := range factors {
		levels[i] = buildLevel(&o, f, i > 0)
	}

	// Header and IFD blocks come first.
	offset := int64(8)
	for _, lv := range levels {
		lv.ifdOffset = offset
		offset += int64(2 + len(lv.entries)*12 + 4)
	}

	// Then out-of-line entry data.
	for _, lv := range levels {
		for _, e := range lv.entries {
			if len(e.data) > 4 {
				e.extOffset = offset
				offset += int64(pad2(len(e.data)))
			}
		}
	}

	// Then tile payloads.
	for li, lv := range levels {
		for ti, payload := range lv.tiles {
			if li == 0 && containsInt(o.SparseTiles, ti) {
				continue
			}
			putU32(lv.offsetsEntry.data, ti, uint32(offset))
			putU32(lv.countsEntry.data, ti, uint32(len(payload)))
			offset += int64(pad2(len(payload)))
		}
	}

	var buf bytes.Buffer
	buf.WriteString("II")
	writeU16(&buf, 42)
	writeU32(&buf, uint32(levels[0].ifdOffset))

	for i, lv := range levels {
		writeU16(&buf, uint16(len(lv.entries)))
		for _, e := range lv.entries {
			writeU16(&buf, e.tag)
			writeU16(&buf, e.typ)
			writeU32(&buf, e.count)
			if len(e.data) <= 4 {
				var inline [4]byte
				copy(inline[:], e.data)
				buf.Write(inline[:])
			} else {
				writeU32(&buf, uint32(e.extOffset))
			}
		}
		if i+1 < len(levels) {
			writeU32(&buf, uint32(levels[i+1].ifdOffset))
		} else {
			writeU32(&buf, 0)
		}
	}

	for _, lv := range levels {
		for _, e := range lv.entries {
			if len(e.data) > 4 {
				buf.Write(e.data)
				if len(e.data)%2 == 1 {
					buf.WriteByte(0)
				}
			}
		}
	}
	for li, lv := range levels {
		for ti, payload := range lv.tiles {
			if li == 0 && containsInt(o.SparseTiles, ti) {
				continue
			}
			buf.Write(payload)
			if len(payload)%2 == 1 {
				buf.WriteByte(0)
			}
		}
	}

	return buf.Bytes()
}

// WriteFile builds the TIFF and drops it into dir under name, returning the
// full path.
func WriteFile(t testing.TB, dir, name string, o Options) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, Build(o), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func fillDefaults(o *Options) {
	if o.Width <= 0 || o.Height <= 0 {
		panic("cogtest: width and height are required")
	}
	if o.TileWidth == 0 {
		o.TileWidth = 64
	}
	if o.TileHeight == 0 {
		o.TileHeight = 64
	}
	if o.Bands == 0 {
		o.Bands = 1
	}
	if o.DType == "" {
		o.DType = "uint8"
	}
	if o.Sample == nil {
		o.Sample = func(b, x, y int) float64 {
			return float64((x + 2*y + 50*b) % 256)
		}
	}
}

// TIFF structure constants, local to the builder.
const (
	typShort  = 3
	typLong   = 4
	typDouble = 12
)

type entry struct {
	tag       uint16
	typ       uint16
	count     uint32
	data      []byte
	extOffset int64
}

type level struct {
	entries      []*entry
	tiles        [][]byte
	offsetsEntry *entry
	countsEntry  *entry
	ifdOffset    int64
}

func buildLevel(o *Options, factor int, overview bool) *level {
	w := (o.Width + factor - 1) / factor
	h := (o.Height + factor - 1) / factor
	ss, format := sampleLayout(o.DType)

	lv := &level{}
	add := func(e *entry) { lv.entries = append(lv.entries, e) }

	if overview {
		add(longEntry(254, 1)) // reduced-resolution image
	}
	add(longEntry(256, uint32(w)))
	add(longEntry(257, uint32(h)))
	add(shortsEntry(258, repeatU16(uint16(ss*8), o.Bands)))
	compression := uint16(1)
	if o.Deflate {
		compression = 8
	}
	if o.CompressionCode != 0 {
		compression = o.CompressionCode
	}
	add(shortsEntry(259, []uint16{compression}))
	add(shortsEntry(262, []uint16{1})) // BlackIsZero

	numTiles := 1
	if o.Striped {
		lv.tiles = [][]byte{encodeRegion(o, factor, 0, 0, w, h, w, h)}
	} else {
		across := (w + o.TileWidth - 1) / o.TileWidth
		down := (h + o.TileHeight - 1) / o.TileHeight
		numTiles = across * down
		for tj := 0; tj < down; tj++ {
			for ti := 0; ti < across; ti++ {
				lv.tiles = append(lv.tiles,
					encodeRegion(o, factor, ti*o.TileWidth, tj*o.TileHeight, o.TileWidth, o.TileHeight, w, h))
			}
		}
	}

	lv.offsetsEntry = &entry{typ: typLong, count: uint32(numTiles), data: make([]byte, 4*numTiles)}
	lv.countsEntry = &entry{typ: typLong, count: uint32(numTiles), data: make([]byte, 4*numTiles)}
	if o.Striped {
		lv.offsetsEntry.tag = 273
		lv.countsEntry.tag = 279
		add(lv.offsetsEntry)
		add(shortsEntry(277, []uint16{uint16(o.Bands)}))
		add(longEntry(278, uint32(h)))
		add(lv.countsEntry)
	} else {
		add(shortsEntry(277, []uint16{uint16(o.Bands)}))
	}
	add(shortsEntry(284, []uint16{1})) // chunky

	if o.Predictor {
		add(shortsEntry(317, []uint16{2}))
	}

	if !o.Striped {
		lv.offsetsEntry.tag = 324
		lv.countsEntry.tag = 325
		add(longEntry(322, uint32(o.TileWidth)))
		add(longEntry(323, uint32(o.TileHeight)))
		add(lv.offsetsEntry)
		add(lv.countsEntry)
	}

	add(shortsEntry(339, repeatU16(format, o.Bands)))

	if !overview && o.PixelScale > 0 {
		add(doublesEntry(33550, []float64{o.PixelScale, o.PixelScale, 0}))
		add(doublesEntry(33922, []float64{0, 0, 0, o.OriginX, o.OriginY, 0}))
		if o.EPSG > 0 {
			add(shortsEntry(34735, []uint16{1, 1, 0, 1, 3072, 0, 1, uint16(o.EPSG)}))
		}
	}

	sortEntries(lv.entries)
	return lv
}

// encodeRegion produces the payload of one tile (or strip) anchored at
// (x0, y0) in level coordinates. Pixels outside the level are zero padding.
func encodeRegion(o *Options, factor, x0, y0, rw, rh, levelW, levelH int) []byte {
	ss, _ := sampleLayout(o.DType)
	buf := make([]byte, rw*rh*o.Bands*ss)
	le := binary.LittleEndian

	for y := 0; y < rh; y++ {
		for x := 0; x < rw; x++ {
			gx, gy := x0+x, y0+y
			if gx >= levelW || gy >= levelH {
				continue
			}
			for b := 0; b < o.Bands; b++ {
				v := o.Sample(b, gx*factor, gy*factor)
				off := ((y*rw+x)*o.Bands + b) * ss
				switch o.DType {
				case "uint8":
					buf[off] = uint8(clip(v, 0, 255))
				case "uint16":
					le.PutUint16(buf[off:], uint16(clip(v, 0, 65535)))
				case "int16":
					le.PutUint16(buf[off:], uint16(int16(clip(v, -32768, 32767))))
				case "float32":
					le.PutUint32(buf[off:], math.Float32bits(float32(v)))
				default:
					panic(fmt.Sprintf("cogtest: unknown dtype %q", o.DType))
				}
			}
		}
	}

	if o.Predictor {
		applyPredictor(buf, o, rw, rh, ss)
	}
	if o.Deflate {
		var z bytes.Buffer
		zw := zlib.NewWriter(&z)
		zw.Write(buf)
		zw.Close()
		return z.Bytes()
	}
	return buf
}

// applyPredictor performs forward horizontal differencing, the inverse of
// what readers undo.
func applyPredictor(buf []byte, o *Options, rw, rh, ss int) {
	le := binary.LittleEndian
	spp := o.Bands
	switch ss {
	case 1:
		rowLen := rw * spp
		for y := 0; y < rh; y++ {
			row := buf[y*rowLen : (y+1)*rowLen]
			for i := len(row) - 1; i >= spp; i-- {
				row[i] -= row[i-spp]
			}
		}
	case 2:
		rowLen := rw * spp * 2
		for y := 0; y < rh; y++ {
			row := buf[y*rowLen : (y+1)*rowLen]
			for i := len(row) - 2; i >= spp*2; i -= 2 {
				v := le.Uint16(row[i:]) - le.Uint16(row[i-spp*2:])
				le.PutUint16(row[i:], v)
			}
		}
	default:
		panic("cogtest: predictor needs 8- or 16-bit samples")
	}
}

func sampleLayout(dtype string) (size int, format uint16) {
	switch dtype {
	case "uint8":
		return 1, 1
	case "uint16":
		return 2, 1
	case "int16":
		return 2, 2
	case "float32":
		return 4, 3
	default:
		panic(fmt.Sprintf("cogtest: unknown dtype %q", dtype))
	}
}

func longEntry(tag uint16, v uint32) *entry {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, v)
	return &entry{tag: tag, typ: typLong, count: 1, data: data}
}

func shortsEntry(tag uint16, vs []uint16) *entry {
	data := make([]byte, 2*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint16(data[i*2:], v)
	}
	return &entry{tag: tag, typ: typShort, count: uint32(len(vs)), data: data}
}

func doublesEntry(tag uint16, vs []float64) *entry {
	data := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(data[i*8:], math.Float64bits(v))
	}
	return &entry{tag: tag, typ: typDouble, count: uint32(len(vs)), data: data}
}

func repeatU16(v uint16, n int) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func sortEntries(entries []*entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].tag > entries[j].tag; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func pad2(n int) int {
	if n%2 == 1 {
		return n + 1
	}
	return n
}

func containsInt(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func putU32(data []byte, i int, v uint32) {
	binary.LittleEndian.PutUint32(data[i*4:], v)
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}
