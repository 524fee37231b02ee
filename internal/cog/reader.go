// Package cog reads cloud-optimized GeoTIFFs through ranged access: TIFF
// structure parsing, windowed tile reads across overview levels, georeferencing
// tags, and layout validation. Only what a dynamic tile service needs is
// implemented; exotic TIFF features are rejected with typed errors.
package cog

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/kiesman99/cogserve/internal/source"
)

var (
	// ErrUnsupportedFormat covers structurally valid TIFFs this reader does
	// not handle (BigTIFF, planar storage, odd bit depths, >4 bands).
	ErrUnsupportedFormat = errors.New("unsupported raster format")
	// ErrUnsupportedCompression covers compression schemes without a decoder.
	ErrUnsupportedCompression = errors.New("unsupported compression")
	// ErrNotTIFF means the file does not start with a TIFF header at all.
	ErrNotTIFF = errors.New("not a TIFF file")
)

const (
	headerPrefetch = 16 * 1024
	maxIFDs        = 32
	maxBands       = 4
)

// Level is one image in the file: the full-resolution raster or an overview.
type Level struct {
	Width      int
	Height     int
	TileWidth  int
	TileHeight int

	Tiled       bool
	SubfileType uint32

	compression    uint16
	predictor      uint16
	tileOffsets    []uint64
	tileByteCounts []uint64

	fileOrder int // position of this IFD in the on-disk chain
}

// TilesAcross returns how many tile columns the level has.
func (l *Level) TilesAcross() int {
	if l.TileWidth == 0 {
		return 0
	}
	return (l.Width + l.TileWidth - 1) / l.TileWidth
}

// TilesDown returns how many tile rows the level has.
func (l *Level) TilesDown() int {
	if l.TileHeight == 0 {
		return 0
	}
	return (l.Height + l.TileHeight - 1) / l.TileHeight
}

// Reader is a parsed COG. Levels are ordered from full resolution down to the
// smallest overview. The reader keeps the source open; callers own closing it.
type Reader struct {
	src   source.RangeReader
	order binary.ByteOrder

	Bands  int
	DType  DType
	Levels []Level

	Geo  *GeoTransform
	EPSG int

	firstIFDOffset int64
	photometric    uint16
}

// Info is the metadata summary served by the info endpoint.
type Info struct {
	URL        string   `json:"url"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	Bands      int      `json:"bands"`
	DType      string   `json:"dtype"`
	TileWidth  int      `json:"tile_width,omitempty"`
	TileHeight int      `json:"tile_height,omitempty"`
	Overviews  int      `json:"overviews"`
	EPSG       int      `json:"epsg,omitempty"`
	Extent     *Extent  `json:"extent,omitempty"`
	GeoBounds  []float64 `json:"geographic_bounds,omitempty"`
}

// Open parses the TIFF structure of src. The returned reader performs no
// pixel reads yet; those happen in ReadWindow.
func Open(ctx context.Context, src source.RangeReader) (*Reader, error) {
	p := &parser{ctx: ctx, src: src}
	if err := p.init(); err != nil {
		return nil, err
	}

	r := &Reader{
		src:            src,
		order:          p.order,
		firstIFDOffset: p.firstIFD,
	}

	off := p.firstIFD
	for n := 0; off != 0 && n < maxIFDs; n++ {
		ifd, next, err := p.readIFD(off)
		if err != nil {
			return nil, err
		}
		if err := r.addLevel(p, ifd, n); err != nil {
			return nil, err
		}
		off = next
	}
	if len(r.Levels) == 0 {
		return nil, fmt.Errorf("%w: no usable images in file", ErrUnsupportedFormat)
	}

	// Full resolution first, then shrinking overviews.
	sort.SliceStable(r.Levels, func(a, b int) bool {
		return r.Levels[a].Width > r.Levels[b].Width
	})

	return r, nil
}

// addLevel validates one IFD and appends it as a level. Mask images are
// skipped. Format constraints (band count, dtype, planar layout) are enforced
// on the first usable IFD and assumed uniform after that.
func (r *Reader) addLevel(p *parser, ifd map[uint16]ifdEntry, fileOrder int) error {
	subfile := uint32(0)
	if e, ok := ifd[tNewSubfileType]; ok {
		v, err := p.entryUints(e)
		if err != nil {
			return err
		}
		if len(v) > 0 {
			subfile = uint32(v[0])
		}
	}
	if subfile&subfileMask != 0 {
		return nil // transparency masks are not rendered
	}

	width, err := p.entryUint(ifd, tImageWidth)
	if err != nil {
		return err
	}
	height, err := p.entryUint(ifd, tImageLength)
	if err != nil {
		return err
	}
	if width == 0 || height == 0 {
		return fmt.Errorf("%w: zero-sized image", ErrUnsupportedFormat)
	}

	if len(r.Levels) == 0 {
		if err := r.readFormat(p, ifd); err != nil {
			return err
		}
	}

	lv := Level{
		Width:       int(width),
		Height:      int(height),
		SubfileType: subfile,
		compression: uint16(p.entryUintDefault(ifd, tCompression, cNone)),
		predictor:   uint16(p.entryUintDefault(ifd, tPredictor, prNone)),
		fileOrder:   fileOrder,
	}

	if _, tiled := ifd[tTileOffsets]; tiled {
		tw, err := p.entryUint(ifd, tTileWidth)
		if err != nil {
			return err
		}
		th, err := p.entryUint(ifd, tTileLength)
		if err != nil {
			return err
		}
		offsets, err := p.entryUints(ifd[tTileOffsets])
		if err != nil {
			return err
		}
		counts, err := p.entryUints(ifd[tTileByteCounts])
		if err != nil {
			return err
		}
		lv.Tiled = true
		lv.TileWidth = int(tw)
		lv.TileHeight = int(th)
		lv.tileOffsets = offsets
		lv.tileByteCounts = counts

		want := lv.TilesAcross() * lv.TilesDown()
		if len(offsets) < want || len(counts) < want {
			return fmt.Errorf("%w: tile index shorter than grid (%d < %d)", ErrUnsupportedFormat, len(offsets), want)
		}
	}

	if len(r.Levels) == 0 {
		if err := r.readGeo(p, ifd); err != nil {
			return err
		}
	}

	r.Levels = append(r.Levels, lv)
	return nil
}

// readFormat pins down band count and sample type from the main IFD.
func (r *Reader) readFormat(p *parser, ifd map[uint16]ifdEntry) error {
	bands := int(p.entryUintDefault(ifd, tSamplesPerPixel, 1))
	if bands < 1 || bands > maxBands {
		return fmt.Errorf("%w: %d samples per pixel", ErrUnsupportedFormat, bands)
	}

	if planar := p.entryUintDefault(ifd, tPlanarConfiguration, 1); planar != 1 {
		return fmt.Errorf("%w: planar sample layout", ErrUnsupportedFormat)
	}

	bits := uint64(1)
	if e, ok := ifd[tBitsPerSample]; ok {
		vals, err := p.entryUints(e)
		if err != nil {
			return err
		}
		for _, v := range vals[1:] {
			if v != vals[0] {
				return fmt.Errorf("%w: mixed bits per sample", ErrUnsupportedFormat)
			}
		}
		bits = vals[0]
	} else {
		bits = 8
	}

	format := p.entryUintDefault(ifd, tSampleFormat, sfUint)

	switch {
	case bits == 8 && format == sfUint:
		r.DType = DTypeUint8
	case bits == 16 && format == sfUint:
		r.DType = DTypeUint16
	case bits == 16 && format == sfInt:
		r.DType = DTypeInt16
	case bits == 32 && format == sfFloat:
		r.DType = DTypeFloat32
	default:
		return fmt.Errorf("%w: %d-bit samples with format %d", ErrUnsupportedFormat, bits, format)
	}

	r.Bands = bands
	r.photometric = uint16(p.entryUintDefault(ifd, tPhotometricInterpretation, 1))
	return nil
}

// Info assembles the metadata summary for the full-resolution level.
func (r *Reader) Info() *Info {
	main := &r.Levels[0]
	info := &Info{
		URL:        r.src.URL(),
		Width:      main.Width,
		Height:     main.Height,
		Bands:      r.Bands,
		DType:      r.DType.String(),
		TileWidth:  main.TileWidth,
		TileHeight: main.TileHeight,
		Overviews:  len(r.Levels) - 1,
		EPSG:       r.EPSG,
	}
	if r.Geo != nil {
		ext := r.Geo.Extent(main.Width, main.Height)
		info.Extent = &ext
	}
	return info
}

// levelForSize picks the cheapest level whose longest side still reaches
// maxSize pixels, so a downsampled preview never upsamples source data.
func (r *Reader) levelForSize(maxSize int) int {
	for i := len(r.Levels) - 1; i > 0; i-- {
		lv := &r.Levels[i]
		if lv.Width >= maxSize || lv.Height >= maxSize {
			return i
		}
	}
	return 0
}

// LevelForScale picks the coarsest level whose resolution is still at least
// as fine as targetScale (CRS units per output pixel).
func (r *Reader) LevelForScale(targetScale float64) int {
	if r.Geo == nil {
		return 0
	}
	full := float64(r.Levels[0].Width)
	for i := len(r.Levels) - 1; i > 0; i-- {
		scale := r.Geo.ScaleX * full / float64(r.Levels[i].Width)
		if scale <= targetScale*1.0001 {
			return i
		}
	}
	return 0
}
