package cog

import (
	"bytes"
	"compress/zlib"
	"context"
	"fmt"
	"image"
	"io"
	"math"
)

// ReadWindow decodes the pixels of rect (in level pixel coordinates) from the
// given level. Tiles intersecting the window are fetched, decompressed and
// cropped; tiles with a zero offset or byte count are sparse and read as
// zeros.
func (r *Reader) ReadWindow(ctx context.Context, level int, rect image.Rectangle) (*Raster, error) {
	if level < 0 || level >= len(r.Levels) {
		return nil, fmt.Errorf("level %d out of range (have %d)", level, len(r.Levels))
	}
	lv := &r.Levels[level]
	if !lv.Tiled {
		return nil, fmt.Errorf("%w: image is striped, not tiled", ErrUnsupportedFormat)
	}

	bounds := image.Rect(0, 0, lv.Width, lv.Height)
	rect = rect.Intersect(bounds)
	if rect.Empty() {
		return nil, fmt.Errorf("window outside image bounds")
	}

	out := NewRaster(rect.Dx(), rect.Dy(), r.Bands, r.DType)

	ti0 := rect.Min.X / lv.TileWidth
	tj0 := rect.Min.Y / lv.TileHeight
	ti1 := (rect.Max.X - 1) / lv.TileWidth
	tj1 := (rect.Max.Y - 1) / lv.TileHeight

	for tj := tj0; tj <= tj1; tj++ {
		for ti := ti0; ti <= ti1; ti++ {
			if err := r.readTileInto(ctx, lv, ti, tj, rect, out); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// ReadPreview reads a whole level chosen so the result's longest side is at
// least maxSize when an overview that small exists. The caller downsamples
// the rest of the way.
func (r *Reader) ReadPreview(ctx context.Context, maxSize int) (*Raster, error) {
	if maxSize <= 0 {
		maxSize = 1024
	}
	level := r.levelForSize(maxSize)
	lv := &r.Levels[level]
	return r.ReadWindow(ctx, level, image.Rect(0, 0, lv.Width, lv.Height))
}

func (r *Reader) readTileInto(ctx context.Context, lv *Level, ti, tj int, rect image.Rectangle, out *Raster) error {
	idx := tj*lv.TilesAcross() + ti
	offset := lv.tileOffsets[idx]
	count := lv.tileByteCounts[idx]

	tileRect := image.Rect(
		ti*lv.TileWidth, tj*lv.TileHeight,
		(ti+1)*lv.TileWidth, (tj+1)*lv.TileHeight,
	)
	overlap := tileRect.Intersect(rect)
	if overlap.Empty() {
		return nil
	}

	if offset == 0 || count == 0 {
		return nil // sparse tile, leave zeros
	}

	raw, err := r.src.ReadRange(ctx, int64(offset), int(count))
	if err != nil {
		return fmt.Errorf("tile %d/%d: %w", ti, tj, err)
	}
	if len(raw) < int(count) {
		return fmt.Errorf("tile %d/%d: truncated (%d of %d bytes)", ti, tj, len(raw), count)
	}

	data, err := r.decompress(raw, lv)
	if err != nil {
		return fmt.Errorf("tile %d/%d: %w", ti, tj, err)
	}

	sampleSize := r.DType.ByteSize()
	rowBytes := lv.TileWidth * r.Bands * sampleSize
	need := rowBytes * lv.TileHeight
	if len(data) < need {
		return fmt.Errorf("tile %d/%d: decoded %d bytes, want %d", ti, tj, len(data), need)
	}

	if lv.predictor == prHorizontal {
		if err := r.undoPredictor(data, lv); err != nil {
			return fmt.Errorf("tile %d/%d: %w", ti, tj, err)
		}
	} else if lv.predictor != prNone {
		return fmt.Errorf("%w: predictor %d", ErrUnsupportedFormat, lv.predictor)
	}

	for y := overlap.Min.Y; y < overlap.Max.Y; y++ {
		srcRow := (y - tileRect.Min.Y) * rowBytes
		for x := overlap.Min.X; x < overlap.Max.X; x++ {
			srcPix := srcRow + (x-tileRect.Min.X)*r.Bands*sampleSize
			dst := (y-rect.Min.Y)*out.Width + (x - rect.Min.X)
			for b := 0; b < r.Bands; b++ {
				out.Bands[b][dst] = r.sample(data, srcPix+b*sampleSize)
			}
		}
	}
	return nil
}

func (r *Reader) decompress(raw []byte, lv *Level) ([]byte, error) {
	switch lv.compression {
	case cNone:
		return raw, nil
	case cDeflate, cDeflateOld:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		defer zr.Close()
		data, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("deflate: %w", err)
		}
		return data, nil
	case cLZW:
		return nil, fmt.Errorf("%w: LZW", ErrUnsupportedCompression)
	case cPackBits:
		return nil, fmt.Errorf("%w: PackBits", ErrUnsupportedCompression)
	default:
		return nil, fmt.Errorf("%w: scheme %d", ErrUnsupportedCompression, lv.compression)
	}
}

// undoPredictor reverses horizontal differencing in place. Differencing runs
// per row and per sample channel over the stored sample width.
func (r *Reader) undoPredictor(data []byte, lv *Level) error {
	spp := r.Bands
	switch r.DType {
	case DTypeUint8:
		rowLen := lv.TileWidth * spp
		for y := 0; y < lv.TileHeight; y++ {
			row := data[y*rowLen : (y+1)*rowLen]
			for i := spp; i < len(row); i++ {
				row[i] += row[i-spp]
			}
		}
		return nil
	case DTypeUint16, DTypeInt16:
		rowLen := lv.TileWidth * spp * 2
		for y := 0; y < lv.TileHeight; y++ {
			row := data[y*rowLen : (y+1)*rowLen]
			for i := spp * 2; i < len(row); i += 2 {
				v := r.order.Uint16(row[i:]) + r.order.Uint16(row[i-spp*2:])
				r.order.PutUint16(row[i:], v)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: predictor on %s samples", ErrUnsupportedFormat, r.DType)
	}
}

// sample decodes one stored sample to float64.
func (r *Reader) sample(data []byte, off int) float64 {
	switch r.DType {
	case DTypeUint8:
		return float64(data[off])
	case DTypeUint16:
		return float64(r.order.Uint16(data[off:]))
	case DTypeInt16:
		return float64(int16(r.order.Uint16(data[off:])))
	case DTypeFloat32:
		return float64(math.Float32frombits(r.order.Uint32(data[off:])))
	}
	return 0
}
