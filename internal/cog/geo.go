package cog

import "fmt"

// GeoTransform places pixel space into the dataset's CRS. Only axis-aligned
// north-up rasters are modeled: X grows with columns by ScaleX, Y shrinks with
// rows by ScaleY (both scales positive).
type GeoTransform struct {
	OriginX float64
	OriginY float64
	ScaleX  float64
	ScaleY  float64
}

// Extent is an axis-aligned bounding box in CRS units.
type Extent struct {
	MinX float64 `json:"minx"`
	MinY float64 `json:"miny"`
	MaxX float64 `json:"maxx"`
	MaxY float64 `json:"maxy"`
}

// Intersects reports whether two extents overlap.
func (e Extent) Intersects(o Extent) bool {
	return e.MinX < o.MaxX && o.MinX < e.MaxX && e.MinY < o.MaxY && o.MinY < e.MaxY
}

// PixelToCRS maps a (col, row) position at full resolution to CRS units.
func (g *GeoTransform) PixelToCRS(col, row float64) (x, y float64) {
	return g.OriginX + col*g.ScaleX, g.OriginY - row*g.ScaleY
}

// CRSToPixel maps CRS coordinates to a fractional (col, row) at full
// resolution.
func (g *GeoTransform) CRSToPixel(x, y float64) (col, row float64) {
	return (x - g.OriginX) / g.ScaleX, (g.OriginY - y) / g.ScaleY
}

// Extent returns the CRS bounding box of a w x h raster under this transform.
func (g *GeoTransform) Extent(w, h int) Extent {
	return Extent{
		MinX: g.OriginX,
		MaxX: g.OriginX + float64(w)*g.ScaleX,
		MaxY: g.OriginY,
		MinY: g.OriginY - float64(h)*g.ScaleY,
	}
}

// readGeo extracts the geotransform and CRS code from the main IFD. Missing
// tags are not an error: the raster just has no georeferencing and endpoints
// needing it refuse to serve.
func (r *Reader) readGeo(p *parser, ifd map[uint16]ifdEntry) error {
	scaleEntry, haveScale := ifd[tModelPixelScale]
	tieEntry, haveTie := ifd[tModelTiepoint]

	if haveScale && haveTie {
		scale, err := p.entryDoubles(scaleEntry)
		if err != nil {
			return err
		}
		tie, err := p.entryDoubles(tieEntry)
		if err != nil {
			return err
		}
		if len(scale) < 2 || len(tie) < 6 {
			return fmt.Errorf("%w: malformed georeferencing tags", ErrUnsupportedFormat)
		}
		if scale[0] <= 0 || scale[1] == 0 {
			return fmt.Errorf("%w: non-positive pixel scale", ErrUnsupportedFormat)
		}
		sy := scale[1]
		if sy < 0 {
			sy = -sy
		}
		// Tiepoint maps raster point (i, j) onto CRS point (x, y).
		i, j, x, y := tie[0], tie[1], tie[3], tie[4]
		r.Geo = &GeoTransform{
			OriginX: x - i*scale[0],
			OriginY: y + j*sy,
			ScaleX:  scale[0],
			ScaleY:  sy,
		}
	}

	if e, ok := ifd[tGeoKeyDirectory]; ok {
		keys, err := p.entryUints(e)
		if err != nil {
			return err
		}
		r.EPSG = epsgFromGeoKeys(keys)
	}
	return nil
}

// epsgFromGeoKeys pulls the CRS code out of a GeoKeyDirectory: the projected
// CS code when present, otherwise the geographic one. The directory is a
// 4-short header followed by 4-short key records.
func epsgFromGeoKeys(dir []uint64) int {
	if len(dir) < 4 {
		return 0
	}
	count := int(dir[3])
	geographic := 0
	for k := 0; k < count; k++ {
		rec := dir[4+k*4:]
		if len(rec) < 4 {
			break
		}
		keyID, location, value := rec[0], rec[1], rec[3]
		if location != 0 {
			continue // value stored in another tag; not a bare code
		}
		switch keyID {
		case gkProjectedCS:
			return int(value)
		case gkGeographicType:
			geographic = int(value)
		}
	}
	return geographic
}
