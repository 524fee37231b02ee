// Package render turns decoded raster windows into PNG bytes: linear
// intensity rescaling to 8-bit, rio-style color formula post-processing, band
// composition and resampling.
package render

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/kiesman99/cogserve/internal/cog"
)

// ErrBadParam marks user-supplied rendering parameters that cannot be parsed
// or applied; the HTTP layer maps it to a 400.
var ErrBadParam = errors.New("bad render parameter")

// RescaleRange is the input intensity range that maps onto 0..255.
type RescaleRange struct {
	Min float64
	Max float64
}

// ParseRescale parses the rescale query parameter: "min,max" applied to every
// band, or per-band ranges separated by semicolons, "0,4000;0,3000;0,2500".
func ParseRescale(s string) ([]RescaleRange, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ";")
	ranges := make([]RescaleRange, 0, len(parts))
	for _, part := range parts {
		fields := strings.Split(part, ",")
		if len(fields) != 2 {
			return nil, fmt.Errorf("%w: rescale range %q is not min,max", ErrBadParam, part)
		}
		min, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: rescale min %q: %v", ErrBadParam, fields[0], err)
		}
		max, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: rescale max %q: %v", ErrBadParam, fields[1], err)
		}
		if max <= min {
			return nil, fmt.Errorf("%w: rescale max %g must exceed min %g", ErrBadParam, max, min)
		}
		ranges = append(ranges, RescaleRange{Min: min, Max: max})
	}
	return ranges, nil
}

// Image8 is an 8-bit multi-band image, the only thing the PNG encoder ever
// sees. Band slices are row major, Width*Height long.
type Image8 struct {
	Width  int
	Height int
	Bands  [][]uint8
}

// Rescale maps raster samples into 0..255 bytes. Values at or below Min
// become 0, values at or above Max become 255, everything between is mapped
// linearly and truncated. With no ranges given, uint8 data passes through
// untouched, integer types use their full representable range and floating
// point data is stretched between its own minimum and maximum.
func Rescale(src *cog.Raster, ranges []RescaleRange) (*Image8, error) {
	bands := len(src.Bands)
	switch len(ranges) {
	case 0:
		ranges = defaultRanges(src)
	case 1:
		all := ranges[0]
		ranges = make([]RescaleRange, bands)
		for i := range ranges {
			ranges[i] = all
		}
	case bands:
		// one range per band
	default:
		return nil, fmt.Errorf("%w: %d rescale ranges for %d bands", ErrBadParam, len(ranges), bands)
	}

	out := &Image8{
		Width:  src.Width,
		Height: src.Height,
		Bands:  make([][]uint8, bands),
	}
	for b := 0; b < bands; b++ {
		rr := ranges[b]
		span := rr.Max - rr.Min
		dst := make([]uint8, len(src.Bands[b]))
		for i, v := range src.Bands[b] {
			switch {
			case math.IsNaN(v), v <= rr.Min:
				// dst[i] stays 0
			case v >= rr.Max:
				dst[i] = 255
			default:
				dst[i] = uint8((v - rr.Min) * 255 / span)
			}
		}
		out.Bands[b] = dst
	}
	return out, nil
}

func defaultRanges(src *cog.Raster) []RescaleRange {
	if min, max, ok := src.DType.Range(); ok {
		ranges := make([]RescaleRange, len(src.Bands))
		for i := range ranges {
			ranges[i] = RescaleRange{Min: min, Max: max}
		}
		return ranges
	}

	// Floating point: stretch each band over its own data range.
	ranges := make([]RescaleRange, len(src.Bands))
	for b, samples := range src.Bands {
		min, max := math.Inf(1), math.Inf(-1)
		for _, v := range samples {
			if math.IsNaN(v) {
				continue
			}
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		if !(min < max) {
			min, max = 0, 1
		}
		ranges[b] = RescaleRange{Min: min, Max: max}
	}
	return ranges
}
