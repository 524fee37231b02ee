package cog

import "fmt"

// Report is the outcome of a COG layout check. Errors make the file unusable
// for efficient ranged reads; warnings only cost performance.
type Report struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`

	Tiled         bool   `json:"tiled"`
	Overviews     int    `json:"overviews"`
	TileWidth     int    `json:"tile_width,omitempty"`
	TileHeight    int    `json:"tile_height,omitempty"`
	Georeferenced bool   `json:"georeferenced"`
	DType         string `json:"dtype"`
}

const (
	// A main IFD further into the file than this forces an extra round trip
	// before the first tile can be located.
	headerBudget = headerPrefetch

	// Past this size a raster without overviews cannot serve low zoom levels
	// from a reasonable amount of data.
	overviewThreshold = 512

	maxTileDim = 1024
)

// Validate checks the parsed structure against cloud-optimized layout
// expectations.
func (r *Reader) Validate() *Report {
	main := &r.Levels[0]
	rep := &Report{
		Errors:        []string{},
		Warnings:      []string{},
		Tiled:         main.Tiled,
		Overviews:     len(r.Levels) - 1,
		TileWidth:     main.TileWidth,
		TileHeight:    main.TileHeight,
		Georeferenced: r.Geo != nil,
		DType:         r.DType.String(),
	}

	if !main.Tiled {
		rep.Errors = append(rep.Errors, "full-resolution image is striped, not tiled")
	} else {
		if main.TileWidth > maxTileDim || main.TileHeight > maxTileDim {
			rep.Warnings = append(rep.Warnings,
				fmt.Sprintf("tiles are %dx%d; larger than %d costs extra transfer per request",
					main.TileWidth, main.TileHeight, maxTileDim))
		}
		if len(main.tileOffsets) == 0 {
			rep.Errors = append(rep.Errors, "tile index is empty")
		}
	}

	if rep.Overviews == 0 && (main.Width > overviewThreshold || main.Height > overviewThreshold) {
		rep.Warnings = append(rep.Warnings,
			fmt.Sprintf("no overviews for a %dx%d raster", main.Width, main.Height))
	}

	if main.fileOrder != 0 {
		rep.Warnings = append(rep.Warnings,
			"full-resolution IFD is not first in the file")
	}

	if r.firstIFDOffset > headerBudget {
		rep.Warnings = append(rep.Warnings,
			fmt.Sprintf("first IFD sits at offset %d, beyond the expected header region", r.firstIFDOffset))
	}

	for i := range r.Levels {
		lv := &r.Levels[i]
		if lv.Tiled {
			continue
		}
		if i > 0 {
			rep.Warnings = append(rep.Warnings,
				fmt.Sprintf("overview %d is striped", i))
		}
	}

	if r.Geo == nil {
		rep.Warnings = append(rep.Warnings, "no georeferencing tags; tile endpoints cannot serve this file")
	}

	rep.Valid = len(rep.Errors) == 0
	return rep
}
