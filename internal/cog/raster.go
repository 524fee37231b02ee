package cog

import "fmt"

// DType is the element type of the samples in a raster band.
type DType int

const (
	DTypeUint8 DType = iota + 1
	DTypeUint16
	DTypeInt16
	DTypeFloat32
)

func (d DType) String() string {
	switch d {
	case DTypeUint8:
		return "uint8"
	case DTypeUint16:
		return "uint16"
	case DTypeInt16:
		return "int16"
	case DTypeFloat32:
		return "float32"
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// ByteSize returns the storage size of one sample.
func (d DType) ByteSize() int {
	switch d {
	case DTypeUint8:
		return 1
	case DTypeUint16, DTypeInt16:
		return 2
	case DTypeFloat32:
		return 4
	}
	return 0
}

// Range returns the representable value range, or ok=false for floating point
// types where the full range is not a useful display default.
func (d DType) Range() (min, max float64, ok bool) {
	switch d {
	case DTypeUint8:
		return 0, 255, true
	case DTypeUint16:
		return 0, 65535, true
	case DTypeInt16:
		return -32768, 32767, true
	}
	return 0, 0, false
}

// Raster is a decoded window of pixels: one slice of samples per band, row
// major, all converted to float64 so rescaling works uniformly across source
// types. DType records what the samples were stored as.
type Raster struct {
	Width  int
	Height int
	DType  DType
	Bands  [][]float64
}

// NewRaster allocates a zeroed raster.
func NewRaster(width, height, bands int, dtype DType) *Raster {
	r := &Raster{
		Width:  width,
		Height: height,
		DType:  dtype,
		Bands:  make([][]float64, bands),
	}
	for i := range r.Bands {
		r.Bands[i] = make([]float64, width*height)
	}
	return r
}
