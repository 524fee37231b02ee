package cog

// A TIFF file is a header followed by a chain of Image File Directories
// (IFDs). Each IFD holds 12-byte entries describing one image; in a
// cloud-optimized GeoTIFF the first IFD is the full-resolution image and the
// following ones are reduced-resolution overviews.

const (
	leHeader = "II\x2A\x00" // little-endian header
	beHeader = "MM\x00\x2A" // big-endian header

	ifdEntryLen = 12
)

// Entry data types.
const (
	dtByte     = 1
	dtASCII    = 2
	dtShort    = 3
	dtLong     = 4
	dtRational = 5
	dtSByte    = 6
	dtUndef    = 7
	dtSShort   = 8
	dtSLong    = 9
	dtFloat    = 11
	dtDouble   = 12
)

// Size in bytes of one value of each data type, indexed by type.
var dtSizes = [...]uint32{0, 1, 1, 2, 4, 8, 1, 1, 2, 4, 8, 4, 8}

// Baseline and extension tags.
const (
	tNewSubfileType            = 254
	tImageWidth                = 256
	tImageLength               = 257
	tBitsPerSample             = 258
	tCompression               = 259
	tPhotometricInterpretation = 262
	tStripOffsets              = 273
	tSamplesPerPixel           = 277
	tRowsPerStrip              = 278
	tStripByteCounts           = 279
	tPlanarConfiguration       = 284
	tPredictor                 = 317
	tTileWidth                 = 322
	tTileLength                = 323
	tTileOffsets               = 324
	tTileByteCounts            = 325
	tSampleFormat              = 339

	// GeoTIFF tags.
	tModelPixelScale = 33550
	tModelTiepoint   = 33922
	tGeoKeyDirectory = 34735
)

// Compression schemes.
const (
	cNone       = 1
	cLZW        = 5
	cDeflate    = 8
	cPackBits   = 32773
	cDeflateOld = 32946
)

// Predictors.
const (
	prNone       = 1
	prHorizontal = 2
	prFloat      = 3
)

// Sample formats.
const (
	sfUint  = 1
	sfInt   = 2
	sfFloat = 3
)

// NewSubfileType bits.
const (
	subfileReducedImage = 0x1
	subfileMask         = 0x4
)

// GeoKey IDs (stored inside the GeoKeyDirectory tag).
const (
	gkGeographicType = 2048
	gkProjectedCS    = 3072
)
