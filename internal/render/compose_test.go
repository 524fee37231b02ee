package render

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComposeGray(t *testing.T) {
	img8 := &Image8{Width: 2, Height: 2, Bands: [][]uint8{{10, 20, 30, 40}}}

	img, err := Compose(img8)
	require.NoError(t, err)

	grey, ok := img.(*image.Gray)
	require.True(t, ok)
	assert.Equal(t, []uint8{10, 20, 30, 40}, grey.Pix)
}

func TestComposeGreyAlpha(t *testing.T) {
	img8 := &Image8{Width: 1, Height: 1, Bands: [][]uint8{{100}, {200}}}

	img, err := Compose(img8)
	require.NoError(t, err)

	nrgba, ok := img.(*image.NRGBA)
	require.True(t, ok)
	assert.Equal(t, []uint8{100, 100, 100, 200}, nrgba.Pix)
}

func TestComposeRGB(t *testing.T) {
	img8 := &Image8{Width: 1, Height: 1, Bands: [][]uint8{{10}, {20}, {30}}}

	img, err := Compose(img8)
	require.NoError(t, err)

	nrgba, ok := img.(*image.NRGBA)
	require.True(t, ok)
	assert.Equal(t, []uint8{10, 20, 30, 255}, nrgba.Pix)
}

func TestComposeRGBA(t *testing.T) {
	img8 := &Image8{Width: 1, Height: 1, Bands: [][]uint8{{10}, {20}, {30}, {40}}}

	img, err := Compose(img8)
	require.NoError(t, err)

	nrgba, ok := img.(*image.NRGBA)
	require.True(t, ok)
	assert.Equal(t, []uint8{10, 20, 30, 40}, nrgba.Pix)
}

func TestComposeTooManyBands(t *testing.T) {
	img8 := &Image8{Width: 1, Height: 1, Bands: make([][]uint8, 5)}

	_, err := Compose(img8)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadParam)
}

func TestFitWithin(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 100, 50))

	out := FitWithin(src, 50)
	assert.Equal(t, 50, out.Bounds().Dx())
	assert.Equal(t, 25, out.Bounds().Dy())

	// Already small enough passes through untouched.
	same := FitWithin(src, 200)
	assert.Same(t, image.Image(src), same)

	// Zero disables the cap.
	same = FitWithin(src, 0)
	assert.Same(t, image.Image(src), same)
}

func TestFitWithinNeverCollapsesToZero(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 1000, 2))

	out := FitWithin(src, 10)
	assert.Equal(t, 10, out.Bounds().Dx())
	assert.Equal(t, 1, out.Bounds().Dy())
}

func TestEncodePNG(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 3, 2))
	data, err := EncodePNG(src)
	require.NoError(t, err)

	decoded, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 3, decoded.Bounds().Dx())
	assert.Equal(t, 2, decoded.Bounds().Dy())
}
