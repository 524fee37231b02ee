package render

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	xdraw "golang.org/x/image/draw"
)

// Compose assembles the 8-bit bands into a displayable image: one band is
// greyscale, two are grey plus alpha, three are opaque RGB, four are RGBA.
func Compose(img *Image8) (image.Image, error) {
	rect := image.Rect(0, 0, img.Width, img.Height)
	switch len(img.Bands) {
	case 1:
		out := image.NewGray(rect)
		copy(out.Pix, img.Bands[0])
		return out, nil
	case 2:
		out := image.NewNRGBA(rect)
		grey, alpha := img.Bands[0], img.Bands[1]
		for i := range grey {
			out.Pix[i*4+0] = grey[i]
			out.Pix[i*4+1] = grey[i]
			out.Pix[i*4+2] = grey[i]
			out.Pix[i*4+3] = alpha[i]
		}
		return out, nil
	case 3:
		out := image.NewNRGBA(rect)
		r, g, b := img.Bands[0], img.Bands[1], img.Bands[2]
		for i := range r {
			out.Pix[i*4+0] = r[i]
			out.Pix[i*4+1] = g[i]
			out.Pix[i*4+2] = b[i]
			out.Pix[i*4+3] = 255
		}
		return out, nil
	case 4:
		out := image.NewNRGBA(rect)
		r, g, b, a := img.Bands[0], img.Bands[1], img.Bands[2], img.Bands[3]
		for i := range r {
			out.Pix[i*4+0] = r[i]
			out.Pix[i*4+1] = g[i]
			out.Pix[i*4+2] = b[i]
			out.Pix[i*4+3] = a[i]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: cannot compose %d bands into an image", ErrBadParam, len(img.Bands))
	}
}

// FitWithin downsamples img so its longest side is at most maxSize pixels,
// preserving aspect ratio. Images already small enough pass through.
func FitWithin(img image.Image, maxSize int) image.Image {
	if maxSize <= 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if longest <= maxSize {
		return img
	}

	scale := float64(maxSize) / float64(longest)
	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewNRGBA(image.Rect(0, 0, dw, dh))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
	return dst
}

// EncodePNG serializes img. Tiles are transient, so speed wins over ratio.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := &png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
