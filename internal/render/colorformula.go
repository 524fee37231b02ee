package render

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ColorFormula is a chain of post-processing operations applied to an 8-bit
// image after rescaling, in order. The syntax follows the rio color-formula
// convention: whitespace-separated operations such as
//
//	gamma rgb 1.8 sigmoidal rgb 6 0.5 saturation 1.2
type ColorFormula []colorOp

type colorOp interface {
	apply(img *Image8) error
}

// ParseColorFormula parses s; an empty string yields an empty formula.
// Commas between operations are tolerated.
func ParseColorFormula(s string) (ColorFormula, error) {
	s = strings.ReplaceAll(s, ",", " ")
	tokens := strings.Fields(s)

	var formula ColorFormula
	for i := 0; i < len(tokens); {
		switch op := strings.ToLower(tokens[i]); op {
		case "gamma":
			if i+2 >= len(tokens) {
				return nil, fmt.Errorf("%w: gamma needs bands and a value", ErrBadParam)
			}
			bands, err := parseBandSpec(tokens[i+1])
			if err != nil {
				return nil, err
			}
			g, err := parsePositive(tokens[i+2], "gamma")
			if err != nil {
				return nil, err
			}
			formula = append(formula, gammaOp{bands: bands, gamma: g})
			i += 3
		case "sigmoidal":
			if i+3 >= len(tokens) {
				return nil, fmt.Errorf("%w: sigmoidal needs bands, contrast and bias", ErrBadParam)
			}
			bands, err := parseBandSpec(tokens[i+1])
			if err != nil {
				return nil, err
			}
			contrast, err := strconv.ParseFloat(tokens[i+2], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: sigmoidal contrast %q", ErrBadParam, tokens[i+2])
			}
			bias, err := strconv.ParseFloat(tokens[i+3], 64)
			if err != nil {
				return nil, fmt.Errorf("%w: sigmoidal bias %q", ErrBadParam, tokens[i+3])
			}
			formula = append(formula, sigmoidalOp{bands: bands, contrast: contrast, bias: bias})
			i += 4
		case "saturation":
			if i+1 >= len(tokens) {
				return nil, fmt.Errorf("%w: saturation needs a value", ErrBadParam)
			}
			sat, err := parsePositive(tokens[i+1], "saturation")
			if err != nil {
				return nil, err
			}
			formula = append(formula, saturationOp{factor: sat})
			i += 2
		default:
			return nil, fmt.Errorf("%w: unknown color operation %q", ErrBadParam, tokens[i])
		}
	}
	return formula, nil
}

// Apply runs the formula over img in place.
func (f ColorFormula) Apply(img *Image8) error {
	for _, op := range f {
		if err := op.apply(img); err != nil {
			return err
		}
	}
	return nil
}

func parsePositive(s, what string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %s value %q must be a positive number", ErrBadParam, what, s)
	}
	return v, nil
}

// parseBandSpec turns "r", "gb", "rgb" into a set of band flags.
func parseBandSpec(s string) ([3]bool, error) {
	var bands [3]bool
	for _, c := range strings.ToLower(s) {
		switch c {
		case 'r':
			bands[0] = true
		case 'g':
			bands[1] = true
		case 'b':
			bands[2] = true
		default:
			return bands, fmt.Errorf("%w: band spec %q, want letters from rgb", ErrBadParam, s)
		}
	}
	return bands, nil
}

// targetBands maps the r/g/b flags onto actual band indices. Single-band
// images fold every flag onto band 0.
func targetBands(img *Image8, bands [3]bool) []int {
	if len(img.Bands) < 3 {
		if bands[0] || bands[1] || bands[2] {
			return []int{0}
		}
		return nil
	}
	var out []int
	for i := 0; i < 3; i++ {
		if bands[i] {
			out = append(out, i)
		}
	}
	return out
}

type gammaOp struct {
	bands [3]bool
	gamma float64
}

func (op gammaOp) apply(img *Image8) error {
	var lut [256]uint8
	for i := range lut {
		v := math.Pow(float64(i)/255, 1/op.gamma)
		lut[i] = clamp255(v * 255)
	}
	for _, b := range targetBands(img, op.bands) {
		applyLUT(img.Bands[b], &lut)
	}
	return nil
}

type sigmoidalOp struct {
	bands    [3]bool
	contrast float64
	bias     float64
}

func (op sigmoidalOp) apply(img *Image8) error {
	if op.contrast == 0 {
		return nil
	}
	sig := func(v float64) float64 {
		return 1 / (1 + math.Exp(op.contrast*(op.bias-v)))
	}
	lo, hi := sig(0), sig(1)
	var lut [256]uint8
	for i := range lut {
		v := (sig(float64(i)/255) - lo) / (hi - lo)
		lut[i] = clamp255(v * 255)
	}
	for _, b := range targetBands(img, op.bands) {
		applyLUT(img.Bands[b], &lut)
	}
	return nil
}

type saturationOp struct {
	factor float64
}

func (op saturationOp) apply(img *Image8) error {
	if len(img.Bands) < 3 {
		return fmt.Errorf("%w: saturation needs an RGB image, have %d band(s)", ErrBadParam, len(img.Bands))
	}
	r, g, b := img.Bands[0], img.Bands[1], img.Bands[2]
	for i := range r {
		// Rec. 709 luma as the grey point.
		luma := 0.2126*float64(r[i]) + 0.7152*float64(g[i]) + 0.0722*float64(b[i])
		r[i] = clamp255(luma + (float64(r[i])-luma)*op.factor)
		g[i] = clamp255(luma + (float64(g[i])-luma)*op.factor)
		b[i] = clamp255(luma + (float64(b[i])-luma)*op.factor)
	}
	return nil
}

func applyLUT(samples []uint8, lut *[256]uint8) {
	for i, v := range samples {
		samples[i] = lut[v]
	}
}

func clamp255(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(math.Round(v))
	}
}
