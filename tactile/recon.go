package tactile

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/dsp/fourier"
)

// GradientFrame is one raw sensor reading: surface gradients (height change
// per pixel) and a contact mask on a row-major w×h grid.
type GradientFrame struct {
	Width   int
	Height  int
	Gx      []float64
	Gy      []float64
	Contact []bool
}

func (g GradientFrame) validate() error {
	n := g.Width * g.Height
	if g.Width < 2 || g.Height < 2 {
		return fmt.Errorf("%w: gradient grid %dx%d is too small", ErrShapeMismatch, g.Width, g.Height)
	}
	if len(g.Gx) != n || len(g.Gy) != n || len(g.Contact) != n {
		return fmt.Errorf("%w: grid %dx%d needs %d pixels, got gx=%d gy=%d contact=%d",
			ErrShapeMismatch, g.Width, g.Height, n, len(g.Gx), len(g.Gy), len(g.Contact))
	}
	return nil
}

// HeightFromGradients integrates a gradient field into a height map by
// solving the Poisson equation with Neumann boundaries. Gradients are taken
// as forward differences, so a field produced by differencing a height map
// is recovered exactly up to a constant. The result has zero mean.
func HeightFromGradients(gx, gy []float64, w, h int) ([]float64, error) {
	if w < 2 || h < 2 {
		return nil, fmt.Errorf("%w: gradient grid %dx%d is too small", ErrShapeMismatch, w, h)
	}
	if len(gx) != w*h || len(gy) != w*h {
		return nil, fmt.Errorf("%w: gradients have %d/%d values for a %dx%d grid", ErrShapeMismatch, len(gx), len(gy), w, h)
	}

	// Divergence with mirrored boundaries: the gradient flips sign beyond
	// either end of a row or column.
	div := make([]float64, w*h)
	for v := 0; v < h; v++ {
		for u := 0; u < w; u++ {
			i := v*w + u
			div[i] = mirroredDiff(gx, i, u, 1, w) + mirroredDiff(gy, i, v, w, h)
		}
	}

	spectrum := dct2(div, w, h)
	for l := 0; l < h; l++ {
		ly := 2*math.Cos(math.Pi*float64(l)/float64(h-1)) - 2
		for k := 0; k < w; k++ {
			lx := 2*math.Cos(math.Pi*float64(k)/float64(w-1)) - 2
			i := l*w + k
			if k == 0 && l == 0 {
				spectrum[i] = 0
				continue
			}
			spectrum[i] /= lx + ly
		}
	}
	height := dct2(spectrum, w, h)

	scale := 1 / (4 * float64(w-1) * float64(h-1))
	var mean float64
	for i := range height {
		height[i] *= scale
		mean += height[i]
	}
	mean /= float64(len(height))
	for i := range height {
		height[i] -= mean
	}
	return height, nil
}

// mirroredDiff returns g[pos] - g[pos-1] along one axis, where g[-1] = -g[0]
// and g[n-1] is replaced by -g[n-2].
func mirroredDiff(g []float64, i, pos, stride, n int) float64 {
	at := func(p int) float64 {
		switch {
		case p < 0:
			return -g[i-pos*stride]
		case p == n-1:
			return -g[i+(p-pos-1)*stride]
		default:
			return g[i+(p-pos)*stride]
		}
	}
	return at(pos) - at(pos-1)
}

// dct2 applies an unnormalized DCT-I along rows and then along columns.
func dct2(src []float64, w, h int) []float64 {
	out := make([]float64, len(src))
	copy(out, src)

	row := fourier.NewDCT(w)
	buf := make([]float64, w)
	for v := 0; v < h; v++ {
		copy(buf, out[v*w:(v+1)*w])
		row.Transform(out[v*w:(v+1)*w], buf)
	}

	col := fourier.NewDCT(h)
	cbuf := make([]float64, h)
	for u := 0; u < w; u++ {
		for v := 0; v < h; v++ {
			cbuf[v] = out[v*w+u]
		}
		col.Transform(cbuf, cbuf)
		for v := 0; v < h; v++ {
			out[v*w+u] = cbuf[v]
		}
	}
	return out
}

// NormalsFromGradients converts gradients into unit surface normals
// normalize(-gx, -gy, 1).
func NormalsFromGradients(gx, gy []float64) ([]r3.Vector, error) {
	if len(gx) != len(gy) {
		return nil, fmt.Errorf("%w: gx has %d values, gy has %d", ErrShapeMismatch, len(gx), len(gy))
	}
	normals := make([]r3.Vector, len(gx))
	for i := range gx {
		normals[i] = r3.Vector{X: -gx[i], Y: -gy[i], Z: 1}.Normalize()
	}
	return normals, nil
}

// ErodeContactMask shrinks the contact region with a size×size square
// structuring element. Pixels outside the image count as contact, so the
// image border alone does not erode the mask.
func ErodeContactMask(mask []bool, w, h, size int) ([]bool, error) {
	if len(mask) != w*h {
		return nil, fmt.Errorf("%w: mask has %d values for a %dx%d grid", ErrShapeMismatch, len(mask), w, h)
	}
	out := make([]bool, len(mask))
	if size <= 1 {
		copy(out, mask)
		return out, nil
	}
	anchor := size / 2
	lo, hi := -anchor, size-1-anchor
	for v := 0; v < h; v++ {
		for u := 0; u < w; u++ {
			keep := true
			for dv := lo; dv <= hi && keep; dv++ {
				y := v + dv
				if y < 0 || y >= h {
					continue
				}
				for du := lo; du <= hi; du++ {
					x := u + du
					if x < 0 || x >= w {
						continue
					}
					if !mask[y*w+x] {
						keep = false
						break
					}
				}
			}
			out[v*w+u] = keep
		}
	}
	return out, nil
}

// FrameFromGradients reconstructs the height map and normals for a raw
// reading and erodes its contact mask.
func FrameFromGradients(g GradientFrame, erodeSize int) (*SurfaceFrame, error) {
	if err := g.validate(); err != nil {
		return nil, err
	}
	heights, err := HeightFromGradients(g.Gx, g.Gy, g.Width, g.Height)
	if err != nil {
		return nil, err
	}
	normals, err := NormalsFromGradients(g.Gx, g.Gy)
	if err != nil {
		return nil, err
	}
	contact, err := ErodeContactMask(g.Contact, g.Width, g.Height, erodeSize)
	if err != nil {
		return nil, err
	}
	return NewSurfaceFrame(g.Width, g.Height, normals, contact, heights)
}
