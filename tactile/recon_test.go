package tactile

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// forwardGradients differentiates a height map the way the sensor model
// does: gx[u] = h[u+1]-h[u], zero on the last column (and row for gy).
func forwardGradients(h []float64, w, hgt int) (gx, gy []float64) {
	gx = make([]float64, w*hgt)
	gy = make([]float64, w*hgt)
	for v := 0; v < hgt; v++ {
		for u := 0; u < w; u++ {
			i := v*w + u
			if u < w-1 {
				gx[i] = h[i+1] - h[i]
			}
			if v < hgt-1 {
				gy[i] = h[i+w] - h[i]
			}
		}
	}
	return gx, gy
}

func TestHeightFromGradientsIsExact(t *testing.T) {
	for _, size := range [][2]int{{7, 5}, {16, 16}, {33, 20}} {
		w, hgt := size[0], size[1]
		rng := rand.New(rand.NewSource(int64(w)))
		heights := make([]float64, w*hgt)
		var mean float64
		for i := range heights {
			heights[i] = rng.Float64() * 3
			mean += heights[i]
		}
		mean /= float64(len(heights))

		gx, gy := forwardGradients(heights, w, hgt)
		got, err := HeightFromGradients(gx, gy, w, hgt)
		require.NoError(t, err)
		for i := range got {
			assert.InDelta(t, heights[i]-mean, got[i], 1e-9, "%dx%d pixel %d", w, hgt, i)
		}
	}
}

func TestHeightFromGradientsZeroMean(t *testing.T) {
	w, hgt := 12, 9
	gx := make([]float64, w*hgt)
	gy := make([]float64, w*hgt)
	for i := range gx {
		gx[i] = 0.3
	}
	got, err := HeightFromGradients(gx, gy, w, hgt)
	require.NoError(t, err)
	var sum float64
	for _, v := range got {
		sum += v
	}
	assert.InDelta(t, 0, sum, 1e-9)
}

func TestHeightFromGradientsShapes(t *testing.T) {
	_, err := HeightFromGradients(make([]float64, 4), make([]float64, 4), 1, 4)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, err = HeightFromGradients(make([]float64, 6), make([]float64, 5), 3, 2)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestNormalsFromGradients(t *testing.T) {
	normals, err := NormalsFromGradients([]float64{0, 1}, []float64{0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 1, normals[0].Z, 1e-15)
	assert.InDelta(t, -1/math.Sqrt2, normals[1].X, 1e-15)
	assert.InDelta(t, 1/math.Sqrt2, normals[1].Z, 1e-15)

	_, err = NormalsFromGradients([]float64{0}, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestErodeContactMask(t *testing.T) {
	const w, h = 7, 7
	mask := make([]bool, w*h)
	for v := 1; v <= 5; v++ {
		for u := 1; u <= 5; u++ {
			mask[v*w+u] = true
		}
	}

	eroded, err := ErodeContactMask(mask, w, h, 3)
	require.NoError(t, err)
	count := 0
	for v := 0; v < h; v++ {
		for u := 0; u < w; u++ {
			if eroded[v*w+u] {
				count++
				assert.True(t, u >= 2 && u <= 4 && v >= 2 && v <= 4, "pixel (%d,%d) survived", u, v)
			}
		}
	}
	assert.Equal(t, 9, count)

	same, err := ErodeContactMask(mask, w, h, 1)
	require.NoError(t, err)
	assert.Equal(t, mask, same)

	full := make([]bool, w*h)
	for i := range full {
		full[i] = true
	}
	kept, err := ErodeContactMask(full, w, h, 5)
	require.NoError(t, err)
	assert.Equal(t, full, kept, "the image border does not erode")

	_, err = ErodeContactMask(mask, w, h+1, 3)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestFrameFromGradients(t *testing.T) {
	const w, h = 20, 16
	heights := make([]float64, w*h)
	for v := 0; v < h; v++ {
		for u := 0; u < w; u++ {
			du, dv := float64(u)-9.5, float64(v)-7.5
			heights[v*w+u] = 3 * math.Exp(-(du*du+dv*dv)/18)
		}
	}
	gx, gy := forwardGradients(heights, w, h)
	contact := make([]bool, w*h)
	for i := range contact {
		contact[i] = true
	}
	contact[0] = false

	f, err := FrameFromGradients(GradientFrame{Width: w, Height: h, Gx: gx, Gy: gy, Contact: contact}, 3)
	require.NoError(t, err)
	assert.Equal(t, w, f.Width)
	assert.Equal(t, h, f.Height)
	assert.False(t, f.Contact[1], "erosion spreads the missing corner")
	assert.True(t, f.Contact[w*h/2])

	// relative heights survive reconstruction
	peak, corner := 7*w+9, 0
	assert.InDelta(t, heights[peak]-heights[corner], f.Heights[peak]-f.Heights[corner], 1e-9)

	_, err = FrameFromGradients(GradientFrame{Width: w, Height: h, Gx: gx}, 0)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
