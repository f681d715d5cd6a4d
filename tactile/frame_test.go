package tactile

import (
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSurfaceFrameShapes(t *testing.T) {
	_, err := NewSurfaceFrame(0, 4, nil, nil, nil)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = NewSurfaceFrame(2, 2, make([]r3.Vector, 4), make([]bool, 3), make([]float64, 4))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	f, err := NewSurfaceFrame(2, 2, make([]r3.Vector, 4), []bool{true, false, true, true}, make([]float64, 4))
	require.NoError(t, err)
	assert.Equal(t, 3, f.ContactCount())
}

func TestPixelPoint(t *testing.T) {
	f := flatFrame(t, 0, 0)
	f.Width, f.Height = 4, 4

	p := f.PixelPoint(0, 3, 2, 0.5)
	assert.InDelta(t, -0.00075, p.X, 1e-15)
	assert.InDelta(t, 0.00075, p.Y, 1e-15)
	assert.InDelta(t, 0.001, p.Z, 1e-15)
}

func TestPointSetCentered(t *testing.T) {
	f := flatFrame(t, 0, 64)
	set, err := f.PointSet(0.1, 0, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	require.Equal(t, 64, set.Len())

	var sum r3.Vector
	for _, p := range set.Points {
		sum = sum.Add(p)
	}
	assert.InDelta(t, 0, sum.Norm(), 1e-15, "grid is centered on the optical axis")
}

func TestPointSetUsesContactPixels(t *testing.T) {
	f := flatFrame(t, 0, 20)
	set, err := f.PointSet(0.1, 0, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 20, set.Len())
	for k, px := range set.Pixels {
		assert.Less(t, px, 20)
		assert.Equal(t, f.PixelPoint(px%f.Width, px/f.Width, f.Heights[px], 0.1), set.Points[k])
		assert.Equal(t, f.Normals[px], set.Normals[k])
	}
}

func TestPointSetSampling(t *testing.T) {
	f := objectFrame(t, 0, 0, 0, 0)
	contact := f.ContactCount()
	require.Greater(t, contact, 3000)

	a, err := f.PointSet(synthPitch, 500, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	b, err := f.PointSet(synthPitch, 500, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	c, err := f.PointSet(synthPitch, 500, rand.New(rand.NewSource(43)))
	require.NoError(t, err)

	assert.Equal(t, 500, a.Len())
	assert.Equal(t, a.Pixels, b.Pixels, "same seed draws the same pixels")
	assert.NotEqual(t, a.Pixels, c.Pixels)
	assert.True(t, sort.IntsAreSorted(a.Pixels))
	seen := make(map[int]bool)
	for _, px := range a.Pixels {
		assert.False(t, seen[px], "pixel %d drawn twice", px)
		assert.True(t, f.Contact[px])
		seen[px] = true
	}

	all, err := f.PointSet(synthPitch, contact+10, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, contact, all.Len(), "a cap above the contact count keeps every point")
}

func TestPointSetInsufficientContact(t *testing.T) {
	f := flatFrame(t, 0, MinContactPoints-1)
	_, err := f.PointSet(0.1, 0, rand.New(rand.NewSource(1)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInsufficientContact))

	var ic *InsufficientContactError
	require.ErrorAs(t, err, &ic)
	assert.Equal(t, MinContactPoints-1, ic.Points)
	assert.Equal(t, MinContactPoints, ic.Min)

	_, err = flatFrame(t, 0, MinContactPoints).PointSet(0.1, 0, rand.New(rand.NewSource(1)))
	assert.NoError(t, err, "exactly the minimum is enough")

	_, err = flatFrame(t, 0, 20).PointSet(0, 0, rand.New(rand.NewSource(1)))
	assert.Error(t, err, "pitch must be positive")
}

func TestBuildPointSetsTagsRole(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	good := flatFrame(t, 0, 30)
	empty := flatFrame(t, 1, 0)

	_, _, err := buildPointSets(empty, good, Params{PixelPitch: 0.1}, rng)
	var ic *InsufficientContactError
	require.ErrorAs(t, err, &ic)
	assert.Equal(t, "reference", ic.Role)

	_, _, err = buildPointSets(good, empty, Params{PixelPitch: 0.1}, rng)
	require.ErrorAs(t, err, &ic)
	assert.Equal(t, "target", ic.Role)
	assert.Contains(t, err.Error(), "target frame has 0 contact points")
}

func TestMaskedPointSetTransformed(t *testing.T) {
	set := &MaskedPointSet{
		Points:  []r3.Vector{{X: 1}},
		Normals: []r3.Vector{{X: 1}},
		Pixels:  []int{7},
	}
	moved := set.Transformed(RotationZDeg(90, r3.Vector{Z: 2}))
	assert.InDelta(t, 1, moved.Points[0].Y, 1e-12)
	assert.InDelta(t, 2, moved.Points[0].Z, 1e-12)
	assert.InDelta(t, 1, moved.Normals[0].Y, 1e-12)
	assert.InDelta(t, 0, moved.Normals[0].Z, 1e-12, "normals are only rotated")
	assert.Equal(t, r3.Vector{X: 1}, set.Points[0], "source is not modified")

	scaled := set.Scaled(1000)
	assert.InDelta(t, 1000, scaled.Points[0].X, 1e-12)
}
