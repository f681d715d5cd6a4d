package tactile

import (
	"fmt"
	"math/rand"
	"sort"

	"github.com/golang/geo/r3"
)

// MinContactPoints is the smallest masked point set a backend will register.
const MinContactPoints = 10

// SurfaceFrame is one tactile reading: a normal map, a contact mask and a
// height map (pixel units) on the same H×W grid, stored row-major.
// Frames are immutable once constructed.
type SurfaceFrame struct {
	Index   int // position in the source sequence, for logging only
	Width   int
	Height  int
	Normals []r3.Vector
	Contact []bool
	Heights []float64
}

// NewSurfaceFrame validates that all three maps share the w×h grid.
func NewSurfaceFrame(w, h int, normals []r3.Vector, contact []bool, heights []float64) (*SurfaceFrame, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: invalid grid %dx%d", ErrShapeMismatch, w, h)
	}
	n := w * h
	if len(normals) != n || len(contact) != n || len(heights) != n {
		return nil, fmt.Errorf("%w: grid %dx%d needs %d pixels, got normals=%d contact=%d heights=%d",
			ErrShapeMismatch, w, h, n, len(normals), len(contact), len(heights))
	}
	return &SurfaceFrame{
		Width:   w,
		Height:  h,
		Normals: normals,
		Contact: contact,
		Heights: heights,
	}, nil
}

// ContactCount returns the number of contact pixels.
func (f *SurfaceFrame) ContactCount() int {
	count := 0
	for _, c := range f.Contact {
		if c {
			count++
		}
	}
	return count
}

// PixelPoint back-projects pixel (u, v) with height h (pixels) to meters.
// pitch is in millimeters per pixel.
func (f *SurfaceFrame) PixelPoint(u, v int, h, pitch float64) r3.Vector {
	s := pitch / 1000.0
	return r3.Vector{
		X: (float64(u) - float64(f.Width)/2 + 0.5) * s,
		Y: (float64(v) - float64(f.Height)/2 + 0.5) * s,
		Z: h * s,
	}
}

// MaskedPointSet holds contact points (meters) and their unit normals,
// row-aligned. Pixels records the source pixel index of each row.
type MaskedPointSet struct {
	Points  []r3.Vector
	Normals []r3.Vector
	Pixels  []int
}

// Len returns the number of points.
func (s *MaskedPointSet) Len() int { return len(s.Points) }

// Transformed returns a copy with points mapped through t and normals rotated.
func (s *MaskedPointSet) Transformed(t Transform) *MaskedPointSet {
	out := &MaskedPointSet{
		Points:  make([]r3.Vector, len(s.Points)),
		Normals: make([]r3.Vector, len(s.Normals)),
		Pixels:  s.Pixels,
	}
	for i, p := range s.Points {
		out.Points[i] = t.Apply(p)
	}
	for i, n := range s.Normals {
		out.Normals[i] = t.Rotate(n)
	}
	return out
}

// Scaled returns a copy with point coordinates multiplied by k.
func (s *MaskedPointSet) Scaled(k float64) *MaskedPointSet {
	out := &MaskedPointSet{
		Points:  make([]r3.Vector, len(s.Points)),
		Normals: s.Normals,
		Pixels:  s.Pixels,
	}
	for i, p := range s.Points {
		out.Points[i] = p.Mul(k)
	}
	return out
}

// PointSet builds the registration-ready point set for the frame. When
// sampleCap > 0 and the contact set is larger, sampleCap pixels are drawn
// uniformly without replacement from rng.
func (f *SurfaceFrame) PointSet(pitch float64, sampleCap int, rng *rand.Rand) (*MaskedPointSet, error) {
	if pitch <= 0 {
		return nil, fmt.Errorf("pixel pitch must be positive, got %g", pitch)
	}
	pixels := make([]int, 0, len(f.Contact))
	for i, c := range f.Contact {
		if c {
			pixels = append(pixels, i)
		}
	}
	if len(pixels) < MinContactPoints {
		return nil, &InsufficientContactError{Points: len(pixels), Min: MinContactPoints}
	}

	if sampleCap > 0 && sampleCap < len(pixels) {
		pixels = samplePixels(pixels, sampleCap, rng)
	}

	set := &MaskedPointSet{
		Points:  make([]r3.Vector, len(pixels)),
		Normals: make([]r3.Vector, len(pixels)),
		Pixels:  pixels,
	}
	for k, i := range pixels {
		u, v := i%f.Width, i/f.Width
		set.Points[k] = f.PixelPoint(u, v, f.Heights[i], pitch)
		set.Normals[k] = f.Normals[i]
	}
	return set, nil
}

// samplePixels draws n distinct entries with a partial Fisher-Yates shuffle
// and returns them in ascending pixel order.
func samplePixels(pixels []int, n int, rng *rand.Rand) []int {
	pool := make([]int, len(pixels))
	copy(pool, pixels)
	for i := 0; i < n; i++ {
		j := i + rng.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	out := pool[:n]
	sort.Ints(out)
	return out
}

// buildPointSets builds both sides of a registration call, tagging
// insufficient-contact errors with the frame role.
func buildPointSets(ref, tar *SurfaceFrame, params Params, rng *rand.Rand) (*MaskedPointSet, *MaskedPointSet, error) {
	refSet, err := ref.PointSet(params.PixelPitch, params.SampleCap, rng)
	if err != nil {
		return nil, nil, tagRole(err, "reference")
	}
	tarSet, err := tar.PointSet(params.PixelPitch, params.SampleCap, rng)
	if err != nil {
		return nil, nil, tagRole(err, "target")
	}
	return refSet, tarSet, nil
}

func tagRole(err error, role string) error {
	if ic, ok := err.(*InsufficientContactError); ok {
		ic.Role = role
	}
	return err
}
