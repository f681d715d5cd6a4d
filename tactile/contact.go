package tactile

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// ContactPoints returns the contact pixels as planar points in millimeters,
// using the same centered axes as the point cloud.
func ContactPoints(f *SurfaceFrame, pitch float64) orb.MultiPoint {
	mp := make(orb.MultiPoint, 0, f.ContactCount())
	for i, c := range f.Contact {
		if !c {
			continue
		}
		u, v := i%f.Width, i/f.Width
		mp = append(mp, orb.Point{
			(float64(u) - float64(f.Width)/2 + 0.5) * pitch,
			(float64(v) - float64(f.Height)/2 + 0.5) * pitch,
		})
	}
	return mp
}

// ContactBound is the axis-aligned bound of the contact region (mm).
func ContactBound(f *SurfaceFrame, pitch float64) (orb.Bound, bool) {
	mp := ContactPoints(f, pitch)
	if len(mp) == 0 {
		return orb.Bound{}, false
	}
	return mp.Bound(), true
}

// ContactCentroid is the mean contact pixel position (mm).
func ContactCentroid(f *SurfaceFrame, pitch float64) (orb.Point, bool) {
	mp := ContactPoints(f, pitch)
	if len(mp) == 0 {
		return orb.Point{}, false
	}
	c, _ := planar.CentroidArea(mp)
	return c, true
}

// BoundOverlap returns the intersection area of a and b divided by the
// smaller of the two areas, in [0, 1].
func BoundOverlap(a, b orb.Bound) float64 {
	if !a.Intersects(b) {
		return 0
	}
	inter := orb.Bound{
		Min: orb.Point{math.Max(a.Min[0], b.Min[0]), math.Max(a.Min[1], b.Min[1])},
		Max: orb.Point{math.Min(a.Max[0], b.Max[0]), math.Min(a.Max[1], b.Max[1])},
	}
	smaller := math.Min(boundArea(a), boundArea(b))
	if smaller <= 0 {
		return 0
	}
	return math.Min(1, boundArea(inter)/smaller)
}

func boundArea(b orb.Bound) float64 {
	return math.Abs(planar.Area(b))
}

// contactDiagnostics compares the reference and current contact regions in
// sensor coordinates. Shrinking overlap is what drives reference drift.
func contactDiagnostics(ref, curr *SurfaceFrame, pitch float64) (overlap, shiftMM float64) {
	rb, ok1 := ContactBound(ref, pitch)
	cb, ok2 := ContactBound(curr, pitch)
	if !ok1 || !ok2 {
		return 0, 0
	}
	overlap = BoundOverlap(rb, cb)
	rc, _ := ContactCentroid(ref, pitch)
	cc, _ := ContactCentroid(curr, pitch)
	return overlap, planar.Distance(rc, cc)
}
