package tactile

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
)

// Synthetic sensor: a 10 mm square grid at 0.1 mm per pixel pressed against
// a rigid object carrying three smooth bumps. The contact region is either a
// fixed disk in sensor coordinates, with the object sliding and turning
// underneath it, or a patch fixed on the object that moves with it.
const (
	synthPitch  = 0.1 // mm per pixel
	synthGrid   = 100
	synthDiskMM = 3.5
)

type bump struct{ amp, cx, cy, sx, sy float64 }

var objectBumps = []bump{
	{0.4, 0.2, -0.1, 0.6, 0.9},
	{0.2, 1.0, 0.8, 0.4, 0.4},
	{0.25, -1.1, 1.0, 0.5, 0.5},
}

// objectSurface returns the object height (mm) at object coordinates (mm)
// and its partial derivatives.
func objectSurface(x, y float64) (h, fx, fy float64) {
	for _, b := range objectBumps {
		dx, dy := x-b.cx, y-b.cy
		g := b.amp * math.Exp(-(dx*dx/(2*b.sx*b.sx) + dy*dy/(2*b.sy*b.sy)))
		h += g
		fx -= g * dx / (b.sx * b.sx)
		fy -= g * dy / (b.sy * b.sy)
	}
	return h, fx, fy
}

// objectPose is where the object sits in the sensor: p_sensor = R p_object + t.
func objectPose(thetaDeg, txMM, tyMM float64) Transform {
	return RotationZDeg(thetaDeg, r3.Vector{X: txMM / 1000, Y: tyMM / 1000})
}

// objectFrame renders the sensor view of the object at the given pose.
// Registering the frame at pose A against the frame at pose B yields
// objectPose(B)∘inv(objectPose(A)).
func objectFrame(t testing.TB, index int, thetaDeg, txMM, tyMM float64) *SurfaceFrame {
	t.Helper()
	return objectFrameDisk(t, index, thetaDeg, txMM, tyMM, synthDiskMM)
}

func objectFrameDisk(t testing.TB, index int, thetaDeg, txMM, tyMM, diskMM float64) *SurfaceFrame {
	t.Helper()
	return renderObject(t, index, thetaDeg, txMM, tyMM, func(x, y, _, _ float64) bool {
		return x*x+y*y <= diskMM*diskMM
	})
}

// objectFramePatch renders the object with contact limited to a disk of
// radius patchMM around the object origin, so the contact travels with it.
func objectFramePatch(t testing.TB, index int, thetaDeg, txMM, tyMM, patchMM float64) *SurfaceFrame {
	t.Helper()
	return renderObject(t, index, thetaDeg, txMM, tyMM, func(_, _, ox, oy float64) bool {
		return ox*ox+oy*oy <= patchMM*patchMM
	})
}

// renderObject samples the object surface on the sensor grid. inContact
// receives sensor and object coordinates (mm) of each pixel.
func renderObject(t testing.TB, index int, thetaDeg, txMM, tyMM float64, inContact func(x, y, ox, oy float64) bool) *SurfaceFrame {
	t.Helper()
	n := synthGrid * synthGrid
	normals := make([]r3.Vector, n)
	contact := make([]bool, n)
	heights := make([]float64, n)

	s, c := math.Sincos(thetaDeg * math.Pi / 180)
	for v := 0; v < synthGrid; v++ {
		for u := 0; u < synthGrid; u++ {
			i := v*synthGrid + u
			x := (float64(u) - synthGrid/2 + 0.5) * synthPitch
			y := (float64(v) - synthGrid/2 + 0.5) * synthPitch
			dx, dy := x-txMM, y-tyMM
			ox, oy := c*dx+s*dy, -s*dx+c*dy
			h, gx, gy := objectSurface(ox, oy)
			sx, sy := c*gx-s*gy, s*gx+c*gy

			heights[i] = h / synthPitch
			normals[i] = r3.Vector{X: -sx, Y: -sy, Z: 1}.Normalize()
			contact[i] = inContact(x, y, ox, oy)
		}
	}
	f, err := NewSurfaceFrame(synthGrid, synthGrid, normals, contact, heights)
	if err != nil {
		t.Fatalf("synthetic frame: %v", err)
	}
	f.Index = index
	return f
}

// flatFrame is a small frame whose first contactPixels pixels are in contact.
func flatFrame(t testing.TB, index, contactPixels int) *SurfaceFrame {
	t.Helper()
	const w, h = 8, 8
	normals := make([]r3.Vector, w*h)
	contact := make([]bool, w*h)
	heights := make([]float64, w*h)
	for i := range normals {
		normals[i] = r3.Vector{Z: 1}
		contact[i] = i < contactPixels
	}
	f, err := NewSurfaceFrame(w, h, normals, contact, heights)
	if err != nil {
		t.Fatalf("flat frame: %v", err)
	}
	f.Index = index
	return f
}

var synthParams = Params{PixelPitch: synthPitch}

// poseError returns the translation (mm) and rotation (deg) distance
// between two transforms.
func poseError(want, got Transform) (mm, deg float64) {
	e := want.Inverse().Compose(got)
	return e.T.Norm() * 1000, e.RotationAngle() * 180 / math.Pi
}

func assertPoseNear(t *testing.T, want, got Transform, tolMM, tolDeg float64) {
	t.Helper()
	mm, deg := poseError(want, got)
	if mm > tolMM || deg > tolDeg {
		t.Errorf("pose off by %.4f mm / %.4f deg (tolerance %.3g mm / %.3g deg)\nwant %+v\ngot  %+v",
			mm, deg, tolMM, tolDeg, want.Pose(), got.Pose())
	}
}
