package tactile

import (
	"math"
)

// PoseVector is a 6-vector used for scalar drift metrics: translation in
// millimeters and extrinsic xyz Euler angles in degrees. It is never used for
// composition.
type PoseVector struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	Z  float64 `json:"z"`
	Rx float64 `json:"rx"`
	Ry float64 `json:"ry"`
	Rz float64 `json:"rz"`
}

// Pose converts a transform (meters) into a PoseVector (mm, degrees).
func (t Transform) Pose() PoseVector {
	rx, ry, rz := t.EulerXYZ()
	return PoseVector{
		X:  t.T.X * 1000.0,
		Y:  t.T.Y * 1000.0,
		Z:  t.T.Z * 1000.0,
		Rx: rx * 180 / math.Pi,
		Ry: ry * 180 / math.Pi,
		Rz: rz * 180 / math.Pi,
	}
}

// EulerXYZ decomposes R = Rz*Ry*Rx and returns (rx, ry, rz) in radians.
func (t Transform) EulerXYZ() (rx, ry, rz float64) {
	sy := -t.R[2][0]
	sy = math.Max(-1, math.Min(1, sy))
	ry = math.Asin(sy)
	if math.Abs(sy) < 1-1e-12 {
		rx = math.Atan2(t.R[2][1], t.R[2][2])
		rz = math.Atan2(t.R[1][0], t.R[0][0])
		return rx, ry, rz
	}
	// gimbal lock: fold everything into rz
	rx = 0
	rz = math.Atan2(-t.R[0][1], t.R[1][1])
	return rx, ry, rz
}

// TranslationNorm is the Euclidean norm of the translation part (mm).
func (p PoseVector) TranslationNorm() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// RotationNorm is the Euclidean norm of the Euler angle part (degrees).
func (p PoseVector) RotationNorm() float64 {
	return math.Sqrt(p.Rx*p.Rx + p.Ry*p.Ry + p.Rz*p.Rz)
}

// Slice returns the pose as [x, y, z, rx, ry, rz].
func (p PoseVector) Slice() []float64 {
	return []float64{p.X, p.Y, p.Z, p.Rx, p.Ry, p.Rz}
}
