package tactile

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Transform is a rigid transform in SE(3): p' = R*p + T.
// Translations are in meters unless a backend documents otherwise.
type Transform struct {
	R [3][3]float64
	T r3.Vector
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{R: [3][3]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}}
}

// TranslationTransform creates a translation-only transform.
func TranslationTransform(x, y, z float64) Transform {
	t := Identity()
	t.T = r3.Vector{X: x, Y: y, Z: z}
	return t
}

// FromEulerXYZ builds R = Rz(rz) * Ry(ry) * Rx(rx) (radians, extrinsic xyz)
// followed by the translation t.
func FromEulerXYZ(rx, ry, rz float64, t r3.Vector) Transform {
	sa, ca := math.Sincos(rx)
	sb, cb := math.Sincos(ry)
	sc, cc := math.Sincos(rz)
	return Transform{
		R: [3][3]float64{
			{cc * cb, cc*sb*sa - sc*ca, cc*sb*ca + sc*sa},
			{sc * cb, sc*sb*sa + cc*ca, sc*sb*ca - cc*sa},
			{-sb, cb * sa, cb * ca},
		},
		T: t,
	}
}

// FromAxisAngle builds a rotation from a rotation vector (axis * angle in
// radians) using Rodrigues' formula, followed by the translation t.
func FromAxisAngle(w r3.Vector, t r3.Vector) Transform {
	theta := w.Norm()
	if theta < 1e-12 {
		// first order: R = I + [w]x
		return Transform{
			R: [3][3]float64{
				{1, -w.Z, w.Y},
				{w.Z, 1, -w.X},
				{-w.Y, w.X, 1},
			},
			T: t,
		}.Orthonormalized()
	}
	k := w.Mul(1 / theta)
	s, c := math.Sincos(theta)
	v := 1 - c
	return Transform{
		R: [3][3]float64{
			{c + k.X*k.X*v, k.X*k.Y*v - k.Z*s, k.X*k.Z*v + k.Y*s},
			{k.Y*k.X*v + k.Z*s, c + k.Y*k.Y*v, k.Y*k.Z*v - k.X*s},
			{k.Z*k.X*v - k.Y*s, k.Z*k.Y*v + k.X*s, c + k.Z*k.Z*v},
		},
		T: t,
	}
}

// RotationZDeg creates a rotation about the z axis (degrees) with a translation.
func RotationZDeg(degrees float64, t r3.Vector) Transform {
	return FromEulerXYZ(0, 0, degrees*math.Pi/180, t)
}

// Rotate applies only the rotation block to v.
func (t Transform) Rotate(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: t.R[0][0]*v.X + t.R[0][1]*v.Y + t.R[0][2]*v.Z,
		Y: t.R[1][0]*v.X + t.R[1][1]*v.Y + t.R[1][2]*v.Z,
		Z: t.R[2][0]*v.X + t.R[2][1]*v.Y + t.R[2][2]*v.Z,
	}
}

// Apply maps p through the transform.
func (t Transform) Apply(p r3.Vector) r3.Vector {
	return t.Rotate(p).Add(t.T)
}

// Compose returns t∘o: applying the result equals applying o first, then t.
func (t Transform) Compose(o Transform) Transform {
	var out Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.R[i][j] = t.R[i][0]*o.R[0][j] + t.R[i][1]*o.R[1][j] + t.R[i][2]*o.R[2][j]
		}
	}
	out.T = t.Rotate(o.T).Add(t.T)
	return out
}

// Inverse returns the rigid inverse (R^T, -R^T*T).
func (t Transform) Inverse() Transform {
	var out Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.R[i][j] = t.R[j][i]
		}
	}
	out.T = out.Rotate(t.T).Mul(-1)
	return out
}

// ScaleTranslation returns a copy with the translation multiplied by s. It is
// used to move between meter and millimeter conventions.
func (t Transform) ScaleTranslation(s float64) Transform {
	t.T = t.T.Mul(s)
	return t
}

// RotationAngle returns the angle of the rotation block in radians.
func (t Transform) RotationAngle() float64 {
	c := (t.R[0][0] + t.R[1][1] + t.R[2][2] - 1) / 2
	c = math.Max(-1, math.Min(1, c))
	return math.Acos(c)
}

// OrthonormalityError returns max |R^T R - I| over all entries.
func (t Transform) OrthonormalityError() float64 {
	worst := 0.0
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			d := t.R[0][i]*t.R[0][j] + t.R[1][i]*t.R[1][j] + t.R[2][i]*t.R[2][j]
			if i == j {
				d -= 1
			}
			worst = math.Max(worst, math.Abs(d))
		}
	}
	return worst
}

// Orthonormalized projects the rotation block back onto SO(3) when it has
// drifted beyond 1e-9. Exact rotations are returned untouched.
func (t Transform) Orthonormalized() Transform {
	if t.OrthonormalityError() <= 1e-9 {
		return t
	}
	m := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, t.R[i][j])
		}
	}
	r, ok := nearestRotation(m)
	if !ok {
		return t
	}
	t.R = r
	return t
}

// Dense returns the 4x4 homogeneous matrix.
func (t Transform) Dense() *mat.Dense {
	m := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m.Set(i, j, t.R[i][j])
		}
	}
	m.Set(0, 3, t.T.X)
	m.Set(1, 3, t.T.Y)
	m.Set(2, 3, t.T.Z)
	m.Set(3, 3, 1)
	return m
}

// Matrix returns the 4x4 homogeneous matrix as nested arrays.
func (t Transform) Matrix() [4][4]float64 {
	return [4][4]float64{
		{t.R[0][0], t.R[0][1], t.R[0][2], t.T.X},
		{t.R[1][0], t.R[1][1], t.R[1][2], t.T.Y},
		{t.R[2][0], t.R[2][1], t.R[2][2], t.T.Z},
		{0, 0, 0, 1},
	}
}

// TransformFromMatrix builds a Transform from a homogeneous 4x4 matrix.
// The bottom row must be (0,0,0,1) and the rotation block orthonormal
// within 1e-6.
func TransformFromMatrix(m [4][4]float64) (Transform, error) {
	if m[3][0] != 0 || m[3][1] != 0 || m[3][2] != 0 || m[3][3] != 1 {
		return Transform{}, fmt.Errorf("not a homogeneous rigid transform: bottom row %v", m[3])
	}
	var t Transform
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			t.R[i][j] = m[i][j]
		}
	}
	t.T = r3.Vector{X: m[0][3], Y: m[1][3], Z: m[2][3]}
	if e := t.OrthonormalityError(); e > 1e-6 {
		return Transform{}, fmt.Errorf("rotation block is not orthonormal (error %.3g)", e)
	}
	return t.Orthonormalized(), nil
}

// TransformFromDense builds a Transform from a 4x4 gonum matrix.
func TransformFromDense(d mat.Matrix) (Transform, error) {
	r, c := d.Dims()
	if r != 4 || c != 4 {
		return Transform{}, fmt.Errorf("%w: want 4x4 matrix, got %dx%d", ErrShapeMismatch, r, c)
	}
	var m [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			m[i][j] = d.At(i, j)
		}
	}
	return TransformFromMatrix(m)
}

// MarshalJSON encodes the transform as a 4x4 row-major nested array.
func (t Transform) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Matrix())
}

// UnmarshalJSON decodes a 4x4 row-major nested array.
func (t *Transform) UnmarshalJSON(data []byte) error {
	var m [4][4]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	parsed, err := TransformFromMatrix(m)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// nearestRotation returns the rotation closest to m in Frobenius norm.
func nearestRotation(m mat.Matrix) ([3][3]float64, bool) {
	var svd mat.SVD
	if ok := svd.Factorize(m, mat.SVDFull); !ok {
		return [3][3]float64{}, false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		// flip the axis with the smallest singular value
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		r.Mul(&u, v.T())
	}
	var out [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i][j] = r.At(i, j)
		}
	}
	return out, true
}
