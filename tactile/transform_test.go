package tactile

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func assertTransformNear(t *testing.T, want, got Transform, tol float64) {
	t.Helper()
	if diff := cmp.Diff(want.Matrix(), got.Matrix(), cmpopts.EquateApprox(0, tol)); diff != "" {
		t.Errorf("transform mismatch (-want +got):\n%s", diff)
	}
}

func TestComposeAppliesRightOperandFirst(t *testing.T) {
	a := RotationZDeg(90, r3.Vector{})
	b := TranslationTransform(1, 0, 0)
	p := r3.Vector{X: 0, Y: 0, Z: 0}

	got := a.Compose(b).Apply(p)
	// translate to (1,0,0), then rotate to (0,1,0)
	assert.InDelta(t, 0, got.X, 1e-12)
	assert.InDelta(t, 1, got.Y, 1e-12)

	want := a.Apply(b.Apply(r3.Vector{X: 0.3, Y: -2, Z: 5}))
	got = a.Compose(b).Apply(r3.Vector{X: 0.3, Y: -2, Z: 5})
	assert.InDelta(t, 0, want.Sub(got).Norm(), 1e-12)
}

func TestInverse(t *testing.T) {
	tr := FromEulerXYZ(0.1, -0.2, 0.7, r3.Vector{X: 0.004, Y: -0.001, Z: 0.0005})
	assertTransformNear(t, Identity(), tr.Compose(tr.Inverse()), 1e-12)
	assertTransformNear(t, Identity(), tr.Inverse().Compose(tr), 1e-12)
}

func TestEulerRoundTrip(t *testing.T) {
	cases := [][3]float64{
		{0, 0, 0},
		{0.1, 0.2, 0.3},
		{-0.4, 0.05, 2.5},
		{0.02, -1.2, -3.0},
	}
	for _, c := range cases {
		tr := FromEulerXYZ(c[0], c[1], c[2], r3.Vector{})
		rx, ry, rz := tr.EulerXYZ()
		if diff := cmp.Diff(c, [3]float64{rx, ry, rz}, approx); diff != "" {
			t.Errorf("euler %v round trip (-want +got):\n%s", c, diff)
		}
	}
}

func TestPoseUnits(t *testing.T) {
	tr := RotationZDeg(5, r3.Vector{X: 0.002, Y: -0.001})
	pose := tr.Pose()
	assert.InDelta(t, 2, pose.X, 1e-9)
	assert.InDelta(t, -1, pose.Y, 1e-9)
	assert.InDelta(t, 5, pose.Rz, 1e-9)
	assert.InDelta(t, math.Sqrt(5), pose.TranslationNorm(), 1e-9)
	assert.InDelta(t, 5, pose.RotationNorm(), 1e-9)
	assert.Len(t, pose.Slice(), 6)
}

func TestAxisAngleMatchesEuler(t *testing.T) {
	got := FromAxisAngle(r3.Vector{Z: math.Pi / 6}, r3.Vector{X: 1})
	assertTransformNear(t, FromEulerXYZ(0, 0, math.Pi/6, r3.Vector{X: 1}), got, 1e-12)
	assert.InDelta(t, math.Pi/6, got.RotationAngle(), 1e-12)

	small := FromAxisAngle(r3.Vector{X: 1e-14}, r3.Vector{})
	assert.Less(t, small.OrthonormalityError(), 1e-12)
}

func TestOrthonormalized(t *testing.T) {
	tr := RotationZDeg(30, r3.Vector{})
	tr.R[0][0] += 1e-4
	tr.R[1][2] -= 2e-4
	fixed := tr.Orthonormalized()
	assert.Less(t, fixed.OrthonormalityError(), 1e-12)
	assert.InDelta(t, 30*math.Pi/180, fixed.RotationAngle(), 1e-3)

	exact := RotationZDeg(30, r3.Vector{})
	assert.Equal(t, exact, exact.Orthonormalized(), "exact rotations are returned untouched")
}

func TestTransformJSON(t *testing.T) {
	tr := FromEulerXYZ(0.01, 0.02, 0.3, r3.Vector{X: 0.001, Y: 0.002, Z: -0.0003})
	data, err := json.Marshal(tr)
	require.NoError(t, err)

	var rows [][]float64
	require.NoError(t, json.Unmarshal(data, &rows))
	require.Len(t, rows, 4)
	assert.Equal(t, []float64{0, 0, 0, 1}, rows[3])

	var back Transform
	require.NoError(t, json.Unmarshal(data, &back))
	assertTransformNear(t, tr, back, 1e-15)
}

func TestTransformFromMatrixValidation(t *testing.T) {
	m := Identity().Matrix()
	m[3][0] = 1
	_, err := TransformFromMatrix(m)
	assert.Error(t, err, "bottom row must be 0 0 0 1")

	m = Identity().Matrix()
	m[0][0] = 2
	_, err = TransformFromMatrix(m)
	assert.ErrorContains(t, err, "not orthonormal")

	var bad Transform
	assert.Error(t, json.Unmarshal([]byte(`[[2,0,0,0],[0,1,0,0],[0,0,1,0],[0,0,0,1]]`), &bad))
}

func TestTransformFromDense(t *testing.T) {
	tr := RotationZDeg(-12, r3.Vector{Y: 0.004})
	back, err := TransformFromDense(tr.Dense())
	require.NoError(t, err)
	assertTransformNear(t, tr, back, 1e-15)

	_, err = TransformFromDense(mat.NewDense(3, 3, nil))
	assert.ErrorIs(t, err, ErrShapeMismatch)
}

func TestScaleTranslation(t *testing.T) {
	tr := RotationZDeg(10, r3.Vector{X: 0.001, Y: 0.002})
	mm := tr.ScaleTranslation(1000)
	assert.Equal(t, tr.R, mm.R)
	assert.InDelta(t, 1, mm.T.X, 1e-12)
	assert.InDelta(t, 2, mm.T.Y, 1e-12)
	assert.InDelta(t, 0.001, tr.T.X, 1e-15, "receiver is not modified")
}

func TestTrajectoryHelpers(t *testing.T) {
	traj := NewTrajectory()
	require.Len(t, traj, 1)
	assert.Equal(t, Identity(), traj.Last())
	assert.Equal(t, Identity(), Trajectory(nil).Last())

	traj = append(traj, TranslationTransform(0.001, 0, 0))
	clone := traj.Clone()
	clone[1] = Identity()
	assert.InDelta(t, 1, traj.Poses()[1].X, 1e-12, "clone must not alias")
}
