package tactile

import (
	"math"

	"github.com/golang/geo/r3"
)

// FilterRegConfig controls probabilistic filter registration. Distances
// are in millimeters because the backend works in a millimeter frame.
type FilterRegConfig struct {
	Sigma2        float64 // isotropic variance of the Gaussian filter (mm^2)
	UpdateSigma2  bool    // re-estimate the variance after every M-step
	MinSigma2     float64 // floor for the re-estimated variance
	Tolerance     float64 // stop when the objective changes less than this
	MaxIterations int
	Neighbors     int // filter support: nearest target points considered per source point
}

// DefaultFilterRegConfig returns the point-to-plane defaults.
func DefaultFilterRegConfig() FilterRegConfig {
	return FilterRegConfig{
		Sigma2:        0.01,
		MinSigma2:     1e-4,
		Tolerance:     1e-5,
		MaxIterations: 50,
		Neighbors:     32,
	}
}

// filterEstimate is the E-step output for one source point.
type filterEstimate struct {
	weight float64   // total filter mass m0
	point  r3.Vector // m1/m0 over target positions
	normal r3.Vector // normalized m1 over target normals
	sqDist float64   // sum g*|s-t|^2, for variance updates
}

type filterRegBackend struct {
	opts BackendOptions
}

func newFilterRegBackend(o BackendOptions) *filterRegBackend {
	return &filterRegBackend{opts: o}
}

func (b *filterRegBackend) Kind() Kind { return KindFilterReg }

// Register treats the target cloud as a Gaussian-filtered density and the
// reference cloud as observations, minimizing a point-to-plane objective
// with expectation/maximization steps. Only target normals are used.
func (b *filterRegBackend) Register(ref, tar *SurfaceFrame, guess Transform, params Params) (Result, error) {
	refSet, tarSet, err := buildPointSets(ref, tar, params, b.opts.Rand)
	if err != nil {
		return Result{}, err
	}
	res, err := runFilterReg(refSet.Scaled(1000), tarSet.Scaled(1000), guess.ScaleTranslation(1000), b.opts.FilterReg)
	if err != nil {
		return Result{}, registrationError(KindFilterReg, "maximization step", err)
	}
	res.Transform = res.Transform.ScaleTranslation(1.0 / 1000)
	res.RMSE /= 1000
	logNonConvergence(b.opts.Logger, KindFilterReg, "em", res)
	return res, nil
}

// runFilterReg works entirely in millimeters.
func runFilterReg(src, dst *MaskedPointSet, init Transform, cfg FilterRegConfig) (Result, error) {
	index := newPointIndex3(dst.Points)
	sigma2 := cfg.Sigma2
	current := init
	q := math.Inf(1)

	result := Result{Transform: current}
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		moved := src.Transformed(current).Points
		est := filterExpectation(moved, dst, index, sigma2, cfg.Neighbors)

		var eq normalEquations
		var objective, mass, sq, resid float64
		inliers := 0
		for i, e := range est {
			if e.weight < 1e-12 {
				continue
			}
			// each residual counts in proportion to its filter mass
			eq.add(moved[i], e.point, e.normal, e.weight/sigma2)
			r := moved[i].Sub(e.point).Dot(e.normal)
			objective += e.weight * r * r / sigma2
			resid += r * r
			mass += e.weight
			sq += e.sqDist
			inliers++
		}
		x, err := eq.solve()
		if err != nil {
			return result, err
		}
		step := FromAxisAngle(r3.Vector{X: x[0], Y: x[1], Z: x[2]}, r3.Vector{X: x[3], Y: x[4], Z: x[5]})
		current = step.Compose(current).Orthonormalized()

		var rmse float64
		if inliers > 0 {
			objective /= float64(inliers)
			rmse = math.Sqrt(resid / float64(inliers))
		}
		result = Result{
			Transform:  current,
			Fitness:    float64(inliers) / float64(len(moved)),
			RMSE:       rmse,
			Iterations: iter + 1,
		}
		if cfg.UpdateSigma2 && mass > 0 {
			sigma2 = math.Max(sq/(3*mass), cfg.MinSigma2)
		}
		if math.Abs(objective-q) < cfg.Tolerance {
			result.Converged = true
			return result, nil
		}
		q = objective
	}
	return result, nil
}

// filterExpectation evaluates the Gaussian filter at each source point over
// its nearest target points within three standard deviations.
func filterExpectation(moved []r3.Vector, dst *MaskedPointSet, index *pointIndex, sigma2 float64, k int) []filterEstimate {
	out := make([]filterEstimate, len(moved))
	cutoff := 9 * sigma2
	parallelFor(len(moved), func(i int) {
		s := moved[i]
		var e filterEstimate
		var m1, nx r3.Vector
		for _, nb := range index.KNearest([]float64{s.X, s.Y, s.Z}, k) {
			if nb.DistSq > cutoff {
				break
			}
			g := math.Exp(-nb.DistSq / (2 * sigma2))
			e.weight += g
			e.sqDist += g * nb.DistSq
			m1 = m1.Add(dst.Points[nb.Index].Mul(g))
			nx = nx.Add(dst.Normals[nb.Index].Mul(g))
		}
		if e.weight > 0 {
			e.point = m1.Mul(1 / e.weight)
			if n := nx.Norm(); n > 0 {
				e.normal = nx.Mul(1 / n)
			} else {
				e.weight = 0
			}
		}
		out[i] = e
	})
	return out
}
