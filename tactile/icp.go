package tactile

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// ICPConfig holds configuration for point-to-plane ICP.
// Distances are in meters.
type ICPConfig struct {
	MaxIterations     int     // Iteration cap; reaching it is logged, not an error
	RelativeFitness   float64 // Stop when fitness changes less than this
	RelativeRMSE      float64 // ...and rmse changes less than this
	MaxCorrespondDist float64 // Maximum source-to-target distance for a correspondence
}

// DefaultICPConfig returns the defaults used for tactile tracking.
func DefaultICPConfig() ICPConfig {
	return ICPConfig{
		MaxIterations:     30,
		RelativeFitness:   1e-6,
		RelativeRMSE:      1e-6,
		MaxCorrespondDist: 0.1,
	}
}

var errNoCorrespondences = errors.New("no correspondences within maximum distance")

// correspondence pairs a source row with its nearest target row.
type correspondence struct {
	src, dst int
	distSq   float64
}

// findCorrespondences matches every source point to its nearest target
// point within maxDist. The result is ordered by source row.
func findCorrespondences(src []r3.Vector, index *pointIndex, maxDist float64) []correspondence {
	hits := make([]correspondence, len(src))
	maxSq := maxDist * maxDist
	parallelFor(len(src), func(i int) {
		hits[i] = correspondence{src: i, dst: -1}
		p := src[i]
		nb, ok := index.Nearest([]float64{p.X, p.Y, p.Z})
		if ok && nb.DistSq <= maxSq {
			hits[i] = correspondence{src: i, dst: nb.Index, distSq: nb.DistSq}
		}
	})
	out := hits[:0]
	for _, h := range hits {
		if h.dst >= 0 {
			out = append(out, h)
		}
	}
	return out
}

// alignmentScore returns the inlier fraction and inlier rmse.
func alignmentScore(corr []correspondence, n int) (fitness, rmse float64) {
	if len(corr) == 0 || n == 0 {
		return 0, 0
	}
	var sum float64
	for _, c := range corr {
		sum += c.distSq
	}
	return float64(len(corr)) / float64(n), math.Sqrt(sum / float64(len(corr)))
}

// normalEquations accumulates J^T J and J^T r for linearized point-to-plane
// residuals. Only the upper triangle of jtj is filled.
type normalEquations struct {
	jtj [6][6]float64
	jtr [6]float64
	n   int
}

// add accumulates the residual w*((s-t)·n)^2 with Jacobian [s×n, n].
func (e *normalEquations) add(s, t, n r3.Vector, w float64) {
	r := s.Sub(t).Dot(n)
	x := s.Cross(n)
	j := [6]float64{x.X, x.Y, x.Z, n.X, n.Y, n.Z}
	for a := 0; a < 6; a++ {
		for b := a; b < 6; b++ {
			e.jtj[a][b] += w * j[a] * j[b]
		}
		e.jtr[a] += w * j[a] * r
	}
	e.n++
}

// solve returns the increment (rx, ry, rz, tx, ty, tz).
func (e *normalEquations) solve() ([6]float64, error) {
	if e.n < 6 {
		return [6]float64{}, fmt.Errorf("%w: %d correspondences", errNoCorrespondences, e.n)
	}
	return solve6(e.jtj, e.jtr)
}

// pointToPlaneStep linearizes the point-to-plane residual (s-t)·n around the
// current alignment and solves the 6x6 normal equations for the increment.
func pointToPlaneStep(src, dst, dstNormals []r3.Vector, corr []correspondence) (Transform, error) {
	var eq normalEquations
	for _, c := range corr {
		eq.add(src[c.src], dst[c.dst], dstNormals[c.dst], 1)
	}
	x, err := eq.solve()
	if err != nil {
		return Transform{}, err
	}
	return FromEulerXYZ(x[0], x[1], x[2], r3.Vector{X: x[3], Y: x[4], Z: x[5]}), nil
}

// solve6 solves A x = -b for a symmetric positive definite A given by its
// upper triangle.
func solve6(upper [6][6]float64, b [6]float64) ([6]float64, error) {
	sym := mat.NewSymDense(6, nil)
	for i := 0; i < 6; i++ {
		for j := i; j < 6; j++ {
			sym.SetSym(i, j, upper[i][j])
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return [6]float64{}, errors.New("normal equations are not positive definite")
	}
	rhs := mat.NewVecDense(6, nil)
	for i := 0; i < 6; i++ {
		rhs.SetVec(i, -b[i])
	}
	var sol mat.VecDense
	if err := chol.SolveVecTo(&sol, rhs); err != nil {
		return [6]float64{}, fmt.Errorf("normal equations are ill-conditioned: %w", err)
	}
	var out [6]float64
	for i := 0; i < 6; i++ {
		out[i] = sol.AtVec(i)
	}
	return out, nil
}

// runPointToPlaneICP aligns src onto dst starting at init.
func runPointToPlaneICP(src, dst *MaskedPointSet, dstIndex *pointIndex, init Transform, cfg ICPConfig) (Result, error) {
	current := init
	moved := src.Transformed(current).Points
	corr := findCorrespondences(moved, dstIndex, cfg.MaxCorrespondDist)
	fitness, rmse := alignmentScore(corr, len(moved))

	result := Result{Transform: current, Fitness: fitness, RMSE: rmse}
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		step, err := pointToPlaneStep(moved, dst.Points, dst.Normals, corr)
		if err != nil {
			return result, err
		}
		current = step.Compose(current).Orthonormalized()
		moved = src.Transformed(current).Points
		corr = findCorrespondences(moved, dstIndex, cfg.MaxCorrespondDist)
		newFitness, newRMSE := alignmentScore(corr, len(moved))

		result = Result{
			Transform:  current,
			Fitness:    newFitness,
			RMSE:       newRMSE,
			Iterations: iter + 1,
		}
		if math.Abs(newFitness-fitness) < cfg.RelativeFitness && math.Abs(newRMSE-rmse) < cfg.RelativeRMSE {
			result.Converged = true
			return result, nil
		}
		fitness, rmse = newFitness, newRMSE
	}
	return result, nil
}

// logNonConvergence reports a refinement that stopped at its iteration cap.
func logNonConvergence(logger *zap.SugaredLogger, kind Kind, stage string, r Result) {
	if r.Converged {
		return
	}
	logger.Warnw("registration reached iteration cap without converging",
		"backend", kind,
		"stage", stage,
		"iterations", r.Iterations,
		"fitness", r.Fitness,
		"rmse", r.RMSE,
	)
}

type icpBackend struct {
	opts BackendOptions
}

func newICPBackend(o BackendOptions) *icpBackend {
	return &icpBackend{opts: o}
}

func (b *icpBackend) Kind() Kind { return KindICP }

// Register runs point-to-plane ICP from the guess. It is a local optimizer
// and needs a guess inside the basin of the true alignment.
func (b *icpBackend) Register(ref, tar *SurfaceFrame, guess Transform, params Params) (Result, error) {
	refSet, tarSet, err := buildPointSets(ref, tar, params, b.opts.Rand)
	if err != nil {
		return Result{}, err
	}
	res, err := runPointToPlaneICP(refSet, tarSet, newPointIndex3(tarSet.Points), guess, b.opts.ICP)
	if err != nil {
		return Result{}, registrationError(KindICP, "point-to-plane refinement", err)
	}
	logNonConvergence(b.opts.Logger, KindICP, "icp", res)
	return res, nil
}
