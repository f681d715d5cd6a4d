package tactile

import (
	"math"
	"math/rand"
	"slices"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// RANSACConfig controls feature-match consensus.
type RANSACConfig struct {
	SampleSize        int     // correspondences per hypothesis
	MaxCorrespondDist float64 // inlier distance after applying a hypothesis (meters)
	EdgeLengthRatio   float64 // sampled edges must agree within this ratio
	SampleDistance    float64 // every sampled pair must land within this distance (meters)
	MaxIterations     int
	Confidence        float64
	MutualFilter      bool
}

// DefaultRANSACConfig returns the consensus settings for 1 mm scale contact patches.
func DefaultRANSACConfig() RANSACConfig {
	return RANSACConfig{
		SampleSize:        4,
		MaxCorrespondDist: 0.001,
		EdgeLengthRatio:   0.9,
		SampleDistance:    0.001,
		MaxIterations:     10000,
		Confidence:        0.99,
		MutualFilter:      true,
	}
}

// RANSACResult is the best hypothesis found.
type RANSACResult struct {
	Transform  Transform
	Fitness    float64 // inlier fraction over the correspondence set
	RMSE       float64
	Inliers    int
	Matches    int
	Iterations int
	Valid      bool // false when no hypothesis passed the checks
}

// matchFeatures pairs each source descriptor with its nearest target
// descriptor. With mutual filtering only reciprocal matches are kept, unless
// fewer than 3*sampleSize survive.
func matchFeatures(src, dst [][FPFHDims]float64, mutual bool, sampleSize int) [][2]int {
	toCoords := func(fs [][FPFHDims]float64) [][]float64 {
		out := make([][]float64, len(fs))
		for i := range fs {
			out[i] = fs[i][:]
		}
		return out
	}
	srcCoords, dstCoords := toCoords(src), toCoords(dst)
	dstIndex := newPointIndex(dstCoords)

	forward := make([]int, len(src))
	parallelFor(len(src), func(i int) {
		forward[i] = -1
		if nb, ok := dstIndex.Nearest(srcCoords[i]); ok {
			forward[i] = nb.Index
		}
	})

	all := make([][2]int, 0, len(src))
	for i, j := range forward {
		if j >= 0 {
			all = append(all, [2]int{i, j})
		}
	}
	if !mutual {
		return all
	}

	srcIndex := newPointIndex(srcCoords)
	backward := make([]int, len(dst))
	parallelFor(len(dst), func(j int) {
		backward[j] = -1
		if nb, ok := srcIndex.Nearest(dstCoords[j]); ok {
			backward[j] = nb.Index
		}
	})
	mutualPairs := make([][2]int, 0, len(all))
	for _, m := range all {
		if backward[m[1]] == m[0] {
			mutualPairs = append(mutualPairs, m)
		}
	}
	if len(mutualPairs) < 3*sampleSize {
		return all
	}
	return mutualPairs
}

// estimateRigid finds the least-squares rotation and translation mapping
// src onto dst (Kabsch, no scaling).
func estimateRigid(src, dst []r3.Vector) (Transform, bool) {
	if len(src) < 3 || len(src) != len(dst) {
		return Transform{}, false
	}
	var cs, cd r3.Vector
	for i := range src {
		cs = cs.Add(src[i])
		cd = cd.Add(dst[i])
	}
	inv := 1 / float64(len(src))
	cs, cd = cs.Mul(inv), cd.Mul(inv)

	// M = sum (d - cd)(s - cs)^T; the best rotation is the nearest one to M.
	m := mat.NewDense(3, 3, nil)
	for i := range src {
		s := src[i].Sub(cs)
		d := dst[i].Sub(cd)
		sv := [3]float64{s.X, s.Y, s.Z}
		dv := [3]float64{d.X, d.Y, d.Z}
		for a := 0; a < 3; a++ {
			for b := 0; b < 3; b++ {
				m.Set(a, b, m.At(a, b)+dv[a]*sv[b])
			}
		}
	}
	r, ok := nearestRotation(m)
	if !ok {
		return Transform{}, false
	}
	t := Transform{R: r}
	t.T = cd.Sub(t.Rotate(cs))
	return t, true
}

// edgeLengthsAgree checks every pair of sampled points has similar lengths
// in source and target.
func edgeLengthsAgree(src, dst []r3.Vector, ratio float64) bool {
	for i := 0; i < len(src); i++ {
		for j := i + 1; j < len(src); j++ {
			ds := src[i].Sub(src[j]).Norm()
			dd := dst[i].Sub(dst[j]).Norm()
			if ds < dd*ratio || dd < ds*ratio {
				return false
			}
		}
	}
	return true
}

func sampledPairsClose(t Transform, src, dst []r3.Vector, maxDist float64) bool {
	for i := range src {
		if t.Apply(src[i]).Sub(dst[i]).Norm() > maxDist {
			return false
		}
	}
	return true
}

// sampleDistinct fills out with distinct integers drawn from [0, n).
func sampleDistinct(rng *rand.Rand, n int, out []int) {
	for i := range out {
		for {
			c := rng.Intn(n)
			if !slices.Contains(out[:i], c) {
				out[i] = c
				break
			}
		}
	}
}

// iterationLimit lowers limit to the number of hypotheses needed to draw one
// all-inlier sample with the given confidence.
func iterationLimit(inlierRatio float64, sampleSize int, confidence float64, limit int) int {
	p := math.Pow(inlierRatio, float64(sampleSize))
	// below ~1e-15, 1-p rounds to 1 and the estimate is unbounded
	if p <= 1e-15 {
		return limit
	}
	if est := math.Log(1-confidence) / math.Log(1-p); est < float64(limit) {
		return int(math.Ceil(est))
	}
	return limit
}

// runRANSAC estimates the transform mapping src onto dst from descriptor
// matches. Hypotheses are scored by how many matches they explain.
func runRANSAC(src, dst *MaskedPointSet, matches [][2]int, cfg RANSACConfig, rng *rand.Rand) RANSACResult {
	best := RANSACResult{Transform: Identity(), Matches: len(matches)}
	k := cfg.SampleSize
	if len(matches) < k || k < 3 {
		return best
	}

	pick := make([]int, k)
	sSrc := make([]r3.Vector, k)
	sDst := make([]r3.Vector, k)
	maxSq := cfg.MaxCorrespondDist * cfg.MaxCorrespondDist
	limit := cfg.MaxIterations

	for iter := 0; iter < limit; iter++ {
		best.Iterations = iter + 1
		sampleDistinct(rng, len(matches), pick)
		for i, m := range pick {
			sSrc[i] = src.Points[matches[m][0]]
			sDst[i] = dst.Points[matches[m][1]]
		}
		if !edgeLengthsAgree(sSrc, sDst, cfg.EdgeLengthRatio) {
			continue
		}
		t, ok := estimateRigid(sSrc, sDst)
		if !ok || !sampledPairsClose(t, sSrc, sDst, cfg.SampleDistance) {
			continue
		}

		inliers := 0
		var errSum float64
		for _, m := range matches {
			d := t.Apply(src.Points[m[0]]).Sub(dst.Points[m[1]]).Norm2()
			if d < maxSq {
				inliers++
				errSum += d
			}
		}
		if inliers == 0 {
			continue
		}
		fitness := float64(inliers) / float64(len(matches))
		rmse := math.Sqrt(errSum / float64(inliers))
		if !best.Valid || fitness > best.Fitness || (fitness == best.Fitness && rmse < best.RMSE) {
			best.Transform = t
			best.Fitness = fitness
			best.RMSE = rmse
			best.Inliers = inliers
			best.Valid = true

			if fitness >= 1 {
				break
			}
			limit = iterationLimit(fitness, k, cfg.Confidence, limit)
		}
	}
	return best
}
