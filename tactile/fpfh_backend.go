package tactile

type fpfhBackend struct {
	opts BackendOptions
}

func newFPFHBackend(o BackendOptions) *fpfhBackend {
	return &fpfhBackend{opts: o}
}

func (b *fpfhBackend) Kind() Kind { return KindFPFH }

// Register aligns the frames globally with FPFH descriptors and RANSAC, then
// refines with point-to-plane ICP.
//
// The target is moved into the reference convention with inv(guess) before
// descriptors are computed, so consensus only has to find the residual
// motion. Refinement is seeded from both the coarse estimate and the guess;
// the refinement that fits better at the consensus inlier distance wins.
// When consensus finds no valid hypothesis the coarse estimate equals the
// guess.
func (b *fpfhBackend) Register(ref, tar *SurfaceFrame, guess Transform, params Params) (Result, error) {
	refSet, tarSet, err := buildPointSets(ref, tar, params, b.opts.Rand)
	if err != nil {
		return Result{}, err
	}

	tarInRef := tarSet.Transformed(guess.Inverse())
	refFeatures := ComputeFPFH(refSet, b.opts.FPFH)
	tarFeatures := ComputeFPFH(tarInRef, b.opts.FPFH)
	matches := matchFeatures(refFeatures, tarFeatures, b.opts.RANSAC.MutualFilter, b.opts.RANSAC.SampleSize)

	coarse := runRANSAC(refSet, tarInRef, matches, b.opts.RANSAC, b.opts.Rand)
	if !coarse.Valid {
		b.opts.Logger.Warnw("feature consensus found no valid hypothesis, refining from the initial guess",
			"matches", coarse.Matches,
			"iterations", coarse.Iterations,
		)
	} else {
		b.opts.Logger.Debugw("feature consensus",
			"matches", coarse.Matches,
			"inliers", coarse.Inliers,
			"fitness", coarse.Fitness,
			"iterations", coarse.Iterations,
		)
	}
	coarseT := guess.Compose(coarse.Transform).Orthonormalized()

	tarIndex := newPointIndex3(tarSet.Points)
	seeds := []Transform{coarseT}
	if coarse.Valid {
		seeds = append(seeds, guess)
	}

	var (
		best, bestScore Result
		found           bool
		lastErr         error
	)
	for _, seed := range seeds {
		res, err := runPointToPlaneICP(refSet, tarSet, tarIndex, seed, b.opts.ICP)
		if err != nil {
			lastErr = err
			continue
		}
		// the refinement gate accepts nearly every point, so rank at the
		// consensus inlier distance instead
		score := scoreAlignment(refSet, tarIndex, res.Transform, b.opts.RANSAC.MaxCorrespondDist)
		if !found || betterResult(score, bestScore) {
			best, bestScore, found = res, score, true
		}
	}
	if !found {
		return Result{}, registrationError(KindFPFH, "point-to-plane refinement", lastErr)
	}
	logNonConvergence(b.opts.Logger, KindFPFH, "icp", best)
	return best, nil
}

// scoreAlignment returns the fitness and inlier rmse of src moved by t
// against the indexed target, counting only matches within maxDist.
func scoreAlignment(src *MaskedPointSet, index *pointIndex, t Transform, maxDist float64) Result {
	corr := findCorrespondences(src.Transformed(t).Points, index, maxDist)
	fitness, rmse := alignmentScore(corr, len(src.Points))
	return Result{Transform: t, Fitness: fitness, RMSE: rmse}
}
