package tactile

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// ErrorStats summarizes per-frame errors of an estimate against ground truth.
type ErrorStats struct {
	Frames             int     `json:"frames"`
	MeanTranslationMM  float64 `json:"meanTranslationMM"`
	StdTranslationMM   float64 `json:"stdTranslationMM"`
	MaxTranslationMM   float64 `json:"maxTranslationMM"`
	MeanRotationDeg    float64 `json:"meanRotationDeg"`
	StdRotationDeg     float64 `json:"stdRotationDeg"`
	MaxRotationDeg     float64 `json:"maxRotationDeg"`
	FinalTranslationMM float64 `json:"finalTranslationMM"`
	FinalRotationDeg   float64 `json:"finalRotationDeg"`
}

// Comparison holds per-frame errors inv(truth_i)∘est_i and their summary.
type Comparison struct {
	Errors []PoseVector `json:"errors"`
	Stats  ErrorStats   `json:"stats"`
}

// CompareTrajectories measures how far est is from truth frame by frame.
// Both must have the same length.
func CompareTrajectories(est, truth Trajectory) (Comparison, error) {
	if len(est) != len(truth) {
		return Comparison{}, fmt.Errorf("%w: estimate has %d frames, ground truth %d", ErrShapeMismatch, len(est), len(truth))
	}
	if len(est) == 0 {
		return Comparison{}, fmt.Errorf("%w: empty trajectories", ErrShapeMismatch)
	}

	c := Comparison{Errors: make([]PoseVector, len(est))}
	trans := make([]float64, len(est))
	rot := make([]float64, len(est))
	for i := range est {
		e := truth[i].Inverse().Compose(est[i])
		c.Errors[i] = e.Pose()
		trans[i] = c.Errors[i].TranslationNorm()
		rot[i] = e.RotationAngle() * 180 / math.Pi
	}

	c.Stats = ErrorStats{Frames: len(est)}
	c.Stats.MeanTranslationMM, c.Stats.StdTranslationMM = stat.MeanStdDev(trans, nil)
	c.Stats.MeanRotationDeg, c.Stats.StdRotationDeg = stat.MeanStdDev(rot, nil)
	if len(est) == 1 {
		c.Stats.StdTranslationMM, c.Stats.StdRotationDeg = 0, 0
	}
	c.Stats.MaxTranslationMM = floats.Max(trans)
	c.Stats.MaxRotationDeg = floats.Max(rot)
	c.Stats.FinalTranslationMM = trans[len(trans)-1]
	c.Stats.FinalRotationDeg = rot[len(rot)-1]
	return c, nil
}
