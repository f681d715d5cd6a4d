package tactile

import (
	"context"
	"fmt"
)

// ResetThresholds bound the disagreement between the direct and chained
// estimates before the reference is replaced. Units follow PoseVector.
type ResetThresholds struct {
	RotationDeg   float64 `yaml:"resetRotationDeg" json:"rotationDeg"`
	TranslationMM float64 `yaml:"resetTranslationMM" json:"translationMM"`
}

// DefaultResetThresholds returns 3 degrees and 1 millimeter.
func DefaultResetThresholds() ResetThresholds {
	return ResetThresholds{RotationDeg: 3.0, TranslationMM: 1.0}
}

// thresholdSlack absorbs the rounding of the composed drift error, so an
// error equal to a threshold never triggers a reset.
const thresholdSlack = 1e-9

// Exceeded reports whether either error is strictly above its threshold.
func (th ResetThresholds) Exceeded(rotationDeg, translationMM float64) bool {
	return rotationDeg > th.RotationDeg+thresholdSlack || translationMM > th.TranslationMM+thresholdSlack
}

// TrackerState is the long-horizon tracker's persistent state. PrevToRef is
// prev_T_ref, the registration of the previous frame against the current
// reference; StartToRef is start_T_ref.
type TrackerState struct {
	Reference  *SurfaceFrame
	Previous   *SurfaceFrame
	PrevToRef  Transform
	StartToRef Transform
	ResetCount int
}

// DriftDetector tracks frames against a reference that it replaces with the
// previous frame whenever the direct estimate and the estimate chained
// through the previous frame disagree. The trajectory stays expressed in
// the start frame across replacements.
//
// A DriftDetector owns its state and is not safe for concurrent use.
type DriftDetector struct {
	backend    Backend
	params     Params
	state      TrackerState
	trajectory Trajectory
	resets     []int
	opts       trackOptions
}

// NewDriftDetector starts a long-horizon run anchored at start.
func NewDriftDetector(start *SurfaceFrame, backend Backend, params Params, opts ...TrackOption) *DriftDetector {
	return &DriftDetector{
		backend: backend,
		params:  params,
		state: TrackerState{
			Reference:  start,
			PrevToRef:  Identity(),
			StartToRef: Identity(),
		},
		trajectory: NewTrajectory(),
		opts:       resolveTrackOptions(opts),
	}
}

// driftError measures how far the chained estimate curr_T_prev∘prev_T_ref
// lands from the direct estimate curr_T_ref.
func driftError(currToRef, currToPrev, prevToRef Transform) PoseVector {
	predicted := currToPrev.Compose(prevToRef)
	return currToRef.Inverse().Compose(predicted).Pose()
}

// Step processes one frame. The state transition is all-or-nothing: when
// either registration fails the detector is left exactly as it was and the
// error is returned.
func (d *DriftDetector) Step(curr *SurfaceFrame) (StepReport, error) {
	s := d.state
	guess := Identity()
	if s.Previous != nil {
		guess = s.PrevToRef
	}
	direct, err := d.backend.Register(s.Reference, curr, guess, d.params)
	if err != nil {
		return StepReport{}, fmt.Errorf("register against reference: %w", err)
	}
	report := StepReport{
		Fitness:   direct.Fitness,
		RMSE:      direct.RMSE,
		Converged: direct.Converged,
	}
	currToRef := direct.Transform

	next := s
	if s.Previous != nil {
		chained, err := d.backend.Register(s.Previous, curr, Identity(), d.params)
		if err != nil {
			return StepReport{}, fmt.Errorf("register against previous frame: %w", err)
		}
		currToPrev := chained.Transform

		pe := driftError(currToRef, currToPrev, s.PrevToRef)
		report.Checked = true
		report.Error = pe
		report.RotationError = pe.RotationNorm()
		report.TranslationError = pe.TranslationNorm()

		if d.opts.thresholds.Exceeded(report.RotationError, report.TranslationError) {
			next.ResetCount++
			next.Reference = s.Previous
			next.StartToRef = s.StartToRef.Compose(s.PrevToRef.Inverse()).Orthonormalized()
			currToRef = currToPrev
			report.Reset = true
			report.Fitness = chained.Fitness
			report.RMSE = chained.RMSE
			report.Converged = chained.Converged
		}
	}
	next.Previous = curr
	next.PrevToRef = currToRef
	pose := next.StartToRef.Compose(currToRef.Inverse()).Orthonormalized()

	// commit
	d.state = next
	d.trajectory = append(d.trajectory, pose)
	report.Frame = len(d.trajectory) - 1
	report.Pose = pose
	report.CurrToRef = currToRef
	report.ResetCount = next.ResetCount
	if report.Reset {
		d.resets = append(d.resets, report.Frame)
		d.opts.logger.Infow("reference reset",
			"frame", report.Frame,
			"rotationErrorDeg", report.RotationError,
			"translationErrorMM", report.TranslationError,
			"resets", next.ResetCount,
		)
	}
	report.Overlap, report.CentroidShiftMM = contactDiagnostics(next.Reference, curr, d.params.PixelPitch)
	return report, nil
}

// Skip repeats the last trajectory entry without touching the state.
func (d *DriftDetector) Skip() {
	d.trajectory = append(d.trajectory, d.trajectory.Last())
}

// State returns a copy of the tracker state.
func (d *DriftDetector) State() TrackerState { return d.state }

// Trajectory returns a copy of the poses so far.
func (d *DriftDetector) Trajectory() Trajectory { return d.trajectory.Clone() }

// Resets returns the trajectory indices at which the reference was replaced.
func (d *DriftDetector) Resets() []int {
	out := make([]int, len(d.resets))
	copy(out, d.resets)
	return out
}

// LongHorizonResult is the output of TrackLongHorizon.
type LongHorizonResult struct {
	Trajectory Trajectory
	Resets     []int
}

// TrackLongHorizon runs the drift-managed tracker over frames, with frames[0]
// as the start frame.
func TrackLongHorizon(ctx context.Context, frames []*SurfaceFrame, params Params, backend Backend, opts ...TrackOption) (LongHorizonResult, error) {
	if len(frames) == 0 {
		return LongHorizonResult{}, fmt.Errorf("%w: no frames to track", ErrShapeMismatch)
	}
	d := NewDriftDetector(frames[0], backend, params, opts...)
	result := func() LongHorizonResult {
		return LongHorizonResult{Trajectory: d.Trajectory(), Resets: d.Resets()}
	}
	for i, frame := range frames[1:] {
		if err := ctx.Err(); err != nil {
			return result(), err
		}
		idx := i + 1
		report, err := d.Step(frame)
		if err != nil {
			if herr := d.opts.onError(idx, err); herr != nil {
				return result(), herr
			}
			d.opts.logger.Warnw("skipping frame", "frame", idx, "error", err)
			d.Skip()
			continue
		}
		d.opts.logger.Debugw("tracked frame",
			"frame", idx,
			"backend", backend.Kind(),
			"rotationErrorDeg", report.RotationError,
			"translationErrorMM", report.TranslationError,
			"overlap", report.Overlap,
		)
		for _, fn := range d.opts.observers {
			fn(report)
		}
	}
	d.opts.logger.Infow("long-horizon tracking finished",
		"frames", len(frames),
		"resets", d.state.ResetCount,
	)
	return result(), nil
}
