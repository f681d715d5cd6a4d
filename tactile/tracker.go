package tactile

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// StepErrorHandler decides what happens when registering a frame fails.
// Returning nil skips the frame, repeating the previous trajectory entry;
// returning an error aborts the run with it.
type StepErrorHandler func(frame int, err error) error

// AbortOnError is the default StepErrorHandler.
func AbortOnError(frame int, err error) error {
	return fmt.Errorf("frame %d: %w", frame, err)
}

type trackOptions struct {
	logger     *zap.SugaredLogger
	thresholds ResetThresholds
	onError    StepErrorHandler
	observers  []func(StepReport)
}

// TrackOption configures the trackers.
type TrackOption func(*trackOptions)

// WithTrackLogger sets the tracker logger.
func WithTrackLogger(l *zap.SugaredLogger) TrackOption {
	return func(o *trackOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithResetThresholds overrides the long-horizon reset thresholds.
func WithResetThresholds(th ResetThresholds) TrackOption {
	return func(o *trackOptions) { o.thresholds = th }
}

// WithStepErrorHandler installs the per-frame failure policy for Track and
// TrackLongHorizon.
func WithStepErrorHandler(h StepErrorHandler) TrackOption {
	return func(o *trackOptions) {
		if h != nil {
			o.onError = h
		}
	}
}

// WithStepObserver registers a callback invoked after every successful step.
func WithStepObserver(fn func(StepReport)) TrackOption {
	return func(o *trackOptions) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}

func resolveTrackOptions(opts []TrackOption) trackOptions {
	o := trackOptions{
		logger:     zap.NewNop().Sugar(),
		thresholds: DefaultResetThresholds(),
		onError:    AbortOnError,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Tracker registers every frame against a fixed reference, warm-starting
// each call with the previous result. The reference never changes, so
// accuracy degrades as contact overlap with it shrinks.
type Tracker struct {
	backend    Backend
	params     Params
	reference  *SurfaceFrame
	currToRef  Transform
	trajectory Trajectory
	opts       trackOptions
}

// NewTracker starts a run whose reference is the given frame.
func NewTracker(reference *SurfaceFrame, backend Backend, params Params, opts ...TrackOption) *Tracker {
	return &Tracker{
		backend:    backend,
		params:     params,
		reference:  reference,
		currToRef:  Identity(),
		trajectory: NewTrajectory(),
		opts:       resolveTrackOptions(opts),
	}
}

// Step registers curr against the reference. A failed registration leaves
// the tracker unchanged.
func (t *Tracker) Step(curr *SurfaceFrame) (StepReport, error) {
	res, err := t.backend.Register(t.reference, curr, t.currToRef, t.params)
	if err != nil {
		return StepReport{}, err
	}
	pose := res.Transform.Inverse()
	t.currToRef = res.Transform
	t.trajectory = append(t.trajectory, pose)

	report := StepReport{
		Frame:     len(t.trajectory) - 1,
		Pose:      pose,
		CurrToRef: res.Transform,
		Fitness:   res.Fitness,
		RMSE:      res.RMSE,
		Converged: res.Converged,
	}
	report.Overlap, report.CentroidShiftMM = contactDiagnostics(t.reference, curr, t.params.PixelPitch)
	return report, nil
}

// Skip repeats the previous trajectory entry for a frame that could not be
// registered.
func (t *Tracker) Skip() {
	t.trajectory = append(t.trajectory, t.trajectory.Last())
}

// Trajectory returns a copy of the poses so far.
func (t *Tracker) Trajectory() Trajectory {
	return t.trajectory.Clone()
}

// Track runs the incremental tracker over frames. frames[0] is the
// reference; the returned trajectory has one entry per frame.
func Track(ctx context.Context, frames []*SurfaceFrame, params Params, backend Backend, opts ...TrackOption) (Trajectory, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no frames to track", ErrShapeMismatch)
	}
	tr := NewTracker(frames[0], backend, params, opts...)
	for i, frame := range frames[1:] {
		if err := ctx.Err(); err != nil {
			return tr.Trajectory(), err
		}
		idx := i + 1
		report, err := tr.Step(frame)
		if err != nil {
			if herr := tr.opts.onError(idx, err); herr != nil {
				return tr.Trajectory(), herr
			}
			tr.opts.logger.Warnw("skipping frame", "frame", idx, "error", err)
			tr.Skip()
			continue
		}
		tr.opts.logger.Debugw("tracked frame",
			"frame", idx,
			"backend", backend.Kind(),
			"fitness", report.Fitness,
			"rmse", report.RMSE,
		)
		for _, fn := range tr.opts.observers {
			fn(report)
		}
	}
	return tr.Trajectory(), nil
}
