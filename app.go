package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/kwv/tactiletrack/tactile"
	"github.com/kwv/tactiletrack/tactile/store"
)

// App encapsulates the application state and dependencies
type App struct {
	Options      AppOptions
	Config       *tactile.Config
	Logger       *zap.SugaredLogger
	StateTracker *tactile.StateTracker
	MQTTClient   *tactile.MQTTClient
	Publisher    *tactile.Publisher
	Store        *store.Store

	out         io.Writer
	loadDataset func(dir string) ([]tactile.GradientFrame, error)
	lastResult  *RunResult
}

// RunResult summarizes a finished tracking run.
type RunResult struct {
	RunID      string
	Method     tactile.Kind
	Trajectory tactile.Trajectory
	Resets     []int
	Reports    []tactile.StepReport
	OutputFile string
	Comparison *tactile.Comparison
}

// NewApp creates a new App instance
func NewApp(out io.Writer) *App {
	if out == nil {
		out = io.Discard
	}
	return &App{
		out:         out,
		loadDataset: tactile.LoadDataset,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.Options = opts
	if a.Logger == nil {
		a.Logger = tactile.NewLogger("tactiletrack", opts.Debug)
	}
}

// loadConfig reads the config file and applies command line overrides. A
// missing default config file falls back to the built-in sensor defaults.
func (a *App) loadConfig() error {
	if a.Config != nil {
		return a.applyOverrides()
	}
	cfg, err := tactile.LoadConfig(a.Options.ConfigFile)
	if err != nil {
		if _, statErr := os.Stat(a.Options.ConfigFile); !errors.Is(statErr, os.ErrNotExist) || a.Options.ConfigFile != "config.yaml" {
			return err
		}
		a.Logger.Infow("no config file, using defaults", "path", a.Options.ConfigFile)
		cfg = tactile.DefaultConfig()
	}
	a.Config = cfg
	return a.applyOverrides()
}

func (a *App) applyOverrides() error {
	o := a.Options
	t := &a.Config.Tracking
	if o.Method != "" {
		kind, err := tactile.ParseKind(o.Method)
		if err != nil {
			return err
		}
		t.Method = kind
	}
	if o.LongHorizon {
		t.LongHorizon = true
	}
	if o.Samples >= 0 {
		t.Samples = o.Samples
	}
	if o.SeedSet {
		seed := o.Seed
		t.Seed = &seed
	}
	if o.StorePath != "" {
		a.Config.Store = o.StorePath
	}
	return a.Config.Validate()
}

// frames reconstructs a SurfaceFrame for every reading in the dataset.
func (a *App) frames() ([]*tactile.SurfaceFrame, error) {
	grads, err := a.loadDataset(a.Options.ParentDir)
	if err != nil {
		return nil, err
	}
	if len(grads) == 0 {
		return nil, fmt.Errorf("dataset %s holds no frames", a.Options.ParentDir)
	}
	if g := grads[0]; g.Width != a.Config.ImgW || g.Height != a.Config.ImgH {
		a.Logger.Warnw("dataset size differs from config",
			"dataset", fmt.Sprintf("%dx%d", g.Width, g.Height),
			"config", fmt.Sprintf("%dx%d", a.Config.ImgW, a.Config.ImgH))
	}

	frames := make([]*tactile.SurfaceFrame, len(grads))
	for i, g := range grads {
		f, err := tactile.FrameFromGradients(g, a.Config.ErodeSize)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		f.Index = i
		frames[i] = f
	}
	return frames, nil
}

func (a *App) backend() (tactile.Backend, error) {
	opts := []tactile.Option{tactile.WithLogger(a.Logger.Named("registration"))}
	if seed := a.Config.Tracking.Seed; seed != nil {
		opts = append(opts, tactile.WithSeed(*seed))
	}
	return tactile.NewBackend(a.Config.Tracking.Method, opts...)
}

// connect opens the optional store and MQTT connection.
func (a *App) connect() error {
	if a.Store == nil && a.Config.Store != "" {
		s, err := store.Open(a.Config.Store)
		if err != nil {
			return err
		}
		a.Store = s
	}
	if a.Options.MqttMode && a.Publisher == nil {
		if a.MQTTClient == nil {
			a.MQTTClient = tactile.ConnectMQTT(a.Config.MQTT, a.Logger.Named("mqtt"))
		}
		if a.MQTTClient != nil {
			a.Publisher = tactile.NewPublisher(a.MQTTClient.Client(), a.Config.MQTT.PublishPrefix)
		}
	}
	return nil
}

// Close releases the store and MQTT connection.
func (a *App) Close() error {
	var err error
	if a.Store != nil {
		err = multierr.Append(err, a.Store.Close())
		a.Store = nil
	}
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return err
}

// RunTrack tracks the dataset in ParentDir and writes the results.
func (a *App) RunTrack(ctx context.Context) error {
	defer a.Close()
	_, err := a.track(ctx)
	return err
}

// RunService tracks the dataset while serving its progress over HTTP and
// keeps serving until ctx is canceled.
func (a *App) RunService(ctx context.Context) error {
	defer a.Close()
	if err := a.loadConfig(); err != nil {
		return err
	}
	a.StateTracker = tactile.NewStateTracker("", a.Config.Tracking.Method, 0)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Options.HttpPort),
		Handler:           newHTTPServer(a.StateTracker, a.Logger.Named("http")),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.Logger.Infow("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	if _, err := a.track(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Errorw("tracking failed", "error", err)
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// RunListRuns prints the runs recorded in the store.
func (a *App) RunListRuns(ctx context.Context) error {
	defer a.Close()
	if err := a.loadConfig(); err != nil {
		return err
	}
	if a.Config.Store == "" {
		return fmt.Errorf("no store configured: pass -store or set store in the config")
	}
	if err := a.connect(); err != nil {
		return err
	}
	runs, err := a.Store.Runs().List(ctx)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(a.out, "No runs recorded")
		return nil
	}
	for _, r := range runs {
		mode := "incremental"
		if r.LongHorizon {
			mode = "long-horizon"
		}
		fmt.Fprintf(a.out, "%s  %s  %-9s %-12s %-8s frames=%d resets=%d\n",
			r.ID, r.CreatedAt.Format(time.RFC3339), r.Method, mode, r.Status, r.Frames, len(r.Resets))
	}
	return nil
}

func (a *App) track(ctx context.Context) (*RunResult, error) {
	if err := a.loadConfig(); err != nil {
		return nil, err
	}
	if err := a.connect(); err != nil {
		return nil, err
	}
	frames, err := a.frames()
	if err != nil {
		return nil, err
	}
	backend, err := a.backend()
	if err != nil {
		return nil, err
	}

	cfg := a.Config
	method := cfg.Tracking.Method
	runID := uuid.NewString()
	if a.Store != nil {
		run, err := a.Store.Runs().Create(ctx, store.Run{
			ID:          runID,
			Method:      string(method),
			PixelPitch:  cfg.PPMM,
			LongHorizon: cfg.Tracking.LongHorizon,
		})
		if err != nil {
			return nil, err
		}
		runID = run.ID
	}
	if a.StateTracker == nil {
		a.StateTracker = tactile.NewStateTracker(runID, method, len(frames))
	} else {
		a.StateTracker.Reset(runID, method, len(frames))
	}

	log := a.Logger.With("run", runID, "method", method)
	log.Infow("tracking started",
		"frames", len(frames),
		"longHorizon", cfg.Tracking.LongHorizon,
		"pixelPitch", cfg.PPMM,
	)

	result := &RunResult{RunID: runID, Method: method}
	if a.previewDirReady() {
		if err := a.writePreview(frames[0], ""); err != nil {
			return nil, a.failRun(ctx, result, err)
		}
	}

	var reports []tactile.StepReport
	var observeErr error
	opts := []tactile.TrackOption{
		tactile.WithTrackLogger(log.Named("tracker")),
		tactile.WithResetThresholds(cfg.Tracking.ResetThresholds),
		tactile.WithStepErrorHandler(func(frame int, err error) error {
			a.StateTracker.RecordError(frame, err)
			return tactile.AbortOnError(frame, err)
		}),
		tactile.WithStepObserver(a.StateTracker.Observe),
		tactile.WithStepObserver(func(r tactile.StepReport) {
			reports = append(reports, r)
			if a.Publisher != nil {
				if err := a.Publisher.PublishStep(runID, r); err != nil {
					log.Debugw("pose not published", "frame", r.Frame, "error", err)
				}
			}
			if a.Options.PreviewDir != "" {
				note := ""
				if r.Reset {
					note = "reset"
				}
				observeErr = multierr.Append(observeErr, a.writePreview(frames[r.Frame], note))
			}
		}),
	}

	if cfg.Tracking.LongHorizon {
		lh, err := tactile.TrackLongHorizon(ctx, frames, cfg.Params(), backend, opts...)
		result.Trajectory, result.Resets = lh.Trajectory, lh.Resets
		if err != nil {
			return nil, a.failRun(ctx, result, err)
		}
	} else {
		traj, err := tactile.Track(ctx, frames, cfg.Params(), backend, opts...)
		result.Trajectory = traj
		if err != nil {
			return nil, a.failRun(ctx, result, err)
		}
	}
	result.Reports = reports
	a.StateTracker.Finish()
	if observeErr != nil {
		log.Warnw("some frame previews could not be written", "error", observeErr)
	}

	if err := a.saveResult(ctx, result); err != nil {
		return nil, a.failRun(ctx, result, err)
	}
	log.Infow("tracking finished",
		"frames", len(result.Trajectory),
		"resets", len(result.Resets),
		"output", result.OutputFile,
	)
	a.lastResult = result
	return result, nil
}

// previewDirReady creates the preview directory when one is configured.
func (a *App) previewDirReady() bool {
	if a.Options.PreviewDir == "" {
		return false
	}
	if err := os.MkdirAll(a.Options.PreviewDir, 0755); err != nil {
		a.Logger.Warnw("cannot create preview directory", "path", a.Options.PreviewDir, "error", err)
		return false
	}
	return true
}

func (a *App) writePreview(f *tactile.SurfaceFrame, note string) error {
	path := filepath.Join(a.Options.PreviewDir, fmt.Sprintf("frame_%04d.png", f.Index))
	return tactile.SavePreviewPNG(path, tactile.RenderFramePreview(f, note))
}

// saveResult writes the trajectory file, the store rows, the comparison
// against ground truth and any requested renderings.
func (a *App) saveResult(ctx context.Context, r *RunResult) error {
	outDir := a.Options.OutputDir
	if outDir == "" {
		outDir = a.Options.ParentDir
	}
	r.OutputFile = filepath.Join(outDir, tactile.TrajectoryFileName(r.Method))
	err := tactile.SaveTrajectory(r.OutputFile, tactile.TrajectoryFile{
		Method:      r.Method,
		PixelPitch:  a.Config.PPMM,
		LongHorizon: a.Config.Tracking.LongHorizon,
		Resets:      r.Resets,
		CreatedAt:   time.Now().UTC(),
		Transforms:  r.Trajectory,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved %d transforms to %s\n", len(r.Trajectory), r.OutputFile)

	if a.Store != nil {
		if err := a.persist(ctx, r); err != nil {
			return err
		}
	}

	truth, err := a.loadTruth()
	if err != nil {
		return err
	}
	if truth != nil {
		cmp, err := tactile.CompareTrajectories(r.Trajectory, truth)
		if err != nil {
			return fmt.Errorf("comparing with ground truth: %w", err)
		}
		r.Comparison = &cmp
		s := cmp.Stats
		fmt.Fprintf(a.out, "Translation error: mean %.3f mm, std %.3f mm, max %.3f mm, final %.3f mm\n",
			s.MeanTranslationMM, s.StdTranslationMM, s.MaxTranslationMM, s.FinalTranslationMM)
		fmt.Fprintf(a.out, "Rotation error:    mean %.3f deg, std %.3f deg, max %.3f deg, final %.3f deg\n",
			s.MeanRotationDeg, s.StdRotationDeg, s.MaxRotationDeg, s.FinalRotationDeg)
	}

	var renderErr error
	if a.Options.RenderFile != "" {
		renderErr = multierr.Append(renderErr, a.render(r))
	}
	if a.Options.PlotFile != "" {
		renderErr = multierr.Append(renderErr, a.plot(r, truth))
	}
	return renderErr
}

// failRun marks the stored run failed and returns cause. A run that was
// already finished keeps its state.
func (a *App) failRun(ctx context.Context, r *RunResult, cause error) error {
	if a.Store == nil {
		return cause
	}
	err := a.Store.Runs().Fail(context.WithoutCancel(ctx), r.RunID, len(r.Trajectory), r.Resets, cause)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		a.Logger.Warnw("could not record failed run", "run", r.RunID, "error", err)
	}
	return cause
}

func (a *App) persist(ctx context.Context, r *RunResult) error {
	isReset := make(map[int]bool, len(r.Resets))
	for _, f := range r.Resets {
		isReset[f] = true
	}
	for i, pose := range r.Trajectory {
		if err := a.Store.Poses().Append(ctx, r.RunID, i, pose, isReset[i]); err != nil {
			return err
		}
	}
	return a.Store.Runs().Finish(ctx, r.RunID, len(r.Trajectory), r.Resets)
}

// loadTruth reads the -truth file, or true_transforms.npy next to the
// dataset when present.
func (a *App) loadTruth() (tactile.Trajectory, error) {
	path := a.Options.TruthFile
	if path == "" {
		candidate := filepath.Join(a.Options.ParentDir, tactile.TrueTransformsFile)
		if _, err := os.Stat(candidate); err != nil {
			return nil, nil
		}
		path = candidate
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		tf, err := tactile.LoadTrajectory(path)
		if err != nil {
			return nil, err
		}
		return tf.Transforms, nil
	}
	return tactile.LoadTransformsNPY(path)
}

func (a *App) render(r *RunResult) error {
	f, err := os.Create(a.Options.RenderFile)
	if err != nil {
		return fmt.Errorf("creating render file: %w", err)
	}
	renderer := tactile.NewTrajectoryRenderer(r.Trajectory, r.Resets)
	if strings.EqualFold(filepath.Ext(a.Options.RenderFile), ".png") {
		err = renderer.RenderToPNG(f)
	} else {
		err = renderer.RenderToSVG(f)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("rendering trajectory: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Rendered trajectory to %s\n", a.Options.RenderFile)
	return nil
}

func (a *App) plot(r *RunResult, truth tactile.Trajectory) error {
	p, err := tactile.PosePlot(r.Trajectory, truth, r.Resets)
	if err != nil {
		return err
	}
	if err := tactile.SavePlot(a.Options.PlotFile, p); err != nil {
		return fmt.Errorf("saving pose plot: %w", err)
	}
	fmt.Fprintf(a.out, "Plotted poses to %s\n", a.Options.PlotFile)

	if !a.Config.Tracking.LongHorizon {
		return nil
	}
	drift, err := tactile.DriftPlot(r.Reports, a.Config.Tracking.ResetThresholds)
	if err != nil {
		a.Logger.Debugw("no drift plot", "error", err)
		return nil
	}
	ext := filepath.Ext(a.Options.PlotFile)
	driftFile := strings.TrimSuffix(a.Options.PlotFile, ext) + "_drift" + ext
	if err := tactile.SavePlot(driftFile, drift); err != nil {
		return fmt.Errorf("saving drift plot: %w", err)
	}
	fmt.Fprintf(a.out, "Plotted drift errors to %s\n", driftFile)
	return nil
}
