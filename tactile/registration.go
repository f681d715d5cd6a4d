package tactile

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind names a registration backend.
type Kind string

const (
	// KindNormalFlow is the direct normal-map registration. It has no built-in
	// implementation and must be supplied with RegisterBackendFactory.
	KindNormalFlow Kind = "nf"
	// KindFPFH is descriptor matching with RANSAC followed by point-to-plane ICP.
	KindFPFH Kind = "fpfh"
	// KindICP is point-to-plane ICP seeded by the initial guess.
	KindICP Kind = "icp"
	// KindFilterReg is probabilistic filter registration.
	KindFilterReg Kind = "filterreg"
)

func (k Kind) String() string { return string(k) }

// ParseKind validates a backend name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindNormalFlow, KindFPFH, KindICP, KindFilterReg:
		return k, nil
	}
	return "", fmt.Errorf("unknown registration method %q (want one of nf, fpfh, icp, filterreg)", s)
}

// Params are the per-call inputs shared by all backends.
type Params struct {
	PixelPitch float64 // millimeters per pixel
	SampleCap  int     // 0 uses every contact point
}

// Result is the outcome of one registration call.
type Result struct {
	// Transform maps reference-frame coordinates into target-frame
	// coordinates (tar_T_ref), in meters.
	Transform  Transform
	Fitness    float64 // inlier fraction of the final refinement
	RMSE       float64 // inlier residual in meters
	Iterations int
	Converged  bool
}

// Backend computes the rigid transform between two tactile frames.
//
// Register returns tar_T_ref: applying it to a point expressed in the
// reference frame yields the same point as seen from the target frame. All
// backends accept an identity guess and fail with ErrInsufficientContact when
// either frame has fewer than MinContactPoints contact pixels.
//
// Backends hold a random source and are not safe for concurrent use; give
// each trajectory its own instance.
type Backend interface {
	Kind() Kind
	Register(ref, tar *SurfaceFrame, guess Transform, params Params) (Result, error)
}

// BackendOptions carries the resolved configuration passed to factories.
type BackendOptions struct {
	Logger    *zap.SugaredLogger
	Rand      *rand.Rand
	ICP       ICPConfig
	FPFH      FPFHConfig
	RANSAC    RANSACConfig
	FilterReg FilterRegConfig
}

// Option configures a backend.
type Option func(*BackendOptions)

// WithLogger sets the logger used for convergence and diagnostic messages.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *BackendOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// WithRand sets the random source used for subsampling and RANSAC.
func WithRand(r *rand.Rand) Option {
	return func(o *BackendOptions) {
		if r != nil {
			o.Rand = r
		}
	}
}

// WithSeed seeds a fresh random source.
func WithSeed(seed int64) Option {
	return func(o *BackendOptions) {
		o.Rand = rand.New(rand.NewSource(seed))
	}
}

// WithICPConfig overrides the point-to-plane ICP parameters.
func WithICPConfig(c ICPConfig) Option {
	return func(o *BackendOptions) { o.ICP = c }
}

// WithFPFHConfig overrides the descriptor parameters.
func WithFPFHConfig(c FPFHConfig) Option {
	return func(o *BackendOptions) { o.FPFH = c }
}

// WithRANSACConfig overrides the consensus parameters.
func WithRANSACConfig(c RANSACConfig) Option {
	return func(o *BackendOptions) { o.RANSAC = c }
}

// WithFilterRegConfig overrides the filter registration parameters.
func WithFilterRegConfig(c FilterRegConfig) Option {
	return func(o *BackendOptions) { o.FilterReg = c }
}

// ResolveOptions applies opts over the defaults.
func ResolveOptions(opts ...Option) BackendOptions {
	o := BackendOptions{
		Logger:    zap.NewNop().Sugar(),
		ICP:       DefaultICPConfig(),
		FPFH:      DefaultFPFHConfig(),
		RANSAC:    DefaultRANSACConfig(),
		FilterReg: DefaultFilterRegConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return o
}

// BackendFactory constructs a backend from resolved options.
type BackendFactory func(BackendOptions) (Backend, error)

var (
	factoryMu sync.RWMutex
	factories = map[Kind]BackendFactory{
		KindFPFH:      func(o BackendOptions) (Backend, error) { return newFPFHBackend(o), nil },
		KindICP:       func(o BackendOptions) (Backend, error) { return newICPBackend(o), nil },
		KindFilterReg: func(o BackendOptions) (Backend, error) { return newFilterRegBackend(o), nil },
	}
)

// RegisterBackendFactory installs or replaces the factory for kind.
func RegisterBackendFactory(kind Kind, f BackendFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[kind] = f
}

// AvailableKinds lists kinds with an installed factory, sorted.
func AvailableKinds() []Kind {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	kinds := make([]Kind, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// NewBackend builds the backend for kind.
func NewBackend(kind Kind, opts ...Option) (Backend, error) {
	factoryMu.RLock()
	f, ok := factories[kind]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBackendUnavailable, kind)
	}
	return f(ResolveOptions(opts...))
}

// betterResult orders refinements by fitness, then by residual.
func betterResult(a, b Result) bool {
	if a.Fitness != b.Fitness {
		return a.Fitness > b.Fitness
	}
	return a.RMSE < b.RMSE
}
