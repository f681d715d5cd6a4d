package tactile

// Trajectory holds one pose per tracked frame, each expressed relative to
// the start frame. Index 0 is the identity and entries are only appended.
type Trajectory []Transform

// NewTrajectory returns a trajectory containing only the start frame.
func NewTrajectory() Trajectory {
	return Trajectory{Identity()}
}

// Last returns the most recent pose, or the identity for an empty trajectory.
func (t Trajectory) Last() Transform {
	if len(t) == 0 {
		return Identity()
	}
	return t[len(t)-1]
}

// Poses converts every entry into a PoseVector.
func (t Trajectory) Poses() []PoseVector {
	out := make([]PoseVector, len(t))
	for i, tr := range t {
		out[i] = tr.Pose()
	}
	return out
}

// Clone returns an independent copy.
func (t Trajectory) Clone() Trajectory {
	out := make(Trajectory, len(t))
	copy(out, t)
	return out
}

// StepReport describes one processed frame.
type StepReport struct {
	Frame     int       `json:"frame"`
	Pose      Transform `json:"pose"`      // start_T_curr appended to the trajectory
	CurrToRef Transform `json:"currToRef"` // authoritative curr_T_ref after any reset
	Fitness   float64   `json:"fitness"`
	RMSE      float64   `json:"rmse"`
	Converged bool      `json:"converged"`

	// Drift check, only set by the long-horizon tracker once a previous
	// frame exists.
	Checked          bool       `json:"checked"`
	Error            PoseVector `json:"error"`
	RotationError    float64    `json:"rotationError"`    // degrees
	TranslationError float64    `json:"translationError"` // millimeters
	Reset            bool       `json:"reset"`
	ResetCount       int        `json:"resetCount"`

	// Contact diagnostics between the reference in use and the current frame.
	Overlap         float64 `json:"overlap"`
	CentroidShiftMM float64 `json:"centroidShiftMM"`
}
