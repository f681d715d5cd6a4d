package tactile

import (
	"sync"
	"time"
)

// RunStatus is the snapshot served by the status endpoint.
type RunStatus struct {
	RunID      string      `json:"runId,omitempty"`
	Method     Kind        `json:"method"`
	Frames     int         `json:"frames"`
	Total      int         `json:"total"`
	Resets     []int       `json:"resets"`
	LastPose   *PoseVector `json:"lastPose,omitempty"`
	LastError  string      `json:"lastError,omitempty"`
	Done       bool        `json:"done"`
	StartedAt  time.Time   `json:"startedAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
	Fitness    float64     `json:"fitness"`
	RMSE       float64     `json:"rmse"`
	LastReport *StepReport `json:"lastReport,omitempty"`
}

// StateTracker tracks the progress of a run for HTTP endpoints
type StateTracker struct {
	mu         sync.RWMutex
	status     RunStatus
	trajectory Trajectory
}

// NewStateTracker creates a state tracker for a run over total frames.
func NewStateTracker(runID string, method Kind, total int) *StateTracker {
	now := time.Now()
	return &StateTracker{
		status: RunStatus{
			RunID:     runID,
			Method:    method,
			Total:     total,
			Resets:    []int{},
			StartedAt: now,
			UpdatedAt: now,
		},
		trajectory: NewTrajectory(),
	}
}

// Reset starts tracking a new run, discarding the previous one.
func (st *StateTracker) Reset(runID string, method Kind, total int) {
	fresh := NewStateTracker(runID, method, total)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status = fresh.status
	st.trajectory = fresh.trajectory
}

// Observe records one processed frame. It matches the signature expected by
// WithStepObserver.
func (st *StateTracker) Observe(r StepReport) {
	st.mu.Lock()
	defer st.mu.Unlock()

	// skipped frames repeat the previous pose
	for len(st.trajectory) < r.Frame {
		st.trajectory = append(st.trajectory, st.trajectory.Last())
	}
	st.trajectory = append(st.trajectory[:r.Frame], r.Pose)
	st.status.Frames = len(st.trajectory)
	pose := r.Pose.Pose()
	st.status.LastPose = &pose
	st.status.Fitness = r.Fitness
	st.status.RMSE = r.RMSE
	if r.Reset {
		st.status.Resets = append(st.status.Resets, r.Frame)
	}
	report := r
	st.status.LastReport = &report
	st.status.UpdatedAt = time.Now()
}

// RecordError stores the most recent step failure.
func (st *StateTracker) RecordError(frame int, err error) {
	if err == nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status.LastError = err.Error()
	st.status.UpdatedAt = time.Now()
}

// Finish marks the run complete.
func (st *StateTracker) Finish() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status.Done = true
	st.status.UpdatedAt = time.Now()
}

// Status returns a copy of the current status.
func (st *StateTracker) Status() RunStatus {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s := st.status
	s.Resets = append([]int(nil), st.status.Resets...)
	if st.status.LastPose != nil {
		pose := *st.status.LastPose
		s.LastPose = &pose
	}
	if st.status.LastReport != nil {
		report := *st.status.LastReport
		s.LastReport = &report
	}
	return s
}

// Trajectory returns a copy of the poses recorded so far.
func (st *StateTracker) Trajectory() Trajectory {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.trajectory.Clone()
}
