package tactile

import (
	"errors"
	"sync"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStateTracker(t *testing.T) {
	st := NewStateTracker("run-1", KindICP, 10)
	s := st.Status()
	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, KindICP, s.Method)
	assert.Equal(t, 10, s.Total)
	assert.Equal(t, 0, s.Frames)
	assert.NotNil(t, s.Resets)
	assert.Nil(t, s.LastPose)
	assert.Equal(t, Trajectory{Identity()}, st.Trajectory())
}

func TestStateTracker_Observe(t *testing.T) {
	st := NewStateTracker("", KindFPFH, 5)
	p1 := TranslationTransform(0.001, 0, 0)
	p2 := RotationZDeg(5, r3.Vector{X: 0.002})

	st.Observe(StepReport{Frame: 1, Pose: p1, Fitness: 0.9, RMSE: 1e-5})
	st.Observe(StepReport{Frame: 2, Pose: p2, Reset: true})

	s := st.Status()
	assert.Equal(t, 3, s.Frames)
	assert.Equal(t, []int{2}, s.Resets)
	require.NotNil(t, s.LastPose)
	assert.InDelta(t, 5, s.LastPose.Rz, 1e-9)
	require.NotNil(t, s.LastReport)
	assert.Equal(t, 2, s.LastReport.Frame)
	assert.Equal(t, Trajectory{Identity(), p1, p2}, st.Trajectory())
}

func TestStateTracker_ObserveFillsSkippedFrames(t *testing.T) {
	st := NewStateTracker("", KindICP, 5)
	p1 := TranslationTransform(0.001, 0, 0)
	p4 := TranslationTransform(0.004, 0, 0)

	st.Observe(StepReport{Frame: 1, Pose: p1})
	st.Observe(StepReport{Frame: 4, Pose: p4})

	assert.Equal(t, Trajectory{Identity(), p1, p1, p1, p4}, st.Trajectory())
	assert.Equal(t, 5, st.Status().Frames)
}

func TestStateTracker_ErrorsAndFinish(t *testing.T) {
	st := NewStateTracker("", KindICP, 3)
	st.RecordError(1, nil)
	assert.Empty(t, st.Status().LastError)

	st.RecordError(2, errors.New("no correspondences"))
	assert.Equal(t, "no correspondences", st.Status().LastError)

	assert.False(t, st.Status().Done)
	st.Finish()
	assert.True(t, st.Status().Done)
}

func TestStateTracker_StatusIsACopy(t *testing.T) {
	st := NewStateTracker("", KindICP, 3)
	st.Observe(StepReport{Frame: 1, Pose: Identity(), Reset: true})

	s := st.Status()
	s.Resets[0] = 99
	s.LastPose.X = 42
	s.LastReport.Frame = 7

	again := st.Status()
	assert.Equal(t, []int{1}, again.Resets)
	assert.Equal(t, 0.0, again.LastPose.X)
	assert.Equal(t, 1, again.LastReport.Frame)

	traj := st.Trajectory()
	traj[0] = TranslationTransform(1, 1, 1)
	assert.Equal(t, Identity(), st.Trajectory()[0])
}

func TestStateTracker_Reset(t *testing.T) {
	st := NewStateTracker("old", KindICP, 3)
	st.Observe(StepReport{Frame: 1, Pose: Identity(), Reset: true})
	st.Finish()

	st.Reset("new", KindFilterReg, 8)
	s := st.Status()
	assert.Equal(t, "new", s.RunID)
	assert.Equal(t, KindFilterReg, s.Method)
	assert.Equal(t, 8, s.Total)
	assert.Empty(t, s.Resets)
	assert.False(t, s.Done)
	assert.Len(t, st.Trajectory(), 1)
}

func TestStateTracker_ConcurrentAccess(t *testing.T) {
	st := NewStateTracker("", KindICP, 100)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for k := 1; k <= 100; k++ {
			st.Observe(StepReport{Frame: k, Pose: Identity()})
		}
	}()
	go func() {
		defer wg.Done()
		for k := 0; k < 100; k++ {
			_ = st.Status()
			_ = st.Trajectory()
		}
	}()
	wg.Wait()
	assert.Equal(t, 101, st.Status().Frames)
}
