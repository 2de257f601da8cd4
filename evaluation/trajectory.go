// Package evaluation scores an estimated camera trajectory against a ground-truth reference.
package evaluation

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/viamrobotics/viam-slam-eval/engine"
)

// Trajectory is a time-sorted sequence of poses.
type Trajectory struct {
	Timestamps   []float64
	Positions    []r3.Vector
	Orientations []quat.Number
}

// NewTrajectory pairs every pose with its timestamp.
func NewTrajectory(timestamps []float64, poses []engine.Pose) (*Trajectory, error) {
	if len(timestamps) != len(poses) {
		return nil, errors.Errorf("trajectory has %d timestamps but %d poses", len(timestamps), len(poses))
	}
	traj := &Trajectory{
		Timestamps:   append([]float64(nil), timestamps...),
		Positions:    make([]r3.Vector, len(poses)),
		Orientations: make([]quat.Number, len(poses)),
	}
	for i, p := range poses {
		traj.Positions[i] = p.Position
		traj.Orientations[i] = p.Orientation
	}
	if err := traj.check(); err != nil {
		return nil, err
	}
	return traj, nil
}

// Len returns the number of poses.
func (t *Trajectory) Len() int {
	return len(t.Timestamps)
}

// Pose returns the i-th pose.
func (t *Trajectory) Pose(i int) engine.Pose {
	return engine.Pose{Position: t.Positions[i], Orientation: t.Orientations[i]}
}

// subset keeps the poses at ids, in that order.
func (t *Trajectory) subset(ids []int) *Trajectory {
	out := &Trajectory{
		Timestamps:   make([]float64, len(ids)),
		Positions:    make([]r3.Vector, len(ids)),
		Orientations: make([]quat.Number, len(ids)),
	}
	for i, id := range ids {
		out.Timestamps[i] = t.Timestamps[id]
		out.Positions[i] = t.Positions[id]
		out.Orientations[i] = t.Orientations[id]
	}
	return out
}

func (t *Trajectory) check() error {
	if len(t.Positions) != len(t.Timestamps) || len(t.Orientations) != len(t.Timestamps) {
		return errors.Errorf("trajectory has %d timestamps, %d positions and %d orientations",
			len(t.Timestamps), len(t.Positions), len(t.Orientations))
	}
	for i := 1; i < len(t.Timestamps); i++ {
		if t.Timestamps[i] < t.Timestamps[i-1] {
			return errors.Errorf("trajectory timestamps are not sorted at pose %d (%v after %v)",
				i, t.Timestamps[i], t.Timestamps[i-1])
		}
	}
	return nil
}
