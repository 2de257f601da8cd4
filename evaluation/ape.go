package evaluation

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// AlignOptions selects how the estimate is registered to the reference before errors are measured.
type AlignOptions struct {
	// Align estimates rotation and translation.
	Align bool
	// CorrectScale estimates scale as well. Without Align only the scale is corrected.
	CorrectScale bool
}

// APEResult holds the translation part of the absolute pose error.
type APEResult struct {
	Alignment Alignment
	Aligned   *Trajectory
	Errors    []float64
	Report    *Report
}

// APE registers est to ref and measures, for every associated pose pair, the distance between
// reference and aligned estimate positions. ref and est must already be associated.
func APE(ref, est *Trajectory, opts AlignOptions) (*APEResult, error) {
	if ref.Len() != est.Len() {
		return nil, errors.Errorf("reference has %d poses but estimate has %d, associate them first", ref.Len(), est.Len())
	}
	alignment, err := register(ref, est, opts)
	if err != nil {
		return nil, err
	}
	aligned := alignment.Apply(est)

	errs := make([]float64, ref.Len())
	for i := range errs {
		errs[i] = ref.Positions[i].Sub(aligned.Positions[i]).Norm()
	}
	report, err := newReport("ape", errs)
	if err != nil {
		return nil, err
	}
	return &APEResult{Alignment: alignment, Aligned: aligned, Errors: errs, Report: report}, nil
}

func register(ref, est *Trajectory, opts AlignOptions) (Alignment, error) {
	if !opts.Align && !opts.CorrectScale {
		return IdentityAlignment(), nil
	}
	alignment, err := Umeyama(est.Positions, ref.Positions, opts.CorrectScale)
	if err != nil {
		return Alignment{}, errors.Wrap(err, "error aligning estimate to reference")
	}
	if !opts.Align {
		scaleOnly := IdentityAlignment()
		scaleOnly.Scale = alignment.Scale
		return scaleOnly, nil
	}
	return alignment, nil
}

// DefaultRPEDelta is the frame distance between the poses of a relative pose error pair.
const DefaultRPEDelta = 1

// RPE measures the translation part of the relative pose error over the pose pairs (i, i+delta).
// ref and est must already be associated.
func RPE(ref, est *Trajectory, delta int, opts AlignOptions) (*Report, error) {
	if ref.Len() != est.Len() {
		return nil, errors.Errorf("reference has %d poses but estimate has %d, associate them first", ref.Len(), est.Len())
	}
	if delta < 1 {
		return nil, errors.Errorf("rpe delta must be positive, got %d", delta)
	}
	if ref.Len() <= delta {
		return nil, errors.Errorf("rpe needs more than %d poses, got %d", delta, ref.Len())
	}
	alignment, err := register(ref, est, opts)
	if err != nil {
		return nil, err
	}
	aligned := alignment.Apply(est)

	errs := make([]float64, 0, ref.Len()-delta)
	for i := 0; i+delta < ref.Len(); i++ {
		j := i + delta
		refStep := relativeTranslation(ref, i, j)
		estStep := relativeTranslation(aligned, i, j)
		// the error pose inv(refRel)*estRel has translation R^T(estStep-refStep), with the same norm
		errs = append(errs, estStep.Sub(refStep).Norm())
	}
	return newReport("rpe", errs)
}

// relativeTranslation returns the position of pose j in the camera frame of pose i.
func relativeTranslation(traj *Trajectory, i, j int) r3.Vector {
	q := normalize(traj.Orientations[i])
	d := traj.Positions[j].Sub(traj.Positions[i])
	v := quat.Mul(quat.Mul(quat.Conj(q), quat.Number{Imag: d.X, Jmag: d.Y, Kmag: d.Z}), q)
	return r3.Vector{X: v.Imag, Y: v.Jmag, Z: v.Kmag}
}

func normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}
