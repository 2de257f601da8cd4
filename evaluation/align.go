package evaluation

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// ErrDegenerateAlignment is returned when the correspondences do not determine a unique alignment.
var ErrDegenerateAlignment = errors.New("degenerate alignment")

// Alignment is the similarity transform p' = Scale * Rotation * p + Translation.
type Alignment struct {
	Rotation    *mat.Dense
	Translation r3.Vector
	Scale       float64
}

// IdentityAlignment leaves trajectories unchanged.
func IdentityAlignment() Alignment {
	return Alignment{Rotation: eye3(), Scale: 1}
}

// Umeyama returns the least-squares similarity transform mapping the points x onto y. The
// scale is only estimated when withScale is set, otherwise it is 1.
//
// S. Umeyama, "Least-squares estimation of transformation parameters between two point
// patterns", IEEE PAMI 1991.
func Umeyama(x, y []r3.Vector, withScale bool) (Alignment, error) {
	n := len(x)
	if n != len(y) {
		return Alignment{}, errors.Errorf("cannot align %d points with %d points", n, len(y))
	}
	if n < 3 {
		return Alignment{}, errors.Wrapf(ErrDegenerateAlignment, "need at least 3 correspondences, got %d", n)
	}

	meanX, meanY := centroid(x), centroid(y)
	var sigmaX float64
	cov := mat.NewDense(3, 3, nil)
	for i := range x {
		dx, dy := x[i].Sub(meanX), y[i].Sub(meanY)
		sigmaX += dx.Norm2()
		outer := mat.NewDense(3, 3, []float64{
			dy.X * dx.X, dy.X * dx.Y, dy.X * dx.Z,
			dy.Y * dx.X, dy.Y * dx.Y, dy.Y * dx.Z,
			dy.Z * dx.X, dy.Z * dx.Y, dy.Z * dx.Z,
		})
		cov.Add(cov, outer)
	}
	sigmaX /= float64(n)
	cov.Scale(1/float64(n), cov)

	var svd mat.SVD
	if ok := svd.Factorize(cov, mat.SVDFull); !ok {
		return Alignment{}, errors.Wrap(ErrDegenerateAlignment, "covariance SVD failed to converge")
	}
	values := svd.Values(nil)
	if rank(values) < 2 {
		return Alignment{}, errors.Wrap(ErrDegenerateAlignment, "covariance rank is below 2")
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	s := eye3()
	if mat.Det(&u)*mat.Det(&v) < 0 {
		s.Set(2, 2, -1)
	}
	var rot mat.Dense
	rot.Product(&u, s, v.T())

	c := 1.0
	if withScale {
		if sigmaX == 0 {
			return Alignment{}, errors.Wrap(ErrDegenerateAlignment, "estimate has no spread")
		}
		var traceDS float64
		for i, d := range values {
			traceDS += d * s.At(i, i)
		}
		c = traceDS / sigmaX
	}

	rotated := rotate(&rot, meanX)
	t := meanY.Sub(rotated.Mul(c))
	return Alignment{Rotation: &rot, Translation: t, Scale: c}, nil
}

// Apply returns a copy of traj with every pose transformed.
func (a Alignment) Apply(traj *Trajectory) *Trajectory {
	qR := rotationToQuat(a.Rotation)
	out := &Trajectory{
		Timestamps:   append([]float64(nil), traj.Timestamps...),
		Positions:    make([]r3.Vector, traj.Len()),
		Orientations: make([]quat.Number, traj.Len()),
	}
	for i := range traj.Timestamps {
		out.Positions[i] = rotate(a.Rotation, traj.Positions[i]).Mul(a.Scale).Add(a.Translation)
		out.Orientations[i] = quat.Mul(qR, traj.Orientations[i])
	}
	return out
}

func centroid(points []r3.Vector) r3.Vector {
	var sum r3.Vector
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(points)))
}

func eye3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

func rotate(r mat.Matrix, p r3.Vector) r3.Vector {
	return r3.Vector{
		X: r.At(0, 0)*p.X + r.At(0, 1)*p.Y + r.At(0, 2)*p.Z,
		Y: r.At(1, 0)*p.X + r.At(1, 1)*p.Y + r.At(1, 2)*p.Z,
		Z: r.At(2, 0)*p.X + r.At(2, 1)*p.Y + r.At(2, 2)*p.Z,
	}
}

// rank counts singular values above the same tolerance numpy's matrix_rank uses.
func rank(values []float64) int {
	if len(values) == 0 {
		return 0
	}
	tol := values[0] * 3 * 2.220446049250313e-16
	r := 0
	for _, v := range values {
		if v > tol {
			r++
		}
	}
	return r
}

// rotationToQuat converts a rotation matrix to a unit quaternion.
func rotationToQuat(r mat.Matrix) quat.Number {
	m00, m01, m02 := r.At(0, 0), r.At(0, 1), r.At(0, 2)
	m10, m11, m12 := r.At(1, 0), r.At(1, 1), r.At(1, 2)
	m20, m21, m22 := r.At(2, 0), r.At(2, 1), r.At(2, 2)

	var q quat.Number
	switch tr := m00 + m11 + m22; {
	case tr > 0:
		s := 2 * math.Sqrt(tr+1)
		q = quat.Number{Real: s / 4, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = quat.Number{Real: (m21 - m12) / s, Imag: s / 4, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: s / 4, Kmag: (m12 + m21) / s}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: s / 4}
	}
	return normalize(q)
}
