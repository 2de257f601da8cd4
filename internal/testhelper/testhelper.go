// Package testhelper generates synthetic trajectories shared by the tests of this module.
package testhelper

import (
	"math"
)

// Helix returns n poses as x y z qx qy qz qw rows along a rising helix. The camera yaws with
// the path so no three consecutive positions are collinear.
func Helix(n int) [][7]float64 {
	rows := make([][7]float64, n)
	for i := range rows {
		theta := 0.3 * float64(i)
		rows[i] = [7]float64{
			math.Cos(theta),
			math.Sin(theta),
			0.05 * float64(i),
			0, 0, math.Sin(theta / 2), math.Cos(theta / 2),
		}
	}
	return rows
}

// Similarity maps every row through p' = s*Rz(yaw)*p + t and rotates the orientation by the same yaw.
func Similarity(rows [][7]float64, s, yaw float64, t [3]float64) [][7]float64 {
	c, sn := math.Cos(yaw), math.Sin(yaw)
	hc, hs := math.Cos(yaw/2), math.Sin(yaw/2)
	out := make([][7]float64, len(rows))
	for i, r := range rows {
		x, y, z := r[0], r[1], r[2]
		qx, qy, qz, qw := r[3], r[4], r[5], r[6]
		out[i] = [7]float64{
			s*(c*x-sn*y) + t[0],
			s*(sn*x+c*y) + t[1],
			s*z + t[2],
			// (0, 0, hs, hc) * (qx, qy, qz, qw)
			hc*qx - hs*qy,
			hc*qy + hs*qx,
			hc*qz + hs*qw,
			hc*qw - hs*qz,
		}
	}
	return out
}

// Stamps returns n timestamps starting at start, period apart.
func Stamps(n int, start, period float64) []float64 {
	stamps := make([]float64, n)
	for i := range stamps {
		stamps[i] = start + float64(i)*period
	}
	return stamps
}
