// Package calibration holds the fixed camera calibration of a recorded dataset and
// produces undistorted images and rescaled intrinsics from it.
package calibration

import (
	"github.com/pkg/errors"
	"go.viam.com/rdk/rimage/transform"
)

// D435i is the preset name of the rover RealSense D435i color camera.
const D435i = "d435i"

// Model is a pinhole camera with Brown-Conrady distortion. It is immutable once built.
type Model struct {
	intrinsics transform.PinholeCameraIntrinsics
	distortion transform.BrownConrady
}

// NewModel validates the intrinsics and builds a Model. The distortion coefficients are
// given in the [k1, k2, p1, p2] order used by recorded datasets.
func NewModel(intrinsics transform.PinholeCameraIntrinsics, distortion [4]float64) (*Model, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "invalid calibration intrinsics")
	}
	bc := transform.BrownConrady{
		RadialK1:     distortion[0],
		RadialK2:     distortion[1],
		TangentialP1: distortion[2],
		TangentialP2: distortion[3],
	}
	if err := bc.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "invalid calibration distortion_parameters")
	}
	return &Model{intrinsics: intrinsics, distortion: bc}, nil
}

// Preset returns the calibration of a known sensor.
func Preset(name string) (*Model, error) {
	switch name {
	case D435i:
		return NewModel(
			transform.PinholeCameraIntrinsics{
				Width:  640,
				Height: 480,
				Fx:     596.1950425915236,
				Fy:     593.1411835433107,
				Ppx:    327.0463454538411,
				Ppy:    245.16142133264628,
			},
			[4]float64{0.07561607662577634, -0.2088729975389971, -0.0023347441072184756, 0.004010356017731083},
		)
	default:
		return nil, errors.Errorf("no calibration preset named %q", name)
	}
}

// Intrinsics returns a copy of the model's intrinsics.
func (m *Model) Intrinsics() transform.PinholeCameraIntrinsics {
	return m.intrinsics
}

// Distortion returns a copy of the model's distortion parameters.
func (m *Model) Distortion() transform.BrownConrady {
	return m.distortion
}

// ScaleIntrinsics returns intrinsics for an image resized from (w0, h0) to (w1, h1).
// Fx and Ppx scale with the width ratio, Fy and Ppy with the height ratio.
func ScaleIntrinsics(in transform.PinholeCameraIntrinsics, w0, h0, w1, h1 int) transform.PinholeCameraIntrinsics {
	sx := float64(w1) / float64(w0)
	sy := float64(h1) / float64(h0)
	return transform.PinholeCameraIntrinsics{
		Width:  w1,
		Height: h1,
		Fx:     in.Fx * sx,
		Fy:     in.Fy * sy,
		Ppx:    in.Ppx * sx,
		Ppy:    in.Ppy * sy,
	}
}
