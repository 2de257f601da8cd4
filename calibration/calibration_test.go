package calibration_test

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/rdk/rimage/transform"
	"go.viam.com/test"

	"github.com/viamrobotics/viam-slam-eval/calibration"
)

var testIntrinsics = transform.PinholeCameraIntrinsics{
	Width:  64,
	Height: 48,
	Fx:     50,
	Fy:     50,
	Ppx:    32,
	Ppy:    24,
}

func gradientImage(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 3), G: uint8(y * 5), B: uint8((x + y) % 256), A: 0xff})
		}
	}
	return img
}

func TestNewModel(t *testing.T) {
	t.Run("Valid intrinsics produce a model", func(t *testing.T) {
		m, err := calibration.NewModel(testIntrinsics, [4]float64{0.1, -0.2, 0.001, 0.002})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, m.Intrinsics(), test.ShouldResemble, testIntrinsics)
		bc := m.Distortion()
		test.That(t, bc.RadialK1, test.ShouldEqual, 0.1)
		test.That(t, bc.RadialK2, test.ShouldEqual, -0.2)
		test.That(t, bc.RadialK3, test.ShouldEqual, 0.)
		test.That(t, bc.TangentialP1, test.ShouldEqual, 0.001)
		test.That(t, bc.TangentialP2, test.ShouldEqual, 0.002)
	})

	t.Run("Zero focal length is rejected", func(t *testing.T) {
		bad := testIntrinsics
		bad.Fx = 0
		m, err := calibration.NewModel(bad, [4]float64{})
		test.That(t, m, test.ShouldBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "invalid calibration intrinsics")
	})
}

func TestPreset(t *testing.T) {
	m, err := calibration.Preset(calibration.D435i)
	test.That(t, err, test.ShouldBeNil)
	in := m.Intrinsics()
	test.That(t, in.Width, test.ShouldEqual, 640)
	test.That(t, in.Height, test.ShouldEqual, 480)
	test.That(t, in.Fx, test.ShouldEqual, 596.1950425915236)
	test.That(t, in.Ppy, test.ShouldEqual, 245.16142133264628)

	_, err = calibration.Preset("pinhole9000")
	test.That(t, err.Error(), test.ShouldContainSubstring, "pinhole9000")
}

func TestScaleIntrinsics(t *testing.T) {
	in := transform.PinholeCameraIntrinsics{Width: 640, Height: 480, Fx: 600, Fy: 590, Ppx: 320, Ppy: 240}
	out := calibration.ScaleIntrinsics(in, 640, 480, 512, 384)
	test.That(t, out.Width, test.ShouldEqual, 512)
	test.That(t, out.Height, test.ShouldEqual, 384)
	test.That(t, out.Fx/in.Fx, test.ShouldAlmostEqual, 512./640.)
	test.That(t, out.Ppx/in.Ppx, test.ShouldAlmostEqual, 512./640.)
	test.That(t, out.Fy/in.Fy, test.ShouldAlmostEqual, 384./480.)
	test.That(t, out.Ppy/in.Ppy, test.ShouldAlmostEqual, 384./480.)

	out = calibration.ScaleIntrinsics(in, 640, 480, 300, 480)
	test.That(t, out.Fx/in.Fx, test.ShouldAlmostEqual, 300./640.)
	test.That(t, out.Fy, test.ShouldEqual, in.Fy)
}

func TestUndistort(t *testing.T) {
	src := gradientImage(64, 48)

	t.Run("Zero distortion leaves the image unchanged", func(t *testing.T) {
		m, err := calibration.NewModel(testIntrinsics, [4]float64{})
		test.That(t, err, test.ShouldBeNil)
		out, err := m.Undistort(src)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out.Bounds(), test.ShouldResemble, src.Bounds())
		test.That(t, out.Pix, test.ShouldResemble, src.Pix)
	})

	t.Run("Principal point is a fixed point of the distortion", func(t *testing.T) {
		m, err := calibration.NewModel(testIntrinsics, [4]float64{0.3, -0.1, 0.001, 0.001})
		test.That(t, err, test.ShouldBeNil)
		out, err := m.Undistort(src)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, out.NRGBAAt(32, 24), test.ShouldResemble, src.NRGBAAt(32, 24))
		test.That(t, out.Pix, test.ShouldNotResemble, src.Pix)
	})

	t.Run("Output pixels sample where the forward distortion maps them", func(t *testing.T) {
		in := transform.PinholeCameraIntrinsics{Width: 200, Height: 200, Fx: 100, Fy: 100, Ppx: 100, Ppy: 100}
		white := color.NRGBA{R: 0xff, G: 0xff, B: 0xff, A: 0xff}

		// radial: (180, 100) is x = 0.8, distorted to 0.8 * (1 + 0.2 * 0.64) = 0.9024, source column 190.24
		m, err := calibration.NewModel(in, [4]float64{0.2, 0, 0, 0})
		test.That(t, err, test.ShouldBeNil)
		dot := image.NewNRGBA(image.Rect(0, 0, 200, 200))
		dot.SetNRGBA(190, 100, white)
		out, err := m.Undistort(dot)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, float64(out.NRGBAAt(180, 100).R), test.ShouldAlmostEqual, 194, 1)
		test.That(t, out.NRGBAAt(190, 100).R, test.ShouldEqual, uint8(0))
		test.That(t, out.NRGBAAt(181, 100).R, test.ShouldEqual, uint8(0))

		// tangential p1 only moves (100, 180) along y: 0.8 + 0.05 * (0.64 + 2 * 0.64) = 0.896, source row 189.6
		m, err = calibration.NewModel(in, [4]float64{0, 0, 0.05, 0})
		test.That(t, err, test.ShouldBeNil)
		dot = image.NewNRGBA(image.Rect(0, 0, 200, 200))
		dot.SetNRGBA(100, 190, white)
		out, err = m.Undistort(dot)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, float64(out.NRGBAAt(100, 180).R), test.ShouldAlmostEqual, 153, 1)
		test.That(t, out.NRGBAAt(100, 180).A, test.ShouldEqual, uint8(0xff))
	})

	t.Run("Undistorting is deterministic", func(t *testing.T) {
		m, err := calibration.Preset(calibration.D435i)
		test.That(t, err, test.ShouldBeNil)
		a, err := m.Undistort(src)
		test.That(t, err, test.ShouldBeNil)
		b, err := m.Undistort(src)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, a.Pix, test.ShouldResemble, b.Pix)
	})

	t.Run("Nil image is an error", func(t *testing.T) {
		m, err := calibration.NewModel(testIntrinsics, [4]float64{})
		test.That(t, err, test.ShouldBeNil)
		_, err = m.Undistort(nil)
		test.That(t, err, test.ShouldNotBeNil)
	})
}
