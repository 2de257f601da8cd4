package calibration

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Undistort removes lens distortion from img. The output keeps the input size and the model's
// camera matrix; each output pixel is bilinearly sampled from where the distortion model says
// it was recorded, and samples falling outside the input are black.
func (m *Model) Undistort(img image.Image) (*image.NRGBA, error) {
	if img == nil {
		return nil, errors.New("input image is nil")
	}
	src := imaging.Clone(img)
	width, height := src.Rect.Dx(), src.Rect.Dy()
	if width == 0 || height == 0 {
		return nil, errors.Errorf("cannot undistort empty image (%d, %d)", width, height)
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	fx, fy := m.intrinsics.Fx, m.intrinsics.Fy
	cx, cy := m.intrinsics.Ppx, m.intrinsics.Ppy
	for v := 0; v < height; v++ {
		for u := 0; u < width; u++ {
			x, y := m.distortion.Transform((float64(u)-cx)/fx, (float64(v)-cy)/fy)
			r, g, b := sampleBilinear(src, x*fx+cx, y*fy+cy)
			i := dst.PixOffset(u, v)
			dst.Pix[i+0] = r
			dst.Pix[i+1] = g
			dst.Pix[i+2] = b
			dst.Pix[i+3] = 0xff
		}
	}
	return dst, nil
}

// sampleBilinear reads the colour at a sub-pixel position. Neighbours outside the image count as black.
func sampleBilinear(img *image.NRGBA, x, y float64) (uint8, uint8, uint8) {
	x0, y0 := math.Floor(x), math.Floor(y)
	ax, ay := x-x0, y-y0
	ix, iy := int(x0), int(y0)
	var acc [3]float64
	for _, n := range [4]struct {
		dx, dy int
		w      float64
	}{
		{0, 0, (1 - ax) * (1 - ay)},
		{1, 0, ax * (1 - ay)},
		{0, 1, (1 - ax) * ay},
		{1, 1, ax * ay},
	} {
		px, py := ix+n.dx, iy+n.dy
		if n.w == 0 || px < 0 || py < 0 || px >= img.Rect.Dx() || py >= img.Rect.Dy() {
			continue
		}
		i := img.PixOffset(px, py)
		acc[0] += n.w * float64(img.Pix[i+0])
		acc[1] += n.w * float64(img.Pix[i+1])
		acc[2] += n.w * float64(img.Pix[i+2])
	}
	return clampUint8(acc[0]), clampUint8(acc[1]), clampUint8(acc[2])
}

func clampUint8(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
