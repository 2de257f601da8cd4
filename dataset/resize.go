package dataset

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// DefaultPixelBudget is the pixel count frames are resized towards (384x512).
const DefaultPixelBudget = 384 * 512

const millimetersPerMeter = 1000.0

// TargetSize returns the (height, width) closest to budget pixels that keeps the h0:w0 aspect ratio.
func TargetSize(h0, w0, budget int) (int, int) {
	scale := math.Sqrt(float64(budget) / float64(h0*w0))
	return int(math.Round(float64(h0) * scale)), int(math.Round(float64(w0) * scale))
}

func resizeColor(img *image.NRGBA, h1, w1 int) *image.NRGBA {
	return imaging.Resize(img, w1, h1, imaging.Linear)
}

// toGray16 keeps 16-bit depth images as they are and widens anything else.
func toGray16(img image.Image) *image.Gray16 {
	if g, ok := img.(*image.Gray16); ok {
		return g
	}
	b := img.Bounds()
	g := image.NewGray16(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(g, g.Bounds(), img, b.Min, draw.Src)
	return g
}

// loadDepth reads a 16-bit millimeter depth image, converts it to meters and resizes it bilinearly to (h1, w1).
func loadDepth(path string, h1, w1 int) (*DepthMap, error) {
	raw, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading depth image %v", path)
	}
	src := toGray16(raw)
	b := src.Bounds()
	meters := &DepthMap{Height: b.Dy(), Width: b.Dx(), Data: make([]float32, b.Dx()*b.Dy())}
	for y := 0; y < meters.Height; y++ {
		for x := 0; x < meters.Width; x++ {
			meters.Data[y*meters.Width+x] = float32(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y) / millimetersPerMeter
		}
	}
	return resizeDepth(meters, h1, w1), nil
}

// resizeDepth samples src at the pixel centers of an (h1, w1) grid, clamping at the borders.
func resizeDepth(src *DepthMap, h1, w1 int) *DepthMap {
	if src.Height == h1 && src.Width == w1 {
		return src
	}
	dst := &DepthMap{Height: h1, Width: w1, Data: make([]float32, h1*w1)}
	sy := float64(src.Height) / float64(h1)
	sx := float64(src.Width) / float64(w1)
	for y := 0; y < h1; y++ {
		y0, y1, wy := sampleIndices((float64(y)+0.5)*sy-0.5, src.Height)
		for x := 0; x < w1; x++ {
			x0, x1, wx := sampleIndices((float64(x)+0.5)*sx-0.5, src.Width)
			top := float64(src.At(x0, y0))*(1-wx) + float64(src.At(x1, y0))*wx
			bottom := float64(src.At(x0, y1))*(1-wx) + float64(src.At(x1, y1))*wx
			dst.Data[y*w1+x] = float32(top*(1-wy) + bottom*wy)
		}
	}
	return dst
}

func sampleIndices(pos float64, n int) (int, int, float64) {
	pos = math.Max(0, math.Min(pos, float64(n-1)))
	i0 := int(pos)
	i1 := i0 + 1
	if i1 > n-1 {
		i1 = n - 1
	}
	return i0, i1, pos - float64(i0)
}
