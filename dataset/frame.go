// Package dataset streams calibrated, resized frames out of a recorded rgb(-d) dataset directory.
package dataset

import (
	"image"

	"go.viam.com/rdk/rimage/transform"
)

// Frame is one calibrated sample handed to a tracking engine.
type Frame struct {
	Index      int
	Image      ImageTensor
	Depth      *DepthMap
	Intrinsics transform.PinholeCameraIntrinsics
}

// NextFrameFunc returns the next frame of a traversal, or io.EOF once the traversal is exhausted.
type NextFrameFunc func() (Frame, error)

// ImageTensor is a planar (channels, height, width) 8-bit image. Channels are stored
// blue, green, red to match what OpenCV based engines read from disk.
type ImageTensor struct {
	Channels int
	Height   int
	Width    int
	Data     []uint8
}

// NewImageTensor converts an image into a 3 channel BGR planar tensor.
func NewImageTensor(img *image.NRGBA) ImageTensor {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	plane := w * h
	data := make([]uint8, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := img.PixOffset(img.Rect.Min.X+x, img.Rect.Min.Y+y)
			p := y*w + x
			data[p] = img.Pix[i+2]
			data[plane+p] = img.Pix[i+1]
			data[2*plane+p] = img.Pix[i]
		}
	}
	return ImageTensor{Channels: 3, Height: h, Width: w, Data: data}
}

// At returns the value of channel c at (x, y).
func (t ImageTensor) At(c, x, y int) uint8 {
	return t.Data[c*t.Height*t.Width+y*t.Width+x]
}

// NRGBA converts the tensor back into an image.
func (t ImageTensor) NRGBA() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, t.Width, t.Height))
	plane := t.Width * t.Height
	for p := 0; p < plane; p++ {
		img.Pix[4*p] = t.Data[2*plane+p]
		img.Pix[4*p+1] = t.Data[plane+p]
		img.Pix[4*p+2] = t.Data[p]
		img.Pix[4*p+3] = 0xff
	}
	return img
}

// DepthMap is a row-major (height, width) map of distances in meters. Zero means no reading.
type DepthMap struct {
	Height int
	Width  int
	Data   []float32
}

// At returns the depth in meters at (x, y).
func (dm *DepthMap) At(x, y int) float32 {
	return dm.Data[y*dm.Width+x]
}
