// Package testhelper writes synthetic datasets for testing the evaluation harness and engine implementations.
package testhelper

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"

	"github.com/viamrobotics/viam-slam-eval/dataset"
)

const (
	// DefaultStartTime is the timestamp of the first synthetic image.
	DefaultStartTime = 1680000000.0
	// DefaultPeriod is the time between synthetic images (30 fps).
	DefaultPeriod = 1.0 / 30
)

// DatasetConfig describes a synthetic dataset.
type DatasetConfig struct {
	NumImages int
	Width     int
	Height    int
	// StartTime and Period default to DefaultStartTime and DefaultPeriod.
	StartTime float64
	Period    float64
	// DepthMillimeters, when non-zero, writes a depth image per color image with this constant value.
	DepthMillimeters uint16
	// GroundTruth rows are x y z qx qy qz qw, one per image, written as groundtruth.txt.
	GroundTruth [][7]float64
}

// Dataset is a synthetic dataset on disk.
type Dataset struct {
	Root       string
	Timestamps []float64
	RGB        []string
	Depth      []string
}

// WriteDataset creates a dataset below root.
func WriteDataset(root string, cfg DatasetConfig) (*Dataset, error) {
	if cfg.NumImages < 1 || cfg.Width < 1 || cfg.Height < 1 {
		return nil, errors.Errorf("invalid synthetic dataset %+v", cfg)
	}
	if cfg.GroundTruth != nil && len(cfg.GroundTruth) != cfg.NumImages {
		return nil, errors.Errorf("expected %d ground truth rows, got %d", cfg.NumImages, len(cfg.GroundTruth))
	}
	if cfg.StartTime == 0 {
		cfg.StartTime = DefaultStartTime
	}
	if cfg.Period == 0 {
		cfg.Period = DefaultPeriod
	}

	ds := &Dataset{Root: root}
	rgbDir := filepath.Join(root, dataset.RGBDirectory)
	if err := os.MkdirAll(rgbDir, os.ModePerm); err != nil {
		return nil, err
	}
	depthDir := filepath.Join(root, dataset.DepthDirectory)
	if cfg.DepthMillimeters != 0 {
		if err := os.MkdirAll(depthDir, os.ModePerm); err != nil {
			return nil, err
		}
	}

	for i := 0; i < cfg.NumImages; i++ {
		ts := cfg.StartTime + float64(i)*cfg.Period
		name := fmt.Sprintf("%.6f.png", ts)
		// round trip through the file name so callers compare against what a reader will parse
		if _, err := fmt.Sscanf(name, "%f.png", &ts); err != nil {
			return nil, err
		}
		ds.Timestamps = append(ds.Timestamps, ts)

		rgbPath := filepath.Join(rgbDir, name)
		if err := imaging.Save(ColorImage(cfg.Width, cfg.Height, i), rgbPath); err != nil {
			return nil, errors.Wrapf(err, "error writing %v", rgbPath)
		}
		ds.RGB = append(ds.RGB, rgbPath)

		if cfg.DepthMillimeters != 0 {
			depthPath := filepath.Join(depthDir, name)
			if err := imaging.Save(DepthImage(cfg.Width, cfg.Height, cfg.DepthMillimeters), depthPath); err != nil {
				return nil, errors.Wrapf(err, "error writing %v", depthPath)
			}
			ds.Depth = append(ds.Depth, depthPath)
		}
	}

	if cfg.GroundTruth != nil {
		if err := writeGroundTruth(filepath.Join(root, dataset.GroundTruthFile), ds.Timestamps, cfg.GroundTruth); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

// ColorImage returns a gradient that differs from frame to frame.
func ColorImage(w, h, frame int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{
				R: uint8((x*7 + frame*13) % 256),
				G: uint8((y*5 + frame*3) % 256),
				B: uint8((x + y + frame) % 256),
				A: 0xff,
			})
		}
	}
	return img
}

// DepthImage returns a 16-bit depth image with a constant reading.
func DepthImage(w, h int, millimeters uint16) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray16(x, y, color.Gray16{Y: millimeters})
		}
	}
	return img
}

func writeGroundTruth(path string, stamps []float64, rows [][7]float64) error {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintln(f, "# timestamp tx ty tz qx qy qz qw"); err != nil {
		return err
	}
	for i, r := range rows {
		if _, err := fmt.Fprintf(f, "%.6f %.9f %.9f %.9f %.9f %.9f %.9f %.9f\n",
			stamps[i], r[0], r[1], r[2], r[3], r[4], r[5], r[6]); err != nil {
			return err
		}
	}
	return f.Close()
}
