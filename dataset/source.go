package dataset

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"golang.org/x/exp/slices"

	"github.com/viamrobotics/viam-slam-eval/calibration"
)

const (
	// RGBDirectory holds the color images of a dataset.
	RGBDirectory = "rgb"
	// DepthDirectory holds the 16-bit millimeter depth images of a dataset.
	DepthDirectory = "depth"
	// GroundTruthFile is the TUM reference trajectory at the dataset root.
	GroundTruthFile = "groundtruth.txt"
	imageExt        = ".png"
)

// GroundTruthPath returns the reference trajectory of the dataset at root.
func GroundTruthPath(root string) string {
	return filepath.Join(root, GroundTruthFile)
}

// SourceConfig describes which frames to read and how to correct them.
type SourceConfig struct {
	Root        string
	UseDepth    bool
	Stride      int
	Calibration *calibration.Model
	// PixelBudget defaults to DefaultPixelBudget.
	PixelBudget int
	// Timestamps defaults to FilenameTimestamps.
	Timestamps TimestampPolicy
}

// Source is a restartable frame factory over a dataset directory. It keeps no traversal state:
// every Stream call lists the dataset again and yields the same frames in the same order.
type Source struct {
	cfg    SourceConfig
	logger golog.Logger
}

type pair struct {
	position int
	rgb      string
	depth    string
}

// NewSource validates cfg and returns a Source.
func NewSource(cfg SourceConfig, logger golog.Logger) (*Source, error) {
	if cfg.Root == "" {
		return nil, errors.New("dataset root must be set")
	}
	if cfg.Stride < 1 {
		return nil, errors.Errorf("stride must be a positive integer, got %d", cfg.Stride)
	}
	if cfg.Calibration == nil {
		return nil, errors.New("dataset source needs a calibration model")
	}
	if cfg.PixelBudget == 0 {
		cfg.PixelBudget = DefaultPixelBudget
	}
	if cfg.PixelBudget < 0 {
		return nil, errors.Errorf("pixel budget must be positive, got %d", cfg.PixelBudget)
	}
	if cfg.Timestamps == nil {
		cfg.Timestamps = FilenameTimestamps{}
	}
	if _, err := os.Stat(filepath.Join(cfg.Root, RGBDirectory)); err != nil {
		return nil, errors.Wrapf(err, "dataset %v has no %v directory", cfg.Root, RGBDirectory)
	}
	if cfg.UseDepth {
		if _, err := os.Stat(filepath.Join(cfg.Root, DepthDirectory)); err != nil {
			return nil, errors.Wrapf(err, "dataset %v has no %v directory", cfg.Root, DepthDirectory)
		}
	}
	return &Source{cfg: cfg, logger: logger}, nil
}

// Stream starts a fresh traversal of the dataset.
func (s *Source) Stream(ctx context.Context) (NextFrameFunc, error) {
	ctx, span := trace.StartSpan(ctx, "dataset::Source::Stream")
	defer span.End()

	pairs, err := s.discover()
	if err != nil {
		return nil, err
	}
	s.logger.Debugw("starting dataset traversal", "root", s.cfg.Root, "frames", len(pairs), "stride", s.cfg.Stride)

	t := 0
	return func() (Frame, error) {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		if t >= len(pairs) {
			return Frame{}, io.EOF
		}
		frame, err := s.load(t, pairs[t])
		if err != nil {
			return Frame{}, err
		}
		t++
		return frame, nil
	}, nil
}

// Timestamps returns the capture time of every frame Stream yields, in the same order.
func (s *Source) Timestamps(ctx context.Context) ([]float64, error) {
	_, span := trace.StartSpan(ctx, "dataset::Source::Timestamps")
	defer span.End()

	pairs, err := s.discover()
	if err != nil {
		return nil, err
	}
	stamps := make([]float64, 0, len(pairs))
	for _, p := range pairs {
		ts, err := s.cfg.Timestamps.Timestamp(p.position, p.rgb)
		if err != nil {
			return nil, err
		}
		stamps = append(stamps, ts)
	}
	return stamps, nil
}

// Len returns the number of frames a traversal yields.
func (s *Source) Len() (int, error) {
	pairs, err := s.discover()
	return len(pairs), err
}

func (s *Source) discover() ([]pair, error) {
	rgbFiles, err := listImages(filepath.Join(s.cfg.Root, RGBDirectory))
	if err != nil {
		return nil, err
	}
	var depthFiles []string
	if s.cfg.UseDepth {
		depthFiles, err = listImages(filepath.Join(s.cfg.Root, DepthDirectory))
		if err != nil {
			return nil, err
		}
		if len(depthFiles) != len(rgbFiles) {
			return nil, errors.Errorf("dataset %v has %d color images but %d depth images",
				s.cfg.Root, len(rgbFiles), len(depthFiles))
		}
	}

	pairs := make([]pair, 0, (len(rgbFiles)+s.cfg.Stride-1)/s.cfg.Stride)
	for i := 0; i < len(rgbFiles); i += s.cfg.Stride {
		p := pair{position: i, rgb: rgbFiles[i]}
		if s.cfg.UseDepth {
			p.depth = depthFiles[i]
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "error listing images in %v", dir)
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != imageExt {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	slices.Sort(files)
	return files, nil
}

func (s *Source) load(index int, p pair) (Frame, error) {
	raw, err := imaging.Open(p.rgb)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "error reading color image %v for frame %d", p.rgb, index)
	}
	undistorted, err := s.cfg.Calibration.Undistort(raw)
	if err != nil {
		return Frame{}, errors.Wrapf(err, "error undistorting %v for frame %d", p.rgb, index)
	}

	h0, w0 := undistorted.Rect.Dy(), undistorted.Rect.Dx()
	h1, w1 := TargetSize(h0, w0, s.cfg.PixelBudget)
	if h1 < 1 || w1 < 1 {
		return Frame{}, errors.Errorf("frame %d from %v resizes to an empty image (%d, %d)", index, p.rgb, h1, w1)
	}

	frame := Frame{
		Index:      index,
		Image:      NewImageTensor(resizeColor(undistorted, h1, w1)),
		Intrinsics: calibration.ScaleIntrinsics(s.cfg.Calibration.Intrinsics(), w0, h0, w1, h1),
	}
	if s.cfg.UseDepth {
		if frame.Depth, err = loadDepth(p.depth, h1, w1); err != nil {
			return Frame{}, errors.Wrapf(err, "frame %d", index)
		}
	}
	s.logger.Debugw("loaded frame", "index", index, "file", filepath.Base(p.rgb), "height", h1, "width", w1)
	return frame, nil
}
