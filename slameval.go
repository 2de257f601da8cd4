// Package slameval runs a SLAM engine over a recorded dataset and scores the resulting
// trajectory against the dataset's ground truth.
package slameval

import (
	"context"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"golang.org/x/exp/slices"

	"github.com/viamrobotics/viam-slam-eval/calibration"
	"github.com/viamrobotics/viam-slam-eval/dataset"
	"github.com/viamrobotics/viam-slam-eval/engine"
	"github.com/viamrobotics/viam-slam-eval/evaluation"
	"github.com/viamrobotics/viam-slam-eval/tracking"
)

// SubAlgo selects whether the engine tracks from color alone or from color and depth.
type SubAlgo string

const (
	// Mono represents monocular vision (uses only one camera).
	Mono SubAlgo = "mono"
	// Rgbd uses a color camera and a depth camera for SLAM.
	Rgbd SubAlgo = "rgbd"
)

var supportedSubAlgos = []SubAlgo{Mono, Rgbd}

const (
	// DefaultStride keeps every second frame.
	DefaultStride = 2
	// DefaultCamera is the calibration preset used when none is given.
	DefaultCamera = calibration.D435i
)

// Config is the whole configuration of one evaluation run.
type Config struct {
	DataPath   string
	OutputPath string
	// Camera names a calibration preset, DefaultCamera when empty.
	Camera string
	// Stride defaults to DefaultStride.
	Stride   int
	UseDepth bool
	// FilePrefix starts every output file name and defaults to Camera.
	FilePrefix string
	// PixelBudget is the frame area after resizing, dataset.DefaultPixelBudget when zero.
	PixelBudget int

	MaxTimeDiff float64
	TimeOffset  float64
	RPE         bool
	RPEDelta    int
	Plot        bool

	Engine engine.Config
}

// SubAlgo returns Rgbd when depth is used and Mono otherwise.
func (cfg Config) SubAlgo() SubAlgo {
	if cfg.UseDepth {
		return Rgbd
	}
	return Mono
}

func (cfg Config) withDefaults() Config {
	if cfg.Camera == "" {
		cfg.Camera = DefaultCamera
	}
	if cfg.Stride == 0 {
		cfg.Stride = DefaultStride
	}
	if cfg.FilePrefix == "" {
		cfg.FilePrefix = cfg.Camera
	}
	return cfg
}

// Validate checks the configuration after defaults are applied.
func (cfg Config) Validate() error {
	cfg = cfg.withDefaults()
	if cfg.DataPath == "" {
		return errors.New("data path must be set")
	}
	if cfg.OutputPath == "" {
		return errors.New("output path must be set")
	}
	if cfg.Stride < 1 {
		return errors.Errorf("stride must be a positive integer, got %d", cfg.Stride)
	}
	if cfg.MaxTimeDiff < 0 {
		return errors.Errorf("max time difference cannot be negative, got %v", cfg.MaxTimeDiff)
	}
	if cfg.RPEDelta < 0 {
		return errors.Errorf("rpe delta cannot be negative, got %d", cfg.RPEDelta)
	}
	if !slices.Contains(supportedSubAlgos, cfg.SubAlgo()) {
		return errors.Errorf("unsupported mode %v", cfg.SubAlgo())
	}
	return errors.Wrap(cfg.Engine.Validate(), "invalid engine configuration")
}

// Source returns the frame source the run reads from.
func (cfg Config) Source(logger golog.Logger) (*dataset.Source, error) {
	cfg = cfg.withDefaults()
	model, err := calibration.Preset(cfg.Camera)
	if err != nil {
		return nil, err
	}
	return dataset.NewSource(dataset.SourceConfig{
		Root:        cfg.DataPath,
		UseDepth:    cfg.UseDepth,
		Stride:      cfg.Stride,
		Calibration: model,
		PixelBudget: cfg.PixelBudget,
	}, logger)
}

// Result describes a finished run.
type Result struct {
	SubAlgo           SubAlgo
	Frames            int
	RawTrajectoryPath string
	Evaluation        *evaluation.Result
}

// Run streams the dataset through an engine built by newEngine, writes the estimated
// trajectory and evaluates it. Scale is only corrected in Mono mode.
func Run(ctx context.Context, cfg Config, newEngine engine.Constructor, logger golog.Logger) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "slameval::Run")
	defer span.End()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	subAlgo := cfg.SubAlgo()

	src, err := cfg.Source(logger)
	if err != nil {
		return nil, err
	}

	groundTruth := dataset.GroundTruthPath(cfg.DataPath)
	if _, err := os.Stat(groundTruth); err != nil {
		return nil, errors.Wrapf(err, "ground truth trajectory missing from %v", cfg.DataPath)
	}
	ev, err := evaluation.NewEvaluator(evaluation.Config{
		GroundTruthPath: groundTruth,
		OutputDir:       cfg.OutputPath,
		Name:            cfg.FilePrefix + "_" + string(subAlgo),
		MaxTimeDiff:     cfg.MaxTimeDiff,
		TimeOffset:      cfg.TimeOffset,
		Align:           evaluation.AlignOptions{Align: true, CorrectScale: subAlgo == Mono},
		RPE:             cfg.RPE,
		RPEDelta:        cfg.RPEDelta,
		Plot:            cfg.Plot,
	}, logger)
	if err != nil {
		return nil, err
	}

	engineCfg := cfg.Engine
	engineCfg.Depth = cfg.UseDepth
	logger.Infow("starting run", "data", cfg.DataPath, "mode", subAlgo, "stride", cfg.Stride, "camera", cfg.Camera)

	poses, err := tracking.NewDriver(newEngine, engineCfg, logger).Run(ctx, src)
	if err != nil {
		return nil, err
	}
	stamps, err := src.Timestamps(ctx)
	if err != nil {
		return nil, err
	}
	est, err := evaluation.NewTrajectory(stamps, poses)
	if err != nil {
		return nil, errors.Wrap(err, "engine trajectory does not match the dataset frames")
	}

	res := &Result{SubAlgo: subAlgo, Frames: len(poses)}
	if res.RawTrajectoryPath, err = ev.WriteRaw(ctx, est); err != nil {
		return nil, err
	}
	if res.Evaluation, err = ev.Evaluate(ctx, est); err != nil {
		return nil, errors.Wrapf(err, "error evaluating %v", res.RawTrajectoryPath)
	}
	logger.Infof("%s run over %d frames: ape rmse %.6f", subAlgo, res.Frames, res.Evaluation.APE.Stats[evaluation.StatRMSE])
	return res, nil
}
