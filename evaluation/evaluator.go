package evaluation

import (
	"context"
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
)

// Output file suffixes. Every output is named <Name>_<suffix> inside the output directory.
const (
	RawTrajectorySuffix     = "slam_trajectory.txt"
	AlignedTrajectorySuffix = "aligned_trajectory.txt"
	APEResultsSuffix        = "ape_results.txt"
	RPEResultsSuffix        = "rpe_results.txt"
	PlotSuffix              = "trajectory_plot.png"
)

// Config describes one evaluation.
type Config struct {
	GroundTruthPath string
	OutputDir       string
	// Name prefixes every output file, e.g. d435i_rgbd.
	Name string
	// MaxTimeDiff defaults to DefaultMaxTimeDiff.
	MaxTimeDiff float64
	// TimeOffset is added to the estimate's timestamps before association.
	TimeOffset float64
	Align      AlignOptions
	RPE        bool
	// RPEDelta defaults to DefaultRPEDelta.
	RPEDelta int
	Plot     bool
}

// OutputPath returns where the output with the given suffix is written.
func (cfg Config) OutputPath(suffix string) string {
	return filepath.Join(cfg.OutputDir, cfg.Name+"_"+suffix)
}

// Result lists the statistics and files an evaluation produced.
type Result struct {
	Matched   int
	Alignment Alignment
	APE       *Report
	RPE       *Report

	AlignedTrajectoryPath string
	APEPath               string
	RPEPath               string
	PlotPath              string
}

// Evaluator scores estimated trajectories against one ground-truth file.
type Evaluator struct {
	cfg    Config
	logger golog.Logger
}

// NewEvaluator validates cfg and creates the output directory.
func NewEvaluator(cfg Config, logger golog.Logger) (*Evaluator, error) {
	if cfg.GroundTruthPath == "" {
		return nil, errors.New("ground truth path must be set")
	}
	if cfg.OutputDir == "" {
		return nil, errors.New("output directory must be set")
	}
	if cfg.Name == "" {
		return nil, errors.New("output name must be set")
	}
	if cfg.MaxTimeDiff == 0 {
		cfg.MaxTimeDiff = DefaultMaxTimeDiff
	}
	if cfg.MaxTimeDiff < 0 {
		return nil, errors.Errorf("max time difference cannot be negative, got %v", cfg.MaxTimeDiff)
	}
	if cfg.RPEDelta == 0 {
		cfg.RPEDelta = DefaultRPEDelta
	}
	if err := os.MkdirAll(cfg.OutputDir, os.ModePerm); err != nil {
		return nil, errors.Wrapf(err, "error creating output directory %v", cfg.OutputDir)
	}
	return &Evaluator{cfg: cfg, logger: logger}, nil
}

// WriteRaw persists the unaligned estimate and returns its path.
func (ev *Evaluator) WriteRaw(ctx context.Context, est *Trajectory) (string, error) {
	_, span := trace.StartSpan(ctx, "evaluation::Evaluator::WriteRaw")
	defer span.End()

	path := ev.cfg.OutputPath(RawTrajectorySuffix)
	if err := WriteTUM(path, est); err != nil {
		return "", err
	}
	ev.logger.Infow("wrote estimated trajectory", "path", path, "poses", est.Len())
	return path, nil
}

// Evaluate associates est with the ground truth, aligns it and writes the aligned trajectory,
// the statistics and, when enabled, the plot. The alignment is estimated from the associated
// poses only but the aligned trajectory file holds every pose of est.
func (ev *Evaluator) Evaluate(ctx context.Context, est *Trajectory) (*Result, error) {
	_, span := trace.StartSpan(ctx, "evaluation::Evaluator::Evaluate")
	defer span.End()

	ref, err := ReadTUM(ev.cfg.GroundTruthPath)
	if err != nil {
		return nil, err
	}
	refMatched, estMatched, err := Associate(ref, est, ev.cfg.MaxTimeDiff, ev.cfg.TimeOffset)
	if err != nil {
		return nil, err
	}
	ev.logger.Debugw("associated trajectories",
		"reference", ref.Len(), "estimate", est.Len(), "matched", refMatched.Len())

	ape, err := APE(refMatched, estMatched, ev.cfg.Align)
	if err != nil {
		return nil, err
	}
	res := &Result{
		Matched:               refMatched.Len(),
		Alignment:             ape.Alignment,
		APE:                   ape.Report,
		AlignedTrajectoryPath: ev.cfg.OutputPath(AlignedTrajectorySuffix),
		APEPath:               ev.cfg.OutputPath(APEResultsSuffix),
	}
	aligned := ape.Alignment.Apply(est)
	if err := WriteTUM(res.AlignedTrajectoryPath, aligned); err != nil {
		return nil, err
	}
	if err := ape.Report.WriteJSON(res.APEPath); err != nil {
		return nil, err
	}
	ev.logger.Infow("absolute pose error", "rmse", ape.Report.Stats[StatRMSE], "mean", ape.Report.Stats[StatMean],
		"max", ape.Report.Stats[StatMax], "scale", ape.Alignment.Scale, "path", res.APEPath)

	if ev.cfg.RPE {
		rpe, err := RPE(refMatched, estMatched, ev.cfg.RPEDelta, ev.cfg.Align)
		if err != nil {
			return nil, err
		}
		res.RPE = rpe
		res.RPEPath = ev.cfg.OutputPath(RPEResultsSuffix)
		if err := rpe.WriteJSON(res.RPEPath); err != nil {
			return nil, err
		}
		ev.logger.Infow("relative pose error", "rmse", rpe.Stats[StatRMSE], "delta", ev.cfg.RPEDelta, "path", res.RPEPath)
	}

	if ev.cfg.Plot {
		res.PlotPath = ev.cfg.OutputPath(PlotSuffix)
		if err := PlotTrajectories(res.PlotPath, ev.cfg.Name, ref, aligned); err != nil {
			return nil, err
		}
	}
	return res, nil
}
