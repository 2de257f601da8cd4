// Package main runs a SLAM engine over a recorded dataset and evaluates its trajectory.
package main

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.viam.com/utils"
	"go.viam.com/utils/perf"
	"golang.org/x/exp/slices"

	slameval "github.com/viamrobotics/viam-slam-eval"
	"github.com/viamrobotics/viam-slam-eval/dataset"
	"github.com/viamrobotics/viam-slam-eval/engine"
	"github.com/viamrobotics/viam-slam-eval/engine/fake"
	"github.com/viamrobotics/viam-slam-eval/evaluation"
)

// fakeEngine replays the dataset's ground truth instead of running an engine.
const fakeEngine = "fake"

func main() {
	utils.ContextualMain(mainWithArgs, golog.NewLogger("slam-eval"))
}

// Arguments for the command. Unset tuning flags keep engine.DefaultConfig values.
type Arguments struct {
	DataPath   string    `flag:"datapath,required,usage=dataset directory with rgb/, depth/ and groundtruth.txt"`
	OutputPath string    `flag:"outputpath,required,usage=directory for trajectories and statistics"`
	Engine     string    `flag:"engine,usage=engine executable or fake to replay the ground truth"`
	EngineArgs string    `flag:"engine-args,usage=space separated arguments passed to the engine before the generated ones"`
	Camera     string    `flag:"camera,usage=calibration preset"`
	Prefix     string    `flag:"prefix,usage=output file name prefix"`
	Stride     int       `flag:"stride,usage=keep every n-th frame"`
	Depth      bool      `flag:"depth,usage=track with depth images"`
	MaxDiff    floatFlag `flag:"max-diff,usage=largest timestamp difference for association in seconds, must be positive"`
	Offset     floatFlag `flag:"offset,usage=time offset added to the estimate before association"`
	RPE        bool      `flag:"rpe,usage=also compute the relative pose error"`
	RPEDelta   int       `flag:"rpe-delta,usage=frame distance of relative pose error pairs"`
	Plot       bool      `flag:"plot,usage=write a top-down trajectory plot"`
	Debug      bool      `flag:"debug"`

	Weights        string    `flag:"weights,usage=engine weights file"`
	Buffer         intFlag   `flag:"buffer,usage=engine frame buffer capacity"`
	Height         int       `flag:"height,usage=engine image height, taken from the first frame when unset"`
	Width          int       `flag:"width,usage=engine image width, taken from the first frame when unset"`
	Beta           floatFlag `flag:"beta,usage=motion model weight"`
	FilterThresh   floatFlag `flag:"filter-thresh,usage=outlier filter threshold"`
	Warmup         intFlag   `flag:"warmup,usage=warm up frame count"`
	KeyframeThresh floatFlag `flag:"keyframe-thresh,usage=keyframe threshold"`
	FrontendThresh floatFlag `flag:"frontend-thresh,usage=frontend threshold"`
	FrontendWindow intFlag   `flag:"frontend-window,usage=frontend window"`
	FrontendRadius intFlag   `flag:"frontend-radius,usage=frontend radius"`
	FrontendNMS    intFlag   `flag:"frontend-nms,usage=frontend non-max suppression radius"`
	BackendThresh  floatFlag `flag:"backend-thresh,usage=backend threshold"`
	BackendRadius  intFlag   `flag:"backend-radius,usage=backend radius"`
	BackendNMS     intFlag   `flag:"backend-nms,usage=backend non-max suppression radius"`
	Stereo         bool      `flag:"stereo,usage=stereo mode"`
	Upsample       bool      `flag:"upsample,usage=upsample engine output"`
}

type floatFlag struct {
	value float64
	set   bool
}

func (f *floatFlag) String() string {
	return strconv.FormatFloat(f.value, 'g', -1, 64)
}

func (f *floatFlag) Set(val string) error {
	v, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return err
	}
	f.value, f.set = v, true
	return nil
}

func (f *floatFlag) Get() interface{} {
	return f.value
}

func (f floatFlag) apply(dst *float64) {
	if f.set {
		*dst = f.value
	}
}

type intFlag struct {
	value int
	set   bool
}

func (f *intFlag) String() string {
	return strconv.Itoa(f.value)
}

func (f *intFlag) Set(val string) error {
	v, err := strconv.Atoi(val)
	if err != nil {
		return err
	}
	f.value, f.set = v, true
	return nil
}

func (f *intFlag) Get() interface{} {
	return f.value
}

func (f intFlag) apply(dst *int) {
	if f.set {
		*dst = f.value
	}
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	var argsParsed Arguments
	if err := utils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Debug {
		logger = golog.NewDebugLogger("slam-eval")
		exp := perf.NewNiceLoggingSpanExporter()
		trace.RegisterExporter(exp)
		trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})
	}

	cfg, err := runConfig(argsParsed)
	if err != nil {
		return err
	}

	newEngine, err := engineConstructor(ctx, argsParsed, cfg, logger)
	if err != nil {
		return err
	}
	res, err := slameval.Run(ctx, cfg, newEngine, logger)
	if err != nil {
		return err
	}
	logger.Infow("evaluation done",
		"mode", res.SubAlgo,
		"frames", res.Frames,
		"matched", res.Evaluation.Matched,
		"ape_rmse", res.Evaluation.APE.Stats[evaluation.StatRMSE],
		"trajectory", res.RawTrajectoryPath,
		"results", res.Evaluation.APEPath,
	)
	return nil
}

// runConfig maps the parsed flags onto a run configuration.
func runConfig(args Arguments) (slameval.Config, error) {
	// a zero MaxTimeDiff selects the default, so an explicit zero cannot be honored
	if args.MaxDiff.set && args.MaxDiff.value <= 0 {
		return slameval.Config{}, errors.Errorf("max-diff must be positive, got %v", args.MaxDiff.value)
	}
	return slameval.Config{
		DataPath:    args.DataPath,
		OutputPath:  args.OutputPath,
		Camera:      args.Camera,
		Stride:      args.Stride,
		UseDepth:    args.Depth,
		FilePrefix:  args.Prefix,
		MaxTimeDiff: args.MaxDiff.value,
		TimeOffset:  args.Offset.value,
		RPE:         args.RPE,
		RPEDelta:    args.RPEDelta,
		Plot:        args.Plot,
		Engine:      engineConfig(args),
	}, nil
}

func engineConfig(args Arguments) engine.Config {
	cfg := engine.DefaultConfig()
	if args.Weights != "" {
		cfg.Weights = args.Weights
	}
	if args.Height != 0 || args.Width != 0 {
		cfg.ImageSize = []int{args.Height, args.Width}
	}
	args.Buffer.apply(&cfg.Buffer)
	args.Beta.apply(&cfg.Beta)
	args.FilterThresh.apply(&cfg.FilterThresh)
	args.Warmup.apply(&cfg.Warmup)
	args.KeyframeThresh.apply(&cfg.KeyframeThresh)
	args.FrontendThresh.apply(&cfg.FrontendThresh)
	args.FrontendWindow.apply(&cfg.FrontendWindow)
	args.FrontendRadius.apply(&cfg.FrontendRadius)
	args.FrontendNMS.apply(&cfg.FrontendNMS)
	args.BackendThresh.apply(&cfg.BackendThresh)
	args.BackendRadius.apply(&cfg.BackendRadius)
	args.BackendNMS.apply(&cfg.BackendNMS)
	cfg.Stereo = args.Stereo
	cfg.Upsample = args.Upsample
	return cfg
}

func engineConstructor(
	ctx context.Context,
	args Arguments,
	cfg slameval.Config,
	logger golog.Logger,
) (engine.Constructor, error) {
	if args.Engine != fakeEngine {
		return engine.NewProcessConstructor(engine.ProcessOptions{
			ExecutableName: args.Engine,
			Args:           strings.Fields(args.EngineArgs),
		}), nil
	}
	logger.Info("replaying ground truth with the fake engine")
	rows, err := groundTruthRows(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	newEngine, _ := fake.NewConstructor(rows, nil)
	return newEngine, nil
}

// groundTruthRows returns, for every frame the run will track, the ground-truth pose nearest in time.
func groundTruthRows(ctx context.Context, cfg slameval.Config, logger golog.Logger) ([][7]float64, error) {
	src, err := cfg.Source(logger)
	if err != nil {
		return nil, err
	}
	stamps, err := src.Timestamps(ctx)
	if err != nil {
		return nil, err
	}
	gt, err := evaluation.ReadTUM(dataset.GroundTruthPath(cfg.DataPath))
	if err != nil {
		return nil, err
	}
	if gt.Len() == 0 {
		return nil, errors.New("ground truth trajectory is empty")
	}

	rows := make([][7]float64, len(stamps))
	for i, ts := range stamps {
		j, _ := slices.BinarySearch(gt.Timestamps, ts)
		if j == len(gt.Timestamps) || (j > 0 && math.Abs(gt.Timestamps[j-1]-ts) <= math.Abs(gt.Timestamps[j]-ts)) {
			j--
		}
		rows[i] = gt.Pose(j).Row()
	}
	return rows, nil
}
