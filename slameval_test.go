package slameval_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	slameval "github.com/viamrobotics/viam-slam-eval"
	"github.com/viamrobotics/viam-slam-eval/engine"
	"github.com/viamrobotics/viam-slam-eval/engine/fake"
	"github.com/viamrobotics/viam-slam-eval/evaluation"
	internaltesthelper "github.com/viamrobotics/viam-slam-eval/internal/testhelper"
	"github.com/viamrobotics/viam-slam-eval/testhelper"
)

const (
	numImages  = 10
	testWidth  = 160
	testHeight = 120
	tolerance  = 1e-6
)

func writeDataset(t *testing.T, depth uint16, groundTruth [][7]float64) string {
	t.Helper()
	ds, err := testhelper.WriteDataset(t.TempDir(), testhelper.DatasetConfig{
		NumImages:        numImages,
		Width:            testWidth,
		Height:           testHeight,
		DepthMillimeters: depth,
		GroundTruth:      groundTruth,
	})
	test.That(t, err, test.ShouldBeNil)
	return ds.Root
}

func strided(rows [][7]float64, stride int) [][7]float64 {
	var out [][7]float64
	for i := 0; i < len(rows); i += stride {
		out = append(out, rows[i])
	}
	return out
}

func baseConfig(dataPath, outputPath string) slameval.Config {
	return slameval.Config{
		DataPath:    dataPath,
		OutputPath:  outputPath,
		PixelBudget: testWidth * testHeight,
		Engine:      engine.DefaultConfig(),
	}
}

func TestConfig(t *testing.T) {
	valid := baseConfig("data", "out")
	test.That(t, valid.Validate(), test.ShouldBeNil)
	test.That(t, valid.SubAlgo(), test.ShouldEqual, slameval.Mono)

	valid.UseDepth = true
	test.That(t, valid.SubAlgo(), test.ShouldEqual, slameval.Rgbd)

	t.Run("Paths are required", func(t *testing.T) {
		cfg := baseConfig("", "out")
		test.That(t, cfg.Validate().Error(), test.ShouldContainSubstring, "data path")
		cfg = baseConfig("data", "")
		test.That(t, cfg.Validate().Error(), test.ShouldContainSubstring, "output path")
	})

	t.Run("Stride must be positive", func(t *testing.T) {
		cfg := baseConfig("data", "out")
		cfg.Stride = -1
		test.That(t, cfg.Validate().Error(), test.ShouldContainSubstring, "stride")
	})

	t.Run("Engine parameters are validated", func(t *testing.T) {
		cfg := baseConfig("data", "out")
		cfg.Engine.Buffer = 0
		test.That(t, cfg.Validate().Error(), test.ShouldContainSubstring, "invalid engine configuration")
	})
}

func TestRun(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)
	groundTruth := internaltesthelper.Helix(numImages)

	t.Run("A monocular run corrects the scale of the estimate", func(t *testing.T) {
		dataPath := writeDataset(t, 0, groundTruth)
		outputPath := filepath.Join(t.TempDir(), "results")
		rows := internaltesthelper.Similarity(strided(groundTruth, slameval.DefaultStride), 0.3, 0.5, [3]float64{1, 1, 0})
		newEngine, rec := fake.NewConstructor(rows, nil)

		res, err := slameval.Run(ctx, baseConfig(dataPath, outputPath), newEngine, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.SubAlgo, test.ShouldEqual, slameval.Mono)
		test.That(t, res.Frames, test.ShouldEqual, 5)
		test.That(t, res.Evaluation.Matched, test.ShouldEqual, 5)
		test.That(t, res.Evaluation.APE.Stats[evaluation.StatRMSE], test.ShouldAlmostEqual, 0, tolerance)
		test.That(t, res.Evaluation.Alignment.Scale, test.ShouldAlmostEqual, 1/0.3, tolerance)

		test.That(t, len(rec.Engines), test.ShouldEqual, 1)
		e := rec.Engines[0]
		test.That(t, e.Tracked(), test.ShouldResemble, []int{0, 1, 2, 3, 4})
		test.That(t, e.Replayed(), test.ShouldEqual, 5)
		test.That(t, e.Closed(), test.ShouldBeTrue)
		test.That(t, e.Config.ImageSize, test.ShouldResemble, []int{testHeight, testWidth})
		test.That(t, e.Config.Depth, test.ShouldBeFalse)

		test.That(t, res.RawTrajectoryPath, test.ShouldEqual, filepath.Join(outputPath, "d435i_mono_slam_trajectory.txt"))
		test.That(t, res.Evaluation.APEPath, test.ShouldEqual, filepath.Join(outputPath, "d435i_mono_ape_results.txt"))
		raw, err := evaluation.ReadTUM(res.RawTrajectoryPath)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, raw.Len(), test.ShouldEqual, 5)
		test.That(t, raw.Positions[1].X, test.ShouldAlmostEqual, rows[1][0], tolerance)
	})

	t.Run("A depth run does not correct scale", func(t *testing.T) {
		dataPath := writeDataset(t, 1500, groundTruth)
		outputPath := t.TempDir()
		rows := internaltesthelper.Similarity(strided(groundTruth, slameval.DefaultStride), 0.3, 0.5, [3]float64{1, 1, 0})
		newEngine, rec := fake.NewConstructor(rows, nil)

		cfg := baseConfig(dataPath, outputPath)
		cfg.UseDepth = true
		res, err := slameval.Run(ctx, cfg, newEngine, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.SubAlgo, test.ShouldEqual, slameval.Rgbd)
		test.That(t, res.Evaluation.Alignment.Scale, test.ShouldEqual, 1.)
		test.That(t, res.Evaluation.APE.Stats[evaluation.StatRMSE], test.ShouldBeGreaterThan, 0.1)
		test.That(t, rec.Engines[0].Config.Depth, test.ShouldBeTrue)
		test.That(t, res.Evaluation.APEPath, test.ShouldEqual, filepath.Join(outputPath, "d435i_rgbd_ape_results.txt"))
	})

	t.Run("A depth run with a metric estimate is exact", func(t *testing.T) {
		dataPath := writeDataset(t, 1500, groundTruth)
		rows := internaltesthelper.Similarity(strided(groundTruth, slameval.DefaultStride), 1, -1.1, [3]float64{0, 0, 2})
		newEngine, _ := fake.NewConstructor(rows, nil)

		cfg := baseConfig(dataPath, t.TempDir())
		cfg.UseDepth = true
		res, err := slameval.Run(ctx, cfg, newEngine, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Evaluation.APE.Stats[evaluation.StatMax], test.ShouldAlmostEqual, 0, tolerance)
	})

	t.Run("Every frame of a ten frame dataset is tracked and scored", func(t *testing.T) {
		dataPath := writeDataset(t, 0, groundTruth)
		outputPath := t.TempDir()
		newEngine, rec := fake.NewConstructor(groundTruth, nil)

		cfg := baseConfig(dataPath, outputPath)
		cfg.Stride = 1
		cfg.FilePrefix = "rover"
		cfg.RPE = true
		cfg.Plot = true
		res, err := slameval.Run(ctx, cfg, newEngine, logger)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, res.Frames, test.ShouldEqual, numImages)
		test.That(t, len(rec.Engines[0].Tracked()), test.ShouldEqual, numImages)
		for _, stats := range []map[string]float64{res.Evaluation.APE.Stats, res.Evaluation.RPE.Stats} {
			test.That(t, stats[evaluation.StatRMSE], test.ShouldAlmostEqual, 0, tolerance)
			test.That(t, stats[evaluation.StatMax], test.ShouldAlmostEqual, 0, tolerance)
		}
		for _, name := range []string{
			"rover_mono_slam_trajectory.txt",
			"rover_mono_aligned_trajectory.txt",
			"rover_mono_ape_results.txt",
			"rover_mono_rpe_results.txt",
			"rover_mono_trajectory_plot.png",
		} {
			_, err := os.Stat(filepath.Join(outputPath, name))
			test.That(t, err, test.ShouldBeNil)
		}
	})

	t.Run("An association failure keeps the raw trajectory", func(t *testing.T) {
		dataPath := writeDataset(t, 0, groundTruth)
		outputPath := t.TempDir()
		newEngine, _ := fake.NewConstructor(strided(groundTruth, slameval.DefaultStride), nil)

		cfg := baseConfig(dataPath, outputPath)
		cfg.TimeOffset = 100
		_, err := slameval.Run(ctx, cfg, newEngine, logger)
		test.That(t, errors.Is(err, evaluation.ErrNoMatchingTimestamps), test.ShouldBeTrue)

		raw, err := evaluation.ReadTUM(filepath.Join(outputPath, "d435i_mono_slam_trajectory.txt"))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, raw.Len(), test.ShouldEqual, 5)
		_, err = os.Stat(filepath.Join(outputPath, "d435i_mono_ape_results.txt"))
		test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	})

	t.Run("A missing ground truth fails before any engine is built", func(t *testing.T) {
		dataPath := writeDataset(t, 0, nil)
		newEngine, rec := fake.NewConstructor(groundTruth, nil)
		_, err := slameval.Run(ctx, baseConfig(dataPath, t.TempDir()), newEngine, logger)
		test.That(t, err.Error(), test.ShouldContainSubstring, "ground truth trajectory missing")
		test.That(t, rec.Engines, test.ShouldBeEmpty)
	})

	t.Run("An unknown camera is rejected", func(t *testing.T) {
		dataPath := writeDataset(t, 0, groundTruth)
		newEngine, _ := fake.NewConstructor(groundTruth, nil)
		cfg := baseConfig(dataPath, t.TempDir())
		cfg.Camera = "webcam"
		_, err := slameval.Run(ctx, cfg, newEngine, logger)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("A depth run without depth images fails", func(t *testing.T) {
		dataPath := writeDataset(t, 0, groundTruth)
		newEngine, _ := fake.NewConstructor(groundTruth, nil)
		cfg := baseConfig(dataPath, t.TempDir())
		cfg.UseDepth = true
		_, err := slameval.Run(ctx, cfg, newEngine, logger)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("A failing engine leaves no trajectory behind", func(t *testing.T) {
		dataPath := writeDataset(t, 0, groundTruth)
		outputPath := t.TempDir()
		newEngine, _ := fake.NewConstructor(groundTruth, map[int]error{2: os.ErrClosed})
		_, err := slameval.Run(ctx, baseConfig(dataPath, outputPath), newEngine, logger)
		test.That(t, err.Error(), test.ShouldContainSubstring, "engine failed to track frame 2")
		_, err = os.Stat(filepath.Join(outputPath, "d435i_mono_slam_trajectory.txt"))
		test.That(t, os.IsNotExist(err), test.ShouldBeTrue)
	})
}
