package engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	slamConfig "go.viam.com/slam/config"
	"go.viam.com/slam/dataprocess"
	goutils "go.viam.com/utils"
	"go.viam.com/utils/pexec"

	"github.com/viamrobotics/viam-slam-eval/dataset"
)

const (
	// DefaultExecutableName is the engine binary a ProcessEngine runs when none is configured.
	DefaultExecutableName = "slam_engine"
	processID             = "slam_engine"
	// FramesFile lists the staged frames, one "index fx fy cx cy rgb depth" line per frame.
	FramesFile = "frames.txt"
	// SettingsFile is the engine settings file inside the config directory.
	SettingsFile = "settings.yaml"
	// TrajectoryFile is where the executable writes one "x y z qx qy qz qw" row per frame.
	TrajectoryFile = "trajectory.txt"
	noDepth        = "-"
)

// ProcessOptions selects the executable a ProcessEngine runs.
type ProcessOptions struct {
	// ExecutableName defaults to DefaultExecutableName.
	ExecutableName string
	// Args are passed before the generated -settings, -data_dir and -output arguments.
	Args []string
	// WorkDir is where frames are staged. When empty a temporary directory is used and removed on Close.
	WorkDir string
}

// ProcessEngine stages every tracked frame on disk and, at terminate, runs an external
// executable once over the staged frames and reads back the trajectory it writes.
type ProcessEngine struct {
	cfg         Config
	opts        ProcessOptions
	workDir     string
	ownsWorkDir bool
	process     pexec.ProcessManager
	logger      golog.Logger

	frames          *os.File
	tracked         int
	lastIndex       int
	settingsWritten bool
	terminated      bool
}

// NewProcessConstructor returns a Constructor building ProcessEngines with opts.
func NewProcessConstructor(opts ProcessOptions) Constructor {
	return func(ctx context.Context, cfg Config, logger golog.Logger) (Engine, error) {
		return NewProcessEngine(ctx, cfg, opts, logger)
	}
}

// NewProcessEngine prepares the working directory of a ProcessEngine.
func NewProcessEngine(ctx context.Context, cfg Config, opts ProcessOptions, logger golog.Logger) (*ProcessEngine, error) {
	_, span := trace.StartSpan(ctx, "engine::NewProcessEngine")
	defer span.End()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid engine config")
	}
	if cfg.ImageSize == nil {
		return nil, errors.New("process engine needs image_size")
	}
	if opts.ExecutableName == "" {
		opts.ExecutableName = DefaultExecutableName
	}

	pe := &ProcessEngine{
		cfg:     cfg,
		opts:    opts,
		workDir: opts.WorkDir,
		process: pexec.NewProcessManager(logger),
		logger:  logger,
	}
	if pe.workDir == "" {
		dir, err := os.MkdirTemp("", "slam-eval-*")
		if err != nil {
			return nil, err
		}
		pe.workDir = dir
		pe.ownsWorkDir = true
	}

	var success bool
	defer func() {
		if !success {
			if err := pe.Close(); err != nil {
				logger.Errorw("error closing out after error", "error", err)
			}
		}
	}()

	if err := slamConfig.SetupDirectories(pe.workDir, logger); err != nil {
		return nil, errors.Wrap(err, "unable to setup working directories")
	}
	for _, directoryName := range []string{dataset.RGBDirectory, dataset.DepthDirectory} {
		directoryPath := filepath.Join(pe.workDir, "data", directoryName)
		if err := os.MkdirAll(directoryPath, os.ModePerm); err != nil {
			return nil, errors.Errorf("issue creating directory at %v: %v", directoryPath, err)
		}
	}

	//nolint:gosec
	frames, err := os.Create(filepath.Join(pe.workDir, "data", FramesFile))
	if err != nil {
		return nil, err
	}
	pe.frames = frames

	logger.Debugw("process engine ready", "work_dir", pe.workDir, "executable", opts.ExecutableName,
		"image_size", cfg.ImageSize)
	success = true
	return pe, nil
}

// WorkDir returns the directory frames are staged in.
func (pe *ProcessEngine) WorkDir() string {
	return pe.workDir
}

// Track stages frame for the executable.
func (pe *ProcessEngine) Track(ctx context.Context, frame dataset.Frame) error {
	_, span := trace.StartSpan(ctx, "engine::ProcessEngine::Track")
	defer span.End()

	if pe.terminated {
		return errors.Errorf("cannot track frame %d after terminate", frame.Index)
	}
	if pe.tracked > 0 && frame.Index <= pe.lastIndex {
		return errors.Errorf("frame %d tracked after frame %d", frame.Index, pe.lastIndex)
	}
	if frame.Image.Height != pe.cfg.ImageSize[0] || frame.Image.Width != pe.cfg.ImageSize[1] {
		return errors.Errorf("frame %d is %dx%d but the engine was built for %v",
			frame.Index, frame.Image.Height, frame.Image.Width, pe.cfg.ImageSize)
	}

	if !pe.settingsWritten {
		settings, err := newSettings(frame.Intrinsics, pe.cfg)
		if err != nil {
			return err
		}
		if err := writeSettings(pe.settingsPath(), settings); err != nil {
			return errors.Wrap(err, "error generating engine settings")
		}
		pe.settingsWritten = true
	}

	name := fmt.Sprintf("%06d.png", frame.Index)
	rgbPath := filepath.Join(pe.workDir, "data", dataset.RGBDirectory, name)
	if err := writePNG(frame.Image.NRGBA(), rgbPath); err != nil {
		return errors.Wrapf(err, "error staging frame %d", frame.Index)
	}
	depthPath := noDepth
	if frame.Depth != nil {
		depthPath = filepath.Join(pe.workDir, "data", dataset.DepthDirectory, name)
		if err := writePNG(millimeterImage(frame.Depth), depthPath); err != nil {
			return errors.Wrapf(err, "error staging depth of frame %d", frame.Index)
		}
	}

	in := frame.Intrinsics
	if _, err := fmt.Fprintf(pe.frames, "%d %.9f %.9f %.9f %.9f %s %s\n",
		frame.Index, in.Fx, in.Fy, in.Ppx, in.Ppy, rgbPath, depthPath); err != nil {
		return errors.Wrapf(err, "error listing frame %d", frame.Index)
	}
	pe.tracked++
	pe.lastIndex = frame.Index
	pe.logger.Debugw("staged frame", "index", frame.Index, "rgb", rgbPath, "depth", depthPath)
	return nil
}

// Terminate replays the fresh traversal to check it matches what was staged, then runs the
// executable to completion and reads its trajectory.
func (pe *ProcessEngine) Terminate(ctx context.Context, next dataset.NextFrameFunc) ([]Pose, error) {
	ctx, span := trace.StartSpan(ctx, "engine::ProcessEngine::Terminate")
	defer span.End()

	if pe.terminated {
		return nil, errors.New("process engine already terminated")
	}
	pe.terminated = true

	replayed := 0
	for {
		if _, err := next(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, errors.Wrapf(err, "error replaying frame %d", replayed)
		}
		replayed++
	}
	if replayed != pe.tracked {
		return nil, errors.Errorf("terminate stream has %d frames but %d were tracked", replayed, pe.tracked)
	}
	if pe.tracked == 0 {
		return nil, errors.New("no frames were tracked")
	}

	if err := pe.frames.Close(); err != nil {
		return nil, errors.Wrap(err, "error closing frame list")
	}
	pe.frames = nil

	if _, err := pe.process.AddProcessFromConfig(ctx, pe.ProcessConfig()); err != nil {
		return nil, errors.Wrap(err, "problem adding engine process")
	}
	pe.logger.Debug("starting engine process")
	if err := pe.process.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "problem running engine process")
	}

	poses, err := ReadTrajectory(pe.trajectoryPath())
	if err != nil {
		return nil, err
	}
	pe.logger.Infof("engine produced %d poses for %d frames", len(poses), pe.tracked)
	return poses, nil
}

// ProcessConfig returns the config of the engine process run at terminate.
func (pe *ProcessEngine) ProcessConfig() pexec.ProcessConfig {
	args := append([]string{}, pe.opts.Args...)
	args = append(args, "-settings="+pe.settingsPath())
	args = append(args, "-data_dir="+filepath.Join(pe.workDir, "data"))
	args = append(args, "-output="+pe.trajectoryPath())

	return pexec.ProcessConfig{
		ID:      processID,
		Name:    pe.opts.ExecutableName,
		Args:    args,
		Log:     true,
		OneShot: true,
	}
}

// Close stops the process and removes a temporary working directory.
func (pe *ProcessEngine) Close() error {
	var err error
	if pe.frames != nil {
		err = multierr.Combine(err, pe.frames.Close())
		pe.frames = nil
	}
	if stopErr := pe.process.Stop(); stopErr != nil {
		err = multierr.Combine(err, errors.Wrap(stopErr, "problem stopping engine process"))
	}
	if pe.ownsWorkDir {
		err = multierr.Combine(err, os.RemoveAll(pe.workDir))
	}
	return err
}

func (pe *ProcessEngine) settingsPath() string {
	return filepath.Join(pe.workDir, "config", SettingsFile)
}

func (pe *ProcessEngine) trajectoryPath() string {
	return filepath.Join(pe.workDir, "map", TrajectoryFile)
}

func writePNG(img image.Image, path string) error {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return err
	}
	return dataprocess.WriteBytesToFile(buf.Bytes(), path)
}

// millimeterImage converts a depth map back to the 16-bit millimeter encoding of recorded datasets.
func millimeterImage(dm *dataset.DepthMap) *image.Gray16 {
	img := image.NewGray16(image.Rect(0, 0, dm.Width, dm.Height))
	for y := 0; y < dm.Height; y++ {
		for x := 0; x < dm.Width; x++ {
			mm := float64(dm.At(x, y)) * depthMapFactor
			if mm > 0xffff {
				mm = 0xffff
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(mm + 0.5)})
		}
	}
	return img
}

// ReadTrajectory reads "x y z qx qy qz qw" rows. Blank lines and lines starting with # are skipped.
func ReadTrajectory(path string) ([]Pose, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "engine wrote no trajectory")
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	var poses []Pose
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 7 {
			return nil, errors.Errorf("%v:%d: expected 7 values, got %d", path, line, len(fields))
		}
		var row [7]float64
		for i, field := range fields {
			if row[i], err = strconv.ParseFloat(field, 64); err != nil {
				return nil, errors.Wrapf(err, "%v:%d", path, line)
			}
		}
		poses = append(poses, PoseFromRow(row))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "error reading %v", path)
	}
	return poses, nil
}
