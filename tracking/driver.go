// Package tracking drives an incremental SLAM engine over a stream of frames.
package tracking

import (
	"context"
	"io"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/viamrobotics/viam-slam-eval/dataset"
	"github.com/viamrobotics/viam-slam-eval/engine"
)

// State is the lifecycle stage of a Driver.
type State int

const (
	// StateUninitialized is a driver that has not seen a frame, so no engine exists yet.
	StateUninitialized State = iota
	// StateRunning is a driver whose engine is tracking frames.
	StateRunning
	// StateTerminated is a driver whose engine has produced its trajectory.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// FrameSource starts fresh traversals of a dataset.
type FrameSource interface {
	Stream(ctx context.Context) (dataset.NextFrameFunc, error)
}

// Driver builds the engine lazily from the first frame, feeds it every frame in order and
// terminates it with a second traversal of the same source. A Driver runs once.
type Driver struct {
	newEngine engine.Constructor
	cfg       engine.Config
	logger    golog.Logger

	state     State
	engine    engine.Engine
	lastIndex int
	tracked   int
}

// NewDriver returns an uninitialized driver.
func NewDriver(newEngine engine.Constructor, cfg engine.Config, logger golog.Logger) *Driver {
	return &Driver{newEngine: newEngine, cfg: cfg, logger: logger}
}

// State returns the driver's current lifecycle stage.
func (d *Driver) State() State {
	return d.state
}

// Run tracks every frame of src and returns the engine's trajectory, one pose per frame.
func (d *Driver) Run(ctx context.Context, src FrameSource) (poses []engine.Pose, err error) {
	ctx, span := trace.StartSpan(ctx, "tracking::Driver::Run")
	defer span.End()

	if d.state != StateUninitialized {
		return nil, errors.Errorf("driver is %v and cannot run again", d.state)
	}
	defer func() {
		if d.engine != nil {
			if closeErr := utils.TryClose(ctx, d.engine); closeErr != nil {
				err = multierr.Combine(err, errors.Wrap(closeErr, "error closing engine"))
			}
		}
	}()

	next, err := src.Stream(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "error starting frame stream")
	}
	for {
		frame, err := next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, errors.Wrapf(err, "error reading frame after %d tracked frames", d.tracked)
		}
		if err := d.dispatch(ctx, frame); err != nil {
			return nil, err
		}
	}
	if d.state == StateUninitialized {
		return nil, errors.New("dataset produced no frames")
	}

	fresh, err := src.Stream(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "error starting terminate stream")
	}
	d.logger.Debugw("terminating engine", "tracked", d.tracked)
	poses, err = d.engine.Terminate(ctx, fresh)
	if err != nil {
		return nil, errors.Wrap(err, "engine failed to terminate")
	}
	d.state = StateTerminated
	d.logger.Infof("tracked %d frames, engine returned %d poses", d.tracked, len(poses))
	return poses, nil
}

func (d *Driver) dispatch(ctx context.Context, frame dataset.Frame) error {
	if d.state == StateUninitialized {
		if frame.Index != 0 {
			return errors.Errorf("first frame has index %d, expected 0", frame.Index)
		}
		cfg := d.cfg
		cfg.ImageSize = []int{frame.Image.Height, frame.Image.Width}
		e, err := d.newEngine(ctx, cfg, d.logger)
		if err != nil {
			return errors.Wrap(err, "error constructing engine")
		}
		d.engine = e
		d.state = StateRunning
		d.logger.Debugw("engine constructed", "image_size", cfg.ImageSize)
	} else if frame.Index <= d.lastIndex {
		return errors.Errorf("frame index %d does not follow %d", frame.Index, d.lastIndex)
	}

	if err := d.engine.Track(ctx, frame); err != nil {
		return errors.Wrapf(err, "engine failed to track frame %d", frame.Index)
	}
	d.lastIndex = frame.Index
	d.tracked++
	return nil
}
