// Package fake implements an in-process engine that replays a fixed trajectory.
package fake

import (
	"context"
	"io"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/viamrobotics/viam-slam-eval/dataset"
	"github.com/viamrobotics/viam-slam-eval/engine"
)

// Engine records the frames it is handed and returns Rows[i] as the pose of the i-th tracked frame.
type Engine struct {
	Config engine.Config
	Rows   [][7]float64
	// TrackErrs fails Track for the given frame indices.
	TrackErrs map[int]error

	tracked    []int
	imageSizes [][2]int
	replayed   int
	terminated bool
	closed     bool
}

// Track records the frame's index.
func (e *Engine) Track(ctx context.Context, frame dataset.Frame) error {
	if e.terminated {
		return errors.Errorf("cannot track frame %d after terminate", frame.Index)
	}
	if err, ok := e.TrackErrs[frame.Index]; ok {
		return err
	}
	e.tracked = append(e.tracked, frame.Index)
	e.imageSizes = append(e.imageSizes, [2]int{frame.Image.Height, frame.Image.Width})
	return nil
}

// Terminate drains next and returns one pose per tracked frame.
func (e *Engine) Terminate(ctx context.Context, next dataset.NextFrameFunc) ([]engine.Pose, error) {
	if e.terminated {
		return nil, errors.New("fake engine already terminated")
	}
	e.terminated = true
	for {
		if _, err := next(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		e.replayed++
	}
	if len(e.Rows) < len(e.tracked) {
		return nil, errors.Errorf("fake engine has %d rows for %d frames", len(e.Rows), len(e.tracked))
	}
	poses := make([]engine.Pose, len(e.tracked))
	for i := range poses {
		poses[i] = engine.PoseFromRow(e.Rows[i])
	}
	return poses, nil
}

// Close marks the engine closed.
func (e *Engine) Close() error {
	e.closed = true
	return nil
}

// Tracked returns the indices handed to Track, in order.
func (e *Engine) Tracked() []int {
	return e.tracked
}

// ImageSizes returns the [height, width] of every tracked frame.
func (e *Engine) ImageSizes() [][2]int {
	return e.imageSizes
}

// Replayed returns how many frames the terminate stream yielded.
func (e *Engine) Replayed() int {
	return e.replayed
}

// Closed reports whether Close was called.
func (e *Engine) Closed() bool {
	return e.closed
}

// Recorder keeps every engine a constructor from NewConstructor built.
type Recorder struct {
	Engines []*Engine
}

// NewConstructor returns a constructor of fake engines replaying rows.
func NewConstructor(rows [][7]float64, trackErrs map[int]error) (engine.Constructor, *Recorder) {
	rec := &Recorder{}
	return func(ctx context.Context, cfg engine.Config, logger golog.Logger) (engine.Engine, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		logger.Debugw("constructing fake engine", "image_size", cfg.ImageSize, "rows", len(rows))
		e := &Engine{Config: cfg, Rows: rows, TrackErrs: trackErrs}
		rec.Engines = append(rec.Engines, e)
		return e, nil
	}, rec
}
