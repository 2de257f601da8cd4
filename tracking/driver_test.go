package tracking_test

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/viamrobotics/viam-slam-eval/dataset"
	"github.com/viamrobotics/viam-slam-eval/engine"
	"github.com/viamrobotics/viam-slam-eval/engine/fake"
	"github.com/viamrobotics/viam-slam-eval/internal/testhelper"
	"github.com/viamrobotics/viam-slam-eval/tracking"
)

// sliceSource replays fixed frames and counts how many traversals were started.
type sliceSource struct {
	frames    []dataset.Frame
	streamErr error
	readErrAt int
	streams   int
}

func (s *sliceSource) Stream(ctx context.Context) (dataset.NextFrameFunc, error) {
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	s.streams++
	i := 0
	return func() (dataset.Frame, error) {
		if s.readErrAt > 0 && i == s.readErrAt {
			return dataset.Frame{}, errors.New("corrupt image")
		}
		if i >= len(s.frames) {
			return dataset.Frame{}, io.EOF
		}
		i++
		return s.frames[i-1], nil
	}, nil
}

func framesWithIndices(indices ...int) []dataset.Frame {
	frames := make([]dataset.Frame, len(indices))
	for i, index := range indices {
		frames[i] = dataset.Frame{
			Index: index,
			Image: dataset.ImageTensor{Channels: 3, Height: 24, Width: 32, Data: make([]uint8, 3*24*32)},
		}
	}
	return frames
}

func TestStateString(t *testing.T) {
	test.That(t, tracking.StateUninitialized.String(), test.ShouldEqual, "uninitialized")
	test.That(t, tracking.StateRunning.String(), test.ShouldEqual, "running")
	test.That(t, tracking.StateTerminated.String(), test.ShouldEqual, "terminated")
	test.That(t, tracking.State(7).String(), test.ShouldEqual, "unknown")
}

func TestDriverRun(t *testing.T) {
	ctx := context.Background()
	logger := golog.NewTestLogger(t)

	t.Run("Every frame is tracked in order and terminate gets a fresh stream", func(t *testing.T) {
		rows := testhelper.Helix(4)
		newEngine, rec := fake.NewConstructor(rows, nil)
		src := &sliceSource{frames: framesWithIndices(0, 1, 2, 3)}
		driver := tracking.NewDriver(newEngine, engine.DefaultConfig(), logger)
		test.That(t, driver.State(), test.ShouldEqual, tracking.StateUninitialized)

		poses, err := driver.Run(ctx, src)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(poses), test.ShouldEqual, 4)
		test.That(t, poses[3], test.ShouldResemble, engine.PoseFromRow(rows[3]))
		test.That(t, driver.State(), test.ShouldEqual, tracking.StateTerminated)

		test.That(t, len(rec.Engines), test.ShouldEqual, 1)
		e := rec.Engines[0]
		test.That(t, e.Config.ImageSize, test.ShouldResemble, []int{24, 32})
		test.That(t, e.Config.Buffer, test.ShouldEqual, 4096)
		test.That(t, e.Tracked(), test.ShouldResemble, []int{0, 1, 2, 3})
		test.That(t, e.Replayed(), test.ShouldEqual, 4)
		test.That(t, e.Closed(), test.ShouldBeTrue)
		test.That(t, src.streams, test.ShouldEqual, 2)

		_, err = driver.Run(ctx, src)
		test.That(t, err.Error(), test.ShouldContainSubstring, "terminated and cannot run again")
	})

	t.Run("A repeated index is rejected before it reaches the engine", func(t *testing.T) {
		newEngine, rec := fake.NewConstructor(testhelper.Helix(3), nil)
		driver := tracking.NewDriver(newEngine, engine.DefaultConfig(), logger)
		_, err := driver.Run(ctx, &sliceSource{frames: framesWithIndices(0, 1, 1)})
		test.That(t, err.Error(), test.ShouldContainSubstring, "frame index 1 does not follow 1")
		test.That(t, rec.Engines[0].Tracked(), test.ShouldResemble, []int{0, 1})
		test.That(t, rec.Engines[0].Closed(), test.ShouldBeTrue)
	})

	t.Run("A stream that does not start at zero is rejected", func(t *testing.T) {
		newEngine, rec := fake.NewConstructor(testhelper.Helix(3), nil)
		driver := tracking.NewDriver(newEngine, engine.DefaultConfig(), logger)
		_, err := driver.Run(ctx, &sliceSource{frames: framesWithIndices(1, 2)})
		test.That(t, err.Error(), test.ShouldContainSubstring, "first frame has index 1")
		test.That(t, rec.Engines, test.ShouldBeEmpty)
	})

	t.Run("An engine error aborts the run with the failing index", func(t *testing.T) {
		boom := errors.New("boom")
		newEngine, rec := fake.NewConstructor(testhelper.Helix(5), map[int]error{2: boom})
		src := &sliceSource{frames: framesWithIndices(0, 1, 2, 3, 4)}
		driver := tracking.NewDriver(newEngine, engine.DefaultConfig(), logger)
		_, err := driver.Run(ctx, src)
		test.That(t, err.Error(), test.ShouldContainSubstring, "frame 2")
		test.That(t, errors.Is(err, boom), test.ShouldBeTrue)
		test.That(t, rec.Engines[0].Tracked(), test.ShouldResemble, []int{0, 1})
		test.That(t, rec.Engines[0].Replayed(), test.ShouldEqual, 0)
		test.That(t, src.streams, test.ShouldEqual, 1)
		test.That(t, driver.State(), test.ShouldEqual, tracking.StateRunning)

		_, err = driver.Run(ctx, src)
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("An empty dataset is an error", func(t *testing.T) {
		newEngine, rec := fake.NewConstructor(nil, nil)
		driver := tracking.NewDriver(newEngine, engine.DefaultConfig(), logger)
		_, err := driver.Run(ctx, &sliceSource{})
		test.That(t, err.Error(), test.ShouldContainSubstring, "no frames")
		test.That(t, rec.Engines, test.ShouldBeEmpty)
	})

	t.Run("Source errors are returned", func(t *testing.T) {
		newEngine, _ := fake.NewConstructor(testhelper.Helix(3), nil)
		driver := tracking.NewDriver(newEngine, engine.DefaultConfig(), logger)
		_, err := driver.Run(ctx, &sliceSource{streamErr: errors.New("no rgb directory")})
		test.That(t, err.Error(), test.ShouldContainSubstring, "no rgb directory")

		driver = tracking.NewDriver(newEngine, engine.DefaultConfig(), logger)
		_, err = driver.Run(ctx, &sliceSource{frames: framesWithIndices(0, 1, 2), readErrAt: 2})
		test.That(t, err.Error(), test.ShouldContainSubstring, "corrupt image")
		test.That(t, err.Error(), test.ShouldContainSubstring, "after 2 tracked frames")
	})

	t.Run("A failing constructor is reported", func(t *testing.T) {
		cfg := engine.DefaultConfig()
		cfg.Buffer = 0
		newEngine, _ := fake.NewConstructor(testhelper.Helix(3), nil)
		driver := tracking.NewDriver(newEngine, cfg, logger)
		_, err := driver.Run(ctx, &sliceSource{frames: framesWithIndices(0)})
		test.That(t, err.Error(), test.ShouldContainSubstring, "error constructing engine")
	})
}
