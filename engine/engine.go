// Package engine defines the contract between the tracking driver and an incremental SLAM engine,
// along with the engine configuration and an engine that runs an external executable.
package engine

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"github.com/viamrobotics/viam-slam-eval/dataset"
)

// Engine consumes frames one at a time and produces the camera trajectory once the stream ends.
type Engine interface {
	// Track ingests one frame. Calls are strictly sequential with increasing frame indices.
	Track(ctx context.Context, frame dataset.Frame) error
	// Terminate runs the final optimization. next is a fresh traversal of the same frames,
	// which the engine may consume for global refinement. It returns one pose per tracked frame.
	Terminate(ctx context.Context, next dataset.NextFrameFunc) ([]Pose, error)
}

// Constructor builds an engine once the first frame has fixed cfg.ImageSize.
type Constructor func(ctx context.Context, cfg Config, logger golog.Logger) (Engine, error)

// Config is passed once to the engine at construction.
type Config struct {
	Weights string `yaml:"weights"`
	Buffer  int    `yaml:"buffer"`
	// ImageSize is [height, width], taken from the first frame.
	ImageSize []int `yaml:"image_size"`

	Beta           float64 `yaml:"beta"`
	FilterThresh   float64 `yaml:"filter_thresh"`
	Warmup         int     `yaml:"warmup"`
	KeyframeThresh float64 `yaml:"keyframe_thresh"`

	FrontendThresh float64 `yaml:"frontend_thresh"`
	FrontendWindow int     `yaml:"frontend_window"`
	FrontendRadius int     `yaml:"frontend_radius"`
	FrontendNMS    int     `yaml:"frontend_nms"`

	BackendThresh float64 `yaml:"backend_thresh"`
	BackendRadius int     `yaml:"backend_radius"`
	BackendNMS    int     `yaml:"backend_nms"`

	Depth    bool `yaml:"depth"`
	Stereo   bool `yaml:"stereo"`
	Upsample bool `yaml:"upsample"`
}

// DefaultConfig returns the tuning used for the recorded rover datasets.
func DefaultConfig() Config {
	return Config{
		Weights:        "droid.pth",
		Buffer:         4096,
		Beta:           0.5,
		FilterThresh:   2.0,
		Warmup:         8,
		KeyframeThresh: 3.5,
		FrontendThresh: 16,
		FrontendWindow: 16,
		FrontendRadius: 1,
		FrontendNMS:    0,
		BackendThresh:  22,
		BackendRadius:  2,
		BackendNMS:     3,
	}
}

// Validate checks the engine parameters. An unset ImageSize is allowed until the first frame sets it.
func (cfg Config) Validate() error {
	if cfg.Buffer < 1 {
		return errors.Errorf("buffer must be positive, got %d", cfg.Buffer)
	}
	if cfg.ImageSize != nil {
		if len(cfg.ImageSize) != 2 || cfg.ImageSize[0] < 1 || cfg.ImageSize[1] < 1 {
			return errors.Errorf("image_size must be [height, width], got %v", cfg.ImageSize)
		}
	}
	if cfg.Warmup < 0 {
		return errors.Errorf("warmup cannot be negative, got %d", cfg.Warmup)
	}
	if cfg.FrontendWindow < 1 {
		return errors.Errorf("frontend_window must be positive, got %d", cfg.FrontendWindow)
	}
	for name, v := range map[string]int{
		"frontend_radius": cfg.FrontendRadius,
		"frontend_nms":    cfg.FrontendNMS,
		"backend_radius":  cfg.BackendRadius,
		"backend_nms":     cfg.BackendNMS,
	} {
		if v < 0 {
			return errors.Errorf("%s cannot be negative, got %d", name, v)
		}
	}
	return nil
}

// Pose is a camera pose in the engine's world frame.
type Pose struct {
	Position    r3.Vector
	Orientation quat.Number
}

// PoseFromRow reads an x y z qx qy qz qw row.
func PoseFromRow(row [7]float64) Pose {
	return Pose{
		Position:    r3.Vector{X: row[0], Y: row[1], Z: row[2]},
		Orientation: quat.Number{Real: row[6], Imag: row[3], Jmag: row[4], Kmag: row[5]},
	}
}

// Row returns the pose as x y z qx qy qz qw.
func (p Pose) Row() [7]float64 {
	return [7]float64{
		p.Position.X, p.Position.Y, p.Position.Z,
		p.Orientation.Imag, p.Orientation.Jmag, p.Orientation.Kmag, p.Orientation.Real,
	}
}
