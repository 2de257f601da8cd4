package engine

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/rdk/rimage/transform"
	"gopkg.in/yaml.v2"
)

const (
	// file version expected by the engine executable.
	fileVersion         = "1.0"
	yamlFilePrefixBytes = "%YAML:1.0\n"
	// staged depth images hold millimeters.
	depthMapFactor = 1000.0
)

// Settings is written as the engine executable's settings file.
type Settings struct {
	FileVersion string  `yaml:"File.version"`
	CamType     string  `yaml:"Camera.type"`
	Width       int     `yaml:"Camera.width"`
	Height      int     `yaml:"Camera.height"`
	Fx          float64 `yaml:"Camera1.fx"`
	Fy          float64 `yaml:"Camera1.fy"`
	Ppx         float64 `yaml:"Camera1.cx"`
	Ppy         float64 `yaml:"Camera1.cy"`
	// frames are undistorted before they are staged, so these stay zero
	RadialK1       float64 `yaml:"Camera1.k1"`
	RadialK2       float64 `yaml:"Camera1.k2"`
	TangentialP1   float64 `yaml:"Camera1.p1"`
	TangentialP2   float64 `yaml:"Camera1.p2"`
	RGBflag        int8    `yaml:"Camera.RGB"`
	DepthMapFactor float64 `yaml:"RGBD.DepthMapFactor"`
	Mode           string  `yaml:"System.mode"`
	Tracking       Config  `yaml:"Tracking"`
}

// newSettings combines the first frame's intrinsics with the engine configuration.
func newSettings(intrinsics transform.PinholeCameraIntrinsics, cfg Config) (*Settings, error) {
	if err := intrinsics.CheckValid(); err != nil {
		return nil, errors.Wrap(err, "cannot generate engine settings")
	}
	mode := "mono"
	if cfg.Depth {
		mode = "rgbd"
	}
	return &Settings{
		FileVersion:    fileVersion,
		CamType:        "PinHole",
		Width:          intrinsics.Width,
		Height:         intrinsics.Height,
		Fx:             intrinsics.Fx,
		Fy:             intrinsics.Fy,
		Ppx:            intrinsics.Ppx,
		Ppy:            intrinsics.Ppy,
		DepthMapFactor: depthMapFactor,
		Mode:           mode,
		Tracking:       cfg,
	}, nil
}

// writeSettings writes settings as a yaml file at path.
func writeSettings(path string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return errors.Wrap(err, "error while marshaling engine settings")
	}
	data := append([]byte(yamlFilePrefixBytes), yamlData...)
	return errors.Wrapf(os.WriteFile(path, data, 0o600), "error writing engine settings %v", path)
}

// ReadSettings reads a settings file written for an engine executable.
func ReadSettings(path string) (*Settings, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var settings Settings
	if err := yaml.Unmarshal(bytes.TrimPrefix(data, []byte(yamlFilePrefixBytes)), &settings); err != nil {
		return nil, errors.Wrapf(err, "error parsing engine settings %v", path)
	}
	return &settings, nil
}
