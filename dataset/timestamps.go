package dataset

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// TimestampPolicy recovers the capture time of a color image. position is the image's index in
// the full sorted listing, before any stride is applied.
type TimestampPolicy interface {
	Timestamp(position int, path string) (float64, error)
}

// FilenameTimestamps reads the timestamp from the file name itself, e.g. 1680000000.123.png.
type FilenameTimestamps struct{}

// Timestamp parses the base name of path without its extension.
func (FilenameTimestamps) Timestamp(position int, path string) (float64, error) {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	ts, err := strconv.ParseFloat(name, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "cannot parse timestamp from file name %v", path)
	}
	return ts, nil
}

// IndexTimestamps assigns times from the listing position for datasets whose names are not times.
type IndexTimestamps struct {
	RateHz float64
}

// Timestamp returns position / RateHz.
func (p IndexTimestamps) Timestamp(position int, path string) (float64, error) {
	if p.RateHz <= 0 {
		return 0, errors.Errorf("index timestamps need a positive rate, got %v", p.RateHz)
	}
	return float64(position) / p.RateHz, nil
}
