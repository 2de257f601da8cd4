package evaluation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/num/quat"
)

// ReadTUM reads a trajectory in TUM format: one "timestamp tx ty tz qx qy qz qw" line per pose.
// Blank lines and lines starting with # are ignored.
func ReadTUM(path string) (*Trajectory, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "error opening trajectory %v", path)
	}
	defer goutils.UncheckedErrorFunc(f.Close)

	traj, err := parseTUM(f)
	if err != nil {
		return nil, errors.Wrapf(err, "error reading trajectory %v", path)
	}
	return traj, nil
}

func parseTUM(r io.Reader) (*Trajectory, error) {
	traj := &Trajectory{}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(strings.ReplaceAll(text, ",", " "))
		if len(fields) != 8 {
			return nil, errors.Errorf("line %d: expected 8 values, got %d", line, len(fields))
		}
		var v [8]float64
		for i, field := range fields {
			var err error
			if v[i], err = strconv.ParseFloat(field, 64); err != nil {
				return nil, errors.Wrapf(err, "line %d", line)
			}
		}
		traj.Timestamps = append(traj.Timestamps, v[0])
		traj.Positions = append(traj.Positions, r3.Vector{X: v[1], Y: v[2], Z: v[3]})
		traj.Orientations = append(traj.Orientations, quat.Number{Real: v[7], Imag: v[4], Jmag: v[5], Kmag: v[6]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := traj.check(); err != nil {
		return nil, err
	}
	return traj, nil
}

// WriteTUM writes traj to path in TUM format.
func WriteTUM(path string, traj *Trajectory) error {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	for i := range traj.Timestamps {
		p, q := traj.Positions[i], traj.Orientations[i]
		if _, err := fmt.Fprintf(w, "%s %.9f %.9f %.9f %.9f %.9f %.9f %.9f\n",
			strconv.FormatFloat(traj.Timestamps[i], 'f', -1, 64), p.X, p.Y, p.Z, q.Imag, q.Jmag, q.Kmag, q.Real); err != nil {
			goutils.UncheckedError(f.Close())
			return errors.Wrapf(err, "error writing trajectory %v", path)
		}
	}
	if err := w.Flush(); err != nil {
		goutils.UncheckedError(f.Close())
		return errors.Wrapf(err, "error writing trajectory %v", path)
	}
	return f.Close()
}
