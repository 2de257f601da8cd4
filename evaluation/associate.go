package evaluation

import (
	"math"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// DefaultMaxTimeDiff is the largest timestamp difference, in seconds, at which two poses are paired.
const DefaultMaxTimeDiff = 0.01

// ErrNoMatchingTimestamps is returned when association pairs no poses at all.
var ErrNoMatchingTimestamps = errors.New("found no matching timestamps")

// Associate pairs the poses of ref and est by timestamp. Each stamp of the shorter trajectory is
// matched with the nearest stamp of the longer one if they differ by at most maxDiff. offset is
// added to the stamps of est. Both returned trajectories have one pose per matched pair, ref first.
func Associate(ref, est *Trajectory, maxDiff, offset float64) (*Trajectory, *Trajectory, error) {
	estLonger := est.Len() > ref.Len()
	short, long := est, ref
	shortOffset, longOffset := offset, 0.0
	if estLonger {
		short, long = ref, est
		shortOffset, longOffset = 0, offset
	}

	longStamps := make([]float64, long.Len())
	for i, ts := range long.Timestamps {
		longStamps[i] = ts + longOffset
	}

	var shortIDs, longIDs []int
	for i, ts := range short.Timestamps {
		j, ok := nearest(longStamps, ts+shortOffset, maxDiff)
		if ok {
			shortIDs = append(shortIDs, i)
			longIDs = append(longIDs, j)
		}
	}
	if len(shortIDs) == 0 {
		return nil, nil, errors.Wrapf(ErrNoMatchingTimestamps,
			"between reference (%d poses) and estimate (%d poses) with max diff %v", ref.Len(), est.Len(), maxDiff)
	}

	if estLonger {
		return short.subset(shortIDs), long.subset(longIDs), nil
	}
	return long.subset(longIDs), short.subset(shortIDs), nil
}

// nearest returns the index of the sorted stamp closest to ts, the lower index on ties.
func nearest(stamps []float64, ts, maxDiff float64) (int, bool) {
	if len(stamps) == 0 {
		return 0, false
	}
	i, _ := slices.BinarySearch(stamps, ts)
	best := i
	if i == len(stamps) || (i > 0 && math.Abs(stamps[i-1]-ts) <= math.Abs(stamps[i]-ts)) {
		best = i - 1
	}
	return best, math.Abs(stamps[best]-ts) <= maxDiff
}
