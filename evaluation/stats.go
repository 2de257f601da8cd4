package evaluation

import (
	"encoding/json"
	"math"
	"os"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// Statistic names present in every Report.
const (
	StatRMSE   = "rmse"
	StatMean   = "mean"
	StatMedian = "median"
	StatStd    = "std"
	StatMin    = "min"
	StatMax    = "max"
	StatSSE    = "sse"
)

// Report summarizes the per-pose errors of one metric.
type Report struct {
	Metric string
	Stats  map[string]float64
}

func newReport(metric string, errs []float64) (*Report, error) {
	if len(errs) == 0 {
		return nil, errors.Errorf("no %s errors to summarize", metric)
	}
	data := stats.Float64Data(errs)

	var sse float64
	for _, e := range errs {
		sse += e * e
	}
	mean, err := data.Mean()
	if err != nil {
		return nil, err
	}
	median, err := data.Median()
	if err != nil {
		return nil, err
	}
	std, err := data.StandardDeviationPopulation()
	if err != nil {
		return nil, err
	}
	lo, err := data.Min()
	if err != nil {
		return nil, err
	}
	hi, err := data.Max()
	if err != nil {
		return nil, err
	}

	return &Report{
		Metric: metric,
		Stats: map[string]float64{
			StatRMSE:   math.Sqrt(sse / float64(len(errs))),
			StatMean:   mean,
			StatMedian: median,
			StatStd:    std,
			StatMin:    lo,
			StatMax:    hi,
			StatSSE:    sse,
		},
	}, nil
}

// WriteJSON writes the statistics as a JSON object.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r.Stats, "", "    ")
	if err != nil {
		return errors.Wrapf(err, "error encoding %s statistics", r.Metric)
	}
	return errors.Wrapf(os.WriteFile(path, append(data, '\n'), 0o600), "error writing %s statistics", r.Metric)
}

// ReadReport reads statistics written by WriteJSON.
func ReadReport(metric, path string) (*Report, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := &Report{Metric: metric}
	if err := json.Unmarshal(data, &r.Stats); err != nil {
		return nil, errors.Wrapf(err, "error decoding %v", path)
	}
	return r, nil
}
