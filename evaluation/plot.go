package evaluation

import (
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotTrajectories draws the x-y projection of the reference and the aligned estimate to a PNG.
func PlotTrajectories(path, title string, ref, aligned *Trajectory) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "x (m)"
	p.Y.Label.Text = "y (m)"

	if err := plotutil.AddLines(p, "reference", topDown(ref), "estimate", topDown(aligned)); err != nil {
		return errors.Wrap(err, "error adding trajectories to plot")
	}
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return errors.Wrapf(err, "error saving plot %v", path)
	}
	return nil
}

func topDown(traj *Trajectory) plotter.XYs {
	pts := make(plotter.XYs, traj.Len())
	for i, p := range traj.Positions {
		pts[i].X = p.X
		pts[i].Y = p.Y
	}
	return pts
}
