package tactile

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

const (
	plotWidth  = 14 * vg.Inch
	plotHeight = 6 * vg.Inch
)

var (
	resetLineColor = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	truthLineColor = color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
)

// PosePlot charts the translation (mm) and rotation (deg) components of a
// trajectory against the frame index. Resets are drawn as vertical lines and
// a non-empty truth trajectory is overlaid in gray.
func PosePlot(traj, truth Trajectory, resets []int) (*plot.Plot, error) {
	if len(traj) == 0 {
		return nil, fmt.Errorf("empty trajectory")
	}
	p := plot.New()
	p.Title.Text = "Object pose relative to the start frame"
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "mm / deg"
	p.Add(plotter.NewGrid())

	poses := traj.Poses()
	labels := []string{"x (mm)", "y (mm)", "z (mm)", "rx (deg)", "ry (deg)", "rz (deg)"}
	for c, label := range labels {
		pts := make(plotter.XYs, len(poses))
		for i, pose := range poses {
			pts[i] = plotter.XY{X: float64(i), Y: pose.Slice()[c]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = plotutil.Color(c)
		line.Width = vg.Points(1)
		if c >= 3 {
			line.Dashes = plotutil.Dashes(1)
		}
		p.Add(line)
		p.Legend.Add(label, line)
	}

	if len(truth) > 0 {
		if err := addTruthLines(p, truth.Poses()); err != nil {
			return nil, err
		}
	}
	if err := addResetLines(p, resets, poses); err != nil {
		return nil, err
	}
	p.Legend.Top = true
	p.Legend.Left = true
	return p, nil
}

func addTruthLines(p *plot.Plot, poses []PoseVector) error {
	for c := 0; c < 6; c++ {
		pts := make(plotter.XYs, len(poses))
		for i, pose := range poses {
			pts[i] = plotter.XY{X: float64(i), Y: pose.Slice()[c]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = truthLineColor
		line.Width = vg.Points(0.5)
		p.Add(line)
		if c == 0 {
			p.Legend.Add("ground truth", line)
		}
	}
	return nil
}

func addResetLines(p *plot.Plot, resets []int, poses []PoseVector) error {
	if len(resets) == 0 {
		return nil
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, pose := range poses {
		for _, v := range pose.Slice() {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
	}
	if hi-lo < 1e-9 {
		lo, hi = lo-1, hi+1
	}
	for i, frame := range resets {
		line, err := plotter.NewLine(plotter.XYs{{X: float64(frame), Y: lo}, {X: float64(frame), Y: hi}})
		if err != nil {
			return err
		}
		line.Color = resetLineColor
		line.Width = vg.Points(0.5)
		line.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
		p.Add(line)
		if i == 0 {
			p.Legend.Add("reference reset", line)
		}
	}
	return nil
}

// DriftPlot charts the drift check errors of long-horizon tracking against
// the reset thresholds. Only checked steps are plotted.
func DriftPlot(reports []StepReport, th ResetThresholds) (*plot.Plot, error) {
	rot := make(plotter.XYs, 0, len(reports))
	trans := make(plotter.XYs, 0, len(reports))
	for _, r := range reports {
		if !r.Checked {
			continue
		}
		rot = append(rot, plotter.XY{X: float64(r.Frame), Y: r.RotationError})
		trans = append(trans, plotter.XY{X: float64(r.Frame), Y: r.TranslationError})
	}
	if len(rot) == 0 {
		return nil, fmt.Errorf("no drift checks to plot")
	}

	p := plot.New()
	p.Title.Text = "Drift check error"
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "mm / deg"
	p.Add(plotter.NewGrid())

	series := []struct {
		label     string
		pts       plotter.XYs
		threshold float64
	}{
		{"rotation error (deg)", rot, th.RotationDeg},
		{"translation error (mm)", trans, th.TranslationMM},
	}
	for i, s := range series {
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return nil, err
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(s.label, line)

		limit := s.threshold
		fn := plotter.NewFunction(func(float64) float64 { return limit })
		fn.Color = plotutil.Color(i)
		fn.Dashes = plotutil.Dashes(2)
		fn.Width = vg.Points(0.5)
		p.Add(fn)
		p.Legend.Add(s.label+" threshold", fn)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePlot encodes p in the given format ("png" or "svg").
func WritePlot(w io.Writer, p *plot.Plot, format string) error {
	wt, err := p.WriterTo(plotWidth, plotHeight, format)
	if err != nil {
		return fmt.Errorf("encoding plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// SavePlot writes p to a file; the format follows the extension.
func SavePlot(path string, p *plot.Plot) error {
	return p.Save(plotWidth, plotHeight, path)
}
