package tactile

import (
	"fmt"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// TrajectoryRenderer draws the in-plane path of a trajectory as seen from
// above the sensor. Resets are marked with circles and every HeadingEvery
// frames a short line shows the in-plane rotation.
type TrajectoryRenderer struct {
	Trajectory   Trajectory
	Resets       []int
	Scale        float64 // canvas units per millimeter
	Padding      float64 // canvas units
	GridSpacing  float64 // millimeters; 0 disables the grid
	HeadingEvery int
	Resolution   canvas.Resolution
	PathColor    color.RGBA
	ResetColor   color.RGBA
}

// NewTrajectoryRenderer creates a renderer with default settings
func NewTrajectoryRenderer(traj Trajectory, resets []int) *TrajectoryRenderer {
	return &TrajectoryRenderer{
		Trajectory:   traj,
		Resets:       resets,
		Scale:        20.0,
		Padding:      10.0,
		GridSpacing:  1.0,
		HeadingEvery: 10,
		Resolution:   canvas.DPI(150),
		PathColor:    color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
		ResetColor:   color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff},
	}
}

type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// bounds returns the extent of the path in millimeters, never degenerate.
func (r *TrajectoryRenderer) bounds() (minX, minY, maxX, maxY float64) {
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, t := range r.Trajectory {
		x, y := t.T.X*1000, t.T.Y*1000
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	if len(r.Trajectory) == 0 {
		minX, minY, maxX, maxY = 0, 0, 0, 0
	}
	const minExtent = 1.0
	if maxX-minX < minExtent {
		c := (minX + maxX) / 2
		minX, maxX = c-minExtent/2, c+minExtent/2
	}
	if maxY-minY < minExtent {
		c := (minY + maxY) / 2
		minY, maxY = c-minExtent/2, c+minExtent/2
	}
	return minX, minY, maxX, maxY
}

func (r *TrajectoryRenderer) size() (width, height float64) {
	minX, minY, maxX, maxY := r.bounds()
	return (maxX-minX)*r.Scale + 2*r.Padding, (maxY-minY)*r.Scale + 2*r.Padding
}

// RenderToSVG writes the trajectory as an SVG to the provided writer
func (r *TrajectoryRenderer) RenderToSVG(w io.Writer) error {
	if len(r.Trajectory) == 0 {
		return fmt.Errorf("empty trajectory")
	}
	width, height := r.size()
	svgRenderer := svg.New(w, width, height, nil)
	r.render(svgRenderer, width, height)
	return svgRenderer.Close()
}

// RenderToPNG writes the trajectory as a PNG to the provided writer
func (r *TrajectoryRenderer) RenderToPNG(w io.Writer) error {
	if len(r.Trajectory) == 0 {
		return fmt.Errorf("empty trajectory")
	}
	width, height := r.size()
	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.render(rast, width, height)
	return png.Encode(w, rast)
}

func (r *TrajectoryRenderer) render(renderer canvasRenderer, width, height float64) {
	minX, minY, maxX, maxY := r.bounds()
	toCanvas := func(xMM, yMM float64) (float64, float64) {
		return (xMM-minX)*r.Scale + r.Padding, (yMM-minY)*r.Scale + r.Padding
	}

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: color.RGBA{R: 0xd3, G: 0xd3, B: 0xd3, A: 0xff}}
		gridStyle.StrokeWidth = 0.2
		gridStyle.Dashes = []float64{1.0, 1.0}

		for x := math.Ceil(minX/r.GridSpacing) * r.GridSpacing; x <= maxX; x += r.GridSpacing {
			p := &canvas.Path{}
			p.MoveTo(toCanvas(x, minY))
			p.LineTo(toCanvas(x, maxY))
			renderer.RenderPath(p, gridStyle, canvas.Identity)
		}
		for y := math.Ceil(minY/r.GridSpacing) * r.GridSpacing; y <= maxY; y += r.GridSpacing {
			p := &canvas.Path{}
			p.MoveTo(toCanvas(minX, y))
			p.LineTo(toCanvas(maxX, y))
			renderer.RenderPath(p, gridStyle, canvas.Identity)
		}
	}

	pathStyle := canvas.DefaultStyle
	pathStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	pathStyle.Stroke = canvas.Paint{Color: r.PathColor}
	pathStyle.StrokeWidth = 0.6

	path := &canvas.Path{}
	for i, t := range r.Trajectory {
		x, y := toCanvas(t.T.X*1000, t.T.Y*1000)
		if i == 0 {
			path.MoveTo(x, y)
		} else {
			path.LineTo(x, y)
		}
	}
	renderer.RenderPath(path, pathStyle, canvas.Identity)

	if r.HeadingEvery > 0 {
		headingStyle := pathStyle
		headingStyle.StrokeWidth = 0.3
		for i := 0; i < len(r.Trajectory); i += r.HeadingEvery {
			t := r.Trajectory[i]
			_, _, yaw := t.EulerXYZ()
			cx, cy := toCanvas(t.T.X*1000, t.T.Y*1000)
			p := &canvas.Path{}
			p.MoveTo(cx, cy)
			p.LineTo(cx+3*math.Cos(yaw), cy+3*math.Sin(yaw))
			renderer.RenderPath(p, headingStyle, canvas.Identity)
		}
	}

	startStyle := canvas.DefaultStyle
	startStyle.Fill = canvas.Paint{Color: canvas.Black}
	sx, sy := toCanvas(r.Trajectory[0].T.X*1000, r.Trajectory[0].T.Y*1000)
	renderer.RenderPath(canvas.Circle(1.0).Translate(sx, sy), startStyle, canvas.Identity)

	resetStyle := canvas.DefaultStyle
	resetStyle.Fill = canvas.Paint{Color: canvas.Transparent}
	resetStyle.Stroke = canvas.Paint{Color: r.ResetColor}
	resetStyle.StrokeWidth = 0.4
	for _, frame := range r.Resets {
		if frame < 0 || frame >= len(r.Trajectory) {
			continue
		}
		t := r.Trajectory[frame]
		cx, cy := toCanvas(t.T.X*1000, t.T.Y*1000)
		renderer.RenderPath(canvas.Circle(1.5).Translate(cx, cy), resetStyle, canvas.Identity)
	}
}
