// Package render draws embedding scatter plots using fogleman/gg.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"
)

// Config contains renderer configuration.
type Config struct {
	Width     int
	Height    int
	PointSize float64
	// LegendWidth is the strip reserved on the right when a legend is drawn.
	LegendWidth int
}

// Marker is the glyph used for one point.
type Marker int

const (
	MarkerDot Marker = iota
	MarkerCross
)

// Point is one cell in plot coordinates.
type Point struct {
	X, Y   float64
	Color  color.Color
	Marker Marker
}

// LegendEntry labels one color of the plot.
type LegendEntry struct {
	Label string
	Color color.Color
}

// PlotRenderer renders scatter plots to PNG.
type PlotRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewPlotRenderer creates a new plot renderer.
func NewPlotRenderer(cfg Config) *PlotRenderer {
	if cfg.Width <= 0 {
		cfg.Width = 800
	}
	if cfg.Height <= 0 {
		cfg.Height = 800
	}
	if cfg.PointSize <= 0 {
		cfg.PointSize = 2
	}
	if cfg.LegendWidth <= 0 {
		cfg.LegendWidth = 180
	}
	return &PlotRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.Width, cfg.Height)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}
}

// Config returns the effective renderer configuration.
func (r *PlotRenderer) Config() Config { return r.config }

// frame maps data coordinates onto the drawable area of the canvas.
type frame struct {
	minX, minY     float64
	scaleX, scaleY float64
	left, bottom   float64
	width, height  float64
}

const margin = 12.0

func (r *PlotRenderer) newFrame(points []Point, legend bool) frame {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, p := range points {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	if len(points) == 0 {
		minX, maxX, minY, maxY = 0, 1, 0, 1
	}
	if maxX == minX {
		minX, maxX = minX-0.5, maxX+0.5
	}
	if maxY == minY {
		minY, maxY = minY-0.5, maxY+0.5
	}

	w := float64(r.config.Width) - 2*margin
	if legend {
		w -= float64(r.config.LegendWidth)
	}
	h := float64(r.config.Height) - 2*margin
	return frame{
		minX:   minX,
		minY:   minY,
		scaleX: w / (maxX - minX),
		scaleY: h / (maxY - minY),
		left:   margin,
		bottom: margin + h,
		width:  w,
		height: h,
	}
}

// project returns the pixel position of a data point. Y grows upwards.
func (f frame) project(x, y float64) (float64, float64) {
	return f.left + (x-f.minX)*f.scaleX, f.bottom - (y-f.minY)*f.scaleY
}

// Scatter renders points in order, so later points are drawn on top. A legend
// strip is drawn when entries are given.
func (r *PlotRenderer) Scatter(points []Point, legend []LegendEntry) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	f := r.newFrame(points, len(legend) > 0)
	radius := r.config.PointSize
	for _, p := range points {
		px, py := f.project(p.X, p.Y)
		dc.SetColor(p.Color)
		switch p.Marker {
		case MarkerCross:
			dc.SetLineWidth(1)
			dc.DrawLine(px-radius, py-radius, px+radius, py+radius)
			dc.DrawLine(px-radius, py+radius, px+radius, py-radius)
			dc.Stroke()
		default:
			dc.DrawCircle(px, py, radius)
			dc.Fill()
		}
	}

	if len(legend) > 0 {
		r.drawLegend(dc, legend)
	}
	return r.encodeContext(dc)
}

func (r *PlotRenderer) drawLegend(dc *gg.Context, legend []LegendEntry) {
	x := float64(r.config.Width-r.config.LegendWidth) + margin
	y := margin
	const row = 14.0
	for _, e := range legend {
		if y+row > float64(r.config.Height) {
			break
		}
		dc.SetColor(e.Color)
		dc.DrawCircle(x+4, y+row/2, 4)
		dc.Fill()
		dc.SetColor(color.Black)
		dc.DrawStringAnchored(e.Label, x+14, y+row/2, 0, 0.5)
		y += row
	}
}

func (r *PlotRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// EmptyPlot creates a transparent placeholder image of the plot size.
func (r *PlotRenderer) EmptyPlot() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.config.Width, r.config.Height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
		img.Pix[i+1] = 255
		img.Pix[i+2] = 255
		img.Pix[i+3] = 0
	}

	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
