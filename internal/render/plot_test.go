package render

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"
)

func TestScatterPlacesPoints(t *testing.T) {
	r := NewPlotRenderer(Config{Width: 120, Height: 100, PointSize: 3})
	red := color.RGBA{255, 0, 0, 255}
	blue := color.RGBA{0, 0, 255, 255}
	points := []Point{
		{X: 0, Y: 0, Color: red},
		{X: 10, Y: 5, Color: blue},
	}

	data, err := r.Scatter(points, nil)
	if err != nil {
		t.Fatalf("Scatter: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 120 || b.Dy() != 100 {
		t.Fatalf("unexpected size %v", b)
	}

	f := r.newFrame(points, false)
	check := func(x, y float64, want color.RGBA) {
		t.Helper()
		px, py := f.project(x, y)
		got := color.RGBAModel.Convert(img.At(int(px), int(py))).(color.RGBA)
		if got != want {
			t.Fatalf("pixel at (%v,%v): expected %v, got %v", px, py, want, got)
		}
	}
	check(0, 0, red)
	check(10, 5, blue)

	// The lower-left data corner maps to the lower-left of the canvas.
	px, py := f.project(0, 0)
	if px > 20 || py < 80 {
		t.Fatalf("expected origin near the bottom left, got (%v,%v)", px, py)
	}
}

func TestScatterDrawOrder(t *testing.T) {
	r := NewPlotRenderer(Config{Width: 50, Height: 50, PointSize: 4})
	grey := color.RGBA{211, 211, 211, 255}
	green := color.RGBA{0, 128, 0, 255}
	points := []Point{
		{X: 1, Y: 1, Color: grey},
		{X: 1, Y: 1, Color: green},
	}
	data, err := r.Scatter(points, nil)
	if err != nil {
		t.Fatalf("Scatter: %v", err)
	}
	img, _ := png.Decode(bytes.NewReader(data))
	got := color.RGBAModel.Convert(img.At(25, 25)).(color.RGBA)
	if got != green {
		t.Fatalf("expected the last point on top, got %v", got)
	}
}

func TestScatterWithLegend(t *testing.T) {
	r := NewPlotRenderer(Config{Width: 300, Height: 100, LegendWidth: 100})
	legend := []LegendEntry{
		{Label: "A", Color: color.RGBA{255, 0, 0, 255}},
		{Label: "B", Color: color.RGBA{0, 0, 255, 255}},
	}
	points := []Point{{X: 0, Y: 0, Color: legend[0].Color}, {X: 1, Y: 1, Color: legend[1].Color}}

	f := r.newFrame(points, true)
	px, _ := f.project(1, 1)
	if px > 200 {
		t.Fatalf("expected points to stay left of the legend strip, got x=%v", px)
	}
	if _, err := r.Scatter(points, legend); err != nil {
		t.Fatalf("Scatter: %v", err)
	}
}

func TestEmptyPlot(t *testing.T) {
	r := NewPlotRenderer(Config{Width: 64, Height: 32})
	data, err := r.EmptyPlot()
	if err != nil {
		t.Fatalf("EmptyPlot: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 32 {
		t.Fatalf("unexpected size %v", b)
	}
	if _, _, _, a := img.At(0, 0).RGBA(); a != 0 {
		t.Fatalf("expected a transparent placeholder")
	}
}
