package colormap

import (
	"image/color"
	"testing"
)

func TestViridisEndpoints(t *testing.T) {
	t.Parallel()

	c0, ok := Viridis.At(0).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=0")
	}
	if c0 != (color.RGBA{R: 68, G: 1, B: 84, A: 255}) {
		t.Fatalf("unexpected Viridis.At(0): %#v", c0)
	}

	c1, ok := Viridis.At(1).(color.RGBA)
	if !ok {
		t.Fatalf("expected color.RGBA at t=1")
	}
	if c1 != (color.RGBA{R: 253, G: 231, B: 37, A: 255}) {
		t.Fatalf("unexpected Viridis.At(1): %#v", c1)
	}
}

func TestTab20Wraps(t *testing.T) {
	t.Parallel()

	if Tab20.Len() != 20 {
		t.Fatalf("expected 20 colors, got %d", Tab20.Len())
	}
	if Tab20.AtIndex(0) != Tab20.AtIndex(20) {
		t.Fatalf("expected AtIndex to wrap")
	}
	if Tab20.AtIndex(0) == Tab20.AtIndex(1) {
		t.Fatalf("expected distinct neighbouring colors")
	}
}

func TestByName(t *testing.T) {
	t.Parallel()

	c, err := ByName("Viridis")
	if err != nil {
		t.Fatalf("ByName: %v", err)
	}
	if c.At(0) != Viridis.At(0) {
		t.Fatalf("expected viridis")
	}
	if _, err := ByName("jet"); err == nil {
		t.Fatalf("expected error for unknown colormap")
	}
}

func TestHex(t *testing.T) {
	t.Parallel()

	if got := Hex(LightGrey); got != "#d3d3d3" {
		t.Fatalf("unexpected hex %q", got)
	}
	if got := Hex(Tab20.AtIndex(0)); got != "#1f77b4" {
		t.Fatalf("unexpected hex %q", got)
	}
}
