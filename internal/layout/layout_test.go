package layout

import "testing"

func TestClamp(t *testing.T) {
	tests := []struct {
		name string
		in   BBox
		want BBox
	}{
		{"inside", BBox{X: 10, Y: 10, Width: 20, Height: 20}, BBox{X: 10, Y: 10, Width: 20, Height: 20}},
		{"negative origin", BBox{X: -5, Y: -3, Width: 20, Height: 20}, BBox{X: 0, Y: 0, Width: 20, Height: 20}},
		{"overflow right", BBox{X: 90, Y: 0, Width: 50, Height: 10}, BBox{X: 90, Y: 0, Width: 10, Height: 10}},
		{"overflow bottom", BBox{X: 0, Y: 95, Width: 10, Height: 50}, BBox{X: 0, Y: 95, Width: 10, Height: 5}},
		{"fully outside", BBox{X: 200, Y: 200, Width: 10, Height: 10}, BBox{X: 99, Y: 99, Width: 0, Height: 0}},
		{"origin on boundary", BBox{X: 100, Y: 100, Width: 10, Height: 10}, BBox{X: 99, Y: 99, Width: 0, Height: 0}},
	}
	for _, tt := range tests {
		got := tt.in.Clamp(100, 100)
		if got != tt.want {
			t.Fatalf("%s: Clamp() = %+v, want %+v", tt.name, got, tt.want)
		}
		if got.X >= 100 || got.Y >= 100 || got.X+got.Width > 100 || got.Y+got.Height > 100 {
			t.Fatalf("%s: Clamp() left box outside bounds: %+v", tt.name, got)
		}
	}
}

func TestEmpty(t *testing.T) {
	l := Empty(640, 480)
	if l.OriginalSize.Width != 640 || l.OriginalSize.Height != 480 {
		t.Fatalf("unexpected size: %+v", l.OriginalSize)
	}
	if l.TextBlocks == nil || len(l.TextBlocks) != 0 {
		t.Fatalf("expected empty non-nil blocks, got %#v", l.TextBlocks)
	}
}
