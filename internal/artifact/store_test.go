package artifact

import (
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/local/pdfcleaner/internal/layout"
	"github.com/local/pdfcleaner/internal/render"
)

func testRaster(t *testing.T, w, h int, c color.Color) render.Raster {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	r, err := render.Encode(img)
	if err != nil {
		t.Fatalf("encode test raster: %v", err)
	}
	return r
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestRasterRoundTrip(t *testing.T) {
	s := newTestStore(t)
	job := "/docs/report.pdf"

	for i := 1; i <= 3; i++ {
		if s.HasRaster(job, i) {
			t.Fatalf("page %d should not exist yet", i)
		}
		if err := s.SaveRaster(job, i, testRaster(t, 10+i, 20, color.White)); err != nil {
			t.Fatalf("SaveRaster(%d) error = %v", i, err)
		}
	}

	rasters, err := s.LoadRasters(job)
	if err != nil {
		t.Fatalf("LoadRasters() error = %v", err)
	}
	if len(rasters) != 3 {
		t.Fatalf("expected 3 rasters, got %d", len(rasters))
	}
	for i, r := range rasters {
		if r.Width != 11+i || r.Height != 20 {
			t.Fatalf("raster %d has dims %dx%d", i, r.Width, r.Height)
		}
	}
}

func TestLoadRastersEmpty(t *testing.T) {
	s := newTestStore(t)
	rasters, err := s.LoadRasters("/nowhere/none.pdf")
	if err != nil {
		t.Fatalf("LoadRasters() error = %v", err)
	}
	if rasters != nil {
		t.Fatalf("expected nil raster set, got %d entries", len(rasters))
	}
}

func TestCorruptRasterInvalidatesSet(t *testing.T) {
	s := newTestStore(t)
	job := "/docs/report.pdf"
	for i := 1; i <= 3; i++ {
		if err := s.SaveRaster(job, i, testRaster(t, 8, 8, color.Black)); err != nil {
			t.Fatalf("SaveRaster(%d) error = %v", i, err)
		}
	}

	// Tamper with the middle page.
	p := filepath.Join(s.jobDir(job), "rasters", "page_2.png")
	if err := os.WriteFile(p, []byte("not a png"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	if _, err := s.LoadRasters(job); !errors.Is(err, ErrCorruptArtifact) {
		t.Fatalf("expected ErrCorruptArtifact, got %v", err)
	}
}

func TestRasterSequenceGap(t *testing.T) {
	s := newTestStore(t)
	job := "/docs/report.pdf"
	if err := s.SaveRaster(job, 1, testRaster(t, 8, 8, color.Black)); err != nil {
		t.Fatalf("SaveRaster: %v", err)
	}
	if err := s.SaveRaster(job, 3, testRaster(t, 8, 8, color.Black)); err != nil {
		t.Fatalf("SaveRaster: %v", err)
	}
	if _, err := s.LoadRasters(job); !errors.Is(err, ErrCorruptArtifact) {
		t.Fatalf("expected ErrCorruptArtifact for gap, got %v", err)
	}
}

func TestLayoutPresence(t *testing.T) {
	s := newTestStore(t)
	job := "/docs/report.pdf"

	if _, ok, err := s.LoadLayout(job, 1); err != nil || ok {
		t.Fatalf("expected absent layout, ok=%v err=%v", ok, err)
	}

	l := layout.Layout{
		OriginalSize: layout.Size{Width: 800, Height: 600},
		TextBlocks: []layout.TextBlock{
			{Text: "hello", BBox: layout.BBox{X: 1, Y: 2, Width: 30, Height: 12},
				Font: layout.Font{Family: "Arial", Size: 9, Weight: "normal", Color: "#000000"}},
		},
	}
	if err := s.SaveLayout(job, 1, l); err != nil {
		t.Fatalf("SaveLayout() error = %v", err)
	}

	got, ok, err := s.LoadLayout(job, 1)
	if err != nil || !ok {
		t.Fatalf("LoadLayout() ok=%v err=%v", ok, err)
	}
	if got.OriginalSize != l.OriginalSize || len(got.TextBlocks) != 1 || got.TextBlocks[0] != l.TextBlocks[0] {
		t.Fatalf("layout roundtrip mismatch: %+v", got)
	}
}

func TestRegeneratedPresence(t *testing.T) {
	s := newTestStore(t)
	job := "/docs/report.pdf"

	if _, ok, err := s.LoadRegenerated(job, 1); err != nil || ok {
		t.Fatalf("expected absent regenerated, ok=%v err=%v", ok, err)
	}

	r := testRaster(t, 16, 9, color.White)
	if err := s.SaveRegenerated(job, 1, r); err != nil {
		t.Fatalf("SaveRegenerated() error = %v", err)
	}
	got, ok, err := s.LoadRegenerated(job, 1)
	if err != nil || !ok {
		t.Fatalf("LoadRegenerated() ok=%v err=%v", ok, err)
	}
	if got.Width != 16 || got.Height != 9 {
		t.Fatalf("unexpected dims %dx%d", got.Width, got.Height)
	}

	// An undecodable regenerated image means "redo the page", not an error.
	p := filepath.Join(s.jobDir(job), "regenerated", "page_1.png")
	if err := os.WriteFile(p, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, ok, err := s.LoadRegenerated(job, 1); err != nil || ok {
		t.Fatalf("expected ok=false for undecodable, ok=%v err=%v", ok, err)
	}
}

func TestProgressLifecycle(t *testing.T) {
	s := newTestStore(t)
	jobA, jobB := "/a.pdf", "/b.pdf"

	if _, ok, err := s.GetProgress(jobA); err != nil || ok {
		t.Fatalf("expected no progress, ok=%v err=%v", ok, err)
	}

	if err := s.SetProgress(jobA, 1, 5, 5); err != nil {
		t.Fatalf("SetProgress A: %v", err)
	}
	if err := s.SetProgress(jobB, 2, 3, 7); err != nil {
		t.Fatalf("SetProgress B: %v", err)
	}

	p, ok, err := s.GetProgress(jobA)
	if err != nil || !ok {
		t.Fatalf("GetProgress A: ok=%v err=%v", ok, err)
	}
	if p != (Progress{Stage: 1, Completed: 5, Total: 5}) {
		t.Fatalf("unexpected progress: %+v", p)
	}

	if err := s.DeleteProgress(jobA); err != nil {
		t.Fatalf("DeleteProgress: %v", err)
	}
	if _, ok, _ := s.GetProgress(jobA); ok {
		t.Fatal("progress A should be gone")
	}
	if p, ok, _ := s.GetProgress(jobB); !ok || p.Stage != 2 {
		t.Fatalf("progress B should survive, ok=%v p=%+v", ok, p)
	}

	// Deleting a missing entry is a no-op.
	if err := s.DeleteProgress(jobA); err != nil {
		t.Fatalf("DeleteProgress again: %v", err)
	}
}

func TestPurgeArtifacts(t *testing.T) {
	s := newTestStore(t)
	job := "/docs/report.pdf"
	if err := s.SaveRaster(job, 1, testRaster(t, 4, 4, color.Black)); err != nil {
		t.Fatalf("SaveRaster: %v", err)
	}
	if err := s.PurgeArtifacts(job); err != nil {
		t.Fatalf("PurgeArtifacts: %v", err)
	}
	if s.HasRaster(job, 1) {
		t.Fatal("raster should be purged")
	}
	if _, err := os.Stat(s.jobDir(job)); !os.IsNotExist(err) {
		t.Fatalf("job dir should be removed, stat err=%v", err)
	}
}

func TestJobDirDistinctForSameBasename(t *testing.T) {
	s := newTestStore(t)
	a := s.jobDir("/one/report.pdf")
	b := s.jobDir("/two/report.pdf")
	if a == b {
		t.Fatalf("job dirs collide: %s", a)
	}
}
