package extract

import (
	"context"
	"errors"
	"image"
	"image/color"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/local/pdfcleaner/internal/ai"
	"github.com/local/pdfcleaner/internal/ocr"
	"github.com/local/pdfcleaner/internal/render"
)

type fakeEngine struct {
	frags []ocr.Fragment
	err   error
	calls int
}

func (f *fakeEngine) Recognize(ctx context.Context, grayPNG []byte) ([]ocr.Fragment, error) {
	f.calls++
	return f.frags, f.err
}

type fakeMerger struct {
	calls int
	fn    func(call int, req ai.Request) (ai.Response, error)
}

func (f *fakeMerger) Name() string { return "fake-merge" }

func (f *fakeMerger) Do(ctx context.Context, req ai.Request) (ai.Response, error) {
	f.calls++
	return f.fn(f.calls, req)
}

func testRaster(t *testing.T, w, h int) render.Raster {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	r, err := render.Encode(img)
	if err != nil {
		t.Fatalf("encode raster: %v", err)
	}
	return r
}

func TestProcessOCRFailureYieldsEmptyLayout(t *testing.T) {
	w := New(Config{}, &fakeEngine{err: errors.New("tesseract exploded")}, nil)
	l := w.Process(context.Background(), 1, testRaster(t, 300, 200))
	if len(l.TextBlocks) != 0 {
		t.Fatalf("expected empty layout, got %d blocks", len(l.TextBlocks))
	}
	if l.OriginalSize.Width != 300 || l.OriginalSize.Height != 200 {
		t.Fatalf("empty layout must still record dims, got %+v", l.OriginalSize)
	}
}

func TestProcessConfidenceFiltering(t *testing.T) {
	engine := &fakeEngine{frags: []ocr.Fragment{
		{Text: "keep", X: 10, Y: 10, Width: 40, Height: 16, Confidence: 85},
		{Text: "drop", X: 10, Y: 30, Width: 40, Height: 16, Confidence: 42},
		{Text: "   ", X: 10, Y: 50, Width: 40, Height: 16, Confidence: 99},
		{Text: "edge", X: 10, Y: 70, Width: 40, Height: 16, Confidence: 60},
	}}
	w := New(Config{MinConfidence: 60}, engine, nil)
	l := w.Process(context.Background(), 1, testRaster(t, 300, 200))

	if len(l.TextBlocks) != 2 {
		t.Fatalf("expected 2 blocks, got %d: %+v", len(l.TextBlocks), l.TextBlocks)
	}
	if l.TextBlocks[0].Text != "keep" || l.TextBlocks[1].Text != "edge" {
		t.Fatalf("unexpected survivors: %+v", l.TextBlocks)
	}
	b := l.TextBlocks[0]
	if b.Font.Family != "Arial" || b.Font.Weight != "normal" || b.Font.Color != "#000000" {
		t.Fatalf("unexpected font defaults: %+v", b.Font)
	}
	if b.Font.Size != 12.0 { // 16 px * 0.75
		t.Fatalf("unexpected font size: %v", b.Font.Size)
	}
}

func TestProcessClampsOutOfBoundsBoxes(t *testing.T) {
	engine := &fakeEngine{frags: []ocr.Fragment{
		{Text: "wide", X: 280, Y: 190, Width: 100, Height: 40, Confidence: 95},
	}}
	w := New(Config{}, engine, nil)
	l := w.Process(context.Background(), 1, testRaster(t, 300, 200))
	if len(l.TextBlocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(l.TextBlocks))
	}
	b := l.TextBlocks[0].BBox
	if b.X+b.Width > 300 || b.Y+b.Height > 200 {
		t.Fatalf("bbox not clamped: %+v", b)
	}
}

func TestProcessMergeSuccess(t *testing.T) {
	engine := &fakeEngine{frags: []ocr.Fragment{
		{Text: "Hello", X: 10, Y: 10, Width: 40, Height: 16, Confidence: 90},
		{Text: "World", X: 55, Y: 10, Width: 44, Height: 16, Confidence: 90},
	}}
	merger := &fakeMerger{fn: func(call int, req ai.Request) (ai.Response, error) {
		if !strings.Contains(req.Prompt, "Hello") || !strings.Contains(req.Prompt, "World") {
			t.Fatalf("prompt missing fragments: %s", req.Prompt)
		}
		return ai.Response{Text: "```json\n" +
			`[{"text":"Hello World","bbox":{"x":10,"y":10,"width":89,"height":16},"font":{"family":"Arial","size":12,"weight":"normal","color":"#000000"}}]` +
			"\n```"}, nil
	}}

	w := New(Config{MaxRetries: 3, RetryDelay: time.Millisecond}, engine, merger)
	l := w.Process(context.Background(), 1, testRaster(t, 300, 200))
	if len(l.TextBlocks) != 1 || l.TextBlocks[0].Text != "Hello World" {
		t.Fatalf("unexpected merged blocks: %+v", l.TextBlocks)
	}
	if merger.calls != 1 {
		t.Fatalf("expected 1 merge call, got %d", merger.calls)
	}
}

func TestProcessMergeFailureKeepsRawFragments(t *testing.T) {
	engine := &fakeEngine{frags: []ocr.Fragment{
		{Text: "alpha", X: 10, Y: 10, Width: 40, Height: 16, Confidence: 90},
		{Text: "beta", X: 10, Y: 40, Width: 36, Height: 16, Confidence: 90},
	}}
	merger := &fakeMerger{fn: func(call int, req ai.Request) (ai.Response, error) {
		return ai.Response{Text: "sorry, I cannot produce JSON today"}, nil
	}}

	w := New(Config{MaxRetries: 3, RetryDelay: time.Millisecond}, engine, merger)
	raster := testRaster(t, 300, 200)

	want := New(Config{}, engine, nil).Process(context.Background(), 1, raster).TextBlocks
	got := w.Process(context.Background(), 1, raster).TextBlocks
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("fallback blocks differ from raw fragments:\n got %+v\nwant %+v", got, want)
	}
	if merger.calls != 3 {
		t.Fatalf("expected 3 merge attempts, got %d", merger.calls)
	}
}

func TestProcessMergeTransportErrorThenRecovery(t *testing.T) {
	engine := &fakeEngine{frags: []ocr.Fragment{
		{Text: "one", X: 1, Y: 1, Width: 20, Height: 10, Confidence: 90},
	}}
	merger := &fakeMerger{fn: func(call int, req ai.Request) (ai.Response, error) {
		if call == 1 {
			return ai.Response{}, errors.New("connection reset")
		}
		return ai.Response{Text: `[{"text":"one","bbox":{"x":1,"y":1,"width":20,"height":10},"font":{"family":"Arial","size":7.5,"weight":"normal","color":"#000000"}}]`}, nil
	}}

	w := New(Config{MaxRetries: 3, RetryDelay: time.Millisecond}, engine, merger)
	l := w.Process(context.Background(), 1, testRaster(t, 100, 100))
	if merger.calls != 2 {
		t.Fatalf("expected 2 merge calls, got %d", merger.calls)
	}
	if len(l.TextBlocks) != 1 || l.TextBlocks[0].Text != "one" {
		t.Fatalf("unexpected blocks: %+v", l.TextBlocks)
	}
}

// blockingMerger never answers; it waits for the per-attempt context to
// expire and records each attempt's deadline.
type blockingMerger struct {
	calls     int
	deadlines []time.Time
}

func (b *blockingMerger) Name() string { return "blocking" }

func (b *blockingMerger) Do(ctx context.Context, req ai.Request) (ai.Response, error) {
	b.calls++
	if dl, ok := ctx.Deadline(); ok {
		b.deadlines = append(b.deadlines, dl)
	}
	<-ctx.Done()
	return ai.Response{}, ctx.Err()
}

func TestProcessMergeTimeoutPerAttempt(t *testing.T) {
	engine := &fakeEngine{frags: []ocr.Fragment{
		{Text: "slow", X: 1, Y: 1, Width: 20, Height: 10, Confidence: 90},
	}}
	merger := &blockingMerger{}
	w := New(Config{MaxRetries: 3, RetryDelay: time.Millisecond, RequestTimeout: 10 * time.Millisecond}, engine, merger)

	l := w.Process(context.Background(), 1, testRaster(t, 100, 100))
	if merger.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", merger.calls)
	}
	if len(merger.deadlines) != 3 {
		t.Fatalf("every attempt should carry a deadline, got %d", len(merger.deadlines))
	}
	// Each retry gets a fresh timeout, so deadlines advance monotonically.
	for i := 1; i < len(merger.deadlines); i++ {
		if !merger.deadlines[i].After(merger.deadlines[i-1]) {
			t.Fatalf("attempt %d reused a stale deadline: %v then %v", i+1, merger.deadlines[i-1], merger.deadlines[i])
		}
	}
	if len(l.TextBlocks) != 1 || l.TextBlocks[0].Text != "slow" {
		t.Fatalf("timeout exhaustion should keep raw fragments, got %+v", l.TextBlocks)
	}
}

func TestProcessNilMergerSkipsMerge(t *testing.T) {
	engine := &fakeEngine{frags: []ocr.Fragment{
		{Text: "solo", X: 5, Y: 5, Width: 30, Height: 12, Confidence: 80},
	}}
	w := New(Config{}, engine, nil)
	l := w.Process(context.Background(), 1, testRaster(t, 100, 100))
	if len(l.TextBlocks) != 1 || l.TextBlocks[0].Text != "solo" {
		t.Fatalf("unexpected blocks: %+v", l.TextBlocks)
	}
}

func TestProcessNoFragmentsSkipsMerge(t *testing.T) {
	engine := &fakeEngine{}
	merger := &fakeMerger{fn: func(call int, req ai.Request) (ai.Response, error) {
		t.Fatal("merge must not be called with zero blocks")
		return ai.Response{}, nil
	}}
	w := New(Config{}, engine, merger)
	l := w.Process(context.Background(), 1, testRaster(t, 100, 100))
	if len(l.TextBlocks) != 0 {
		t.Fatalf("expected no blocks, got %+v", l.TextBlocks)
	}
	if merger.calls != 0 {
		t.Fatalf("merge called %d times", merger.calls)
	}
}
