package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfcleaner/internal/artifact"
	"github.com/local/pdfcleaner/internal/assemble"
	"github.com/local/pdfcleaner/internal/layout"
	"github.com/local/pdfcleaner/internal/metrics"
	"github.com/local/pdfcleaner/internal/regen"
	"github.com/local/pdfcleaner/internal/render"
)

// Job stages. Each is persisted before the next begins so an interrupted
// run resumes from the last completed stage.
const (
	StageNotStarted = 0
	StageExtracted  = 1
	StageProcessed  = 2
	StageWritten    = 3
)

// Store is the durable artifact layer the pipeline checkpoints through.
// Artifact presence is the sole source of truth for resumption.
type Store interface {
	SaveRaster(job string, page int, r render.Raster) error
	LoadRasters(job string) ([]render.Raster, error)
	SaveLayout(job string, page int, l layout.Layout) error
	LoadLayout(job string, page int) (layout.Layout, bool, error)
	SaveRegenerated(job string, page int, r render.Raster) error
	LoadRegenerated(job string, page int) (render.Raster, bool, error)
	GetProgress(job string) (artifact.Progress, bool, error)
	SetProgress(job string, stage, completed, total int) error
	DeleteProgress(job string) error
	PurgeArtifacts(job string) error
}

// Regenerator produces a page's background image, degrading to the original
// raster on exhausted retries.
type Regenerator interface {
	Process(ctx context.Context, page int, raster render.Raster) regen.Result
}

// LayoutExtractor produces a page's text layout, degrading to an empty
// layout on OCR failure.
type LayoutExtractor interface {
	Process(ctx context.Context, page int, raster render.Raster) layout.Layout
}

// Options select per-run behavior.
type Options struct {
	Job           string // canonical input reference; the job identity
	LocalPath     string // resolved local path of the input PDF
	OutputPath    string
	OutputFormat  string // "pdf"|"pptx"
	SkipOCR       bool
	SkipImageGen  bool
	RenderDPI     int
	LayoutWorkers int
	RegenWorkers  int
}

// Dependencies are the pipeline's collaborators.
type Dependencies struct {
	Store    Store
	Regen    Regenerator
	Extract  LayoutExtractor
	Render   func(path string, dpi int) ([]render.Raster, error)
	Assemble func(pages []assemble.Page, outPath string) error
	// Report receives incremental progress for user display; may be nil.
	Report func(stage string, completed, total int)
}

type Pipeline struct {
	opts Options
	deps Dependencies
}

func New(opts Options, deps Dependencies) *Pipeline {
	if opts.LayoutWorkers <= 0 {
		opts.LayoutWorkers = 3
	}
	if opts.RegenWorkers <= 0 {
		opts.RegenWorkers = 3
	}
	if opts.RenderDPI <= 0 {
		opts.RenderDPI = 144
	}
	// The PDF writer keeps no text layer, so the layout stream would be
	// paid OCR and merge work with nowhere to go.
	if opts.OutputFormat == "pdf" {
		opts.SkipOCR = true
	}
	return &Pipeline{opts: opts, deps: deps}
}

func (p *Pipeline) report(stage string, completed, total int) {
	if p.deps.Report != nil {
		p.deps.Report(stage, completed, total)
	}
}

// Run executes the full pipeline for one job, resuming from whatever
// artifacts already exist.
func (p *Pipeline) Run(ctx context.Context) error {
	rasters, err := p.acquireRasters(ctx)
	if err != nil {
		return err
	}

	layouts, regenerated, err := p.processPages(ctx, rasters)
	if err != nil {
		return err
	}

	return p.assemble(layouts, regenerated)
}

// acquireRasters reuses a complete, valid raster set from the store or
// (re)derives all pages from the input document. A single corrupt member
// invalidates the whole set.
func (p *Pipeline) acquireRasters(ctx context.Context) ([]render.Raster, error) {
	job := p.opts.Job

	prog, known, err := p.deps.Store.GetProgress(job)
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}

	if known && prog.Stage >= StageExtracted {
		rasters, err := p.deps.Store.LoadRasters(job)
		switch {
		case err == nil && len(rasters) > 0 && (prog.Total == 0 || len(rasters) == prog.Total):
			log.Info().Str("job", job).Int("pages", len(rasters)).Msg("resuming from existing rasters")
			p.report("extract", len(rasters), len(rasters))
			return rasters, nil
		case errors.Is(err, artifact.ErrCorruptArtifact):
			log.Warn().Str("job", job).Err(err).Msg("raster set invalid; re-deriving all pages")
		case err != nil:
			return nil, fmt.Errorf("load rasters: %w", err)
		default:
			log.Warn().Str("job", job).Int("found", len(rasters)).Int("want", prog.Total).Msg("raster set incomplete; re-deriving all pages")
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	rasters, err := p.deps.Render(p.opts.LocalPath, p.opts.RenderDPI)
	if err != nil {
		return nil, fmt.Errorf("rasterize input: %w", err)
	}
	if len(rasters) == 0 {
		return nil, fmt.Errorf("input document has no pages")
	}
	for i, r := range rasters {
		if err := p.deps.Store.SaveRaster(job, i+1, r); err != nil {
			return nil, fmt.Errorf("save raster %d: %w", i+1, err)
		}
		p.report("extract", i+1, len(rasters))
	}

	if err := p.deps.Store.SetProgress(job, StageExtracted, len(rasters), len(rasters)); err != nil {
		return nil, fmt.Errorf("persist progress: %w", err)
	}
	metrics.IncStage("1")
	log.Info().Str("job", job).Int("pages", len(rasters)).Msg("rasters extracted")
	return rasters, nil
}

// processPages runs the two streams over two independent worker pools.
// Tasks write disjoint slots of the preallocated result slices, so the
// slices themselves need no locking; each task also persists its own
// artifact so an interrupted run loses at most in-flight pages.
func (p *Pipeline) processPages(ctx context.Context, rasters []render.Raster) ([]layout.Layout, []render.Raster, error) {
	job := p.opts.Job
	total := len(rasters)

	layouts := make([]layout.Layout, total)
	regenerated := make([]render.Raster, total)

	var needLayout, needRegen []int
	for i := 0; i < total; i++ {
		layouts[i] = layout.Empty(rasters[i].Width, rasters[i].Height)

		if l, ok, err := p.deps.Store.LoadLayout(job, i+1); err != nil {
			return nil, nil, fmt.Errorf("load layout %d: %w", i+1, err)
		} else if ok {
			layouts[i] = l
			log.Debug().Int("page", i+1).Msg("resuming layout")
		} else if !p.opts.SkipOCR {
			needLayout = append(needLayout, i)
		}

		if p.opts.SkipImageGen {
			// Disabled regeneration always yields the original raster,
			// overwriting any image a previous non-skip run stored.
			regenerated[i] = rasters[i]
			if err := p.deps.Store.SaveRegenerated(job, i+1, rasters[i]); err != nil {
				return nil, nil, fmt.Errorf("save original as regenerated %d: %w", i+1, err)
			}
		} else if img, ok, err := p.deps.Store.LoadRegenerated(job, i+1); err != nil {
			return nil, nil, fmt.Errorf("load regenerated %d: %w", i+1, err)
		} else if ok {
			regenerated[i] = img
			log.Debug().Int("page", i+1).Msg("resuming regenerated image")
		} else {
			needRegen = append(needRegen, i)
		}
	}

	pending := len(needLayout) + len(needRegen)
	var done atomic.Int64
	tick := func() {
		p.report("process", int(done.Add(1)), pending)
	}
	if pending == 0 {
		log.Info().Str("job", job).Msg("all pages already processed")
	} else {
		log.Info().Str("job", job).
			Int("layout_jobs", len(needLayout)).
			Int("regen_jobs", len(needRegen)).
			Int("layout_workers", p.opts.LayoutWorkers).
			Int("regen_workers", p.opts.RegenWorkers).
			Msg("processing pages")
	}

	var wg sync.WaitGroup
	var saveErr atomic.Value // first artifact write failure, checked after drain

	layoutCh := make(chan int, len(needLayout))
	for _, i := range needLayout {
		layoutCh <- i
	}
	close(layoutCh)
	for w := 0; w < p.opts.LayoutWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range layoutCh {
				l := p.deps.Extract.Process(ctx, i+1, rasters[i])
				layouts[i] = l
				if err := p.deps.Store.SaveLayout(job, i+1, l); err != nil {
					saveErr.CompareAndSwap(nil, fmt.Errorf("save layout %d: %w", i+1, err))
				}
				tick()
			}
		}()
	}

	regenCh := make(chan int, len(needRegen))
	for _, i := range needRegen {
		regenCh <- i
	}
	close(regenCh)
	for w := 0; w < p.opts.RegenWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range regenCh {
				res := p.deps.Regen.Process(ctx, i+1, rasters[i])
				regenerated[i] = res.Image
				if res.UsedFallback {
					metrics.IncPage("regen", "fallback")
				} else {
					metrics.IncPage("regen", "success")
				}
				if err := p.deps.Store.SaveRegenerated(job, i+1, res.Image); err != nil {
					saveErr.CompareAndSwap(nil, fmt.Errorf("save regenerated %d: %w", i+1, err))
				}
				tick()
			}
		}()
	}

	wg.Wait()
	if err, _ := saveErr.Load().(error); err != nil {
		return nil, nil, err
	}

	if err := p.deps.Store.SetProgress(job, StageProcessed, total, total); err != nil {
		return nil, nil, fmt.Errorf("persist progress: %w", err)
	}
	metrics.IncStage("2")
	return layouts, regenerated, nil
}

// assemble joins both streams into page order and hands the result to the
// document assembler. Output order is always raster extraction order.
func (p *Pipeline) assemble(layouts []layout.Layout, regenerated []render.Raster) error {
	total := len(layouts)
	pages := make([]assemble.Page, total)
	for i := 0; i < total; i++ {
		pages[i] = assemble.Page{Image: regenerated[i], Layout: layouts[i]}
	}

	p.report("assemble", 0, total)
	if err := p.deps.Assemble(pages, p.opts.OutputPath); err != nil {
		return fmt.Errorf("assemble output: %w", err)
	}
	p.report("assemble", total, total)

	if err := p.deps.Store.SetProgress(p.opts.Job, StageWritten, total, total); err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}
	metrics.IncStage("3")
	log.Info().Str("job", p.opts.Job).Str("out", p.opts.OutputPath).Int("pages", total).Msg("output written")
	return nil
}

// Clean discards all persisted state for the job: artifacts and the
// progress record, unconditionally, regardless of current stage.
func Clean(store Store, job string) error {
	if err := store.PurgeArtifacts(job); err != nil {
		return fmt.Errorf("purge artifacts: %w", err)
	}
	if err := store.DeleteProgress(job); err != nil {
		return fmt.Errorf("delete progress: %w", err)
	}
	log.Info().Str("job", job).Msg("cleaned artifacts and progress")
	return nil
}
