package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfcleaner/internal/ai"
	"github.com/local/pdfcleaner/internal/layout"
	"github.com/local/pdfcleaner/internal/metrics"
	"github.com/local/pdfcleaner/internal/ocr"
	"github.com/local/pdfcleaner/internal/render"
)

// Config bounds one page's layout extraction.
type Config struct {
	MinConfidence  float64
	Model          string
	Temperature    float64
	MaxRetries     int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
}

// Worker turns a page raster into a Layout: OCR for raw word boxes, then an
// optional AI pass that merges fragments into coherent lines. A nil merger
// skips merging entirely.
type Worker struct {
	cfg    Config
	engine ocr.Engine
	merger ai.Client
}

func New(cfg Config, engine ocr.Engine, merger ai.Client) *Worker {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 60
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &Worker{cfg: cfg, engine: engine, merger: merger}
}

// Process extracts the text layout for one page. OCR failure degrades to an
// empty layout rather than failing the page; merge failure degrades to the
// unmerged fragment list. Text content is never reworded.
func (w *Worker) Process(ctx context.Context, page int, raster render.Raster) layout.Layout {
	gray, err := render.Grayscale(raster)
	if err != nil {
		log.Error().Int("page", page).Err(err).Msg("grayscale conversion failed; empty layout")
		metrics.IncPage("layout", "empty")
		return layout.Empty(raster.Width, raster.Height)
	}

	frags, err := w.engine.Recognize(ctx, gray)
	if err != nil {
		log.Error().Int("page", page).Err(err).Msg("ocr failed; empty layout")
		metrics.IncPage("layout", "empty")
		return layout.Empty(raster.Width, raster.Height)
	}

	blocks := w.toBlocks(frags, raster.Width, raster.Height)
	log.Debug().Int("page", page).Int("fragments", len(frags)).Int("kept", len(blocks)).Msg("ocr fragments filtered")

	if w.merger != nil && len(blocks) > 0 {
		if merged, ok := w.merge(ctx, page, blocks); ok {
			for i := range merged {
				merged[i].BBox = merged[i].BBox.Clamp(raster.Width, raster.Height)
			}
			blocks = merged
			metrics.IncPage("layout", "merged")
		} else {
			metrics.IncPage("layout", "fallback")
		}
	} else {
		metrics.IncPage("layout", "raw")
	}

	return layout.Layout{
		OriginalSize: layout.Size{Width: raster.Width, Height: raster.Height},
		TextBlocks:   blocks,
	}
}

// toBlocks filters raw fragments (empty text, confidence below threshold)
// and converts survivors into styled text blocks. Tesseract reports no font
// information, so family/weight/color get defaults and size is estimated
// from box height (1 px ~ 0.75 pt).
func (w *Worker) toBlocks(frags []ocr.Fragment, width, height int) []layout.TextBlock {
	blocks := make([]layout.TextBlock, 0, len(frags))
	for _, f := range frags {
		text := strings.TrimSpace(f.Text)
		if text == "" || f.Confidence < w.cfg.MinConfidence {
			continue
		}
		bbox := layout.BBox{X: f.X, Y: f.Y, Width: f.Width, Height: f.Height}.Clamp(width, height)
		blocks = append(blocks, layout.TextBlock{
			Text: text,
			BBox: bbox,
			Font: layout.Font{
				Family: "Arial",
				Size:   math.Round(float64(bbox.Height)*0.75*10) / 10,
				Weight: "normal",
				Color:  "#000000",
			},
		})
	}
	return blocks
}

// merge asks the AI collaborator to coalesce fragments into coherent blocks.
// Transport and parse failures are retried; if every attempt fails the
// caller keeps the raw fragment list.
func (w *Worker) merge(ctx context.Context, page int, blocks []layout.TextBlock) ([]layout.TextBlock, bool) {
	prompt, err := buildMergePrompt(blocks)
	if err != nil {
		log.Error().Int("page", page).Err(err).Msg("merge prompt build failed")
		return nil, false
	}

	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			metrics.IncRetry("merge")
			select {
			case <-time.After(w.cfg.RetryDelay):
			case <-ctx.Done():
				return nil, false
			}
		}

		start := time.Now()
		resp, err := w.mergeOnce(ctx, prompt)
		if err != nil {
			metrics.ObserveRemote("merge", "error", time.Since(start))
			log.Warn().Int("page", page).Int("attempt", attempt).Err(err).Msg("merge call failed")
			continue
		}
		metrics.ObserveRemote("merge", "success", time.Since(start))

		merged, err := layout.DecodeMergedBlocks(resp.Text)
		if err != nil {
			log.Warn().Int("page", page).Int("attempt", attempt).Err(err).Msg("merge output unparseable")
			continue
		}
		if len(merged) == 0 {
			log.Warn().Int("page", page).Int("attempt", attempt).Msg("merge returned no blocks")
			continue
		}
		log.Debug().Int("page", page).Int("before", len(blocks)).Int("after", len(merged)).Msg("merged text blocks")
		return merged, true
	}

	log.Warn().Int("page", page).Int("retries", w.cfg.MaxRetries).Msg("merge exhausted retries; keeping raw fragments")
	return nil, false
}

// mergeOnce issues a single merge request under its own timeout, so each
// attempt's context is released as soon as the call returns.
func (w *Worker) mergeOnce(ctx context.Context, prompt string) (ai.Response, error) {
	if w.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.RequestTimeout)
		defer cancel()
	}
	return w.merger.Do(ctx, ai.Request{
		Model:       w.cfg.Model,
		Prompt:      prompt,
		Temperature: w.cfg.Temperature,
	})
}

func buildMergePrompt(blocks []layout.TextBlock) (string, error) {
	data, err := json.MarshalIndent(blocks, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`You are a text block merging expert. Please analyze the following text blocks detected by OCR and merge them into meaningful text blocks based on their positions and content.

Text blocks:
%s

Instructions:
1. Merge adjacent text blocks that belong to the same line or paragraph
2. Calculate the merged bounding box to include all merged blocks
3. Preserve the original text content exactly
4. Use the average font information from merged blocks
5. Return ONLY a valid JSON array of merged text blocks in the same format as input
6. Do not add any additional text or explanations
7. Do not modify the text content
8. Ensure the JSON is properly formatted with correct quotes and commas`, data), nil
}
