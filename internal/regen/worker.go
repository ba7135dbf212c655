package regen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfcleaner/internal/ai"
	"github.com/local/pdfcleaner/internal/metrics"
	"github.com/local/pdfcleaner/internal/render"
)

// Config bounds one page's regeneration attempt.
type Config struct {
	Model          string
	Prompt         string
	MaxRetries     int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	JPEGQuality    int
}

// Result is the tagged outcome of a regeneration attempt. Exhausted retries
// degrade to the original raster instead of surfacing an error, so every
// page always ends up with a background image.
type Result struct {
	Image        render.Raster
	UsedFallback bool
}

// Worker drives the remote image-editing call for single pages.
type Worker struct {
	cfg    Config
	client ai.Client
	fetch  *http.Client
}

func New(cfg Config, client ai.Client) *Worker {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 90
	}
	return &Worker{cfg: cfg, client: client, fetch: &http.Client{Timeout: cfg.RequestTimeout}}
}

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>]+`)

// ExtractURL finds the first well-formed URL token in the accumulated
// response text, stripping trailing markdown punctuation.
func ExtractURL(text string) string {
	u := urlPattern.FindString(text)
	return strings.TrimRight(u, ").,]*")
}

// Process regenerates the background for one page. All failure modes are
// retryable; once retries are exhausted the original raster is returned
// with UsedFallback set.
func (w *Worker) Process(ctx context.Context, page int, raster render.Raster) Result {
	b64, err := render.JPEGBase64(raster, w.cfg.JPEGQuality)
	if err != nil {
		log.Error().Int("page", page).Err(err).Msg("raster encode failed; using original")
		return Result{Image: raster, UsedFallback: true}
	}

	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			metrics.IncRetry("regen")
			log.Debug().Int("page", page).Int("attempt", attempt).Int("max", w.cfg.MaxRetries).Msg("retrying regeneration")
			select {
			case <-time.After(w.cfg.RetryDelay):
			case <-ctx.Done():
				return Result{Image: raster, UsedFallback: true}
			}
		}

		img, err := w.attempt(ctx, b64)
		if err != nil {
			log.Warn().Int("page", page).Int("attempt", attempt).Err(err).Msg("regeneration attempt failed")
			continue
		}
		return Result{Image: img}
	}

	log.Warn().Int("page", page).Int("retries", w.cfg.MaxRetries).Msg("regeneration exhausted retries; using original raster")
	return Result{Image: raster, UsedFallback: true}
}

func (w *Worker) attempt(ctx context.Context, imageB64 string) (render.Raster, error) {
	cctx := ctx
	if w.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, w.cfg.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := w.client.Do(cctx, ai.Request{
		Model:       w.cfg.Model,
		Prompt:      w.cfg.Prompt,
		ImageBase64: imageB64,
		ImageMIME:   "image/jpeg",
	})
	if err != nil {
		metrics.ObserveRemote("imagegen", "error", time.Since(start))
		return render.Raster{}, fmt.Errorf("image api: %w", err)
	}
	metrics.ObserveRemote("imagegen", "success", time.Since(start))

	url := ExtractURL(resp.Text)
	if url == "" {
		return render.Raster{}, fmt.Errorf("no url in response")
	}
	return w.fetchImage(cctx, url)
}

func (w *Worker) fetchImage(ctx context.Context, url string) (render.Raster, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return render.Raster{}, err
	}
	start := time.Now()
	resp, err := w.fetch.Do(req)
	if err != nil {
		metrics.ObserveRemote("fetch", "error", time.Since(start))
		return render.Raster{}, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.ObserveRemote("fetch", "error", time.Since(start))
		return render.Raster{}, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveRemote("fetch", "error", time.Since(start))
		return render.Raster{}, fmt.Errorf("fetch image: %w", err)
	}
	metrics.ObserveRemote("fetch", "success", time.Since(start))

	if mt := mimetype.Detect(data); !strings.HasPrefix(mt.String(), "image/") {
		return render.Raster{}, fmt.Errorf("fetched content is %s, not an image", mt.String())
	}
	return render.ToPNG(data)
}
