package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/local/pdfcleaner/internal/ai"
	"github.com/local/pdfcleaner/internal/artifact"
	"github.com/local/pdfcleaner/internal/assemble"
	cfgpkg "github.com/local/pdfcleaner/internal/config"
	"github.com/local/pdfcleaner/internal/extract"
	logpkg "github.com/local/pdfcleaner/internal/logger"
	"github.com/local/pdfcleaner/internal/metrics"
	"github.com/local/pdfcleaner/internal/ocr"
	"github.com/local/pdfcleaner/internal/pipeline"
	"github.com/local/pdfcleaner/internal/regen"
	"github.com/local/pdfcleaner/internal/render"
	"github.com/local/pdfcleaner/internal/source"
	"github.com/local/pdfcleaner/internal/storage"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, using environment and defaults")
	}

	cfg := cfgpkg.FromEnv()

	output := flag.String("output", os.Getenv("OUTPUT_PATH"), "path to the output file")
	format := flag.String("format", envDefault("OUTPUT_FORMAT", "pptx"), "output format: pdf or pptx")
	skipOCR := flag.Bool("skip-ocr", envBool("SKIP_OCR"), "skip OCR text extraction")
	skipImageGen := flag.Bool("skip-image-gen", envBool("SKIP_IMAGE_GEN"), "skip AI image generation, use original images")
	clean := flag.Bool("clean", false, "discard all persisted state for the input and exit")
	flag.Parse()

	input := flag.Arg(0)
	if input == "" {
		input = os.Getenv("INPUT_PDF")
	}
	if input == "" {
		fmt.Fprintln(os.Stderr, "Usage: pdfcleaner [flags] <input.pdf>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	if *format != "pdf" && *format != "pptx" {
		fmt.Fprintf(os.Stderr, "invalid -format %q: must be pdf or pptx\n", *format)
		os.Exit(2)
	}

	_ = logpkg.Init(logpkg.Options{
		Level:        cfg.Logging.Level,
		Pretty:       cfg.Logging.Pretty,
		File:         cfg.Logging.File,
		MaxSizeMB:    cfg.Logging.MaxSizeMB,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAgeDays:   cfg.Logging.MaxAgeDays,
		Compress:     cfg.Logging.Compress,
		SendToAxiom:  cfg.Axiom.Send && cfg.Axiom.APIKey != "",
		AxiomAPIKey:  cfg.Axiom.APIKey,
		AxiomOrgID:   cfg.Axiom.OrgID,
		AxiomDataset: cfg.Axiom.Dataset,
		AxiomFlush:   cfg.Axiom.FlushInterval,
	})
	defer logpkg.Close()

	log.Logger = log.With().Str("run_id", uuid.NewString()).Logger()

	metrics.Init()
	metrics.Serve(cfg.Metrics.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, input, *output, *format, *skipOCR, *skipImageGen, *clean); err != nil {
		log.Error().Err(err).Msg("run failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg cfgpkg.Config, input, output, format string, skipOCR, skipImageGen, clean bool) error {
	source.CleanupTemps(time.Hour)

	job := canonicalJob(input)

	store, err := artifact.New(cfg.Pipeline.ArtifactDir)
	if err != nil {
		return err
	}

	if clean {
		fmt.Printf("Cleaning persisted state for %s...\n", job)
		if err := pipeline.Clean(store, job); err != nil {
			return err
		}
		fmt.Println("Clean completed.")
		return nil
	}

	localPath, temp, err := source.Resolve(ctx, input)
	if err != nil {
		return fmt.Errorf("resolve input: %w", err)
	}
	if temp {
		defer os.Remove(localPath)
	}
	if _, err := os.Stat(localPath); err != nil {
		return fmt.Errorf("input not found: %s", localPath)
	}
	if err := source.VerifyPDF(localPath); err != nil {
		return err
	}

	pageCount, err := render.PageCount(localPath)
	if err != nil {
		return err
	}

	if output == "" {
		output = defaultOutput(input, format)
	}
	uploadTo := ""
	if storage.IsS3URL(output) {
		uploadTo = output
		tmp, err := os.CreateTemp("", "pdfcleaner-out-*."+format)
		if err != nil {
			return err
		}
		tmp.Close()
		output = tmp.Name()
		defer os.Remove(output)
	}

	log.Info().
		Str("input", job).
		Str("output", output).
		Str("format", format).
		Int("pages", pageCount).
		Bool("skip_ocr", skipOCR).
		Bool("skip_image_gen", skipImageGen).
		Msg("job started")

	imageGen := ai.NewImageGenClient(cfg.ImageAPI.BaseURL, cfg.ImageAPI.APIKey)
	regenWorker := regen.New(regen.Config{
		Model:          cfg.ImageAPI.Model,
		Prompt:         cfg.ImageAPI.Prompt,
		MaxRetries:     cfg.ImageAPI.MaxRetries,
		RetryDelay:     cfg.ImageAPI.RetryDelay,
		RequestTimeout: cfg.ImageAPI.RequestTimeout,
		JPEGQuality:    cfg.ImageAPI.JPEGQuality,
	}, imageGen)

	var merger ai.Client
	if cfg.Merge.APIKey != "" {
		switch cfg.Merge.Provider {
		case "anthropic":
			merger = ai.NewAnthropicClient(cfg.Merge.BaseURL, cfg.Merge.APIKey)
		default:
			merger = ai.NewOpenAIClient(cfg.Merge.BaseURL, cfg.Merge.APIKey)
		}
	} else {
		log.Info().Msg("no merge API key configured; text block merging disabled")
	}
	extractWorker := extract.New(extract.Config{
		MinConfidence:  cfg.OCR.MinConfidence,
		Model:          cfg.Merge.Model,
		Temperature:    cfg.Merge.Temperature,
		MaxRetries:     cfg.Merge.MaxRetries,
		RetryDelay:     cfg.Merge.RetryDelay,
		RequestTimeout: cfg.Merge.RequestTimeout,
	}, ocr.NewTesseractEngine(cfg.OCR.Languages), merger)

	assembleFn := assemble.WritePPTX
	if format == "pdf" {
		assembleFn = assemble.WritePDF
	}

	pipe := pipeline.New(pipeline.Options{
		Job:           job,
		LocalPath:     localPath,
		OutputPath:    output,
		OutputFormat:  format,
		SkipOCR:       skipOCR,
		SkipImageGen:  skipImageGen,
		RenderDPI:     cfg.Pipeline.RenderDPI,
		LayoutWorkers: cfg.Pipeline.LayoutWorkers,
		RegenWorkers:  cfg.Pipeline.RegenWorkers,
	}, pipeline.Dependencies{
		Store:    store,
		Regen:    regenWorker,
		Extract:  extractWorker,
		Render:   render.Pages,
		Assemble: assembleFn,
		Report:   printProgress,
	})

	if err := pipe.Run(ctx); err != nil {
		return err
	}

	if uploadTo != "" {
		contentType := "application/vnd.openxmlformats-officedocument.presentationml.presentation"
		if format == "pdf" {
			contentType = "application/pdf"
		}
		if err := storage.UploadFile(ctx, output, uploadTo, contentType); err != nil {
			return err
		}
		fmt.Printf("Done! Output uploaded to %s\n", uploadTo)
		return nil
	}

	fmt.Printf("Done! Output saved to %s\n", output)
	fmt.Printf("Rerun the same command to resume; pass -clean to start fresh.\n")
	return nil
}

// canonicalJob normalizes the job identity: absolute path for local files,
// the reference itself for URLs.
func canonicalJob(input string) string {
	if strings.Contains(input, "://") {
		return input
	}
	if abs, err := filepath.Abs(input); err == nil {
		return abs
	}
	return input
}

func defaultOutput(input, format string) string {
	base := input
	if strings.Contains(base, "://") {
		base = filepath.Base(base)
	}
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return base + "_no_text." + format
}

// printProgress renders a console progress bar per stage.
func printProgress(stage string, completed, total int) {
	if total <= 0 {
		return
	}
	const barLen = 40
	filled := barLen * completed / total
	bar := strings.Repeat("#", filled) + strings.Repeat("-", barLen-filled)
	fmt.Printf("\r%s: [%s] %.1f%% (%d/%d)", stage, bar, float64(completed)/float64(total)*100, completed, total)
	if completed >= total {
		fmt.Println()
	}
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}
