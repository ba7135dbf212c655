package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// AxiomConfig holds Axiom log forwarding configuration.
type AxiomConfig struct {
	Send          bool
	APIKey        string
	OrgID         string
	Dataset       string
	FlushInterval time.Duration
}

// ImageAPIConfig drives the remote background-regeneration service.
type ImageAPIConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	Prompt         string
	MaxRetries     int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	JPEGQuality    int
}

// MergeConfig drives the AI text-block merge step. The step is disabled
// entirely when APIKey is empty.
type MergeConfig struct {
	Provider       string // "openai"|"anthropic"
	BaseURL        string
	APIKey         string
	Model          string
	Temperature    float64
	MaxRetries     int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
}

// OCRConfig configures the Tesseract engine.
type OCRConfig struct {
	Languages     []string
	MinConfidence float64
}

// PipelineConfig defines pool sizes and artifact placement.
type PipelineConfig struct {
	ArtifactDir   string
	LayoutWorkers int
	RegenWorkers  int
	RenderDPI     int
}

// MetricsConfig enables the optional Prometheus listener.
type MetricsConfig struct {
	Addr string
}

// Config is the top-level configuration.
type Config struct {
	Logging  LoggingConfig
	Axiom    AxiomConfig
	ImageAPI ImageAPIConfig
	Merge    MergeConfig
	OCR      OCRConfig
	Pipeline PipelineConfig
	Metrics  MetricsConfig
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config {
	cfg := Config{}

	cfg.Logging = LoggingConfig{
		Level:      getEnv("LOG_LEVEL", "info"),
		Pretty:     parseBool(getEnv("LOG_PRETTY", devDefaultPretty())),
		File:       getEnv("LOG_FILE", "logs/pdfcleaner.log"),
		MaxSizeMB:  parseInt(getEnv("LOG_MAX_SIZE_MB", "100"), 100),
		MaxBackups: parseInt(getEnv("LOG_MAX_BACKUPS", "10"), 10),
		MaxAgeDays: parseInt(getEnv("LOG_MAX_AGE_DAYS", "30"), 30),
		Compress:   parseBool(getEnv("LOG_COMPRESS", "true")),
	}

	baseDataset := getEnv("AXIOM_DATASET", "dev")
	cfg.Axiom = AxiomConfig{
		Send:          parseBool(getEnv("SEND_LOGS_TO_AXIOM", "0")),
		APIKey:        getEnv("AXIOM_API_KEY", ""),
		OrgID:         getEnv("AXIOM_ORG_ID", ""),
		Dataset:       baseDataset + "_pdfcleaner",
		FlushInterval: parseDuration(getEnv("AXIOM_FLUSH_INTERVAL", "10s"), 10*time.Second),
	}

	cfg.ImageAPI = ImageAPIConfig{
		BaseURL:        getEnv("IMAGE_API_BASE", "http://localhost:8000/v1/chat/completions"),
		APIKey:         getEnv("IMAGE_API_KEY", ""),
		Model:          getEnv("IMAGE_API_MODEL", "gemini-3.0-pro-image-landscape"),
		Prompt:         getEnv("IMAGE_API_PROMPT", "Remove all text and garbled Text from this image, keeping the background and other elements exactly the same."),
		MaxRetries:     parseInt(getEnv("IMAGE_GEN_RETRIES", "5"), 5),
		RetryDelay:     parseDuration(getEnv("IMAGE_GEN_RETRY_DELAY", "2s"), 2*time.Second),
		RequestTimeout: parseDuration(getEnv("IMAGE_API_TIMEOUT", "120s"), 120*time.Second),
		JPEGQuality:    parseInt(getEnv("IMAGE_JPEG_QUALITY", "90"), 90),
	}

	cfg.Merge = MergeConfig{
		Provider:       strings.ToLower(getEnv("MERGE_ENGINE", "openai")),
		BaseURL:        getEnv("OPENAI_API_BASE", "https://api.openai.com/v1"),
		APIKey:         getEnv("OPENAI_API_KEY", ""),
		Model:          getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		Temperature:    parseFloat(getEnv("MERGE_TEMPERATURE", "0.1"), 0.1),
		MaxRetries:     parseInt(getEnv("MERGE_RETRIES", "3"), 3),
		RetryDelay:     parseDuration(getEnv("MERGE_RETRY_DELAY", "1s"), time.Second),
		RequestTimeout: parseDuration(getEnv("MERGE_TIMEOUT", "60s"), 60*time.Second),
	}
	if cfg.Merge.Provider == "anthropic" {
		cfg.Merge.BaseURL = getEnv("ANTHROPIC_API_BASE", "https://api.anthropic.com")
		cfg.Merge.APIKey = getEnv("ANTHROPIC_API_KEY", "")
		cfg.Merge.Model = getEnv("ANTHROPIC_MODEL", "claude-3-5-haiku")
	}

	cfg.OCR = OCRConfig{
		Languages:     strings.Split(getEnv("OCR_LANGUAGES", "chi_sim+eng"), "+"),
		MinConfidence: parseFloat(getEnv("OCR_MIN_CONFIDENCE", "60"), 60),
	}

	cfg.Pipeline = PipelineConfig{
		ArtifactDir:   getEnv("ARTIFACT_DIR", ".pdfcleaner"),
		LayoutWorkers: parseInt(getEnv("LAYOUT_WORKERS", "3"), 3),
		RegenWorkers:  parseInt(getEnv("REGEN_WORKERS", "3"), 3),
		RenderDPI:     parseInt(getEnv("RENDER_DPI", "144"), 144),
	}

	cfg.Metrics = MetricsConfig{Addr: getEnv("METRICS_ADDR", "")}

	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseFloat(s string, def float64) float64 {
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return def
}

func parseBool(s string) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
