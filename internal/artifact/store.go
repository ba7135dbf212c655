package artifact

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/pdfcleaner/internal/layout"
	"github.com/local/pdfcleaner/internal/render"
)

// ErrCorruptArtifact marks a stored raster that no longer decodes. Any
// corrupt member invalidates the whole raster set for the job: mixed-stage
// partial restoration is not supported.
var ErrCorruptArtifact = errors.New("corrupt artifact")

// Progress is one job's persisted stage record.
// Stages: 0 not started, 1 pages extracted, 2 pages processed, 3 output written.
type Progress struct {
	Stage     int `json:"stage"`
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// Store owns the durable copies of page rasters, layouts, regenerated
// images and the shared progress record, all under one root directory.
type Store struct {
	root string
}

// New creates the store root if needed.
func New(root string) (*Store, error) {
	if root == "" {
		root = ".pdfcleaner"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's base directory.
func (s *Store) Root() string { return s.root }

// jobDir derives a stable per-job directory from the input reference:
// the sanitized basename plus a short hash so distinct inputs with the
// same filename never collide.
func (s *Store) jobDir(job string) string {
	base := filepath.Base(job)
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	base = sanitize(base)
	sum := sha1.Sum([]byte(job))
	return filepath.Join(s.root, fmt.Sprintf("%s-%s", base, hex.EncodeToString(sum[:4])))
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "job"
	}
	return b.String()
}

func (s *Store) rasterPath(job string, page int) string {
	return filepath.Join(s.jobDir(job), "rasters", fmt.Sprintf("page_%d.png", page))
}

func (s *Store) layoutPath(job string, page int) string {
	return filepath.Join(s.jobDir(job), "layouts", fmt.Sprintf("layout_%d.json", page))
}

func (s *Store) regeneratedPath(job string, page int) string {
	return filepath.Join(s.jobDir(job), "regenerated", fmt.Sprintf("page_%d.png", page))
}

func (s *Store) ensureDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// HasRaster reports whether a raster artifact exists for the page.
func (s *Store) HasRaster(job string, page int) bool {
	_, err := os.Stat(s.rasterPath(job, page))
	return err == nil
}

// SaveRaster persists one page raster, overwriting any previous copy.
func (s *Store) SaveRaster(job string, page int, r render.Raster) error {
	p := s.rasterPath(job, page)
	if err := s.ensureDir(p); err != nil {
		return err
	}
	return os.WriteFile(p, r.PNG, 0o644)
}

// LoadRasters loads the full ordered raster set for a job, verifying each
// member decodes. Returns ErrCorruptArtifact when any member is damaged.
func (s *Store) LoadRasters(job string) ([]render.Raster, error) {
	dir := filepath.Join(s.jobDir(job), "rasters")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	pages := make([]int, 0, len(entries))
	for _, e := range entries {
		var n int
		if _, err := fmt.Sscanf(e.Name(), "page_%d.png", &n); err == nil {
			pages = append(pages, n)
		}
	}
	sort.Ints(pages)

	rasters := make([]render.Raster, 0, len(pages))
	for i, n := range pages {
		if n != i+1 {
			// hole in the sequence; treat like corruption, re-derive all
			log.Warn().Str("job", job).Int("expected", i+1).Int("found", n).Msg("raster sequence gap")
			return nil, ErrCorruptArtifact
		}
		data, err := os.ReadFile(s.rasterPath(job, n))
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrCorruptArtifact, n, err)
		}
		r, err := render.Decode(data)
		if err != nil {
			log.Warn().Str("job", job).Int("page", n).Err(err).Msg("corrupt raster artifact")
			return nil, fmt.Errorf("%w: page %d", ErrCorruptArtifact, n)
		}
		rasters = append(rasters, r)
	}
	return rasters, nil
}

// SaveLayout persists one page layout as JSON.
func (s *Store) SaveLayout(job string, page int, l layout.Layout) error {
	p := s.layoutPath(job, page)
	if err := s.ensureDir(p); err != nil {
		return err
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

// LoadLayout returns the stored layout for a page, or ok=false when absent.
// Presence alone determines "already done" for resumption.
func (s *Store) LoadLayout(job string, page int) (layout.Layout, bool, error) {
	data, err := os.ReadFile(s.layoutPath(job, page))
	if err != nil {
		if os.IsNotExist(err) {
			return layout.Layout{}, false, nil
		}
		return layout.Layout{}, false, err
	}
	var l layout.Layout
	if err := json.Unmarshal(data, &l); err != nil {
		return layout.Layout{}, false, fmt.Errorf("decode layout %d: %w", page, err)
	}
	return l, true, nil
}

// SaveRegenerated persists the regenerated background image for a page.
func (s *Store) SaveRegenerated(job string, page int, r render.Raster) error {
	p := s.regeneratedPath(job, page)
	if err := s.ensureDir(p); err != nil {
		return err
	}
	return os.WriteFile(p, r.PNG, 0o644)
}

// LoadRegenerated returns the stored regenerated image, or ok=false when
// absent or undecodable (an unreadable member just means "redo this page").
func (s *Store) LoadRegenerated(job string, page int) (render.Raster, bool, error) {
	data, err := os.ReadFile(s.regeneratedPath(job, page))
	if err != nil {
		if os.IsNotExist(err) {
			return render.Raster{}, false, nil
		}
		return render.Raster{}, false, err
	}
	r, err := render.Decode(data)
	if err != nil {
		log.Warn().Str("job", job).Int("page", page).Err(err).Msg("regenerated artifact undecodable; will redo")
		return render.Raster{}, false, nil
	}
	return r, true, nil
}

// PurgeArtifacts removes every stored artifact for the job.
func (s *Store) PurgeArtifacts(job string) error {
	return os.RemoveAll(s.jobDir(job))
}
