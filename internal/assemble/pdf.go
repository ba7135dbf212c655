package assemble

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
)

// WritePDF assembles the regenerated page images into a PDF. The PDF output
// keeps no separate text layer; text boxes are a PPTX feature, so only the
// backgrounds are written here (matching the legacy PDF workflow).
func WritePDF(pages []Page, outPath string) error {
	if len(pages) == 0 {
		return fmt.Errorf("no pages to write")
	}

	tmpDir, err := os.MkdirTemp("", "pdfcleaner-assemble-")
	if err != nil {
		return fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	files := make([]string, 0, len(pages))
	for i, p := range pages {
		f := filepath.Join(tmpDir, fmt.Sprintf("page_%04d.png", i+1))
		if err := os.WriteFile(f, p.Image.PNG, 0o644); err != nil {
			return fmt.Errorf("stage page %d: %w", i+1, err)
		}
		files = append(files, f)
	}

	if err := api.ImportImagesFile(files, outPath, nil, nil); err != nil {
		return fmt.Errorf("assemble pdf: %w", err)
	}
	log.Info().Int("pages", len(pages)).Str("out", outPath).Msg("pdf written")
	return nil
}
