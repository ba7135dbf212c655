package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rs/zerolog/log"
)

// Raster is one page rendered to a PNG image.
type Raster struct {
	PNG    []byte
	Width  int
	Height int
}

// PageCount preflights the document with pdfcpu before the heavier
// rasterization pass, so an unreadable PDF fails fast.
func PageCount(pdfPath string) (int, error) {
	n, err := api.PageCountFile(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("pdf page count failed: %w", err)
	}
	return n, nil
}

// Pages renders every page of the PDF to a PNG raster at the given DPI.
func Pages(pdfPath string, dpi int) ([]Raster, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	rasters := make([]Raster, 0, total)
	for i := 0; i < total; i++ {
		img, err := doc.ImageDPI(i, float64(dpi))
		if err != nil {
			return nil, fmt.Errorf("failed to render page %d: %w", i+1, err)
		}
		r, err := Encode(img)
		if err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", i+1, err)
		}
		log.Debug().Int("page", i+1).Int("width", r.Width).Int("height", r.Height).Msg("rendered page")
		rasters = append(rasters, r)
	}
	return rasters, nil
}

// Encode converts a decoded image into a PNG raster.
func Encode(img image.Image) (Raster, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Raster{}, err
	}
	b := img.Bounds()
	return Raster{PNG: buf.Bytes(), Width: b.Dx(), Height: b.Dy()}, nil
}

// Decode verifies PNG bytes are decodable and returns the raster with its
// dimensions. Used both for resumption checks and worker input.
func Decode(data []byte) (Raster, error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Raster{}, fmt.Errorf("decode raster: %w", err)
	}
	// DecodeConfig only reads the header; decode fully so truncated files
	// are caught too.
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		return Raster{}, fmt.Errorf("decode raster: %w", err)
	}
	return Raster{PNG: data, Width: cfg.Width, Height: cfg.Height}, nil
}

// Grayscale re-encodes the raster as a grayscale PNG for OCR input.
func Grayscale(r Raster) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(r.PNG))
	if err != nil {
		return nil, fmt.Errorf("decode raster: %w", err)
	}
	gray := image.NewGray(img.Bounds())
	draw.Draw(gray, img.Bounds(), img, image.Point{}, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, gray); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// JPEGBase64 re-encodes the raster as JPEG and returns it base64-encoded,
// the payload format the image API expects.
func JPEGBase64(r Raster, quality int) (string, error) {
	img, err := png.Decode(bytes.NewReader(r.PNG))
	if err != nil {
		return "", fmt.Errorf("decode raster: %w", err)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", fmt.Errorf("encode jpeg: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ToPNG normalizes arbitrary image bytes (JPEG, PNG, ...) into a PNG raster.
// Used for images fetched back from the regeneration service.
func ToPNG(data []byte) (Raster, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Raster{}, fmt.Errorf("decode image: %w", err)
	}
	return Encode(img)
}
