package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Fragment is one raw detection: a word-level box straight out of the
// engine, before confidence filtering or merging.
type Fragment struct {
	Text       string
	X          int
	Y          int
	Width      int
	Height     int
	Confidence float64 // 0-100
}

// Engine abstracts the OCR backend for a single grayscale raster.
type Engine interface {
	Recognize(ctx context.Context, grayPNG []byte) ([]Fragment, error)
}

// TesseractEngine implements Engine using the gosseract client.
type TesseractEngine struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

// NewTesseractEngine constructs a Tesseract-backed OCR engine. A fresh
// client is created per page since gosseract clients are not safe for
// concurrent use.
func NewTesseractEngine(languages []string) *TesseractEngine {
	return &TesseractEngine{languages: languages, clientFactory: gosseract.NewClient}
}

func (e *TesseractEngine) Recognize(ctx context.Context, grayPNG []byte) ([]Fragment, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	c := e.clientFactory()
	defer c.Close()

	if err := c.SetImageFromBytes(grayPNG); err != nil {
		return nil, fmt.Errorf("set image: %w", err)
	}
	if len(e.languages) > 0 {
		if err := c.SetLanguage(e.languages...); err != nil {
			return nil, fmt.Errorf("set languages: %w", err)
		}
	}

	boxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, fmt.Errorf("get bounding boxes: %w", err)
	}

	frags := make([]Fragment, 0, len(boxes))
	for _, b := range boxes {
		frags = append(frags, Fragment{
			Text:       b.Word,
			X:          b.Box.Min.X,
			Y:          b.Box.Min.Y,
			Width:      b.Box.Dx(),
			Height:     b.Box.Dy(),
			Confidence: b.Confidence,
		})
	}
	return frags, nil
}
