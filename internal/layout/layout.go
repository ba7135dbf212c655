package layout

// BBox is a text block's bounding box in source-raster pixel space.
type BBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Font describes the styling applied to a text block. Tesseract reports
// none of these, so defaults are filled in at extraction time.
type Font struct {
	Family string  `json:"family"`
	Size   float64 `json:"size"`
	Weight string  `json:"weight"` // "normal"|"bold"
	Color  string  `json:"color"`  // hex RGB, e.g. "#000000"
}

// TextBlock is one positioned, styled run of transcribed text.
type TextBlock struct {
	Text string `json:"text"`
	BBox BBox   `json:"bbox"`
	Font Font   `json:"font"`
}

// Size holds the raster pixel dimensions captured when the layout was
// extracted. Downstream assembly rescales bboxes against these when the
// regenerated image comes back resized.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Layout is the OCR-derived description of one page's text.
type Layout struct {
	OriginalSize Size        `json:"original_size"`
	TextBlocks   []TextBlock `json:"text_blocks"`
}

// Empty returns a layout with no text blocks but recorded dimensions.
func Empty(width, height int) Layout {
	return Layout{OriginalSize: Size{Width: width, Height: height}, TextBlocks: []TextBlock{}}
}

// Clamp constrains b to lie within [0,width)x[0,height). A box whose origin
// falls past the exclusive boundary collapses to zero size at the last
// valid position.
func (b BBox) Clamp(width, height int) BBox {
	if b.X < 0 {
		b.X = 0
	}
	if b.Y < 0 {
		b.Y = 0
	}
	if width > 0 && b.X >= width {
		b.X = width - 1
		b.Width = 0
	}
	if height > 0 && b.Y >= height {
		b.Y = height - 1
		b.Height = 0
	}
	if b.Width > width-b.X {
		b.Width = width - b.X
	}
	if b.Height > height-b.Y {
		b.Height = height - b.Y
	}
	if b.Width < 0 {
		b.Width = 0
	}
	if b.Height < 0 {
		b.Height = 0
	}
	return b
}
