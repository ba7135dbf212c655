package assemble

import (
	"github.com/local/pdfcleaner/internal/layout"
	"github.com/local/pdfcleaner/internal/render"
)

// Page pairs a regenerated background image with its extracted text layout,
// in final page order.
type Page struct {
	Image  render.Raster
	Layout layout.Layout
}

// scaled is a text block's bbox and font size rescaled from the layout's
// recorded raster dimensions to the actual image dimensions. The remote
// service may return a resized image, so coordinates recorded at OCR time
// cannot be used directly.
type scaled struct {
	X, Y, W, H float64
	FontSize   float64
}

func rescale(b layout.TextBlock, orig layout.Size, curW, curH int) scaled {
	ow, oh := orig.Width, orig.Height
	if ow <= 0 {
		ow = curW
	}
	if oh <= 0 {
		oh = curH
	}
	sx := float64(curW) / float64(ow)
	sy := float64(curH) / float64(oh)
	size := b.Font.Size
	if size <= 0 {
		size = 12
	}
	return scaled{
		X:        float64(b.BBox.X) * sx,
		Y:        float64(b.BBox.Y) * sy,
		W:        float64(b.BBox.Width) * sx,
		H:        float64(b.BBox.Height) * sy,
		FontSize: size * sy,
	}
}
