package calendar

import "fmt"

// Viewport is a page size in CSS pixels (96 DPI)
type Viewport struct {
	Width  int
	Height int
}

// PaperSize is a physical page size in millimetres, portrait
type PaperSize struct {
	WidthMM  float64
	HeightMM float64
}

var paperSizes = map[Format]PaperSize{
	FormatA4: {WidthMM: 210, HeightMM: 297},
	FormatA5: {WidthMM: 148, HeightMM: 210},
}

// portrait pixel sizes at 96 DPI, rounded
var paperPixels = map[Format]Viewport{
	FormatA4: {Width: 794, Height: 1123},
	FormatA5: {Width: 559, Height: 794},
}

// PaperDimensions returns the viewport for a format. Landscape swaps width and height.
func PaperDimensions(format Format, landscape bool) (Viewport, error) {
	vp, ok := paperPixels[format]
	if !ok {
		return Viewport{}, fmt.Errorf("unsupported paper format %q", string(format))
	}
	if landscape {
		vp.Width, vp.Height = vp.Height, vp.Width
	}
	return vp, nil
}

// PaperSizeOf returns the portrait physical size of a format
func PaperSizeOf(format Format) (PaperSize, error) {
	ps, ok := paperSizes[format]
	if !ok {
		return PaperSize{}, fmt.Errorf("unsupported paper format %q", string(format))
	}
	return ps, nil
}

// Inches converts the paper size to inches, as expected by print-to-PDF
func (p PaperSize) Inches() (width, height float64) {
	return p.WidthMM / 25.4, p.HeightMM / 25.4
}
