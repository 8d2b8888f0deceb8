// internal/session/capture.go
package session

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"go.uber.org/zap"

	"github.com/xkilldash9x/specter/internal/engine"
)

// maxRenderArea is the hard pixel-area ceiling for a raster capture. Frames
// beyond it would allocate unbounded image memory.
const maxRenderArea = 23170 * 23170

// Capture renders the current frame, or only region when non-nil, into a
// raster image. The viewport is grown to the frame's content size so the
// full page is captured; if the content area exceeds the safety ceiling the
// existing viewport is used instead, and if that too exceeds the ceiling the
// capture is refused with ErrFrameTooLarge.
func (s *Session) Capture(region *image.Rectangle) (image.Image, error) {
	contentW, contentH := s.page.ContentSize()
	if contentW*contentH > maxRenderArea {
		s.logger.Warn("Frame size is too large", zap.Int("width", contentW), zap.Int("height", contentH))
		viewportW, viewportH := s.page.ViewportSize()
		if viewportW*viewportH > maxRenderArea {
			return nil, ErrFrameTooLarge
		}
	} else {
		s.page.SetViewport(contentW, contentH)
	}

	viewportW, viewportH := s.page.ViewportSize()
	s.logger.Info("Capturing frame", zap.Int("width", viewportW), zap.Int("height", viewportH))

	img, err := s.page.Render(region)
	if err != nil {
		return nil, fmt.Errorf("rendering frame: %w", err)
	}
	return img, nil
}

// CaptureSelector renders the region occupied by the first element matching
// selector.
func (s *Session) CaptureSelector(selector string) (image.Image, error) {
	region, err := s.RegionForSelector(selector)
	if err != nil {
		return nil, err
	}
	return s.Capture(&region)
}

// CaptureTo renders like Capture and writes the image to path as PNG.
func (s *Session) CaptureTo(path string, region *image.Rectangle) error {
	img, err := s.Capture(region)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating capture file: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encoding capture: %w", err)
	}
	return nil
}

// RegionForSelector returns the frame region occupied by the first element
// matching selector.
func (s *Session) RegionForSelector(selector string) (image.Rectangle, error) {
	element := s.page.Element(selector)
	if element == nil {
		return image.Rectangle{}, &ElementNotFoundError{Selector: selector}
	}
	region, err := element.Geometry()
	if err != nil {
		return image.Rectangle{}, fmt.Errorf("can't get region for selector %q: %w", selector, err)
	}
	return region, nil
}

// PDFOptions parameterizes PrintToPDF. Letter paper, no margins and no zoom
// when left zero.
type PDFOptions struct {
	PaperWidth   float64 // inches
	PaperHeight  float64 // inches
	MarginTop    float64
	MarginBottom float64
	MarginLeft   float64
	MarginRight  float64
	ZoomFactor   float64
}

// PrintToPDF paginates the current frame into a fixed-layout document at
// path.
func (s *Session) PrintToPDF(path string, opts PDFOptions) error {
	if opts.PaperWidth == 0 {
		opts.PaperWidth = 8.5
	}
	if opts.PaperHeight == 0 {
		opts.PaperHeight = 11.0
	}
	if opts.ZoomFactor == 0 {
		opts.ZoomFactor = 1.0
	}
	s.logger.Info("Printing to PDF", zap.String("path", path))
	return s.page.PrintToPDF(path, engine.PDFOptions{
		PaperWidth:   opts.PaperWidth,
		PaperHeight:  opts.PaperHeight,
		MarginTop:    opts.MarginTop,
		MarginBottom: opts.MarginBottom,
		MarginLeft:   opts.MarginLeft,
		MarginRight:  opts.MarginRight,
		ZoomFactor:   opts.ZoomFactor,
	})
}
