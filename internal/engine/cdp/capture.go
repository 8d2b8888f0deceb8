// internal/engine/cdp/capture.go

package cdp

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/specter/internal/engine"
)

// Render captures the frame as an image. A nil region captures the whole
// viewport.
func (p *Page) Render(region *image.Rectangle) (image.Image, error) {
	capture := page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng)
	if region != nil {
		capture = capture.WithClip(&page.Viewport{
			X:      float64(region.Min.X),
			Y:      float64(region.Min.Y),
			Width:  float64(region.Dx()),
			Height: float64(region.Dy()),
			Scale:  1,
		}).WithCaptureBeyondViewport(true)
	}

	var data []byte
	if err := p.run(chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		data, err = capture.Do(ctx)
		return err
	})); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return img, nil
}

// PrintToPDF renders the frame to a PDF file at path.
func (p *Page) PrintToPDF(path string, opts engine.PDFOptions) error {
	print := page.PrintToPDF().
		WithPrintBackground(true).
		WithPaperWidth(opts.PaperWidth).
		WithPaperHeight(opts.PaperHeight).
		WithMarginTop(opts.MarginTop).
		WithMarginBottom(opts.MarginBottom).
		WithMarginLeft(opts.MarginLeft).
		WithMarginRight(opts.MarginRight)
	if opts.ZoomFactor > 0 {
		print = print.WithScale(opts.ZoomFactor)
	}

	var data []byte
	if err := p.run(chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		data, _, err = print.Do(ctx)
		return err
	})); err != nil {
		return fmt.Errorf("pdf rendering failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}
	return nil
}

// handleFileChooser answers an intercepted native file picker with the
// session's staged upload path.
func (p *Page) handleFileChooser(ev *page.EventFileChooserOpened) {
	var path string
	if p.hooks.ChooseFile != nil {
		path = p.hooks.ChooseFile()
	}
	if path == "" {
		return
	}
	action := dom.SetFileInputFiles([]string{path}).WithBackendNodeID(ev.BackendNodeID)
	if err := action.Do(p.execCtx()); err != nil {
		p.logger.Warn("Failed to assign chosen file.", zap.String("path", path), zap.Error(err))
	}
}
