// internal/session/capture_test.go
package session

import (
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureGrowsViewportToContent(t *testing.T) {
	sess, page := openedSession(t, "<html><body>tall page</body></html>")
	page.SetContentSize(1024, 4096)

	img, err := sess.Capture(nil)
	require.NoError(t, err)

	w, h := page.ViewportSize()
	assert.Equal(t, 1024, w)
	assert.Equal(t, 4096, h)
	assert.Equal(t, image.Rect(0, 0, 1024, 4096), img.Bounds())
}

func TestCaptureFallsBackToViewportWhenContentTooLarge(t *testing.T) {
	sess, page := openedSession(t, "<html><body></body></html>")
	require.NoError(t, sess.SetViewportSize(1280, 800))
	page.SetContentSize(30000, 30000)

	img, err := sess.Capture(nil)
	require.NoError(t, err)

	// The oversized content size must not be applied.
	w, h := page.ViewportSize()
	assert.Equal(t, 1280, w)
	assert.Equal(t, 800, h)
	assert.Equal(t, image.Rect(0, 0, 1280, 800), img.Bounds())
}

func TestCaptureRefusedWhenBothExceedCeiling(t *testing.T) {
	sess, page := openedSession(t, "<html><body></body></html>")
	require.NoError(t, sess.SetViewportSize(24000, 24000))
	page.SetContentSize(30000, 30000)

	_, err := sess.Capture(nil)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestCaptureToWritesDecodablePNG(t *testing.T) {
	sess, _ := openedSession(t, "<html><body></body></html>")

	path := filepath.Join(t.TempDir(), "shot.png")
	require.NoError(t, sess.CaptureTo(path, nil))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 1600, 900), img.Bounds())
}

func TestCaptureSelector(t *testing.T) {
	sess, page := openedSession(t,
		`<html><body><div id="panel" data-geometry="10,20,300,150">content</div></body></html>`)

	img, err := sess.CaptureSelector("#panel")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(10, 20, 310, 170), img.Bounds())
	require.Len(t, page.Renders, 1)
	assert.Equal(t, image.Rect(10, 20, 310, 170), page.Renders[0])
}

func TestCaptureSelectorMissing(t *testing.T) {
	sess, _ := openedSession(t, "<html><body></body></html>")

	_, err := sess.CaptureSelector("#ghost")
	var notFound *ElementNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestRegionForSelector(t *testing.T) {
	sess, _ := openedSession(t,
		`<html><body><div id="box" data-geometry="5,5,50,25"></div></body></html>`)

	region, err := sess.RegionForSelector("#box")
	require.NoError(t, err)
	assert.Equal(t, image.Rect(5, 5, 55, 30), region)
}

func TestPrintToPDFDefaults(t *testing.T) {
	sess, page := openedSession(t, "<html><body>report</body></html>")

	path := filepath.Join(t.TempDir(), "out.pdf")
	require.NoError(t, sess.PrintToPDF(path, PDFOptions{}))

	require.Len(t, page.PDFs, 1)
	assert.Equal(t, path, page.PDFs[0].Path)
	assert.Equal(t, 8.5, page.PDFs[0].Opts.PaperWidth)
	assert.Equal(t, 11.0, page.PDFs[0].Opts.PaperHeight)
	assert.Equal(t, 1.0, page.PDFs[0].Opts.ZoomFactor)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, len(data) > 0 && string(data[:5]) == "%PDF-")
}

func TestPrintToPDFExplicitOptions(t *testing.T) {
	sess, page := openedSession(t, "<html><body></body></html>")

	path := filepath.Join(t.TempDir(), "a4.pdf")
	require.NoError(t, sess.PrintToPDF(path, PDFOptions{
		PaperWidth:  8.27,
		PaperHeight: 11.69,
		MarginTop:   0.5,
		ZoomFactor:  0.75,
	}))

	require.Len(t, page.PDFs, 1)
	assert.Equal(t, 8.27, page.PDFs[0].Opts.PaperWidth)
	assert.Equal(t, 11.69, page.PDFs[0].Opts.PaperHeight)
	assert.Equal(t, 0.5, page.PDFs[0].Opts.MarginTop)
	assert.Equal(t, 0.75, page.PDFs[0].Opts.ZoomFactor)
}
