// Package docstore wraps the document rendering engine: page counting,
// page-to-image rasterization and upload validation. It keeps no state
// beyond configuration; callers decide whether to retry failures.
package docstore

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// Typed failures of the rendering collaborator. Callers degrade a
// PageOutOfRange or render failure to "skip this page"; an unreadable
// document means "no valid document" at assignment time.
var (
	ErrDocumentUnreadable = errors.New("document unreadable")
	ErrPageOutOfRange     = errors.New("page out of range")
)

const renderDPI = 150

// Renderer rasterizes document pages to JPEG bytes. Page indices are
// 1-based throughout, matching the user-facing page numbers. Rendered pages
// are also written under outputDir so recent pages can be inspected; the
// cleanup job expires them after the retention window.
type Renderer struct {
	outputDir string
}

// NewRenderer creates a renderer. An empty outputDir disables the on-disk
// copies.
func NewRenderer(outputDir string) *Renderer {
	return &Renderer{outputDir: outputDir}
}

// PageCount returns the number of pages in the document at path.
func (r *Renderer) PageCount(path string) (int, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDocumentUnreadable, err)
	}
	defer doc.Close()
	return doc.NumPage(), nil
}

// RenderPage rasterizes one page to JPEG bytes at the given quality (1-100).
func (r *Renderer) RenderPage(path string, page, quality int) ([]byte, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDocumentUnreadable, err)
	}
	defer doc.Close()

	total := doc.NumPage()
	if page < 1 || page > total {
		return nil, fmt.Errorf("%w: page %d of %d", ErrPageOutOfRange, page, total)
	}

	// go-fitz pages are 0-based.
	img, err := doc.ImageDPI(page-1, renderDPI)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to rasterize page %d: %v", ErrDocumentUnreadable, page, err)
	}

	if quality < 1 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode page %d: %w", page, err)
	}

	r.writeCopy(path, page, buf.Bytes())
	return buf.Bytes(), nil
}

// writeCopy persists the rendered page best-effort; delivery never fails on
// a disk problem here.
func (r *Renderer) writeCopy(docPath string, page int, data []byte) {
	if r.outputDir == "" {
		return
	}
	base := strings.TrimSuffix(filepath.Base(docPath), filepath.Ext(docPath))
	dir := filepath.Join(r.outputDir, base)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(dir, fmt.Sprintf("page_%d.jpg", page)), data, 0o644)
}
