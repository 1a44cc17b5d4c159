package docstore

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"
)

const maxPageCount = 10000

// Validation failures. Each maps to a user-facing rejection message in the
// command layer; none of them aborts the user's previously assigned document.
var (
	ErrFileTooLarge  = errors.New("file too large")
	ErrEmptyDocument = errors.New("document has no pages")
	ErrTooManyPages  = errors.New("document has too many pages")
)

// Validator checks uploaded documents before they replace a user's book.
type Validator struct {
	maxFileSize int64
}

// NewValidator creates a validator with the given size cap in bytes.
func NewValidator(maxFileSize int64) *Validator {
	return &Validator{maxFileSize: maxFileSize}
}

// Validate opens the file at path and rejects anything the renderer could
// not serve later: oversized files, unreadable or empty documents,
// absurd page counts, and documents whose first page will not rasterize.
func (v *Validator) Validate(path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDocumentUnreadable, err)
	}
	if info.Size() > v.maxFileSize {
		return 0, fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, info.Size(), v.maxFileSize)
	}

	doc, err := fitz.New(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDocumentUnreadable, err)
	}
	defer doc.Close()

	pages := doc.NumPage()
	if pages == 0 {
		return 0, ErrEmptyDocument
	}
	if pages > maxPageCount {
		return 0, fmt.Errorf("%w: %d (limit %d)", ErrTooManyPages, pages, maxPageCount)
	}

	// Probe the first page so corrupt documents fail at upload time, not on
	// the first delivery.
	if _, err := doc.ImageDPI(0, 72); err != nil {
		return 0, fmt.Errorf("%w: first page does not rasterize: %v", ErrDocumentUnreadable, err)
	}

	return pages, nil
}

// SanitizeFilename strips path components and unsafe characters from an
// uploaded filename and guarantees a .pdf suffix.
func SanitizeFilename(name string) string {
	// Keep only the base name regardless of separator style.
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == '.' || c == '_' || c == '-':
			b.WriteRune(c)
		}
	}
	sanitized := b.String()

	if !strings.HasSuffix(strings.ToLower(sanitized), ".pdf") {
		sanitized += ".pdf"
	}
	if len(sanitized) <= len(".pdf") {
		sanitized = "book.pdf"
	}
	if len(sanitized) > 100 {
		sanitized = sanitized[:96] + ".pdf"
	}
	return sanitized
}
