package docstore

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "book.pdf", "book.pdf"},
		{"case kept", "My-Book_2.PDF", "My-Book_2.PDF"},
		{"path stripped", "/etc/passwd/book.pdf", "book.pdf"},
		{"windows path stripped", `C:\files\book.pdf`, "book.pdf"},
		{"unsafe chars removed", "my book (final)!.pdf", "mybookfinal.pdf"},
		{"suffix enforced", "notes.txt", "notes.txt.pdf"},
		{"empty falls back", "", "book.pdf"},
		{"only unsafe falls back", "???", "book.pdf"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeFilename(tc.in); got != tc.want {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSanitizeFilenameLength(t *testing.T) {
	long := strings.Repeat("a", 200) + ".pdf"
	got := SanitizeFilename(long)
	if len(got) > 100 {
		t.Errorf("expected at most 100 chars, got %d", len(got))
	}
	if !strings.HasSuffix(got, ".pdf") {
		t.Errorf("expected .pdf suffix, got %q", got)
	}
}

func TestValidateRejectsOversizedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.pdf")
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), 1024), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	v := NewValidator(512)
	if _, err := v.Validate(path); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("expected ErrFileTooLarge, got %v", err)
	}
}

func TestValidateMissingFile(t *testing.T) {
	v := NewValidator(1 << 20)
	if _, err := v.Validate(filepath.Join(t.TempDir(), "absent.pdf")); !errors.Is(err, ErrDocumentUnreadable) {
		t.Errorf("expected ErrDocumentUnreadable, got %v", err)
	}
}

func TestValidateRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.pdf")
	if err := os.WriteFile(path, []byte("this is not a pdf"), 0o644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	v := NewValidator(1 << 20)
	if _, err := v.Validate(path); err == nil {
		t.Error("expected garbage file to be rejected")
	}
}
