package cleanup

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeFileAged(t *testing.T, path string, age time.Duration) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}
	if err := os.WriteFile(path, []byte("data"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	old := time.Now().Add(-age)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("failed to age file: %v", err)
	}
}

func TestCleanImages(t *testing.T) {
	outputDir := t.TempDir()
	uploadDir := t.TempDir()

	writeFileAged(t, filepath.Join(outputDir, "42", "old.jpg"), 10*24*time.Hour)
	writeFileAged(t, filepath.Join(outputDir, "42", "fresh.jpg"), time.Hour)
	writeFileAged(t, filepath.Join(outputDir, "42", "old.txt"), 10*24*time.Hour)

	m := NewManager(outputDir, uploadDir, 7, testLogger())
	deleted, err := m.CleanImages()
	if err != nil {
		t.Fatalf("CleanImages failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deletion, got %d", deleted)
	}

	if _, err := os.Stat(filepath.Join(outputDir, "42", "old.jpg")); !os.IsNotExist(err) {
		t.Error("expected old.jpg removed")
	}
	if _, err := os.Stat(filepath.Join(outputDir, "42", "fresh.jpg")); err != nil {
		t.Error("expected fresh.jpg kept")
	}
	// Non-image files are never touched, whatever their age.
	if _, err := os.Stat(filepath.Join(outputDir, "42", "old.txt")); err != nil {
		t.Error("expected old.txt kept")
	}
}

func TestCleanImagesPrunesEmptyDirs(t *testing.T) {
	outputDir := t.TempDir()
	writeFileAged(t, filepath.Join(outputDir, "42", "old.png"), 10*24*time.Hour)

	m := NewManager(outputDir, t.TempDir(), 7, testLogger())
	if _, err := m.CleanImages(); err != nil {
		t.Fatalf("CleanImages failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(outputDir, "42")); !os.IsNotExist(err) {
		t.Error("expected emptied user directory removed")
	}
}

func TestCleanImagesMissingDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent"), t.TempDir(), 7, testLogger())
	deleted, err := m.CleanImages()
	if err != nil {
		t.Fatalf("CleanImages failed: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected 0 deletions, got %d", deleted)
	}
}

func TestCleanOrphanedUploads(t *testing.T) {
	uploadDir := t.TempDir()
	writeFileAged(t, filepath.Join(uploadDir, "42", "stale.pdf"), 48*time.Hour)
	writeFileAged(t, filepath.Join(uploadDir, "43", "recent.pdf"), time.Hour)

	m := NewManager(t.TempDir(), uploadDir, 7, testLogger())
	deleted, err := m.CleanOrphanedUploads(24 * time.Hour)
	if err != nil {
		t.Fatalf("CleanOrphanedUploads failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deletion, got %d", deleted)
	}
	if _, err := os.Stat(filepath.Join(uploadDir, "43", "recent.pdf")); err != nil {
		t.Error("expected recent upload kept")
	}
}

func TestStorageUsage(t *testing.T) {
	outputDir := t.TempDir()
	uploadDir := t.TempDir()
	writeFileAged(t, filepath.Join(outputDir, "a.jpg"), time.Hour)
	writeFileAged(t, filepath.Join(uploadDir, "b.pdf"), time.Hour)

	m := NewManager(outputDir, uploadDir, 7, testLogger())
	u := m.StorageUsage()
	if u.TotalFiles != 2 {
		t.Errorf("expected 2 files, got %d", u.TotalFiles)
	}
	if u.TotalBytes != u.OutputBytes+u.UploadBytes {
		t.Errorf("total bytes mismatch: %+v", u)
	}
}

func TestFormatSize(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512.0 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tc := range cases {
		if got := FormatSize(tc.in); got != tc.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
