// Package cleanup removes stale rendered images and orphaned uploads. It
// consumes only filesystem metadata and is independent of the delivery
// engine; the worker runs it on its own schedule.
package cleanup

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var imageExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// Manager holds the directories and retention policy for cleanup runs.
type Manager struct {
	outputDir     string
	uploadDir     string
	retentionDays int
	logger        *slog.Logger
}

// NewManager creates a cleanup manager.
func NewManager(outputDir, uploadDir string, retentionDays int, logger *slog.Logger) *Manager {
	return &Manager{
		outputDir:     outputDir,
		uploadDir:     uploadDir,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// CleanImages deletes rendered images older than the retention window and
// prunes emptied per-user directories. Returns the number of files removed.
func (m *Manager) CleanImages() (int, error) {
	cutoff := time.Now().AddDate(0, 0, -m.retentionDays)
	deleted, err := m.removeOlderThan(m.outputDir, cutoff, func(name string) bool {
		return imageExtensions[strings.ToLower(filepath.Ext(name))]
	})
	if deleted > 0 {
		m.logger.Info("Image cleanup complete", "deleted", deleted)
	}
	return deleted, err
}

// CleanOrphanedUploads deletes uploads that sat unprocessed longer than
// maxAge and prunes emptied per-user directories.
func (m *Manager) CleanOrphanedUploads(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	deleted, err := m.removeOlderThan(m.uploadDir, cutoff, func(string) bool { return true })
	if deleted > 0 {
		m.logger.Info("Orphaned upload cleanup complete", "deleted", deleted)
	}
	return deleted, err
}

func (m *Manager) removeOlderThan(dir string, cutoff time.Time, match func(name string) bool) (int, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return 0, nil
	}

	deleted := 0
	var emptied []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			m.logger.Warn("Cleanup walk error", "path", path, "error", err.Error())
			return nil
		}
		if d.IsDir() {
			if path != dir {
				emptied = append(emptied, path)
			}
			return nil
		}
		if !match(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				m.logger.Warn("Could not delete file", "path", path, "error", err.Error())
				return nil
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("cleanup walk failed: %w", err)
	}

	// Prune deepest directories first so nested empties collapse.
	for i := len(emptied) - 1; i >= 0; i-- {
		entries, err := os.ReadDir(emptied[i])
		if err == nil && len(entries) == 0 {
			_ = os.Remove(emptied[i])
		}
	}
	return deleted, nil
}

// Usage summarizes how much disk the rendered images and uploads occupy.
type Usage struct {
	OutputBytes int64 `json:"output_bytes"`
	OutputFiles int   `json:"output_files"`
	UploadBytes int64 `json:"upload_bytes"`
	UploadFiles int   `json:"upload_files"`
	TotalBytes  int64 `json:"total_bytes"`
	TotalFiles  int   `json:"total_files"`
}

// StorageUsage walks both directories and totals their sizes.
func (m *Manager) StorageUsage() Usage {
	var u Usage
	u.OutputBytes, u.OutputFiles = dirUsage(m.outputDir)
	u.UploadBytes, u.UploadFiles = dirUsage(m.uploadDir)
	u.TotalBytes = u.OutputBytes + u.UploadBytes
	u.TotalFiles = u.OutputFiles + u.UploadFiles
	return u
}

func dirUsage(dir string) (int64, int) {
	var size int64
	var count int
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			size += info.Size()
			count++
		}
		return nil
	})
	return size, count
}

// FormatSize renders a byte count in human readable form.
func FormatSize(size int64) string {
	if size == 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB"}
	value := float64(size)
	i := 0
	for value >= 1024 && i < len(units)-1 {
		value /= 1024
		i++
	}
	return fmt.Sprintf("%.1f %s", value, units[i])
}
