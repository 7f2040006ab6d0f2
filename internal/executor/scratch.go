package executor

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// scratch owns the per-post transient directories for one job attempt. It is
// acquired at the start of the attempt and purged on every exit path, so no
// terminal state leaves files behind.
type scratch struct {
	outputDir   string
	downloadDir string
	logger      *slog.Logger
}

func newScratch(outputRoot, downloadRoot, postID string, logger *slog.Logger) *scratch {
	return &scratch{
		outputDir:   filepath.Join(outputRoot, postID),
		downloadDir: filepath.Join(downloadRoot, postID),
		logger:      logger,
	}
}

// itemDirs purges and recreates the per-item output and download
// directories, guaranteeing a clean slate even after a crashed attempt.
func (s *scratch) itemDirs(mediaID string) (outDir, dlDir string, err error) {
	outDir = filepath.Join(s.outputDir, mediaID)
	dlDir = filepath.Join(s.downloadDir, mediaID)
	for _, dir := range []string{outDir, dlDir} {
		if err := os.RemoveAll(dir); err != nil {
			return "", "", fmt.Errorf("purge %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", "", fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return outDir, dlDir, nil
}

// purge removes the post's scratch roots. Failures are logged, never raised.
func (s *scratch) purge() {
	for _, dir := range []string{s.outputDir, s.downloadDir} {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("scratch cleanup failed", "dir", dir, "error", err)
		}
	}
}
