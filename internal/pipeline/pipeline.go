// Package pipeline turns one downloaded media item into its derived
// artifacts: HLS renditions plus master playlist for videos, downscaled
// copies and blurred thumbnails for images.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"mediaqueue/internal/blob"
	"mediaqueue/internal/encoder"
)

// ErrMasterPlaylistMissing marks a video whose renditions encoded but whose
// adaptive manifest could not be produced or uploaded; the item yields no
// result.
var ErrMasterPlaylistMissing = errors.New("master playlist missing")

// Uploader is the slice of the blob client the pipelines use.
type Uploader interface {
	UploadDirectory(ctx context.Context, localDir, destPrefix string) ([]blob.UploadedObject, error)
}

// EncodeProgress receives live video-encode state: how many renditions have
// finished, how many exist in total, and the running rendition's percentage.
type EncodeProgress func(completedRenditions, totalRenditions int, renditionPct float64)

// Processor executes the per-item pipelines against an encoder runner and an
// uploader.
type Processor struct {
	runner   encoder.Runner
	uploader Uploader
	logger   *slog.Logger
}

// NewProcessor builds a Processor.
func NewProcessor(runner encoder.Runner, uploader Uploader, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{runner: runner, uploader: uploader, logger: logger}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", dst, err)
	}
	return out.Close()
}
