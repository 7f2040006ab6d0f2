package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"mediaqueue/internal/encoder"
	"mediaqueue/internal/media"
)

// ProcessImage runs the image pipeline in outDir and uploads the directory
// under destPrefix. The downscale is fatal for the item; the blurred
// thumbnail is best-effort. The untouched original is uploaded alongside the
// derived files.
func (p *Processor) ProcessImage(ctx context.Context, item media.ImageItem, inputPath, outDir, destPrefix string) (media.ImageResult, error) {
	filename := item.Filename()

	if err := p.runner.Run(ctx, encoder.ImageDownscaleArgs(inputPath, outDir, filename), nil); err != nil {
		return media.ImageResult{}, fmt.Errorf("downscale %s: %w", filename, err)
	}

	if err := p.runner.Run(ctx, encoder.ImageBlurredThumbArgs(inputPath, outDir, filename), nil); err != nil {
		if ctx.Err() != nil {
			return media.ImageResult{}, ctx.Err()
		}
		p.logger.Warn("blurred thumbnail failed", "media_id", item.ID(), "filename", filename, "error", err)
	}

	if err := copyFile(inputPath, filepath.Join(outDir, filename)); err != nil {
		return media.ImageResult{}, fmt.Errorf("stage original %s: %w", filename, err)
	}

	uploaded, err := p.uploader.UploadDirectory(ctx, outDir, destPrefix)
	if err != nil {
		return media.ImageResult{}, fmt.Errorf("upload %s: %w", filename, err)
	}

	result := media.ImageResult{
		ID:           item.ID(),
		OriginalName: item.OriginalName(),
		Filename:     filename,
		MediaType:    media.KindImage,
		Status:       media.StatusSuccess,
	}
	for _, object := range uploaded {
		object := object
		switch {
		case object.OriginalName == filename:
			result.OriginalURL = &object.URL
		case strings.HasSuffix(object.OriginalName, "_blurred_thumbnail.jpg"):
			result.BlurredThumbnailURL = &object.URL
		case strings.Contains(object.OriginalName, "_processed"):
			result.ImageURL = &object.URL
		}
	}
	if result.ImageURL == nil {
		return media.ImageResult{}, fmt.Errorf("processed image missing after upload of %s", filename)
	}
	return result, nil
}
