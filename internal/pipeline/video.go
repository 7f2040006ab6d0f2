package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"mediaqueue/internal/encoder"
	"mediaqueue/internal/media"
)

// ProcessVideo encodes the item's rendition ladder serially, synthesises the
// master playlist, uploads the directory under destPrefix, and returns the
// video result. Renditions are fatal; the thumbnail is best-effort.
func (p *Processor) ProcessVideo(ctx context.Context, item media.VideoItem, inputPath, outDir, destPrefix string, onProgress EncodeProgress) (media.VideoResult, error) {
	filename := item.Filename()
	ladder := media.SelectRenditions(item.Height)
	total := len(ladder)

	if err := p.runner.Run(ctx, encoder.VideoThumbnailArgs(inputPath, outDir, filename, 0), nil); err != nil {
		if ctx.Err() != nil {
			return media.VideoResult{}, ctx.Err()
		}
		p.logger.Warn("video thumbnail failed", "media_id", item.ID(), "filename", filename, "error", err)
	}

	for idx, rendition := range ladder {
		idx := idx
		args := encoder.VideoRenditionArgs(inputPath, outDir, rendition, filename)
		err := p.runner.Run(ctx, args, func(pct float64) {
			if onProgress != nil {
				onProgress(idx, total, pct)
			}
		})
		if err != nil {
			return media.VideoResult{}, fmt.Errorf("encode %s rendition %s: %w", filename, rendition.Label, err)
		}
		if onProgress != nil {
			onProgress(idx+1, total, 0)
		}
	}

	stem := encoder.Stem(filename)
	masterPath := filepath.Join(outDir, stem+"_master.m3u8")
	if err := os.WriteFile(masterPath, []byte(MasterPlaylist(stem, ladder)), 0o644); err != nil {
		return media.VideoResult{}, fmt.Errorf("%w: write %s: %v", ErrMasterPlaylistMissing, masterPath, err)
	}

	uploaded, err := p.uploader.UploadDirectory(ctx, outDir, destPrefix)
	if err != nil {
		return media.VideoResult{}, fmt.Errorf("upload %s: %w", filename, err)
	}

	result := media.VideoResult{
		ID:           item.ID(),
		OriginalName: item.OriginalName(),
		Filename:     filename,
		MediaType:    media.KindVideo,
		Status:       media.StatusSuccess,
	}
	for _, object := range uploaded {
		object := object
		switch {
		case strings.HasSuffix(object.OriginalName, "_master.m3u8"):
			result.MasterPlaylistURL = &object.URL
		case strings.HasSuffix(object.OriginalName, "_thumbnail.jpg"):
			result.ThumbnailURL = &object.URL
		}
	}
	if result.MasterPlaylistURL == nil {
		return media.VideoResult{}, fmt.Errorf("%w: %s not uploaded", ErrMasterPlaylistMissing, stem+"_master.m3u8")
	}
	return result, nil
}
