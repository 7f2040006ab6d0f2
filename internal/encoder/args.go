package encoder

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"mediaqueue/internal/media"
)

// Stem returns the filename without its extension, used to name every
// derived artifact.
func Stem(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

// VideoRenditionArgs encodes one HLS rendition: `<stem>_<label>.m3u8` plus
// its numbered segments in outDir.
func VideoRenditionArgs(input, outDir string, r media.Rendition, filename string) []string {
	stem := Stem(filename)
	return []string{
		"-i", input,
		"-hide_banner",
		"-y",
		"-vf", fmt.Sprintf("scale=w=-2:h=%d", r.Height),
		"-c:v", "h264",
		"-profile:v", "main",
		"-crf", "20",
		"-g", "48",
		"-keyint_min", "48",
		"-b:v", r.VideoBitrate,
		"-maxrate", r.Maxrate,
		"-bufsize", r.Bufsize,
		"-c:a", "aac",
		"-ar", "48000",
		"-b:a", r.AudioBitrate,
		"-f", "hls",
		"-hls_time", "4",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outDir, fmt.Sprintf("%s_%s_%%03d.ts", stem, r.Label)),
		filepath.Join(outDir, fmt.Sprintf("%s_%s.m3u8", stem, r.Label)),
	}
}

// VideoThumbnailArgs grabs a single 320x180 frame at offset as
// `<stem>_thumbnail.jpg`.
func VideoThumbnailArgs(input, outDir, filename string, offset time.Duration) []string {
	if offset <= 0 {
		offset = time.Second
	}
	return []string{
		"-i", input,
		"-ss", formatOffset(offset),
		"-vframes", "1",
		"-vf", "scale=320:180",
		"-q:v", "2",
		"-y",
		filepath.Join(outDir, Stem(filename)+"_thumbnail.jpg"),
	}
}

// ImageDownscaleArgs fits the image within 1920x1080 preserving aspect as
// `<stem>_processed<ext>`.
func ImageDownscaleArgs(input, outDir, filename string) []string {
	ext := filepath.Ext(filename)
	return []string{
		"-i", input,
		"-vf", "scale=1920:1080:force_original_aspect_ratio=decrease",
		"-q:v", "2",
		"-y",
		filepath.Join(outDir, Stem(filename)+"_processed"+ext),
	}
}

// ImageBlurredThumbArgs renders the blurred preview as
// `<stem>_blurred_thumbnail.jpg`.
func ImageBlurredThumbArgs(input, outDir, filename string) []string {
	return []string{
		"-i", input,
		"-vf", "scale=320:240:force_original_aspect_ratio=decrease,boxblur=10:1",
		"-q:v", "5",
		"-y",
		filepath.Join(outDir, Stem(filename)+"_blurred_thumbnail.jpg"),
	}
}

func formatOffset(offset time.Duration) string {
	total := int(offset.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}
