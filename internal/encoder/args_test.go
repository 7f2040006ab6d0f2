package encoder

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mediaqueue/internal/media"
)

func argsValue(t *testing.T, args []string, flag string) string {
	t.Helper()
	for idx, arg := range args {
		if arg == flag && idx+1 < len(args) {
			return args[idx+1]
		}
	}
	t.Fatalf("flag %s not found in %v", flag, args)
	return ""
}

func TestVideoRenditionArgs(t *testing.T) {
	rendition := media.Ladder[1] // 720p
	args := VideoRenditionArgs("/dl/a.mp4", "/out", rendition, "a.mp4")

	if argsValue(t, args, "-vf") != "scale=w=-2:h=720" {
		t.Fatalf("unexpected scale filter: %v", args)
	}
	if argsValue(t, args, "-b:v") != "2800k" || argsValue(t, args, "-maxrate") != "2996k" || argsValue(t, args, "-bufsize") != "4200k" {
		t.Fatalf("unexpected video bitrate flags: %v", args)
	}
	if argsValue(t, args, "-b:a") != "128k" {
		t.Fatalf("unexpected audio bitrate: %v", args)
	}
	if argsValue(t, args, "-hls_playlist_type") != "vod" {
		t.Fatalf("expected vod playlist: %v", args)
	}
	segments := argsValue(t, args, "-hls_segment_filename")
	if segments != filepath.Join("/out", "a_720p_%03d.ts") {
		t.Fatalf("unexpected segment pattern %q", segments)
	}
	if last := args[len(args)-1]; last != filepath.Join("/out", "a_720p.m3u8") {
		t.Fatalf("unexpected playlist output %q", last)
	}
}

func TestVideoThumbnailArgs(t *testing.T) {
	args := VideoThumbnailArgs("/dl/a.mp4", "/out", "a.mp4", 0)
	if argsValue(t, args, "-ss") != "00:00:01" {
		t.Fatalf("expected default 1s offset: %v", args)
	}
	if argsValue(t, args, "-vf") != "scale=320:180" {
		t.Fatalf("unexpected thumbnail scale: %v", args)
	}
	if last := args[len(args)-1]; last != filepath.Join("/out", "a_thumbnail.jpg") {
		t.Fatalf("unexpected thumbnail output %q", last)
	}

	args = VideoThumbnailArgs("/dl/a.mp4", "/out", "a.mp4", 90*time.Second)
	if argsValue(t, args, "-ss") != "00:01:30" {
		t.Fatalf("unexpected offset formatting: %v", args)
	}
}

func TestImageDownscaleArgsKeepsExtension(t *testing.T) {
	args := ImageDownscaleArgs("/dl/photo.png", "/out", "photo.png")
	if argsValue(t, args, "-vf") != "scale=1920:1080:force_original_aspect_ratio=decrease" {
		t.Fatalf("unexpected downscale filter: %v", args)
	}
	if last := args[len(args)-1]; last != filepath.Join("/out", "photo_processed.png") {
		t.Fatalf("unexpected downscale output %q", last)
	}
}

func TestImageBlurredThumbArgs(t *testing.T) {
	args := ImageBlurredThumbArgs("/dl/photo.png", "/out", "photo.png")
	if !strings.Contains(argsValue(t, args, "-vf"), "boxblur=10:1") {
		t.Fatalf("expected boxblur filter: %v", args)
	}
	if last := args[len(args)-1]; last != filepath.Join("/out", "photo_blurred_thumbnail.jpg") {
		t.Fatalf("unexpected blur output %q", last)
	}
}

func TestStem(t *testing.T) {
	if Stem("a.mp4") != "a" || Stem("archive.tar.gz") != "archive.tar" || Stem("noext") != "noext" {
		t.Fatalf("unexpected stem behaviour")
	}
}
