package pipeline

import (
	"fmt"
	"strings"

	"mediaqueue/internal/media"
)

// MasterPlaylist renders the top-level adaptive-streaming manifest
// referencing each rendition's own playlist.
func MasterPlaylist(stem string, ladder []media.Rendition) string {
	var builder strings.Builder
	builder.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n\n")
	for idx, rendition := range ladder {
		if idx > 0 {
			builder.WriteString("\n")
		}
		fmt.Fprintf(&builder, "#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d,NAME=%q\n",
			rendition.Bandwidth(), rendition.Width(), rendition.Height, rendition.Label)
		fmt.Fprintf(&builder, "%s_%s.m3u8\n", stem, rendition.Label)
	}
	return builder.String()
}
