package media

import (
	"math"
	"strconv"
	"strings"
)

// Rendition is one rung of the static encoding ladder. Bitrates keep their
// encoder spelling ("800k") because they are passed to ffmpeg verbatim.
type Rendition struct {
	Label        string
	Height       int
	VideoBitrate string
	Maxrate      string
	Bufsize      string
	AudioBitrate string
}

// Ladder is the fixed rendition ladder, bottom rung first.
var Ladder = []Rendition{
	{Label: "480p", Height: 480, VideoBitrate: "800k", Maxrate: "856k", Bufsize: "1200k", AudioBitrate: "96k"},
	{Label: "720p", Height: 720, VideoBitrate: "2800k", Maxrate: "2996k", Bufsize: "4200k", AudioBitrate: "128k"},
	{Label: "1080p", Height: 1080, VideoBitrate: "5000k", Maxrate: "5350k", Bufsize: "7500k", AudioBitrate: "192k"},
	{Label: "2160p", Height: 2160, VideoBitrate: "15000k", Maxrate: "16050k", Bufsize: "22500k", AudioBitrate: "320k"},
}

// SelectRenditions keeps the rungs whose height fits within the source
// height, preserving ladder order. Sources below the bottom rung still get
// the bottom rung so every video ends up playable.
func SelectRenditions(sourceHeight int) []Rendition {
	selected := make([]Rendition, 0, len(Ladder))
	for _, r := range Ladder {
		if r.Height <= sourceHeight {
			selected = append(selected, r)
		}
	}
	if len(selected) == 0 {
		selected = append(selected, Ladder[0])
	}
	return selected
}

// Bandwidth is the combined stream bandwidth in bits per second, as
// advertised in the master playlist.
func (r Rendition) Bandwidth() int {
	return (parseBitrate(r.VideoBitrate) + parseBitrate(r.AudioBitrate)) * 1000
}

// Width derives the 16:9 horizontal resolution for the rung.
func (r Rendition) Width() int {
	return int(math.Round(float64(r.Height) * 16.0 / 9.0))
}

func parseBitrate(value string) int {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimRight(trimmed, "kK")
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0
	}
	return parsed
}
