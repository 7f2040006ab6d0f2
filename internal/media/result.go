package media

import (
	"encoding/json"
	"fmt"
)

// StatusSuccess is the only status a pipeline ever records for an item;
// failed items produce no result at all.
const StatusSuccess = "success"

// Result is the derived-artifact record for one completed item.
type Result interface {
	MediaID() string
}

// VideoResult carries the adaptive-streaming artifacts of one video.
// Optional URLs are nil when their derivation stage failed non-fatally.
type VideoResult struct {
	ID                string  `json:"mediaId"`
	OriginalName      string  `json:"originalName"`
	Filename          string  `json:"filename"`
	MediaType         Kind    `json:"mediaType"`
	Status            string  `json:"status"`
	MasterPlaylistURL *string `json:"masterPlaylistUrl"`
	ThumbnailURL      *string `json:"thumbnailUrl"`
}

func (r VideoResult) MediaID() string { return r.ID }

// ImageResult carries the derived artifacts of one image.
type ImageResult struct {
	ID                  string  `json:"mediaId"`
	OriginalName        string  `json:"originalName"`
	Filename            string  `json:"filename"`
	MediaType           Kind    `json:"mediaType"`
	Status              string  `json:"status"`
	OriginalURL         *string `json:"originalUrl"`
	ImageURL            *string `json:"imageUrl"`
	BlurredThumbnailURL *string `json:"blurredThumbnailUrl"`
}

func (r ImageResult) MediaID() string { return r.ID }

// DecodeResult restores a cached result into its concrete variant using the
// mediaType discriminator.
func DecodeResult(data []byte) (Result, error) {
	var probe struct {
		MediaType Kind `json:"mediaType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	switch probe.MediaType {
	case KindVideo:
		var result VideoResult
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("decode video result: %w", err)
		}
		return result, nil
	case KindImage:
		var result ImageResult
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, fmt.Errorf("decode image result: %w", err)
		}
		return result, nil
	default:
		return nil, fmt.Errorf("decode result: unknown mediaType %q", probe.MediaType)
	}
}
