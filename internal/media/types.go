package media

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind discriminates the two media variants carried by a job.
type Kind string

const (
	KindImage Kind = "IMAGE"
	KindVideo Kind = "VIDEO"
)

// Item is one media file within a post. The concrete type is either
// ImageItem or VideoItem; callers dispatch with a type switch.
type Item interface {
	ID() string
	Filename() string
	OriginalName() string
	Kind() Kind
}

// ImageItem is a still image scheduled for downscaling.
type ImageItem struct {
	MediaID  string
	Name     string
	Original string
}

func (i ImageItem) ID() string           { return i.MediaID }
func (i ImageItem) Filename() string     { return i.Name }
func (i ImageItem) OriginalName() string { return i.Original }
func (i ImageItem) Kind() Kind           { return KindImage }

// VideoItem is a video scheduled for the rendition ladder. Height is the
// source vertical resolution and caps the ladder.
type VideoItem struct {
	MediaID  string
	Name     string
	Original string
	Height   int
}

func (v VideoItem) ID() string           { return v.MediaID }
func (v VideoItem) Filename() string     { return v.Name }
func (v VideoItem) OriginalName() string { return v.Original }
func (v VideoItem) Kind() Kind           { return KindVideo }

// Job is one unit of work delivered by the broker. All items belong to a
// single post; the post is the unit of progress and terminal notification.
type Job struct {
	PostID      string
	Media       []Item
	S3Key       string
	UserID      string
	CallbackURL string
	Attempt     int
}

// Validate rejects payloads the executor must not start on.
func (j Job) Validate() error {
	if strings.TrimSpace(j.PostID) == "" {
		return fmt.Errorf("postId is required")
	}
	if len(j.Media) == 0 {
		return fmt.Errorf("post %s: media array is empty", j.PostID)
	}
	seen := make(map[string]struct{}, len(j.Media))
	for idx, item := range j.Media {
		if item == nil {
			return fmt.Errorf("post %s: media[%d] is nil", j.PostID, idx)
		}
		id := strings.TrimSpace(item.ID())
		if id == "" {
			return fmt.Errorf("post %s: media[%d] is missing an id", j.PostID, idx)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("post %s: duplicate media id %s", j.PostID, id)
		}
		seen[id] = struct{}{}
		if strings.TrimSpace(item.Filename()) == "" {
			return fmt.Errorf("post %s: media %s is missing a filename", j.PostID, id)
		}
	}
	return nil
}

type wireItem struct {
	ID           string `json:"id"`
	Type         Kind   `json:"type"`
	Filename     string `json:"filename"`
	OriginalName string `json:"originalName"`
	Height       int    `json:"height"`
}

type wireJob struct {
	PostID      string     `json:"postId"`
	Media       []wireItem `json:"media"`
	S3Key       string     `json:"s3Key"`
	UserID      string     `json:"userId"`
	CallbackURL string     `json:"callbackUrl"`
}

// UnmarshalJSON decodes the broker payload into the item variants.
func (j *Job) UnmarshalJSON(data []byte) error {
	var wire wireJob
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	items := make([]Item, 0, len(wire.Media))
	for _, m := range wire.Media {
		switch m.Type {
		case KindImage:
			items = append(items, ImageItem{MediaID: m.ID, Name: m.Filename, Original: m.OriginalName})
		case KindVideo:
			items = append(items, VideoItem{MediaID: m.ID, Name: m.Filename, Original: m.OriginalName, Height: m.Height})
		default:
			return fmt.Errorf("media %s: unknown type %q", m.ID, m.Type)
		}
	}
	j.PostID = wire.PostID
	j.Media = items
	j.S3Key = wire.S3Key
	j.UserID = wire.UserID
	j.CallbackURL = wire.CallbackURL
	return nil
}

// MarshalJSON encodes a job back into the broker wire shape.
func (j Job) MarshalJSON() ([]byte, error) {
	wire := wireJob{
		PostID:      j.PostID,
		Media:       make([]wireItem, 0, len(j.Media)),
		S3Key:       j.S3Key,
		UserID:      j.UserID,
		CallbackURL: j.CallbackURL,
	}
	for _, item := range j.Media {
		entry := wireItem{
			ID:           item.ID(),
			Type:         item.Kind(),
			Filename:     item.Filename(),
			OriginalName: item.OriginalName(),
		}
		if video, ok := item.(VideoItem); ok {
			entry.Height = video.Height
		}
		wire.Media = append(wire.Media, entry)
	}
	return json.Marshal(wire)
}
