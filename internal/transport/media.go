package transport

import (
	"errors"
	"fmt"
	"strings"
)

type MediaKind string

const (
	MediaPhoto     MediaKind = "photo"
	MediaVideo     MediaKind = "video"
	MediaDocument  MediaKind = "document"
	MediaAnimation MediaKind = "animation"
)

var ErrBadMediaRef = errors.New("bad media reference")

// Media points at a file already uploaded to the platform.
type Media struct {
	Kind   MediaKind
	FileID string
}

// Ref encodes the media as the opaque "kind:file_id" string stored with jobs.
func (m Media) Ref() string {
	if m.FileID == "" {
		return ""
	}
	return string(m.Kind) + ":" + m.FileID
}

// ParseMedia decodes a reference produced by Ref.
func ParseMedia(ref string) (Media, error) {
	ref = strings.TrimSpace(ref)
	kind, id, ok := strings.Cut(ref, ":")
	if !ok || strings.TrimSpace(id) == "" {
		return Media{}, fmt.Errorf("%w: %q", ErrBadMediaRef, ref)
	}
	switch k := MediaKind(strings.ToLower(kind)); k {
	case MediaPhoto, MediaVideo, MediaDocument, MediaAnimation:
		return Media{Kind: k, FileID: strings.TrimSpace(id)}, nil
	default:
		return Media{}, fmt.Errorf("%w: unknown kind %q", ErrBadMediaRef, kind)
	}
}
