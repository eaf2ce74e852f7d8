// Package mimetypes maps MIME types announced by clients onto message kinds.
package mimetypes

import (
	"dm-relay/domain"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// KindOf classifies a MIME type into a media kind.
// When the announced family is not a media family, the canonical type known to
// the detector is tried before giving up. Anything outside image, video or
// audio is rejected.
func KindOf(raw string) (domain.MediaKind, bool) {
	mt, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return "", false
	}
	if kind, ok := kindOfFamily(mt); ok {
		return kind, true
	}
	if known := mimetype.Lookup(mt); known != nil {
		return kindOfFamily(known.String())
	}
	return "", false
}

func kindOfFamily(mt string) (domain.MediaKind, bool) {
	family, _, _ := strings.Cut(mt, "/")
	switch family {
	case "image":
		return domain.KindImage, true
	case "video":
		return domain.KindVideo, true
	case "audio":
		return domain.KindAudio, true
	default:
		return "", false
	}
}
