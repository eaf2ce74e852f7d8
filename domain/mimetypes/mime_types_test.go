package mimetypes

import (
	"dm-relay/domain"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		kind domain.MediaKind
		ok   bool
	}{
		{"PNG", "image/png", domain.KindImage, true},
		{"JPEG with parameters", "image/jpeg; q=0.9", domain.KindImage, true},
		{"MP4", "video/mp4", domain.KindVideo, true},
		{"Voice note", "audio/webm", domain.KindAudio, true},
		{"Ogg", "audio/ogg", domain.KindAudio, true},
		{"Text is not media", "text/plain", "", false},
		{"PDF is not media", "application/pdf", "", false},
		{"Garbage", "???", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			kind, ok := KindOf(tt.raw)
			req.Equal(tt.ok, ok)
			req.Equal(tt.kind, kind)
		})
	}
}
