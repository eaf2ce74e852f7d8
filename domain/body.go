package domain

import (
	"dm-relay/errors"
	"fmt"
	"strings"
)

// BodyKind is the wire "type" of a message.
type BodyKind string

const (
	KindText  BodyKind = "text"
	KindImage BodyKind = "image"
	KindVideo BodyKind = "video"
	KindAudio BodyKind = "audio"
)

// MediaKind restricts BodyKind to the media variants.
type MediaKind = BodyKind

// Body is a closed variant: Text or Media.
type Body interface {
	isBody()
}

type Text struct {
	Value string
}

type Media struct {
	URL  string
	Kind MediaKind
}

func (Text) isBody()  {}
func (Media) isBody() {}

// KindOf returns the wire kind of a body.
func KindOf(b Body) BodyKind {
	switch v := b.(type) {
	case Text:
		return KindText
	case Media:
		return v.Kind
	default:
		return ""
	}
}

// BodyFromWire maps the loosely-typed wire fields onto a Body.
// An empty kind is treated as text.
func BodyFromWire(kind BodyKind, text, url string) (Body, error) {
	switch BodyKind(strings.ToLower(string(kind))) {
	case KindText, "":
		return Text{Value: text}, nil
	case KindImage:
		return mediaFromWire(KindImage, url)
	case KindVideo:
		return mediaFromWire(KindVideo, url)
	case KindAudio:
		return mediaFromWire(KindAudio, url)
	default:
		return nil, fmt.Errorf("%w: unknown type %q", errors.ErrInvalidBody, kind)
	}
}

func mediaFromWire(kind MediaKind, url string) (Body, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: %s without url", errors.ErrInvalidBody, kind)
	}
	return Media{URL: url, Kind: kind}, nil
}

// TextOf returns the text of a Text body and the url of a Media body.
func TextOf(b Body) string {
	switch v := b.(type) {
	case Text:
		return v.Value
	case Media:
		return v.URL
	default:
		return ""
	}
}
