package domain

// PushKeys are the client keys of a Web Push subscription.
type PushKeys struct {
	P256dh string `json:"p256dh" validate:"required"`
	Auth   string `json:"auth" validate:"required"`
}

// PushSubscription is an opaque, provider-issued endpoint for one device.
// Two subscriptions are the same device when their endpoints are equal.
type PushSubscription struct {
	Endpoint string   `json:"endpoint" validate:"required,url"`
	Keys     PushKeys `json:"keys" validate:"required"`
}

// Notification is the payload handed to the push provider.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

const defaultSenderName = "Someone"

// NotificationFor builds the notification shown for a new message.
// Media messages get a fixed label per kind, text messages their literal text.
func NotificationFor(senderName string, body Body) Notification {
	if senderName == "" {
		senderName = defaultSenderName
	}
	return Notification{Title: senderName, Body: notificationBody(body), URL: "/"}
}

func notificationBody(body Body) string {
	switch v := body.(type) {
	case Text:
		return v.Value
	case Media:
		switch v.Kind {
		case KindImage:
			return "Sent a photo"
		case KindVideo:
			return "Sent a video"
		case KindAudio:
			return "Sent a voice note"
		}
	}
	return "Sent a message"
}
