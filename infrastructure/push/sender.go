// Package push delivers notifications through the Web Push protocol.
package push

import (
	"context"
	"dm-relay/contract"
	"dm-relay/domain"
	"dm-relay/errors"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const DefaultTTL = 24 * time.Hour

type Options struct {
	Subscriber string
	Keys       VAPIDKeys
	TTL        time.Duration
	HTTPClient *http.Client
}

// WebPushSender signs and encrypts notifications with VAPID keys.
type WebPushSender struct {
	log  *slog.Logger
	opts Options
}

var _ contract.PushSender = (*WebPushSender)(nil)

func NewWebPushSender(log *slog.Logger, opts Options) *WebPushSender {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &WebPushSender{log: log, opts: opts}
}

// Send posts n to the subscription endpoint. A 404 or 410 answer means the
// device unsubscribed and is reported as ErrSubscriptionGone; every other
// failure wraps ErrPushTransient.
func (s *WebPushSender) Send(ctx context.Context, sub domain.PushSubscription, n domain.Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("%w: %s", errors.ErrPushTransient, err.Error())
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{Auth: sub.Keys.Auth, P256dh: sub.Keys.P256dh},
	}, &webpush.Options{
		HTTPClient:      s.opts.HTTPClient,
		Subscriber:      s.opts.Subscriber,
		VAPIDPublicKey:  s.opts.Keys.PublicKey,
		VAPIDPrivateKey: s.opts.Keys.PrivateKey,
		TTL:             int(s.opts.TTL.Seconds()),
	})
	if err != nil {
		return fmt.Errorf("%w: %s", errors.ErrPushTransient, err.Error())
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return fmt.Errorf("status %d: %w", resp.StatusCode, errors.ErrSubscriptionGone)
	case resp.StatusCode >= 300:
		return fmt.Errorf("status %d: %w", resp.StatusCode, errors.ErrPushTransient)
	}
	s.log.Debug("Push accepted", "endpoint", sub.Endpoint, "status", resp.StatusCode)
	return nil
}
