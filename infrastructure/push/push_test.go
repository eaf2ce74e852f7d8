package push

import (
	"context"
	"dm-relay/domain"
	"dm-relay/errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

// Keys of a real P-256 subscription, as produced by a browser.
const (
	testP256dh = "BNcRdreALRFXTkOOUHK1EtK2wtaz5Ry4YfYCA_0QTpQtUbVlUls0VJXg7A8u-Ts1XbjhazAkj7I99e8QcYP7DkM"
	testAuth   = "tBHItJI5svbpez7KI4CCXg"
)

func newSender(t *testing.T) *WebPushSender {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	keys, err := LoadOrGenerateVAPIDKeys(filepath.Join(t.TempDir(), "vapid.json"), log)
	require.NoError(t, err)
	return NewWebPushSender(log, Options{Subscriber: "mailto:ops@example.com", Keys: keys, TTL: time.Minute})
}

func TestWebPushSender_Classifies_Status(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"Accepted", http.StatusCreated, nil},
		{"Gone", http.StatusGone, errors.ErrSubscriptionGone},
		{"Not found", http.StatusNotFound, errors.ErrSubscriptionGone},
		{"Throttled", http.StatusTooManyRequests, errors.ErrPushTransient},
		{"Provider down", http.StatusBadGateway, errors.ErrPushTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			var got *http.Request
			provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r
				w.WriteHeader(tt.status)
			}))
			defer provider.Close()

			err := newSender(t).Send(context.Background(), domain.PushSubscription{
				Endpoint: provider.URL + "/push/abc",
				Keys:     domain.PushKeys{P256dh: testP256dh, Auth: testAuth},
			}, domain.Notification{Title: "Alice", Body: "hi", URL: "/"})

			if tt.want == nil {
				req.NoError(err)
			} else {
				req.ErrorIs(err, tt.want)
			}
			req.NotNil(got)
			req.Equal("60", got.Header.Get("TTL"))
			req.Contains(got.Header.Get("Authorization"), "vapid")
		})
	}
}

func TestWebPushSender_Unreachable_Provider_Is_Transient(t *testing.T) {
	req := require.New(t)
	provider := httptest.NewServer(http.NotFoundHandler())
	endpoint := provider.URL
	provider.Close()

	err := newSender(t).Send(context.Background(), domain.PushSubscription{
		Endpoint: endpoint,
		Keys:     domain.PushKeys{P256dh: testP256dh, Auth: testAuth},
	}, domain.Notification{Body: "hi"})

	req.ErrorIs(err, errors.ErrPushTransient)
}

func TestLoadOrGenerateVAPIDKeys_Is_Stable(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	path := filepath.Join(t.TempDir(), "keys", "vapid.json")

	first, err := LoadOrGenerateVAPIDKeys(path, log)
	req.NoError(err)
	req.NotEmpty(first.PublicKey)
	req.NotEmpty(first.PrivateKey)

	second, err := LoadOrGenerateVAPIDKeys(path, log)
	req.NoError(err)
	req.Equal(first, second)
}
