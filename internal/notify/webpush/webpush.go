// Package webpush sends Web Push messages with VAPID authentication.
package webpush

import (
	"context"
	"fmt"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/noble1911/butler/internal/notify"
)

// Config holds the VAPID key pair identifying this server to push
// services.
type Config struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact (mailto: or https:) push services may
	// use to reach the operator.
	Subscriber string
}

// Transport implements notify.PushTransport over the Web Push
// protocol.
type Transport struct {
	cfg Config
}

// NewTransport validates the VAPID configuration.
func NewTransport(cfg Config) (*Transport, error) {
	if cfg.VAPIDPublicKey == "" || cfg.VAPIDPrivateKey == "" {
		return nil, fmt.Errorf("webpush: VAPID key pair is required")
	}
	return &Transport{cfg: cfg}, nil
}

// Push delivers one payload to a subscription endpoint. A 404 or 410
// from the push service means the browser dropped the subscription.
func (t *Transport) Push(ctx context.Context, sub *notify.Subscription, payload []byte) error {
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		Subscriber:      t.cfg.Subscriber,
		VAPIDPublicKey:  t.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: t.cfg.VAPIDPrivateKey,
		TTL:             60,
	})
	if err != nil {
		return fmt.Errorf("webpush: send: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return notify.ErrSubscriptionGone
	case resp.StatusCode >= 400:
		return fmt.Errorf("webpush: push service returned %s", resp.Status)
	}
	return nil
}
