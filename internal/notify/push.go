package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrSubscriptionGone marks an endpoint the push service reports as
// permanently expired; the subscription is pruned.
var ErrSubscriptionGone = errors.New("push subscription gone")

// Subscription is one browser push endpoint for a user.
type Subscription struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dhKey string    `json:"p256dh_key"`
	AuthKey   string    `json:"auth_key"`
	CreatedAt time.Time `json:"created_at"`
}

// SubscriptionStore persists push subscriptions.
type SubscriptionStore interface {
	SubscriptionsForUser(ctx context.Context, userID string) ([]*Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// PushTransport performs the Web Push protocol exchange for one
// subscription. The wire client lives outside the core.
type PushTransport interface {
	Push(ctx context.Context, sub *Subscription, payload []byte) error
}

// pushPayload is the JSON body handed to the transport.
type pushPayload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category,omitempty"`
}

// PushChannel fans a notification out to every subscribed device of a
// user.
type PushChannel struct {
	store     SubscriptionStore
	transport PushTransport
	logger    *slog.Logger
}

// NewPushChannel builds a push channel over the given store and
// transport.
func NewPushChannel(store SubscriptionStore, transport PushTransport, logger *slog.Logger) *PushChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &PushChannel{
		store:     store,
		transport: transport,
		logger:    logger.With("component", "push"),
	}
}

// Name returns "push".
func (c *PushChannel) Name() string { return ChannelPush }

// Send pushes to every subscription of the user and returns the number
// of devices reached. Gone endpoints are pruned; other per-device
// failures are logged and skipped.
func (c *PushChannel) Send(ctx context.Context, userID, title, body, category string) (int, error) {
	subs, err := c.store.SubscriptionsForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}

	payload, err := json.Marshal(pushPayload{Title: title, Body: body, Category: category})
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	delivered := 0
	for _, sub := range subs {
		if err := c.transport.Push(ctx, sub, payload); err != nil {
			if errors.Is(err, ErrSubscriptionGone) {
				if delErr := c.store.DeleteSubscription(ctx, sub.ID); delErr != nil {
					c.logger.Warn("failed to prune expired subscription", "subscription_id", sub.ID, "error", delErr)
				}
				continue
			}
			c.logger.Warn("push delivery failed", "subscription_id", sub.ID, "error", err)
			continue
		}
		delivered++
	}
	return delivered, nil
}
