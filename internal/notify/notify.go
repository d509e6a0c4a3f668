// Package notify delivers user notifications across the configured
// channels: web push and WhatsApp.
package notify

import (
	"context"
	"log/slog"

	"github.com/noble1911/butler/internal/metrics"
)

// Channel selectors understood by the router.
const (
	ChannelPush     = "push"
	ChannelWhatsApp = "whatsapp"
	ChannelBoth     = "both"
)

// Channel is one delivery transport. Send returns the number of
// endpoints actually reached; zero means "attempted but unreachable",
// not an error.
type Channel interface {
	Name() string
	Send(ctx context.Context, userID, title, body, category string) (int, error)
}

// Router selects channels and applies the fallback policy. The channel
// set is assembled once at startup from configuration; a channel is
// either present and working or absent — never conditionally wired at
// call time.
type Router struct {
	push     Channel
	whatsapp Channel
	logger   *slog.Logger
}

// NewRouter builds a router over the available channels; either may be
// nil when unconfigured.
func NewRouter(push, whatsapp Channel, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		push:     push,
		whatsapp: whatsapp,
		logger:   logger.With("component", "notify"),
	}
}

// Notify routes one notification and returns the total endpoints
// reached. Selector semantics:
//
//   - push (default): try push; when zero devices were reached, fall
//     back to whatsapp if configured. Push delivery is silently zero
//     when no device is subscribed, and silently dropping a reminder
//     is worse than a redundant channel.
//   - whatsapp: skip push entirely.
//   - both: always attempt both, independent of push's count.
//
// Unconfigured channels are dropped with a logged warning; routing
// never returns an error that could abort a scheduler cycle.
func (r *Router) Notify(ctx context.Context, channel, userID, title, body, category string) int {
	switch channel {
	case ChannelWhatsApp:
		return r.send(ctx, r.whatsapp, ChannelWhatsApp, userID, title, body, category)
	case ChannelBoth:
		delivered := r.send(ctx, r.push, ChannelPush, userID, title, body, category)
		delivered += r.send(ctx, r.whatsapp, ChannelWhatsApp, userID, title, body, category)
		return delivered
	default:
		delivered := r.send(ctx, r.push, ChannelPush, userID, title, body, category)
		if delivered == 0 && r.whatsapp != nil {
			r.logger.Info("push reached no devices, falling back to whatsapp", "user_id", userID)
			delivered = r.send(ctx, r.whatsapp, ChannelWhatsApp, userID, title, body, category)
		}
		return delivered
	}
}

func (r *Router) send(ctx context.Context, ch Channel, name, userID, title, body, category string) int {
	if ch == nil {
		r.logger.Warn("notification dropped: channel not configured", "channel", name, "user_id", userID)
		return 0
	}
	delivered, err := ch.Send(ctx, userID, title, body, category)
	if err != nil {
		r.logger.Warn("notification delivery failed", "channel", name, "user_id", userID, "error", err)
		return 0
	}
	if delivered > 0 {
		metrics.NotificationsSent.WithLabelValues(name).Add(float64(delivered))
	}
	return delivered
}
