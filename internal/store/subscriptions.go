package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/noble1911/butler/internal/notify"
)

// SaveSubscription upserts a push subscription. Re-registering the
// same endpoint refreshes its keys instead of duplicating it.
func (s *Store) SaveSubscription(ctx context.Context, sub *notify.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (id, user_id, endpoint, p256dh_key, auth_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, endpoint)
		DO UPDATE SET p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key`,
		sub.ID, sub.UserID, sub.Endpoint, sub.P256dhKey, sub.AuthKey, formatTime(sub.CreatedAt))
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

// SubscriptionsForUser implements notify.SubscriptionStore.
func (s *Store) SubscriptionsForUser(ctx context.Context, userID string) ([]*notify.Subscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, endpoint, p256dh_key, auth_key, created_at
		FROM push_subscriptions WHERE user_id = ?
		ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*notify.Subscription
	for rows.Next() {
		var (
			sub       notify.Subscription
			createdAt string
		)
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &createdAt); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		if sub.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("decode created_at for subscription %s: %w", sub.ID, err)
		}
		subs = append(subs, &sub)
	}
	return subs, rows.Err()
}

// DeleteSubscription implements notify.SubscriptionStore. Deleting an
// unknown ID is a no-op.
func (s *Store) DeleteSubscription(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}
