// Package notify publishes booking lifecycle events to interested
// collaborators. Delivery is informational and fire-and-forget: a failed
// publish is logged and counted, never surfaced to the caller, so it cannot
// roll back an already-committed transition.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"slotforge/internal/domain"
	"slotforge/internal/metrics"
)

const (
	EventBookingCreated   = "booking.created"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingRejected  = "booking.rejected"
	EventBookingCancelled = "booking.cancelled"
	EventBookingCompleted = "booking.completed"
	EventBookingNoShow    = "booking.no_show"
)

type Event struct {
	Type       string               `json:"type"`
	BookingID  uuid.UUID            `json:"booking_id"`
	SlotID     uuid.UUID            `json:"slot_id"`
	ClientID   string               `json:"client_id"`
	ProviderID string               `json:"provider_id"`
	Status     domain.BookingStatus `json:"status"`
	At         time.Time            `json:"at"`
}

type Notifier interface {
	Publish(ctx context.Context, ev Event)
}

// RedisNotifier publishes events on a Redis channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	log     *slog.Logger
}

func NewRedisNotifier(client *redis.Client, channel string, log *slog.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel, log: log}
}

func (n *RedisNotifier) Publish(ctx context.Context, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		n.log.Error("notify marshal failed", slog.Any("err", err), slog.String("event", ev.Type))
		metrics.NotifyFailures.Inc()
		return
	}
	if err := n.client.Publish(ctx, n.channel, payload).Err(); err != nil {
		n.log.Error("notify publish failed",
			slog.Any("err", err),
			slog.String("event", ev.Type),
			slog.String("booking_id", ev.BookingID.String()),
		)
		metrics.NotifyFailures.Inc()
	}
}

// NopNotifier drops events. Used when no Redis address is configured.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, Event) {}
