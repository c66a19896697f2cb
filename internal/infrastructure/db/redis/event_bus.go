package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/fitcoach/coach-system/internal/api/metrics"
	"github.com/fitcoach/coach-system/internal/core/domain"
)

// Channel format: auth:events:<user_id>
const eventChannelPrefix = "auth:events:"

// EventBus publishes remote auth events on per-user Pub/Sub channels and
// lets clients follow the channel of the user they are signed in as.
type EventBus struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewEventBus(client *redis.Client, log zerolog.Logger) *EventBus {
	return &EventBus{client: client, log: log}
}

func (b *EventBus) Publish(ctx context.Context, event domain.RemoteAuthEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode auth event: %w", err)
	}
	if err := b.client.Publish(ctx, eventChannelPrefix+event.UserID, payload).Err(); err != nil {
		return fmt.Errorf("publish auth event: %w", err)
	}
	metrics.AuthEventsPublishedTotal.WithLabelValues(string(event.Kind)).Inc()
	return nil
}

// Follow delivers events for userID to fn until ctx is cancelled or the
// returned stop func is called.
func (b *EventBus) Follow(ctx context.Context, userID string, fn func(domain.RemoteAuthEvent)) (stop func(), err error) {
	ps := b.client.Subscribe(ctx, eventChannelPrefix+userID)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe auth events: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer ps.Close()
		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event domain.RemoteAuthEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					b.log.Warn().Err(err).Str("channel", msg.Channel).Msg("malformed auth event")
					continue
				}
				fn(event)
			}
		}
	}()
	return cancel, nil
}
