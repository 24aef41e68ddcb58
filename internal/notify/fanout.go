package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Channels for outward domain events. The WebSocket layer subscribes
// to these and delivers parsed JSON payloads to clients.
const (
	ChannelMatches    = "reconciliation:matches"
	ChannelExceptions = "reconciliation:exceptions"
)

// Event names.
const (
	EventMatchCompleted     = "match.completed"
	EventBulkMatchCompleted = "match.bulk_completed"
	EventExceptionRaised    = "exception.raised"
	EventExceptionResolved  = "exception.resolved"
)

// Event is the structured payload published to a channel.
type Event struct {
	Event     string    `json:"event"`
	Data      any       `json:"data,omitempty"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Fanout publishes domain events over redis pub/sub. Delivery is
// at-most-once and best effort: a failed publish is logged and never
// retried, and never fails the triggering business operation.
type Fanout struct {
	client *redis.Client
}

func NewFanout(client *redis.Client) *Fanout {
	return &Fanout{client: client}
}

// Publish stamps and sends an event to the named channel.
func (f *Fanout) Publish(ctx context.Context, channel string, event Event) {
	if f == nil || f.client == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).
			Str("channel", channel).
			Str("event", event.Event).
			Msg("failed to marshal notification payload")
		return
	}

	if err := f.client.Publish(ctx, channel, payload).Err(); err != nil {
		log.Warn().Err(err).
			Str("channel", channel).
			Str("event", event.Event).
			Msg("failed to publish notification")
		return
	}

	log.Debug().
		Str("channel", channel).
		Str("event", event.Event).
		Msg("published notification")
}
