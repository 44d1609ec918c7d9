package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Relay fans broadcast frames out to every gateway instance subscribed to the
// same pub/sub channel. Each instance tags what it sends with its own origin
// and skips those frames on receive, since it already delivered them locally.
type Relay struct {
	client  *Client
	channel string
	origin  string
}

type envelope struct {
	Origin string          `json:"origin"`
	Topics []string        `json:"topics"`
	Frame  json.RawMessage `json:"frame"`
}

// NewRelay creates a relay on channel
func NewRelay(client *Client, channel string) *Relay {
	return &Relay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

// Send publishes a frame for the other instances
func (r *Relay) Send(ctx context.Context, topics []string, frame []byte) error {
	data, err := json.Marshal(envelope{Origin: r.origin, Topics: topics, Frame: frame})
	if err != nil {
		return fmt.Errorf("failed to encode relay envelope: %w", err)
	}
	if err := r.client.rdb.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", r.channel, err)
	}
	return nil
}

// Listen subscribes to the channel and calls deliver for frames from other
// instances until ctx is done
func (r *Relay) Listen(ctx context.Context, deliver func(topics []string, frame []byte)) error {
	sub := r.client.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	log.Info().Str("channel", r.channel).Str("origin", r.origin).Msg("Relay subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("relay channel %s closed", r.channel)
			}
			r.handle(msg.Payload, deliver)
		}
	}
}

func (r *Relay) handle(payload string, deliver func(topics []string, frame []byte)) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		log.Warn().Err(err).Msg("Discarding malformed relay envelope")
		return
	}
	if env.Origin == r.origin || len(env.Topics) == 0 {
		return
	}
	deliver(env.Topics, env.Frame)
}
