// Package pubsub carries room envelopes between nodes over Redis pub/sub so
// every node can deliver to its own locally connected sessions.
package pubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/circles/internal/app"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/vmihailenco/msgpack/v5"
)

const DefaultChannel = "circles:rooms"

// RedisFanout publishes every envelope to one Redis channel. Local delivery
// happens only when the envelope comes back through the subscription, so a
// node sees its own broadcasts exactly once.
type RedisFanout struct {
	client  *redis.Client
	channel string
	local   app.Deliverer

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRedisFanout(client *redis.Client, channel string, local app.Deliverer) *RedisFanout {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisFanout{
		client:  client,
		channel: channel,
		local:   local,
		ready:   make(chan struct{}),
	}
}

func (f *RedisFanout) Publish(ctx context.Context, env app.Envelope) error {
	data, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	if err := f.client.Publish(ctx, f.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Ready is closed once the subscription is confirmed by Redis.
func (f *RedisFanout) Ready() <-chan struct{} {
	return f.ready
}

// Run subscribes and delivers incoming envelopes until ctx is done.
func (f *RedisFanout) Run(ctx context.Context) error {
	sub := f.client.Subscribe(ctx, f.channel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	f.readyOnce.Do(func() { close(f.ready) })
	log.Info().Str("module", "pubsub").Str("channel", f.channel).Msg("subscribed")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "pubsub").Msg("subscriber stopped")
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}
			env, err := DecodeEnvelope([]byte(msg.Payload))
			if err != nil {
				log.Error().Err(err).Str("module", "pubsub").Msg("bad envelope")
				continue
			}
			f.local.Deliver(env)
		}
	}
}

func EncodeEnvelope(env app.Envelope) ([]byte, error) {
	data, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

func DecodeEnvelope(data []byte) (app.Envelope, error) {
	var env app.Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return app.Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return env, nil
}
