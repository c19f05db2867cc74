// Package pubsub bridges gateway room broadcasts across instances through a
// single Redis pub/sub channel.
package pubsub

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type frame struct {
	Room string          `json:"room"`
	Data json.RawMessage `json:"data"`
}

type RedisBus struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedisBus(client *redis.Client, channel string, log *zap.Logger) *RedisBus {
	return &RedisBus{client: client, channel: channel, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, room string, data []byte) error {
	payload, err := encode(room, data)
	if err != nil {
		return err
	}
	return errors.Wrap(b.client.Publish(ctx, b.channel, payload).Err(), "redisBus.Publish")
}

// Run subscribes to the channel and hands every frame to deliver until ctx
// is done.
func (b *RedisBus) Run(ctx context.Context, deliver func(room string, data []byte)) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	// Receive blocks until the subscription is confirmed
	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "redisBus.Subscribe")
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			room, data, err := decode([]byte(msg.Payload))
			if err != nil {
				b.log.Warn("dropping malformed bus frame", zap.Error(err))
				continue
			}
			deliver(room, data)
		}
	}
}

func encode(room string, data []byte) ([]byte, error) {
	payload, err := json.Marshal(frame{Room: room, Data: data})
	return payload, errors.Wrap(err, "redisBus.encode")
}

func decode(payload []byte) (string, []byte, error) {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		return "", nil, errors.Wrap(err, "redisBus.decode")
	}
	if f.Room == "" {
		return "", nil, errors.New("frame has no room")
	}
	return f.Room, f.Data, nil
}
