// Package redis implements relay.Relay over a Redis Pub/Sub channel.
package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/ggoodman/wamp-go/relay"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

// Config for the Redis relay. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for the relay channel. ENV: WAMP_RELAY_KEY_PREFIX
	KeyPrefix string `env:"WAMP_RELAY_KEY_PREFIX,default=wamp:relay:"`
}

type Relay struct {
	client  *redis.Client
	channel string
}

func New(cfg Config) (*Relay, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "wamp:relay:"
	}
	return &Relay{client: cl, channel: prefix + "events"}, nil
}

// NewFromEnv builds a Relay using envdecode to populate Config.
func NewFromEnv() (*Relay, error) {
	var cfg Config
	_ = envdecode.Decode(&cfg)
	return New(cfg)
}

func (r *Relay) Close() error { return r.client.Close() }

func (r *Relay) Publish(ctx context.Context, env relay.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

func (r *Relay) Subscribe(ctx context.Context, handler relay.Handler) error {
	ps := r.client.Subscribe(ctx, r.channel)
	defer ps.Close()

	// Publications before the confirmation are not delivered.
	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return redis.ErrClosed
			}
			env, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				// Foreign or corrupt payloads on the channel are skipped.
				continue
			}
			if err := handler(ctx, env); err != nil {
				return err
			}
		}
	}
}

func decodeEnvelope(data []byte) (relay.Envelope, error) {
	var env relay.Envelope
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return relay.Envelope{}, err
	}
	return env, nil
}

var _ relay.Relay = (*Relay)(nil)
