// Package notify publishes zone lifecycle events to the serving nodes.
package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	// UpdateChannel carries "zone serial" messages after a commit is
	// visible to the serving side.
	UpdateChannel = "xfrd:zone-updated"
	// ExpiryChannel carries "zone expired|ok" messages when a zone's
	// data crosses the expire interval or recovers.
	ExpiryChannel = "xfrd:zone-expired"
)

// RedisNotifier fans zone events out to all serving nodes over pub/sub.
type RedisNotifier struct {
	client *redis.Client
}

func NewRedisNotifier(addr string, password string, db int) *RedisNotifier {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisNotifier{client: rdb}
}

func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

// ZoneUpdated announces that the zone now serves the given serial.
func (n *RedisNotifier) ZoneUpdated(ctx context.Context, zone string, serial uint32) error {
	msg := fmt.Sprintf("%s %d", zone, serial)
	return n.client.Publish(ctx, UpdateChannel, msg).Err()
}

// ZoneExpired announces whether the zone's data may still be served.
func (n *RedisNotifier) ZoneExpired(ctx context.Context, zone string, expired bool) error {
	flag := "ok"
	if expired {
		flag = "expired"
	}
	msg := fmt.Sprintf("%s %s", zone, flag)
	return n.client.Publish(ctx, ExpiryChannel, msg).Err()
}

// SubscribeUpdates returns a channel that receives zone update messages.
func (n *RedisNotifier) SubscribeUpdates(ctx context.Context) <-chan *redis.Message {
	pubsub := n.client.Subscribe(ctx, UpdateChannel)
	return pubsub.Channel()
}

// SubscribeExpiry returns a channel that receives expiry flag messages.
func (n *RedisNotifier) SubscribeExpiry(ctx context.Context) <-chan *redis.Message {
	pubsub := n.client.Subscribe(ctx, ExpiryChannel)
	return pubsub.Channel()
}
