package storage

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"game-profile-engine/utils"
)

// RedisNotifier carries change notices between processes over redis pub/sub.
// Local subscribers are served by an embedded MemoryNotifier fed by Start.
type RedisNotifier struct {
	log     *utils.Logger
	rdb     *goredis.Client
	channel string
	local   *MemoryNotifier
}

func NewRedisNotifier(rdb *goredis.Client, channel string, log *utils.Logger) *RedisNotifier {
	if log == nil {
		log = utils.NopLogger()
	}
	if channel == "" {
		channel = "profile-changes"
	}
	return &RedisNotifier{
		log:     log.With("service", "RedisNotifier"),
		rdb:     rdb,
		channel: channel,
		local:   NewMemoryNotifier(),
	}
}

func (r *RedisNotifier) Publish(ctx context.Context, n ChangeNotice) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, raw).Err()
}

func (r *RedisNotifier) Subscribe(fn func(ChangeNotice)) func() {
	return r.local.Subscribe(fn)
}

// Start subscribes to the channel and forwards notices until ctx ends.
func (r *RedisNotifier) Start(ctx context.Context) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var n ChangeNotice
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					r.log.Warn("[NOTIFY] dropping malformed change notice", "error", err)
					continue
				}
				r.local.deliver(n)
			}
		}
	}()
	return nil
}
