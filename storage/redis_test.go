package storage

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisForTest(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping redis integration test")
	}
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestRedisKVSessionTier(t *testing.T) {
	rdb := redisForTest(t)
	kv := NewRedisKV(rdb, time.Minute)
	tier := NewSessionTier(kv)
	id := "it-" + time.Now().Format("150405.000000")
	t.Cleanup(func() { _ = tier.Purge(id) })

	require.NoError(t, tier.Write(id, profileWithXP(id, 42, time.Now().UTC())))
	raw, ok, err := tier.Read(id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(42), decodeXP(t, raw))

	ttl, err := rdb.TTL(context.Background(), sessionKey(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}

func TestRedisNotifierDeliversAcrossClients(t *testing.T) {
	rdb := redisForTest(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := "profile-changes-test-" + time.Now().Format("150405.000000")
	sub := NewRedisNotifier(rdb, channel, nil)
	require.NoError(t, sub.Start(ctx))

	got := make(chan ChangeNotice, 1)
	sub.Subscribe(func(n ChangeNotice) { got <- n })

	pub := NewRedisNotifier(rdb, channel, nil)
	require.NoError(t, pub.Publish(ctx, ChangeNotice{ID: "u1", Origin: "other"}))

	select {
	case n := <-got:
		assert.Equal(t, "u1", n.ID)
		assert.Equal(t, "other", n.Origin)
	case <-time.After(3 * time.Second):
		t.Fatal("notice not delivered")
	}
}
