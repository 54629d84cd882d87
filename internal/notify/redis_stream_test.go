package notify

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStreamPublisher_Publish(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	p := NewRedisStreamPublisher(client, "unifier:updates", 100)
	assert.Equal(t, "redis:unifier:updates", p.Name())

	ctx := context.Background()
	require.NoError(t, p.Publish(ctx, "group", []byte(`{"type":"group","data":[]}`)))
	require.NoError(t, p.Publish(ctx, "event", []byte(`{"type":"event","data":[]}`)))

	msgs, err := client.XRange(ctx, "unifier:updates", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "group", msgs[0].Values["type"])
	assert.Equal(t, `{"type":"group","data":[]}`, msgs[0].Values["payload"])
	assert.Equal(t, "event", msgs[1].Values["type"])
}

func TestRedisStreamPublisher_ConnectionError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	p := NewRedisStreamPublisher(client, "unifier:updates", 0)
	err := p.Publish(context.Background(), "group", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "XADD unifier:updates")
}
