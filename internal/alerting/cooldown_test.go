package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func TestMemoryCooldownStore(t *testing.T) {
	store := NewMemoryCooldownStore()
	ctx := context.Background()

	_, found, err := store.Last(ctx, "device_1")
	require.NoError(t, err)
	require.False(t, found)

	now := time.Now()
	require.NoError(t, store.Mark(ctx, "device_1", now))

	got, found, err := store.Last(ctx, "device_1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, got.Equal(now))

	_, found, err = store.Last(ctx, "device_2")
	require.NoError(t, err)
	require.False(t, found)
}

func TestRedisCooldownStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisCooldownStore(client, 300*time.Second)
	ctx := context.Background()

	_, found, err := store.Last(ctx, "device_1")
	require.NoError(t, err)
	require.False(t, found)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.Mark(ctx, "device_1", now))

	got, found, err := store.Last(ctx, "device_1")
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, got.Equal(now))
}

func TestRedisCooldownStoreExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store := NewRedisCooldownStore(client, time.Second)
	ctx := context.Background()

	require.NoError(t, store.Mark(ctx, "device_1", time.Now()))
	mr.FastForward(2 * time.Second)

	_, found, err := store.Last(ctx, "device_1")
	require.NoError(t, err)
	require.False(t, found, "expired cooldown entry should read as absent")
}
