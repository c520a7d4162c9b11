package consignment

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestCacheVersionBump(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewCache(client, time.Minute)
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, "consignment", "tx_stats", "3")
	require.NoError(t, err)
	require.Equal(t, "consignment:tx_stats:3:v1", key)

	require.NoError(t, cache.Bump(ctx))
	key, err = cache.BuildKey(ctx, "consignment", "tx_stats", "3")
	require.NoError(t, err)
	require.Equal(t, "consignment:tx_stats:3:v2", key)
}

func TestCacheFollowsPublishedVersion(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	cache := NewCache(client, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, cache.ListenForInvalidation(ctx, ""))
	require.NoError(t, client.Publish(ctx, BumpChannel, "7").Err())
	require.Eventually(t, func() bool {
		ver, err := cache.Version(ctx)
		return err == nil && ver == 7
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, client.Publish(ctx, BumpChannel, "3").Err())
	time.Sleep(50 * time.Millisecond)
	ver, err := cache.Version(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(7), ver)
}

func TestTransactionStatsKeyIncludesWindow(t *testing.T) {
	from := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	a := keyTransactionStats(TransactionStatsFilter{ClientID: 3})
	b := keyTransactionStats(TransactionStatsFilter{ClientID: 3, From: from})
	require.NotEqual(t, a, b)
	require.Equal(t, "consignment:tx_stats:3:0:-:-", a)
}

func TestTransactionStatsKeySeparatesSubSecondWindows(t *testing.T) {
	from := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	a := keyTransactionStats(TransactionStatsFilter{ClientID: 3, From: from})
	b := keyTransactionStats(TransactionStatsFilter{ClientID: 3, From: from.Add(250 * time.Millisecond)})
	require.NotEqual(t, a, b)
}
