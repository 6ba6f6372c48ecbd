package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opscale-io/orderflow/core"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *Cache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := core.NewRedisClient(core.RedisClientOptions{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return mr, New(client, nil)
}

func TestCacheSetGet(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()

	product := core.Product{
		ID:     "PROD-001",
		Name:   "Laptop",
		Price:  decimal.RequireFromString("1999.99"),
		Active: true,
	}

	key := ProductKeyPrefix + product.ID
	require.NoError(t, c.Set(ctx, key, product, time.Hour))

	ttl := mr.TTL(key)
	assert.Equal(t, time.Hour, ttl)

	var got core.Product
	hit, err := c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "PROD-001", got.ID)
	assert.True(t, got.Price.Equal(product.Price))
}

func TestCacheMiss(t *testing.T) {
	_, c := newTestCache(t)

	var got core.Product
	hit, err := c.Get(context.Background(), ProductKeyPrefix+"PROD-404", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCacheExpiry(t *testing.T) {
	mr, c := newTestCache(t)
	ctx := context.Background()

	key := CustomerKeyPrefix + "CUST-001"
	require.NoError(t, c.Set(ctx, key, core.Customer{ID: "CUST-001"}, 30*time.Minute))

	mr.FastForward(31 * time.Minute)

	var got core.Customer
	hit, err := c.Get(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCacheCorruptEntryIsMiss(t *testing.T) {
	mr, c := newTestCache(t)

	key := ProductKeyPrefix + "PROD-001"
	require.NoError(t, mr.Set(key, "{not json"))

	var got core.Product
	hit, err := c.Get(context.Background(), key, &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCacheConnectivityFailureIsMissWithError(t *testing.T) {
	mr, c := newTestCache(t)
	mr.Close()

	var got core.Product
	hit, err := c.Get(context.Background(), ProductKeyPrefix+"PROD-001", &got)
	assert.False(t, hit)
	assert.Error(t, err)
}

func TestCacheDelete(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	key := ProductKeyPrefix + "PROD-001"
	require.NoError(t, c.Set(ctx, key, core.Product{ID: "PROD-001"}, time.Hour))

	existed, err := c.Delete(ctx, key)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = c.Delete(ctx, key)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestCacheExists(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	ok, err := c.Exists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "yep", "v", time.Hour))
	ok, err = c.Exists(ctx, "yep")
	require.NoError(t, err)
	assert.True(t, ok)
}
