package tracking

import (
	"bytes"
	"context"
	"image/gif"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimasrn/campaign-dispatcher/internal/model"
	"github.com/nimasrn/campaign-dispatcher/pkg/redis"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr := miniredis.RunT(t)
	adapter, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	return mr, adapter
}

func TestPixelGIF_IsSinglePixel(t *testing.T) {
	cfg, err := gif.DecodeConfig(bytes.NewReader(PixelGIF))
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Width)
	assert.Equal(t, 1, cfg.Height)
}

func TestRedisMarkerStore_Mark(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	store := NewRedisMarkerStore(adapter, time.Hour)
	ctx := context.Background()

	first, err := store.Mark(ctx, 42, model.EventTypeOpen)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := store.Mark(ctx, 42, model.EventTypeOpen)
	require.NoError(t, err)
	assert.False(t, again)

	click, err := store.Mark(ctx, 42, model.EventTypeClick)
	require.NoError(t, err)
	assert.True(t, click, "event types are tracked separately")

	assert.Equal(t, time.Hour, mr.TTL("tracked:open:42"))
}

func TestRedisMarkerStore_Forget(t *testing.T) {
	_, adapter := setupTestRedis(t)
	store := NewRedisMarkerStore(adapter, time.Hour)
	ctx := context.Background()

	_, err := store.Mark(ctx, 7, model.EventTypeClick)
	require.NoError(t, err)
	require.NoError(t, store.Forget(ctx, 7, model.EventTypeClick))

	first, err := store.Mark(ctx, 7, model.EventTypeClick)
	require.NoError(t, err)
	assert.True(t, first)
}
