// Package tracking holds the pieces served by the open and click endpoints:
// the pixel, the click confirmation page and the redis dedupe markers.
package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/nimasrn/campaign-dispatcher/internal/model"
	"github.com/nimasrn/campaign-dispatcher/pkg/redis"
)

// PixelGIF is a 1x1 transparent GIF.
var PixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00, 0x00, 0xff, 0xff, 0xff,
	0x00, 0x00, 0x00, 0x21, 0xf9, 0x04, 0x01, 0x00, 0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00,
	0x01, 0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

const PixelContentType = "image/gif"

const ClickPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Email verified</title>
</head>
<body style="font-family: sans-serif; text-align: center; padding: 48px;">
<h1>Thank you!</h1>
<p>Your email address has been verified. You can close this page.</p>
</body>
</html>
`

// MarkerStore remembers which (recipient, event) pairs were already
// recorded so repeated pixel loads skip the database. It is only a fast
// path; the unique index on tracking events stays authoritative.
type MarkerStore interface {
	// Mark reports true the first time it sees the pair within the TTL.
	Mark(ctx context.Context, recipientID int64, t model.EventType) (bool, error)
	Forget(ctx context.Context, recipientID int64, t model.EventType) error
}

type RedisMarkerStore struct {
	redis  redis.RedisAdapter
	ttl    time.Duration
	prefix string
}

func NewRedisMarkerStore(adapter redis.RedisAdapter, ttl time.Duration) *RedisMarkerStore {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RedisMarkerStore{redis: adapter, ttl: ttl, prefix: "tracked:"}
}

func (s *RedisMarkerStore) key(recipientID int64, t model.EventType) string {
	return fmt.Sprintf("%s%s:%d", s.prefix, t, recipientID)
}

func (s *RedisMarkerStore) Mark(ctx context.Context, recipientID int64, t model.EventType) (bool, error) {
	return s.redis.SetNX(ctx, s.key(recipientID, t), []byte("1"), s.ttl)
}

func (s *RedisMarkerStore) Forget(ctx context.Context, recipientID int64, t model.EventType) error {
	return s.redis.Del(ctx, s.key(recipientID, t))
}

// NoopMarkerStore sends every event to the database.
type NoopMarkerStore struct{}

func (NoopMarkerStore) Mark(context.Context, int64, model.EventType) (bool, error) { return true, nil }
func (NoopMarkerStore) Forget(context.Context, int64, model.EventType) error       { return nil }
