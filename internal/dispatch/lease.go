package dispatch

import (
	"context"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/nimasrn/campaign-dispatcher/pkg/logger"
	"github.com/nimasrn/campaign-dispatcher/pkg/redis"
)

// Lease guards a campaign against two concurrent runs, including runs in
// different processes. The status transition into Sending is the primary
// lock; the lease additionally lets the sweeper tell a live run from a dead
// one.
//
// A reservation covers the gap between a run being accepted by a launcher
// and the engine taking the lease, so a queued run is never mistaken for a
// dead one. Held reports true for either.
type Lease interface {
	Acquire(ctx context.Context, campaignID int64, runID string) (bool, error)
	Refresh(ctx context.Context, campaignID int64, runID string) error
	Release(ctx context.Context, campaignID int64, runID string) error
	Held(ctx context.Context, campaignID int64) (bool, error)
	Reserve(ctx context.Context, campaignID int64) error
	Unreserve(ctx context.Context, campaignID int64) error
}

type LeaseConfig struct {
	TTL time.Duration
	// how long an accepted run may wait before the sweeper gives up on it
	ReserveTTL time.Duration
	KeyPrefix  string
}

func DefaultLeaseConfig() LeaseConfig {
	return LeaseConfig{
		TTL:        2 * time.Minute,
		ReserveTTL: 24 * time.Hour,
		KeyPrefix:  "run:",
	}
}

// only the owner may extend or drop the key
var (
	refreshScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

type RedisLease struct {
	redis  redis.RedisAdapter
	config LeaseConfig
}

func NewRedisLease(adapter redis.RedisAdapter, config LeaseConfig) *RedisLease {
	if config.TTL <= 0 {
		config.TTL = DefaultLeaseConfig().TTL
	}
	if config.ReserveTTL <= 0 {
		config.ReserveTTL = DefaultLeaseConfig().ReserveTTL
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultLeaseConfig().KeyPrefix
	}
	return &RedisLease{redis: adapter, config: config}
}

func (l *RedisLease) key(campaignID int64) string {
	return l.config.KeyPrefix + strconv.FormatInt(campaignID, 10)
}

func (l *RedisLease) reserveKey(campaignID int64) string {
	return l.config.KeyPrefix + "queued:" + strconv.FormatInt(campaignID, 10)
}

func (l *RedisLease) Acquire(ctx context.Context, campaignID int64, runID string) (bool, error) {
	acquired, err := l.redis.SetNX(ctx, l.key(campaignID), []byte(runID), l.config.TTL)
	if err != nil {
		return false, err
	}
	if !acquired {
		logger.Info("run lease already held", "campaign_id", campaignID)
		return false, nil
	}
	logger.Debug("run lease acquired", "campaign_id", campaignID, "run_id", runID, "ttl", l.config.TTL)
	return true, nil
}

func (l *RedisLease) Refresh(ctx context.Context, campaignID int64, runID string) error {
	key := l.redis.Key(l.key(campaignID))
	return refreshScript.Run(ctx, l.redis.Client(), []string{key}, runID, l.config.TTL.Milliseconds()).Err()
}

func (l *RedisLease) Release(ctx context.Context, campaignID int64, runID string) error {
	key := l.redis.Key(l.key(campaignID))
	return releaseScript.Run(ctx, l.redis.Client(), []string{key}, runID).Err()
}

func (l *RedisLease) Held(ctx context.Context, campaignID int64) (bool, error) {
	for _, key := range []string{l.key(campaignID), l.reserveKey(campaignID)} {
		n, err := l.redis.Exist(ctx, key)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (l *RedisLease) Reserve(ctx context.Context, campaignID int64) error {
	return l.redis.Set(ctx, l.reserveKey(campaignID), []byte("1"), l.config.ReserveTTL)
}

func (l *RedisLease) Unreserve(ctx context.Context, campaignID int64) error {
	return l.redis.Del(ctx, l.reserveKey(campaignID))
}

// NoopLease always grants the lease. It is used when no redis is configured,
// leaving the status transition as the only guard.
type NoopLease struct{}

func (NoopLease) Acquire(context.Context, int64, string) (bool, error) { return true, nil }
func (NoopLease) Refresh(context.Context, int64, string) error         { return nil }
func (NoopLease) Release(context.Context, int64, string) error         { return nil }
func (NoopLease) Held(context.Context, int64) (bool, error)            { return false, nil }
func (NoopLease) Reserve(context.Context, int64) error                 { return nil }
func (NoopLease) Unreserve(context.Context, int64) error               { return nil }
