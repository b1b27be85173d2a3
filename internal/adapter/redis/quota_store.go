// Package redis keeps quota counters in Redis so that several gateway
// replicas share one budget.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/HArsh-ri01/nl-to-sql/internal/core/domain"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "sqlgate:quota"

// DefaultTTL keeps a day bucket around long enough to be read as yesterday.
const DefaultTTL = 48 * time.Hour

// consumeScript denies a bucket at or over the limit and otherwise increments
// it. A missing bucket counts as zero, so a zero limit admits nothing.
var consumeScript = redis.NewScript(`
local v = tonumber(redis.call('GET', KEYS[1]) or '0')
if v >= tonumber(ARGV[1]) then
  return {0, v}
end
local n = redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return {1, n}
`)

var refundScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if v and tonumber(v) > 0 then
  return redis.call('DECR', KEYS[1])
end
return 0
`)

// QuotaStore keeps one key per scope, day and identity. Each day starts from
// an empty bucket, so rollover needs no reset and old buckets expire.
type QuotaStore struct {
	rdb   redis.Cmdable
	scope domain.QuotaScope
	ttl   time.Duration
}

func NewQuotaStore(rdb redis.Cmdable, scope domain.QuotaScope, ttl time.Duration) *QuotaStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &QuotaStore{rdb: rdb, scope: scope, ttl: ttl}
}

// NewClient parses a redis:// URL and verifies the server answers.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

func (s *QuotaStore) bucket(day domain.Day, key string) string {
	return fmt.Sprintf("%s:%s:%s:%s", keyPrefix, s.scope, day, key)
}

func (s *QuotaStore) Consume(ctx context.Context, key string, limit int, today domain.Day) (domain.Usage, error) {
	res, err := consumeScript.Run(ctx, s.rdb,
		[]string{s.bucket(today, key)},
		limit, int(s.ttl.Seconds()),
	).Int64Slice()
	if err != nil {
		return domain.Usage{}, fmt.Errorf("%w: consuming %s quota: %w", domain.ErrStoreUnavailable, s.scope, err)
	}
	if len(res) != 2 {
		return domain.Usage{}, fmt.Errorf("%w: unexpected script reply %v", domain.ErrStoreUnavailable, res)
	}
	return domain.Usage{Allowed: res[0] == 1, Count: int(res[1])}, nil
}

func (s *QuotaStore) Refund(ctx context.Context, key string, today domain.Day) error {
	if err := refundScript.Run(ctx, s.rdb, []string{s.bucket(today, key)}).Err(); err != nil {
		return fmt.Errorf("%w: refunding %s quota: %w", domain.ErrStoreUnavailable, s.scope, err)
	}
	return nil
}

func (s *QuotaStore) Peek(ctx context.Context, key string, today domain.Day) (domain.Counter, bool, error) {
	n, err := s.rdb.Get(ctx, s.bucket(today, key)).Int()
	if errors.Is(err, redis.Nil) {
		return domain.Counter{}, false, nil
	}
	if err != nil {
		return domain.Counter{}, false, fmt.Errorf("%w: reading %s quota: %w", domain.ErrStoreUnavailable, s.scope, err)
	}
	return domain.Counter{Count: n, Window: today}, true, nil
}

// Purge deletes buckets of days before the cutoff. Buckets also expire on
// their own; this only matters when TTLs were lost (for example after a
// restore).
func (s *QuotaStore) Purge(ctx context.Context, before domain.Day) (int64, error) {
	prefix := fmt.Sprintf("%s:%s:", keyPrefix, s.scope)

	var (
		cursor  uint64
		removed int64
	)
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, prefix+"*", 500).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: scanning %s quota: %w", domain.ErrStoreUnavailable, s.scope, err)
		}

		var stale []string
		for _, k := range keys {
			day, _, ok := strings.Cut(strings.TrimPrefix(k, prefix), ":")
			if ok && domain.Day(day).Before(before) {
				stale = append(stale, k)
			}
		}
		if len(stale) > 0 {
			n, err := s.rdb.Del(ctx, stale...).Result()
			if err != nil {
				return removed, fmt.Errorf("%w: purging %s quota: %w", domain.ErrStoreUnavailable, s.scope, err)
			}
			removed += n
		}

		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}
