package admission

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore writes admission counters to Redis hashes.
//
// Keys under the prefix:
//
//	<prefix>:total              allowed/denied, never expires
//	<prefix>:minute:<yyyymmddhhmm>  per-minute bucket, expires after ttl
//	<prefix>:route              "<route>:allowed" / "<route>:denied"
//	<prefix>:key:<client>       per-client counters when trackKeys is set
type RedisStatsStore struct {
	rdb       redis.Cmdable
	prefix    string
	ttl       time.Duration
	bucket    string
	trackKeys bool
}

// RedisStatsOption configures a RedisStatsStore.
type RedisStatsOption func(*RedisStatsStore)

// WithStatsPrefix sets the key prefix.
func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithStatsTTL sets the expiry for bucket and per-client keys.
func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

// WithStatsBucket selects "minute" (default) or "none".
func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

// WithStatsTrackKeys enables per-client hashes.
func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

// NewRedisStatsStore creates a store over an existing client.
func NewRedisStatsStore(rdb redis.Cmdable, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "aitoy:admission",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record implements StatsStore with a single pipelined round trip.
func (s *RedisStatsStore) Record(ctx context.Context, ev StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if route := strings.TrimSpace(ev.Route); route != "" {
		pipe.HIncrBy(ctx, s.prefix+":route", route+":"+field, 1)
	}

	if s.trackKeys {
		if k := strings.TrimSpace(ev.Key); k != "" {
			keyKey := s.prefix + ":key:" + k
			pipe.HIncrBy(ctx, keyKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, keyKey, s.ttl)
			}
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record admission stats: %w", err)
	}
	return nil
}

// Total reads the overall counters.
func (s *RedisStatsStore) Total(ctx context.Context) (Counters, error) {
	vals, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return Counters{}, fmt.Errorf("read admission stats: %w", err)
	}
	var c Counters
	c.Allowed, _ = strconv.ParseInt(vals["allowed"], 10, 64)
	c.Denied, _ = strconv.ParseInt(vals["denied"], 10, 64)
	return c, nil
}
