// Package cache memoizes full diagnostic results in Redis, keyed by a
// content hash of the normalized request.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	resultKeyPrefix = "diag:result:"
	hitsKeyPrefix   = "diag:hits:"
)

// DefaultTTL is the default lifetime of a cached diagnostic result.
const DefaultTTL = 3600 * time.Second

// Entry is one memoized diagnostic result.
type Entry struct {
	QueryHash         string          `json:"query_hash"`
	VehicleNodeID     string          `json:"vehicle_node_id,omitempty"`
	InputObservables  []string        `json:"input_observables"`
	Payload           json.RawMessage `json:"result_faults"`
	PrimaryFaultID    string          `json:"result_primary_fault_id,omitempty"`
	Score             float64         `json:"result_score"`
	Explanation       string          `json:"result_explanation"`
	ComputedAt        time.Time       `json:"computed_at"`
	ExpiresAt         time.Time       `json:"expires_at"`
	HitCount          int64           `json:"hit_count"`
	LastHitAt         *time.Time      `json:"last_hit_at,omitempty"`
	ComputationTimeMs int64           `json:"computation_time_ms"`
}

// Stats aggregates cache-wide hit accounting.
type Stats struct {
	Entries int64   `json:"entries"`
	Hits    int64   `json:"hits"`
	HitRate float64 `json:"hit_rate"`
}

// QueryHash computes the content hash of a diagnostic request: vehicle ID
// and the sorted normalized observables. Identical requests always map to
// the same hash regardless of observable order.
func QueryHash(vehicleID string, observables []string) string {
	sorted := make([]string, len(observables))
	copy(sorted, observables)
	sort.Strings(sorted)

	h := sha256.Sum256([]byte(vehicleID + ":" + strings.Join(sorted, "|")))
	return fmt.Sprintf("%x", h[:16])
}

// QueryCache is a Redis-backed result cache with TTL expiry and hit
// accounting. Hit counters live in a sibling hash key so an entry overwrite
// resets them together with the payload.
type QueryCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// New creates a QueryCache. ttl <= 0 falls back to DefaultTTL.
func New(rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *QueryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryCache{rdb: rdb, ttl: ttl, logger: logger, now: time.Now}
}

// TTL returns the configured entry lifetime.
func (c *QueryCache) TTL() time.Duration { return c.ttl }

// Get returns the cached entry for hash, or nil when absent or expired.
// Redis handles expiry lazily via the key TTL.
func (c *QueryCache) Get(ctx context.Context, hash string) (*Entry, error) {
	raw, err := c.rdb.Get(ctx, resultKeyPrefix+hash).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: get %s: %w", hash, err)
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("cache: decode %s: %w", hash, err)
	}

	// Hit accounting is best effort on reads.
	if fields, err := c.rdb.HGetAll(ctx, hitsKeyPrefix+hash).Result(); err == nil {
		if v, ok := fields["count"]; ok {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				e.HitCount = n
			}
		}
		if v, ok := fields["last_hit_at"]; ok {
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				e.LastHitAt = &t
			}
		}
	}
	return &e, nil
}

// Put upserts an entry under its query hash with the configured TTL. Any
// previous hit accounting for the hash is reset.
func (c *QueryCache) Put(ctx context.Context, e Entry) error {
	now := c.now().UTC()
	e.ComputedAt = now
	e.ExpiresAt = now.Add(c.ttl)

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", e.QueryHash, err)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, resultKeyPrefix+e.QueryHash, raw, c.ttl)
	pipe.Del(ctx, hitsKeyPrefix+e.QueryHash)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: put %s: %w", e.QueryHash, err)
	}
	return nil
}

// Touch records a cache hit: increments the hit counter and stamps the last
// hit time. The counter expires alongside the entry.
func (c *QueryCache) Touch(ctx context.Context, hash string) error {
	key := hitsKeyPrefix + hash
	pipe := c.rdb.TxPipeline()
	pipe.HIncrBy(ctx, key, "count", 1)
	pipe.HSet(ctx, key, "last_hit_at", c.now().UTC().Format(time.RFC3339Nano))
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: touch %s: %w", hash, err)
	}
	return nil
}

// CacheStats scans the cache and returns entry count, total hits, and hit
// rate (total hits over live entries).
func (c *QueryCache) CacheStats(ctx context.Context) (Stats, error) {
	var stats Stats

	iter := c.rdb.Scan(ctx, 0, resultKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		stats.Entries++
	}
	if err := iter.Err(); err != nil {
		return Stats{}, fmt.Errorf("cache: scan entries: %w", err)
	}

	iter = c.rdb.Scan(ctx, 0, hitsKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		v, err := c.rdb.HGet(ctx, iter.Val(), "count").Result()
		if err != nil {
			continue
		}
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			stats.Hits += n
		}
	}
	if err := iter.Err(); err != nil {
		return Stats{}, fmt.Errorf("cache: scan hits: %w", err)
	}

	if stats.Entries > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Entries)
	}
	return stats, nil
}
