// Package cache holds the Redis-backed helpers: the report projection cache and the
// alternative ticket serial counter.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/lab-status-service/internal/domain"
)

const defaultReportPrefix = "labstatus:reports"

// ReportCache stores rendered report rows keyed by view, filter and a generation number.
// Invalidate bumps the generation so every previously cached projection is skipped and
// left to expire.
type ReportCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewReportCache returns nil when the client is missing or ttl is not positive; a nil
// cache is valid and caches nothing.
func NewReportCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *ReportCache {
	if client == nil || ttl <= 0 {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportCache{client: client, prefix: defaultReportPrefix, ttl: ttl, logger: logger}
}

func (c *ReportCache) versionKey() string {
	return c.prefix + ":version"
}

// generation reads the current cache generation. A missing counter is generation 0.
func (c *ReportCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.versionKey()).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	return gen, nil
}

func (c *ReportCache) key(generation int64, view domain.ReportView, filter domain.ReportFilter) string {
	return fmt.Sprintf("%s:v%d:%s:%s", c.prefix, generation, view, filterKey(filter))
}

func filterKey(filter domain.ReportFilter) string {
	from, to, room := "-", "-", "*"
	if filter.From != nil {
		from = filter.From.UTC().Format(time.RFC3339Nano)
	}
	if filter.To != nil {
		to = filter.To.UTC().Format(time.RFC3339Nano)
	}
	if filter.RoomID != nil {
		room = *filter.RoomID
	}
	return from + "|" + to + "|" + room
}

// NoGeneration is returned by Get when the generation could not be read; Set ignores it.
const NoGeneration int64 = -1

// Get returns cached rows together with the generation it looked them up under. On a miss
// the caller loads fresh rows and hands that same generation back to Set, so rows loaded
// across an Invalidate land under the retired generation and are never served. Any Redis
// failure is logged and reported as a miss.
func (c *ReportCache) Get(ctx context.Context, view domain.ReportView, filter domain.ReportFilter) ([]domain.ReportRow, int64, bool) {
	if c == nil {
		return nil, NoGeneration, false
	}
	gen, err := c.generation(ctx)
	if err != nil {
		c.logger.Warn("report cache generation lookup failed", zap.Error(err))
		return nil, NoGeneration, false
	}
	key := c.key(gen, view, filter)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("report cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, gen, false
	}
	var rows []domain.ReportRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		c.logger.Warn("report cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, gen, false
	}
	return rows, gen, true
}

// Set stores rows under the given generation, normally the one Get returned.
func (c *ReportCache) Set(ctx context.Context, generation int64, view domain.ReportView, filter domain.ReportFilter, rows []domain.ReportRow) {
	if c == nil || generation < 0 {
		return
	}
	key := c.key(generation, view, filter)
	payload, err := json.Marshal(rows)
	if err != nil {
		c.logger.Warn("report cache encode failed", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("report cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate retires every cached projection.
func (c *ReportCache) Invalidate(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Incr(ctx, c.versionKey()).Err()
}
