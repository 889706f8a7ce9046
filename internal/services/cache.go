package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// CacheService provides optional redis caching for calibration artifacts.
// Every method tolerates a nil client: the pipeline must run identically with
// no redis configured.
type CacheService struct {
	client *redis.Client
	logger *logrus.Logger
}

// Cache TTLs per artifact type.
const (
	AccuracyReportTTL = 6 * time.Hour
	EdgeWeightTTL     = 1 * time.Hour
	ModelResponseTTL  = 24 * time.Hour
)

// ErrCacheMiss is returned by Get when the key is absent or caching is off.
var ErrCacheMiss = fmt.Errorf("cache miss")

// NewCacheService creates a cache service; client may be nil.
func NewCacheService(client *redis.Client, logger *logrus.Logger) *CacheService {
	return &CacheService{client: client, logger: logger}
}

// buildCacheKey constructs consistent namespaced cache keys.
func (c *CacheService) buildCacheKey(elements ...string) string {
	return fmt.Sprintf("calibration:%s", strings.Join(elements, ":"))
}

// Set stores a JSON value with TTL. Failures are logged, never returned as
// pipeline errors by callers.
func (c *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to set cache value")
		return err
	}
	return nil
}

// Get retrieves a JSON value into dest.
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) error {
	if c == nil || c.client == nil {
		return ErrCacheMiss
	}
	data, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return ErrCacheMiss
		}
		c.logger.WithError(err).WithField("key", key).Warn("Failed to get cache value")
		return err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to unmarshal cache value")
		return err
	}
	return nil
}

// Delete removes a key.
func (c *CacheService) Delete(ctx context.Context, key string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to delete cache value")
		return err
	}
	return nil
}

// Accuracy report caching. Written by Evaluate, read back by LatestReport and
// external dashboard consumers.

func (c *CacheService) AccuracyReportKey(season, week int) string {
	if week > 0 {
		return c.buildCacheKey("accuracy", fmt.Sprintf("%d", season), fmt.Sprintf("%d", week))
	}
	return c.buildCacheKey("accuracy", fmt.Sprintf("%d", season))
}

func (c *CacheService) SetAccuracyReport(ctx context.Context, season, week int, report interface{}) error {
	return c.Set(ctx, c.AccuracyReportKey(season, week), report, AccuracyReportTTL)
}

func (c *CacheService) GetAccuracyReport(ctx context.Context, season, week int, dest interface{}) error {
	return c.Get(ctx, c.AccuracyReportKey(season, week), dest)
}

// Edge weight caching for downstream scorers. The learner writes through on
// every change; agent applies and rollbacks invalidate.

func (c *CacheService) EdgeWeightKey(edgeType string) string {
	return c.buildCacheKey("weight", edgeType)
}

func (c *CacheService) SetEdgeWeight(ctx context.Context, edgeType string, weight interface{}) error {
	return c.Set(ctx, c.EdgeWeightKey(edgeType), weight, EdgeWeightTTL)
}

func (c *CacheService) InvalidateEdgeWeight(ctx context.Context, edgeType string) error {
	return c.Delete(ctx, c.EdgeWeightKey(edgeType))
}

// Model response caching by prompt hash.

func (c *CacheService) SetModelResponse(ctx context.Context, promptHash string, response interface{}) error {
	return c.Set(ctx, c.buildCacheKey("model", "response", promptHash), response, ModelResponseTTL)
}

func (c *CacheService) GetModelResponse(ctx context.Context, promptHash string, dest interface{}) error {
	return c.Get(ctx, c.buildCacheKey("model", "response", promptHash), dest)
}

// IsHealthy pings redis.
func (c *CacheService) IsHealthy(ctx context.Context) bool {
	if c == nil || c.client == nil {
		return false
	}
	return c.client.Ping(ctx).Err() == nil
}
