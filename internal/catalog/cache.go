package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/noah-isme/budget-api/internal/pricing"
)

// Cache wraps Redis helpers for JSON payloads.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// GetJSON unmarshals a cached JSON payload into dst. It reports whether the key existed.
func (c *Cache) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	if c == nil || c.client == nil || key == "" {
		return false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON serialises v as JSON and stores it with the configured TTL.
func (c *Cache) SetJSON(ctx context.Context, key string, v any) error {
	if c == nil || c.client == nil || key == "" || c.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

// Cached decorates a catalog with a Redis price cache. Misses from the
// underlying catalog are never cached, and Redis failures fall through to it.
type Cached struct {
	Next   pricing.Catalog
	Cache  *Cache
	Logger zerolog.Logger

	lookups metric.Int64Counter
}

// NewCached wraps next with cache. Cache hit and miss counts are exported
// through the global otel meter provider.
func NewCached(next pricing.Catalog, cache *Cache, logger zerolog.Logger) *Cached {
	c := &Cached{Next: next, Cache: cache, Logger: logger}
	counter, err := otel.Meter("budget-api/catalog").Int64Counter(
		"catalog_price_cache_lookups",
		metric.WithDescription("Unit price cache lookups by result"),
	)
	if err == nil {
		c.lookups = counter
	}
	return c
}

// PriceKey returns the Redis key caching the unit price of ref.
func PriceKey(ref pricing.Reference) string {
	return "catalog:price:" + string(ref.Kind()) + ":" + ref.ID()
}

func (c *Cached) UnitPrice(ctx context.Context, ref pricing.Reference) (pricing.Money, error) {
	key := PriceKey(ref)
	var cached pricing.Money
	hit, err := c.Cache.GetJSON(ctx, key, &cached)
	if err != nil {
		c.Logger.Warn().Err(err).Str("key", key).Msg("catalog cache read failed")
	}
	if hit {
		c.record(ctx, "hit")
		return cached, nil
	}
	c.record(ctx, "miss")

	price, err := c.Next.UnitPrice(ctx, ref)
	if err != nil {
		return price, err
	}
	if err := c.Cache.SetJSON(ctx, key, price); err != nil {
		c.Logger.Warn().Err(err).Str("key", key).Msg("catalog cache write failed")
	}
	return price, nil
}

// Invalidate drops the cached price of ref.
func (c *Cached) Invalidate(ctx context.Context, ref pricing.Reference) error {
	if c.Cache == nil || c.Cache.client == nil {
		return nil
	}
	return c.Cache.client.Del(ctx, PriceKey(ref)).Err()
}

func (c *Cached) record(ctx context.Context, result string) {
	if c.lookups == nil {
		return
	}
	c.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
